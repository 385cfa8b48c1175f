package auth

import (
	"context"
	"fmt"
	"maps"

	"github.com/golang-jwt/jwt/v5"
)

// TokenConfig configures bearer-token validation.
type TokenConfig struct {
	// Issuer is the expected issuer claim.
	Issuer string

	// SigningKey is the HMAC key used to verify token signatures.
	SigningKey []byte

	// Audience, when set, must appear in the token's aud claim.
	Audience string

	// Extractor maps claims onto the Principal. Nil uses the defaults.
	Extractor *ClaimsExtractor
}

// TokenAuthenticator validates HMAC-signed JWTs issued by the identity
// service and resolves them into principals.
type TokenAuthenticator struct {
	cfg       TokenConfig
	extractor *ClaimsExtractor
}

// NewTokenAuthenticator creates a TokenAuthenticator.
func NewTokenAuthenticator(cfg TokenConfig) (*TokenAuthenticator, error) {
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("token issuer is required")
	}
	if len(cfg.SigningKey) == 0 {
		return nil, fmt.Errorf("token signing key is required")
	}
	extractor := cfg.Extractor
	if extractor == nil {
		extractor = DefaultClaimsExtractor()
	}
	return &TokenAuthenticator{cfg: cfg, extractor: extractor}, nil
}

// Authenticate validates the bearer token and returns the principal.
func (a *TokenAuthenticator) Authenticate(ctx context.Context) (*Principal, error) {
	token := TokenFromContext(ctx)
	if token == "" {
		return nil, fmt.Errorf("no bearer token in request")
	}

	claims, err := a.parseAndValidateToken(token)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	p := a.extractor.Extract(claims)
	if p.ID == "" {
		return nil, fmt.Errorf("missing sub claim")
	}
	p.AuthType = "jwt"
	return p, nil
}

// parseAndValidateToken verifies signature, expiry, issuer and audience.
func (a *TokenAuthenticator) parseAndValidateToken(tokenString string) (map[string]any, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		// Only HMAC is acceptable; an attacker must not pick the algorithm.
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.cfg.SigningKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid claims type")
	}

	iss, ok := claims["iss"].(string)
	if !ok || iss != a.cfg.Issuer {
		return nil, fmt.Errorf("invalid issuer: got %q, want %q", iss, a.cfg.Issuer)
	}

	if a.cfg.Audience != "" && !audienceMatches(claims, a.cfg.Audience) {
		return nil, fmt.Errorf("invalid audience")
	}

	claimsMap := make(map[string]any)
	maps.Copy(claimsMap, claims)
	return claimsMap, nil
}

func audienceMatches(claims map[string]any, want string) bool {
	switch aud := claims["aud"].(type) {
	case string:
		return aud == want
	case []any:
		for _, v := range aud {
			if s, ok := v.(string); ok && s == want {
				return true
			}
		}
	}
	return false
}

var _ Authenticator = (*TokenAuthenticator)(nil)
