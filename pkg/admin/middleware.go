package admin

import (
	"net/http"
	"strings"

	"github.com/caremetrix/mcp-sql-gateway/pkg/auth"
)

// Authenticator validates admin credentials from an HTTP request.
type Authenticator interface {
	Authenticate(r *http.Request) (*auth.Principal, error)
}

// KeyAuthenticator validates admin access against a dedicated key set.
// Admin keys are configured separately from the MCP credentials, so an
// operator key never doubles as a query credential.
type KeyAuthenticator struct {
	keys *auth.KeyAuthenticator
}

// NewKeyAuthenticator creates a KeyAuthenticator over the given keys.
func NewKeyAuthenticator(keys []auth.Key) *KeyAuthenticator {
	return &KeyAuthenticator{keys: auth.NewKeyAuthenticator(auth.KeyConfig{Keys: keys})}
}

// Authenticate checks the X-API-Key or Authorization header.
func (a *KeyAuthenticator) Authenticate(r *http.Request) (*auth.Principal, error) {
	key := r.Header.Get("X-API-Key")
	if key == "" {
		authHeader := r.Header.Get("Authorization")
		if token, ok := strings.CutPrefix(authHeader, "Bearer "); ok {
			key = token
		}
	}
	if key == "" {
		return nil, nil //nolint:nilnil // nil principal with nil error means no credentials provided
	}

	principal, err := a.keys.Authenticate(auth.WithToken(r.Context(), key))
	if err != nil {
		return nil, nil //nolint:nilnil // nil principal with nil error means invalid key (unauthenticated)
	}
	return principal, nil
}

// RequireAdmin creates middleware that enforces admin authentication.
// Presence in the admin key set is the authorization: any key that
// validates is an operator. The principal lands in the request context
// so handlers can attribute audited actions.
func RequireAdmin(authn Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := authn.Authenticate(r)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "authentication error")
				return
			}
			if principal == nil {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			ctx := auth.WithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
