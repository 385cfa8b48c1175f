// Package auth resolves request credentials into gateway principals.
package auth

import "context"

// CapabilityUnrestrictedExecute lets a principal run queries without
// tenant scoping. Every use of the bypass is recorded as a security event.
const CapabilityUnrestrictedExecute = "unrestricted_execute"

// Principal is an authenticated caller.
type Principal struct {
	ID           string         `json:"id"`
	Email        string         `json:"email,omitempty"`
	Name         string         `json:"name,omitempty"`
	Roles        []string       `json:"roles,omitempty"`
	PracticeIDs  []int64        `json:"practice_ids,omitempty"`
	Capabilities []string       `json:"capabilities,omitempty"`
	SuperAdmin   bool           `json:"super_admin,omitempty"`
	AuthType     string         `json:"auth_type"` // "jwt", "apikey", "anonymous"
	Claims       map[string]any `json:"-"`
}

// HasRole checks if the principal has a specific role.
func (p *Principal) HasRole(role string) bool {
	if p == nil {
		return false
	}
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole checks if the principal has any of the specified roles.
func (p *Principal) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if p.HasRole(role) {
			return true
		}
	}
	return false
}

// HasCapability checks if the principal holds a specific capability.
func (p *Principal) HasCapability(capability string) bool {
	if p == nil {
		return false
	}
	for _, c := range p.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// BypassesTenantFilter reports whether queries for this principal run
// without tenant scoping: super admins and holders of the unrestricted
// execute capability. Call sites must audit every bypass.
func (p *Principal) BypassesTenantFilter() bool {
	if p == nil {
		return false
	}
	return p.SuperAdmin || p.HasCapability(CapabilityUnrestrictedExecute)
}

// Authenticator validates request credentials.
type Authenticator interface {
	// Authenticate resolves the credentials carried by ctx into a
	// Principal, or fails.
	Authenticate(ctx context.Context) (*Principal, error)
}

// contextKey is a private type for context keys.
type contextKey int

const (
	principalContextKey contextKey = iota
	tokenContextKey
)

// WithPrincipal attaches an authenticated principal to the context.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// PrincipalFromContext retrieves the authenticated principal, or nil.
func PrincipalFromContext(ctx context.Context) *Principal {
	if p, ok := ctx.Value(principalContextKey).(*Principal); ok {
		return p
	}
	return nil
}

// WithToken attaches the raw credential (bearer token or API key) to the
// context. Set by the transport layer before authentication runs.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenContextKey, token)
}

// TokenFromContext retrieves the raw credential from the context.
func TokenFromContext(ctx context.Context) string {
	if t, ok := ctx.Value(tokenContextKey).(string); ok {
		return t
	}
	return ""
}

// AnonymousAuthenticator admits unauthenticated callers with a fixed
// identity. Development use only: anonymous principals carry no practice
// scope, so they can validate queries but never execute them.
type AnonymousAuthenticator struct {
	UserID string
	Roles  []string
}

// Authenticate always returns the anonymous principal.
func (a *AnonymousAuthenticator) Authenticate(_ context.Context) (*Principal, error) {
	userID := a.UserID
	if userID == "" {
		userID = "anonymous"
	}
	return &Principal{
		ID:       userID,
		Email:    userID + "@localhost",
		Roles:    a.Roles,
		AuthType: "anonymous",
		Claims:   make(map[string]any),
	}, nil
}

var _ Authenticator = (*AnonymousAuthenticator)(nil)
