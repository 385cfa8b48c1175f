// Package http provides HTTP middleware for the gateway's streamable
// MCP transport.
package http

import (
	"net/http"
	"strings"

	"github.com/caremetrix/mcp-sql-gateway/pkg/auth"
)

// AuthMiddleware extracts credentials from HTTP headers and adds them to
// the request context, where the MCP protocol middleware's authenticators
// pick them up. Bearer tokens win over X-API-Key when both are present.
func AuthMiddleware(requireAuth bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := credentialFrom(r)

			if requireAuth && token == "" {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "Unauthorized: missing authentication token", http.StatusUnauthorized)
				return
			}

			if token != "" {
				r = r.WithContext(auth.WithToken(r.Context(), token))
			}

			next.ServeHTTP(w, r)
		})
	}
}

// credentialFrom reads the Bearer token or X-API-Key header.
func credentialFrom(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return r.Header.Get("X-API-Key")
}

// RequireAuth returns middleware that rejects requests without credentials.
// Token validation still happens in the MCP protocol middleware; this only
// checks for presence so unauthenticated probes never open a session.
func RequireAuth() func(http.Handler) http.Handler {
	return AuthMiddleware(true)
}

// OptionalAuth returns middleware that forwards credentials when present
// and admits anonymous requests otherwise.
func OptionalAuth() func(http.Handler) http.Handler {
	return AuthMiddleware(false)
}
