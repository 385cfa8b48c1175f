// Package middleware wires authentication and auditing into the MCP
// protocol layer. Both middlewares intercept tools/call requests only;
// every other method passes through untouched.
package middleware

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/caremetrix/mcp-sql-gateway/pkg/audit"
	"github.com/caremetrix/mcp-sql-gateway/pkg/auth"
)

// contextKey is a private type for context keys.
type contextKey int

const requestContextKey contextKey = iota

// RequestContext carries per-call state between middlewares and tool
// handlers. The auth middleware creates it; SQL-bearing tool handlers
// fill the attribution fields so the audit middleware can record what
// the call actually did.
type RequestContext struct {
	RequestID string
	StartTime time.Time
	Transport string // "stdio" or "http"

	Principal *auth.Principal
	ToolName  string

	// Populated by tool handlers after the pipeline ran.
	SQL      string
	Tables   []string
	Decision audit.Decision
}

// NewRequestContext creates a request context with a fresh request ID.
func NewRequestContext(toolName string) *RequestContext {
	return &RequestContext{
		RequestID: uuid.NewString(),
		StartTime: time.Now(),
		ToolName:  toolName,
	}
}

// WithRequestContext attaches rc to ctx.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey, rc)
}

// RequestContextFrom retrieves the request context, or nil.
func RequestContextFrom(ctx context.Context) *RequestContext {
	if rc, ok := ctx.Value(requestContextKey).(*RequestContext); ok {
		return rc
	}
	return nil
}
