package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/caremetrix/mcp-sql-gateway/pkg/auth"
)

// MCPAuthMiddleware intercepts tools/call requests and resolves the
// caller into a principal before any handler runs.
//
// The request context is created here and shared down the chain. Failed
// authentication never reaches a handler; the caller gets an error
// result rather than a protocol error so clients can show the message.
// Whether unauthenticated callers are admitted at all is the
// authenticator chain's decision, not this middleware's.
func MCPAuthMiddleware(authenticator auth.Authenticator, logger *slog.Logger) mcp.Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next mcp.MethodHandler) mcp.MethodHandler {
		return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
			if method != "tools/call" {
				return next(ctx, method, req)
			}

			toolName, err := extractToolName(req)
			if err != nil {
				return errorResult(fmt.Sprintf("invalid request: %v", err)), nil
			}

			rc := NewRequestContext(toolName)
			ctx = WithRequestContext(ctx, rc)

			principal, err := authenticator.Authenticate(ctx)
			if err != nil {
				logger.Info("authentication failed",
					"tool", toolName,
					"request_id", rc.RequestID,
					"error", err)
				return errorResult("authentication failed: " + err.Error()), nil
			}

			rc.Principal = principal
			ctx = auth.WithPrincipal(ctx, principal)

			return next(ctx, method, req)
		}
	}
}

// extractToolName pulls the tool name out of a tools/call request.
func extractToolName(req mcp.Request) (string, error) {
	if req == nil {
		return "", errors.New("missing request")
	}
	params := req.GetParams()
	if params == nil {
		return "", errors.New("missing params")
	}

	callParams, ok := params.(*mcp.CallToolParamsRaw)
	if !ok {
		return "", fmt.Errorf("unexpected params type: %T", params)
	}
	// The type assertion succeeds for a nil pointer too.
	if callParams == nil {
		return "", errors.New("missing params")
	}
	if callParams.Name == "" {
		return "", errors.New("missing tool name")
	}
	return callParams.Name, nil
}

// errorResult wraps a message as a tool error result.
func errorResult(msg string) mcp.Result {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
	}
}
