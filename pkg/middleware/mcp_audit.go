package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/caremetrix/mcp-sql-gateway/pkg/audit"
)

// MCPAuditMiddleware records every tools/call request as an audit event.
//
// It runs inside MCPAuthMiddleware so the request context carries the
// principal. Events are written asynchronously; a slow or failing audit
// sink never delays or alters the response.
func MCPAuditMiddleware(sink audit.Logger, logger *slog.Logger) mcp.Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next mcp.MethodHandler) mcp.MethodHandler {
		return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
			if method != "tools/call" {
				return next(ctx, method, req)
			}

			start := time.Now()
			result, err := next(ctx, method, req)

			rc := RequestContextFrom(ctx)
			if rc == nil {
				// Auth middleware did not run; nothing to attribute.
				return result, err
			}

			event := buildToolEvent(rc, req, result, err, time.Since(start))
			go func() {
				if logErr := sink.Log(context.Background(), *event); logErr != nil {
					logger.Error("audit sink write failed",
						"error", logErr,
						"action", event.Action)
				}
			}()

			return result, err
		}
	}
}

// eventTypeForTool maps tool names to audit event types. SQL execution
// and validation have their own types; everything else is operator
// surface.
func eventTypeForTool(toolName string) audit.EventType {
	switch toolName {
	case "execute_sql":
		return audit.EventTypeQuery
	case "validate_sql":
		return audit.EventTypeValidation
	default:
		return audit.EventTypeAdmin
	}
}

// buildToolEvent assembles the audit event for one tool call. SQL and
// table attribution prefer what the handler recorded in the request
// context; for calls that failed before the handler ran, the raw
// arguments are mined instead so even rejected queries are attributed.
func buildToolEvent(rc *RequestContext, req mcp.Request, result mcp.Result, err error, elapsed time.Duration) *audit.Event {
	success := err == nil
	errorMsg := ""
	if err != nil {
		errorMsg = err.Error()
	} else if callResult, ok := result.(*mcp.CallToolResult); ok && callResult != nil && callResult.IsError {
		success = false
		errorMsg = resultErrorMessage(callResult)
	}

	args := extractArguments(req)

	sqlText := rc.SQL
	tables := rc.Tables
	if sqlText == "" {
		sqlText = sqlArgument(args)
	}
	if sqlText != "" && len(tables) == 0 {
		tables = extractTables(sqlText)
	}

	event := audit.NewEvent(eventTypeForTool(rc.ToolName), rc.ToolName).
		WithRequestID(rc.RequestID).
		WithParameters(audit.SanitizeParameters(args)).
		WithResult(success, errorMsg, elapsed.Milliseconds())
	if rc.Principal != nil {
		event = event.WithUser(rc.Principal.ID, rc.Principal.Email)
	}
	if sqlText != "" {
		event = event.WithSQL(sqlText, tables)
	}
	if rc.Decision != "" {
		event = event.WithDecision(rc.Decision)
	}
	return event
}

// extractArguments decodes the raw tool arguments.
func extractArguments(req mcp.Request) map[string]any {
	if req == nil {
		return nil
	}
	params := req.GetParams()
	if params == nil {
		return nil
	}
	callParams, ok := params.(*mcp.CallToolParamsRaw)
	if !ok || callParams == nil || len(callParams.Arguments) == 0 {
		return nil
	}
	var args map[string]any
	if err := json.Unmarshal(callParams.Arguments, &args); err != nil {
		return nil
	}
	return args
}

// sqlArgument reads the conventional "sql" argument, if present.
func sqlArgument(args map[string]any) string {
	if s, ok := args["sql"].(string); ok {
		return s
	}
	return ""
}

// resultErrorMessage reads the first text content of an error result.
func resultErrorMessage(result *mcp.CallToolResult) string {
	if result == nil || len(result.Content) == 0 {
		return ""
	}
	if text, ok := result.Content[0].(*mcp.TextContent); ok {
		return text.Text
	}
	return ""
}
