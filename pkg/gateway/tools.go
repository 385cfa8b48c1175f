package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/caremetrix/mcp-sql-gateway/pkg/allowlist"
	"github.com/caremetrix/mcp-sql-gateway/pkg/audit"
	"github.com/caremetrix/mcp-sql-gateway/pkg/auth"
	"github.com/caremetrix/mcp-sql-gateway/pkg/guard"
	"github.com/caremetrix/mcp-sql-gateway/pkg/middleware"
	"github.com/caremetrix/mcp-sql-gateway/pkg/query"
)

// executeSQLInput is the input for the execute_sql tool. RowLimit and
// TimeoutMS tighten the server bounds; they can never loosen them.
type executeSQLInput struct {
	SQL       string `json:"sql"`
	RowLimit  int    `json:"row_limit,omitempty"`
	TimeoutMS int    `json:"timeout_ms,omitempty"`
}

// validateSQLInput is the input for the validate_sql tool.
type validateSQLInput struct {
	SQL string `json:"sql"`
}

// listAllowedTablesInput is the input for the list_allowed_tables tool.
type listAllowedTablesInput struct {
	MaxTier int `json:"max_tier,omitempty"`
}

// gatewayInfoInput is empty since the tool has no parameters.
type gatewayInfoInput struct{}

// registerTools registers the gateway's MCP tools.
func (g *Gateway) registerTools(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name: "execute_sql",
		Description: "Execute a read-only SQL query against the configured engine. " +
			"Only single SELECT statements over allow-listed tables are accepted, " +
			"results are scoped to the practices the caller may see, and row count " +
			"and runtime are bounded. Returns columns, rows, and the statement that " +
			"actually ran.",
	}, g.handleExecuteSQL)

	mcp.AddTool(server, &mcp.Tool{
		Name: "validate_sql",
		Description: "Validate a SQL query against the gateway's rules without " +
			"executing it. Returns a report listing every violation, the tables the " +
			"query references, and whether tenant scoping would apply.",
	}, g.handleValidateSQL)

	mcp.AddTool(server, &mcp.Tool{
		Name: "list_allowed_tables",
		Description: "List the tables queries are currently permitted to reference, " +
			"with their trust tiers. Pass max_tier to restrict the listing to more " +
			"vetted tables.",
	}, g.handleListAllowedTables)

	mcp.AddTool(server, &mcp.Tool{
		Name: "gateway_info",
		Description: "Get information about this SQL gateway, including the query " +
			"engine, enforced limits, and enabled features. Call this first to " +
			"understand what the gateway allows.",
	}, g.handleGatewayInfo)
}

// handleExecuteSQL handles the execute_sql tool call.
func (g *Gateway) handleExecuteSQL(ctx context.Context, _ *mcp.CallToolRequest, args executeSQLInput) (*mcp.CallToolResult, any, error) {
	principal := auth.PrincipalFromContext(ctx)
	rc := middleware.RequestContextFrom(ctx)

	opts := query.Options{RowLimit: args.RowLimit}
	if args.TimeoutMS > 0 {
		opts.Timeout = time.Duration(args.TimeoutMS) * time.Millisecond
	}

	result, err := g.executor.Execute(ctx, args.SQL, principal, opts)
	if err != nil {
		return g.executeError(rc, args.SQL, err)
	}

	if rc != nil {
		rc.SQL = result.SQL
		rc.Tables = result.Tables
		rc.Decision = audit.DecisionScoped
		if result.Bypassed {
			rc.Decision = audit.DecisionBypassed
		}
	}

	return jsonResult(result), nil, nil
}

// executeError shapes an execution failure as tool error content. A
// validation rejection carries the full report so the caller sees every
// violation; an execution error carries only its sanitized message.
func (g *Gateway) executeError(rc *middleware.RequestContext, sqlText string, err error) (*mcp.CallToolResult, any, error) {
	if rejection, ok := guard.AsRejection(err); ok {
		if rc != nil {
			rc.SQL = sqlText
			rc.Decision = audit.DecisionRejected
			if rejection.Report != nil {
				rc.Tables = rejection.Report.Tables
			}
		}
		return jsonErrorResult(rejection.Report), nil, nil
	}
	if rc != nil {
		rc.SQL = sqlText
	}
	return errorResult(err.Error()), nil, nil
}

// handleValidateSQL handles the validate_sql tool call.
func (g *Gateway) handleValidateSQL(ctx context.Context, _ *mcp.CallToolRequest, args validateSQLInput) (*mcp.CallToolResult, any, error) {
	report := g.guard.Validate(ctx, args.SQL)

	if rc := middleware.RequestContextFrom(ctx); rc != nil {
		rc.SQL = args.SQL
		rc.Tables = report.Tables
		rc.Decision = audit.DecisionScoped
		if !report.Valid {
			rc.Decision = audit.DecisionRejected
		}
	}

	// The report is the payload either way. A failed validation is a
	// successful tool call, not a tool error.
	return jsonResult(report), nil, nil
}

// tableListing is the list_allowed_tables payload.
type tableListing struct {
	Tables     []allowlist.Table `json:"tables"`
	MaxTier    *int              `json:"max_tier,omitempty"`
	CapturedAt time.Time         `json:"captured_at"`
	Stale      bool              `json:"stale,omitempty"`
}

// handleListAllowedTables handles the list_allowed_tables tool call.
func (g *Gateway) handleListAllowedTables(ctx context.Context, _ *mcp.CallToolRequest, args listAllowedTablesInput) (*mcp.CallToolResult, any, error) {
	listing, err := g.snapshotListing(ctx, args.MaxTier)
	if err != nil {
		return errorResult("allow-list unavailable: " + err.Error()), nil, nil
	}
	return jsonResult(listing), nil, nil
}

// Info describes the running gateway for agents deciding what to ask.
type Info struct {
	Name     string   `json:"name"`
	Version  string   `json:"version"`
	Engine   string   `json:"engine"`
	Features Features `json:"features"`
	Limits   Limits   `json:"limits"`
}

// Features describes enabled gateway features.
type Features struct {
	TenantScoping bool `json:"tenant_scoping"`
	AllowList     bool `json:"allow_list"`
	AuditLogging  bool `json:"audit_logging"`
}

// Limits describes the execution bounds every query is subject to.
type Limits struct {
	DefaultRowLimit int    `json:"default_row_limit"`
	MaxRowLimit     int    `json:"max_row_limit"`
	QueryTimeout    string `json:"query_timeout"`
	MaxTimeout      string `json:"max_timeout"`
}

// handleGatewayInfo handles the gateway_info tool call.
func (g *Gateway) handleGatewayInfo(_ context.Context, _ *mcp.CallToolRequest, _ gatewayInfoInput) (*mcp.CallToolResult, any, error) {
	info := Info{
		Name:    g.config.Server.Name,
		Version: g.config.Server.Version,
		Engine:  g.engine.Name(),
		Features: Features{
			TenantScoping: true,
			AllowList:     true,
			AuditLogging:  g.config.Audit.Enabled,
		},
		Limits: Limits{
			DefaultRowLimit: g.config.Engine.DefaultRowLimit,
			MaxRowLimit:     g.config.Engine.MaxRowLimit,
			QueryTimeout:    g.config.Engine.QueryTimeout.String(),
			MaxTimeout:      g.config.Engine.MaxTimeout.String(),
		},
	}
	return jsonResult(info), nil, nil
}

// jsonResult marshals v as indented JSON tool content.
func jsonResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshaling result: %v", err))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}

// jsonErrorResult marshals v as indented JSON tool content flagged as an
// error. Used for validation reports, which are structured rejections.
func jsonErrorResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshaling result: %v", err))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		IsError: true,
	}
}

// errorResult shapes a plain message as tool error content.
func errorResult(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: message}},
		IsError: true,
	}
}
