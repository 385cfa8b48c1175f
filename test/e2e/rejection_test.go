//go:build integration

package e2e

import (
	"context"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/caremetrix/mcp-sql-gateway/pkg/audit"
	"github.com/caremetrix/mcp-sql-gateway/pkg/guard"
	"github.com/caremetrix/mcp-sql-gateway/pkg/sqlanalyzer"
	"github.com/caremetrix/mcp-sql-gateway/test/e2e/helpers"
)

// callExpectingRejection runs execute_sql and decodes the validation
// report the gateway returns as tool error content.
func callExpectingRejection(ctx context.Context, t *testing.T, session *mcp.ClientSession, sql string) *guard.Report {
	t.Helper()

	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "execute_sql",
		Arguments: map[string]any{"sql": sql},
	})
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if !res.IsError {
		t.Fatalf("expected rejection for %q, tool call succeeded", sql)
	}

	var report guard.Report
	helpers.UnmarshalToolJSON(t, res, &report)
	if report.Valid {
		t.Fatalf("rejection report claims the query is valid: %q", sql)
	}
	return &report
}

// hasCode reports whether the report carries the given error code.
func hasCode(report *guard.Report, code sqlanalyzer.ErrorCode) bool {
	for _, e := range report.Errors {
		if e.Code == code {
			return true
		}
	}
	return false
}

// TestQueryRejection covers the validation pipeline over a live gateway:
// dangerous or out-of-policy SQL never reaches the engine, and every
// rejection lands in the audit trail before the call returns.
func TestQueryRejection(t *testing.T) {
	dsn := helpers.StartPostgres(t)
	db := helpers.NewTestDB(t, dsn)
	db.SeedEncounters(t)
	tg := helpers.StartGateway(t, db)

	ctx, cancel := context.WithTimeout(context.Background(), helpers.DefaultE2EConfig().Timeout)
	defer cancel()

	analyst := helpers.ConnectMCP(t, tg, helpers.AnalystAPIKey)

	t.Run("destructive_statement_rejected", func(t *testing.T) {
		report := callExpectingRejection(ctx, t, analyst, "DROP TABLE ih.encounters")
		if !hasCode(report, sqlanalyzer.CodeDestructiveKeyword) {
			t.Errorf("expected DESTRUCTIVE_KEYWORD, got %v", report.Errors)
		}
	})

	t.Run("multi_statement_rejected", func(t *testing.T) {
		report := callExpectingRejection(ctx, t, analyst,
			"SELECT measure FROM ih.encounters; SELECT year FROM ih.encounters")
		if !hasCode(report, sqlanalyzer.CodeMultiStatement) {
			t.Errorf("expected MULTI_STATEMENT, got %v", report.Errors)
		}
	})

	t.Run("union_rejected", func(t *testing.T) {
		report := callExpectingRejection(ctx, t, analyst,
			"SELECT measure FROM ih.encounters UNION SELECT measure FROM ih.encounters")
		if !hasCode(report, sqlanalyzer.CodeUnionNotAllowed) {
			t.Errorf("expected UNION_NOT_ALLOWED, got %v", report.Errors)
		}
	})

	t.Run("non_allowlisted_table_rejected", func(t *testing.T) {
		report := callExpectingRejection(ctx, t, analyst, "SELECT * FROM ih.secrets")
		if !hasCode(report, sqlanalyzer.CodeTableNotAllowed) {
			t.Errorf("expected TABLE_NOT_ALLOWED, got %v", report.Errors)
		}
		if len(report.Tables) == 0 {
			t.Error("rejection report should still name the referenced tables")
		}
	})

	t.Run("rejections_are_audited_synchronously", func(t *testing.T) {
		events, err := db.Audit.Query(context.Background(), audit.QueryFilter{
			EventType: audit.EventTypeSecurity,
			Action:    "query_rejected",
		})
		if err != nil {
			t.Fatalf("querying audit events: %v", err)
		}
		if len(events) < 4 {
			t.Fatalf("expected at least 4 query_rejected events, got %d", len(events))
		}

		for _, ev := range events {
			if ev.Decision != audit.DecisionRejected {
				t.Errorf("event %s: expected decision rejected, got %q", ev.ID, ev.Decision)
			}
			if ev.Success {
				t.Errorf("event %s: rejected queries must record success=false", ev.ID)
			}
			if ev.UserID != "apikey:analyst" {
				t.Errorf("event %s: expected apikey:analyst, got %q", ev.ID, ev.UserID)
			}
		}
	})

	t.Run("validate_sql_reports_without_executing", func(t *testing.T) {
		res, err := analyst.CallTool(ctx, &mcp.CallToolParams{
			Name:      "validate_sql",
			Arguments: map[string]any{"sql": "DELETE FROM ih.encounters"},
		})
		if err != nil {
			t.Fatalf("CallTool failed: %v", err)
		}
		if res.IsError {
			t.Fatal("validate_sql reports violations as payload, not as a tool error")
		}

		var report guard.Report
		helpers.UnmarshalToolJSON(t, res, &report)
		if report.Valid {
			t.Error("DELETE statement validated as acceptable")
		}
		if !hasCode(&report, sqlanalyzer.CodeDestructiveKeyword) {
			t.Errorf("expected DESTRUCTIVE_KEYWORD, got %v", report.Errors)
		}

		var count int
		if err := db.DB.QueryRow("SELECT COUNT(*) FROM ih.encounters").Scan(&count); err != nil {
			t.Fatalf("counting rows: %v", err)
		}
		if count != 4 {
			t.Errorf("validate_sql must never execute: table holds %d rows, expected 4", count)
		}
	})

	t.Run("valid_query_passes_validation", func(t *testing.T) {
		res, err := analyst.CallTool(ctx, &mcp.CallToolParams{
			Name:      "validate_sql",
			Arguments: map[string]any{"sql": "SELECT measure FROM ih.encounters WHERE year = 2024"},
		})
		if err != nil {
			t.Fatalf("CallTool failed: %v", err)
		}

		var report guard.Report
		helpers.UnmarshalToolJSON(t, res, &report)
		if !report.Valid {
			t.Errorf("expected a clean report, got errors: %v", report.Errors)
		}
		if !report.RequiresTenantFilter {
			t.Error("allow-listed tables are tenant scoped; report should say so")
		}
	})
}
