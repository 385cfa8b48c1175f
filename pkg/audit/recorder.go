package audit

import (
	"context"
	"log/slog"

	"github.com/caremetrix/mcp-sql-gateway/pkg/auth"
	"github.com/caremetrix/mcp-sql-gateway/pkg/guard"
)

// GuardRecorder adapts an audit Logger to the guard's security-event
// hook. Pipeline decisions become durable security events; a Log failure
// is logged and swallowed so audit-store trouble never blocks or unblocks
// a query.
type GuardRecorder struct {
	sink   Logger
	logger *slog.Logger
}

// NewGuardRecorder builds the adapter. logger defaults to slog.Default.
func NewGuardRecorder(sink Logger, logger *slog.Logger) *GuardRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &GuardRecorder{sink: sink, logger: logger}
}

// RecordBypass stores a tenant-filter bypass as a security event.
func (r *GuardRecorder) RecordBypass(ctx context.Context, principal *auth.Principal, sql string, tables []string, reason string) {
	event := NewEvent(EventTypeSecurity, "tenant_filter_bypass").
		WithSQL(sql, tables).
		WithDecision(DecisionBypassed).
		WithParameters(map[string]any{"reason": reason}).
		WithResult(true, "", 0)
	if principal != nil {
		event.WithUser(principal.ID, principal.Email)
	}
	r.log(ctx, *event)
}

// RecordRejection stores a rejected query as a security event carrying
// the validation error codes.
func (r *GuardRecorder) RecordRejection(ctx context.Context, principal *auth.Principal, sql string, report *guard.Report) {
	errorMsg := ""
	params := map[string]any{}
	if report != nil {
		params["codes"] = report.Codes()
		if len(report.Errors) > 0 {
			errorMsg = report.Errors[0].Error()
		}
	}
	event := NewEvent(EventTypeSecurity, "query_rejected").
		WithDecision(DecisionRejected).
		WithParameters(params).
		WithResult(false, errorMsg, 0)
	if report != nil {
		event.WithSQL(sql, report.Tables)
	} else {
		event.WithSQL(sql, nil)
	}
	if principal != nil {
		event.WithUser(principal.ID, principal.Email)
	}
	r.log(ctx, *event)
}

func (r *GuardRecorder) log(ctx context.Context, event Event) {
	if err := r.sink.Log(ctx, event); err != nil {
		r.logger.Error("writing security event failed",
			"action", event.Action,
			"event_id", event.ID,
			"error", err)
	}
}

var _ guard.SecurityEventRecorder = (*GuardRecorder)(nil)
