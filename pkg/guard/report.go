package guard

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/caremetrix/mcp-sql-gateway/pkg/auth"
	"github.com/caremetrix/mcp-sql-gateway/pkg/sqlanalyzer"
)

// Report is the outcome of validating one query. Valid is true exactly
// when Errors is empty. Warnings are advice and never block execution.
type Report struct {
	Valid                bool                          `json:"valid"`
	Errors               []sqlanalyzer.ValidationError `json:"errors,omitempty"`
	Warnings             []string                      `json:"warnings,omitempty"`
	Tables               []string                      `json:"tables,omitempty"`
	RequiresTenantFilter bool                          `json:"requiresTenantFilter"`
}

func (r *Report) addError(code sqlanalyzer.ErrorCode, format string, args ...any) {
	r.Errors = append(r.Errors, sqlanalyzer.NewError(code, format, args...))
}

func (r *Report) finalize() *Report {
	r.Valid = len(r.Errors) == 0
	return r
}

// Codes returns the distinct error codes present, in first-appearance
// order. Used for logging and audit records.
func (r *Report) Codes() []string {
	seen := make(map[sqlanalyzer.ErrorCode]bool, len(r.Errors))
	codes := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		if seen[e.Code] {
			continue
		}
		seen[e.Code] = true
		codes = append(codes, string(e.Code))
	}
	return codes
}

// SecuredQuery is SQL that cleared every pipeline stage and may be handed
// to the executor. Bypassed marks queries run without tenant scoping for
// a privileged principal; the SQL is then the caller's text unmodified.
type SecuredQuery struct {
	SQL          string   `json:"sql"`
	Tables       []string `json:"tables,omitempty"`
	PracticeIDs  []int64  `json:"practice_ids,omitempty"`
	Bypassed     bool     `json:"bypassed"`
	BypassReason string   `json:"bypass_reason,omitempty"`
}

// RejectionError carries the full validation report of a rejected query.
// Callers present Report to the user; the error text is a summary.
type RejectionError struct {
	Report *Report
}

func (e *RejectionError) Error() string {
	if e.Report == nil || len(e.Report.Errors) == 0 {
		return "query rejected"
	}
	if len(e.Report.Errors) == 1 {
		return "query rejected: " + e.Report.Errors[0].Error()
	}
	return fmt.Sprintf("query rejected: %d validation errors (%s)",
		len(e.Report.Errors), strings.Join(e.Report.Codes(), ", "))
}

// AsRejection unwraps err as a RejectionError when it is one.
func AsRejection(err error) (*RejectionError, bool) {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

// SecurityEventRecorder receives security-relevant pipeline decisions for
// durable audit storage. The guard logs every decision regardless; a nil
// recorder only drops the durable copy. The principal may be nil when the
// request never authenticated.
type SecurityEventRecorder interface {
	RecordBypass(ctx context.Context, principal *auth.Principal, sql string, tables []string, reason string)
	RecordRejection(ctx context.Context, principal *auth.Principal, sql string, report *Report)
}
