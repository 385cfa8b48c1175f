// Package guard sequences the query security pipeline: destructive-keyword
// screen, structural analysis, allow-list check, tenant-scope resolution,
// and tenant-filter injection. Only SQL that cleared every stage reaches
// the executor; everything else comes back as a RejectionError carrying
// the full validation report.
package guard

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/xwb1989/sqlparser"

	"github.com/caremetrix/mcp-sql-gateway/pkg/allowlist"
	"github.com/caremetrix/mcp-sql-gateway/pkg/auth"
	"github.com/caremetrix/mcp-sql-gateway/pkg/sqlanalyzer"
	"github.com/caremetrix/mcp-sql-gateway/pkg/tenant"
)

// Guard runs the validation pipeline against a shared allow-list cache.
// It is stateless per call and safe for concurrent use.
type Guard struct {
	allowlist *allowlist.Cache
	recorder  SecurityEventRecorder
	logger    *slog.Logger
}

// New builds a Guard. recorder may be nil; logger defaults to
// slog.Default.
func New(cache *allowlist.Cache, recorder SecurityEventRecorder, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{allowlist: cache, recorder: recorder, logger: logger}
}

// Secure validates sqlText for principal and returns SQL ready for
// execution. The stage order is fixed: screen, parse, allow-list, tenant
// resolution, filter injection. A failure at any stage stops the pipeline
// and returns a *RejectionError; there is no path that hands un-scoped,
// non-bypassed SQL to the caller.
//
// Privileged principals (super admin or the unrestricted-execute
// capability) skip filter injection; the bypass is logged and recorded as
// a security event, never silent.
func (g *Guard) Secure(ctx context.Context, sqlText string, principal *auth.Principal) (*SecuredQuery, error) {
	report, analysis := g.analyze(ctx, sqlText)
	if len(report.Errors) > 0 {
		return nil, g.reject(ctx, principal, sqlText, report)
	}

	if principal.BypassesTenantFilter() {
		reason := bypassReason(principal)
		g.logger.Warn("tenant filter bypassed",
			"user_id", principal.ID,
			"reason", reason,
			"tables", report.Tables)
		if g.recorder != nil {
			g.recorder.RecordBypass(ctx, principal, sqlText, report.Tables, reason)
		}
		return &SecuredQuery{
			SQL:          sqlText,
			Tables:       report.Tables,
			Bypassed:     true,
			BypassReason: reason,
		}, nil
	}

	var practiceIDs []int64
	if principal != nil {
		practiceIDs = principal.PracticeIDs
	}
	if len(practiceIDs) == 0 {
		report.addError(sqlanalyzer.CodeEmptyTenantScope,
			"principal has no practice scope; an empty scope never widens to all practices")
		return nil, g.reject(ctx, principal, sqlText, report)
	}

	secured, err := tenant.InjectFilter(unwrapParens(analysis.Statement), practiceIDs)
	if err != nil {
		report.addError(sqlanalyzer.CodeFilterInjectionFailed,
			"tenant filter injection failed: %v", err)
		return nil, g.reject(ctx, principal, sqlText, report)
	}
	if !verifySecured(secured, report.Tables) {
		report.addError(sqlanalyzer.CodeFilterInjectionFailed,
			"secured SQL failed re-verification")
		return nil, g.reject(ctx, principal, sqlText, report)
	}

	return &SecuredQuery{
		SQL:         secured,
		Tables:      report.Tables,
		PracticeIDs: practiceIDs,
	}, nil
}

// Validate runs the principal-independent stages (screen, parse,
// allow-list) and returns the report. Nothing is recorded or rejected;
// this is the dry-run surface behind the validate tool.
func (g *Guard) Validate(ctx context.Context, sqlText string) *Report {
	report, _ := g.analyze(ctx, sqlText)
	return report.finalize()
}

// analyze runs stages 1-3. Tables are reported even for rejected queries
// so audit records show what the query tried to touch. A stage failure
// stops the pipeline; errors within a stage are all collected.
func (g *Guard) analyze(ctx context.Context, sqlText string) (*Report, *sqlanalyzer.Result) {
	report := &Report{}

	if keywords := sqlanalyzer.ScanDestructiveKeywords(sqlText); len(keywords) > 0 {
		report.addError(sqlanalyzer.CodeDestructiveKeyword,
			"destructive keywords detected: %s", strings.Join(keywords, ", "))
		return report, nil
	}

	analysis := sqlanalyzer.Parse(sqlText)
	report.Tables = analysis.TableKeys()
	if !analysis.Valid {
		report.Errors = append(report.Errors, analysis.Errors...)
		return report, analysis
	}
	// Every allow-listed table is tenant-scoped, so every valid SELECT
	// gets the filter.
	report.RequiresTenantFilter = true
	report.Warnings = collectWarnings(sqlText, analysis)

	allowed := g.allowlist.AllowedTables(ctx, false)
	for _, ref := range analysis.Tables {
		if !tableAllowed(allowed, ref) {
			report.addError(sqlanalyzer.CodeTableNotAllowed,
				"table %q is not on the allow-list", ref.Key())
		}
	}
	return report, analysis
}

// tableAllowed resolves one reference against the snapshot keys. The
// qualified form is tried first, then the bare name, matching the key
// expansion the cache performs.
func tableAllowed(allowed map[string]bool, ref sqlanalyzer.TableRef) bool {
	if allowed[strings.ToLower(ref.Key())] {
		return true
	}
	return ref.Schema != "" && allowed[strings.ToLower(ref.Name)]
}

// verifySecured re-analyzes injected SQL. Injection only touches the
// WHERE clause, so the result must be valid with the same table set.
func verifySecured(secured string, tables []string) bool {
	recheck := sqlanalyzer.Parse(secured)
	if !recheck.Valid || recheck.HasUnion || recheck.HasSubquery {
		return false
	}
	keys := recheck.TableKeys()
	if len(keys) != len(tables) {
		return false
	}
	for i, key := range keys {
		if key != tables[i] {
			return false
		}
	}
	return true
}

func bypassReason(p *auth.Principal) string {
	if p.SuperAdmin {
		return "super_admin"
	}
	return "capability:" + auth.CapabilityUnrestrictedExecute
}

// unwrapParens strips redundant parentheses around a top-level SELECT so
// the injector sees the Select node itself.
func unwrapParens(stmt sqlparser.Statement) sqlparser.Statement {
	for {
		p, ok := stmt.(*sqlparser.ParenSelect)
		if !ok {
			return stmt
		}
		stmt = p.Select
	}
}

func (g *Guard) reject(ctx context.Context, principal *auth.Principal, sqlText string, report *Report) error {
	report.finalize()
	g.logger.Info("query rejected",
		"codes", report.Codes(),
		"tables", report.Tables,
		"user_id", userID(principal))
	if g.recorder != nil {
		g.recorder.RecordRejection(ctx, principal, sqlText, report)
	}
	return &RejectionError{Report: report}
}

func userID(p *auth.Principal) string {
	if p == nil {
		return ""
	}
	return p.ID
}

var tenantColumnPattern = regexp.MustCompile(`(?i)\b` + tenant.Column + `\b`)

// collectWarnings produces non-blocking advice for structurally valid
// queries.
func collectWarnings(sqlText string, analysis *sqlanalyzer.Result) []string {
	var warnings []string
	if tenantColumnPattern.MatchString(sqlText) {
		warnings = append(warnings,
			"query references "+tenant.Column+" directly; tenant scoping is applied regardless")
	}
	if hasStarProjection(analysis.Statement) {
		warnings = append(warnings,
			"select * returns every column; name only the columns you need")
	}
	return warnings
}

func hasStarProjection(stmt sqlparser.Statement) bool {
	sel, ok := unwrapParens(stmt).(*sqlparser.Select)
	if !ok {
		return false
	}
	for _, expr := range sel.SelectExprs {
		if _, ok := expr.(*sqlparser.StarExpr); ok {
			return true
		}
	}
	return false
}
