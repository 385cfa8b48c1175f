package guard

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/caremetrix/mcp-sql-gateway/pkg/allowlist"
	"github.com/caremetrix/mcp-sql-gateway/pkg/auth"
	"github.com/caremetrix/mcp-sql-gateway/pkg/sqlanalyzer"
)

type bypassRecord struct {
	userID string
	sql    string
	tables []string
	reason string
}

type rejectionRecord struct {
	userID string
	sql    string
	report *Report
}

type recordingHook struct {
	bypasses   []bypassRecord
	rejections []rejectionRecord
}

func (r *recordingHook) RecordBypass(_ context.Context, p *auth.Principal, sql string, tables []string, reason string) {
	r.bypasses = append(r.bypasses, bypassRecord{userID: userID(p), sql: sql, tables: tables, reason: reason})
}

func (r *recordingHook) RecordRejection(_ context.Context, p *auth.Principal, sql string, report *Report) {
	r.rejections = append(r.rejections, rejectionRecord{userID: userID(p), sql: sql, report: report})
}

func newTestGuard(t *testing.T) (*Guard, *recordingHook) {
	t.Helper()
	registry := allowlist.StaticRegistry{Tables: []allowlist.Table{
		{Schema: "ih", Name: "encounters", Active: true},
		{Schema: "ih", Name: "patients", Active: true},
		{Schema: "ih", Name: "claims", Active: true},
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hook := &recordingHook{}
	cache := allowlist.New(registry, allowlist.Config{}, logger)
	return New(cache, hook, logger), hook
}

func scopedPrincipal(ids ...int64) *auth.Principal {
	return &auth.Principal{ID: "user-1", Email: "analyst@clinic.example", PracticeIDs: ids}
}

func rejectionFrom(t *testing.T, err error) *Report {
	t.Helper()
	if err == nil {
		t.Fatal("expected a rejection error, got nil")
	}
	rej, ok := AsRejection(err)
	if !ok {
		t.Fatalf("expected *RejectionError, got %T: %v", err, err)
	}
	if rej.Report.Valid {
		t.Error("rejection report marked valid")
	}
	return rej.Report
}

func TestSecure_ScopedQuery(t *testing.T) {
	g, hook := newTestGuard(t)

	got, err := g.Secure(context.Background(),
		"SELECT measure FROM ih.encounters WHERE year = 2024", scopedPrincipal(10, 20))
	if err != nil {
		t.Fatalf("Secure() error = %v", err)
	}

	want := "select measure from ih.encounters where (year = 2024) and (practice_uid in (10, 20))"
	if got.SQL != want {
		t.Errorf("SQL = %q\nwant  %q", got.SQL, want)
	}
	if got.Bypassed {
		t.Error("Bypassed = true for a scoped query")
	}
	if len(got.PracticeIDs) != 2 || got.PracticeIDs[0] != 10 || got.PracticeIDs[1] != 20 {
		t.Errorf("PracticeIDs = %v", got.PracticeIDs)
	}
	if len(got.Tables) != 1 || got.Tables[0] != "ih.encounters" {
		t.Errorf("Tables = %v", got.Tables)
	}
	if len(hook.bypasses) != 0 || len(hook.rejections) != 0 {
		t.Errorf("recorded events for a clean scoped query: %+v %+v", hook.bypasses, hook.rejections)
	}
}

func TestSecure_SinglePracticeNoWhere(t *testing.T) {
	g, _ := newTestGuard(t)

	got, err := g.Secure(context.Background(), "SELECT a FROM ih.encounters", scopedPrincipal(7))
	if err != nil {
		t.Fatalf("Secure() error = %v", err)
	}
	want := "select a from ih.encounters where practice_uid = 7"
	if got.SQL != want {
		t.Errorf("SQL = %q, want %q", got.SQL, want)
	}
}

func TestSecure_DestructiveKeyword(t *testing.T) {
	g, hook := newTestGuard(t)

	_, err := g.Secure(context.Background(), "DROP TABLE x; SELECT 1", scopedPrincipal(7))
	report := rejectionFrom(t, err)

	if len(report.Errors) != 1 || report.Errors[0].Code != sqlanalyzer.CodeDestructiveKeyword {
		t.Fatalf("Errors = %v", report.Errors)
	}
	if !strings.Contains(report.Errors[0].Message, "DROP") {
		t.Errorf("message does not list the keyword: %q", report.Errors[0].Message)
	}
	if len(hook.rejections) != 1 {
		t.Fatalf("rejections recorded = %d, want 1", len(hook.rejections))
	}
	if hook.rejections[0].userID != "user-1" {
		t.Errorf("recorded user = %q", hook.rejections[0].userID)
	}
}

func TestSecure_MultiStatement(t *testing.T) {
	g, _ := newTestGuard(t)

	_, err := g.Secure(context.Background(), "SELECT 1; SELECT 2", scopedPrincipal(7))
	report := rejectionFrom(t, err)
	if len(report.Errors) != 1 || report.Errors[0].Code != sqlanalyzer.CodeMultiStatement {
		t.Fatalf("Errors = %v", report.Errors)
	}
}

func TestSecure_SubqueryRejectedTablesReported(t *testing.T) {
	g, _ := newTestGuard(t)

	_, err := g.Secure(context.Background(),
		"SELECT * FROM ih.patients WHERE id IN (SELECT patient_id FROM ih.claims)", scopedPrincipal(7))
	report := rejectionFrom(t, err)

	found := false
	for _, e := range report.Errors {
		if e.Code == sqlanalyzer.CodeSubqueryNotAllowed {
			found = true
		}
	}
	if !found {
		t.Errorf("missing subquery error: %v", report.Errors)
	}
	if len(report.Tables) != 2 || report.Tables[0] != "ih.patients" || report.Tables[1] != "ih.claims" {
		t.Errorf("Tables = %v, want both referenced tables", report.Tables)
	}
}

func TestSecure_UnionRejected(t *testing.T) {
	g, _ := newTestGuard(t)

	_, err := g.Secure(context.Background(),
		"SELECT a FROM ih.encounters UNION SELECT b FROM ih.claims", scopedPrincipal(7))
	report := rejectionFrom(t, err)

	found := false
	for _, e := range report.Errors {
		if e.Code == sqlanalyzer.CodeUnionNotAllowed {
			found = true
		}
	}
	if !found {
		t.Errorf("missing union error: %v", report.Errors)
	}
	if len(report.Tables) != 2 {
		t.Errorf("Tables = %v, want tables from both branches", report.Tables)
	}
}

func TestSecure_TableNotAllowed(t *testing.T) {
	g, hook := newTestGuard(t)

	_, err := g.Secure(context.Background(), "SELECT name FROM public.users", scopedPrincipal(7))
	report := rejectionFrom(t, err)

	if len(report.Errors) != 1 || report.Errors[0].Code != sqlanalyzer.CodeTableNotAllowed {
		t.Fatalf("Errors = %v", report.Errors)
	}
	if !strings.Contains(report.Errors[0].Message, `"public.users"`) {
		t.Errorf("message does not name the table as written: %q", report.Errors[0].Message)
	}
	if len(hook.rejections) != 1 {
		t.Errorf("rejections recorded = %d, want 1", len(hook.rejections))
	}
}

func TestSecure_EveryMissNamed(t *testing.T) {
	g, _ := newTestGuard(t)

	_, err := g.Secure(context.Background(),
		"SELECT a FROM public.users u JOIN public.orders o ON u.id = o.user_id", scopedPrincipal(7))
	report := rejectionFrom(t, err)

	if len(report.Errors) != 2 {
		t.Fatalf("Errors = %v, want one per missing table", report.Errors)
	}
	for _, e := range report.Errors {
		if e.Code != sqlanalyzer.CodeTableNotAllowed {
			t.Errorf("unexpected code %s", e.Code)
		}
	}
}

func TestSecure_BareReferenceResolves(t *testing.T) {
	g, _ := newTestGuard(t)

	got, err := g.Secure(context.Background(), "SELECT a FROM encounters", scopedPrincipal(7))
	if err != nil {
		t.Fatalf("Secure() error = %v", err)
	}
	if want := "select a from encounters where practice_uid = 7"; got.SQL != want {
		t.Errorf("SQL = %q, want %q", got.SQL, want)
	}
}

func TestSecure_Bypass(t *testing.T) {
	tests := []struct {
		name       string
		principal  *auth.Principal
		wantReason string
	}{
		{
			name:       "super admin",
			principal:  &auth.Principal{ID: "admin-1", SuperAdmin: true},
			wantReason: "super_admin",
		},
		{
			name: "unrestricted execute capability",
			principal: &auth.Principal{
				ID:           "svc-etl",
				Capabilities: []string{auth.CapabilityUnrestrictedExecute},
			},
			wantReason: "capability:" + auth.CapabilityUnrestrictedExecute,
		},
	}

	const input = "SELECT measure FROM ih.encounters WHERE year = 2024"
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, hook := newTestGuard(t)

			got, err := g.Secure(context.Background(), input, tt.principal)
			if err != nil {
				t.Fatalf("Secure() error = %v", err)
			}
			if got.SQL != input {
				t.Errorf("bypassed SQL modified: %q", got.SQL)
			}
			if !got.Bypassed {
				t.Error("Bypassed = false")
			}
			if got.BypassReason != tt.wantReason {
				t.Errorf("BypassReason = %q, want %q", got.BypassReason, tt.wantReason)
			}
			if len(got.PracticeIDs) != 0 {
				t.Errorf("PracticeIDs = %v, want none on bypass", got.PracticeIDs)
			}
			if len(hook.bypasses) != 1 {
				t.Fatalf("bypass events recorded = %d, want 1", len(hook.bypasses))
			}
			if hook.bypasses[0].reason != tt.wantReason || hook.bypasses[0].sql != input {
				t.Errorf("recorded bypass = %+v", hook.bypasses[0])
			}
		})
	}
}

func TestSecure_BypassStillValidates(t *testing.T) {
	g, hook := newTestGuard(t)
	admin := &auth.Principal{ID: "admin-1", SuperAdmin: true}

	_, err := g.Secure(context.Background(), "SELECT name FROM public.users", admin)
	report := rejectionFrom(t, err)
	if report.Errors[0].Code != sqlanalyzer.CodeTableNotAllowed {
		t.Errorf("Errors = %v", report.Errors)
	}
	if len(hook.bypasses) != 0 {
		t.Error("bypass recorded for a rejected query")
	}
}

func TestSecure_EmptyTenantScope(t *testing.T) {
	tests := []struct {
		name      string
		principal *auth.Principal
	}{
		{name: "no practice ids", principal: scopedPrincipal()},
		{name: "nil principal", principal: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, hook := newTestGuard(t)

			_, err := g.Secure(context.Background(), "SELECT a FROM ih.encounters", tt.principal)
			report := rejectionFrom(t, err)
			if len(report.Errors) != 1 || report.Errors[0].Code != sqlanalyzer.CodeEmptyTenantScope {
				t.Fatalf("Errors = %v", report.Errors)
			}
			if len(hook.rejections) != 1 {
				t.Errorf("rejections recorded = %d, want 1", len(hook.rejections))
			}
		})
	}
}

func TestValidate(t *testing.T) {
	g, hook := newTestGuard(t)

	t.Run("valid select", func(t *testing.T) {
		report := g.Validate(context.Background(), "SELECT measure FROM ih.encounters WHERE year = 2024")
		if !report.Valid {
			t.Fatalf("Valid = false: %v", report.Errors)
		}
		if !report.RequiresTenantFilter {
			t.Error("RequiresTenantFilter = false for a valid select")
		}
		if len(report.Tables) != 1 || report.Tables[0] != "ih.encounters" {
			t.Errorf("Tables = %v", report.Tables)
		}
		if len(report.Warnings) != 0 {
			t.Errorf("Warnings = %v", report.Warnings)
		}
	})

	t.Run("tenant column referenced", func(t *testing.T) {
		report := g.Validate(context.Background(), "SELECT a FROM ih.encounters WHERE practice_uid = 5")
		if !report.Valid {
			t.Fatalf("Valid = false: %v", report.Errors)
		}
		if len(report.Warnings) != 1 || !strings.Contains(report.Warnings[0], "practice_uid") {
			t.Errorf("Warnings = %v", report.Warnings)
		}
	})

	t.Run("star projection", func(t *testing.T) {
		report := g.Validate(context.Background(), "SELECT * FROM ih.encounters")
		if !report.Valid {
			t.Fatalf("Valid = false: %v", report.Errors)
		}
		if len(report.Warnings) != 1 || !strings.Contains(report.Warnings[0], "select *") {
			t.Errorf("Warnings = %v", report.Warnings)
		}
	})

	t.Run("invalid statement", func(t *testing.T) {
		report := g.Validate(context.Background(), "UPDATE ih.encounters SET a = 1")
		if report.Valid {
			t.Error("Valid = true for an update")
		}
		if report.RequiresTenantFilter {
			t.Error("RequiresTenantFilter = true for a rejected statement")
		}
	})

	t.Run("never records events", func(t *testing.T) {
		g.Validate(context.Background(), "DROP TABLE x")
		if len(hook.rejections) != 0 || len(hook.bypasses) != 0 {
			t.Errorf("validate recorded events: %+v %+v", hook.rejections, hook.bypasses)
		}
	})
}

func TestSecure_SecuredSQLReanalyzesClean(t *testing.T) {
	g, _ := newTestGuard(t)

	inputs := []string{
		"SELECT measure FROM ih.encounters WHERE year = 2024",
		"SELECT a FROM ih.encounters",
		"SELECT e.a, p.b FROM ih.encounters e JOIN ih.patients p ON e.pid = p.id WHERE e.x > 1 OR p.y < 2",
	}
	for _, input := range inputs {
		got, err := g.Secure(context.Background(), input, scopedPrincipal(10, 20))
		if err != nil {
			t.Fatalf("Secure(%q) error = %v", input, err)
		}
		recheck := sqlanalyzer.Parse(got.SQL)
		if !recheck.Valid {
			t.Errorf("secured SQL does not re-validate: %q -> %v", got.SQL, recheck.Errors)
		}
		if recheck.HasUnion || recheck.HasSubquery {
			t.Errorf("secured SQL introduced structure: %q", got.SQL)
		}
	}
}

func TestVerifySecured(t *testing.T) {
	tests := []struct {
		name    string
		secured string
		tables  []string
		want    bool
	}{
		{
			name:    "clean scoped select",
			secured: "select a from ih.encounters where practice_uid = 7",
			tables:  []string{"ih.encounters"},
			want:    true,
		},
		{
			name:    "table set changed",
			secured: "select a from ih.claims where practice_uid = 7",
			tables:  []string{"ih.encounters"},
			want:    false,
		},
		{
			name:    "not parseable",
			secured: "select from where",
			tables:  nil,
			want:    false,
		},
		{
			name:    "non-select",
			secured: "show tables",
			tables:  nil,
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := verifySecured(tt.secured, tt.tables); got != tt.want {
				t.Errorf("verifySecured(%q) = %v, want %v", tt.secured, got, tt.want)
			}
		})
	}
}

func TestRejectionError_Message(t *testing.T) {
	one := &RejectionError{Report: &Report{Errors: []sqlanalyzer.ValidationError{
		sqlanalyzer.NewError(sqlanalyzer.CodeTableNotAllowed, "table %q is not on the allow-list", "x"),
	}}}
	if !strings.Contains(one.Error(), "TABLE_NOT_ALLOWED") {
		t.Errorf("Error() = %q", one.Error())
	}

	many := &RejectionError{Report: &Report{Errors: []sqlanalyzer.ValidationError{
		sqlanalyzer.NewError(sqlanalyzer.CodeUnionNotAllowed, "union"),
		sqlanalyzer.NewError(sqlanalyzer.CodeSubqueryNotAllowed, "subquery"),
	}}}
	msg := many.Error()
	if !strings.Contains(msg, "2 validation errors") {
		t.Errorf("Error() = %q", msg)
	}
	if !strings.Contains(msg, "UNION_NOT_ALLOWED") || !strings.Contains(msg, "SUBQUERY_NOT_ALLOWED") {
		t.Errorf("Error() = %q", msg)
	}
}
