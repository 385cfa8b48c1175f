package admin

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/caremetrix/mcp-sql-gateway/pkg/allowlist"
	"github.com/caremetrix/mcp-sql-gateway/pkg/audit"
)

// --- Mock audit store ---

type mockAuditStore struct {
	queryResult  []audit.Event
	queryErr     error
	countResult  int
	countErr     error
	successCount int
	decisions    map[audit.Decision]int

	lastFilter audit.QueryFilter
	logged     []audit.Event
	logErr     error
}

func (m *mockAuditStore) Query(_ context.Context, filter audit.QueryFilter) ([]audit.Event, error) {
	m.lastFilter = filter
	return m.queryResult, m.queryErr
}

func (m *mockAuditStore) Count(_ context.Context, filter audit.QueryFilter) (int, error) {
	if m.countErr != nil {
		return 0, m.countErr
	}
	if filter.Success != nil {
		return m.successCount, nil
	}
	if filter.Decision != "" {
		return m.decisions[filter.Decision], nil
	}
	return m.countResult, nil
}

func (m *mockAuditStore) Log(_ context.Context, event audit.Event) error {
	m.logged = append(m.logged, event)
	return m.logErr
}

// Verify interface compliance.
var (
	_ AuditQuerier  = (*mockAuditStore)(nil)
	_ AuditRecorder = (*mockAuditStore)(nil)
)

// --- Allow-list fixtures ---

// countingRegistry counts loads so tests can observe cache invalidation.
type countingRegistry struct {
	tables []allowlist.Table
	loads  int
}

func (r *countingRegistry) ListActiveTables(_ context.Context) ([]allowlist.Table, error) {
	r.loads++
	return r.tables, nil
}

func testTables() []allowlist.Table {
	return []allowlist.Table{
		{Schema: "ih", Name: "encounters", Active: true, Tier: 1},
		{Schema: "ih", Name: "patients", Active: true, Tier: 2},
		{Schema: "ref", Name: "measures", Active: true, Tier: 3},
	}
}

func testCache(registry allowlist.Registry) *allowlist.Cache {
	return allowlist.New(registry, allowlist.Config{TTL: time.Minute}, testLogger())
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
