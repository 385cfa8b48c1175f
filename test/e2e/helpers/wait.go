//go:build integration

package helpers

import (
	"context"
	"testing"
	"time"

	"github.com/caremetrix/mcp-sql-gateway/pkg/audit"
)

// WaitConfig configures polling for asynchronously written state.
type WaitConfig struct {
	Timeout  time.Duration
	Interval time.Duration
}

// DefaultWaitConfig returns default wait configuration.
func DefaultWaitConfig() WaitConfig {
	return WaitConfig{
		Timeout:  10 * time.Second,
		Interval: 100 * time.Millisecond,
	}
}

// WaitForAuditEvents polls the audit store until at least want events
// match the filter, and returns them. Tool events are recorded after the
// MCP call already returned, so tests wait instead of asserting
// immediately. Security events are written synchronously and never need
// this.
func (d *TestDB) WaitForAuditEvents(t *testing.T, filter audit.QueryFilter, want int, cfg WaitConfig) []audit.Event {
	t.Helper()

	ctx := context.Background()
	deadline := time.Now().Add(cfg.Timeout)
	for {
		events, err := d.Audit.Query(ctx, filter)
		if err != nil {
			t.Fatalf("querying audit events: %v", err)
		}
		if len(events) >= want {
			return events
		}
		if time.Now().After(deadline) {
			t.Fatalf("audit events: want at least %d for action %q, have %d after %v",
				want, filter.Action, len(events), cfg.Timeout)
		}
		time.Sleep(cfg.Interval)
	}
}
