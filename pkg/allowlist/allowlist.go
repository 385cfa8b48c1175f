// Package allowlist maintains the set of tables queries are permitted to
// touch. The set is loaded from a registry and cached as an immutable
// snapshot with a TTL. Refresh failures fall back to the stale snapshot
// when one exists; before the first successful load nothing is allowed.
package allowlist

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const defaultTTL = 5 * time.Minute

// Table is one registry row: a physical table queries may reference.
// Tier ranks how vetted the table is; lower tiers are safer.
type Table struct {
	Schema string `json:"schema"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
	Tier   int    `json:"tier"`
}

// Registry is the metadata source of record. Implementations return only
// rows marked active.
type Registry interface {
	ListActiveTables(ctx context.Context) ([]Table, error)
}

// StaticRegistry serves a fixed table list. Used for development
// deployments and tests.
type StaticRegistry struct {
	Tables []Table
}

func (r StaticRegistry) ListActiveTables(_ context.Context) ([]Table, error) {
	active := make([]Table, 0, len(r.Tables))
	for _, t := range r.Tables {
		if t.Active {
			active = append(active, t)
		}
	}
	return active, nil
}

// snapshot is an immutable view of the allow-list at a point in time.
// Readers share snapshots; refresh swaps the pointer under the lock.
type snapshot struct {
	keys       map[string]bool
	tiers      map[string]int
	tables     []Table
	capturedAt time.Time
}

// SnapshotInfo describes the current snapshot for operators.
type SnapshotInfo struct {
	Tables     []Table   `json:"tables"`
	KeyCount   int       `json:"keyCount"`
	CapturedAt time.Time `json:"capturedAt"`
	Stale      bool      `json:"stale"`
}

// Config controls cache behavior.
type Config struct {
	TTL time.Duration
}

// Cache wraps a Registry with TTL snapshot caching. The zero value is not
// usable; construct with New. The clock is a field so tests can drive
// expiry deterministically.
type Cache struct {
	registry Registry
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu   sync.RWMutex
	snap *snapshot
}

// New builds a Cache over the given registry.
func New(registry Registry, cfg Config, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Cache{
		registry: registry,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
	}
}

// AllowedTables returns the lookup-key set of allow-listed tables. Each
// table contributes several keys (qualified, bare, quoted variants) so a
// single lookup of the form the query used suffices.
//
// A fresh snapshot within TTL is served without registry I/O unless
// forceRefresh is set. Refresh failures never surface as errors: with a
// prior snapshot the stale set is served and the staleness logged; with
// no snapshot ever captured the result is empty, so nothing is allowed.
func (c *Cache) AllowedTables(ctx context.Context, forceRefresh bool) map[string]bool {
	snap := c.current(ctx, forceRefresh)
	if snap == nil {
		return map[string]bool{}
	}
	return snap.keys
}

// AllowedTablesForTier is AllowedTables restricted to tables whose tier
// does not exceed maxTier.
func (c *Cache) AllowedTablesForTier(ctx context.Context, maxTier int) map[string]bool {
	snap := c.current(ctx, false)
	if snap == nil {
		return map[string]bool{}
	}
	bounded := make(map[string]bool, len(snap.keys))
	for key, tier := range snap.tiers {
		if tier <= maxTier {
			bounded[key] = true
		}
	}
	return bounded
}

// Invalidate discards the current snapshot. The next call reloads from
// the registry.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.snap = nil
	c.mu.Unlock()
	c.logger.Info("allow-list snapshot invalidated")
}

// SnapshotInfo reports the current snapshot, or nil when none has been
// captured yet.
func (c *Cache) SnapshotInfo() *SnapshotInfo {
	c.mu.RLock()
	snap := c.snap
	c.mu.RUnlock()
	if snap == nil {
		return nil
	}
	return &SnapshotInfo{
		Tables:     snap.tables,
		KeyCount:   len(snap.keys),
		CapturedAt: snap.capturedAt,
		Stale:      c.now().Sub(snap.capturedAt) >= c.ttl,
	}
}

func (c *Cache) current(ctx context.Context, forceRefresh bool) *snapshot {
	c.mu.RLock()
	snap := c.snap
	c.mu.RUnlock()

	if !forceRefresh && snap != nil && c.now().Sub(snap.capturedAt) < c.ttl {
		return snap
	}
	return c.reload(ctx, snap)
}

// reload fetches the registry and swaps in a new snapshot. On failure the
// previous snapshot keeps serving; its capture time is not touched, so the
// next call retries the registry.
func (c *Cache) reload(ctx context.Context, prev *snapshot) *snapshot {
	tables, err := c.registry.ListActiveTables(ctx)
	if err != nil {
		if prev != nil {
			c.logger.Warn("allow-list refresh failed, serving stale snapshot",
				"error", err,
				"captured_at", prev.capturedAt,
				"age", c.now().Sub(prev.capturedAt).String())
			return prev
		}
		c.logger.Error("allow-list refresh failed with no prior snapshot, all tables denied",
			"error", err)
		return nil
	}

	snap := newSnapshot(tables, c.now())
	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()

	c.logger.Debug("allow-list refreshed",
		"tables", len(tables),
		"keys", len(snap.keys))
	return snap
}

func newSnapshot(tables []Table, at time.Time) *snapshot {
	snap := &snapshot{
		keys:       make(map[string]bool, len(tables)*6),
		tiers:      make(map[string]int, len(tables)*6),
		tables:     tables,
		capturedAt: at,
	}
	for _, t := range tables {
		for _, key := range lookupKeys(t.Schema, t.Name) {
			snap.keys[key] = true
			// Keep the most permissive (lowest) tier on key collisions.
			if cur, ok := snap.tiers[key]; !ok || t.Tier < cur {
				snap.tiers[key] = t.Tier
			}
		}
	}
	return snap
}

// lookupKeys expands one table into every textual form a query might use
// to reference it. Unquoted identifiers fold to lower case, matching how
// the engines resolve them.
func lookupKeys(schema, name string) []string {
	schema = strings.ToLower(schema)
	name = strings.ToLower(name)

	keys := []string{
		name,
		fmt.Sprintf("%q", name),
		fmt.Sprintf("`%s`", name),
	}
	if schema != "" {
		keys = append(keys,
			schema+"."+name,
			fmt.Sprintf("%q.%q", schema, name),
			fmt.Sprintf("`%s`.`%s`", schema, name),
		)
	}
	return keys
}
