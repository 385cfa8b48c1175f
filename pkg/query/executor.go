// Package query executes secured SQL with row and time bounds. Every
// statement passes through the guard pipeline first; the executor then
// adds a row ceiling, races the engine call against a timeout, and shapes
// rows for transport. Validation failures come back as guard rejection
// errors; engine failures come back as execution errors with messages
// safe to echo to callers.
package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/caremetrix/mcp-sql-gateway/pkg/auth"
	"github.com/caremetrix/mcp-sql-gateway/pkg/guard"
)

const (
	// defaultRowLimit is the ceiling applied when a query has no LIMIT.
	defaultRowLimit = 1000

	// maxRowLimit is the hard ceiling; no limit is ever raised past it.
	maxRowLimit = 10000

	// defaultQueryTimeout bounds query execution.
	defaultQueryTimeout = 120 * time.Second

	// maxQueryTimeout bounds caller timeout overrides.
	maxQueryTimeout = 10 * time.Minute

	// defaultPingTimeout bounds the reachability probe.
	defaultPingTimeout = 5 * time.Second
)

// Config holds executor bounds.
type Config struct {
	DefaultRowLimit int           `yaml:"default_row_limit"`
	MaxRowLimit     int           `yaml:"max_row_limit"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxTimeout      time.Duration `yaml:"max_timeout"`
	PingTimeout     time.Duration `yaml:"ping_timeout"`
}

// applyDefaults fills zero config fields and keeps the bounds ordered.
func applyDefaults(cfg Config) Config {
	if cfg.DefaultRowLimit <= 0 {
		cfg.DefaultRowLimit = defaultRowLimit
	}
	if cfg.MaxRowLimit <= 0 {
		cfg.MaxRowLimit = maxRowLimit
	}
	if cfg.DefaultRowLimit > cfg.MaxRowLimit {
		cfg.DefaultRowLimit = cfg.MaxRowLimit
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultQueryTimeout
	}
	if cfg.MaxTimeout <= 0 {
		cfg.MaxTimeout = maxQueryTimeout
	}
	if cfg.Timeout > cfg.MaxTimeout {
		cfg.Timeout = cfg.MaxTimeout
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = defaultPingTimeout
	}
	return cfg
}

// Options carries per-call overrides. Zero values fall back to the
// executor's configured defaults.
type Options struct {
	RowLimit int
	Timeout  time.Duration
}

// Column describes one result column.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Result is a bounded query result. SQL echoes the statement that
// actually ran, after tenant scoping and limit bounding; Bypassed marks
// results produced without tenant scoping.
type Result struct {
	Rows            []map[string]any `json:"rows"`
	RowCount        int              `json:"row_count"`
	ExecutionTimeMs int64            `json:"execution_time_ms"`
	Columns         []Column         `json:"columns"`
	Truncated       bool             `json:"truncated"`
	SQL             string           `json:"sql"`
	Tables          []string         `json:"tables,omitempty"`
	Bypassed        bool             `json:"bypassed,omitempty"`
}

// Engine is the query-engine surface the executor needs. trino.Engine
// implements it for production; tests substitute database/sql mocks.
type Engine interface {
	QueryContext(ctx context.Context, sqlText string) (*sql.Rows, error)
	Ping(ctx context.Context) error
	Name() string
	Close() error
}

// Executor runs secured queries against a single engine. Safe for
// concurrent use.
type Executor struct {
	engine Engine
	guard  *guard.Guard
	cfg    Config
	logger *slog.Logger
}

// New builds an Executor. logger defaults to slog.Default.
func New(engine Engine, g *guard.Guard, cfg Config, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		engine: engine,
		guard:  g,
		cfg:    applyDefaults(cfg),
		logger: logger,
	}
}

// Guard exposes the validation pipeline for callers that only need the
// dry-run surface.
func (e *Executor) Guard() *guard.Guard {
	return e.guard
}

// Execute secures sqlText for principal and runs it.
//
// The engine is probed before anything else so an unreachable engine is a
// fast failure, never a hang. Securing failures propagate as the guard's
// *RejectionError, untouched; no query that failed validation is ever
// sent to the engine. The secured SQL gets a row ceiling (existing LIMIT
// clauses are clamped, never raised) and runs under a deadline. There are
// no retries at any stage.
func (e *Executor) Execute(ctx context.Context, sqlText string, principal *auth.Principal, opts Options) (*Result, error) {
	pingCtx, cancelPing := context.WithTimeout(ctx, e.cfg.PingTimeout)
	err := e.engine.Ping(pingCtx)
	cancelPing()
	if err != nil {
		e.logger.Error("query engine unreachable",
			"engine", e.engine.Name(),
			"error", err)
		return nil, &Error{
			Kind:    ErrEngineUnreachable,
			Message: fmt.Sprintf("query engine %s is not reachable", e.engine.Name()),
		}
	}

	secured, err := e.guard.Secure(ctx, sqlText, principal)
	if err != nil {
		return nil, err
	}

	want := clampRowLimit(opts.RowLimit, e.cfg)
	bounded, applied, err := applyRowLimit(secured.SQL, want, e.cfg.MaxRowLimit)
	if err != nil {
		// Secured SQL re-parsed moments ago in the guard, so this path
		// stays theoretical; the ceiling is kept either way.
		e.logger.Warn("limit mutation fell back to text append", "error", err)
		bounded = appendLimit(secured.SQL, want)
		applied = want
	}

	timeout := clampTimeout(opts.Timeout, e.cfg)
	queryCtx, cancelQuery := context.WithTimeout(ctx, timeout)
	defer cancelQuery()

	start := time.Now()
	rows, err := e.engine.QueryContext(queryCtx, bounded)
	if err != nil {
		return nil, e.execError(queryCtx, timeout, bounded, err)
	}
	defer func() { _ = rows.Close() }()

	result, err := scanRows(rows, applied)
	if err != nil {
		return nil, e.execError(queryCtx, timeout, bounded, err)
	}
	result.ExecutionTimeMs = time.Since(start).Milliseconds()
	result.SQL = bounded
	result.Tables = secured.Tables
	result.Bypassed = secured.Bypassed

	e.logger.Debug("query executed",
		"engine", e.engine.Name(),
		"rows", result.RowCount,
		"truncated", result.Truncated,
		"duration_ms", result.ExecutionTimeMs)
	return result, nil
}

// execError maps an engine failure to a caller-safe execution error. The
// raw error and SQL stay in the server log only.
func (e *Executor) execError(ctx context.Context, timeout time.Duration, sqlText string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		e.logger.Warn("query timed out",
			"engine", e.engine.Name(),
			"timeout", timeout.String(),
			"sql", sqlText)
		return &Error{
			Kind:    ErrQueryTimeout,
			Message: fmt.Sprintf("query exceeded the %s timeout", timeout),
		}
	}
	e.logger.Error("query execution failed",
		"engine", e.engine.Name(),
		"error", err,
		"sql", sqlText)
	return &Error{Kind: ErrExecutionFailed, Message: "query execution failed"}
}

// clampRowLimit resolves the requested row limit against config bounds.
// Zero means "use the default"; nothing is raised past the max.
func clampRowLimit(requested int, cfg Config) int {
	if requested <= 0 {
		return cfg.DefaultRowLimit
	}
	if requested > cfg.MaxRowLimit {
		return cfg.MaxRowLimit
	}
	return requested
}

// clampTimeout resolves the requested timeout against config bounds.
func clampTimeout(requested time.Duration, cfg Config) time.Duration {
	if requested <= 0 {
		return cfg.Timeout
	}
	if requested > cfg.MaxTimeout {
		return cfg.MaxTimeout
	}
	return requested
}

// scanRows drains rows into transport shape. Column descriptors come from
// the first delivered row, so empty results carry an empty column list
// rather than an error.
func scanRows(rows *sql.Rows, limit int) (*Result, error) {
	result := &Result{
		Rows:    []map[string]any{},
		Columns: []Column{},
	}

	var names []string
	for rows.Next() {
		if names == nil {
			types, err := rows.ColumnTypes()
			if err != nil {
				return nil, fmt.Errorf("reading column types: %w", err)
			}
			names = make([]string, len(types))
			result.Columns = make([]Column, len(types))
			for i, ct := range types {
				names[i] = ct.Name()
				result.Columns[i] = Column{Name: ct.Name(), Type: ct.DatabaseTypeName()}
			}
		}

		values := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		row := make(map[string]any, len(names))
		for i, name := range names {
			row[name] = normalizeValue(values[i])
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	result.RowCount = len(result.Rows)
	result.Truncated = limit > 0 && result.RowCount >= limit
	return result, nil
}

// normalizeValue converts driver byte slices to strings so results
// JSON-encode as text rather than base64.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
