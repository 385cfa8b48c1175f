//go:build integration

package helpers

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/caremetrix/mcp-sql-gateway/pkg/query"
)

// PostgresEngine runs secured SQL against the e2e PostgreSQL database.
// The guard re-prints statements in a form PostgreSQL accepts, so tests
// get a real execution round-trip without standing up a Trino cluster.
type PostgresEngine struct {
	db *sql.DB
}

var _ query.Engine = (*PostgresEngine)(nil)

// NewPostgresEngine wraps an existing handle as a query engine.
func NewPostgresEngine(db *sql.DB) *PostgresEngine {
	return &PostgresEngine{db: db}
}

// QueryContext runs the statement on the shared test database.
func (e *PostgresEngine) QueryContext(ctx context.Context, sqlText string) (*sql.Rows, error) {
	rows, err := e.db.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, fmt.Errorf("e2e engine query: %w", err)
	}
	return rows, nil
}

// Ping reports whether the database is reachable.
func (e *PostgresEngine) Ping(ctx context.Context) error {
	if err := e.db.PingContext(ctx); err != nil {
		return fmt.Errorf("e2e engine ping: %w", err)
	}
	return nil
}

// Name identifies the engine in results and system info.
func (e *PostgresEngine) Name() string { return "postgres" }

// Close is a no-op; the test owns the shared handle.
func (e *PostgresEngine) Close() error { return nil }
