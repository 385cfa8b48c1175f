// Package postgres implements the allow-list registry on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/caremetrix/mcp-sql-gateway/pkg/allowlist"
)

// psq builds queries with PostgreSQL-style placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Store reads the allowed_tables registry. The gateway only ever reads;
// registry curation happens in an external metadata service.
type Store struct {
	db *sql.DB
}

// New creates a Store backed by the given database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// ListActiveTables returns every active registry row.
func (s *Store) ListActiveTables(ctx context.Context) ([]allowlist.Table, error) {
	query, args, err := psq.
		Select("schema_name", "table_name", "active", "trust_tier").
		From("allowed_tables").
		Where(sq.Eq{"active": true}).
		OrderBy("schema_name", "table_name").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building allowed tables query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying allowed tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tables []allowlist.Table
	for rows.Next() {
		var t allowlist.Table
		if err := rows.Scan(&t.Schema, &t.Name, &t.Active, &t.Tier); err != nil {
			return nil, fmt.Errorf("scanning allowed table row: %w", err)
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating allowed tables: %w", err)
	}
	return tables, nil
}

var _ allowlist.Registry = (*Store)(nil)
