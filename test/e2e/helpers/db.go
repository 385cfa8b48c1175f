//go:build integration

package helpers

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	auditpostgres "github.com/caremetrix/mcp-sql-gateway/pkg/audit/postgres"
	"github.com/caremetrix/mcp-sql-gateway/pkg/database/migrate"
)

// StartPostgres starts a PostgreSQL testcontainer and returns its DSN.
// The container is automatically terminated when the test completes.
func StartPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("gateway"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Minute),
		),
	)
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}
	t.Cleanup(func() { _ = pgContainer.Terminate(ctx) })

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("getting postgres connection string: %v", err)
	}
	return dsn
}

// TestDB holds the database resources e2e tests run on. One container
// backs everything: the allow-list registry, the audit trail, and the
// practice data queries execute against.
type TestDB struct {
	DB    *sql.DB
	Audit *auditpostgres.Store
}

// NewTestDB opens a connection, runs migrations, and wraps the handle
// with a direct audit store for assertions.
func NewTestDB(t *testing.T, dsn string) *TestDB {
	t.Helper()

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.Ping(); err != nil {
		t.Fatalf("pinging database: %v", err)
	}

	if err := migrate.Run(db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}

	return &TestDB{
		DB:    db,
		Audit: auditpostgres.New(db, auditpostgres.Config{}),
	}
}

// InsertAllowedTable registers a table in the allow-list registry.
func (d *TestDB) InsertAllowedTable(t *testing.T, schema, table string, tier int, active bool) {
	t.Helper()

	_, err := d.DB.Exec(
		`INSERT INTO allowed_tables (schema_name, table_name, trust_tier, active)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (schema_name, table_name)
		 DO UPDATE SET trust_tier = EXCLUDED.trust_tier, active = EXCLUDED.active`,
		schema, table, tier, active,
	)
	if err != nil {
		t.Fatalf("inserting allowed table %s.%s: %v", schema, table, err)
	}
}

// SeedEncounters creates the ih.encounters table query tests run against
// and registers it in the allow-list. Practices 10 and 20 hold the rows
// the analyst key may see; practice 30 holds a row it must not.
func (d *TestDB) SeedEncounters(t *testing.T) {
	t.Helper()

	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS ih`,
		`CREATE TABLE IF NOT EXISTS ih.encounters (
			id BIGSERIAL PRIMARY KEY,
			practice_uid BIGINT NOT NULL,
			measure TEXT NOT NULL,
			year INT NOT NULL
		)`,
		`TRUNCATE ih.encounters`,
		`INSERT INTO ih.encounters (practice_uid, measure, year) VALUES
			(10, 'hba1c_poor_control', 2024),
			(10, 'bp_control', 2025),
			(20, 'hba1c_poor_control', 2025),
			(30, 'statin_therapy', 2024)`,
	}
	for _, stmt := range stmts {
		if _, err := d.DB.Exec(stmt); err != nil {
			t.Fatalf("seeding encounters: %v", err)
		}
	}

	d.InsertAllowedTable(t, "ih", "encounters", 1, true)
}
