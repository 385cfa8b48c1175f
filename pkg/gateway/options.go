package gateway

import (
	"database/sql"
	"log/slog"

	"github.com/caremetrix/mcp-sql-gateway/pkg/allowlist"
	"github.com/caremetrix/mcp-sql-gateway/pkg/audit"
	"github.com/caremetrix/mcp-sql-gateway/pkg/auth"
	"github.com/caremetrix/mcp-sql-gateway/pkg/query"
)

// Options configures the gateway.
type Options struct {
	// Config is the gateway configuration.
	Config *Config

	// Logger (optional, defaults to slog.Default).
	Logger *slog.Logger

	// DB is the registry/audit database (optional, opened from config if
	// not provided).
	DB *sql.DB

	// Registry is the allow-list source (optional, built from config if
	// not provided).
	Registry allowlist.Registry

	// Engine is the query engine (optional, built from config if not
	// provided).
	Engine query.Engine

	// Authenticator (optional, built from config if not provided).
	Authenticator auth.Authenticator

	// AuditLogger (optional, built from config if not provided).
	AuditLogger audit.Logger
}

// Option is a functional option for configuring the gateway.
type Option func(*Options)

// WithConfig sets the configuration.
func WithConfig(cfg *Config) Option {
	return func(o *Options) {
		o.Config = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithDB sets the database connection.
func WithDB(db *sql.DB) Option {
	return func(o *Options) {
		o.DB = db
	}
}

// WithRegistry sets the allow-list registry.
func WithRegistry(registry allowlist.Registry) Option {
	return func(o *Options) {
		o.Registry = registry
	}
}

// WithEngine sets the query engine.
func WithEngine(engine query.Engine) Option {
	return func(o *Options) {
		o.Engine = engine
	}
}

// WithAuthenticator sets the authenticator.
func WithAuthenticator(authenticator auth.Authenticator) Option {
	return func(o *Options) {
		o.Authenticator = authenticator
	}
}

// WithAuditLogger sets the audit logger.
func WithAuditLogger(logger audit.Logger) Option {
	return func(o *Options) {
		o.AuditLogger = logger
	}
}
