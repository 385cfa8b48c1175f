// Package trino adapts the Trino Go driver to the executor's Engine
// interface.
package trino

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/trinodb/trino-go-client/trino"

	"github.com/caremetrix/mcp-sql-gateway/pkg/query"
)

const (
	// defaultPlainPort is the default port when SSL is disabled.
	defaultPlainPort = 8080

	// defaultSSLPort is the default port when SSL is enabled.
	defaultSSLPort = 443

	// defaultSource identifies this gateway in Trino's query history.
	defaultSource = "mcp-sql-gateway"
)

// Config holds Trino connection settings.
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Catalog  string `yaml:"catalog"`
	Schema   string `yaml:"schema"`
	SSL      bool   `yaml:"ssl"`
	Source   string `yaml:"source"`
}

// Engine talks to a Trino cluster through database/sql.
type Engine struct {
	cfg Config
	db  *sql.DB
}

// New opens a Trino connection pool from cfg. The pool is lazy; use Ping
// to verify the cluster answers.
func New(cfg Config) (*Engine, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	cfg = applyDefaults(cfg)

	dsn, err := formatDSN(cfg)
	if err != nil {
		return nil, fmt.Errorf("building trino DSN: %w", err)
	}
	db, err := sql.Open("trino", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening trino connection: %w", err)
	}
	return &Engine{cfg: cfg, db: db}, nil
}

func validateConfig(cfg Config) error {
	if cfg.Host == "" {
		return fmt.Errorf("trino host is required")
	}
	if cfg.User == "" {
		return fmt.Errorf("trino user is required")
	}
	return nil
}

func applyDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		if cfg.SSL {
			cfg.Port = defaultSSLPort
		} else {
			cfg.Port = defaultPlainPort
		}
	}
	if cfg.Source == "" {
		cfg.Source = defaultSource
	}
	return cfg
}

// formatDSN renders cfg into the driver's DSN form.
func formatDSN(cfg Config) (string, error) {
	scheme := "http"
	if cfg.SSL {
		scheme = "https"
	}
	serverURL := url.URL{
		Scheme: scheme,
		User:   url.User(cfg.User),
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
	}
	if cfg.Password != "" {
		serverURL.User = url.UserPassword(cfg.User, cfg.Password)
	}

	driverCfg := trino.Config{
		ServerURI: serverURL.String(),
		Source:    cfg.Source,
		Catalog:   cfg.Catalog,
		Schema:    cfg.Schema,
	}
	return driverCfg.FormatDSN()
}

// QueryContext runs sqlText on the cluster.
func (e *Engine) QueryContext(ctx context.Context, sqlText string) (*sql.Rows, error) {
	return e.db.QueryContext(ctx, sqlText)
}

// Ping verifies the cluster answers. Callable independently of any query.
func (e *Engine) Ping(ctx context.Context) error {
	return e.db.PingContext(ctx)
}

// Name returns the engine name.
func (*Engine) Name() string {
	return "trino"
}

// Close releases the connection pool.
func (e *Engine) Close() error {
	return e.db.Close()
}

// Verify interface compliance.
var _ query.Engine = (*Engine)(nil)
