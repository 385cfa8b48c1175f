package gateway

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // registers the postgres driver
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/caremetrix/mcp-sql-gateway/pkg/allowlist"
	allowlistpg "github.com/caremetrix/mcp-sql-gateway/pkg/allowlist/postgres"
	"github.com/caremetrix/mcp-sql-gateway/pkg/audit"
	auditpg "github.com/caremetrix/mcp-sql-gateway/pkg/audit/postgres"
	"github.com/caremetrix/mcp-sql-gateway/pkg/auth"
	"github.com/caremetrix/mcp-sql-gateway/pkg/database/migrate"
	"github.com/caremetrix/mcp-sql-gateway/pkg/guard"
	"github.com/caremetrix/mcp-sql-gateway/pkg/health"
	"github.com/caremetrix/mcp-sql-gateway/pkg/middleware"
	"github.com/caremetrix/mcp-sql-gateway/pkg/query"
	"github.com/caremetrix/mcp-sql-gateway/pkg/query/trino"
)

// Gateway wires configuration into the full query pipeline and exposes it
// over MCP. It owns every long-lived component: the registry database, the
// allow-list cache, the guard, the bounded executor, the audit sink, the
// authenticator chain, and the MCP server itself.
type Gateway struct {
	config *Config
	logger *slog.Logger

	db            *sql.DB
	cache         *allowlist.Cache
	guard         *guard.Guard
	engine        query.Engine
	executor      *query.Executor
	auditor       audit.Logger
	authenticator auth.Authenticator
	health        *health.Checker
	mcpServer     *mcp.Server
}

// New creates a gateway from the given options. The config option is
// required; every component option overrides the piece New would otherwise
// construct from config, which is how tests inject fakes.
func New(opts ...Option) (*Gateway, error) {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}

	if options.Config == nil {
		return nil, fmt.Errorf("config is required")
	}

	g := &Gateway{
		config: options.Config,
		logger: options.Logger,
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}

	if err := g.initComponents(options); err != nil {
		_ = g.Close()
		return nil, fmt.Errorf("initializing gateway: %w", err)
	}

	return g, nil
}

// initComponents builds the pipeline in dependency order: database first
// (registry and audit need it), then the audit sink (the guard needs it),
// then the guard and executor, then auth, then the MCP surface.
func (g *Gateway) initComponents(opts *Options) error {
	if err := g.initDatabase(opts); err != nil {
		return err
	}
	if err := g.initAudit(opts); err != nil {
		return err
	}
	if err := g.initPipeline(opts); err != nil {
		return err
	}
	if err := g.initAuth(opts); err != nil {
		return err
	}
	g.finalizeSetup()
	return nil
}

// initDatabase opens the gateway's own PostgreSQL database, which backs the
// table registry and the audit trail. The database is optional: a gateway
// running with a static allow-list and log-only audit never needs one.
func (g *Gateway) initDatabase(opts *Options) error {
	if opts.DB != nil {
		g.db = opts.DB
		return nil
	}
	if g.config.Database.DSN == "" {
		return nil
	}

	db, err := sql.Open("postgres", g.config.Database.DSN)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	if g.config.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(g.config.Database.MaxOpenConns)
	}

	if err := migrate.Run(db); err != nil {
		_ = db.Close()
		return fmt.Errorf("running migrations: %w", err)
	}

	g.db = db
	return nil
}

// initAudit selects the audit sink. There is always one: queries and
// security events go to PostgreSQL when audit is enabled and a database is
// configured, and to the structured log otherwise.
func (g *Gateway) initAudit(opts *Options) error {
	if opts.AuditLogger != nil {
		g.auditor = opts.AuditLogger
		return nil
	}

	if g.config.Audit.Enabled && g.db != nil {
		store := auditpg.New(g.db, auditpg.Config{
			RetentionDays: g.config.Audit.RetentionDays,
		})
		if interval := g.config.Audit.CleanupInterval; interval > 0 {
			store.StartCleanupRoutine(interval)
		}
		g.auditor = store
		return nil
	}

	g.auditor = audit.NewSlogLogger(g.logger)
	return nil
}

// initPipeline builds the allow-list cache, the guard around it, and the
// bounded executor around the query engine.
func (g *Gateway) initPipeline(opts *Options) error {
	registry := opts.Registry
	if registry == nil {
		var err error
		if registry, err = g.createRegistry(); err != nil {
			return err
		}
	}

	g.cache = allowlist.New(registry, allowlist.Config{TTL: g.config.Allowlist.TTL}, g.logger)
	recorder := audit.NewGuardRecorder(g.auditor, g.logger)
	g.guard = guard.New(g.cache, recorder, g.logger)

	engine := opts.Engine
	if engine == nil {
		var err error
		if engine, err = trino.New(g.config.Engine.Trino); err != nil {
			return fmt.Errorf("creating trino engine: %w", err)
		}
	}
	g.engine = engine

	g.executor = query.New(engine, g.guard, query.Config{
		DefaultRowLimit: g.config.Engine.DefaultRowLimit,
		MaxRowLimit:     g.config.Engine.MaxRowLimit,
		Timeout:         g.config.Engine.QueryTimeout,
		MaxTimeout:      g.config.Engine.MaxTimeout,
		PingTimeout:     g.config.Engine.PingTimeout,
	}, g.logger)
	return nil
}

// createRegistry builds the table registry named by config.
func (g *Gateway) createRegistry() (allowlist.Registry, error) {
	switch g.config.Allowlist.Provider {
	case "static":
		tables := make([]allowlist.Table, 0, len(g.config.Allowlist.Tables))
		for _, t := range g.config.Allowlist.Tables {
			tables = append(tables, allowlist.Table{
				Schema: t.Schema,
				Name:   t.Table,
				Active: true,
				Tier:   t.Tier,
			})
		}
		return allowlist.StaticRegistry{Tables: tables}, nil
	case "postgres", "":
		if g.db == nil {
			return nil, fmt.Errorf("allowlist provider %q requires database.dsn", "postgres")
		}
		return allowlistpg.New(g.db), nil
	default:
		return nil, fmt.Errorf("unknown allowlist provider %q", g.config.Allowlist.Provider)
	}
}

// initAuth builds the authenticator chain from config. Order matters:
// bearer tokens are tried before API keys, and the anonymous fallback, when
// permitted, accepts whatever is left.
func (g *Gateway) initAuth(opts *Options) error {
	if opts.Authenticator != nil {
		g.authenticator = opts.Authenticator
		return nil
	}

	var authenticators []auth.Authenticator

	if g.config.Auth.JWT.Enabled {
		tokenAuth, err := auth.NewTokenAuthenticator(auth.TokenConfig{
			Issuer:     g.config.Auth.JWT.Issuer,
			SigningKey: []byte(g.config.Auth.JWT.SigningKey),
			Audience:   g.config.Auth.JWT.Audience,
			Extractor:  g.claimsExtractor(),
		})
		if err != nil {
			return fmt.Errorf("creating token authenticator: %w", err)
		}
		authenticators = append(authenticators, tokenAuth)
	}

	if g.config.Auth.APIKeys.Enabled {
		keys := AuthKeys(g.config.Auth.APIKeys.Keys)
		authenticators = append(authenticators, auth.NewKeyAuthenticator(auth.KeyConfig{Keys: keys}))
	}

	if g.config.Auth.AllowAnonymous {
		// Anonymous principals carry no practice scope, so they can
		// validate queries but never execute them.
		authenticators = append(authenticators, &auth.AnonymousAuthenticator{})
	}

	if len(authenticators) == 0 {
		return fmt.Errorf("no authentication configured")
	}

	g.authenticator = auth.NewChain(authenticators...)
	return nil
}

// claimsExtractor maps the configured claim paths onto the default layout.
func (g *Gateway) claimsExtractor() *auth.ClaimsExtractor {
	extractor := auth.DefaultClaimsExtractor()
	if g.config.Auth.JWT.RoleClaimPath != "" {
		extractor.RolesClaimPath = g.config.Auth.JWT.RoleClaimPath
	}
	extractor.RolePrefix = g.config.Auth.JWT.RolePrefix
	if g.config.Tenant.PracticeIDsClaimPath != "" {
		extractor.PracticeIDsClaimPath = g.config.Tenant.PracticeIDsClaimPath
	}
	if g.config.Tenant.CapabilitiesClaimPath != "" {
		extractor.CapabilitiesClaimPath = g.config.Tenant.CapabilitiesClaimPath
	}
	if g.config.Tenant.SuperAdminRole != "" {
		extractor.SuperAdminRole = g.config.Tenant.SuperAdminRole
	}
	return extractor
}

// finalizeSetup builds the health checker and the MCP server with its
// middleware, tools, and resources.
func (g *Gateway) finalizeSetup() {
	g.health = health.NewChecker(g.healthProbes()...)

	server := mcp.NewServer(&mcp.Implementation{
		Name:    g.config.Server.Name,
		Version: g.config.Server.Version,
	}, nil)

	// Middleware nests inside out: the last middleware added runs first.
	// Audit is added before auth so that auth is outermost and the request
	// context it creates is visible to both audit and the tool handlers.
	if g.config.Audit.Enabled {
		server.AddReceivingMiddleware(middleware.MCPAuditMiddleware(g.auditor, g.logger))
	}
	server.AddReceivingMiddleware(middleware.MCPAuthMiddleware(g.authenticator, g.logger))

	g.registerTools(server)
	g.registerResources(server)

	g.mcpServer = server
}

// healthProbes lists the dependency checks behind the readiness endpoint.
func (g *Gateway) healthProbes() []health.Probe {
	probes := []health.Probe{
		{Name: "engine", Check: func(ctx context.Context) error { return g.engine.Ping(ctx) }},
	}
	if g.db != nil {
		probes = append(probes, health.Probe{Name: "database", Check: g.db.PingContext})
	}
	return probes
}

// Start warms the allow-list cache and marks the gateway ready. A cold
// registry is not fatal: the cache retries on each request, and queries
// fail closed while the snapshot is empty.
func (g *Gateway) Start(ctx context.Context) error {
	if keys := g.cache.AllowedTables(ctx, true); len(keys) == 0 {
		g.logger.Warn("allow-list warmup produced no tables, queries will be rejected until the registry loads")
	}
	g.health.SetReady()
	g.logger.Info("gateway ready",
		"name", g.config.Server.Name,
		"version", g.config.Server.Version,
		"engine", g.engine.Name())
	return nil
}

// Stop marks the gateway draining so load balancers stop routing to it.
// Transport shutdown is the caller's job; Stop only flips readiness.
func (g *Gateway) Stop(_ context.Context) error {
	g.health.SetDraining()
	g.logger.Info("gateway draining")
	return nil
}

// Closer is implemented by components that hold external resources.
type Closer interface {
	Close() error
}

// closeResource closes a resource and collects any error.
func closeResource(errs *[]error, closer Closer) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		*errs = append(*errs, err)
	}
}

// Close releases every resource the gateway owns. Safe to call on a
// partially initialized gateway.
func (g *Gateway) Close() error {
	var errs []error

	closeResource(&errs, g.auditor)
	closeResource(&errs, g.engine)
	if g.db != nil {
		closeResource(&errs, g.db)
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing gateway: %v", errs)
	}
	return nil
}

// MCPServer returns the configured MCP server for transport hookup.
func (g *Gateway) MCPServer() *mcp.Server {
	return g.mcpServer
}

// Config returns the gateway configuration.
func (g *Gateway) Config() *Config {
	return g.config
}

// Health returns the readiness checker.
func (g *Gateway) Health() *health.Checker {
	return g.health
}

// Executor returns the bounded query executor.
func (g *Gateway) Executor() *query.Executor {
	return g.executor
}

// Engine returns the query engine.
func (g *Gateway) Engine() query.Engine {
	return g.engine
}

// Guard returns the validation and scoping pipeline.
func (g *Gateway) Guard() *guard.Guard {
	return g.guard
}

// Allowlist returns the allow-list cache.
func (g *Gateway) Allowlist() *allowlist.Cache {
	return g.cache
}

// AuditLogger returns the active audit sink.
func (g *Gateway) AuditLogger() audit.Logger {
	return g.auditor
}

// AuditMetrics returns the aggregation surface of the audit sink, or nil
// when the sink cannot aggregate (the slog fallback).
func (g *Gateway) AuditMetrics() audit.MetricsProvider {
	if m, ok := g.auditor.(audit.MetricsProvider); ok {
		return m
	}
	return nil
}

// Authenticator returns the authenticator chain.
func (g *Gateway) Authenticator() auth.Authenticator {
	return g.authenticator
}
