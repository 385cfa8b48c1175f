// Package main provides the entry point for the mcp-sql-gateway server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	mcpserver "github.com/caremetrix/mcp-sql-gateway/internal/server"
	"github.com/caremetrix/mcp-sql-gateway/pkg/admin"
	"github.com/caremetrix/mcp-sql-gateway/pkg/gateway"
	gatewayhttp "github.com/caremetrix/mcp-sql-gateway/pkg/http"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type serverOptions struct {
	configPath  string
	transport   string
	address     string
	logLevel    string
	showVersion bool
}

func parseFlags() serverOptions {
	opts := serverOptions{}
	flag.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	flag.StringVar(&opts.transport, "transport", "", "Transport type: stdio, http (overrides config)")
	flag.StringVar(&opts.address, "address", "", "Listen address for the http transport (overrides config)")
	flag.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.BoolVar(&opts.showVersion, "version", false, "Show version and exit")
	flag.Parse()
	return opts
}

func run() error {
	opts := parseFlags()

	if opts.showVersion {
		fmt.Printf("mcp-sql-gateway version %s (commit %s, built %s)\n",
			mcpserver.Version, mcpserver.Commit, mcpserver.Date)
		return nil
	}

	if opts.configPath == "" {
		return errors.New("the -config flag is required")
	}

	// Logs go to stderr: on the stdio transport, stdout is the protocol
	// channel.
	logger := newLogger(opts.logLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, err := mcpserver.New(opts.configPath, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	defer func() {
		if err := g.Close(); err != nil {
			logger.Error("shutdown cleanup failed", "error", err)
		}
	}()

	applyFlagOverrides(g.Config(), opts)

	if err := g.Start(ctx); err != nil {
		return fmt.Errorf("starting gateway: %w", err)
	}

	adminServer := startAdminServer(g, logger)
	defer stopAdminServer(adminServer, logger)

	err = serveMCP(ctx, g, logger)
	_ = g.Stop(context.Background())
	return err
}

// newLogger builds the process logger. Level parsing is forgiving;
// anything unrecognized means info.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// applyFlagOverrides lets explicit CLI flags win over the config file.
func applyFlagOverrides(cfg *gateway.Config, opts serverOptions) {
	if opts.transport != "" {
		cfg.Server.Transport = opts.transport
	}
	if opts.address != "" {
		cfg.Server.Address = opts.address
	}
}

// serveMCP serves the MCP protocol on the configured transport until the
// context is canceled.
func serveMCP(ctx context.Context, g *gateway.Gateway, logger *slog.Logger) error {
	cfg := g.Config()
	switch cfg.Server.Transport {
	case "stdio":
		logger.Info("serving on stdio")
		return g.MCPServer().Run(ctx, &mcp.StdioTransport{})
	case "http":
		return serveHTTP(ctx, g, logger)
	default:
		return fmt.Errorf("unknown transport: %s", cfg.Server.Transport)
	}
}

// serveHTTP serves the streamable HTTP transport. Credentials from the
// HTTP headers travel into the request context so the MCP middleware can
// authenticate each tool call.
func serveHTTP(ctx context.Context, g *gateway.Gateway, logger *slog.Logger) error {
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return g.MCPServer()
	}, nil)

	var wrapped http.Handler
	if g.Config().Auth.AllowAnonymous {
		wrapped = gatewayhttp.OptionalAuth()(handler)
	} else {
		wrapped = gatewayhttp.RequireAuth()(handler)
	}

	srv := &http.Server{
		Addr:              g.Config().Server.Address,
		Handler:           wrapped,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving streamable HTTP", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down http server: %w", err)
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}

// startAdminServer serves the admin API and health probes on a separate
// listener, or returns nil when the admin API is disabled.
func startAdminServer(g *gateway.Gateway, logger *slog.Logger) *http.Server {
	cfg := g.Config()
	if !cfg.Admin.Enabled {
		return nil
	}

	authn := admin.NewKeyAuthenticator(gateway.AuthKeys(cfg.Admin.Keys))
	handler := admin.NewHandler(admin.Deps{
		ServerName:    cfg.Server.Name,
		Engine:        g.Engine().Name(),
		Transport:     cfg.Server.Transport,
		AuditQuerier:  g.AuditLogger(),
		AuditRecorder: g.AuditLogger(),
		AuditMetrics:  g.AuditMetrics(),
		Allowlist:     g.Allowlist(),
		Health:        g.Health(),
		MCPServer:     g.MCPServer(),
		Logger:        logger,
	}, admin.RequireAdmin(authn))

	srv := &http.Server{
		Addr:              cfg.Admin.Address,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("serving admin API", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("admin server failed", "error", err)
		}
	}()

	return srv
}

func stopAdminServer(srv *http.Server, logger *slog.Logger) {
	if srv == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin server shutdown failed", "error", err)
	}
}
