// Package server builds a runnable gateway from a configuration file.
// Build metadata lives here so the CLI and the admin API report the
// same values.
package server

import (
	"log/slog"

	"github.com/caremetrix/mcp-sql-gateway/pkg/gateway"
)

// Build information. Populated at build time via -ldflags.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// New loads and validates the configuration at path and assembles a
// gateway from it. The binary version fills in when the config does not
// pin one.
func New(path string, logger *slog.Logger) (*gateway.Gateway, error) {
	cfg, err := gateway.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if cfg.Server.Version == "" {
		cfg.Server.Version = Version
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return gateway.New(gateway.WithConfig(cfg), gateway.WithLogger(logger))
}
