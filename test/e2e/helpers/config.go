//go:build integration

// Package helpers provides shared fixtures for gateway E2E tests: the
// PostgreSQL container, seeded practice data, a gateway wired the way
// main.go wires it, and typed clients for the MCP and admin surfaces.
package helpers

import (
	"os"
	"time"
)

// API keys the e2e gateway is configured with. AnalystAPIKey is scoped
// to practices 10 and 20, SuperAPIKey bypasses tenant scoping entirely,
// and OpsAPIKey authenticates against the admin API only.
const (
	AnalystAPIKey = "e2e-analyst-key-secret-value"
	SuperAPIKey   = "e2e-super-key-secret-value"
	OpsAPIKey     = "e2e-ops-key-secret-value"
)

// Practices the seeded encounter rows belong to. The analyst key is
// granted A and B; Other exists to prove scoping holds.
const (
	PracticeA     int64 = 10
	PracticeB     int64 = 20
	PracticeOther int64 = 30
)

// E2EConfig holds configuration for E2E tests.
type E2EConfig struct {
	Timeout time.Duration
}

// DefaultE2EConfig returns E2E configuration from environment variables with defaults.
func DefaultE2EConfig() *E2EConfig {
	return &E2EConfig{
		Timeout: getEnvDuration("E2E_TIMEOUT", 30*time.Second),
	}
}

// getEnvDuration returns the environment variable as a duration or a default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
