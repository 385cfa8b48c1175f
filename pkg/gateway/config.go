// Package gateway assembles the SQL security gateway: configuration,
// component construction, and the MCP tool and resource surface.
package gateway

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/caremetrix/mcp-sql-gateway/pkg/auth"
	"github.com/caremetrix/mcp-sql-gateway/pkg/query/trino"
)

// Config holds the complete gateway configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Database  DatabaseConfig  `yaml:"database"`
	Engine    EngineConfig    `yaml:"engine"`
	Allowlist AllowlistConfig `yaml:"allowlist"`
	Tenant    TenantConfig    `yaml:"tenant"`
	Audit     AuditConfig     `yaml:"audit"`
	Admin     AdminConfig     `yaml:"admin"`
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	Name      string `yaml:"name"`
	Version   string `yaml:"version"`
	Transport string `yaml:"transport"` // "stdio", "http"
	Address   string `yaml:"address"`
}

// AuthConfig configures authentication.
type AuthConfig struct {
	JWT            JWTAuthConfig    `yaml:"jwt"`
	APIKeys        APIKeyAuthConfig `yaml:"api_keys"`
	AllowAnonymous bool             `yaml:"allow_anonymous"` // default: false
}

// JWTAuthConfig configures bearer-token authentication against the
// identity service.
type JWTAuthConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Issuer        string `yaml:"issuer"`
	SigningKey    string `yaml:"signing_key"` // HMAC key, usually ${VAR}
	Audience      string `yaml:"audience"`
	RoleClaimPath string `yaml:"role_claim_path"`
	RolePrefix    string `yaml:"role_prefix"`
}

// APIKeyAuthConfig configures API key authentication.
type APIKeyAuthConfig struct {
	Enabled bool        `yaml:"enabled"`
	Keys    []APIKeyDef `yaml:"keys"`
}

// APIKeyDef defines an API key. Set exactly one of Key (plain value) or
// Hash (bcrypt). Keys carry their own tenant scope so service accounts
// get the same scoping treatment as interactive users.
type APIKeyDef struct {
	Key          string   `yaml:"key"`
	Hash         string   `yaml:"hash"`
	Name         string   `yaml:"name"`
	Roles        []string `yaml:"roles"`
	PracticeIDs  []int64  `yaml:"practice_ids"`
	Capabilities []string `yaml:"capabilities"`
	SuperAdmin   bool     `yaml:"super_admin"`
}

// DatabaseConfig configures the gateway's PostgreSQL connection, used for
// the allow-list registry and the audit store.
type DatabaseConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// EngineConfig configures the query engine and execution bounds.
type EngineConfig struct {
	Trino           trino.Config  `yaml:"trino"`
	DefaultRowLimit int           `yaml:"default_row_limit"`
	MaxRowLimit     int           `yaml:"max_row_limit"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
	MaxTimeout      time.Duration `yaml:"max_timeout"`
	PingTimeout     time.Duration `yaml:"ping_timeout"`
}

// AllowlistConfig configures the table allow-list cache.
type AllowlistConfig struct {
	Provider string           `yaml:"provider"` // "postgres", "static"
	TTL      time.Duration    `yaml:"ttl"`
	Tables   []StaticTableDef `yaml:"tables"` // static provider only
}

// StaticTableDef defines one entry for the static allow-list provider.
type StaticTableDef struct {
	Schema string `yaml:"schema"`
	Table  string `yaml:"table"`
	Tier   int    `yaml:"tier"`
}

// TenantConfig controls where tenant scope comes from in token claims.
// The bypass capability itself is fixed: holders of unrestricted_execute
// and super admins skip scoping, and every such query is recorded.
type TenantConfig struct {
	PracticeIDsClaimPath  string `yaml:"practice_ids_claim_path"`
	CapabilitiesClaimPath string `yaml:"capabilities_claim_path"`
	SuperAdminRole        string `yaml:"super_admin_role"`
}

// AuditConfig configures audit logging.
type AuditConfig struct {
	Enabled         bool          `yaml:"enabled"`
	RetentionDays   int           `yaml:"retention_days"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// AdminConfig configures the admin HTTP API.
type AdminConfig struct {
	Enabled bool        `yaml:"enabled"`
	Address string      `yaml:"address"`
	Keys    []APIKeyDef `yaml:"keys"`
}

// AuthKeys converts key definitions into authenticator credentials.
func AuthKeys(defs []APIKeyDef) []auth.Key {
	keys := make([]auth.Key, 0, len(defs))
	for _, d := range defs {
		keys = append(keys, auth.Key{
			Key:          d.Key,
			Hash:         d.Hash,
			Name:         d.Name,
			Roles:        d.Roles,
			PracticeIDs:  d.PracticeIDs,
			Capabilities: d.Capabilities,
			SuperAdmin:   d.SuperAdmin,
		})
	}
	return keys
}

// LoadConfig loads configuration from a file.
// The path is expected to come from command line arguments, controlled by the administrator.
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 -- path is from CLI args, controlled by admin
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(expandEnvVars(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Apply defaults
	applyDefaults(&cfg)

	return &cfg, nil
}

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// applyDefaults applies default values to the config.
func applyDefaults(cfg *Config) {
	if cfg.Server.Name == "" {
		cfg.Server.Name = "mcp-sql-gateway"
	}
	if cfg.Server.Version == "" {
		cfg.Server.Version = "1.0.0"
	}
	if cfg.Server.Transport == "" {
		cfg.Server.Transport = "stdio"
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Allowlist.Provider == "" {
		cfg.Allowlist.Provider = "postgres"
	}
	if cfg.Allowlist.TTL == 0 {
		cfg.Allowlist.TTL = 5 * time.Minute
	}
	if cfg.Tenant.PracticeIDsClaimPath == "" {
		cfg.Tenant.PracticeIDsClaimPath = "practice_ids"
	}
	if cfg.Tenant.CapabilitiesClaimPath == "" {
		cfg.Tenant.CapabilitiesClaimPath = "capabilities"
	}
	if cfg.Tenant.SuperAdminRole == "" {
		cfg.Tenant.SuperAdminRole = "super_admin"
	}
	if cfg.Audit.RetentionDays == 0 {
		cfg.Audit.RetentionDays = 90
	}
	if cfg.Audit.CleanupInterval == 0 {
		cfg.Audit.CleanupInterval = time.Hour
	}
	if cfg.Admin.Address == "" {
		cfg.Admin.Address = ":9090"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Transport != "stdio" && c.Server.Transport != "http" {
		errs = append(errs, fmt.Sprintf("server.transport must be stdio or http, got %q", c.Server.Transport))
	}

	if c.Auth.JWT.Enabled {
		if c.Auth.JWT.Issuer == "" {
			errs = append(errs, "auth.jwt.issuer is required when JWT auth is enabled")
		}
		if c.Auth.JWT.SigningKey == "" {
			errs = append(errs, "auth.jwt.signing_key is required when JWT auth is enabled")
		}
	}

	if c.Auth.APIKeys.Enabled {
		if len(c.Auth.APIKeys.Keys) == 0 {
			errs = append(errs, "auth.api_keys.keys is required when API key auth is enabled")
		}
		for i, k := range c.Auth.APIKeys.Keys {
			if k.Name == "" {
				errs = append(errs, fmt.Sprintf("auth.api_keys.keys[%d].name is required", i))
			}
			if k.Key == "" && k.Hash == "" {
				errs = append(errs, fmt.Sprintf("auth.api_keys.keys[%d] needs key or hash", i))
			}
		}
	}

	if !c.Auth.JWT.Enabled && !c.Auth.APIKeys.Enabled && !c.Auth.AllowAnonymous {
		errs = append(errs, "no authentication configured; enable auth.jwt, auth.api_keys, or auth.allow_anonymous")
	}

	if c.Engine.Trino.Host == "" {
		errs = append(errs, "engine.trino.host is required")
	}

	switch c.Allowlist.Provider {
	case "postgres":
		if c.Database.DSN == "" {
			errs = append(errs, "database.dsn is required for the postgres allowlist provider")
		}
	case "static":
		if len(c.Allowlist.Tables) == 0 {
			errs = append(errs, "allowlist.tables is required for the static allowlist provider")
		}
	default:
		errs = append(errs, fmt.Sprintf("allowlist.provider must be postgres or static, got %q", c.Allowlist.Provider))
	}

	if c.Admin.Enabled && len(c.Admin.Keys) == 0 {
		errs = append(errs, "admin.keys is required when the admin API is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
