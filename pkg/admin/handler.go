// Package admin provides REST API endpoints for operating the gateway:
// audit trail inspection, allow-list control and health probes.
package admin

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/caremetrix/mcp-sql-gateway/pkg/allowlist"
	"github.com/caremetrix/mcp-sql-gateway/pkg/audit"
	"github.com/caremetrix/mcp-sql-gateway/pkg/health"
)

const pathParamID = "id"

// AuditQuerier reads events back from the audit store.
type AuditQuerier interface {
	Query(ctx context.Context, filter audit.QueryFilter) ([]audit.Event, error)
	Count(ctx context.Context, filter audit.QueryFilter) (int, error)
}

// AuditRecorder records admin actions into the audit trail.
type AuditRecorder interface {
	Log(ctx context.Context, event audit.Event) error
}

// Deps holds the gateway components the admin API operates on. Nil fields
// disable the endpoints that need them.
type Deps struct {
	ServerName    string
	Engine        string
	Transport     string
	AuditQuerier  AuditQuerier
	AuditRecorder AuditRecorder
	AuditMetrics  audit.MetricsProvider
	Allowlist     *allowlist.Cache
	Health        *health.Checker
	MCPServer     *mcp.Server
	Logger        *slog.Logger
}

// Handler provides admin REST API endpoints.
type Handler struct {
	mux        *http.ServeMux
	deps       Deps
	authMiddle func(http.Handler) http.Handler
}

// NewHandler creates a new admin API handler. Health probes stay outside
// authMiddle so orchestrators can reach them without credentials.
func NewHandler(deps Deps, authMiddle func(http.Handler) http.Handler) *Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	h := &Handler{
		mux:        http.NewServeMux(),
		deps:       deps,
		authMiddle: authMiddle,
	}
	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// registerRoutes registers all admin API routes.
func (h *Handler) registerRoutes() {
	if h.deps.Health != nil {
		h.mux.HandleFunc("GET /healthz", h.deps.Health.LivenessHandler())
		h.mux.HandleFunc("GET /readyz", h.deps.Health.ReadinessHandler())
	}

	api := http.NewServeMux()
	if h.deps.AuditQuerier != nil {
		api.HandleFunc("GET /api/v1/admin/audit/events", h.listAuditEvents)
		api.HandleFunc("GET /api/v1/admin/audit/events/{id}", h.getAuditEvent)
		api.HandleFunc("GET /api/v1/admin/audit/stats", h.getAuditStats)
	}
	if h.deps.AuditMetrics != nil {
		api.HandleFunc("GET /api/v1/admin/audit/metrics/timeseries", h.getAuditTimeseries)
		api.HandleFunc("GET /api/v1/admin/audit/metrics/breakdown", h.getAuditBreakdown)
		api.HandleFunc("GET /api/v1/admin/audit/metrics/overview", h.getAuditOverview)
		api.HandleFunc("GET /api/v1/admin/audit/metrics/performance", h.getAuditPerformance)
	}
	if h.deps.Allowlist != nil {
		api.HandleFunc("GET /api/v1/admin/allowlist", h.getAllowlist)
		api.HandleFunc("POST /api/v1/admin/allowlist/invalidate", h.invalidateAllowlist)
	}
	api.HandleFunc("GET /api/v1/admin/tools", h.listToolSchemas)
	api.HandleFunc("GET /api/v1/admin/system/info", h.getSystemInfo)

	var protected http.Handler = api
	if h.authMiddle != nil {
		protected = h.authMiddle(api)
	}
	h.mux.Handle("/api/", protected)
}

// statusResponse reports the outcome of a state-changing operation.
type statusResponse struct {
	Status string `json:"status"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseTimeParam parses an RFC3339 time from a query parameter.
func parseTimeParam(q url.Values, key string) *time.Time {
	v := q.Get(key)
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil
	}
	return &t
}

// parsePageOffset parses the page query parameter and computes offset using the given effective limit.
func parsePageOffset(q url.Values, effectiveLimit int) int {
	if v := q.Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return (n - 1) * effectiveLimit
		}
	}
	return 0
}

// parseLimit parses the per_page query parameter into a limit value.
func parseLimit(q url.Values) int {
	if v := q.Get("per_page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}
