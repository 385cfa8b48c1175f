package admin

import (
	"net/http"

	mcpserver "github.com/caremetrix/mcp-sql-gateway/internal/server"
)

// systemInfoResponse is returned by GET /system/info.
type systemInfoResponse struct {
	Name      string         `json:"name"`
	Version   string         `json:"version"`
	Commit    string         `json:"commit"`
	BuildDate string         `json:"build_date"`
	Engine    string         `json:"engine"`
	Transport string         `json:"transport"`
	State     string         `json:"state"`
	Features  systemFeatures `json:"features"`
}

// systemFeatures lists gateway features based on runtime availability.
type systemFeatures struct {
	Audit        bool `json:"audit"`
	AuditQueries bool `json:"audit_queries"`
	AuditMetrics bool `json:"audit_metrics"`
	Allowlist    bool `json:"allowlist"`
}

// getSystemInfo handles GET /api/v1/admin/system/info.
//
// @Summary      Get system info
// @Description  Returns gateway identity, version, engine, and runtime feature availability.
// @Tags         System
// @Produce      json
// @Success      200  {object}  systemInfoResponse
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /system/info [get]
func (h *Handler) getSystemInfo(w http.ResponseWriter, _ *http.Request) {
	resp := systemInfoResponse{
		Name:      h.deps.ServerName,
		Version:   mcpserver.Version,
		Commit:    mcpserver.Commit,
		BuildDate: mcpserver.Date,
		Engine:    h.deps.Engine,
		Transport: h.deps.Transport,
		Features: systemFeatures{
			Audit:        h.deps.AuditRecorder != nil,
			AuditQueries: h.deps.AuditQuerier != nil,
			AuditMetrics: h.deps.AuditMetrics != nil,
			Allowlist:    h.deps.Allowlist != nil,
		},
	}
	if h.deps.Health != nil {
		resp.State = h.deps.Health.State()
	}
	writeJSON(w, http.StatusOK, resp)
}
