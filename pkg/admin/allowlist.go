package admin

import (
	"net/http"
	"strconv"
	"time"

	"github.com/caremetrix/mcp-sql-gateway/pkg/allowlist"
	"github.com/caremetrix/mcp-sql-gateway/pkg/audit"
	"github.com/caremetrix/mcp-sql-gateway/pkg/auth"
)

// allowlistResponse describes the current allow-list snapshot.
type allowlistResponse struct {
	Tables     []allowlist.Table `json:"tables"`
	KeyCount   int               `json:"key_count"`
	CapturedAt time.Time         `json:"captured_at"`
	Stale      bool              `json:"stale"`
	MaxTier    *int              `json:"max_tier,omitempty"`
}

// getAllowlist handles GET /api/v1/admin/allowlist.
//
// @Summary      Get allow-list snapshot
// @Description  Returns the tables queries may reference, with snapshot age and staleness.
// @Tags         Allowlist
// @Produce      json
// @Param        max_tier  query  integer  false  "Only include tables at or below this tier"
// @Success      200  {object}  allowlistResponse
// @Failure      400  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /allowlist [get]
func (h *Handler) getAllowlist(w http.ResponseWriter, r *http.Request) {
	maxTier := 0
	if v := r.URL.Query().Get("max_tier"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "max_tier must be a positive integer")
			return
		}
		maxTier = n
	}

	// Trigger a load so a freshly started gateway answers with data.
	h.deps.Allowlist.AllowedTables(r.Context(), false)

	info := h.deps.Allowlist.SnapshotInfo()
	if info == nil {
		writeError(w, http.StatusServiceUnavailable, "allow-list has never loaded")
		return
	}

	resp := allowlistResponse{
		Tables:     info.Tables,
		KeyCount:   info.KeyCount,
		CapturedAt: info.CapturedAt,
		Stale:      info.Stale,
	}
	if maxTier > 0 {
		filtered := make([]allowlist.Table, 0, len(info.Tables))
		for _, t := range info.Tables {
			if t.Tier <= maxTier {
				filtered = append(filtered, t)
			}
		}
		resp.Tables = filtered
		resp.KeyCount = len(filtered)
		resp.MaxTier = &maxTier
	}

	writeJSON(w, http.StatusOK, resp)
}

// invalidateAllowlist handles POST /api/v1/admin/allowlist/invalidate.
//
// @Summary      Invalidate the allow-list cache
// @Description  Discards the cached snapshot so the next query reloads from the registry. The action is recorded in the audit trail.
// @Tags         Allowlist
// @Produce      json
// @Success      200  {object}  statusResponse
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /allowlist/invalidate [post]
func (h *Handler) invalidateAllowlist(w http.ResponseWriter, r *http.Request) {
	h.deps.Allowlist.Invalidate()

	if h.deps.AuditRecorder != nil {
		event := audit.NewEvent(audit.EventTypeAdmin, "allowlist_invalidate").
			WithDecision(audit.DecisionPassthrough).
			WithResult(true, "", 0)
		if p := auth.PrincipalFromContext(r.Context()); p != nil {
			event.WithUser(p.ID, p.Email)
		}
		if err := h.deps.AuditRecorder.Log(r.Context(), *event); err != nil {
			h.deps.Logger.Warn("failed to record admin action", "action", "allowlist_invalidate", "error", err)
		}
	}

	writeJSON(w, http.StatusOK, statusResponse{Status: "invalidated"})
}
