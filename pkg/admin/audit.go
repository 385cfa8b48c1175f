package admin

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/caremetrix/mcp-sql-gateway/pkg/audit"
)

// auditEventResponse wraps a paginated list of audit events.
type auditEventResponse struct {
	Data    []audit.Event `json:"data"`
	Total   int           `json:"total"`
	Page    int           `json:"page"`
	PerPage int           `json:"per_page"`
}

// auditStatsResponse holds aggregate audit statistics. Decisions counts
// how recorded events split across scoped, bypassed and rejected, so
// operators can watch the bypass rate directly.
type auditStatsResponse struct {
	Total     int            `json:"total"`
	Success   int            `json:"success"`
	Failures  int            `json:"failures"`
	Decisions map[string]int `json:"decisions"`
}

const (
	defaultAuditLimit = 50

	paramStartTime = "start_time"
	paramEndTime   = "end_time"
)

// listAuditEvents handles GET /api/v1/admin/audit/events.
//
// @Summary      List audit events
// @Description  Returns paginated audit events with optional filtering.
// @Tags         Audit
// @Produce      json
// @Param        user_id     query  string  false  "Filter by user ID"
// @Param        event_type  query  string  false  "Filter by event type: query, validation, security, admin"
// @Param        action      query  string  false  "Filter by action, e.g. execute_sql"
// @Param        decision    query  string  false  "Filter by decision: scoped, bypassed, rejected, passthrough"
// @Param        success     query  boolean false  "Filter by success/failure"
// @Param        start_time  query  string  false  "Events after this time (RFC 3339)"
// @Param        end_time    query  string  false  "Events before this time (RFC 3339)"
// @Param        page        query  integer false  "Page number, 1-based (default: 1)"
// @Param        per_page    query  integer false  "Results per page (default: 50)"
// @Success      200  {object}  auditEventResponse
// @Failure      500  {object}  map[string]string
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /audit/events [get]
func (h *Handler) listAuditEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.QueryFilter{
		UserID:    q.Get("user_id"),
		EventType: audit.EventType(q.Get("event_type")),
		Action:    q.Get("action"),
		Decision:  audit.Decision(q.Get("decision")),
		StartTime: parseTimeParam(q, paramStartTime),
		EndTime:   parseTimeParam(q, paramEndTime),
	}

	if v := q.Get("success"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			filter.Success = &b
		}
	}

	filter.Limit = parseLimit(q)
	if filter.Limit <= 0 {
		filter.Limit = defaultAuditLimit
	}
	effectiveLimit := filter.Limit
	filter.Offset = parsePageOffset(q, effectiveLimit)

	events, err := h.deps.AuditQuerier.Query(r.Context(), filter)
	if err != nil {
		auditQueryError(w, err, "failed to query audit events")
		return
	}

	// Count without limit/offset for total
	countFilter := filter
	countFilter.Limit = 0
	countFilter.Offset = 0
	total, err := h.deps.AuditQuerier.Count(r.Context(), countFilter)
	if err != nil {
		auditQueryError(w, err, "failed to count audit events")
		return
	}

	if events == nil {
		events = []audit.Event{}
	}

	page := filter.Offset/effectiveLimit + 1
	writeJSON(w, http.StatusOK, auditEventResponse{
		Data:    events,
		Total:   total,
		Page:    page,
		PerPage: effectiveLimit,
	})
}

// getAuditEvent handles GET /api/v1/admin/audit/events/{id}.
//
// @Summary      Get audit event
// @Description  Returns a single audit event by ID.
// @Tags         Audit
// @Produce      json
// @Param        id  path  string  true  "Audit event ID"
// @Success      200  {object}  audit.Event
// @Failure      404  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /audit/events/{id} [get]
func (h *Handler) getAuditEvent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue(pathParamID)
	filter := audit.QueryFilter{ID: id, Limit: 1}
	events, err := h.deps.AuditQuerier.Query(r.Context(), filter)
	if err != nil {
		auditQueryError(w, err, "failed to query audit event")
		return
	}
	if len(events) == 0 {
		writeError(w, http.StatusNotFound, "audit event not found")
		return
	}
	writeJSON(w, http.StatusOK, events[0])
}

// getAuditStats handles GET /api/v1/admin/audit/stats.
//
// @Summary      Get audit stats
// @Description  Returns aggregate counts for total, successful and failed events, plus a per-decision breakdown.
// @Tags         Audit
// @Produce      json
// @Param        user_id     query  string  false  "Filter by user ID"
// @Param        event_type  query  string  false  "Filter by event type"
// @Param        start_time  query  string  false  "Events after this time (RFC 3339)"
// @Param        end_time    query  string  false  "Events before this time (RFC 3339)"
// @Success      200  {object}  auditStatsResponse
// @Failure      500  {object}  map[string]string
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /audit/stats [get]
func (h *Handler) getAuditStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	baseFilter := audit.QueryFilter{
		UserID:    q.Get("user_id"),
		EventType: audit.EventType(q.Get("event_type")),
		StartTime: parseTimeParam(q, paramStartTime),
		EndTime:   parseTimeParam(q, paramEndTime),
	}

	total, err := h.deps.AuditQuerier.Count(r.Context(), baseFilter)
	if err != nil {
		auditQueryError(w, err, "failed to count audit events")
		return
	}

	successVal := true
	successFilter := baseFilter
	successFilter.Success = &successVal
	successCount, err := h.deps.AuditQuerier.Count(r.Context(), successFilter)
	if err != nil {
		auditQueryError(w, err, "failed to count successful events")
		return
	}

	decisions := make(map[string]int, 3)
	for _, d := range []audit.Decision{audit.DecisionScoped, audit.DecisionBypassed, audit.DecisionRejected} {
		decisionFilter := baseFilter
		decisionFilter.Decision = d
		n, err := h.deps.AuditQuerier.Count(r.Context(), decisionFilter)
		if err != nil {
			auditQueryError(w, err, "failed to count events by decision")
			return
		}
		decisions[string(d)] = n
	}

	writeJSON(w, http.StatusOK, auditStatsResponse{
		Total:     total,
		Success:   successCount,
		Failures:  total - successCount,
		Decisions: decisions,
	})
}

// auditQueryError maps an audit store failure to an HTTP response. Sinks
// without read support (the slog fallback) answer 501 so operators know
// to configure the database store.
func auditQueryError(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, audit.ErrQueryUnsupported) {
		writeError(w, http.StatusNotImplemented, "audit sink does not support queries")
		return
	}
	writeError(w, http.StatusInternalServerError, msg)
}
