package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caremetrix/mcp-sql-gateway/pkg/audit"
)

type mockMetrics struct {
	timeseriesResult  []audit.TimeseriesBucket
	timeseriesErr     error
	lastTimeseries    audit.TimeseriesFilter
	breakdownResult   []audit.BreakdownEntry
	breakdownErr      error
	lastBreakdown     audit.BreakdownFilter
	overviewResult    *audit.Overview
	overviewErr       error
	performanceResult *audit.PerformanceStats
	performanceErr    error
}

func (m *mockMetrics) Timeseries(_ context.Context, filter audit.TimeseriesFilter) ([]audit.TimeseriesBucket, error) {
	m.lastTimeseries = filter
	return m.timeseriesResult, m.timeseriesErr
}

func (m *mockMetrics) Breakdown(_ context.Context, filter audit.BreakdownFilter) ([]audit.BreakdownEntry, error) {
	m.lastBreakdown = filter
	return m.breakdownResult, m.breakdownErr
}

func (m *mockMetrics) Overview(_ context.Context, _, _ *time.Time) (*audit.Overview, error) {
	return m.overviewResult, m.overviewErr
}

func (m *mockMetrics) Performance(_ context.Context, _, _ *time.Time) (*audit.PerformanceStats, error) {
	return m.performanceResult, m.performanceErr
}

var _ audit.MetricsProvider = (*mockMetrics)(nil)

func TestGetAuditTimeseries(t *testing.T) {
	t.Run("returns buckets", func(t *testing.T) {
		now := time.Now().Truncate(time.Hour)
		m := &mockMetrics{timeseriesResult: []audit.TimeseriesBucket{
			{Bucket: now, Count: 10, SuccessCount: 8, ErrorCount: 2, AvgDurationMS: 42.5},
		}}
		h := NewHandler(Deps{AuditMetrics: m}, nil)

		req := httptest.NewRequest(http.MethodGet,
			"/api/v1/admin/audit/metrics/timeseries?resolution=minute", http.NoBody)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var body []audit.TimeseriesBucket
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		require.Len(t, body, 1)
		assert.Equal(t, 10, body[0].Count)
		assert.Equal(t, audit.ResolutionMinute, m.lastTimeseries.Resolution)
	})

	t.Run("defaults to hourly buckets", func(t *testing.T) {
		m := &mockMetrics{timeseriesResult: []audit.TimeseriesBucket{}}
		h := NewHandler(Deps{AuditMetrics: m}, nil)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/audit/metrics/timeseries", http.NoBody)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, audit.ResolutionHour, m.lastTimeseries.Resolution)
	})

	t.Run("rejects an unknown resolution", func(t *testing.T) {
		h := NewHandler(Deps{AuditMetrics: &mockMetrics{}}, nil)

		req := httptest.NewRequest(http.MethodGet,
			"/api/v1/admin/audit/metrics/timeseries?resolution=fortnight", http.NoBody)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var body map[string]string
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Contains(t, body["error"], "invalid resolution")
	})

	t.Run("passes the time range through", func(t *testing.T) {
		m := &mockMetrics{timeseriesResult: []audit.TimeseriesBucket{}}
		h := NewHandler(Deps{AuditMetrics: m}, nil)

		req := httptest.NewRequest(http.MethodGet,
			"/api/v1/admin/audit/metrics/timeseries?resolution=day&start_time=2026-01-01T00:00:00Z&end_time=2026-01-02T00:00:00Z", http.NoBody)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		require.NotNil(t, m.lastTimeseries.StartTime)
		require.NotNil(t, m.lastTimeseries.EndTime)
		assert.Equal(t, 2026, m.lastTimeseries.StartTime.Year())
	})

	t.Run("returns 500 on store error", func(t *testing.T) {
		m := &mockMetrics{timeseriesErr: fmt.Errorf("db error")}
		h := NewHandler(Deps{AuditMetrics: m}, nil)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/audit/metrics/timeseries", http.NoBody)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestGetAuditBreakdown(t *testing.T) {
	t.Run("groups by a dimension", func(t *testing.T) {
		m := &mockMetrics{breakdownResult: []audit.BreakdownEntry{
			{Dimension: "scoped", Count: 80, SuccessRate: 0.98, AvgDurationMS: 40.1},
			{Dimension: "rejected", Count: 15, SuccessRate: 0, AvgDurationMS: 1.2},
		}}
		h := NewHandler(Deps{AuditMetrics: m}, nil)

		req := httptest.NewRequest(http.MethodGet,
			"/api/v1/admin/audit/metrics/breakdown?group_by=decision", http.NoBody)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, audit.BreakdownByDecision, m.lastBreakdown.GroupBy)
		var body []audit.BreakdownEntry
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		require.Len(t, body, 2)
		assert.Equal(t, "scoped", body[0].Dimension)
	})

	t.Run("rejects a missing dimension", func(t *testing.T) {
		h := NewHandler(Deps{AuditMetrics: &mockMetrics{}}, nil)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/audit/metrics/breakdown", http.NoBody)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects an unknown dimension", func(t *testing.T) {
		h := NewHandler(Deps{AuditMetrics: &mockMetrics{}}, nil)

		req := httptest.NewRequest(http.MethodGet,
			"/api/v1/admin/audit/metrics/breakdown?group_by=practice", http.NoBody)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var body map[string]string
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Contains(t, body["error"], "invalid group_by")
	})

	t.Run("passes the limit through", func(t *testing.T) {
		m := &mockMetrics{breakdownResult: []audit.BreakdownEntry{}}
		h := NewHandler(Deps{AuditMetrics: m}, nil)

		req := httptest.NewRequest(http.MethodGet,
			"/api/v1/admin/audit/metrics/breakdown?group_by=user_id&limit=5", http.NoBody)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 5, m.lastBreakdown.Limit)
	})

	t.Run("returns 500 on store error", func(t *testing.T) {
		m := &mockMetrics{breakdownErr: fmt.Errorf("db error")}
		h := NewHandler(Deps{AuditMetrics: m}, nil)

		req := httptest.NewRequest(http.MethodGet,
			"/api/v1/admin/audit/metrics/breakdown?group_by=action", http.NoBody)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestGetAuditOverview(t *testing.T) {
	t.Run("returns aggregate stats", func(t *testing.T) {
		m := &mockMetrics{overviewResult: &audit.Overview{
			TotalEvents:   200,
			SuccessRate:   0.9,
			AvgDurationMS: 35.5,
			UniqueUsers:   4,
			RejectedCount: 12,
			BypassedCount: 3,
			ErrorCount:    20,
		}}
		h := NewHandler(Deps{AuditMetrics: m}, nil)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/audit/metrics/overview", http.NoBody)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var body audit.Overview
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, 200, body.TotalEvents)
		assert.Equal(t, 12, body.RejectedCount)
		assert.Equal(t, 3, body.BypassedCount)
		assert.InDelta(t, 0.9, body.SuccessRate, 0.01)
	})

	t.Run("returns 500 on store error", func(t *testing.T) {
		m := &mockMetrics{overviewErr: fmt.Errorf("db error")}
		h := NewHandler(Deps{AuditMetrics: m}, nil)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/audit/metrics/overview", http.NoBody)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestGetAuditPerformance(t *testing.T) {
	t.Run("returns latency percentiles", func(t *testing.T) {
		m := &mockMetrics{performanceResult: &audit.PerformanceStats{
			P50MS: 25.0,
			P95MS: 100.0,
			P99MS: 250.0,
			AvgMS: 45.0,
			MaxMS: 500.0,
		}}
		h := NewHandler(Deps{AuditMetrics: m}, nil)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/audit/metrics/performance", http.NoBody)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var body audit.PerformanceStats
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.InDelta(t, 25.0, body.P50MS, 0.01)
		assert.InDelta(t, 250.0, body.P99MS, 0.01)
	})

	t.Run("returns 500 on store error", func(t *testing.T) {
		m := &mockMetrics{performanceErr: fmt.Errorf("db error")}
		h := NewHandler(Deps{AuditMetrics: m}, nil)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/audit/metrics/performance", http.NoBody)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}
