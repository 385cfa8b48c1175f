package audit

import (
	"context"
	"time"
)

// Resolution defines the time bucketing granularity for timeseries queries.
type Resolution string

const (
	// ResolutionMinute buckets by minute.
	ResolutionMinute Resolution = "minute"

	// ResolutionHour buckets by hour.
	ResolutionHour Resolution = "hour"

	// ResolutionDay buckets by day.
	ResolutionDay Resolution = "day"
)

// ValidResolutions is the set of allowed resolution values.
var ValidResolutions = map[Resolution]bool{
	ResolutionMinute: true,
	ResolutionHour:   true,
	ResolutionDay:    true,
}

// TimeseriesFilter controls timeseries query parameters.
type TimeseriesFilter struct {
	Resolution Resolution
	StartTime  *time.Time
	EndTime    *time.Time
}

// TimeseriesBucket holds counts for a single time bucket.
type TimeseriesBucket struct {
	Bucket        time.Time `json:"bucket"`
	Count         int       `json:"count"`
	SuccessCount  int       `json:"success_count"`
	ErrorCount    int       `json:"error_count"`
	AvgDurationMS float64   `json:"avg_duration_ms"`
}

// BreakdownDimension defines valid group-by dimensions.
type BreakdownDimension string

const (
	// BreakdownByAction groups by action.
	BreakdownByAction BreakdownDimension = "action"

	// BreakdownByUserID groups by user ID.
	BreakdownByUserID BreakdownDimension = "user_id"

	// BreakdownByEventType groups by event type.
	BreakdownByEventType BreakdownDimension = "event_type"

	// BreakdownByDecision groups by pipeline decision.
	BreakdownByDecision BreakdownDimension = "decision"
)

// ValidBreakdownDimensions is the set of allowed group-by values.
var ValidBreakdownDimensions = map[BreakdownDimension]bool{
	BreakdownByAction:    true,
	BreakdownByUserID:    true,
	BreakdownByEventType: true,
	BreakdownByDecision:  true,
}

// BreakdownFilter controls breakdown query parameters.
type BreakdownFilter struct {
	GroupBy   BreakdownDimension
	Limit     int
	StartTime *time.Time
	EndTime   *time.Time
}

// BreakdownEntry holds aggregated stats for a single dimension value.
type BreakdownEntry struct {
	Dimension     string  `json:"dimension"`
	Count         int     `json:"count"`
	SuccessRate   float64 `json:"success_rate"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
}

// Overview holds aggregate statistics for the audit log.
type Overview struct {
	TotalEvents   int     `json:"total_events"`
	SuccessRate   float64 `json:"success_rate"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
	UniqueUsers   int     `json:"unique_users"`
	RejectedCount int     `json:"rejected_count"`
	BypassedCount int     `json:"bypassed_count"`
	ErrorCount    int     `json:"error_count"`
}

// PerformanceStats holds query latency percentile statistics.
type PerformanceStats struct {
	P50MS float64 `json:"p50_ms"`
	P95MS float64 `json:"p95_ms"`
	P99MS float64 `json:"p99_ms"`
	AvgMS float64 `json:"avg_ms"`
	MaxMS float64 `json:"max_ms"`
}

// MetricsProvider is the optional aggregation surface of queryable audit
// stores. The slog fallback sink does not implement it.
type MetricsProvider interface {
	Overview(ctx context.Context, start, end *time.Time) (*Overview, error)
	Timeseries(ctx context.Context, filter TimeseriesFilter) ([]TimeseriesBucket, error)
	Breakdown(ctx context.Context, filter BreakdownFilter) ([]BreakdownEntry, error)
	Performance(ctx context.Context, start, end *time.Time) (*PerformanceStats, error)
}
