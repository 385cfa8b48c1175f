// Package audit records what the gateway decided and why: queries run,
// queries rejected, tenant-filter bypasses, and administrative actions.
// Security events are never optional; when no database is configured they
// fall back to the application log.
package audit

import (
	"context"
	"errors"
	"time"
)

// EventType categorizes audit events.
type EventType string

const (
	// EventTypeQuery is a query execution event.
	EventTypeQuery EventType = "query"

	// EventTypeValidation is a validate-only event.
	EventTypeValidation EventType = "validation"

	// EventTypeSecurity is a security-relevant decision: a tenant-filter
	// bypass or a rejected query.
	EventTypeSecurity EventType = "security"

	// EventTypeAdmin is an administrative event.
	EventTypeAdmin EventType = "admin"
)

// Decision records the pipeline outcome for the SQL carried by an event.
type Decision string

const (
	// DecisionScoped marks SQL executed with the tenant filter injected.
	DecisionScoped Decision = "scoped"

	// DecisionBypassed marks SQL executed without tenant scoping by a
	// privileged principal.
	DecisionBypassed Decision = "bypassed"

	// DecisionRejected marks SQL that failed validation.
	DecisionRejected Decision = "rejected"

	// DecisionPassthrough marks events with no enforcement decision,
	// such as admin actions.
	DecisionPassthrough Decision = "passthrough"
)

// Event is one auditable gateway decision.
type Event struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	DurationMS   int64          `json:"duration_ms"`
	RequestID    string         `json:"request_id,omitempty"`
	UserID       string         `json:"user_id"`
	UserEmail    string         `json:"user_email,omitempty"`
	EventType    EventType      `json:"event_type"`
	Action       string         `json:"action"`
	SQL          string         `json:"sql,omitempty"`
	Tables       []string       `json:"tables,omitempty"`
	Decision     Decision       `json:"decision,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	Success      bool           `json:"success"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// Logger is the audit sink.
type Logger interface {
	// Log records an audit event.
	Log(ctx context.Context, event Event) error

	// Query retrieves audit events matching the filter.
	Query(ctx context.Context, filter QueryFilter) ([]Event, error)

	// Count returns the number of events matching the filter.
	Count(ctx context.Context, filter QueryFilter) (int, error)

	// Close releases resources.
	Close() error
}

// ErrQueryUnsupported is returned by sinks that can record events but not
// read them back.
var ErrQueryUnsupported = errors.New("audit sink does not support queries")

// QueryFilter defines criteria for querying audit events.
type QueryFilter struct {
	ID        string
	StartTime *time.Time
	EndTime   *time.Time
	UserID    string
	EventType EventType
	Action    string
	Decision  Decision
	Success   *bool
	Limit     int
	Offset    int
}

// Config configures audit logging.
type Config struct {
	Enabled         bool
	RetentionDays   int
	CleanupInterval time.Duration
}
