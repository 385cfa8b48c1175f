package audit

import (
	"context"
	"log/slog"
)

// SlogLogger writes audit events to the application log. It is the
// fallback sink when no audit database is configured, so security events
// always land somewhere.
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger builds a slog-backed audit sink. A nil logger uses
// slog.Default.
func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogLogger{logger: logger}
}

// Log writes the event as one structured record. Security events log at
// Warn so they stand apart from routine traffic.
func (l *SlogLogger) Log(ctx context.Context, event Event) error {
	level := slog.LevelInfo
	if event.EventType == EventTypeSecurity {
		level = slog.LevelWarn
	}
	l.logger.LogAttrs(ctx, level, "audit event",
		slog.String("event_id", event.ID),
		slog.String("event_type", string(event.EventType)),
		slog.String("action", event.Action),
		slog.String("user_id", event.UserID),
		slog.String("decision", string(event.Decision)),
		slog.Any("tables", event.Tables),
		slog.Bool("success", event.Success),
		slog.Int64("duration_ms", event.DurationMS),
		slog.String("error", event.ErrorMessage),
	)
	return nil
}

// Query is unsupported: log records are write-only.
func (l *SlogLogger) Query(_ context.Context, _ QueryFilter) ([]Event, error) {
	return nil, ErrQueryUnsupported
}

// Count is unsupported: log records are write-only.
func (l *SlogLogger) Count(_ context.Context, _ QueryFilter) (int, error) {
	return 0, ErrQueryUnsupported
}

// Close is a no-op.
func (l *SlogLogger) Close() error { return nil }

var _ Logger = (*SlogLogger)(nil)
