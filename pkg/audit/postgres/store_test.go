package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caremetrix/mcp-sql-gateway/pkg/audit"
)

const (
	testYear         = 2026
	testMonth        = 6
	testDurationMS   = 42
	testFilterLimit  = 10
	testFilterOffset = 5
	testCountResult  = 42
	testCountFound   = 7
)

// selectColumns lists the SELECT column names in scan order.
var selectColumns = []string{
	"id", "timestamp", "duration_ms", "request_id", "user_id", "user_email",
	"event_type", "action", "sql_text", "tables", "decision", "parameters",
	"success", "error_message",
}

func newTestEvent() audit.Event {
	return audit.Event{
		ID:           "evt-123",
		Timestamp:    time.Date(testYear, testMonth, 15, 10, 30, 0, 0, time.UTC),
		DurationMS:   testDurationMS,
		RequestID:    "req-456",
		UserID:       "user-abc",
		UserEmail:    "test@example.com",
		EventType:    audit.EventTypeQuery,
		Action:       "execute_sql",
		SQL:          "select measure from ih.encounters where practice_uid = 7",
		Tables:       []string{"ih.encounters"},
		Decision:     audit.DecisionScoped,
		Parameters:   map[string]any{"source": "mcp"},
		Success:      true,
		ErrorMessage: "",
	}
}

func addEventRow(rows *sqlmock.Rows, event audit.Event) {
	paramsJSON, _ := json.Marshal(event.Parameters)
	rows.AddRow(
		event.ID, event.Timestamp, event.DurationMS, event.RequestID,
		event.UserID, event.UserEmail,
		string(event.EventType), event.Action, event.SQL,
		[]byte(`{ih.encounters}`),
		string(event.Decision), paramsJSON,
		event.Success, event.ErrorMessage,
	)
}

func assertEventEqual(t *testing.T, want, got audit.Event) {
	t.Helper()
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Timestamp, got.Timestamp)
	assert.Equal(t, want.DurationMS, got.DurationMS)
	assert.Equal(t, want.RequestID, got.RequestID)
	assert.Equal(t, want.UserID, got.UserID)
	assert.Equal(t, want.UserEmail, got.UserEmail)
	assert.Equal(t, want.EventType, got.EventType)
	assert.Equal(t, want.Action, got.Action)
	assert.Equal(t, want.SQL, got.SQL)
	assert.Equal(t, want.Tables, got.Tables)
	assert.Equal(t, want.Decision, got.Decision)
	assert.Equal(t, want.Parameters, got.Parameters)
	assert.Equal(t, want.Success, got.Success)
	assert.Equal(t, want.ErrorMessage, got.ErrorMessage)
}

func TestNew(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	t.Run("custom retention", func(t *testing.T) {
		store := New(db, Config{RetentionDays: 30})
		assert.Equal(t, 30, store.retentionDays)
		assert.Equal(t, db, store.db)
	})

	t.Run("default retention when zero", func(t *testing.T) {
		store := New(db, Config{RetentionDays: 0})
		assert.Equal(t, defaultRetentionDays, store.retentionDays)
	})
}

func TestLog_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := New(db, Config{RetentionDays: 90})
	event := newTestEvent()

	paramsJSON, err := json.Marshal(event.Parameters)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO audit_events").WithArgs(
		event.ID,
		event.Timestamp,
		event.DurationMS,
		event.RequestID,
		event.UserID,
		event.UserEmail,
		string(event.EventType),
		event.Action,
		event.SQL,
		pq.Array(event.Tables),
		string(event.Decision),
		paramsJSON,
		event.Success,
		event.ErrorMessage,
	).WillReturnResult(sqlmock.NewResult(0, 1))

	err = store.Log(context.Background(), event)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLog_NilParameters(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := New(db, Config{RetentionDays: 90})
	event := newTestEvent()
	event.Parameters = nil

	mock.ExpectExec("INSERT INTO audit_events").WithArgs(
		event.ID, event.Timestamp, event.DurationMS, event.RequestID,
		event.UserID, event.UserEmail,
		string(event.EventType), event.Action, event.SQL,
		pq.Array(event.Tables),
		string(event.Decision),
		[]byte("null"),
		event.Success, event.ErrorMessage,
	).WillReturnResult(sqlmock.NewResult(0, 1))

	err = store.Log(context.Background(), event)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLog_DBError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := New(db, Config{RetentionDays: 90})
	event := newTestEvent()

	mock.ExpectExec("INSERT INTO audit_events").
		WillReturnError(errors.New("connection refused"))

	err = store.Log(context.Background(), event)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "inserting audit event")
	assert.Contains(t, err.Error(), "connection refused")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuery_NoFilter(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := New(db, Config{RetentionDays: 90})
	event := newTestEvent()

	rows := sqlmock.NewRows(selectColumns)
	addEventRow(rows, event)
	mock.ExpectQuery("SELECT .+ FROM audit_events").WillReturnRows(rows)

	results, err := store.Query(context.Background(), audit.QueryFilter{})
	assert.NoError(t, err)
	require.Len(t, results, 1)
	assertEventEqual(t, event, results[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuery_AllFilters(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := New(db, Config{RetentionDays: 90})

	startTime := time.Date(testYear, testMonth, 1, 0, 0, 0, 0, time.UTC)
	endTime := time.Date(testYear, testMonth, 30, 23, 59, 59, 0, time.UTC)
	success := true

	filter := audit.QueryFilter{
		StartTime: &startTime,
		EndTime:   &endTime,
		UserID:    "user-abc",
		EventType: audit.EventTypeQuery,
		Action:    "execute_sql",
		Decision:  audit.DecisionScoped,
		Success:   &success,
		Limit:     testFilterLimit,
		Offset:    testFilterOffset,
	}

	rows := sqlmock.NewRows(selectColumns)
	addEventRow(rows, newTestEvent())

	// Limit and offset are rendered inline by the builder, not bound.
	mock.ExpectQuery("SELECT .+ FROM audit_events .+ LIMIT 10 OFFSET 5").WithArgs(
		startTime,
		endTime,
		"user-abc",
		string(audit.EventTypeQuery),
		"execute_sql",
		string(audit.DecisionScoped),
		true,
	).WillReturnRows(rows)

	results, err := store.Query(context.Background(), filter)
	assert.NoError(t, err)
	require.Len(t, results, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuery_IDFilter(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := New(db, Config{RetentionDays: 90})

	rows := sqlmock.NewRows(selectColumns)
	mock.ExpectQuery("SELECT .+ FROM audit_events").WithArgs("evt-specific").
		WillReturnRows(rows)

	results, err := store.Query(context.Background(), audit.QueryFilter{ID: "evt-specific"})
	assert.NoError(t, err)
	assert.Empty(t, results)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuery_DBError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := New(db, Config{RetentionDays: 90})

	mock.ExpectQuery("SELECT .+ FROM audit_events").
		WillReturnError(errors.New("db unavailable"))

	results, err := store.Query(context.Background(), audit.QueryFilter{})
	assert.Error(t, err)
	assert.Nil(t, results)
	assert.Contains(t, err.Error(), "querying audit events")
	assert.Contains(t, err.Error(), "db unavailable")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuery_ScanError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := New(db, Config{RetentionDays: 90})

	rows := sqlmock.NewRows([]string{"id", "timestamp"}).
		AddRow("evt-1", "not-a-valid-timestamp")
	mock.ExpectQuery("SELECT .+ FROM audit_events").WillReturnRows(rows)

	results, err := store.Query(context.Background(), audit.QueryFilter{})
	assert.Error(t, err)
	assert.Nil(t, results)
	assert.Contains(t, err.Error(), "scanning audit event row")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuery_MultipleRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := New(db, Config{RetentionDays: 90})

	event1 := newTestEvent()
	event1.ID = "evt-1"
	event1.Action = "execute_sql"

	event2 := newTestEvent()
	event2.ID = "evt-2"
	event2.Action = "validate_sql"

	rows := sqlmock.NewRows(selectColumns)
	addEventRow(rows, event1)
	addEventRow(rows, event2)
	mock.ExpectQuery("SELECT .+ FROM audit_events").WillReturnRows(rows)

	results, err := store.Query(context.Background(), audit.QueryFilter{})
	assert.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "evt-1", results[0].ID)
	assert.Equal(t, "evt-2", results[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuery_EmptyParameters(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := New(db, Config{RetentionDays: 90})
	event := newTestEvent()

	rows := sqlmock.NewRows(selectColumns).AddRow(
		event.ID, event.Timestamp, event.DurationMS, event.RequestID,
		event.UserID, event.UserEmail,
		string(event.EventType), event.Action, event.SQL,
		[]byte(`{ih.encounters}`),
		string(event.Decision),
		[]byte{},
		event.Success, event.ErrorMessage,
	)
	mock.ExpectQuery("SELECT .+ FROM audit_events").WillReturnRows(rows)

	results, err := store.Query(context.Background(), audit.QueryFilter{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Nil(t, results[0].Parameters)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCount_NoFilter(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := New(db, Config{RetentionDays: 90})

	rows := sqlmock.NewRows([]string{"count"}).AddRow(testCountResult)
	mock.ExpectQuery("SELECT COUNT").WillReturnRows(rows)

	count, err := store.Count(context.Background(), audit.QueryFilter{})
	assert.NoError(t, err)
	assert.Equal(t, testCountResult, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCount_WithFilters(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := New(db, Config{RetentionDays: 90})

	success := false
	filter := audit.QueryFilter{
		UserID:   "user-abc",
		Decision: audit.DecisionRejected,
		Success:  &success,
	}

	rows := sqlmock.NewRows([]string{"count"}).AddRow(testCountFound)
	mock.ExpectQuery("SELECT COUNT").
		WithArgs("user-abc", string(audit.DecisionRejected), false).
		WillReturnRows(rows)

	count, err := store.Count(context.Background(), filter)
	assert.NoError(t, err)
	assert.Equal(t, testCountFound, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCount_DBError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := New(db, Config{RetentionDays: 90})

	mock.ExpectQuery("SELECT COUNT").
		WillReturnError(errors.New("db unavailable"))

	_, err = store.Count(context.Background(), audit.QueryFilter{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "counting audit events")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCleanup(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer func() { _ = db.Close() }()

		store := New(db, Config{RetentionDays: 30})

		mock.ExpectExec("DELETE FROM audit_events WHERE timestamp").
			WillReturnResult(sqlmock.NewResult(0, 5))

		err = store.Cleanup(context.Background())
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("db error", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer func() { _ = db.Close() }()

		store := New(db, Config{RetentionDays: 30})

		mock.ExpectExec("DELETE FROM audit_events WHERE timestamp").
			WillReturnError(errors.New("cleanup failed"))

		err = store.Cleanup(context.Background())
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "cleaning up audit events")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestClose_NilCancel_NoPanic(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := New(db, Config{})
	// Close without ever calling StartCleanupRoutine must not panic.
	assert.NoError(t, store.Close())
}

func TestClose_StopsCleanupRoutine(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := New(db, Config{RetentionDays: 7})

	mock.MatchExpectationsInOrder(false)
	mock.ExpectExec("DELETE FROM audit_events").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM audit_events").
		WillReturnResult(sqlmock.NewResult(0, 0))

	store.StartCleanupRoutine(10 * time.Millisecond)

	// Let at least one cleanup tick fire.
	time.Sleep(50 * time.Millisecond)

	// Close should cancel and wait for the goroutine to exit.
	assert.NoError(t, store.Close())
}
