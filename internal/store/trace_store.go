// Package store persists orchestrator transitions and LLM call traces in
// SQLite so individual questions can be reconstructed after the fact.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"dqinsight/internal/llm"
	"dqinsight/internal/logging"
	"dqinsight/internal/orchestrator"
)

// EventStore implements orchestrator.Tracer and llm.CallRecorder.
type EventStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
	logger *zap.Logger
}

var (
	_ orchestrator.Tracer = (*EventStore)(nil)
	_ llm.CallRecorder    = (*EventStore)(nil)
)

// EventRecord is a persisted orchestrator transition.
type EventRecord struct {
	Seq       int64     `json:"seq"`
	RequestID string    `json:"request_id"`
	State     string    `json:"state"`
	Preview   string    `json:"preview,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// Open opens (creating if needed) the database at path.
func Open(path string, logger *zap.Logger) (*EventStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &EventStore{db: db, dbPath: path, logger: logger}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure trace schema: %w", err)
	}

	logger.Debug("trace store opened", zap.String("path", path))
	return s, nil
}

// Close closes the database.
func (s *EventStore) Close() error {
	return s.db.Close()
}

func (s *EventStore) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS ask_events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id TEXT NOT NULL,
		state TEXT NOT NULL,
		preview TEXT,
		error_kind TEXT,
		error TEXT,
		at_ms INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_request ON ask_events(request_id);
	CREATE INDEX IF NOT EXISTS idx_events_at ON ask_events(at_ms);

	CREATE TABLE IF NOT EXISTS llm_calls (
		id TEXT PRIMARY KEY,
		request_id TEXT,
		provider TEXT NOT NULL,
		mode TEXT NOT NULL,
		prompt_len INTEGER,
		response_len INTEGER,
		duration_ms INTEGER,
		success BOOLEAN NOT NULL,
		error_kind TEXT,
		error TEXT,
		at_ms INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_calls_request ON llm_calls(request_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ========== Write Operations ==========

// Trace implements orchestrator.Tracer. Failures are logged, never
// surfaced to the run.
func (s *EventStore) Trace(ctx context.Context, ev orchestrator.Event) {
	if err := s.Append(context.WithoutCancel(ctx), ev); err != nil {
		logging.WithContext(ctx, s.logger).Warn("failed to persist event",
			zap.String("state", string(ev.State)), zap.Error(err))
	}
}

// Append persists one transition.
func (s *EventStore) Append(ctx context.Context, ev orchestrator.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errText string
	if ev.Err != nil {
		errText = ev.Err.Error()
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ask_events (request_id, state, preview, error_kind, error, at_ms)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.RequestID, string(ev.State), ev.Preview, ev.ErrorKind, errText, at.UnixMilli())
	return err
}

// RecordCall implements llm.CallRecorder.
func (s *EventStore) RecordCall(ctx context.Context, trace *llm.CallTrace) error {
	timer := logging.StartTimer(s.logger, "RecordCall")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO llm_calls
		(id, request_id, provider, mode, prompt_len, response_len, duration_ms,
		 success, error_kind, error, at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trace.ID, trace.RequestID, trace.Provider, trace.Mode, trace.PromptLen,
		trace.ResponseLen, trace.DurationMs, trace.Success, trace.ErrorKind,
		trace.Error, trace.Timestamp.UnixMilli())
	return err
}

// ========== Read Operations ==========

// Recent returns the newest events, newest first.
func (s *EventStore) Recent(ctx context.Context, limit int) ([]EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, request_id, state, preview, error_kind, error, at_ms
		FROM ask_events
		ORDER BY seq DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ByRequest returns one request's events in emission order.
func (s *EventStore) ByRequest(ctx context.Context, requestID string) ([]EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, request_id, state, preview, error_kind, error, at_ms
		FROM ask_events
		WHERE request_id = ?
		ORDER BY seq ASC`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// Calls returns the LLM calls made for a request, oldest first.
func (s *EventStore) Calls(ctx context.Context, requestID string) ([]llm.CallTrace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, provider, mode, prompt_len, response_len, duration_ms,
		       success, error_kind, error, at_ms
		FROM llm_calls
		WHERE request_id = ?
		ORDER BY at_ms ASC, id ASC`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calls []llm.CallTrace
	for rows.Next() {
		var (
			c                         llm.CallTrace
			reqID, errKind, errText   sql.NullString
			promptLen, respLen, durMs sql.NullInt64
			atMs                      int64
		)
		if err := rows.Scan(&c.ID, &reqID, &c.Provider, &c.Mode, &promptLen, &respLen,
			&durMs, &c.Success, &errKind, &errText, &atMs); err != nil {
			return nil, err
		}
		c.RequestID = reqID.String
		c.PromptLen = int(promptLen.Int64)
		c.ResponseLen = int(respLen.Int64)
		c.DurationMs = durMs.Int64
		c.ErrorKind = errKind.String
		c.Error = errText.String
		c.Timestamp = time.UnixMilli(atMs)
		calls = append(calls, c)
	}
	return calls, rows.Err()
}

func scanEvents(rows *sql.Rows) ([]EventRecord, error) {
	var events []EventRecord
	for rows.Next() {
		var (
			ev                        EventRecord
			preview, errKind, errText sql.NullString
			atMs                      int64
		)
		if err := rows.Scan(&ev.Seq, &ev.RequestID, &ev.State, &preview, &errKind, &errText, &atMs); err != nil {
			return nil, err
		}
		ev.Preview = preview.String
		ev.ErrorKind = errKind.String
		ev.Error = errText.String
		ev.At = time.UnixMilli(atMs)
		events = append(events, ev)
	}
	return events, rows.Err()
}
