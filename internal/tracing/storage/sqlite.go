// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package storage persists finished spans to a local SQLite database
// so that flow traces survive the process and can be inspected later.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tombee/bookflow/pkg/observability"
)

// SQLiteStore provides SQLite-backed storage for spans and traces.
type SQLiteStore struct {
	db            *sql.DB
	encryptionKey *EncryptionKey
}

// Config contains SQLite storage configuration.
type Config struct {
	// Path is the filesystem path to the database file. The special
	// value ":memory:" creates an in-memory database.
	Path string

	// MaxOpenConns caps the connection pool. WAL mode allows
	// multiple concurrent readers.
	MaxOpenConns int

	// EnableEncryption encrypts stored attribute payloads with
	// AES-256-GCM. Requires BOOKFLOW_TRACE_KEY to be set.
	EnableEncryption bool
}

// New creates a SQLite storage backend and runs migrations.
func New(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	connStr := cfg.Path
	if cfg.Path != ":memory:" {
		connStr += "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxConns := cfg.MaxOpenConns
	if maxConns == 0 {
		maxConns = 5
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &SQLiteStore{db: db}

	if cfg.EnableEncryption {
		key, err := LoadEncryptionKey()
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to load encryption key: %w", err)
		}
		if key == nil {
			db.Close()
			return nil, fmt.Errorf("encryption enabled but no key found (set BOOKFLOW_TRACE_KEY)")
		}
		store.encryptionKey = key
	}

	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS spans (
			trace_id TEXT NOT NULL,
			span_id TEXT NOT NULL,
			parent_id TEXT,
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			start_time INTEGER NOT NULL,
			end_time INTEGER,
			status_code INTEGER NOT NULL,
			status_message TEXT,
			attributes TEXT,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (trace_id, span_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_spans_trace_id ON spans(trace_id)`,
		`CREATE INDEX IF NOT EXISTS idx_spans_start_time ON spans(start_time)`,

		`CREATE TABLE IF NOT EXISTS span_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			trace_id TEXT NOT NULL,
			span_id TEXT NOT NULL,
			name TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			attributes TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_span_events_span ON span_events(trace_id, span_id)`,

		// Trace summaries give the CLI a cheap listing without
		// scanning every span.
		`CREATE TABLE IF NOT EXISTS traces (
			trace_id TEXT PRIMARY KEY,
			root_span_id TEXT,
			name TEXT,
			flow_id TEXT,
			start_time INTEGER NOT NULL,
			end_time INTEGER,
			duration_ns INTEGER,
			status_code INTEGER,
			span_count INTEGER DEFAULT 0,
			error_count INTEGER DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_traces_start_time ON traces(start_time)`,
		`CREATE INDEX IF NOT EXISTS idx_traces_flow_id ON traces(flow_id) WHERE flow_id IS NOT NULL`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// StoreSpan upserts a span and its events, then refreshes the trace
// summary row.
func (s *SQLiteStore) StoreSpan(ctx context.Context, span *observability.Span) error {
	if span == nil {
		return fmt.Errorf("span is nil")
	}
	if span.TraceID == "" || span.SpanID == "" {
		return fmt.Errorf("span trace_id and span_id are required")
	}

	attributesJSON, err := json.Marshal(span.Attributes)
	if err != nil {
		return fmt.Errorf("failed to marshal attributes: %w", err)
	}
	attributesJSON, err = s.encryptData(attributesJSON)
	if err != nil {
		return fmt.Errorf("failed to encrypt attributes: %w", err)
	}

	startTime := span.StartTime.UnixNano()
	var endTime *int64
	if !span.EndTime.IsZero() {
		et := span.EndTime.UnixNano()
		endTime = &et
	}
	var parentID *string
	if span.ParentID != "" {
		parentID = &span.ParentID
	}

	query := `
		INSERT INTO spans (trace_id, span_id, parent_id, name, kind, start_time, end_time,
			status_code, status_message, attributes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(trace_id, span_id) DO UPDATE SET
			parent_id = excluded.parent_id,
			name = excluded.name,
			kind = excluded.kind,
			end_time = excluded.end_time,
			status_code = excluded.status_code,
			status_message = excluded.status_message,
			attributes = excluded.attributes
	`

	now := time.Now().UnixNano()
	_, err = s.db.ExecContext(ctx, query,
		span.TraceID, span.SpanID, parentID, span.Name, span.Kind,
		startTime, endTime, span.Status.Code, span.Status.Message,
		attributesJSON, now,
	)
	if err != nil {
		return fmt.Errorf("failed to store span: %w", err)
	}

	for _, event := range span.Events {
		if err := s.storeEvent(ctx, span.TraceID, span.SpanID, &event); err != nil {
			return fmt.Errorf("failed to store event: %w", err)
		}
	}

	flowID, _ := span.Attributes["flow.id"].(string)
	if err := s.updateTraceSummary(ctx, span.TraceID, flowID); err != nil {
		return fmt.Errorf("failed to update trace summary: %w", err)
	}

	return nil
}

func (s *SQLiteStore) storeEvent(ctx context.Context, traceID, spanID string, event *observability.Event) error {
	attributesJSON, err := json.Marshal(event.Attributes)
	if err != nil {
		return fmt.Errorf("failed to marshal attributes: %w", err)
	}
	attributesJSON, err = s.encryptData(attributesJSON)
	if err != nil {
		return fmt.Errorf("failed to encrypt event attributes: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO span_events (trace_id, span_id, name, timestamp, attributes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		traceID, spanID, event.Name, event.Timestamp.UnixNano(), attributesJSON, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to store event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) updateTraceSummary(ctx context.Context, traceID, flowID string) error {
	query := `
		INSERT INTO traces (trace_id, root_span_id, name, flow_id, start_time, end_time, duration_ns,
			status_code, span_count, error_count, created_at, updated_at)
		SELECT
			?,
			(SELECT span_id FROM spans WHERE trace_id = ? AND parent_id IS NULL LIMIT 1),
			(SELECT name FROM spans WHERE trace_id = ? AND parent_id IS NULL LIMIT 1),
			NULLIF(?, ''),
			MIN(start_time),
			MAX(end_time),
			CASE WHEN MAX(end_time) IS NOT NULL THEN MAX(end_time) - MIN(start_time) ELSE NULL END,
			(SELECT status_code FROM spans WHERE trace_id = ? AND parent_id IS NULL LIMIT 1),
			COUNT(*),
			SUM(CASE WHEN status_code = 2 THEN 1 ELSE 0 END),
			?,
			?
		FROM spans WHERE trace_id = ?
		ON CONFLICT(trace_id) DO UPDATE SET
			root_span_id = excluded.root_span_id,
			name = excluded.name,
			flow_id = COALESCE(excluded.flow_id, traces.flow_id),
			end_time = excluded.end_time,
			duration_ns = excluded.duration_ns,
			status_code = excluded.status_code,
			span_count = excluded.span_count,
			error_count = excluded.error_count,
			updated_at = excluded.updated_at
	`

	now := time.Now().UnixNano()
	_, err := s.db.ExecContext(ctx, query, traceID, traceID, traceID, flowID, traceID, now, now, traceID)
	if err != nil {
		return fmt.Errorf("failed to update trace summary: %w", err)
	}
	return nil
}

// GetSpan retrieves a span by trace ID and span ID.
func (s *SQLiteStore) GetSpan(ctx context.Context, traceID, spanID string) (*observability.Span, error) {
	query := `
		SELECT trace_id, span_id, parent_id, name, kind, start_time, end_time,
			status_code, status_message, attributes
		FROM spans WHERE trace_id = ? AND span_id = ?
	`

	var span observability.Span
	var parentID *string
	var endTime *int64
	var startTime int64
	var attributesJSON []byte

	err := s.db.QueryRowContext(ctx, query, traceID, spanID).Scan(
		&span.TraceID, &span.SpanID, &parentID, &span.Name, &span.Kind,
		&startTime, &endTime, &span.Status.Code, &span.Status.Message,
		&attributesJSON,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("span not found: %s/%s", traceID, spanID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get span: %w", err)
	}

	if parentID != nil {
		span.ParentID = *parentID
	}
	span.StartTime = time.Unix(0, startTime)
	if endTime != nil {
		span.EndTime = time.Unix(0, *endTime)
	}

	if err := s.decodeAttributes(attributesJSON, &span.Attributes); err != nil {
		return nil, err
	}

	events, err := s.getSpanEvents(ctx, traceID, spanID)
	if err != nil {
		return nil, err
	}
	span.Events = events

	return &span, nil
}

func (s *SQLiteStore) getSpanEvents(ctx context.Context, traceID, spanID string) ([]observability.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, timestamp, attributes FROM span_events
		 WHERE trace_id = ? AND span_id = ? ORDER BY timestamp ASC`,
		traceID, spanID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []observability.Event
	for rows.Next() {
		var event observability.Event
		var timestamp int64
		var attributesJSON []byte

		if err := rows.Scan(&event.Name, &timestamp, &attributesJSON); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.Timestamp = time.Unix(0, timestamp)

		if err := s.decodeAttributes(attributesJSON, &event.Attributes); err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	return events, rows.Err()
}

// TraceFilter contains filters for trace listing.
type TraceFilter struct {
	// Status filters by root span status code.
	Status *observability.StatusCode

	// Since and Until bound the trace start time.
	Since *time.Time
	Until *time.Time

	Limit  int
	Offset int
}

// TraceSummary is one row of the trace listing.
type TraceSummary struct {
	TraceID    string
	Name       string
	FlowID     string
	StartTime  time.Time
	Duration   time.Duration
	SpanCount  int
	ErrorCount int
	Status     observability.StatusCode
}

// ListTraces lists trace summaries matching the filter, newest first.
func (s *SQLiteStore) ListTraces(ctx context.Context, filter TraceFilter) ([]TraceSummary, error) {
	query := `SELECT trace_id, COALESCE(name, ''), COALESCE(flow_id, ''), start_time,
		COALESCE(duration_ns, 0), span_count, error_count, COALESCE(status_code, 0)
		FROM traces WHERE 1=1`
	args := []any{}

	if filter.Status != nil {
		query += " AND status_code = ?"
		args = append(args, *filter.Status)
	}
	if filter.Since != nil {
		query += " AND start_time >= ?"
		args = append(args, filter.Since.UnixNano())
	}
	if filter.Until != nil {
		query += " AND start_time <= ?"
		args = append(args, filter.Until.UnixNano())
	}

	query += " ORDER BY start_time DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list traces: %w", err)
	}
	defer rows.Close()

	var summaries []TraceSummary
	for rows.Next() {
		var ts TraceSummary
		var startTime, durationNS int64
		if err := rows.Scan(&ts.TraceID, &ts.Name, &ts.FlowID, &startTime,
			&durationNS, &ts.SpanCount, &ts.ErrorCount, &ts.Status); err != nil {
			return nil, fmt.Errorf("failed to scan trace summary: %w", err)
		}
		ts.StartTime = time.Unix(0, startTime)
		ts.Duration = time.Duration(durationNS)
		summaries = append(summaries, ts)
	}

	return summaries, rows.Err()
}

// FindTraceByFlowID returns the trace ID recorded for a flow
// execution, or empty string when none matches.
func (s *SQLiteStore) FindTraceByFlowID(ctx context.Context, flowID string) (string, error) {
	var traceID string
	err := s.db.QueryRowContext(ctx,
		`SELECT trace_id FROM traces WHERE flow_id = ? ORDER BY start_time DESC LIMIT 1`,
		flowID).Scan(&traceID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to find trace: %w", err)
	}
	return traceID, nil
}

// GetTraceSpans retrieves all spans for a trace in start order.
func (s *SQLiteStore) GetTraceSpans(ctx context.Context, traceID string) ([]*observability.Span, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT span_id, parent_id, name, kind, start_time, end_time,
			status_code, status_message, attributes
		 FROM spans WHERE trace_id = ? ORDER BY start_time ASC`,
		traceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query spans: %w", err)
	}

	var spans []*observability.Span
	for rows.Next() {
		span := &observability.Span{TraceID: traceID}
		var parentID *string
		var endTime *int64
		var startTime int64
		var attributesJSON []byte

		err := rows.Scan(
			&span.SpanID, &parentID, &span.Name, &span.Kind,
			&startTime, &endTime, &span.Status.Code, &span.Status.Message,
			&attributesJSON,
		)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan span: %w", err)
		}

		if parentID != nil {
			span.ParentID = *parentID
		}
		span.StartTime = time.Unix(0, startTime)
		if endTime != nil {
			span.EndTime = time.Unix(0, *endTime)
		}

		if err := s.decodeAttributes(attributesJSON, &span.Attributes); err != nil {
			rows.Close()
			return nil, err
		}
		spans = append(spans, span)
	}
	// Close before loading events so the connection is free.
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, span := range spans {
		events, err := s.getSpanEvents(ctx, traceID, span.SpanID)
		if err != nil {
			return nil, err
		}
		span.Events = events
	}

	return spans, nil
}

// DeleteTracesOlderThan deletes traces that started before the given
// time and returns the number of traces deleted.
func (s *SQLiteStore) DeleteTracesOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM traces WHERE start_time < ?", before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old traces: %w", err)
	}
	count, _ := result.RowsAffected()

	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM spans WHERE trace_id NOT IN (SELECT trace_id FROM traces)"); err != nil {
		return count, fmt.Errorf("failed to delete orphaned spans: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM span_events WHERE trace_id NOT IN (SELECT trace_id FROM traces)"); err != nil {
		return count, fmt.Errorf("failed to delete orphaned events: %w", err)
	}

	return count, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) decodeAttributes(data []byte, dst *map[string]any) error {
	if len(data) == 0 {
		return nil
	}
	decrypted, err := s.decryptData(data)
	if err != nil {
		return fmt.Errorf("failed to decrypt attributes: %w", err)
	}
	if err := json.Unmarshal(decrypted, dst); err != nil {
		return fmt.Errorf("failed to unmarshal attributes: %w", err)
	}
	return nil
}

func (s *SQLiteStore) encryptData(data []byte) ([]byte, error) {
	if s.encryptionKey == nil {
		return data, nil
	}
	encrypted, err := s.encryptionKey.Encrypt(data)
	if err != nil {
		return nil, err
	}
	return []byte(encrypted), nil
}

func (s *SQLiteStore) decryptData(data []byte) ([]byte, error) {
	if s.encryptionKey == nil || len(data) == 0 {
		return data, nil
	}
	return s.encryptionKey.Decrypt(string(data))
}
