// Copyright 2025 AxonFlow
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

package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

// Dialect selects SQL placeholder style and schema.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

// SQLSink stores audit data in PostgreSQL or MySQL.
type SQLSink struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// OpenSQLSink connects, pings and creates the schema.
func OpenSQLSink(ctx context.Context, dialect Dialect, dsn string) (*SQLSink, error) {
	driver := string(dialect)
	switch dialect {
	case DialectPostgres:
	case DialectMySQL:
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("invalid mysql dsn: %w", err)
		}
		cfg.ParseTime = true
		cfg.Loc = time.UTC
		dsn = cfg.FormatDSN()
	default:
		return nil, fmt.Errorf("unsupported audit dialect %q", dialect)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping audit database: %w", err)
	}

	sink := NewSQLSink(db, dialect)
	if err := sink.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sink, nil
}

// NewSQLSink wraps an existing connection pool.
func NewSQLSink(db *sql.DB, dialect Dialect) *SQLSink {
	return &SQLSink{db: db, dialect: dialect, now: time.Now}
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS audit_events (
		id VARCHAR(64) PRIMARY KEY,
		trace_id VARCHAR(64) NOT NULL,
		event_type VARCHAR(32) NOT NULL,
		actor VARCHAR(64) NOT NULL,
		user_id VARCHAR(255),
		session_id VARCHAR(255),
		model_id VARCHAR(255),
		risk_signals JSONB,
		decision_data JSONB,
		digest CHAR(64) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_events_trace ON audit_events(trace_id)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_events_created ON audit_events(created_at)`,
	`CREATE TABLE IF NOT EXISTS oversight_sessions (
		trace_id VARCHAR(64) PRIMARY KEY,
		session_type VARCHAR(32) NOT NULL,
		opened_by VARCHAR(64) NOT NULL,
		opened_reason TEXT NOT NULL,
		risk_level INTEGER NOT NULL CHECK (risk_level BETWEEN 1 AND 5),
		status VARCHAR(16) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		closed_at TIMESTAMPTZ,
		closed_by VARCHAR(255),
		closing_note TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_oversight_status ON oversight_sessions(status)`,
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS audit_events (
		id VARCHAR(64) PRIMARY KEY,
		trace_id VARCHAR(64) NOT NULL,
		event_type VARCHAR(32) NOT NULL,
		actor VARCHAR(64) NOT NULL,
		user_id VARCHAR(255),
		session_id VARCHAR(255),
		model_id VARCHAR(255),
		risk_signals JSON,
		decision_data JSON,
		digest CHAR(64) NOT NULL,
		created_at DATETIME(6) NOT NULL,
		INDEX idx_audit_events_trace (trace_id),
		INDEX idx_audit_events_created (created_at)
	)`,
	`CREATE TABLE IF NOT EXISTS oversight_sessions (
		trace_id VARCHAR(64) PRIMARY KEY,
		session_type VARCHAR(32) NOT NULL,
		opened_by VARCHAR(64) NOT NULL,
		opened_reason TEXT NOT NULL,
		risk_level INT NOT NULL,
		status VARCHAR(16) NOT NULL,
		created_at DATETIME(6) NOT NULL,
		closed_at DATETIME(6) NULL,
		closed_by VARCHAR(255),
		closing_note TEXT,
		INDEX idx_oversight_status (status)
	)`,
}

// EnsureSchema creates the audit tables. MySQL rejects multi-statement
// Exec by default, so statements run one at a time.
func (s *SQLSink) EnsureSchema(ctx context.Context) error {
	stmts := postgresSchema
	if s.dialect == DialectMySQL {
		stmts = mysqlSchema
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create audit schema: %w", err)
		}
	}
	return nil
}

// rebind converts ? placeholders to $n for PostgreSQL.
func (s *SQLSink) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const insertEventSQL = `INSERT INTO audit_events
	(id, trace_id, event_type, actor, user_id, session_id, model_id, risk_signals, decision_data, digest, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (s *SQLSink) WriteEvent(ctx context.Context, event *Event) error {
	if event.Digest == "" {
		if err := event.Seal(); err != nil {
			return &WriteError{TraceID: event.TraceID, Op: "write_event", Cause: err}
		}
	}
	signals, err := jsonColumn(event.RiskSignals)
	if err != nil {
		return &WriteError{TraceID: event.TraceID, Op: "write_event", Cause: err}
	}
	data, err := jsonColumn(event.DecisionData)
	if err != nil {
		return &WriteError{TraceID: event.TraceID, Op: "write_event", Cause: err}
	}

	_, err = s.db.ExecContext(ctx, s.rebind(insertEventSQL),
		event.ID,
		event.TraceID,
		string(event.EventType),
		event.Actor,
		nullString(event.UserID),
		nullString(event.SessionID),
		nullString(event.ModelID),
		signals,
		data,
		event.Digest,
		event.CreatedAt,
	)
	if err != nil {
		return &WriteError{TraceID: event.TraceID, Op: "write_event", Cause: err}
	}
	return nil
}

const selectEventsSQL = `SELECT id, trace_id, event_type, actor, user_id, session_id, model_id, risk_signals, decision_data, digest, created_at
	FROM audit_events WHERE trace_id = ? ORDER BY created_at, id`

func (s *SQLSink) EventsByTrace(ctx context.Context, traceID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(selectEventsSQL), traceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var events []Event
	for rows.Next() {
		var (
			e                        Event
			eventType                string
			userID, sessionID, model sql.NullString
			signals, data            []byte
		)
		if err := rows.Scan(&e.ID, &e.TraceID, &eventType, &e.Actor, &userID, &sessionID, &model, &signals, &data, &e.Digest, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		e.EventType = EventType(eventType)
		e.UserID, e.SessionID, e.ModelID = userID.String, sessionID.String, model.String
		e.CreatedAt = e.CreatedAt.UTC()
		if e.RiskSignals, err = decodeJSONColumn(signals); err != nil {
			return nil, err
		}
		if e.DecisionData, err = decodeJSONColumn(data); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

const insertSessionSQL = `INSERT INTO oversight_sessions
	(trace_id, session_type, opened_by, opened_reason, risk_level, status, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

func (s *SQLSink) OpenSession(ctx context.Context, session *OversightSession) error {
	_, err := s.db.ExecContext(ctx, s.rebind(insertSessionSQL),
		session.TraceID,
		session.SessionType,
		session.OpenedBy,
		session.OpenedReason,
		session.RiskLevel,
		string(session.Status),
		session.CreatedAt,
	)
	if isDuplicateKey(err) {
		return ErrOversightExists
	}
	if err != nil {
		return &WriteError{TraceID: session.TraceID, Op: "open_session", Cause: err}
	}
	return nil
}

const closeSessionSQL = `UPDATE oversight_sessions
	SET status = ?, closed_at = ?, closed_by = ?, closing_note = ?
	WHERE trace_id = ? AND status = ?`

// CloseSession only updates rows that are still open, so concurrent closers
// cannot both succeed.
func (s *SQLSink) CloseSession(ctx context.Context, traceID, closedBy, note string) (*OversightSession, error) {
	at := s.now().UTC().Truncate(time.Millisecond)
	res, err := s.db.ExecContext(ctx, s.rebind(closeSessionSQL),
		string(SessionClosed), at, nullString(closedBy), nullString(note), traceID, string(SessionOpen))
	if err != nil {
		return nil, &WriteError{TraceID: traceID, Op: "close_session", Cause: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, &WriteError{TraceID: traceID, Op: "close_session", Cause: err}
	}

	current, err := s.GetSession(ctx, traceID)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, ErrOversightClosed
	}
	return current, nil
}

const selectSessionSQL = `SELECT trace_id, session_type, opened_by, opened_reason, risk_level, status, created_at, closed_at, closed_by, closing_note
	FROM oversight_sessions WHERE trace_id = ?`

func (s *SQLSink) GetSession(ctx context.Context, traceID string) (*OversightSession, error) {
	var (
		session            OversightSession
		status             string
		closedAt           sql.NullTime
		closedBy, noteText sql.NullString
	)
	err := s.db.QueryRowContext(ctx, s.rebind(selectSessionSQL), traceID).Scan(
		&session.TraceID, &session.SessionType, &session.OpenedBy, &session.OpenedReason,
		&session.RiskLevel, &status, &session.CreatedAt, &closedAt, &closedBy, &noteText)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOversightNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load oversight session: %w", err)
	}
	session.Status = SessionStatus(status)
	session.CreatedAt = session.CreatedAt.UTC()
	if closedAt.Valid {
		t := closedAt.Time.UTC()
		session.ClosedAt = &t
	}
	session.ClosedBy, session.ClosingNote = closedBy.String, noteText.String
	return &session, nil
}

func (s *SQLSink) Close() error {
	return s.db.Close()
}

func isDuplicateKey(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return false
}

func jsonColumn(m map[string]interface{}) (interface{}, error) {
	if m == nil {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode json column: %w", err)
	}
	return string(raw), nil
}

func decodeJSONColumn(raw []byte) (map[string]interface{}, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to decode json column: %w", err)
	}
	return m, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
