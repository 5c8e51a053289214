package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/twinfra/tracetwin/internal/trace"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS trace_events(
  local_name STRING,
  local_id STRING,
  remote_name STRING,
  activity_id STRING,
  event_type STRING,
  event_time INTEGER,
  payload_size INTEGER)`

// The MAX(0, ?) terms clamp event_time and payload_size to the zero
// floor at write time; negative input values are coerced, not rejected.
const sqliteInsert = `INSERT INTO trace_events (local_name, local_id, remote_name, activity_id,
  event_type, event_time, payload_size)
VALUES (?, ?, ?, ?, ?, MAX(0, ?), MAX(0, ?))`

// SQLiteStore is the default file-backed event store.
type SQLiteStore struct {
	db        *sql.DB
	flushSize int
}

// OpenSQLite opens (creating if necessary) the trace database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace database %s: %w", path, err)
	}
	log.Debug().Str("db_path", path).Msg("Opened SQLite trace database")
	return &SQLiteStore{db: db, flushSize: DefaultFlushThreshold}, nil
}

// SetFlushThreshold overrides the batch flush threshold. Values below 1
// are ignored.
func (s *SQLiteStore) SetFlushThreshold(n int) {
	if n > 0 {
		s.flushSize = n
	}
}

func (s *SQLiteStore) Init(ctx context.Context, mode Mode) error {
	if mode == Recreate {
		if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS trace_events"); err != nil {
			return fmt.Errorf("failed to drop trace_events: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("failed to create trace_events: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin ingest transaction: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, sqliteInsert)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("failed to prepare insert: %w", err)
	}
	return &sqliteTx{tx: tx, stmt: stmt, flushSize: s.flushSize}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Count returns the number of rows in trace_events.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM trace_events").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count trace events: %w", err)
	}
	return n, nil
}

// Events returns all stored events ordered by event time. Rows with an
// unrecognized event_type come back as EventUnknown.
func (s *SQLiteStore) Events(ctx context.Context) ([]trace.Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT local_name, local_id, remote_name,
  activity_id, event_type, event_time, payload_size
FROM trace_events ORDER BY event_time`)
	if err != nil {
		return nil, fmt.Errorf("failed to query trace events: %w", err)
	}
	defer rows.Close()

	var events []trace.Event
	for rows.Next() {
		var e trace.Event
		var eventType string
		if err := rows.Scan(&e.Component, &e.Replica, &e.RemoteComponent,
			&e.ActivityID, &eventType, &e.EventTime, &e.PayloadSize); err != nil {
			return nil, fmt.Errorf("failed to scan trace event: %w", err)
		}
		e.Type = trace.EventTypeFromString(eventType)
		events = append(events, e)
	}
	return events, rows.Err()
}

type sqliteTx struct {
	tx        *sql.Tx
	stmt      *sql.Stmt
	flushSize int
	pending   []trace.Event
	written   int64
}

func (t *sqliteTx) Append(e trace.Event) error {
	t.pending = append(t.pending, e)
	if len(t.pending) >= t.flushSize {
		return t.flush()
	}
	return nil
}

// flush executes the buffered batch inside the open transaction. The
// rows become durable only at Commit.
func (t *sqliteTx) flush() error {
	for _, e := range t.pending {
		if _, err := t.stmt.Exec(
			e.Component,
			e.Replica,
			e.RemoteComponent,
			e.ActivityID,
			e.Type.String(),
			e.EventTime,
			e.PayloadSize,
		); err != nil {
			return fmt.Errorf("failed to insert trace event: %w", err)
		}
		t.written++
	}
	t.pending = t.pending[:0]
	return nil
}

func (t *sqliteTx) Commit() (int64, error) {
	if err := t.flush(); err != nil {
		return 0, err
	}
	t.stmt.Close()
	if err := t.tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit ingest: %w", err)
	}
	return t.written, nil
}

func (t *sqliteTx) Rollback() error {
	t.stmt.Close()
	return t.tx.Rollback()
}
