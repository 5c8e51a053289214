package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/twinfra/tracetwin/internal/trace"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "traces.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func writeEvents(t *testing.T, s *SQLiteStore, mode Mode, events ...trace.Event) int64 {
	t.Helper()
	ctx := context.Background()
	if err := s.Init(ctx, mode); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	for _, e := range events {
		if err := tx.Append(e); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	n, err := tx.Commit()
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	return n
}

func testEvent(activity string, time int64) trace.Event {
	return trace.Event{
		Component:       "c",
		Replica:         "r1",
		RemoteComponent: "d",
		Type:            trace.EventIn,
		ActivityID:      activity,
		EventTime:       time,
		PayloadSize:     10,
	}
}

func TestSQLiteStore_AppendAccumulates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if n := writeEvents(t, s, Append, testEvent("a", 1), testEvent("b", 2)); n != 2 {
		t.Fatalf("first ingest wrote %d rows, want 2", n)
	}
	// importing the same events again in append mode doubles the row
	// count; the store never deduplicates
	if n := writeEvents(t, s, Append, testEvent("a", 1), testEvent("b", 2)); n != 2 {
		t.Fatalf("second ingest wrote %d rows, want 2", n)
	}
	count, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 4 {
		t.Errorf("row count = %d, want 4", count)
	}
}

func TestSQLiteStore_RecreateDropsRows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	writeEvents(t, s, Append, testEvent("a", 1), testEvent("b", 2), testEvent("c", 3))
	writeEvents(t, s, Recreate, testEvent("d", 4))

	count, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 1 {
		t.Errorf("row count after recreate = %d, want 1", count)
	}
}

func TestSQLiteStore_ClampsNegativeValues(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	e := testEvent("a", -5)
	e.PayloadSize = -5
	writeEvents(t, s, Recreate, e)

	var eventTime, payloadSize int64
	err := s.db.QueryRowContext(ctx,
		"SELECT event_time, payload_size FROM trace_events").Scan(&eventTime, &payloadSize)
	if err != nil {
		t.Fatalf("query error = %v", err)
	}
	if eventTime != 0 || payloadSize != 0 {
		t.Errorf("stored values = %d/%d, want 0/0", eventTime, payloadSize)
	}
}

func TestSQLiteStore_RollbackLeavesNoRows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Init(ctx, Recreate); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	for i := int64(0); i < 10; i++ {
		if err := tx.Append(testEvent("a", i)); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}

	count, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 0 {
		t.Errorf("row count after rollback = %d, want 0", count)
	}
}

func TestSQLiteStore_FlushThresholdKeepsTransactionOpen(t *testing.T) {
	s := openTestStore(t)
	s.SetFlushThreshold(2)
	ctx := context.Background()

	if err := s.Init(ctx, Recreate); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	// five events with a threshold of two: two intermediate flushes
	// plus a final partial one at commit
	for i := int64(0); i < 5; i++ {
		if err := tx.Append(testEvent("a", i)); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	n, err := tx.Commit()
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if n != 5 {
		t.Errorf("rows written = %d, want 5", n)
	}
	count, _ := s.Count(ctx)
	if count != 5 {
		t.Errorf("row count = %d, want 5", count)
	}
}

func TestSQLiteStore_EventsOrderedByTime(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	writeEvents(t, s, Recreate, testEvent("late", 30), testEvent("early", 10), testEvent("mid", 20))

	events, err := s.Events(ctx)
	if err != nil {
		t.Fatalf("Events() error = %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("len(events) = %d, want 3", len(events))
	}
	for i, want := range []string{"early", "mid", "late"} {
		if events[i].ActivityID != want {
			t.Errorf("events[%d].ActivityID = %q, want %q", i, events[i].ActivityID, want)
		}
	}
	if events[0].Type != trace.EventIn || events[0].Component != "c" {
		t.Errorf("round-tripped event = %+v", events[0])
	}
}

func TestSQLiteStore_StoresEventTypeAsText(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	e := testEvent("a", 1)
	e.Type = trace.EventUnknown
	writeEvents(t, s, Recreate, e)

	var typ string
	if err := s.db.QueryRowContext(ctx, "SELECT event_type FROM trace_events").Scan(&typ); err != nil {
		t.Fatalf("query error = %v", err)
	}
	if typ != "unknown" {
		t.Errorf("event_type = %q, want %q", typ, "unknown")
	}
}
