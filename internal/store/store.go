// Package store persists trace events. Two backends implement the same
// contract: a file-backed SQLite database for local imports and a
// ClickHouse database for server deployments.
package store

import (
	"context"

	"github.com/twinfra/tracetwin/internal/trace"
)

// DefaultFlushThreshold is the number of buffered rows after which an
// ingest transaction executes its accumulated batch and keeps going.
// Committing per row instead was measured at roughly 25 minutes for a
// 235 MB trace file against about 5 seconds for one transaction with
// periodic batch flushes.
const DefaultFlushThreshold = 10000

// Mode selects how Init treats an existing trace_events table.
type Mode int

const (
	// Append creates the table if absent and keeps existing rows. Two
	// imports of the same file double the row count; the store never
	// deduplicates.
	Append Mode = iota
	// Recreate drops and redefines the table before loading.
	Recreate
)

func (m Mode) String() string {
	if m == Recreate {
		return "recreate"
	}
	return "append"
}

// EventStore is an append-oriented store for trace events. Rows are only
// ever inserted; nothing updates or deletes them. Implementations do not
// serialize concurrent writers; callers running several ingests against
// the same store must serialize them.
type EventStore interface {
	// Init prepares the trace_events table according to mode.
	Init(ctx context.Context, mode Mode) error
	// Begin opens the single logical transaction of one ingest call.
	Begin(ctx context.Context) (Tx, error)
	Close() error
}

// Tx accumulates events for one ingest. Append buffers the event and
// flushes the accumulated batch at the flush threshold without ending
// the transaction; Commit flushes the remainder and makes the whole
// ingest visible at once. Any error leaves the transaction dead: the
// caller rolls back and the store is unchanged (see the backend for the
// exact atomicity it can offer).
type Tx interface {
	Append(e trace.Event) error
	// Commit returns the number of rows written by this transaction.
	Commit() (int64, error)
	Rollback() error
}

// clampNonNegative applies the write-time floor for event_time and
// payload_size.
func clampNonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
