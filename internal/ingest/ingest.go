// Package ingest loads trace logs into an event store.
package ingest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/twinfra/tracetwin/internal/store"
	"github.com/twinfra/tracetwin/internal/trace"
)

// Ingest reads newline-delimited JSON trace events from r and writes the
// well-formed ones to s in one logical transaction. Ill-formed lines are
// skipped by the parser and contribute zero rows. Any storage error
// aborts the remaining stream, rolls back uncommitted work and is
// returned; a read error on r does the same. Returns the number of rows
// committed.
func Ingest(ctx context.Context, s store.EventStore, r io.Reader, mode store.Mode) (int64, error) {
	ctx, span := otel.Tracer("tracetwin/ingest").Start(ctx, "ingest")
	defer span.End()
	span.SetAttributes(attribute.String("mode", mode.String()))

	if err := s.Init(ctx, mode); err != nil {
		return 0, err
	}
	tx, err := s.Begin(ctx)
	if err != nil {
		return 0, err
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		e, ok := trace.ParseLine(scanner.Text())
		if !ok {
			continue
		}
		if err := tx.Append(e); err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("ingest aborted: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("failed to read trace stream: %w", err)
	}

	rows, err := tx.Commit()
	if err != nil {
		return 0, fmt.Errorf("ingest aborted: %w", err)
	}
	span.SetAttributes(attribute.Int64("rows", rows))
	return rows, nil
}

// IngestFile ingests one trace file from disk.
func IngestFile(ctx context.Context, s store.EventStore, path string, mode store.Mode) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open trace file %s: %w", path, err)
	}
	defer f.Close()

	rows, err := Ingest(ctx, s, f, mode)
	if err != nil {
		return 0, err
	}
	log.Info().
		Str("file", path).
		Int64("rows", rows).
		Str("mode", mode.String()).
		Msg("Imported trace file")
	return rows, nil
}
