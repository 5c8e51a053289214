package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/rs/zerolog/log"

	"github.com/twinfra/tracetwin/internal/retry"
	"github.com/twinfra/tracetwin/internal/trace"
)

const clickhouseSchema = `CREATE TABLE IF NOT EXISTS trace_events (
  local_name String,
  local_id String,
  remote_name String,
  activity_id String,
  event_type String,
  event_time Int64,
  payload_size Int64
) ENGINE = MergeTree()
ORDER BY (local_name, local_id, event_time)`

// ClickHouseConfig holds the connection settings for the ClickHouse
// backend.
type ClickHouseConfig struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
}

// ClickHouseStore is the event store backend for server deployments,
// where traces from many applications land in one shared database.
//
// ClickHouse has no client transactions: each flushed batch becomes
// visible when sent. Rollback therefore only discards the unsent batch;
// single-batch ingests (below the flush threshold) stay all-or-nothing.
type ClickHouseStore struct {
	conn      driver.Conn
	flushSize int
}

// OpenClickHouse connects to ClickHouse and verifies the connection,
// retrying transient failures with backoff.
func OpenClickHouse(ctx context.Context, cfg ClickHouseConfig) (*ClickHouseStore, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	if err := retry.Do(ctx, retry.DefaultConfig(), func() error {
		return conn.Ping(ctx)
	}); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	log.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Database).
		Msg("Connected to ClickHouse")

	return &ClickHouseStore{conn: conn, flushSize: DefaultFlushThreshold}, nil
}

func (s *ClickHouseStore) Init(ctx context.Context, mode Mode) error {
	if mode == Recreate {
		if err := s.conn.Exec(ctx, "DROP TABLE IF EXISTS trace_events"); err != nil {
			return fmt.Errorf("failed to drop trace_events: %w", err)
		}
	}
	if err := s.conn.Exec(ctx, clickhouseSchema); err != nil {
		return fmt.Errorf("failed to create trace_events: %w", err)
	}
	return nil
}

func (s *ClickHouseStore) Begin(ctx context.Context) (Tx, error) {
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO trace_events")
	if err != nil {
		return nil, fmt.Errorf("failed to prepare batch: %w", err)
	}
	return &clickhouseTx{ctx: ctx, conn: s.conn, batch: batch, flushSize: s.flushSize}, nil
}

func (s *ClickHouseStore) Close() error {
	return s.conn.Close()
}

type clickhouseTx struct {
	ctx       context.Context
	conn      driver.Conn
	batch     driver.Batch
	flushSize int
	inBatch   int
	written   int64
}

func (t *clickhouseTx) Append(e trace.Event) error {
	err := t.batch.Append(
		e.Component,
		e.Replica,
		e.RemoteComponent,
		e.ActivityID,
		e.Type.String(),
		clampNonNegative(e.EventTime),
		clampNonNegative(e.PayloadSize),
	)
	if err != nil {
		return fmt.Errorf("failed to append to batch: %w", err)
	}
	t.inBatch++
	if t.inBatch >= t.flushSize {
		return t.flush()
	}
	return nil
}

// flush sends the accumulated batch and opens the next one.
func (t *clickhouseTx) flush() error {
	if t.inBatch == 0 {
		return nil
	}
	if err := t.batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	t.written += int64(t.inBatch)
	t.inBatch = 0

	batch, err := t.conn.PrepareBatch(t.ctx, "INSERT INTO trace_events")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	t.batch = batch
	return nil
}

func (t *clickhouseTx) Commit() (int64, error) {
	if err := t.flush(); err != nil {
		return 0, err
	}
	// flush leaves an empty prepared batch behind
	t.batch.Abort()
	log.Debug().Int64("rows", t.written).Msg("Flushed trace event batch to ClickHouse")
	return t.written, nil
}

func (t *clickhouseTx) Rollback() error {
	return t.batch.Abort()
}
