package journal

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hostbridge/agentsdk/internal/router"
)

// DB is the database surface the journal needs. *pgxpool.Pool satisfies it.
type DB interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Config holds recorder settings.
type Config struct {
	Table         string        // Destination table
	ConnectionID  string        // Stamped on every row
	BatchSize     int           // Rows per flush
	FlushInterval time.Duration // Max time a row waits before flush
	BufferSize    int           // Max queued rows (0 = unbounded); beyond this rows are dropped
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Table:         "agent_frames",
		BatchSize:     500,
		FlushInterval: time.Second,
		BufferSize:    10000,
	}
}

// Entry is one journaled frame.
type Entry struct {
	Direction  router.Direction
	Type       string
	RequestID  string
	Payload    []byte
	Malformed  bool
	RecordedAt time.Time
}

// Metrics contains recorder statistics.
type Metrics struct {
	Recorded  int64 // Entries accepted into the queue
	Dropped   int64 // Entries rejected because the queue was full or closed
	Inserts   int64
	Errors    int64
	Flushes   int64
	LastFlush time.Time
}
