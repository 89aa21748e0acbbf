package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hostbridge/agentsdk/internal/frame"
	"github.com/hostbridge/agentsdk/internal/router"
)

// ErrAlreadyStarted is returned by a second Start.
var ErrAlreadyStarted = errors.New("recorder already started")

// Recorder batches tapped frames into the journal table.
type Recorder struct {
	cfg    Config
	db     DB
	logger *slog.Logger

	input *router.Queue[Entry]

	// Batching
	batch   []Entry
	batchMu sync.Mutex

	// Lifecycle
	ctx         context.Context
	cancel      context.CancelFunc
	consumeDone chan struct{}
	flushDone   chan struct{}
	started     bool

	// Metrics
	metricsMu sync.Mutex
	metrics   Metrics

	now func() time.Time
}

// NewRecorder creates a new Recorder.
func NewRecorder(cfg Config, db DB, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultConfig().FlushInterval
	}
	if cfg.Table == "" {
		cfg.Table = DefaultConfig().Table
	}
	return &Recorder{
		cfg:    cfg,
		db:     db,
		logger: logger,
		input:  router.NewQueue[Entry](max(cfg.BufferSize, 0)),
		batch:  make([]Entry, 0, cfg.BatchSize),
		now:    time.Now,
	}
}

// Tap returns the router tap that feeds this recorder.
func (r *Recorder) Tap() router.Tap {
	return r.Record
}

// Record enqueues one frame. Malformed frames are journaled as a JSON
// string with no type. Never blocks.
func (r *Recorder) Record(dir router.Direction, data []byte) {
	e := Entry{
		Direction:  dir,
		Payload:    data,
		RecordedAt: r.now(),
	}
	if f, err := frame.Decode(data); err == nil {
		e.Type = f.Type
		e.RequestID = f.RequestID
	} else {
		// Keep the payload column valid JSON.
		e.Payload, _ = json.Marshal(string(data))
		e.Malformed = true
	}

	if err := r.input.Push(e); err != nil {
		r.countDropped()
		return
	}

	r.metricsMu.Lock()
	r.metrics.Recorded++
	r.metricsMu.Unlock()
}

func (r *Recorder) countDropped() {
	r.metricsMu.Lock()
	r.metrics.Dropped++
	dropped := r.metrics.Dropped
	r.metricsMu.Unlock()

	// Log the first drop and then every thousandth.
	if dropped == 1 || dropped%1000 == 0 {
		r.logger.Warn("journal queue full, dropping frames", "dropped", dropped)
	}
}

// Start begins consuming entries and writing to the database.
func (r *Recorder) Start(ctx context.Context) error {
	if r.started {
		return ErrAlreadyStarted
	}
	r.started = true
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.consumeDone = make(chan struct{})
	r.flushDone = make(chan struct{})
	go r.consumeLoop()
	go r.flushLoop()

	r.logger.Info("journal recorder started",
		"table", r.cfg.Table,
		"batch_size", r.cfg.BatchSize,
		"flush_interval", r.cfg.FlushInterval,
	)
	return nil
}

// Stop drains queued entries, performs a final flush and shuts down.
func (r *Recorder) Stop(ctx context.Context) error {
	r.logger.Info("stopping journal recorder")

	// Closing the queue lets consumeLoop drain what is left and exit.
	r.input.Close()
	if !r.started {
		return nil
	}

	var err error
	select {
	case <-r.consumeDone:
	case <-ctx.Done():
		r.logger.Warn("journal recorder stop timed out")
		err = ctx.Err()
	}

	r.cancel()
	<-r.flushDone

	// Final flush uses the caller's context; the run context is gone.
	r.flush(ctx)

	r.logger.Info("journal recorder stopped", "inserts", r.Stats().Inserts)
	return err
}

// Stats returns current metrics.
func (r *Recorder) Stats() Metrics {
	r.metricsMu.Lock()
	defer r.metricsMu.Unlock()
	return r.metrics
}

// consumeLoop moves entries from the queue into the batch.
func (r *Recorder) consumeLoop() {
	defer close(r.consumeDone)

	for {
		e, ok := r.input.Pop()
		if !ok {
			return
		}

		r.batchMu.Lock()
		r.batch = append(r.batch, e)
		shouldFlush := len(r.batch) >= r.cfg.BatchSize
		r.batchMu.Unlock()

		if shouldFlush {
			r.flush(r.ctx)
		}
	}
}

// flushLoop periodically flushes the batch.
func (r *Recorder) flushLoop() {
	defer close(r.flushDone)

	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.flush(r.ctx)
		}
	}
}

// flush writes the current batch to the database.
func (r *Recorder) flush(ctx context.Context) {
	r.batchMu.Lock()
	if len(r.batch) == 0 {
		r.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := r.batch
	r.batch = make([]Entry, 0, r.cfg.BatchSize)
	r.batchMu.Unlock()

	err := r.insert(ctx, batch)

	r.metricsMu.Lock()
	r.metrics.Flushes++
	r.metrics.LastFlush = r.now()
	if err != nil {
		r.metrics.Errors++
	} else {
		r.metrics.Inserts += int64(len(batch))
	}
	r.metricsMu.Unlock()

	if err != nil {
		r.logger.Error("journal batch insert failed", "error", err, "count", len(batch))
		return
	}
	r.logger.Debug("journal flushed", "count", len(batch))
}

func (r *Recorder) insert(ctx context.Context, rows []Entry) error {
	query := fmt.Sprintf(`INSERT INTO %s
		(connection_id, direction, msg_type, request_id, payload, malformed, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`, pgx.Identifier{r.cfg.Table}.Sanitize())

	batch := &pgx.Batch{}
	for _, e := range rows {
		batch.Queue(query,
			r.cfg.ConnectionID,
			string(e.Direction),
			nullable(e.Type),
			nullable(e.RequestID),
			e.Payload,
			e.Malformed,
			e.RecordedAt,
		)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
