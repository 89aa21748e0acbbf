package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/hostbridge/agentsdk/internal/config"
	"github.com/hostbridge/agentsdk/internal/connection"
	"github.com/hostbridge/agentsdk/internal/database"
	"github.com/hostbridge/agentsdk/internal/frame"
	"github.com/hostbridge/agentsdk/internal/journal"
	"github.com/hostbridge/agentsdk/internal/logging"
	"github.com/hostbridge/agentsdk/internal/router"
)

// ErrNotStarted is returned by Shutdown before Start.
var ErrNotStarted = errors.New("agent not started")

// Option configures an Agent.
type Option func(*options)

type options struct {
	params    *connection.Params
	routerCfg router.Config
	journalDB journal.DB
	tap       router.Tap
}

// WithParams sets the identification parameters instead of reading them
// from the process environment.
func WithParams(p connection.Params) Option {
	return func(o *options) { o.params = &p }
}

// WithRouterConfig overrides router settings.
func WithRouterConfig(cfg router.Config) Option {
	return func(o *options) { o.routerCfg = cfg }
}

// WithJournalDB supplies the journal database instead of opening a pool
// from config.
func WithJournalDB(db journal.DB) Option {
	return func(o *options) { o.journalDB = db }
}

// WithTap adds an observer of all traffic, alongside the journal.
func WithTap(tap router.Tap) Option {
	return func(o *options) { o.tap = tap }
}

// Stats aggregates component statistics.
type Stats struct {
	Connection connection.Stats
	Router     router.Stats
	Journal    *journal.Metrics // nil when the journal is disabled
}

// Agent is the per-process handle to the host.
type Agent struct {
	cfg          *config.Config
	opts         options
	logger       *slog.Logger
	connectionID string

	router router.Router
	conn   connection.Manager

	recorder atomic.Pointer[journal.Recorder]
	closeDB  func()

	mu      sync.Mutex
	started bool
	stopped bool
}

// New builds an Agent from cfg. Nothing touches the network until Start.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Agent, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	o := options{routerCfg: router.DefaultConfig()}
	for _, opt := range opts {
		opt(&o)
	}

	var params connection.Params
	if o.params != nil {
		params = *o.params
		if params.ConnectionID == "" {
			params.ConnectionID = frame.NewRequestID()
		}
	} else {
		params = config.ProcessParams()
	}

	a := &Agent{
		cfg:          cfg,
		opts:         o,
		logger:       logger,
		connectionID: params.ConnectionID,
		closeDB:      func() {},
	}

	a.router = router.NewRouter(o.routerCfg, logging.Component(logger, "router"), router.WithTap(a.tap))
	a.conn = connection.NewManager(cfg.ManagerConfig(params), a.router, logging.Component(logger, "connection"))

	return a, nil
}

// tap fans traffic out to the journal and any user tap.
func (a *Agent) tap(dir router.Direction, data []byte) {
	if rec := a.recorder.Load(); rec != nil {
		rec.Record(dir, data)
	}
	if a.opts.tap != nil {
		a.opts.tap(dir, data)
	}
}

// Start prepares the journal and connects to the host in parallel. Returns
// once the connection is open. A failure on either side aborts both.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return connection.ErrAlreadyConnected
	}
	a.started = true
	a.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)

	if a.cfg.Journal.Enabled {
		g.Go(func() error {
			return a.startJournal(gctx)
		})
	}

	g.Go(func() error {
		if _, err := a.conn.Connect(gctx); err != nil {
			return err
		}
		return a.conn.AwaitReady(gctx)
	})

	if err := g.Wait(); err != nil {
		a.conn.Close()
		if rec := a.recorder.Swap(nil); rec != nil {
			rec.Stop(context.Background())
		}
		a.closeDB()
		return err
	}

	a.logger.Info("agent started", "url", a.conn.Stats().URL, "journal", a.cfg.Journal.Enabled)
	return nil
}

func (a *Agent) startJournal(ctx context.Context) error {
	jc := a.cfg.Journal

	db := a.opts.journalDB
	if db == nil {
		pool, err := database.Connect(ctx, jc.Database, logging.Component(a.logger, "database"))
		if err != nil {
			return fmt.Errorf("journal: %w", err)
		}
		db = pool
		a.closeDB = pool.Close
	}

	if err := journal.EnsureSchema(ctx, db, jc.Table); err != nil {
		return err
	}

	rec := journal.NewRecorder(journal.Config{
		Table:         jc.Table,
		ConnectionID:  a.connectionID,
		BatchSize:     jc.BatchSize,
		FlushInterval: jc.FlushInterval,
		BufferSize:    jc.BufferSize,
	}, db, logging.Component(a.logger, "journal"))

	// The recorder outlives Start's context.
	if err := rec.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	a.recorder.Store(rec)
	return nil
}

// Shutdown closes the connection, which rejects every pending request,
// then flushes and stops the journal.
func (a *Agent) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return ErrNotStarted
	}
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	a.mu.Unlock()

	var errs []error
	if err := a.conn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close connection: %w", err))
	}

	if rec := a.recorder.Swap(nil); rec != nil {
		if err := rec.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop journal: %w", err))
		}
	}
	a.closeDB()

	a.logger.Info("agent stopped")
	return errors.Join(errs...)
}

// ConnectionID returns the id this agent announced to the host.
func (a *Agent) ConnectionID() string {
	return a.connectionID
}

// Router returns the Message Router.
func (a *Agent) Router() router.Router {
	return a.router
}

// Connection returns the Connection Manager.
func (a *Agent) Connection() connection.Manager {
	return a.conn
}

// Done is closed when the host connection goes away.
func (a *Agent) Done() <-chan struct{} {
	return a.conn.Done()
}

// Send writes a fire-and-forget message and returns its request id.
func (a *Agent) Send(msg any) (string, error) {
	return a.router.Send(msg)
}

// Request sends msg and waits for a reply of one of expectedTypes ("A|B"),
// bounded by the configured request timeout.
func (a *Agent) Request(ctx context.Context, msg any, expectedTypes string) (frame.Frame, error) {
	return a.router.SendAndWaitForResponse(ctx, msg, expectedTypes, a.cfg.Timeouts.Request)
}

// Subscribe returns the subscription for msgType.
func (a *Agent) Subscribe(msgType string) *router.Subscription {
	return a.router.Subscribe(msgType)
}

// Stats returns aggregated statistics.
func (a *Agent) Stats() Stats {
	s := Stats{
		Connection: a.conn.Stats(),
		Router:     a.router.Stats(),
	}
	if rec := a.recorder.Load(); rec != nil {
		m := rec.Stats()
		s.Journal = &m
	}
	return s
}
