package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/hostbridge/agentsdk/internal/router"
)

// Router is the part of the Message Router the manager drives.
type Router interface {
	Initialize(w router.Writer)
	Dispatch(data []byte)
	Cleanup()
}

// Manager owns the single host connection.
type Manager interface {
	// Connect opens the connection and attaches the router. Returns once the
	// socket is open, or on error or the connect timeout, whichever is first.
	Connect(ctx context.Context) (Client, error)

	// GetOpenConnection returns the socket if it is open. Fails with
	// ErrNotInitialized before the first Connect and ErrNotOpen otherwise.
	GetOpenConnection() (Client, error)

	// AwaitReady returns nil once the connection is open, bounded by the
	// await timeout.
	AwaitReady(ctx context.Context) error

	// WriteFrame writes one serialized frame. Satisfies router.Writer.
	WriteFrame(data []byte) error

	// Close closes the connection and waits for close handling to finish.
	Close() error

	// Done is closed when the current connection has been torn down.
	Done() <-chan struct{}

	// State returns the current lifecycle state.
	State() State

	// Stats returns current connection statistics.
	Stats() Stats
}

// session is one connection attempt and its lifecycle signals.
type session struct {
	client Client
	ready  chan struct{} // Closed when open
	done   chan struct{} // Closed after teardown (or failed dial)
	err    error         // Dial failure, set before done is closed
}

// manager implements the Manager interface.
type manager struct {
	cfg     ManagerConfig
	router  Router
	logger  *slog.Logger
	url     string
	limiter *rate.Limiter

	// newClient is swapped in tests.
	newClient func(ClientConfig, *slog.Logger) Client

	mu          sync.Mutex
	current     *session
	state       State
	connectedAt time.Time

	framesRead    atomic.Int64
	framesWritten atomic.Int64
	connects      atomic.Int64
}

// NewManager creates a new Connection Manager bound to r.
func NewManager(cfg ManagerConfig, r Router, logger *slog.Logger) Manager {
	if logger == nil {
		logger = slog.Default()
	}

	m := &manager{
		cfg:       cfg,
		router:    r,
		logger:    logger,
		url:       BuildURL(cfg.Host, cfg.Port, cfg.Path, cfg.Params, cfg.Dev),
		newClient: NewClient,
	}
	if cfg.SendRate > 0 {
		burst := cfg.SendBurst
		if burst < 1 {
			burst = 1
		}
		m.limiter = rate.NewLimiter(rate.Limit(cfg.SendRate), burst)
	}
	return m
}

// Connect opens the connection.
func (m *manager) Connect(ctx context.Context) (Client, error) {
	m.mu.Lock()
	if m.current != nil && m.state != StateClosed {
		m.mu.Unlock()
		return nil, ErrAlreadyConnected
	}

	s := &session{
		client: m.newClient(ClientConfig{
			URL:              m.url,
			HandshakeTimeout: m.cfg.ConnectTimeout,
			WriteTimeout:     m.cfg.WriteTimeout,
			PingInterval:     m.cfg.PingInterval,
			PongTimeout:      m.cfg.PongTimeout,
			ReadLimit:        m.cfg.ReadLimit,
		}, m.logger),
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
	m.current = s
	m.state = StateConnecting
	m.mu.Unlock()

	m.logger.Info("connecting to host", "url", RedactURL(m.url))

	dialCtx := ctx
	if m.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, m.cfg.ConnectTimeout)
		defer cancel()
	}

	if err := s.client.Connect(dialCtx); err != nil {
		if ctx.Err() == nil && isTimeout(dialCtx, err) {
			err = fmt.Errorf("%w after %s: %v", ErrConnectTimeout, m.cfg.ConnectTimeout, err)
		} else {
			err = fmt.Errorf("connect %s: %w", RedactURL(m.url), err)
		}
		m.fail(s, err)
		return nil, err
	}

	// Attach the router before the first read so nothing arrives unrouted.
	m.router.Initialize(m)

	m.mu.Lock()
	if m.current != s || !s.client.IsConnected() {
		// Close() ran during the handshake.
		m.mu.Unlock()
		s.client.Close()
		m.fail(s, ErrAlreadyClosed)
		return nil, ErrAlreadyClosed
	}
	m.state = StateOpen
	m.connectedAt = time.Now()
	close(s.ready)
	m.mu.Unlock()

	m.connects.Add(1)
	go m.readLoop(s)

	m.logger.Info("connected to host")
	return s.client, nil
}

// isTimeout reports whether a dial failed on the connect window rather than
// for some other reason.
func isTimeout(dialCtx context.Context, err error) bool {
	if errors.Is(dialCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// fail records a failed dial.
func (m *manager) fail(s *session, err error) {
	m.mu.Lock()
	s.err = err
	if m.current == s {
		m.state = StateClosed
	}
	m.mu.Unlock()
	close(s.done)

	m.logger.Warn("connection failed", "error", err)
}

// readLoop dispatches frames in socket order until the connection ends.
func (m *manager) readLoop(s *session) {
	err := s.client.ReadLoop(func(data []byte) {
		m.framesRead.Add(1)
		m.router.Dispatch(data)
	})
	m.handleClose(s, err)
}

// handleClose tears down in a fixed order: router cleanup first, then the
// closed state, then Done.
func (m *manager) handleClose(s *session, err error) {
	s.client.Close()
	m.router.Cleanup()

	m.mu.Lock()
	if m.current == s {
		m.state = StateClosed
	}
	m.mu.Unlock()
	close(s.done)

	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		m.logger.Warn("connection lost", "error", err)
		return
	}
	m.logger.Info("connection closed")
}

// GetOpenConnection returns the open socket.
func (m *manager) GetOpenConnection() (Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return nil, ErrNotInitialized
	}
	if m.state != StateOpen || !m.current.client.IsConnected() {
		return nil, ErrNotOpen
	}
	return m.current.client, nil
}

// AwaitReady waits for the connection to open.
func (m *manager) AwaitReady(ctx context.Context) error {
	m.mu.Lock()
	s, state := m.current, m.state
	m.mu.Unlock()

	switch {
	case s == nil:
		return ErrNotInitialized
	case state == StateOpen:
		return nil
	case state == StateClosed:
		return ErrNotOpen
	}

	var expired <-chan time.Time
	if m.cfg.AwaitTimeout > 0 {
		timer := time.NewTimer(m.cfg.AwaitTimeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-s.ready:
		return nil
	case <-s.done:
		// A done that raced ready still means the socket is gone.
		if s.err != nil {
			return s.err
		}
		return ErrNotOpen
	case <-expired:
		return fmt.Errorf("%w after %s", ErrAwaitTimeout, m.cfg.AwaitTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WriteFrame writes a frame to the open socket.
func (m *manager) WriteFrame(data []byte) error {
	c, err := m.GetOpenConnection()
	if err != nil {
		return err
	}
	if m.limiter != nil && !m.limiter.Allow() {
		return ErrRateLimited
	}
	if err := c.Send(data); err != nil {
		return err
	}
	m.framesWritten.Add(1)
	return nil
}

// Close closes the connection and waits for teardown.
func (m *manager) Close() error {
	m.mu.Lock()
	s := m.current
	m.mu.Unlock()

	if s == nil {
		return nil
	}

	err := s.client.Close()

	select {
	case <-s.done:
	case <-time.After(5 * time.Second):
		m.logger.Warn("timed out waiting for connection teardown")
	}
	return err
}

// Done returns the teardown signal for the current connection.
func (m *manager) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return m.current.done
}

// State returns the lifecycle state.
func (m *manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stats returns current statistics.
func (m *manager) Stats() Stats {
	m.mu.Lock()
	state, connectedAt := m.state, m.connectedAt
	m.mu.Unlock()

	return Stats{
		State:         state,
		URL:           RedactURL(m.url),
		ConnectedAt:   connectedAt,
		FramesRead:    m.framesRead.Load(),
		FramesWritten: m.framesWritten.Load(),
		Connects:      m.connects.Load(),
	}
}
