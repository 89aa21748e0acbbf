package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hostbridge/agentsdk/internal/frame"
)

// Router correlates requests with replies and routes pushed frames.
type Router interface {
	// Initialize attaches the connection used for writes.
	Initialize(w Writer)

	// Send writes a message without waiting for a reply. A requestId is
	// added unless the message already carries one. Returns the id used.
	Send(msg any) (string, error)

	// SendAndWaitForResponse writes a message stamped with a fresh requestId
	// and waits for the first frame that matches it. expectedTypes is a
	// pipe-delimited list ("A|B"). timeout <= 0 waits until ctx is done or
	// the connection closes.
	SendAndWaitForResponse(ctx context.Context, msg any, expectedTypes string, timeout time.Duration) (frame.Frame, error)

	// Dispatch handles one inbound frame. Called by the connection's read
	// loop, one frame at a time.
	Dispatch(data []byte)

	// RegisterRoute adds a standing route and returns its de-registration.
	RegisterRoute(route Route) (unregister func())

	// Subscribe returns the subscription for msgType, creating it if needed.
	Subscribe(msgType string) *Subscription

	// Unsubscribe closes the subscription for msgType and removes its route.
	Unsubscribe(msgType string)

	// Messages carries frames that matched no pending request and no route.
	Messages() *Broadcast

	// Cleanup rejects every pending request with ErrConnectionClosed.
	// Routes and subscriptions stay registered.
	Cleanup()

	// Pending returns pending request ids in insertion order.
	Pending() []string

	// Stats returns current router statistics.
	Stats() Stats
}

// routeEntry is one registered route. De-registration removes this exact
// instance.
type routeEntry struct {
	types   []string
	handler func(frame.Frame)
}

func (e *routeEntry) matches(msgType string) bool {
	for _, t := range e.types {
		if t == msgType {
			return true
		}
	}
	return false
}

// router is the internal implementation.
type router struct {
	cfg    Config
	logger *slog.Logger
	tap    Tap

	messages *Broadcast

	mu            sync.Mutex
	writer        Writer
	pending       *pendingTable
	routes        []*routeEntry
	subscriptions map[string]*Subscription
	stats         Stats
}

// NewRouter creates a new Message Router.
func NewRouter(cfg Config, logger *slog.Logger, opts ...Option) Router {
	if logger == nil {
		logger = slog.Default()
	}

	r := &router{
		cfg:           cfg,
		logger:        logger,
		messages:      newBroadcast(cfg.ListenerBufferSize),
		pending:       newPendingTable(),
		subscriptions: make(map[string]*Subscription),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Initialize attaches the connection.
func (r *router) Initialize(w Writer) {
	r.mu.Lock()
	r.writer = w
	r.mu.Unlock()

	r.logger.Debug("message router attached")
}

// Send writes a fire-and-forget message.
func (r *router) Send(msg any) (string, error) {
	w := r.currentWriter()
	if w == nil {
		return "", ErrSendBeforeInit
	}

	data, id, err := frame.Stamp(msg, frame.NewRequestID(), false)
	if err != nil {
		return "", err
	}
	if err := r.write(w, data); err != nil {
		return "", fmt.Errorf("send %s: %w", id, err)
	}
	return id, nil
}

// SendAndWaitForResponse writes a correlated request and waits for its reply.
func (r *router) SendAndWaitForResponse(ctx context.Context, msg any, expectedTypes string, timeout time.Duration) (frame.Frame, error) {
	types, err := frame.ParseExpectedTypes(expectedTypes)
	if err != nil {
		return frame.Frame{}, err
	}

	w := r.currentWriter()
	if w == nil {
		return frame.Frame{}, ErrSendBeforeInit
	}

	id := frame.NewRequestID()
	data, _, err := frame.Stamp(msg, id, true)
	if err != nil {
		return frame.Frame{}, err
	}

	// Register before writing so a fast reply always finds its waiter.
	p := newPendingRequest(id, types)
	r.mu.Lock()
	added := r.pending.add(p)
	r.mu.Unlock()
	if !added {
		return frame.Frame{}, fmt.Errorf("duplicate request id %s", id)
	}

	if err := r.write(w, data); err != nil {
		r.take(id)
		return frame.Frame{}, fmt.Errorf("send %s: %w", id, err)
	}

	return r.await(ctx, p, timeout)
}

// await races the reply against the timeout and ctx. Whichever side removes
// the entry from the table owns the outcome; a loser falls back to reading
// the outcome the winner delivered.
func (r *router) await(ctx context.Context, p *pendingRequest, timeout time.Duration) (frame.Frame, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case out := <-p.done:
		return out.frame, out.err

	case <-expired:
		if r.take(p.id) != nil {
			elapsed := time.Since(p.createdAt)
			r.mu.Lock()
			r.stats.Timeouts++
			r.mu.Unlock()
			r.logger.Warn("request timed out",
				"request_id", p.id,
				"expected", p.types,
				"elapsed", elapsed,
			)
			return frame.Frame{}, &TimeoutError{RequestID: p.id, Elapsed: elapsed, ExpectedTypes: p.types}
		}

	case <-ctx.Done():
		if r.take(p.id) != nil {
			r.mu.Lock()
			r.stats.Canceled++
			r.mu.Unlock()
			return frame.Frame{}, fmt.Errorf("%w: %w", ErrCanceled, ctx.Err())
		}
	}

	out := <-p.done
	return out.frame, out.err
}

// Dispatch decodes and routes one inbound frame. Exactly one of the
// following happens: exact requestId match, oldest pending request expecting
// the type, first route for the type, generic message broadcast.
func (r *router) Dispatch(data []byte) {
	if r.tap != nil {
		r.tap(Inbound, data)
	}

	f, err := frame.Decode(data)
	if err != nil {
		r.mu.Lock()
		r.stats.ParseErrors++
		r.mu.Unlock()
		r.logger.Warn("dropping malformed frame", "error", err, "size", len(data))
		return
	}

	r.mu.Lock()
	r.stats.FramesReceived++

	if f.RequestID != "" {
		if p := r.pending.take(f.RequestID); p != nil {
			r.stats.ResolvedByID++
			r.mu.Unlock()
			p.resolve(f)
			return
		}
	}

	if f.Type != "" {
		if p := r.pending.takeFirstExpecting(f.Type); p != nil {
			r.stats.ResolvedByType++
			r.mu.Unlock()
			r.logger.Debug("resolved request by type",
				"request_id", p.id,
				"type", f.Type,
				"frame_request_id", f.RequestID,
			)
			p.resolve(f)
			return
		}

		for _, e := range r.routes {
			if e.matches(f.Type) {
				r.stats.Routed++
				handler := e.handler
				r.mu.Unlock()
				r.invoke(handler, f)
				return
			}
		}
	}

	r.stats.Unmatched++
	r.mu.Unlock()
	r.messages.Publish(f)
}

// invoke runs a route handler outside the table lock. A panicking handler is
// logged and does not take down the read loop.
func (r *router) invoke(handler func(frame.Frame), f frame.Frame) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("route handler panicked", "type", f.Type, "panic", rec)
		}
	}()
	handler(f)
}

// RegisterRoute appends a route.
func (r *router) RegisterRoute(route Route) func() {
	e := &routeEntry{types: append([]string(nil), route.Types...), handler: route.Handler}

	r.mu.Lock()
	r.routes = append(r.routes, e)
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			r.removeRouteLocked(e)
			r.mu.Unlock()
		})
	}
}

// removeRouteLocked splices e out of the route table. Must hold r.mu.
func (r *router) removeRouteLocked(e *routeEntry) {
	for i, existing := range r.routes {
		if existing == e {
			r.routes = append(r.routes[:i:i], r.routes[i+1:]...)
			return
		}
	}
}

// Messages returns the generic message broadcast.
func (r *router) Messages() *Broadcast {
	return r.messages
}

// Cleanup rejects all pending requests.
func (r *router) Cleanup() {
	r.mu.Lock()
	rejected := r.pending.takeAll()
	r.stats.ClosedRejected += int64(len(rejected))
	r.mu.Unlock()

	for _, p := range rejected {
		p.reject(ErrConnectionClosed)
	}

	if len(rejected) > 0 {
		r.logger.Info("rejected pending requests on close", "count", len(rejected))
	}
}

// Pending returns pending request ids.
func (r *router) Pending() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending.ids()
}

// Stats returns current statistics.
func (r *router) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.stats
	s.Pending = r.pending.len()
	s.Routes = len(r.routes)
	s.Subscriptions = len(r.subscriptions)
	return s
}

func (r *router) currentWriter() Writer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writer
}

func (r *router) take(id string) *pendingRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending.take(id)
}

// write sends one frame. Only frames the connection accepted reach the tap.
func (r *router) write(w Writer, data []byte) error {
	if err := w.WriteFrame(data); err != nil {
		return err
	}
	if r.tap != nil {
		r.tap(Outbound, data)
	}
	r.mu.Lock()
	r.stats.FramesSent++
	r.mu.Unlock()
	return nil
}
