package router

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hostbridge/agentsdk/internal/frame"
)

// Errors
var (
	ErrSendBeforeInit   = errors.New("router not initialized with a connection")
	ErrConnectionClosed = errors.New("connection closed")
	ErrRequestTimeout   = errors.New("request timeout")
	ErrCanceled         = errors.New("request canceled")
)

// TimeoutError reports a correlated call whose reply never arrived.
type TimeoutError struct {
	RequestID     string
	Elapsed       time.Duration
	ExpectedTypes []string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request %s timed out after %s waiting for %s",
		e.RequestID, e.Elapsed.Round(time.Millisecond), strings.Join(e.ExpectedTypes, "|"))
}

// Is makes errors.Is(err, ErrRequestTimeout) match.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrRequestTimeout
}

// Writer is the outbound half of the connection. The router never touches
// socket lifecycle, it only writes.
type Writer interface {
	WriteFrame(data []byte) error
}

// Route is a standing handler matched by message type. Routes are not
// consumed by a match.
type Route struct {
	Types   []string
	Handler func(frame.Frame)
}

// Direction tags tapped traffic.
type Direction string

const (
	Inbound  Direction = "in"
	Outbound Direction = "out"
)

// Tap observes every frame written or received, before routing.
type Tap func(dir Direction, data []byte)

// Config holds configuration for the Message Router.
type Config struct {
	ListenerBufferSize int // Channel buffer per subscription listener. Default: 64
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		ListenerBufferSize: 64,
	}
}

// Option configures optional router behavior.
type Option func(*router)

// WithTap installs a traffic observer.
func WithTap(tap Tap) Option {
	return func(r *router) {
		r.tap = tap
	}
}

// Stats contains runtime statistics.
type Stats struct {
	FramesSent     int64
	FramesReceived int64
	ResolvedByID   int64
	ResolvedByType int64
	Routed         int64
	Unmatched      int64
	ParseErrors    int64
	Timeouts       int64
	Canceled       int64
	ClosedRejected int64
	Pending        int
	Routes         int
	Subscriptions  int
}
