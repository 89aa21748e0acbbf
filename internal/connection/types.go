package connection

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotInitialized   = errors.New("connection not initialized")
	ErrNotOpen          = errors.New("connection not open")
	ErrNotConnected     = errors.New("not connected")
	ErrConnectTimeout   = errors.New("connect timeout")
	ErrAwaitTimeout     = errors.New("timed out waiting for connection to open")
	ErrAlreadyConnected = errors.New("connection already open or connecting")
	ErrAlreadyClosed    = errors.New("already closed")
	ErrRateLimited      = errors.New("send rate limit exceeded")
)

// State is the connection lifecycle state.
type State int32

const (
	StateConnecting State = iota + 1
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "uninitialized"
	}
}

// Params identifies this agent to the host. Empty fields are omitted from
// the connection URL.
type Params struct {
	ConnectionID          string
	AgentID               string
	ParentID              string
	ParentAgentInstanceID string
	AgentTask             string
	ThreadToken           string
	Extra                 map[string]string // Additional pass-through query parameters
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // ws://host:port/path?...
	HandshakeTimeout time.Duration // Upper bound on the opening handshake
	WriteTimeout     time.Duration // Write deadline for sends
	PingInterval     time.Duration // Client ping cadence (0 = no heartbeat)
	PongTimeout      time.Duration // Max silence before the connection is considered stale
	ReadLimit        int64         // Max inbound frame size in bytes (0 = unlimited)
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     30 * time.Second,
		PongTimeout:      90 * time.Second,
		ReadLimit:        32 << 20,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	Host   string // Host name, or a ws:// / wss:// base URL
	Port   int
	Path   string // URL path without leading slash
	Dev    bool   // Appends dev=true
	Params Params

	ConnectTimeout time.Duration // Initial open window
	AwaitTimeout   time.Duration // AwaitReady window
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	PongTimeout    time.Duration
	ReadLimit      int64

	SendRate  float64 // Max outbound frames per second (0 = unlimited)
	SendBurst int     // Burst allowance when SendRate is set
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	client := DefaultClientConfig()
	return ManagerConfig{
		Host:           "localhost",
		Port:           12345,
		Path:           "agent",
		ConnectTimeout: 10 * time.Second,
		AwaitTimeout:   5 * time.Second,
		WriteTimeout:   client.WriteTimeout,
		PingInterval:   client.PingInterval,
		PongTimeout:    client.PongTimeout,
		ReadLimit:      client.ReadLimit,
	}
}

// Stats provides statistics about the connection manager.
type Stats struct {
	State         State
	URL           string
	ConnectedAt   time.Time
	FramesRead    int64
	FramesWritten int64
	Connects      int64
}
