package connection

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hostbridge/agentsdk/internal/router"
)

// fakeHost answers every frame carrying a requestId with a "<type>Response"
// frame echoing that id. It records the query of the last handshake.
type fakeHost struct {
	server *httptest.Server
	query  chan url.Values
	conns  chan *websocket.Conn
}

func newFakeHost(t *testing.T) *fakeHost {
	h := &fakeHost{
		query: make(chan url.Values, 4),
		conns: make(chan *websocket.Conn, 4),
	}
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	h.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.query <- r.URL.Query()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		h.conns <- conn

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req struct {
				Type      string `json:"type"`
				RequestID string `json:"requestId"`
			}
			if json.Unmarshal(data, &req) != nil || req.RequestID == "" {
				continue
			}
			reply, _ := json.Marshal(map[string]string{
				"type":      req.Type + "Response",
				"requestId": req.RequestID,
			})
			if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
				return
			}
		}
	}))
	return h
}

func (h *fakeHost) Close() { h.server.Close() }

func (h *fakeHost) managerConfig(t *testing.T) ManagerConfig {
	u, err := url.Parse(h.server.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	port, _ := strconv.Atoi(u.Port())

	cfg := DefaultManagerConfig()
	cfg.Host = u.Hostname()
	cfg.Port = port
	cfg.PingInterval = 0
	cfg.Params = Params{ConnectionID: "conn-1", AgentID: "agent-1"}
	return cfg
}

func TestManager_ConnectAndRequest(t *testing.T) {
	host := newFakeHost(t)
	defer host.Close()

	r := router.NewRouter(router.DefaultConfig(), nil)
	m := NewManager(host.managerConfig(t), r, nil)
	defer m.Close()

	if _, err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	q := <-host.query
	if q.Get("id") != "conn-1" || q.Get("agentId") != "agent-1" {
		t.Errorf("handshake query = %v, want id=conn-1 agentId=agent-1", q)
	}

	if m.State() != StateOpen {
		t.Errorf("State() = %v, want open", m.State())
	}
	if _, err := m.GetOpenConnection(); err != nil {
		t.Errorf("GetOpenConnection failed: %v", err)
	}

	resp, err := r.SendAndWaitForResponse(context.Background(), map[string]any{"type": "getVector"}, "getVectorResponse", time.Second)
	if err != nil {
		t.Fatalf("SendAndWaitForResponse failed: %v", err)
	}
	if resp.Type != "getVectorResponse" {
		t.Errorf("resp.Type = %s, want getVectorResponse", resp.Type)
	}

	stats := m.Stats()
	if stats.FramesWritten != 1 || stats.FramesRead != 1 {
		t.Errorf("frames written/read = %d/%d, want 1/1", stats.FramesWritten, stats.FramesRead)
	}
	if stats.Connects != 1 {
		t.Errorf("Connects = %d, want 1", stats.Connects)
	}
}

func TestManager_BeforeConnect(t *testing.T) {
	m := NewManager(DefaultManagerConfig(), router.NewRouter(router.DefaultConfig(), nil), nil)

	if _, err := m.GetOpenConnection(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("GetOpenConnection = %v, want ErrNotInitialized", err)
	}
	if err := m.AwaitReady(context.Background()); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("AwaitReady = %v, want ErrNotInitialized", err)
	}
	if err := m.WriteFrame([]byte(`{}`)); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("WriteFrame = %v, want ErrNotInitialized", err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("Close before Connect = %v, want nil", err)
	}
	select {
	case <-m.Done():
	default:
		t.Error("Done() should be closed before Connect")
	}
}

func TestManager_AlreadyConnected(t *testing.T) {
	host := newFakeHost(t)
	defer host.Close()

	m := NewManager(host.managerConfig(t), router.NewRouter(router.DefaultConfig(), nil), nil)
	defer m.Close()

	if _, err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if _, err := m.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second Connect = %v, want ErrAlreadyConnected", err)
	}
}

func TestManager_AwaitReadyOpen(t *testing.T) {
	host := newFakeHost(t)
	defer host.Close()

	m := NewManager(host.managerConfig(t), router.NewRouter(router.DefaultConfig(), nil), nil)
	defer m.Close()

	if _, err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := m.AwaitReady(context.Background()); err != nil {
		t.Errorf("AwaitReady = %v, want nil", err)
	}
}

func TestManager_CloseRejectsPending(t *testing.T) {
	// Host that never replies.
	server := mockWSServer(t, drain)
	defer server.Close()

	u, _ := url.Parse(server.URL)
	port, _ := strconv.Atoi(u.Port())
	cfg := DefaultManagerConfig()
	cfg.Host = u.Hostname()
	cfg.Port = port
	cfg.PingInterval = 0

	r := router.NewRouter(router.DefaultConfig(), nil)
	m := NewManager(cfg, r, nil)
	if _, err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	result := make(chan error, 1)
	go func() {
		_, err := r.SendAndWaitForResponse(context.Background(), map[string]any{"type": "slow"}, "slowResponse", 0)
		result <- err
	}()

	deadline := time.Now().Add(time.Second)
	for len(r.Pending()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("request never became pending")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := m.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}

	select {
	case err := <-result:
		if !errors.Is(err, router.ErrConnectionClosed) {
			t.Errorf("pending result = %v, want ErrConnectionClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("pending request not rejected on close")
	}

	if m.State() != StateClosed {
		t.Errorf("State() = %v, want closed", m.State())
	}
	if _, err := m.GetOpenConnection(); !errors.Is(err, ErrNotOpen) {
		t.Errorf("GetOpenConnection after close = %v, want ErrNotOpen", err)
	}
	if err := m.AwaitReady(context.Background()); !errors.Is(err, ErrNotOpen) {
		t.Errorf("AwaitReady after close = %v, want ErrNotOpen", err)
	}
	if len(r.Pending()) != 0 {
		t.Errorf("Pending() = %v, want empty", r.Pending())
	}
}

func TestManager_PeerClose(t *testing.T) {
	host := newFakeHost(t)
	defer host.Close()

	m := NewManager(host.managerConfig(t), router.NewRouter(router.DefaultConfig(), nil), nil)
	if _, err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	conn := <-host.conns
	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	conn.Close()

	select {
	case <-m.Done():
	case <-time.After(time.Second):
		t.Fatal("Done() not closed after peer close")
	}
	if m.State() != StateClosed {
		t.Errorf("State() = %v, want closed", m.State())
	}
}

func TestManager_Reconnect(t *testing.T) {
	host := newFakeHost(t)
	defer host.Close()

	m := NewManager(host.managerConfig(t), router.NewRouter(router.DefaultConfig(), nil), nil)
	defer m.Close()

	if _, err := m.Connect(context.Background()); err != nil {
		t.Fatalf("first Connect failed: %v", err)
	}
	m.Close()

	if _, err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect after Close failed: %v", err)
	}
	if m.State() != StateOpen {
		t.Errorf("State() = %v, want open", m.State())
	}
	if got := m.Stats().Connects; got != 2 {
		t.Errorf("Connects = %d, want 2", got)
	}
}

func TestManager_ConnectTimeout(t *testing.T) {
	// Accepts TCP but never completes the WebSocket handshake.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			defer c.Close()
		}
	}()

	cfg := DefaultManagerConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = ln.Addr().(*net.TCPAddr).Port
	cfg.ConnectTimeout = 50 * time.Millisecond

	m := NewManager(cfg, router.NewRouter(router.DefaultConfig(), nil), nil)

	_, err = m.Connect(context.Background())
	if !errors.Is(err, ErrConnectTimeout) {
		t.Fatalf("Connect = %v, want ErrConnectTimeout", err)
	}
	if m.State() != StateClosed {
		t.Errorf("State() = %v, want closed", m.State())
	}
	if err := m.AwaitReady(context.Background()); !errors.Is(err, ErrNotOpen) {
		t.Errorf("AwaitReady after failed connect = %v, want ErrNotOpen", err)
	}
}

func TestManager_AwaitReadyWhileConnecting(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			defer c.Close()
		}
	}()

	cfg := DefaultManagerConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = ln.Addr().(*net.TCPAddr).Port
	cfg.ConnectTimeout = time.Second
	cfg.AwaitTimeout = 50 * time.Millisecond

	m := NewManager(cfg, router.NewRouter(router.DefaultConfig(), nil), nil)
	go m.Connect(context.Background())

	deadline := time.Now().Add(time.Second)
	for m.State() != StateConnecting {
		if time.Now().After(deadline) {
			t.Fatal("manager never entered connecting state")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := m.AwaitReady(context.Background()); !errors.Is(err, ErrAwaitTimeout) {
		t.Errorf("AwaitReady = %v, want ErrAwaitTimeout", err)
	}
}

func TestManager_RateLimit(t *testing.T) {
	host := newFakeHost(t)
	defer host.Close()

	cfg := host.managerConfig(t)
	cfg.SendRate = 0.001
	cfg.SendBurst = 2

	m := NewManager(cfg, router.NewRouter(router.DefaultConfig(), nil), nil)
	defer m.Close()

	if _, err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := m.WriteFrame([]byte(`{"type":"log"}`)); err != nil {
			t.Fatalf("WriteFrame %d failed: %v", i, err)
		}
	}
	if err := m.WriteFrame([]byte(`{"type":"log"}`)); !errors.Is(err, ErrRateLimited) {
		t.Errorf("third WriteFrame = %v, want ErrRateLimited", err)
	}
}

func TestManager_StatsRedactsToken(t *testing.T) {
	cfg := DefaultManagerConfig()
	cfg.Params = Params{ConnectionID: "c1", ThreadToken: "secret"}

	m := NewManager(cfg, router.NewRouter(router.DefaultConfig(), nil), nil)
	stats := m.Stats()
	if stats.State != 0 {
		t.Errorf("State = %v, want uninitialized", stats.State)
	}
	u, err := url.Parse(stats.URL)
	if err != nil {
		t.Fatalf("parse stats url: %v", err)
	}
	if got := u.Query().Get("threadToken"); got != "REDACTED" {
		t.Errorf("threadToken = %q, want REDACTED", got)
	}
}
