package router

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/hostbridge/agentsdk/internal/frame"
)

func nextFrame(t *testing.T, ch <-chan frame.Frame) frame.Frame {
	t.Helper()
	select {
	case f, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return f
	case <-time.After(time.Second):
		t.Fatal("no frame delivered")
		return frame.Frame{}
	}
}

func expectClosed(t *testing.T, ch <-chan frame.Frame) {
	t.Helper()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel, got a frame")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
}

func TestRouter_RouteNotConsumed(t *testing.T) {
	r, _ := newTestRouter(t)

	var mu sync.Mutex
	var got []string
	r.RegisterRoute(Route{
		Types: []string{"terminal.output", "terminal.exit"},
		Handler: func(f frame.Frame) {
			mu.Lock()
			got = append(got, f.Type)
			mu.Unlock()
		},
	})

	r.Dispatch([]byte(`{"type":"terminal.output"}`))
	r.Dispatch([]byte(`{"type":"terminal.output"}`))
	r.Dispatch([]byte(`{"type":"terminal.exit"}`))

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 {
		t.Errorf("handler calls = %v, want 3", got)
	}
	if r.Stats().Routed != 3 {
		t.Errorf("Routed = %d, want 3", r.Stats().Routed)
	}
}

func TestRouter_PendingBeatsRoute(t *testing.T) {
	r, _ := newTestRouter(t)

	called := false
	r.RegisterRoute(Route{Types: []string{"T"}, Handler: func(frame.Frame) { called = true }})

	_, ch := startRequest(t, r, map[string]any{"type": "q"}, "T", 0)
	r.Dispatch([]byte(`{"type":"T"}`))

	if res := recv(t, ch); res.err != nil {
		t.Errorf("request failed: %v", res.err)
	}
	if called {
		t.Error("route handler ran for a frame consumed by a pending request")
	}

	r.Dispatch([]byte(`{"type":"T"}`))
	if !called {
		t.Error("route handler did not run once no request was pending")
	}
}

func TestRouter_FirstRouteWins(t *testing.T) {
	r, _ := newTestRouter(t)

	var order []string
	unregister := r.RegisterRoute(Route{Types: []string{"T"}, Handler: func(frame.Frame) { order = append(order, "first") }})
	r.RegisterRoute(Route{Types: []string{"T"}, Handler: func(frame.Frame) { order = append(order, "second") }})

	r.Dispatch([]byte(`{"type":"T"}`))
	unregister()
	unregister()
	r.Dispatch([]byte(`{"type":"T"}`))

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("order = %v, want [first second]", order)
	}
	if r.Stats().Routes != 1 {
		t.Errorf("Routes = %d, want 1", r.Stats().Routes)
	}
}

func TestRouter_HandlerMayRegisterRoutes(t *testing.T) {
	r, _ := newTestRouter(t)

	var unregister func()
	unregister = r.RegisterRoute(Route{Types: []string{"once"}, Handler: func(frame.Frame) {
		unregister()
		r.RegisterRoute(Route{Types: []string{"after"}, Handler: func(frame.Frame) {}})
	}})

	r.Dispatch([]byte(`{"type":"once"}`))
	r.Dispatch([]byte(`{"type":"once"}`))

	if stats := r.Stats(); stats.Routes != 1 || stats.Routed != 1 || stats.Unmatched != 1 {
		t.Errorf("stats = %+v, want 1 route, 1 routed, 1 unmatched", stats)
	}
}

func TestRouter_HandlerPanicRecovered(t *testing.T) {
	r, _ := newTestRouter(t)
	r.RegisterRoute(Route{Types: []string{"boom"}, Handler: func(frame.Frame) { panic("handler bug") }})

	r.Dispatch([]byte(`{"type":"boom"}`))

	_, ch := startRequest(t, r, map[string]any{"type": "q"}, "ok", 0)
	r.Dispatch([]byte(`{"type":"ok"}`))
	if res := recv(t, ch); res.err != nil {
		t.Errorf("router unusable after handler panic: %v", res.err)
	}
}

func TestRouter_GenericMessages(t *testing.T) {
	r, _ := newTestRouter(t)
	ch, cancel := r.Messages().Listen()
	defer cancel()

	r.Dispatch([]byte(`{"text":"no type at all"}`))
	r.Dispatch([]byte(`{"type":"chat.message","text":"hi"}`))

	if f := nextFrame(t, ch); f.Type != "" {
		t.Errorf("first generic frame type = %q, want empty", f.Type)
	}
	if f := nextFrame(t, ch); f.Type != "chat.message" {
		t.Errorf("second generic frame type = %q, want chat.message", f.Type)
	}
	if r.Stats().Unmatched != 2 {
		t.Errorf("Unmatched = %d, want 2", r.Stats().Unmatched)
	}
}

func TestRouter_SubscribeIdempotent(t *testing.T) {
	r, _ := newTestRouter(t)

	a := r.Subscribe("foo")
	b := r.Subscribe("foo")
	if a != b {
		t.Fatal("Subscribe returned different subscriptions for the same type")
	}
	if stats := r.Stats(); stats.Routes != 1 || stats.Subscriptions != 1 {
		t.Errorf("Routes/Subscriptions = %d/%d, want 1/1", stats.Routes, stats.Subscriptions)
	}

	chA, cancelA := a.Listen()
	defer cancelA()
	chB, cancelB := b.Listen()
	defer cancelB()

	r.Dispatch([]byte(`{"type":"foo","n":1}`))

	for _, ch := range []<-chan frame.Frame{chA, chB} {
		if f := nextFrame(t, ch); f.Type != "foo" {
			t.Errorf("frame type = %q, want foo", f.Type)
		}
	}
	if a.Listeners() != 2 {
		t.Errorf("Listeners = %d, want 2", a.Listeners())
	}
}

func TestRouter_SubscriptionOrdering(t *testing.T) {
	r, _ := newTestRouter(t)
	ch, cancel := r.Subscribe("tick").Listen()
	defer cancel()

	for i := 0; i < 200; i++ {
		r.Dispatch([]byte(`{"type":"tick","n":` + strconv.Itoa(i) + `}`))
	}
	for i := 0; i < 200; i++ {
		var body struct{ N int }
		if err := nextFrame(t, ch).Unmarshal(&body); err != nil || body.N != i {
			t.Fatalf("frame %d has n=%d (err %v)", i, body.N, err)
		}
	}
}

func TestRouter_Unsubscribe(t *testing.T) {
	r, _ := newTestRouter(t)

	sub := r.Subscribe("foo")
	ch, _ := sub.Listen()

	r.Unsubscribe("foo")
	expectClosed(t, ch)

	if stats := r.Stats(); stats.Routes != 0 || stats.Subscriptions != 0 {
		t.Errorf("Routes/Subscriptions = %d/%d, want 0/0", stats.Routes, stats.Subscriptions)
	}

	// Frames for the type now reach the generic broadcast.
	generic, cancel := r.Messages().Listen()
	defer cancel()
	r.Dispatch([]byte(`{"type":"foo"}`))
	nextFrame(t, generic)

	// Unsubscribing twice, or via a stale handle, is a no-op.
	r.Unsubscribe("foo")
	fresh := r.Subscribe("foo")
	sub.Unsubscribe()
	if fresh == sub {
		t.Error("Subscribe after Unsubscribe returned the closed subscription")
	}
	if r.Stats().Subscriptions != 1 {
		t.Error("stale Unsubscribe removed the new subscription")
	}

	fresh.Unsubscribe()
	if r.Stats().Subscriptions != 0 {
		t.Error("Subscription.Unsubscribe did not remove the subscription")
	}
}

func TestBroadcast_CancelListener(t *testing.T) {
	b := newBroadcast(4)
	ch1, cancel1 := b.Listen()
	ch2, cancel2 := b.Listen()
	defer cancel2()

	cancel1()
	cancel1()
	expectClosed(t, ch1)

	b.Publish(frame.Frame{Type: "x"})
	if f := nextFrame(t, ch2); f.Type != "x" {
		t.Errorf("frame type = %q, want x", f.Type)
	}
	if b.Listeners() != 1 {
		t.Errorf("Listeners = %d, want 1", b.Listeners())
	}
}

func TestBroadcast_ListenAfterClose(t *testing.T) {
	b := newBroadcast(4)
	b.Close()
	b.Close()

	ch, cancel := b.Listen()
	defer cancel()
	expectClosed(t, ch)
}

// drainUntilClosed reads ch until it is closed and returns how many frames
// arrived first.
func drainUntilClosed(t *testing.T, ch <-chan frame.Frame) int {
	t.Helper()
	received := 0
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return received
			}
			received++
		case <-deadline:
			t.Fatal("listener channel not closed")
			return received
		}
	}
}

func TestRouter_UnsubscribeReleasesIdleListener(t *testing.T) {
	r, _ := newTestRouter(t)
	ch, _ := r.Subscribe("tick").Listen()

	// Overfill the listener channel so its pump is parked on a send.
	for i := 0; i < 100; i++ {
		r.Dispatch([]byte(`{"type":"tick"}`))
	}
	r.Unsubscribe("tick")

	if n := drainUntilClosed(t, ch); n >= 100 {
		t.Errorf("received %d frames, want queued frames dropped", n)
	}
}

func TestBroadcast_CloseStopsBlockedListener(t *testing.T) {
	b := newBroadcast(0)
	ch, cancel := b.Listen()
	defer cancel()

	for i := 0; i < 10; i++ {
		b.Publish(frame.Frame{Type: "x"})
	}
	time.Sleep(10 * time.Millisecond)
	b.Close()

	if n := drainUntilClosed(t, ch); n > 1 {
		t.Errorf("received %d frames after Close, want at most the one in flight", n)
	}
}
