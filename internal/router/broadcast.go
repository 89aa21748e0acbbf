package router

import (
	"sync"

	"github.com/hostbridge/agentsdk/internal/frame"
)

// Broadcast fans frames out to any number of listeners. Each listener owns
// an unbounded queue, so Publish never blocks on a slow reader.
type Broadcast struct {
	mu        sync.Mutex
	listeners map[uint64]*listener
	nextID    uint64
	closed    bool
	chanSize  int
}

type listener struct {
	queue *Queue[frame.Frame]
	done  chan struct{}
	once  sync.Once
}

func newBroadcast(chanSize int) *Broadcast {
	return &Broadcast{
		listeners: make(map[uint64]*listener),
		chanSize:  max(chanSize, 0),
	}
}

// Listen registers a listener. The returned channel yields published frames
// in order and is closed when the listener is canceled or the broadcast is
// closed. Calling cancel more than once is safe.
func (b *Broadcast) Listen() (<-chan frame.Frame, func()) {
	out := make(chan frame.Frame, b.chanSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(out)
		return out, func() {}
	}
	id := b.nextID
	b.nextID++
	l := &listener{
		queue: NewQueue[frame.Frame](0),
		done:  make(chan struct{}),
	}
	b.listeners[id] = l
	b.mu.Unlock()

	go l.pump(out)

	cancel := func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
		l.stop()
	}
	return out, cancel
}

// Publish delivers f to every current listener.
func (b *Broadcast) Publish(f frame.Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, l := range b.listeners {
		l.queue.Push(f)
	}
}

// Listeners returns the number of active listeners.
func (b *Broadcast) Listeners() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}

// Close stops every listener. Frames not yet handed to a listener channel
// are dropped and each channel is closed.
func (b *Broadcast) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	listeners := b.listeners
	b.listeners = make(map[uint64]*listener)
	b.mu.Unlock()

	for _, l := range listeners {
		l.stop()
	}
}

// pump moves frames from the queue to the listener channel.
func (l *listener) pump(out chan<- frame.Frame) {
	defer close(out)

	for {
		f, ok := l.queue.Pop()
		if !ok {
			return
		}
		select {
		case out <- f:
		case <-l.done:
			return
		}
	}
}

func (l *listener) stop() {
	l.once.Do(func() {
		close(l.done)
		l.queue.Discard()
	})
}
