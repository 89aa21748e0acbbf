package router

import (
	"errors"
	"sync"
)

// Queue errors
var (
	ErrQueueFull   = errors.New("queue full")
	ErrQueueClosed = errors.New("queue closed")
)

// Queue is a FIFO handoff between a producer that must never block (the
// dispatch goroutine) and one consumer. With a limit of 0 it is unbounded;
// otherwise Push rejects items beyond the limit.
type Queue[T any] struct {
	mu     sync.Mutex
	ready  *sync.Cond
	items  []T
	head   int // index of the oldest item in items
	limit  int
	closed bool
}

// NewQueue creates a queue holding at most limit items (0 = no limit).
func NewQueue[T any](limit int) *Queue[T] {
	q := &Queue[T]{limit: limit}
	q.ready = sync.NewCond(&q.mu)
	return q
}

// Push appends an item without blocking.
func (q *Queue[T]) Push(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if q.limit > 0 && len(q.items)-q.head >= q.limit {
		return ErrQueueFull
	}

	q.items = append(q.items, item)
	q.ready.Signal()
	return nil
}

// Pop blocks until an item is available. After Close, queued items are
// still returned; ok is false once the queue is closed and empty.
func (q *Queue[T]) Pop() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.head == len(q.items) && !q.closed {
		q.ready.Wait()
	}
	if q.head == len(q.items) {
		return item, false
	}

	var zero T
	item = q.items[q.head]
	q.items[q.head] = zero
	q.head++

	// Reclaim the consumed prefix once it dominates the slice.
	if q.head == len(q.items) {
		q.items, q.head = q.items[:0], 0
	} else if q.head >= 64 && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items, q.head = q.items[:n], 0
	}
	return item, true
}

// Close stops accepting items and wakes the consumer. Queued items are
// still delivered by Pop.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.ready.Broadcast()
}

// Discard closes the queue and drops whatever is still queued, so a
// blocked or later Pop returns immediately.
func (q *Queue[T]) Discard() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	clear(q.items)
	q.items, q.head = nil, 0
	q.ready.Broadcast()
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}
