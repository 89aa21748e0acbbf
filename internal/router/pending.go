package router

import (
	"slices"
	"time"

	"github.com/hostbridge/agentsdk/internal/frame"
)

// pendingRequest is the bookkeeping for one correlated call. It is settled
// exactly once, by whoever removes it from the table.
type pendingRequest struct {
	id        string
	types     []string
	createdAt time.Time
	done      chan outcome // Buffered(1); only the remover sends
}

type outcome struct {
	frame frame.Frame
	err   error
}

func newPendingRequest(id string, types []string) *pendingRequest {
	return &pendingRequest{
		id:        id,
		types:     types,
		createdAt: time.Now(),
		done:      make(chan outcome, 1),
	}
}

func (p *pendingRequest) expects(msgType string) bool {
	return slices.Contains(p.types, msgType)
}

func (p *pendingRequest) resolve(f frame.Frame) {
	p.done <- outcome{frame: f}
}

func (p *pendingRequest) reject(err error) {
	p.done <- outcome{err: err}
}

// pendingTable keeps pending requests by id and in insertion order.
// Not safe for concurrent use; the router guards it.
type pendingTable struct {
	byID  map[string]*pendingRequest
	order []*pendingRequest
}

func newPendingTable() *pendingTable {
	return &pendingTable{byID: make(map[string]*pendingRequest)}
}

// add inserts p. Returns false if the id is already present.
func (t *pendingTable) add(p *pendingRequest) bool {
	if _, exists := t.byID[p.id]; exists {
		return false
	}
	t.byID[p.id] = p
	t.order = append(t.order, p)
	return true
}

// take removes and returns the entry for id, or nil.
func (t *pendingTable) take(id string) *pendingRequest {
	p, ok := t.byID[id]
	if !ok {
		return nil
	}
	delete(t.byID, id)
	t.order = slices.DeleteFunc(t.order, func(e *pendingRequest) bool { return e == p })
	return p
}

// takeFirstExpecting removes the oldest entry whose expected types contain
// msgType.
func (t *pendingTable) takeFirstExpecting(msgType string) *pendingRequest {
	for i, p := range t.order {
		if p.expects(msgType) {
			delete(t.byID, p.id)
			t.order = slices.Delete(t.order, i, i+1)
			return p
		}
	}
	return nil
}

// takeAll empties the table and returns every entry in insertion order.
func (t *pendingTable) takeAll() []*pendingRequest {
	all := t.order
	t.byID = make(map[string]*pendingRequest)
	t.order = nil
	return all
}

func (t *pendingTable) ids() []string {
	ids := make([]string, len(t.order))
	for i, p := range t.order {
		ids[i] = p.id
	}
	return ids
}

func (t *pendingTable) len() int {
	return len(t.order)
}
