package router

import (
	"github.com/hostbridge/agentsdk/internal/frame"
)

// Subscription is the single per-type event stream. Repeated Subscribe calls
// for the same type return the same *Subscription.
type Subscription struct {
	msgType string
	events  *Broadcast
	router  *router
	entry   *routeEntry
}

// Type returns the subscribed message type.
func (s *Subscription) Type() string {
	return s.msgType
}

// Listen returns a channel of matching frames and a cancel func for this
// listener only.
func (s *Subscription) Listen() (<-chan frame.Frame, func()) {
	return s.events.Listen()
}

// Listeners returns the number of active listeners.
func (s *Subscription) Listeners() int {
	return s.events.Listeners()
}

// Unsubscribe closes the subscription and removes its route.
func (s *Subscription) Unsubscribe() {
	s.router.unsubscribe(s)
}

// Subscribe returns the subscription for msgType.
func (r *router) Subscribe(msgType string) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sub, ok := r.subscriptions[msgType]; ok {
		return sub
	}

	sub := &Subscription{
		msgType: msgType,
		events:  newBroadcast(r.cfg.ListenerBufferSize),
		router:  r,
	}
	sub.entry = &routeEntry{
		types:   []string{msgType},
		handler: sub.events.Publish,
	}
	r.routes = append(r.routes, sub.entry)
	r.subscriptions[msgType] = sub

	r.logger.Debug("subscribed", "type", msgType)
	return sub
}

// Unsubscribe removes the subscription for msgType, if any.
func (r *router) Unsubscribe(msgType string) {
	r.mu.Lock()
	sub, ok := r.subscriptions[msgType]
	r.mu.Unlock()

	if ok {
		r.unsubscribe(sub)
	}
}

func (r *router) unsubscribe(sub *Subscription) {
	r.mu.Lock()
	if r.subscriptions[sub.msgType] != sub {
		r.mu.Unlock()
		return
	}
	delete(r.subscriptions, sub.msgType)
	r.removeRouteLocked(sub.entry)
	r.mu.Unlock()

	sub.events.Close()
	r.logger.Debug("unsubscribed", "type", sub.msgType)
}
