// Package router implements the Message Router component.
//
// The Message Router multiplexes every logical conversation over the single
// host socket:
//   - Correlates one request to one reply (pending table keyed by requestId)
//   - Falls back to FIFO type matching for replies that do not echo the id
//   - Delivers pushed traffic to standing routes matched by message type
//   - Fans out per-type subscriptions through broadcast listeners
//   - Rejects every in-flight request when the connection closes
//
// Inbound frames are dispatched one at a time on the connection's read
// goroutine, so frame N is fully handled before frame N+1 is looked at.
package router
