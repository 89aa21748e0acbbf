// Package frame is the JSON codec shared by the connection and router layers.
//
// Every frame on the wire is a single JSON object. Inbound frames are
// validated into a Frame envelope (type + requestId + raw body) before the
// router ever sees them; outbound messages are any JSON-serializable value
// that encodes to an object, stamped with a requestId on the way out.
package frame
