// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Owns the single WebSocket connection to the host application
//   - Builds the connection URL from agent identification parameters
//   - Tracks the connecting / open / closed lifecycle
//   - Attaches the Message Router before the first frame is read
//   - Runs router cleanup on close, before the state flips to closed
//
// There is no outbound buffering and no automatic reconnection: every
// accessor that needs an open socket fails fast.
package connection
