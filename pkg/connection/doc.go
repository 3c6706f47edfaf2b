// Package connection manages the client-side connection lifecycle for
// equipment simulators: one session at a time, automatic reconnection
// with jittered exponential backoff, and state callbacks for logging.
//
// The server side does not use this package; server connections are
// accepted, never dialed.
package connection
