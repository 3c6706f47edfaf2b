// Package transport provides TCP transport with length-prefixed
// framing for the campus equipment backend.
//
// A frame on the wire is a 4-byte big-endian unsigned body length
// followed by that many body bytes. Bodies are capped at 64 KiB;
// exceeding the cap is a protocol error that closes the connection.
//
// The server side accumulates received chunks in a StreamBuffer and
// extracts zero or more complete bodies per read, so handler-visible
// bodies are independent of how the OS fragments the stream. The
// client side uses FrameReader/FrameWriter over a blocking socket.
package transport
