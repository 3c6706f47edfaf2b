// Package log provides structured protocol event logging for the
// campus equipment backend.
//
// Events are captured at three layers: transport (raw frames), wire
// (decoded messages) and service (bindings, forwards, supervisor
// actions). Applications implement the Logger interface or use one of
// the provided implementations:
//
//   - FileLogger: appends CBOR-encoded events to a file
//   - SlogAdapter: mirrors events to a slog.Logger for the console
//   - MultiLogger: fans events out to several loggers
//   - NoopLogger: discards everything
//
// Recorded files can be replayed with Reader, which supports filtering
// by connection, device, kind and time range.
//
// This package records protocol traffic for diagnosis; ordinary
// application logging goes through log/slog directly.
package log
