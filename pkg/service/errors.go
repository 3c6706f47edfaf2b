package service

import "errors"

// Handler error classes. The dispatch loop converts these into either
// a connection close or a logged warning; state and downstream
// failures never reach here, they become negative reply frames inside
// the handlers.
var (
	// ErrProtocol marks a violation that forfeits the connection:
	// an undecodable body, an unknown kind, or a kind the sender's
	// binding state does not permit.
	ErrProtocol = errors.New("protocol violation")
)

// Close reasons recorded on the connection and in the protocol log.
const (
	ReasonProtocolError    = "protocol_error"
	ReasonDuplicateOnline  = "duplicate_online"
	ReasonHeartbeatTimeout = "heartbeat_timeout"
	ReasonShutdown         = "shutdown"
)

// Failure reasons carried in negative reply frames.
const (
	FailUnknownDevice      = "unknown_device"
	FailNotRegistered      = "not_registered"
	FailDuplicateOnline    = "duplicate_online"
	FailBadRequest         = "bad_request"
	FailInvalidCredentials = "invalid_credentials"
	FailUnknownUser        = "unknown_user"
	FailNotAdmin           = "not_admin"
	FailTimeConflict       = "time_conflict"
	FailNotFound           = "not_found"
	FailDeviceOffline      = "device_offline"
	FailWriteError         = "write_error"
	FailStorage            = "storage_error"
)
