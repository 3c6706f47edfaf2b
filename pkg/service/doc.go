// Package service provides high-level orchestration for the campus
// equipment backend.
//
// This package ties the lower-level components into one running
// server:
//
// # Service
//
// Service owns the TCP listener and wires its connection callbacks to
// the registry, catalog and store. It handles:
//   - Connection registration and identity binding
//   - Message dispatch to the per-kind handlers
//   - Control command forwarding to equipment connections
//   - Alert and control-response fan-out to operator consoles
//   - The heartbeat supervisor sweep
//   - The shutdown reset (all devices offline, power off)
//
// Example usage:
//
//	svc, err := service.New(service.Config{
//		Address: ":9000",
//		Store:   st,
//	})
//	svc.Start()
//	defer svc.Stop()
//
// # Message handling
//
// Every decoded message refreshes the sender's heartbeat before
// dispatch, so a busy client never times out. Unbound connections may
// only announce themselves (equipment online, operator login); any
// other kind from an unbound connection is a protocol error and the
// connection is closed.
//
// Handler errors fall into two classes. Protocol errors (malformed
// bodies, identity violations) close the connection. State and
// downstream errors (unknown device, rejected reservation, a failed
// database call) produce a negative reply on the same connection and
// the connection lives on.
package service
