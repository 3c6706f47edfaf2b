package service

import (
	"strconv"

	"github.com/campuseq/campuseq-go/pkg/registry"
	"github.com/campuseq/campuseq-go/pkg/wire"
)

// ForwardResult is the synchronous outcome of a control forward. The
// device's actual command result arrives later as a control_response
// frame, or never.
type ForwardResult int

const (
	// ForwardSent means the command frame was written to the device
	// connection.
	ForwardSent ForwardResult = iota

	// ForwardDeviceOffline means no live connection is bound to the
	// device id.
	ForwardDeviceOffline

	// ForwardWriteError means the frame could not be written; the
	// transport close path will take the device offline.
	ForwardWriteError
)

// String returns the result name.
func (r ForwardResult) String() string {
	switch r {
	case ForwardSent:
		return "SENT"
	case ForwardDeviceOffline:
		return "DEVICE_OFFLINE"
	default:
		return "WRITE_ERROR"
	}
}

// Forwarder relays operator control commands to equipment
// connections. It resolves the device connection through the registry,
// writes one control_command frame and returns without waiting; the
// device's response is correlated back by device id.
type Forwarder struct {
	registry *registry.Registry
}

// NewForwarder creates a forwarder over the given registry.
func NewForwarder(r *registry.Registry) *Forwarder {
	return &Forwarder{registry: r}
}

// ForwardControl sends a control command to the device's connection.
func (f *Forwarder) ForwardControl(deviceID string, cmd wire.CmdKind, params []string) ForwardResult {
	conn, ok := f.registry.LookupDevice(deviceID)
	if !ok {
		return ForwardDeviceOffline
	}

	fields := append([]string{strconv.Itoa(int(cmd))}, params...)
	body, err := wire.Encode(wire.ClientEquipment, wire.KindControlCommand, deviceID, fields...)
	if err != nil {
		return ForwardWriteError
	}
	if err := conn.Send(body); err != nil {
		return ForwardWriteError
	}
	return ForwardSent
}
