package service

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/campuseq/campuseq-go/pkg/catalog"
	"github.com/campuseq/campuseq-go/pkg/registry"
	"github.com/campuseq/campuseq-go/pkg/store"
	"github.com/campuseq/campuseq-go/pkg/wire"
)

// TimeLayout is the wall-clock layout used in reservation payloads.
const TimeLayout = "2006-01-02 15:04"

// RecordSep joins embedded records inside one reply payload. Record
// fields keep the regular separator; the remainder is never re-split
// by the codec, so the inner separators survive.
const RecordSep = ";"

// DefaultSamplePeriod is the assumed spacing of power_report samples,
// used to convert a watt sample into accumulated watt-hours.
const DefaultSamplePeriod = time.Minute

// Handler routes decoded messages to their per-kind handlers. One
// handler instance serves all connections; per-connection state lives
// in the registry.
type Handler struct {
	registry  *registry.Registry
	catalog   *catalog.Catalog
	store     *store.Store
	forwarder *Forwarder
	logger    *slog.Logger

	samplePeriod time.Duration
}

// NewHandler creates a message handler over the shared components.
func NewHandler(r *registry.Registry, c *catalog.Catalog, s *store.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry:     r,
		catalog:      c,
		store:        s,
		forwarder:    NewForwarder(r),
		logger:       logger,
		samplePeriod: DefaultSamplePeriod,
	}
}

// Handle processes one complete frame body from a connection.
//
// A returned error wrapping ErrProtocol forfeits the connection; any
// other error has already been answered or needs only logging. State
// and downstream failures are expressed as negative reply frames, not
// errors.
func (h *Handler) Handle(conn registry.Conn, body []byte) error {
	msg, err := wire.Decode(body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	// Any decodable frame counts as liveness, not only heartbeats.
	h.registry.Touch(conn.ConnID())

	entry, ok := h.registry.Lookup(conn.ConnID())
	if !ok {
		return fmt.Errorf("%w: unregistered connection", ErrProtocol)
	}
	if entry.Class == registry.ClassEquipment {
		h.catalog.Touch(entry.DeviceID, time.Now())
	}

	// Unbound connections may only announce themselves.
	if entry.Class == registry.ClassUnbound &&
		msg.Kind != wire.KindEquipmentOnline && msg.Kind != wire.KindLogin {
		return fmt.Errorf("%w: kind %s before binding", ErrProtocol, msg.Kind)
	}

	switch msg.Kind {
	case wire.KindEquipmentOnline:
		return h.handleOnline(conn, entry, msg)
	case wire.KindStatusUpdate:
		return h.handleStatusUpdate(conn, entry, msg)
	case wire.KindHeartbeat, wire.KindQtHeartbeat:
		return conn.Send(wire.HeartbeatReply)
	case wire.KindControlCommand:
		return h.handleControlRequest(conn, entry, msg)
	case wire.KindControlResponse:
		return h.handleControlResponse(conn, entry, msg)
	case wire.KindStatusQuery:
		return h.handleStatusQuery(conn, entry, msg)
	case wire.KindLogin:
		return h.handleLogin(conn, entry, msg)
	case wire.KindReservationApply:
		return h.handleReservationApply(conn, entry, msg)
	case wire.KindReservationQuery:
		return h.handleReservationQuery(conn, entry, msg)
	case wire.KindReservationApprove:
		return h.handleReservationApprove(conn, entry, msg)
	case wire.KindPlaceListQuery:
		return h.handlePlaceListQuery(conn, entry, msg)
	case wire.KindEnergyQuery:
		return h.handleEnergyQuery(conn, entry, msg)
	case wire.KindSetThreshold:
		return h.handleSetThreshold(conn, entry, msg)
	case wire.KindAlarmQuery:
		return h.handleAlarmQuery(conn, entry, msg)
	case wire.KindAlarmAck:
		return h.handleAlarmAck(conn, entry, msg)
	case wire.KindPowerReport:
		return h.handlePowerReport(conn, entry, msg)
	default:
		return fmt.Errorf("%w: unsupported kind %d", ErrProtocol, msg.Kind)
	}
}

// reply encodes and sends one frame on the connection.
func reply(conn registry.Conn, ct wire.ClientType, kind wire.Kind, subject string, fields ...string) error {
	body, err := wire.Encode(ct, kind, subject, fields...)
	if err != nil {
		return err
	}
	return conn.Send(body)
}

// broadcastOperators fans a frame out to every bound operator
// connection. Send failures are left to each connection's own close
// path.
func (h *Handler) broadcastOperators(kind wire.Kind, subject string, fields ...string) {
	body, err := wire.Encode(wire.ClientOperator, kind, subject, fields...)
	if err != nil {
		return
	}
	for _, op := range h.registry.Operators() {
		if err := op.Send(body); err != nil {
			h.logger.Warn("operator broadcast failed",
				"conn_id", op.ConnID(), "kind", kind.String(), "err", err)
		}
	}
}

// handleOnline binds an equipment connection to its device identity.
// Validation order follows the binding rule: catalog membership and
// registration first, then the exclusive device binding.
func (h *Handler) handleOnline(conn registry.Conn, entry registry.Entry, msg *wire.Message) error {
	if msg.ClientType != wire.ClientEquipment {
		return fmt.Errorf("%w: online from client type %s", ErrProtocol, msg.ClientType)
	}
	deviceID := msg.Subject
	if deviceID == "" {
		return reply(conn, wire.ClientEquipment, wire.KindOnlineResponse, "", wire.TokenFail, FailBadRequest)
	}

	d, ok := h.catalog.Get(deviceID)
	if !ok {
		h.logger.Warn("online for unknown device", "device_id", deviceID)
		return reply(conn, wire.ClientEquipment, wire.KindOnlineResponse, "", wire.TokenFail, FailUnknownDevice)
	}
	if !d.Registration.MayConnect() {
		return reply(conn, wire.ClientEquipment, wire.KindOnlineResponse, "", wire.TokenFail, FailNotRegistered)
	}

	if err := h.registry.BindEquipment(conn.ConnID(), deviceID); err != nil {
		if errors.Is(err, registry.ErrDeviceBound) {
			// The first binding stays; the loser is answered, then
			// dropped.
			if rerr := reply(conn, wire.ClientEquipment, wire.KindOnlineResponse, "", wire.TokenFail, FailDuplicateOnline); rerr != nil {
				return rerr
			}
			return conn.CloseWithReason(ReasonDuplicateOnline)
		}
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	if err := h.catalog.SetOnline(deviceID); err != nil {
		h.registry.Unbind(conn.ConnID())
		return reply(conn, wire.ClientEquipment, wire.KindOnlineResponse, "", wire.TokenFail, FailNotRegistered)
	}
	if err := h.store.UpdateDeviceState(deviceID, wire.StatusOnline, d.Power); err != nil {
		h.logger.Error("persist online state failed", "device_id", deviceID, "err", err)
	}

	h.logger.Info("equipment online", "device_id", deviceID, "conn_id", conn.ConnID())
	return reply(conn, wire.ClientEquipment, wire.KindOnlineResponse, "", wire.TokenSuccess)
}

// handleStatusUpdate applies a device's self-reported status and power.
func (h *Handler) handleStatusUpdate(conn registry.Conn, entry registry.Entry, msg *wire.Message) error {
	if entry.Class != registry.ClassEquipment || msg.Subject != entry.DeviceID {
		return fmt.Errorf("%w: status_update for %q from %q", ErrProtocol, msg.Subject, entry.DeviceID)
	}

	f := msg.Fields()
	if len(f) < 2 {
		return reply(conn, wire.ClientEquipment, wire.KindStatusUpdate, msg.Subject, wire.TokenFail, FailBadRequest)
	}
	status, power := wire.Status(f[0]), wire.Power(f[1])
	if !status.IsValid() || !power.IsValid() {
		return reply(conn, wire.ClientEquipment, wire.KindStatusUpdate, msg.Subject, wire.TokenFail, FailBadRequest)
	}
	var detail string
	if len(f) > 2 {
		detail = strings.Join(f[2:], wire.Sep)
	}

	if err := h.catalog.SetState(entry.DeviceID, status, power); err != nil {
		return reply(conn, wire.ClientEquipment, wire.KindStatusUpdate, msg.Subject, wire.TokenFail, FailUnknownDevice)
	}
	if err := h.store.UpdateDeviceState(entry.DeviceID, status, power); err != nil {
		h.logger.Error("persist status failed", "device_id", entry.DeviceID, "err", err)
		return reply(conn, wire.ClientEquipment, wire.KindStatusUpdate, msg.Subject, wire.TokenFail, FailStorage)
	}
	if err := h.store.InsertStatusLog(entry.DeviceID, status, power, detail); err != nil {
		h.logger.Error("status log append failed", "device_id", entry.DeviceID, "err", err)
	}
	return reply(conn, wire.ClientEquipment, wire.KindStatusUpdate, msg.Subject, wire.TokenSuccess)
}

// handleControlRequest relays an operator command to the device and
// acknowledges synchronously. The device's result arrives later as a
// control_response.
func (h *Handler) handleControlRequest(conn registry.Conn, entry registry.Entry, msg *wire.Message) error {
	if entry.Class != registry.ClassOperator {
		return fmt.Errorf("%w: control request from %s connection", ErrProtocol, entry.Class)
	}

	f := msg.Fields()
	if len(f) < 1 {
		return reply(conn, wire.ClientOperator, wire.KindControlCommand, msg.Subject, wire.TokenFail, FailBadRequest)
	}
	n, err := strconv.Atoi(f[0])
	if err != nil || !wire.CmdKind(n).IsValid() {
		return reply(conn, wire.ClientOperator, wire.KindControlCommand, msg.Subject, wire.TokenFail, FailBadRequest)
	}
	cmd := wire.CmdKind(n)

	switch h.forwarder.ForwardControl(msg.Subject, cmd, f[1:]) {
	case ForwardSent:
		h.logger.Info("control forwarded",
			"device_id", msg.Subject, "cmd", cmd.String(), "user_id", entry.UserID)
		return reply(conn, wire.ClientOperator, wire.KindControlCommand, msg.Subject, "accepted")
	case ForwardDeviceOffline:
		return reply(conn, wire.ClientOperator, wire.KindControlResponse, msg.Subject, wire.TokenFail, FailDeviceOffline)
	default:
		return reply(conn, wire.ClientOperator, wire.KindControlResponse, msg.Subject, wire.TokenFail, FailWriteError)
	}
}

// handleControlResponse applies a device's asynchronous command result
// and fans it out to every operator console.
func (h *Handler) handleControlResponse(conn registry.Conn, entry registry.Entry, msg *wire.Message) error {
	if entry.Class != registry.ClassEquipment || msg.Subject != entry.DeviceID {
		return fmt.Errorf("%w: control_response for %q from %q", ErrProtocol, msg.Subject, entry.DeviceID)
	}

	f := msg.Fields()
	if len(f) < 2 {
		return fmt.Errorf("%w: short control_response payload", ErrProtocol)
	}
	result, cmdName := f[0], f[1]

	if result == wire.TokenSuccess {
		switch cmdName {
		case wire.CmdTurnOn.String():
			_ = h.catalog.SetPower(entry.DeviceID, wire.PowerOn)
		case wire.CmdTurnOff.String():
			_ = h.catalog.SetPower(entry.DeviceID, wire.PowerOff)
		case wire.CmdRestart.String():
			if d, ok := h.catalog.Get(entry.DeviceID); ok {
				_ = h.catalog.SetState(entry.DeviceID, wire.StatusRestarting, d.Power)
			}
		}
	}
	if d, ok := h.catalog.Get(entry.DeviceID); ok {
		if result == wire.TokenSuccess {
			if err := h.store.UpdateDeviceState(entry.DeviceID, d.Status, d.Power); err != nil {
				h.logger.Error("persist control result failed", "device_id", entry.DeviceID, "err", err)
			}
		}
		if err := h.store.InsertStatusLog(entry.DeviceID, d.Status, d.Power, "control "+cmdName+" "+result); err != nil {
			h.logger.Error("status log append failed", "device_id", entry.DeviceID, "err", err)
		}
	}

	h.broadcastOperators(wire.KindControlResponse, entry.DeviceID, f...)
	return nil
}

// handleStatusQuery answers with catalog state, for one device or the
// whole roster under the "all" sentinel.
func (h *Handler) handleStatusQuery(conn registry.Conn, entry registry.Entry, msg *wire.Message) error {
	ct := msg.ClientType

	if msg.Subject != wire.SubjectAll {
		d, ok := h.catalog.Get(msg.Subject)
		if !ok {
			return reply(conn, ct, wire.KindStatusQuery, msg.Subject, wire.TokenFail, FailUnknownDevice)
		}
		return reply(conn, ct, wire.KindStatusQuery, msg.Subject, string(d.Status), string(d.Power))
	}

	records := make([]string, 0)
	for _, d := range h.catalog.Snapshot() {
		records = append(records, strings.Join([]string{
			d.ID, d.Type, d.Location, string(d.Status), string(d.Power),
		}, wire.Sep))
	}
	return reply(conn, ct, wire.KindStatusQuery, wire.SubjectAll, strings.Join(records, RecordSep))
}

// handlePowerReport records a power sample, accumulates energy, and
// raises an alarm when the sample exceeds the device threshold. Power
// reports are the one device message that gets no reply.
func (h *Handler) handlePowerReport(conn registry.Conn, entry registry.Entry, msg *wire.Message) error {
	if entry.Class != registry.ClassEquipment || msg.Subject != entry.DeviceID {
		return fmt.Errorf("%w: power_report for %q from %q", ErrProtocol, msg.Subject, entry.DeviceID)
	}

	f := msg.Fields()
	if len(f) < 1 {
		return fmt.Errorf("%w: empty power_report payload", ErrProtocol)
	}
	watts, err := strconv.ParseFloat(f[0], 64)
	if err != nil || watts < 0 {
		return fmt.Errorf("%w: bad watt sample %q", ErrProtocol, f[0])
	}

	wattHours := watts * h.samplePeriod.Hours()
	threshold, err := h.catalog.AddEnergy(entry.DeviceID, wattHours)
	if err != nil {
		return nil
	}
	if err := h.store.InsertEnergy(entry.DeviceID, watts, wattHours); err != nil {
		h.logger.Error("energy sample persist failed", "device_id", entry.DeviceID, "err", err)
	}

	if threshold > 0 && watts > threshold {
		if _, err := h.store.InsertAlarm(entry.DeviceID, watts, threshold); err != nil {
			h.logger.Error("alarm persist failed", "device_id", entry.DeviceID, "err", err)
		}
		h.logger.Warn("power threshold exceeded",
			"device_id", entry.DeviceID, "watts", watts, "threshold", threshold)
		h.broadcastOperators(wire.KindAlertMessage, entry.DeviceID,
			formatFloat(watts), formatFloat(threshold))
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
