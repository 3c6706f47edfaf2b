package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/campuseq/campuseq-go/pkg/registry"
	"github.com/campuseq/campuseq-go/pkg/store"
	"github.com/campuseq/campuseq-go/pkg/wire"
)

// handleLogin authenticates an operator and binds the user identity.
// Re-login is last-wins; the displaced session is closed inside the
// registry before the new binding is installed.
func (h *Handler) handleLogin(conn registry.Conn, entry registry.Entry, msg *wire.Message) error {
	if msg.ClientType != wire.ClientOperator {
		return fmt.Errorf("%w: login from client type %s", ErrProtocol, msg.ClientType)
	}

	f := msg.Fields()
	if len(f) < 2 {
		return reply(conn, wire.ClientOperator, wire.KindLoginResponse, "", wire.TokenFail, FailBadRequest)
	}
	userID, password := f[0], f[1]

	u, err := h.store.Authenticate(userID, password)
	if err != nil {
		h.logger.Error("login lookup failed", "user_id", userID, "err", err)
		return reply(conn, wire.ClientOperator, wire.KindLoginResponse, "", wire.TokenFail, FailStorage)
	}
	if u == nil {
		// Unknown user and wrong password answer identically.
		return reply(conn, wire.ClientOperator, wire.KindLoginResponse, "", wire.TokenFail, FailInvalidCredentials)
	}

	displaced, err := h.registry.BindOperator(conn.ConnID(), u.ID, u.Role)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if displaced != nil {
		h.logger.Info("operator session superseded", "user_id", u.ID, "old_conn_id", displaced.ConnID())
	}

	h.logger.Info("operator login", "user_id", u.ID, "role", string(u.Role), "conn_id", conn.ConnID())
	return reply(conn, wire.ClientOperator, wire.KindLoginResponse, "", wire.TokenSuccess, string(u.Role))
}

// requireOperator rejects operator-only kinds arriving on a
// connection that is not bound to a user.
func requireOperator(entry registry.Entry) error {
	if entry.Class != registry.ClassOperator {
		return fmt.Errorf("%w: operator message from %s connection", ErrProtocol, entry.Class)
	}
	return nil
}

// operatorUser resolves the bound operator's account. The binding was
// validated at login time; a missing row afterwards is a downstream
// failure, not a protocol one.
func (h *Handler) operatorUser(entry registry.Entry) (*store.User, error) {
	if err := requireOperator(entry); err != nil {
		return nil, err
	}
	return h.store.GetUser(entry.UserID)
}

// handleReservationApply validates and inserts a place reservation.
func (h *Handler) handleReservationApply(conn registry.Conn, entry registry.Entry, msg *wire.Message) error {
	if err := requireOperator(entry); err != nil {
		return err
	}
	placeID := msg.Subject

	f := msg.Fields()
	if len(f) < 3 {
		return reply(conn, wire.ClientOperator, wire.KindReservationApply, placeID, wire.TokenFail, FailBadRequest)
	}
	userID := f[0]
	start, err1 := time.ParseInLocation(TimeLayout, f[1], time.Local)
	end, err2 := time.ParseInLocation(TimeLayout, f[2], time.Local)
	if err1 != nil || err2 != nil || !start.Before(end) {
		return reply(conn, wire.ClientOperator, wire.KindReservationApply, placeID, wire.TokenFail, FailBadRequest)
	}
	var purpose string
	if len(f) > 3 {
		// Free-form text; any separators the client leaked through are
		// kept as-is.
		purpose = strings.Join(f[3:], wire.Sep)
	}

	u, err := h.store.GetUser(userID)
	if err != nil {
		return reply(conn, wire.ClientOperator, wire.KindReservationApply, placeID, wire.TokenFail, FailStorage)
	}
	if u == nil {
		return reply(conn, wire.ClientOperator, wire.KindReservationApply, placeID, wire.TokenFail, FailUnknownUser)
	}

	overlap, err := h.store.HasOverlap(placeID, start, end)
	if err != nil {
		return reply(conn, wire.ClientOperator, wire.KindReservationApply, placeID, wire.TokenFail, FailStorage)
	}
	if overlap {
		return reply(conn, wire.ClientOperator, wire.KindReservationApply, placeID, wire.TokenFail, FailTimeConflict)
	}

	id, err := h.store.InsertReservation(placeID, userID, start, end, purpose)
	if err != nil {
		h.logger.Error("reservation insert failed", "place_id", placeID, "user_id", userID, "err", err)
		return reply(conn, wire.ClientOperator, wire.KindReservationApply, placeID, wire.TokenFail, FailStorage)
	}

	h.logger.Info("reservation created", "reservation_id", id, "place_id", placeID, "user_id", userID)
	return reply(conn, wire.ClientOperator, wire.KindReservationApply, placeID,
		wire.TokenSuccess, strconv.FormatInt(id, 10))
}

// handleReservationQuery returns the reservations visible to the bound
// user's role, as an embedded record list.
func (h *Handler) handleReservationQuery(conn registry.Conn, entry registry.Entry, msg *wire.Message) error {
	u, err := h.operatorUser(entry)
	if err != nil {
		return err
	}
	if u == nil {
		return reply(conn, wire.ClientOperator, wire.KindReservationQuery, wire.SubjectAll, wire.TokenFail, FailUnknownUser)
	}

	reservations, err := h.store.ListReservations(u)
	if err != nil {
		return reply(conn, wire.ClientOperator, wire.KindReservationQuery, wire.SubjectAll, wire.TokenFail, FailStorage)
	}

	records := make([]string, 0, len(reservations))
	for _, r := range reservations {
		records = append(records, strings.Join([]string{
			strconv.FormatInt(r.ID, 10), r.PlaceID, r.UserID,
			r.Start.Format(TimeLayout), r.End.Format(TimeLayout), r.Status,
		}, wire.Sep))
	}
	return reply(conn, wire.ClientOperator, wire.KindReservationQuery, wire.SubjectAll,
		strings.Join(records, RecordSep))
}

// handleReservationApprove decides a pending reservation. Admin only;
// the admin check derives from the users role column.
func (h *Handler) handleReservationApprove(conn registry.Conn, entry registry.Entry, msg *wire.Message) error {
	if err := requireOperator(entry); err != nil {
		return err
	}
	placeID := msg.Subject

	if entry.Role != wire.RoleAdmin {
		return reply(conn, wire.ClientOperator, wire.KindReservationApprove, placeID, wire.TokenFail, FailNotAdmin)
	}

	f := msg.Fields()
	if len(f) < 2 {
		return reply(conn, wire.ClientOperator, wire.KindReservationApprove, placeID, wire.TokenFail, FailBadRequest)
	}
	id, err := strconv.ParseInt(f[0], 10, 64)
	if err != nil {
		return reply(conn, wire.ClientOperator, wire.KindReservationApprove, placeID, wire.TokenFail, FailBadRequest)
	}
	var status string
	switch f[1] {
	case "approve":
		status = store.ReservationApproved
	case "reject":
		status = store.ReservationRejected
	default:
		return reply(conn, wire.ClientOperator, wire.KindReservationApprove, placeID, wire.TokenFail, FailBadRequest)
	}

	ok, err := h.store.UpdateReservationStatus(id, placeID, status)
	if err != nil {
		return reply(conn, wire.ClientOperator, wire.KindReservationApprove, placeID, wire.TokenFail, FailStorage)
	}
	if !ok {
		return reply(conn, wire.ClientOperator, wire.KindReservationApprove, placeID, wire.TokenFail, FailNotFound)
	}

	h.logger.Info("reservation decided",
		"reservation_id", id, "place_id", placeID, "status", status, "user_id", entry.UserID)
	return reply(conn, wire.ClientOperator, wire.KindReservationApprove, placeID, wire.TokenSuccess)
}

// handlePlaceListQuery emits the place roster with embedded device id
// lists. Device ids within one record are comma-joined so the record
// list survives the un-resplit remainder.
func (h *Handler) handlePlaceListQuery(conn registry.Conn, entry registry.Entry, msg *wire.Message) error {
	if err := requireOperator(entry); err != nil {
		return err
	}

	places, err := h.store.ListPlaces()
	if err != nil {
		return reply(conn, wire.ClientOperator, wire.KindPlaceListQuery, wire.SubjectAll, wire.TokenFail, FailStorage)
	}

	records := make([]string, 0, len(places))
	for _, p := range places {
		records = append(records, strings.Join([]string{
			p.ID, p.Name, strings.Join(p.DeviceIDs, ","),
		}, wire.Sep))
	}
	return reply(conn, wire.ClientOperator, wire.KindPlaceListQuery, wire.SubjectAll,
		strings.Join(records, RecordSep))
}

// handleEnergyQuery returns per-hour aggregated energy records for one
// device or, under the "all" sentinel, for every device.
func (h *Handler) handleEnergyQuery(conn registry.Conn, entry registry.Entry, msg *wire.Message) error {
	if err := requireOperator(entry); err != nil {
		return err
	}

	deviceID := msg.Subject
	if deviceID == wire.SubjectAll {
		deviceID = ""
	}
	records, err := h.store.EnergyByHour(deviceID)
	if err != nil {
		return reply(conn, wire.ClientOperator, wire.KindEnergyQuery, msg.Subject, wire.TokenFail, FailStorage)
	}

	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, strings.Join([]string{
			r.DeviceID, r.Bucket, formatFloat(r.Watts), strconv.Itoa(r.Samples),
		}, wire.Sep))
	}
	return reply(conn, wire.ClientOperator, wire.KindEnergyQuery, msg.Subject,
		strings.Join(out, RecordSep))
}

// handleSetThreshold persists a per-device watt threshold. Admin only.
func (h *Handler) handleSetThreshold(conn registry.Conn, entry registry.Entry, msg *wire.Message) error {
	if err := requireOperator(entry); err != nil {
		return err
	}
	deviceID := msg.Subject

	if entry.Role != wire.RoleAdmin {
		return reply(conn, wire.ClientOperator, wire.KindSetThreshold, deviceID, wire.TokenFail, FailNotAdmin)
	}

	f := msg.Fields()
	if len(f) < 1 {
		return reply(conn, wire.ClientOperator, wire.KindSetThreshold, deviceID, wire.TokenFail, FailBadRequest)
	}
	watts, err := strconv.ParseFloat(f[0], 64)
	if err != nil || watts < 0 {
		return reply(conn, wire.ClientOperator, wire.KindSetThreshold, deviceID, wire.TokenFail, FailBadRequest)
	}

	if err := h.catalog.SetThreshold(deviceID, watts); err != nil {
		return reply(conn, wire.ClientOperator, wire.KindSetThreshold, deviceID, wire.TokenFail, FailUnknownDevice)
	}
	if err := h.store.SetThreshold(deviceID, watts); err != nil {
		return reply(conn, wire.ClientOperator, wire.KindSetThreshold, deviceID, wire.TokenFail, FailStorage)
	}

	h.logger.Info("threshold set", "device_id", deviceID, "watts", watts, "user_id", entry.UserID)
	return reply(conn, wire.ClientOperator, wire.KindSetThreshold, deviceID, wire.TokenSuccess)
}

// handleAlarmQuery returns unacknowledged alarms as a record list.
func (h *Handler) handleAlarmQuery(conn registry.Conn, entry registry.Entry, msg *wire.Message) error {
	if err := requireOperator(entry); err != nil {
		return err
	}

	alarms, err := h.store.ListUnackedAlarms()
	if err != nil {
		return reply(conn, wire.ClientOperator, wire.KindAlarmQuery, wire.SubjectAll, wire.TokenFail, FailStorage)
	}

	records := make([]string, 0, len(alarms))
	for _, a := range alarms {
		records = append(records, strings.Join([]string{
			strconv.FormatInt(a.ID, 10), a.DeviceID,
			formatFloat(a.Watts), formatFloat(a.Threshold),
			a.CreatedAt.Format(TimeLayout),
		}, wire.Sep))
	}
	return reply(conn, wire.ClientOperator, wire.KindAlarmQuery, wire.SubjectAll,
		strings.Join(records, RecordSep))
}

// handleAlarmAck marks one alarm acknowledged.
func (h *Handler) handleAlarmAck(conn registry.Conn, entry registry.Entry, msg *wire.Message) error {
	if err := requireOperator(entry); err != nil {
		return err
	}

	f := msg.Fields()
	if len(f) < 1 {
		return reply(conn, wire.ClientOperator, wire.KindAlarmAck, wire.SubjectResponse, wire.TokenFail, FailBadRequest)
	}
	id, err := strconv.ParseInt(f[0], 10, 64)
	if err != nil {
		return reply(conn, wire.ClientOperator, wire.KindAlarmAck, wire.SubjectResponse, wire.TokenFail, FailBadRequest)
	}

	ok, err := h.store.AckAlarm(id)
	if err != nil {
		return reply(conn, wire.ClientOperator, wire.KindAlarmAck, wire.SubjectResponse, wire.TokenFail, FailStorage)
	}
	if !ok {
		return reply(conn, wire.ClientOperator, wire.KindAlarmAck, wire.SubjectResponse, wire.TokenFail, FailNotFound)
	}
	return reply(conn, wire.ClientOperator, wire.KindAlarmAck, wire.SubjectResponse, wire.TokenSuccess)
}
