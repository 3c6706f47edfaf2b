package wire

// ClientType identifies which client population a message belongs to.
type ClientType uint8

const (
	// ClientEquipment is an embedded equipment simulator.
	ClientEquipment ClientType = 1

	// ClientOperator is an operator-facing console.
	ClientOperator ClientType = 2
)

// IsValid reports whether the client type is a known population.
// Additional values are reserved for future client populations.
func (c ClientType) IsValid() bool {
	return c == ClientEquipment || c == ClientOperator
}

// String returns the client type name.
func (c ClientType) String() string {
	switch c {
	case ClientEquipment:
		return "EQUIPMENT"
	case ClientOperator:
		return "OPERATOR"
	default:
		return "UNKNOWN"
	}
}

// Kind is the numeric message kind tag carried in field 1 of every
// body. Tags 1..8 predate this implementation and must remain stable
// for backward compatibility with deployed simulators and consoles.
type Kind uint8

const (
	// KindEquipmentOnline is sent by equipment after connecting to
	// bind its device identity. Payload: location|type.
	KindEquipmentOnline Kind = 1

	// KindStatusUpdate reports a device's status and power state.
	// Payload: status|power[|extra].
	KindStatusUpdate Kind = 2

	// KindControlCommand is relayed by the server to a device.
	// Payload: cmd_kind[|params].
	KindControlCommand Kind = 3

	// KindHeartbeat is a liveness probe. Empty payload. The reply is
	// the literal body "4|pong" (legacy form).
	KindHeartbeat Kind = 4

	// KindReservationApply requests a place reservation.
	// Payload: user_id|start|end|purpose.
	KindReservationApply Kind = 5

	// KindReservationQuery fetches reservations visible to the user.
	KindReservationQuery Kind = 6

	// KindReservationApprove approves or rejects a reservation.
	// Payload: reservation_id|approve or reservation_id|reject.
	KindReservationApprove Kind = 7

	// KindControlResponse carries a device's asynchronous command
	// result, and is also fanned out to operator consoles.
	// Payload: success|fail|cmd_name[|reason].
	KindControlResponse Kind = 8

	// KindLogin authenticates an operator. Payload: user_id|password.
	KindLogin Kind = 9

	// KindOnlineResponse acknowledges KindEquipmentOnline.
	// Payload: success or fail[|reason].
	KindOnlineResponse Kind = 10

	// KindPlaceListQuery requests the place roster with embedded
	// device id lists.
	KindPlaceListQuery Kind = 11

	// KindEnergyQuery requests aggregated energy records for one
	// device or the sentinel subject "all".
	KindEnergyQuery Kind = 12

	// KindSetThreshold persists a per-device watt threshold.
	// Payload: watts.
	KindSetThreshold Kind = 13

	// KindAlarmQuery returns unacknowledged alarms.
	KindAlarmQuery Kind = 14

	// KindAlarmAck marks an alarm acknowledged. Payload: alarm_id.
	KindAlarmAck Kind = 15

	// KindPowerReport reports an instantaneous power sample.
	// Payload: watts.
	KindPowerReport Kind = 16

	// KindQtHeartbeat is the operator console's liveness probe.
	KindQtHeartbeat Kind = 17

	// KindStatusQuery requests a device's current status and power.
	KindStatusQuery Kind = 18

	// KindLoginResponse acknowledges KindLogin.
	// Payload: success|role or fail|reason.
	KindLoginResponse Kind = 19

	// KindAlertMessage is broadcast to operator consoles when a
	// device exceeds its power threshold.
	// Payload: watts|threshold.
	KindAlertMessage Kind = 20
)

// Kind tag bounds. Decoding rejects tags outside this range.
const (
	KindMin Kind = 1
	KindMax Kind = 200
)

// IsValid reports whether the tag is within the wire protocol range.
func (k Kind) IsValid() bool {
	return k >= KindMin && k <= KindMax
}

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindEquipmentOnline:
		return "EQUIPMENT_ONLINE"
	case KindStatusUpdate:
		return "STATUS_UPDATE"
	case KindControlCommand:
		return "CONTROL_COMMAND"
	case KindHeartbeat:
		return "HEARTBEAT"
	case KindReservationApply:
		return "RESERVATION_APPLY"
	case KindReservationQuery:
		return "RESERVATION_QUERY"
	case KindReservationApprove:
		return "RESERVATION_APPROVE"
	case KindControlResponse:
		return "CONTROL_RESPONSE"
	case KindLogin:
		return "LOGIN"
	case KindOnlineResponse:
		return "ONLINE_RESPONSE"
	case KindPlaceListQuery:
		return "PLACE_LIST_QUERY"
	case KindEnergyQuery:
		return "ENERGY_QUERY"
	case KindSetThreshold:
		return "SET_THRESHOLD"
	case KindAlarmQuery:
		return "ALARM_QUERY"
	case KindAlarmAck:
		return "ALARM_ACK"
	case KindPowerReport:
		return "POWER_REPORT"
	case KindQtHeartbeat:
		return "QT_HEARTBEAT"
	case KindStatusQuery:
		return "STATUS_QUERY"
	case KindLoginResponse:
		return "LOGIN_RESPONSE"
	case KindAlertMessage:
		return "ALERT_MESSAGE"
	default:
		return "UNKNOWN"
	}
}

// CmdKind is the command tag carried inside control_command and
// control_response payloads.
type CmdKind uint8

const (
	CmdTurnOn         CmdKind = 1
	CmdTurnOff        CmdKind = 2
	CmdRestart        CmdKind = 3
	CmdAdjustSettings CmdKind = 4
)

// IsValid reports whether the command kind is known.
func (c CmdKind) IsValid() bool {
	return c >= CmdTurnOn && c <= CmdAdjustSettings
}

// String returns the command name as used in control_response bodies.
func (c CmdKind) String() string {
	switch c {
	case CmdTurnOn:
		return "turn_on"
	case CmdTurnOff:
		return "turn_off"
	case CmdRestart:
		return "restart"
	case CmdAdjustSettings:
		return "adjust_settings"
	default:
		return "unknown"
	}
}

// Subject sentinels.
const (
	// SubjectAll addresses every device, e.g. in energy queries.
	SubjectAll = "all"

	// SubjectResponse marks a reply that is not about one device.
	SubjectResponse = "response"
)

// Literal payload tokens shared by several kinds.
const (
	TokenSuccess = "success"
	TokenFail    = "fail"
	TokenPong    = "pong"
)

// HeartbeatReply is the legacy heartbeat response body, preserved
// verbatim for compatibility with deployed simulators.
var HeartbeatReply = []byte("4|pong")
