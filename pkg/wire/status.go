package wire

// Status is a device's online state as carried in status_update and
// status_query bodies and stored in the equipment table.
type Status string

const (
	StatusOnline     Status = "online"
	StatusOffline    Status = "offline"
	StatusRestarting Status = "restarting"
)

// IsValid reports whether the status is one of the known states.
func (s Status) IsValid() bool {
	switch s {
	case StatusOnline, StatusOffline, StatusRestarting:
		return true
	}
	return false
}

// Power is a device's power state.
type Power string

const (
	PowerOn  Power = "on"
	PowerOff Power = "off"
)

// IsValid reports whether the power state is known.
func (p Power) IsValid() bool {
	return p == PowerOn || p == PowerOff
}

// Registration is a device's registration state. Only registered and
// pending devices may bind a connection.
type Registration string

const (
	RegistrationRegistered   Registration = "registered"
	RegistrationPending      Registration = "pending"
	RegistrationUnregistered Registration = "unregistered"
)

// MayConnect reports whether a device in this registration state is
// allowed to come online.
func (r Registration) MayConnect() bool {
	return r == RegistrationRegistered || r == RegistrationPending
}

// Role is an operator's role as stored in the users table. Permission
// checks derive from this column, never from a user id literal.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// IsValid reports whether the role is known.
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleTeacher, RoleStudent:
		return true
	}
	return false
}
