// Package registry maps transport connections to client identities.
//
// The registry is the only piece of cross-connection shared mutable
// state in the server. A single readers-writer lock guards all of its
// maps, so a bind is atomic with respect to any concurrent lookup:
// a lookup sees either the old state or the new state, never a
// half-installed binding.
//
// The registry holds device ids, not device records; live status is
// resolved through the catalog.
package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/campuseq/campuseq-go/pkg/wire"
)

// Registry errors.
var (
	// ErrUnknownConn indicates a connection id the registry has never
	// seen or has already removed.
	ErrUnknownConn = errors.New("unknown connection")

	// ErrDeviceBound indicates the device id already has a live
	// equipment connection. At most one connection may be bound per
	// device id; the second online attempt is rejected.
	ErrDeviceBound = errors.New("device already bound")

	// ErrAlreadyBound indicates the connection already has an
	// identity.
	ErrAlreadyBound = errors.New("connection already bound")
)

// SupersededReason is the close reason given to an operator
// connection displaced by a newer login for the same user.
const SupersededReason = "session_superseded"

// Conn is the transport surface the registry needs.
// *transport.ServerConn implements it.
type Conn interface {
	ConnID() string
	Send(body []byte) error
	CloseWithReason(reason string) error
}

// Class tags what population a connection belongs to. A connection is
// unbound until its first successful online or login message.
type Class uint8

const (
	ClassUnbound Class = iota
	ClassEquipment
	ClassOperator
)

// String returns the class name.
func (c Class) String() string {
	switch c {
	case ClassEquipment:
		return "EQUIPMENT"
	case ClassOperator:
		return "OPERATOR"
	default:
		return "UNBOUND"
	}
}

// Entry is a snapshot of one registered connection.
type Entry struct {
	ConnID        string
	Conn          Conn
	Class         Class
	DeviceID      string
	UserID        string
	Role          wire.Role
	LastHeartbeat time.Time
	Healthy       bool
}

type entry struct {
	conn          Conn
	class         Class
	deviceID      string
	userID        string
	role          wire.Role
	lastHeartbeat time.Time
	healthy       bool
}

// Registry tracks live connections and their identities.
// Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	conns    map[string]*entry
	byDevice map[string]string
	byUser   map[string]string
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		conns:    make(map[string]*entry),
		byDevice: make(map[string]string),
		byUser:   make(map[string]string),
	}
}

// Add registers a freshly accepted connection with unbound identity.
func (r *Registry) Add(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[conn.ConnID()] = &entry{
		conn:          conn,
		class:         ClassUnbound,
		lastHeartbeat: time.Now(),
		healthy:       true,
	}
}

// BindEquipment installs the device identity on a connection. Fails
// with ErrDeviceBound if another live connection already owns the
// device id; ties are broken by lock acquisition order, first wins.
func (r *Registry) BindEquipment(connID, deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connID]
	if !ok {
		return ErrUnknownConn
	}
	if e.class != ClassUnbound {
		return ErrAlreadyBound
	}
	if _, taken := r.byDevice[deviceID]; taken {
		return ErrDeviceBound
	}

	e.class = ClassEquipment
	e.deviceID = deviceID
	e.lastHeartbeat = time.Now()
	r.byDevice[deviceID] = connID
	return nil
}

// BindOperator installs the user identity on a connection. Re-login
// policy is last-wins: an older connection for the same user is
// closed with SupersededReason before the new binding is installed.
// The displaced connection (if any) is returned.
func (r *Registry) BindOperator(connID, userID string, role wire.Role) (Conn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connID]
	if !ok {
		return nil, ErrUnknownConn
	}
	if e.class != ClassUnbound {
		return nil, ErrAlreadyBound
	}

	var displaced Conn
	if oldID, taken := r.byUser[userID]; taken && oldID != connID {
		if old, ok := r.conns[oldID]; ok {
			displaced = old.conn
			old.class = ClassUnbound
			old.userID = ""
		}
		delete(r.byUser, userID)
	}

	e.class = ClassOperator
	e.userID = userID
	e.role = role
	e.lastHeartbeat = time.Now()
	r.byUser[userID] = connID

	if displaced != nil {
		_ = displaced.CloseWithReason(SupersededReason)
	}
	return displaced, nil
}

// Touch refreshes the heartbeat timestamp. Any received frame counts,
// not only explicit heartbeats.
func (r *Registry) Touch(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.conns[connID]; ok {
		e.lastHeartbeat = time.Now()
	}
}

// MarkUnhealthy flags a connection ahead of a supervisor close.
func (r *Registry) MarkUnhealthy(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.conns[connID]; ok {
		e.healthy = false
	}
}

// Unbind removes every reference to the connection. It returns the
// device id the connection was bound to, if any, so the caller can
// transition the catalog entry offline.
func (r *Registry) Unbind(connID string) (deviceID string, wasEquipment bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connID]
	if !ok {
		return "", false
	}
	delete(r.conns, connID)

	switch e.class {
	case ClassEquipment:
		if r.byDevice[e.deviceID] == connID {
			delete(r.byDevice, e.deviceID)
		}
		return e.deviceID, true
	case ClassOperator:
		if r.byUser[e.userID] == connID {
			delete(r.byUser, e.userID)
		}
	}
	return "", false
}

// LookupDevice returns the live connection bound to a device id.
func (r *Registry) LookupDevice(deviceID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connID, ok := r.byDevice[deviceID]
	if !ok {
		return nil, false
	}
	e, ok := r.conns[connID]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// Lookup returns a snapshot of the entry for a connection id.
func (r *Registry) Lookup(connID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.conns[connID]
	if !ok {
		return Entry{}, false
	}
	return r.snapshotEntry(connID, e), true
}

// Snapshot returns a copy of every entry, for the supervisor sweep.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.conns))
	for id, e := range r.conns {
		out = append(out, r.snapshotEntry(id, e))
	}
	return out
}

// Operators returns the connections of all bound operators, for
// alert and control-response fan-out.
func (r *Registry) Operators() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Conn, 0, len(r.byUser))
	for _, connID := range r.byUser {
		if e, ok := r.conns[connID]; ok {
			out = append(out, e.conn)
		}
	}
	return out
}

// Count returns the number of tracked connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) snapshotEntry(connID string, e *entry) Entry {
	return Entry{
		ConnID:        connID,
		Conn:          e.conn,
		Class:         e.class,
		DeviceID:      e.deviceID,
		UserID:        e.userID,
		Role:          e.role,
		LastHeartbeat: e.lastHeartbeat,
		Healthy:       e.healthy,
	}
}
