package connection

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrReconnectDisabled is returned by Run when a session ends and
// automatic reconnection is off.
var ErrReconnectDisabled = errors.New("reconnection disabled")

// State is the connection lifecycle state.
type State uint8

const (
	// StateDisconnected indicates no active session.
	StateDisconnected State = iota

	// StateConnecting indicates a session attempt is in progress.
	StateConnecting

	// StateConnected indicates a running session.
	StateConnected

	// StateReconnecting indicates a backoff wait before the next
	// attempt.
	StateReconnecting
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	default:
		return "DISCONNECTED"
	}
}

// SessionFunc dials, runs one connection session and returns when the
// session ends. A nil return means a deliberate close; an error means
// the session was lost.
type SessionFunc func(ctx context.Context) error

// Manager drives SessionFunc in a reconnect loop. Each lost session is
// retried after a backoff delay; a session that survives past
// resetAfter resets the backoff schedule.
type Manager struct {
	mu sync.RWMutex

	session       SessionFunc
	backoff       *Backoff
	autoReconnect bool
	state         State

	// resetAfter is how long a session must live for the backoff to
	// reset. Guards against a flapping server driving the delay down.
	resetAfter time.Duration

	onStateChange  func(oldState, newState State)
	onReconnecting func(attempt int, delay time.Duration)
}

// NewManager creates a manager around one session function.
func NewManager(session SessionFunc) *Manager {
	return &Manager{
		session:       session,
		backoff:       NewBackoff(),
		autoReconnect: true,
		resetAfter:    30 * time.Second,
	}
}

// SetAutoReconnect enables or disables automatic reconnection.
func (m *Manager) SetAutoReconnect(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoReconnect = enabled
}

// OnStateChange installs a state transition callback. Call before Run.
func (m *Manager) OnStateChange(fn func(oldState, newState State)) {
	m.onStateChange = fn
}

// OnReconnecting installs a callback fired before each backoff wait.
// Call before Run.
func (m *Manager) OnReconnecting(fn func(attempt int, delay time.Duration)) {
	m.onReconnecting = fn
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	old := m.state
	m.state = s
	m.mu.Unlock()

	if old != s && m.onStateChange != nil {
		m.onStateChange(old, s)
	}
}

// Run drives sessions until the context is canceled, a session returns
// nil, or reconnection is disabled after a loss. It always leaves the
// manager in StateDisconnected.
func (m *Manager) Run(ctx context.Context) error {
	defer m.setState(StateDisconnected)

	for {
		m.setState(StateConnecting)
		started := time.Now()
		m.setState(StateConnected)
		err := m.session(ctx)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			return nil
		}
		if time.Since(started) >= m.resetAfter {
			m.backoff.Reset()
		}

		m.mu.RLock()
		auto := m.autoReconnect
		m.mu.RUnlock()
		if !auto {
			return ErrReconnectDisabled
		}

		m.setState(StateReconnecting)
		delay := m.backoff.Next()
		if m.onReconnecting != nil {
			m.onReconnecting(m.backoff.Attempts(), delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
