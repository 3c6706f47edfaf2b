package log

// Logger receives protocol events. Implementations must be safe for
// concurrent use; Log is called from connection goroutines and must
// not block for long.
type Logger interface {
	Log(event Event)
}

// NoopLogger discards all events. Usable as a zero value.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

var _ Logger = NoopLogger{}
