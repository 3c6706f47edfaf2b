package log

import (
	"bytes"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/campuseq/campuseq-go/pkg/wire"
)

func sampleEvent(connID string) Event {
	return Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    DirectionIn,
		Layer:        LayerWire,
		Category:     CategoryMessage,
		DeviceID:     "proj_101",
		Message: &MessageEvent{
			ClientType:  wire.ClientEquipment,
			Kind:        wire.KindStatusUpdate,
			Subject:     "proj_101",
			PayloadSize: 9,
		},
	}
}

func TestEventCBORRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		event Event
	}{
		{
			name:  "message event",
			event: sampleEvent("c1"),
		},
		{
			name: "frame event",
			event: Event{
				Timestamp:    time.Now(),
				ConnectionID: "c2",
				Direction:    DirectionOut,
				Layer:        LayerTransport,
				Category:     CategoryMessage,
				Frame:        &FrameEvent{Size: 44, Data: []byte("1|4|dev"), Truncated: false},
			},
		},
		{
			name: "state change",
			event: Event{
				Timestamp:    time.Now(),
				ConnectionID: "c3",
				Layer:        LayerService,
				Category:     CategoryState,
				StateChange: &StateChangeEvent{
					Entity:   StateEntityDevice,
					OldState: "online",
					NewState: "offline",
					Reason:   "heartbeat timeout",
				},
			},
		},
		{
			name: "error event",
			event: Event{
				Timestamp:    time.Now(),
				ConnectionID: "c4",
				Layer:        LayerWire,
				Category:     CategoryError,
				Error:        &ErrorEventData{Layer: LayerWire, Message: "malformed body"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeEvent(tt.event)
			if err != nil {
				t.Fatalf("EncodeEvent failed: %v", err)
			}
			got, err := DecodeEvent(data)
			if err != nil {
				t.Fatalf("DecodeEvent failed: %v", err)
			}
			if got.ConnectionID != tt.event.ConnectionID {
				t.Errorf("connection id = %q, want %q", got.ConnectionID, tt.event.ConnectionID)
			}
			if got.Category != tt.event.Category {
				t.Errorf("category = %v, want %v", got.Category, tt.event.Category)
			}
			if tt.event.Message != nil {
				if got.Message == nil {
					t.Fatal("message payload lost in round trip")
				}
				if got.Message.Kind != tt.event.Message.Kind {
					t.Errorf("kind = %v, want %v", got.Message.Kind, tt.event.Message.Kind)
				}
			}
			if tt.event.StateChange != nil {
				if got.StateChange == nil {
					t.Fatal("state change payload lost in round trip")
				}
				if got.StateChange.NewState != tt.event.StateChange.NewState {
					t.Errorf("new state = %q, want %q", got.StateChange.NewState, tt.event.StateChange.NewState)
				}
			}
		})
	}
}

func TestFileLoggerAndReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "protocol.cborlog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	logger.Log(sampleEvent("c1"))
	logger.Log(sampleEvent("c2"))
	logger.Log(sampleEvent("c1"))
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Log after close is a no-op, not a panic.
	logger.Log(sampleEvent("c3"))

	reader, err := NewFilteredReader(path, Filter{ConnectionID: "c1"})
	if err != nil {
		t.Fatalf("NewFilteredReader failed: %v", err)
	}
	defer reader.Close()

	count := 0
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if event.ConnectionID != "c1" {
			t.Errorf("filter leaked event for %q", event.ConnectionID)
		}
		count++
	}
	if count != 2 {
		t.Errorf("got %d events for c1, want 2", count)
	}
}

func TestReaderKindFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "protocol.cborlog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	hb := sampleEvent("c1")
	hb.Message.Kind = wire.KindHeartbeat
	logger.Log(hb)
	logger.Log(sampleEvent("c1"))
	logger.Close()

	kind := wire.KindHeartbeat
	reader, err := NewFilteredReader(path, Filter{Kind: &kind})
	if err != nil {
		t.Fatalf("NewFilteredReader failed: %v", err)
	}
	defer reader.Close()

	event, err := reader.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if event.Message.Kind != wire.KindHeartbeat {
		t.Errorf("kind = %v, want heartbeat", event.Message.Kind)
	}
	if _, err := reader.Next(); err != io.EOF {
		t.Errorf("expected EOF after one match, got %v", err)
	}
}

func TestMultiLogger(t *testing.T) {
	var a, b capturingLogger
	multi := NewMultiLogger(&a, &b)
	multi.Log(sampleEvent("c1"))

	if len(a.events) != 1 || len(b.events) != 1 {
		t.Errorf("fan-out counts = %d, %d; want 1, 1", len(a.events), len(b.events))
	}
}

type capturingLogger struct {
	events []Event
}

func (c *capturingLogger) Log(event Event) { c.events = append(c.events, event) }

func TestSlogAdapter(t *testing.T) {
	var buf bytes.Buffer
	slogger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	adapter := NewSlogAdapter(slogger)
	adapter.Log(sampleEvent("c1"))

	out := buf.String()
	for _, want := range []string{"conn_id=c1", "device_id=proj_101", "kind=STATUS_UPDATE"} {
		if !bytes.Contains([]byte(out), []byte(want)) {
			t.Errorf("slog output missing %q: %s", want, out)
		}
	}
}
