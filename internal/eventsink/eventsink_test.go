package eventsink

import (
	"testing"

	"github.com/rs/zerolog"
)

func discardLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestRecordingCapturesEventsInOrder(t *testing.T) {
	r := NewRecording()
	r.Emit(ConnectionRequest, map[string]any{"remote_id": "123 456 789"})
	r.Emit(ConnectionAccepted, map[string]any{"remote_id": "123 456 789"})

	events := r.Events()
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Event != ConnectionRequest || events[1].Event != ConnectionAccepted {
		t.Fatalf("unexpected event order: %+v", events)
	}
	if events[0].Fields["remote_id"] != "123 456 789" {
		t.Fatalf("unexpected fields: %+v", events[0].Fields)
	}
}

func TestLoggingEmitDoesNotPanic(t *testing.T) {
	sink := NewLogging(discardLogger())
	sink.Emit(ConnectionEnded, nil)
}
