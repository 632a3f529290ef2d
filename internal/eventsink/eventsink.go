// Package eventsink defines the narrow interface the session layer uses
// to notify an external UI of named events. It stands in for the
// excluded UI bridge: the session core only ever emits named events with
// a small JSON-able payload, never reaches back into UI state.
package eventsink

import (
	"sync"

	"github.com/rs/zerolog"
)

// Event names, matching the five events the original UI bridge listens for.
const (
	ConnectionRequest     = "connection-request"
	ConnectionAccepted    = "connection-accepted"
	ConnectionEnded       = "connection-ended"
	ConnectionTypeChanged = "connection-type-changed"
	ClipboardReceived     = "clipboard-received"
)

// Sink receives named session events with an arbitrary key/value payload.
type Sink interface {
	Emit(event string, fields map[string]any)
}

// Logging emits every event through zerolog at info level. It is the
// default sink for headless/CLI operation.
type Logging struct {
	logger zerolog.Logger
}

// NewLogging returns a Logging sink writing through logger.
func NewLogging(logger zerolog.Logger) *Logging {
	return &Logging{logger: logger}
}

func (l *Logging) Emit(event string, fields map[string]any) {
	e := l.logger.Info().Str("event", event)
	for k, v := range fields {
		e = e.Interface(k, v)
	}
	e.Msg("session event")
}

// Recorded is a single captured event, used by Recording's test assertions.
type Recorded struct {
	Event  string
	Fields map[string]any
}

// Recording accumulates every emitted event in memory for test assertions.
// Safe for concurrent use: a session's dispatch loop and its caller's test
// goroutine may both emit or read at once.
type Recording struct {
	mu     sync.Mutex
	events []Recorded
}

// NewRecording returns an empty Recording sink.
func NewRecording() *Recording {
	return &Recording{}
}

func (r *Recording) Emit(event string, fields map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Recorded{Event: event, Fields: fields})
}

// Events returns a snapshot of every event recorded so far, in emission
// order.
func (r *Recording) Events() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Recorded, len(r.events))
	copy(out, r.events)
	return out
}
