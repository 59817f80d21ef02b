package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogSink writes every event to a logger.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(_ context.Context, e Event) error {
	s.logger.Info().
		Int64("seq", e.Seq).
		Str("entity_type", string(e.EntityType)).
		Str("entity_id", e.EntityID).
		Str("new_state", e.NewState).
		Msg("State changed")
	return nil
}

// Recorder keeps every event it sees. It is both an Emitter and a Sink.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Name() string { return "recorder" }

func (r *Recorder) Emit(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *Recorder) Deliver(_ context.Context, e Event) error {
	r.Emit(e)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// States returns the recorded states of one entity, in order.
func (r *Recorder) States(entity EntityType, id string) []string {
	var out []string
	for _, e := range r.Events() {
		if e.EntityType == entity && e.EntityID == id {
			out = append(out, e.NewState)
		}
	}
	return out
}

// Len returns the number of recorded events.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}
