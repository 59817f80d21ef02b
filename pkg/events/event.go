// Package events carries state change notifications for tasks, agents and
// virtual sessions to interested sinks. Emission never blocks the emitter;
// delivery is best effort.
package events

import (
	"context"
	"time"
)

// EntityType names the kind of entity whose state changed.
type EntityType string

const (
	EntityTask    EntityType = "task"
	EntityAgent   EntityType = "agent"
	EntitySession EntityType = "vsession"
)

// Event is a single state change.
type Event struct {
	Seq        int64      `json:"seq"`
	EntityType EntityType `json:"entityType"`
	EntityID   string     `json:"entityId"`
	NewState   string     `json:"newState"`
	Payload    any        `json:"payload,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// Emitter accepts events. Implementations must not block.
type Emitter interface {
	Emit(Event)
}

// Discard is an Emitter that drops every event.
type Discard struct{}

func (Discard) Emit(Event) {}

// Sink receives events from a Bus.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, e Event) error
}
