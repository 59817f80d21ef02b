package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/superninja/internal/observability"
)

const defaultDeliveryTimeout = 5 * time.Second

// Bus buffers events and fans them out to sinks from a single dispatcher
// goroutine. When the buffer is full new events are dropped and counted.
type Bus struct {
	mu     sync.RWMutex
	ch     chan Event
	closed bool

	sinks           []Sink
	logger          zerolog.Logger
	deliveryTimeout time.Duration

	seq     atomic.Int64
	dropped atomic.Int64

	startOnce sync.Once
	done      chan struct{}
}

// NewBus creates a bus with the given buffer size.
func NewBus(buffer int, logger zerolog.Logger, sinks ...Sink) *Bus {
	if buffer <= 0 {
		buffer = 256
	}
	return &Bus{
		ch:              make(chan Event, buffer),
		sinks:           sinks,
		logger:          logger,
		deliveryTimeout: defaultDeliveryTimeout,
		done:            make(chan struct{}),
	}
}

// AddSink registers a sink. Sinks must be added before Start.
func (b *Bus) AddSink(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// Start launches the dispatcher. Calling it more than once has no effect.
func (b *Bus) Start() {
	b.startOnce.Do(func() {
		b.mu.RLock()
		sinks := append([]Sink(nil), b.sinks...)
		b.mu.RUnlock()

		go b.dispatch(sinks)
		b.logger.Debug().Int("sinks", len(sinks)).Msg("Event bus started")
	})
}

// Emit stamps and enqueues an event without blocking.
func (b *Bus) Emit(e Event) {
	e.Seq = b.seq.Add(1)
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.drop(e, "bus closed")
		return
	}

	select {
	case b.ch <- e:
	default:
		b.drop(e, "buffer full")
	}
}

func (b *Bus) drop(e Event, reason string) {
	b.dropped.Add(1)
	observability.RecordEventDropped()
	b.logger.Debug().
		Str("entity_type", string(e.EntityType)).
		Str("entity_id", e.EntityID).
		Str("new_state", e.NewState).
		Str("reason", reason).
		Msg("Event dropped")
}

// Dropped returns how many events were dropped.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close stops accepting events and waits until queued events are delivered.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.ch)
	b.mu.Unlock()

	b.Start()
	<-b.done
}

func (b *Bus) dispatch(sinks []Sink) {
	defer close(b.done)

	for e := range b.ch {
		for _, s := range sinks {
			ctx, cancel := context.WithTimeout(context.Background(), b.deliveryTimeout)
			err := s.Deliver(ctx, e)
			cancel()

			observability.RecordEventDelivery(s.Name(), err == nil)
			if err != nil {
				b.logger.Warn().
					Err(err).
					Str("sink", s.Name()).
					Str("entity_type", string(e.EntityType)).
					Str("entity_id", e.EntityID).
					Int64("seq", e.Seq).
					Msg("Event delivery failed")
			}
		}
	}
}
