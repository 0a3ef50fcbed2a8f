// Package notify implements the notification channel: a process-local
// event bus with a WebSocket hub that fans events out to connected
// observers. Delivery is fire-and-forget with no ordering guarantee across
// distinct subscribers.
package notify

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Event is one named notification with its payload.
type Event struct {
	Name      string    `json:"event"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Bus is a buffered fan-in channel for events. Producers never block
// longer than the drop timeout; a full bus drops events and counts them.
type Bus struct {
	events       chan Event
	droppedCount atomic.Uint64
	log          zerolog.Logger
}

// NewBus creates a Bus with the given buffer size.
func NewBus(bufferSize int, log zerolog.Logger) *Bus {
	return &Bus{
		events: make(chan Event, bufferSize),
		log:    log,
	}
}

// Broadcast sends an event to the bus. If the bus is full it retries with
// a short timeout before dropping the event.
func (b *Bus) Broadcast(name string, payload any) {
	event := Event{Name: name, Payload: payload, Timestamp: time.Now()}

	select {
	case b.events <- event:
		return
	default:
	}

	select {
	case b.events <- event:
	case <-time.After(100 * time.Millisecond):
		count := b.droppedCount.Add(1)
		if count%10 == 1 { // log every 10th drop to avoid spam
			b.log.Warn().
				Uint64("dropped", count).
				Str("event", name).
				Msg("event bus full, dropping events")
		}
	}
}

// Events returns a read-only channel of events for a single consumer.
func (b *Bus) Events() <-chan Event {
	return b.events
}

// DroppedCount returns the total number of dropped events.
func (b *Bus) DroppedCount() uint64 {
	return b.droppedCount.Load()
}

// Close closes the event channel. Broadcast must not be called afterwards.
func (b *Bus) Close() {
	close(b.events)
}
