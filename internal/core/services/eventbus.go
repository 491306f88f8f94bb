package services

import (
	"log/slog"
	"sync"

	"github.com/netpulse/netpulse/internal/core/ports"
)

// Event kinds pushed to listeners.
const (
	EventKindMeasurement = "measurement"
	EventKindWorker      = "worker"
)

// EventBus fans events out to attached listeners (SSE clients and the
// like). Delivery is best-effort: a listener with a full buffer misses
// the event rather than blocking the pipeline.
type EventBus struct {
	logger *slog.Logger
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan ports.Event
}

var _ ports.Broadcaster = (*EventBus)(nil)

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		logger: logger,
		subs:   make(map[int]chan ports.Event),
	}
}

// Subscribe returns a channel of future events and an unsubscribe
// function that closes it. Events before Subscribe are not replayed.
func (b *EventBus) Subscribe() (<-chan ports.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan ports.Event, 100) // Buffer to prevent blocking publisher
	b.subs[id] = ch

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			close(sub)
			delete(b.subs, id)
		}
	}

	return ch, unsub
}

// Broadcast sends an event to every subscriber.
func (b *EventBus) Broadcast(e ports.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			// If a listener is full, drop the event to keep the pipeline moving
			b.logger.Warn("event listener buffer full, dropping event", "event_kind", e.Kind)
		}
	}
}
