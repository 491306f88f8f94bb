package ports

import (
	"context"
	"time"

	"github.com/netpulse/netpulse/internal/core/domain"
)

// Message is one delivery from the bus.
type Message struct {
	Subject string
	Data    []byte
}

// SubscribeOptions tunes a subscription.
type SubscribeOptions struct {
	// QueueGroup makes the subscription a competing consumer: the bus
	// hands each message to one member of the group. Empty means every
	// subscriber receives every message.
	QueueGroup string
}

// Bus abstracts the pub/sub transport.
//
// Publish is fire-and-forget: nil means the message was handed to the
// transport, not that anyone received it. Subscribe returns a channel of
// deliveries starting at subscription time; the channel is closed when
// ctx is cancelled or the connection ends, and a closed channel never
// resumes. Patterns may use the transport's wildcards.
type Bus interface {
	Publish(subject string, payload []byte) error
	Subscribe(ctx context.Context, pattern string, opts SubscribeOptions) (<-chan Message, error)
	Close() error
}

// MeasurementFilter narrows a store query. The zero value matches
// everything.
type MeasurementFilter struct {
	Kind  domain.ProbeKind
	JobID domain.JobID
}

// MeasurementStore is the bounded, append-only measurement log. Append
// evicts the oldest records once the store is at capacity. Query returns
// newest first; an empty result is not an error.
type MeasurementStore interface {
	Append(ctx context.Context, res domain.Result) (domain.StoredMeasurement, error)
	Query(ctx context.Context, f MeasurementFilter, limit int) ([]domain.StoredMeasurement, error)
	Stats(ctx context.Context) (domain.StoreStats, error)
	ExportSnapshot(ctx context.Context, name string) (string, error)
	Close() error
}

// Event is a client-push notification.
type Event struct {
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// Broadcaster pushes events to attached listeners. Delivery is
// best-effort: no listeners or a lagging listener means the event is
// dropped, never that the producer blocks.
type Broadcaster interface {
	Broadcast(e Event)
}

// Prober executes one measurement kind. Probe is total: it reports every
// failure through the outcome, respects ctx, and must not panic.
type Prober interface {
	Kind() domain.ProbeKind
	Probe(ctx context.Context, target string) domain.ProbeOutcome
}
