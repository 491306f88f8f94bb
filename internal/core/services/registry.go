package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/netpulse/netpulse/internal/core/domain"
	"github.com/netpulse/netpulse/internal/core/ports"
)

const (
	// DefaultLivenessWindow is how long a worker may stay silent before
	// it is considered unhealthy.
	DefaultLivenessWindow = 30 * time.Second

	// DefaultSweepInterval is how often silence is checked.
	DefaultSweepInterval = 10 * time.Second
)

// WorkerRegistry tracks announced workers and infers their liveness.
// Health decays one way: silence past the window flips a worker to
// unhealthy, and only its next announcement flips it back. Records are
// never deleted, so a dead worker remains visible as unhealthy.
type WorkerRegistry struct {
	logger *slog.Logger
	bus    ports.Bus
	events ports.Broadcaster

	window time.Duration
	sweep  time.Duration
	now    func() time.Time

	mu      sync.RWMutex
	workers map[string]domain.WorkerRecord
}

func NewWorkerRegistry(logger *slog.Logger, bus ports.Bus, events ports.Broadcaster, window, sweep time.Duration) *WorkerRegistry {
	if window <= 0 {
		window = DefaultLivenessWindow
	}
	if sweep <= 0 {
		sweep = DefaultSweepInterval
	}
	return &WorkerRegistry{
		logger:  logger,
		bus:     bus,
		events:  events,
		window:  window,
		sweep:   sweep,
		now:     time.Now,
		workers: make(map[string]domain.WorkerRecord),
	}
}

// Run consumes announcements and sweeps for silent workers until ctx is
// cancelled.
func (r *WorkerRegistry) Run(ctx context.Context) error {
	msgs, err := r.bus.Subscribe(ctx, domain.SubjectAnnounce, ports.SubscribeOptions{})
	if err != nil {
		return fmt.Errorf("subscribe announcements: %w", err)
	}
	r.logger.Info("worker registry started", "window", r.window, "sweep_interval", r.sweep)

	ticker := time.NewTicker(r.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("worker registry stopped")
			return nil
		case msg, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("announce subscription closed")
			}
			r.onAnnounce(msg)
		case <-ticker.C:
			r.sweepStale()
		}
	}
}

// onAnnounce upserts the worker record keyed by name and restores
// health.
func (r *WorkerRegistry) onAnnounce(msg ports.Message) {
	var ann domain.Announcement
	if err := json.Unmarshal(msg.Data, &ann); err != nil {
		r.logger.Warn("dropping malformed announcement", "error", err)
		return
	}
	if ann.Name == "" {
		r.logger.Warn("dropping announcement without a name")
		return
	}

	rec := domain.WorkerRecord{
		Name:         ann.Name,
		Version:      ann.Version,
		Kind:         ann.Kind,
		Capabilities: ann.Capabilities,
		LastSeen:     r.now().UTC(),
		Healthy:      true,
	}

	r.mu.Lock()
	prev, known := r.workers[ann.Name]
	r.workers[ann.Name] = rec
	r.mu.Unlock()

	switch {
	case !known:
		r.logger.Info("worker announced", "worker", ann.Name, "kind", ann.Kind)
		r.events.Broadcast(ports.Event{Kind: EventKindWorker, Timestamp: rec.LastSeen, Payload: rec})
	case !prev.Healthy:
		r.logger.Info("worker recovered", "worker", ann.Name)
		r.events.Broadcast(ports.Event{Kind: EventKindWorker, Timestamp: rec.LastSeen, Payload: rec})
	}
}

// sweepStale flips workers silent for longer than the window to
// unhealthy. Exactly at the window boundary a worker is still healthy.
func (r *WorkerRegistry) sweepStale() {
	cutoff := r.now().Add(-r.window)

	var flipped []domain.WorkerRecord
	r.mu.Lock()
	for name, rec := range r.workers {
		if rec.Healthy && rec.LastSeen.Before(cutoff) {
			rec.Healthy = false
			r.workers[name] = rec
			flipped = append(flipped, rec)
		}
	}
	r.mu.Unlock()

	for _, rec := range flipped {
		r.logger.Warn("worker went silent", "worker", rec.Name, "last_seen", rec.LastSeen)
		r.events.Broadcast(ports.Event{Kind: EventKindWorker, Timestamp: r.now().UTC(), Payload: rec})
	}
}

// List returns a snapshot of all known workers sorted by name.
func (r *WorkerRegistry) List() []domain.WorkerRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.WorkerRecord, 0, len(r.workers))
	for _, rec := range r.workers {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
