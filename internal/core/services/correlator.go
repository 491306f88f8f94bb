package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/netpulse/netpulse/internal/core/domain"
	"github.com/netpulse/netpulse/internal/core/ports"
)

// Correlator consumes every result reply and fans it into the job table,
// the measurement store and the event broadcast. A single wildcard
// subscription covers all per-job reply subjects, so the correlator
// needs no per-job bookkeeping of its own.
type Correlator struct {
	logger *slog.Logger
	bus    ports.Bus
	table  *JobTable
	store  ports.MeasurementStore
	events ports.Broadcaster
}

func NewCorrelator(logger *slog.Logger, bus ports.Bus, table *JobTable, store ports.MeasurementStore, events ports.Broadcaster) *Correlator {
	return &Correlator{
		logger: logger,
		bus:    bus,
		table:  table,
		store:  store,
		events: events,
	}
}

// Run blocks consuming results until ctx is cancelled. It returns an
// error only when the subscription ends unexpectedly.
func (c *Correlator) Run(ctx context.Context) error {
	msgs, err := c.bus.Subscribe(ctx, domain.SubjectResultPattern, ports.SubscribeOptions{})
	if err != nil {
		return fmt.Errorf("subscribe results: %w", err)
	}
	c.logger.Info("correlator started", "pattern", domain.SubjectResultPattern)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("correlator stopped")
			return nil
		case msg, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("result subscription closed")
			}
			c.handle(ctx, msg)
		}
	}
}

func (c *Correlator) handle(ctx context.Context, msg ports.Message) {
	var res domain.Result
	if err := json.Unmarshal(msg.Data, &res); err != nil {
		c.logger.Warn("dropping malformed result", "subject", msg.Subject, "error", err)
		return
	}
	if res.JobID == "" {
		c.logger.Warn("dropping result without job id", "subject", msg.Subject)
		return
	}

	if !c.table.Complete(res.JobID, res.ProducedAt) {
		// A result for a job this process never dispatched: a restart,
		// a duplicate delivery or a foreign submitter. Still worth
		// persisting.
		c.logger.Debug("result for unknown job", "job_id", res.JobID)
	}

	stored, err := c.store.Append(ctx, res)
	if err != nil {
		// Storage trouble must not silence the live feed.
		c.logger.Error("failed to persist result", "job_id", res.JobID, "error", err)
		c.events.Broadcast(ports.Event{Kind: EventKindMeasurement, Timestamp: time.Now().UTC(), Payload: res})
		return
	}

	c.logger.Info("result correlated", "job_id", res.JobID, "kind", res.Kind, "success", res.Outcome.Success)
	c.events.Broadcast(ports.Event{Kind: EventKindMeasurement, Timestamp: time.Now().UTC(), Payload: stored})
}
