package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/netpulse/netpulse/internal/core/domain"
	"github.com/netpulse/netpulse/internal/core/ports"
)

// Dispatcher turns measurement requests into jobs on the bus. Submit is
// fire-and-forget: it returns as soon as the envelope is handed to the
// transport, before any worker picks the job up or even exists.
type Dispatcher struct {
	logger *slog.Logger
	bus    ports.Bus
	table  *JobTable
	now    func() time.Time
}

func NewDispatcher(logger *slog.Logger, bus ports.Bus, table *JobTable) *Dispatcher {
	return &Dispatcher{
		logger: logger,
		bus:    bus,
		table:  table,
		now:    time.Now,
	}
}

// Submit validates the request, publishes the job envelope and records
// the job. The returned id is the caller's correlation handle for
// results arriving later.
func (d *Dispatcher) Submit(ctx context.Context, kind domain.ProbeKind, target string) (domain.JobID, error) {
	k, err := domain.ParseProbeKind(string(kind))
	if err != nil {
		return "", err
	}
	target = strings.TrimSpace(target)
	if target == "" {
		return "", fmt.Errorf("%w: empty target", domain.ErrInvalidTarget)
	}

	job := domain.Job{
		ID:          domain.NewJobID(),
		Kind:        k,
		Target:      target,
		SubmittedAt: d.now().UTC(),
		Status:      domain.JobStatusSubmitted,
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("%w: encode job: %v", domain.ErrDispatchFailed, err)
	}
	if err := d.bus.Publish(domain.SubjectSubmit, payload); err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrDispatchFailed, err)
	}

	// Recorded only after a successful publish: the table never holds
	// jobs that were not offered to workers.
	d.table.Put(job)
	d.logger.Info("job dispatched", "job_id", job.ID, "kind", job.Kind, "target", job.Target)
	return job.ID, nil
}
