// Package worker runs a probe worker process: it competes for jobs of
// its kind in a shared queue group, executes them and publishes one
// result per executed job, while announcing itself so the control
// plane can track liveness.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/netpulse/netpulse/internal/core/domain"
	"github.com/netpulse/netpulse/internal/core/ports"
)

// DefaultAnnounceInterval keeps three announcements inside the control
// plane's default liveness window.
const DefaultAnnounceInterval = 10 * time.Second

// Config describes one worker process.
type Config struct {
	Name             string
	Version          string
	Capabilities     []string
	RFCCompliance    []string
	AnnounceInterval time.Duration
}

// Worker consumes jobs for its prober's kind and publishes results.
type Worker struct {
	logger *slog.Logger
	bus    ports.Bus
	prober ports.Prober
	kind   domain.ProbeKind
	cfg    Config
}

func New(logger *slog.Logger, bus ports.Bus, prober ports.Prober, cfg Config) *Worker {
	kind := prober.Kind()
	if cfg.Name == "" {
		cfg.Name = fmt.Sprintf("%s-worker-%s", kind, uuid.NewString()[:8])
	}
	if cfg.Version == "" {
		cfg.Version = "0.1.0"
	}
	if len(cfg.Capabilities) == 0 {
		cfg.Capabilities = defaultCapabilities(kind)
	}
	if len(cfg.RFCCompliance) == 0 {
		cfg.RFCCompliance = defaultCompliance(kind)
	}
	if cfg.AnnounceInterval <= 0 {
		cfg.AnnounceInterval = DefaultAnnounceInterval
	}
	return &Worker{logger: logger, bus: bus, prober: prober, kind: kind, cfg: cfg}
}

// Name returns the resolved worker name.
func (w *Worker) Name() string { return w.cfg.Name }

// Run subscribes to the job queue and announces until ctx is cancelled.
// Announcing runs on its own goroutine so a slow probe never starves
// the liveness signal.
func (w *Worker) Run(ctx context.Context) error {
	jobs, err := w.bus.Subscribe(ctx, domain.SubjectSubmit, ports.SubscribeOptions{
		QueueGroup: domain.SubmitQueueGroup(w.kind),
	})
	if err != nil {
		return fmt.Errorf("subscribe jobs: %w", err)
	}
	w.logger.Info("worker started",
		"worker", w.cfg.Name, "kind", w.kind, "queue_group", domain.SubmitQueueGroup(w.kind))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.announceLoop(ctx) })
	g.Go(func() error { return w.consumeLoop(ctx, jobs) })
	return g.Wait()
}

func (w *Worker) announceLoop(ctx context.Context) error {
	w.announce()

	ticker := time.NewTicker(w.cfg.AnnounceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.announce()
		}
	}
}

func (w *Worker) announce() {
	data, err := json.Marshal(domain.Announcement{
		Name:          w.cfg.Name,
		Version:       w.cfg.Version,
		Kind:          w.kind,
		Capabilities:  w.cfg.Capabilities,
		Timestamp:     time.Now().UTC(),
		RFCCompliance: w.cfg.RFCCompliance,
	})
	if err != nil {
		w.logger.Error("marshal announcement", "error", err)
		return
	}
	if err := w.bus.Publish(domain.SubjectAnnounce, data); err != nil {
		w.logger.Warn("announce failed", "worker", w.cfg.Name, "error", err)
	}
}

func (w *Worker) consumeLoop(ctx context.Context, jobs <-chan ports.Message) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-jobs:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("job subscription closed")
			}
			w.handleJob(ctx, msg)
		}
	}
}

// handleJob executes one job and publishes exactly one result for it.
// Jobs this worker cannot serve are skipped without a result so a
// worker of the right kind can produce one.
func (w *Worker) handleJob(ctx context.Context, msg ports.Message) {
	var job domain.Job
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		w.logger.Warn("dropping malformed job", "error", err)
		return
	}
	if job.Kind != w.kind {
		w.logger.Debug("skipping job of another kind", "job_id", job.ID, "kind", job.Kind)
		return
	}
	if job.ID == "" {
		w.logger.Warn("dropping job without an id", "target", job.Target)
		return
	}

	w.logger.Info("job received", "job_id", job.ID, "target", job.Target)
	started := time.Now()
	outcome := w.execute(ctx, job)
	w.logger.Info("job finished",
		"job_id", job.ID, "success", outcome.Success, "took", time.Since(started))

	data, err := json.Marshal(domain.Result{
		JobID:      job.ID,
		Kind:       job.Kind,
		Target:     job.Target,
		ProducedAt: time.Now().UTC(),
		Status:     domain.JobStatusCompleted,
		Outcome:    outcome,
	})
	if err != nil {
		w.logger.Error("marshal result", "job_id", job.ID, "error", err)
		return
	}
	// Delivery is at most once: a failed publish is logged, not retried.
	if err := w.bus.Publish(domain.ResultSubject(job.ID), data); err != nil {
		w.logger.Error("result publish failed", "job_id", job.ID, "error", err)
	}
}

// execute shields the worker from panicking probers. A panic becomes
// an internal-error result so the job still gets its one result.
func (w *Worker) execute(ctx context.Context, job domain.Job) (outcome domain.ProbeOutcome) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("probe panicked", "job_id", job.ID, "panic", r)
			outcome = domain.ProbeOutcome{
				Success:   false,
				ErrorCode: domain.CodeInternalError,
				Message:   fmt.Sprintf("probe panicked: %v", r),
			}
		}
	}()
	return w.prober.Probe(ctx, job.Target)
}

func defaultCapabilities(kind domain.ProbeKind) []string {
	switch kind {
	case domain.KindPing:
		return []string{"icmp", "rtt", "packet-loss"}
	case domain.KindDNS:
		return []string{"a", "aaaa", "resolve-time"}
	case domain.KindHTTP:
		return []string{"get", "status-code", "response-time"}
	default:
		return nil
	}
}

func defaultCompliance(kind domain.ProbeKind) []string {
	switch kind {
	case domain.KindPing:
		return []string{"RFC 792"}
	case domain.KindDNS:
		return []string{"RFC 1035"}
	case domain.KindHTTP:
		return []string{"RFC 9110"}
	default:
		return nil
	}
}
