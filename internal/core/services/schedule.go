package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/netpulse/netpulse/internal/core/domain"
)

type ScheduleID string

// Schedule is a recurring measurement registration. Schedules live in
// memory only and do not survive a restart.
type Schedule struct {
	ID        ScheduleID       `json:"id"`
	Kind      domain.ProbeKind `json:"kind"`
	Target    string           `json:"target"`
	Spec      string           `json:"spec"`
	CreatedAt time.Time        `json:"createdAt"`
}

// submitter is the dispatcher surface the runner needs.
type submitter interface {
	Submit(ctx context.Context, kind domain.ProbeKind, target string) (domain.JobID, error)
}

// ScheduleRunner fires recurring measurements through the dispatcher.
// Specs accept standard 5-field cron expressions plus @every durations.
type ScheduleRunner struct {
	logger     *slog.Logger
	dispatcher submitter
	cron       *cron.Cron

	mu      sync.RWMutex
	entries map[ScheduleID]scheduleEntry
}

type scheduleEntry struct {
	schedule Schedule
	entryID  cron.EntryID
}

func NewScheduleRunner(logger *slog.Logger, dispatcher submitter) *ScheduleRunner {
	return &ScheduleRunner{
		logger:     logger,
		dispatcher: dispatcher,
		cron:       cron.New(),
		entries:    make(map[ScheduleID]scheduleEntry),
	}
}

// Run starts the cron engine and blocks until ctx is cancelled, then
// waits for in-flight submissions to finish.
func (s *ScheduleRunner) Run(ctx context.Context) error {
	s.cron.Start()
	s.logger.Info("schedule runner started")

	<-ctx.Done()

	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("schedule runner stopped")
	return nil
}

// Add registers a recurring measurement and returns the stored schedule.
func (s *ScheduleRunner) Add(kind domain.ProbeKind, target, spec string) (Schedule, error) {
	k, err := domain.ParseProbeKind(string(kind))
	if err != nil {
		return Schedule{}, err
	}
	target = strings.TrimSpace(target)
	if target == "" {
		return Schedule{}, fmt.Errorf("%w: empty target", domain.ErrInvalidTarget)
	}

	sched := Schedule{
		ID:        ScheduleID("sched_" + uuid.NewString()[:8]),
		Kind:      k,
		Target:    target,
		Spec:      spec,
		CreatedAt: time.Now().UTC(),
	}

	entryID, err := s.cron.AddFunc(spec, func() {
		if _, err := s.dispatcher.Submit(context.Background(), k, sched.Target); err != nil {
			s.logger.Error("scheduled measurement failed to dispatch",
				"schedule_id", sched.ID, "kind", k, "target", sched.Target, "error", err)
		}
	})
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid schedule spec %q: %w", spec, err)
	}

	s.mu.Lock()
	s.entries[sched.ID] = scheduleEntry{schedule: sched, entryID: entryID}
	s.mu.Unlock()

	s.logger.Info("schedule added", "schedule_id", sched.ID, "kind", k, "spec", spec)
	return sched, nil
}

// Remove unregisters a schedule and reports whether it existed.
func (s *ScheduleRunner) Remove(id ScheduleID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return false
	}
	s.cron.Remove(entry.entryID)
	delete(s.entries, id)
	s.logger.Info("schedule removed", "schedule_id", id)
	return true
}

// List returns all schedules, oldest first.
func (s *ScheduleRunner) List() []Schedule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Schedule, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, entry.schedule)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
