package services

import (
	"sort"
	"sync"
	"time"

	"github.com/netpulse/netpulse/internal/core/domain"
)

// JobTable is the dispatcher's ledger of every submitted job and whether
// a result came back for it. Entries are never evicted: a job whose
// result is lost stays submitted, which is visible and debuggable. The
// bounded component is the measurement store, not this table.
type JobTable struct {
	mu   sync.RWMutex
	jobs map[domain.JobID]domain.Job
}

func NewJobTable() *JobTable {
	return &JobTable{jobs: make(map[domain.JobID]domain.Job)}
}

// Put records a submitted job, replacing any previous entry with the
// same id.
func (t *JobTable) Put(job domain.Job) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobs[job.ID] = job
}

// Complete marks a job completed at the given time and reports whether
// the job was known. Repeated completions overwrite each other: the last
// result to arrive wins.
func (t *JobTable) Complete(id domain.JobID, at time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.jobs[id]
	if !ok {
		return false
	}
	job.Status = domain.JobStatusCompleted
	job.CompletedAt = &at
	t.jobs[id] = job
	return true
}

// Get returns a snapshot of one job.
func (t *JobTable) Get(id domain.JobID) (domain.Job, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	job, ok := t.jobs[id]
	return job, ok
}

// List returns a snapshot of all jobs, newest submission first.
func (t *JobTable) List() []domain.Job {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]domain.Job, 0, len(t.jobs))
	for _, job := range t.jobs {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})
	return out
}

// Len reports how many jobs the table holds.
func (t *JobTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.jobs)
}
