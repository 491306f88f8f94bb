package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ProbeKind identifies a measurement type. The kind decides which worker
// queue group executes a job.
type ProbeKind string

const (
	KindPing ProbeKind = "ping"
	KindDNS  ProbeKind = "dns"
	KindHTTP ProbeKind = "http"
)

// ParseProbeKind validates a kind string coming from an external caller.
func ParseProbeKind(s string) (ProbeKind, error) {
	switch k := ProbeKind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindPing, KindDNS, KindHTTP:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedKind, s)
	}
}

type JobID string

// NewJobID returns an id unique enough for correlation: a millisecond
// timestamp for rough ordering plus a random suffix against
// same-millisecond collisions. Consumers tolerate duplicates anyway
// (last write wins).
func NewJobID() JobID {
	return JobID(fmt.Sprintf("job_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8]))
}

type JobStatus string

const (
	JobStatusSubmitted JobStatus = "submitted"
	JobStatusCompleted JobStatus = "completed"
)

// Job is the envelope published on the submit subject. A job that never
// produces a result keeps JobStatusSubmitted forever.
type Job struct {
	ID          JobID      `json:"id"`
	Kind        ProbeKind  `json:"kind"`
	Target      string     `json:"target"`
	SubmittedAt time.Time  `json:"timestamp"`
	Status      JobStatus  `json:"status"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}
