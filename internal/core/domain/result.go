package domain

import (
	"time"

	"github.com/google/uuid"
)

// ProbeOutcome is the kind-specific payload inside a Result. A probe
// always yields an outcome: failures travel here as an error code with
// success=false, never as transport errors.
type ProbeOutcome struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	ErrorCode string `json:"errorCode,omitempty"`

	// ping
	RTTMs      *float64 `json:"rtt,omitempty"`
	PacketLoss *float64 `json:"packetLoss,omitempty"`

	// dns
	Addresses []string `json:"addresses,omitempty"`
	ResolveMs *float64 `json:"resolveTime,omitempty"`

	// http
	StatusCode *int     `json:"statusCode,omitempty"`
	ResponseMs *float64 `json:"responseTime,omitempty"`
}

// Result is the envelope published on the per-job reply subject.
type Result struct {
	JobID      JobID        `json:"jobId"`
	Kind       ProbeKind    `json:"kind"`
	Target     string       `json:"target"`
	ProducedAt time.Time    `json:"timestamp"`
	Status     JobStatus    `json:"status"`
	Outcome    ProbeOutcome `json:"result"`
}

// StoredMeasurement is a Result with storage identity attached.
type StoredMeasurement struct {
	StorageID string    `json:"storageId"`
	SavedAt   time.Time `json:"savedAt"`
	Result
}

// NewStorageID returns a fresh measurement record id. Distinct from the
// job id: duplicate results for one job become distinct records.
func NewStorageID() string {
	return "m_" + uuid.NewString()
}

// KindStats counts measurements of one kind.
type KindStats struct {
	Count        int `json:"count"`
	SuccessCount int `json:"successCount"`
}

// StoreStats summarizes the measurement log.
type StoreStats struct {
	Total       int                     `json:"total"`
	ByKind      map[ProbeKind]KindStats `json:"byKind"`
	SuccessRate float64                 `json:"successRate"`
}
