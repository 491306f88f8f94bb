package domain

import "time"

// Announcement is the liveness payload a probe worker publishes on the
// announce subject at startup and on every announce tick.
type Announcement struct {
	Name          string    `json:"name"`
	Version       string    `json:"version"`
	Kind          ProbeKind `json:"kind"`
	Capabilities  []string  `json:"capabilities"`
	Timestamp     time.Time `json:"timestamp"`
	RFCCompliance []string  `json:"rfcCompliance,omitempty"`
}

// WorkerRecord is the registry's view of one worker. Healthy is
// inferred, not reported: it decays to false when announcements stop and
// flips back on the next one. Records are never deleted.
type WorkerRecord struct {
	Name         string    `json:"name"`
	Version      string    `json:"version"`
	Kind         ProbeKind `json:"kind"`
	Capabilities []string  `json:"capabilities"`
	LastSeen     time.Time `json:"lastSeen"`
	Healthy      bool      `json:"healthy"`
}
