package state

import "time"

// Record is the durable per-job aggregate, owned exclusively by the
// reconciler. CurrentState never regresses below HighestSeen in lattice
// order, and TerminalHandled transitions false to true exactly once.
type Record struct {
	JobID           string    `json:"job_id"`
	CurrentState    State     `json:"current_state"`
	HighestSeen     State     `json:"highest_seen"`
	History         []Event   `json:"history"`
	ArtifactURL     string    `json:"artifact_url,omitempty"`
	Error           string    `json:"error,omitempty"`
	TerminalHandled bool      `json:"terminal_handled"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// NewRecord creates a record for a job on first observation.
func NewRecord(jobID string) *Record {
	now := time.Now().UTC()
	return &Record{
		JobID:        jobID,
		CurrentState: Unknown,
		HighestSeen:  Unknown,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Clone returns a deep copy, safe to hand to readers while the reconciler
// keeps mutating the original.
func (r *Record) Clone() *Record {
	cp := *r
	cp.History = make([]Event, len(r.History))
	copy(cp.History, r.History)
	return &cp
}
