package state

import "time"

// Source identifies which delivery channel produced an event.
type Source string

const (
	SourcePoll    Source = "poll"
	SourceWebhook Source = "webhook"
)

// Payload carries the remote service's per-event fields. Both channels
// populate the subset they observed; zero values mean "not reported".
type Payload struct {
	QueuePosition   int     `json:"queue_position,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	S3URL           string  `json:"s3_url,omitempty"`
	AudioFileURL    string  `json:"audio_file_url,omitempty"`
	CreditsUsed     int     `json:"credits_used,omitempty"`
	ErrorMessage    string  `json:"error_message,omitempty"`
}

// ArtifactURL returns the URL the produced audio can be fetched from,
// preferring the direct file URL over the storage URL.
func (p Payload) ArtifactURL() string {
	if p.AudioFileURL != "" {
		return p.AudioFileURL
	}
	return p.S3URL
}

// Event is the unit exchanged between the producers (poller, webhook
// receiver) and the reconciler.
type Event struct {
	JobID      string    `json:"job_id"`
	State      State     `json:"state"`
	Payload    Payload   `json:"payload"`
	ObservedAt time.Time `json:"observed_at"`
	Source     Source    `json:"source"`
}

// NewEvent builds an event for a job observation, stamping the current time.
func NewEvent(jobID string, s State, payload Payload, source Source) Event {
	return Event{
		JobID:      jobID,
		State:      s,
		Payload:    payload,
		ObservedAt: time.Now().UTC(),
		Source:     source,
	}
}

// SequenceHint is the lattice position of the event's state. Neither channel
// guarantees ordering, so this is the only sequencing notion events carry.
func (e Event) SequenceHint() int {
	return e.State.Rank()
}
