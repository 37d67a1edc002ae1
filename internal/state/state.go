// Package state defines the job lifecycle data model: the state lattice,
// status events produced by the delivery channels, and the per-job record.
package state

// State is the lifecycle state of a synthesis job.
type State string

const (
	// Unknown is the pre-submission / not-yet-observed state. It is never
	// reported by a producer; an unrecognized remote status maps here and is
	// discarded by the reconciler.
	Unknown State = "unknown"

	StateQueued      State = "queued"
	StateProcessing  State = "processing"
	StateSynthesized State = "synthesized"
	StateUploaded    State = "uploaded"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
	StateCancelled   State = "cancelled"
)

// Rank returns the position of a state in the success lattice:
// queued(0) < processing(1) < synthesized(2) < uploaded(3) < completed(4).
// Failed and cancelled sit outside the lattice; they return -1 and win by
// terminality, not by rank. Unknown also returns -1 so it never advances
// a record.
func (s State) Rank() int {
	switch s {
	case StateQueued:
		return 0
	case StateProcessing:
		return 1
	case StateSynthesized:
		return 2
	case StateUploaded:
		return 3
	case StateCompleted:
		return 4
	default:
		return -1
	}
}

// IsTerminal reports whether no further transition is accepted from s.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// statusTable maps remote status strings (from the job status endpoint) to
// lifecycle states. Unrecognized strings map to Unknown.
var statusTable = map[string]State{
	"pending":    StateQueued,
	"processing": StateProcessing,
	"completed":  StateCompleted,
	"failed":     StateFailed,
	"cancelled":  StateCancelled,
}

// FromRemoteStatus maps a remote status string to a State. The second return
// is false for unrecognized strings, which callers should treat as a
// forward-compatible no-op rather than an error.
func FromRemoteStatus(status string) (State, bool) {
	s, ok := statusTable[status]
	if !ok {
		return Unknown, false
	}
	return s, true
}

// eventTable maps webhook event names to lifecycle states.
var eventTable = map[string]State{
	"tts_queued":      StateQueued,
	"tts_started":     StateProcessing,
	"tts_synthesized": StateSynthesized,
	"tts_uploaded":    StateUploaded,
	"tts_delivered":   StateCompleted,
	"tts_failed":      StateFailed,
}

// FromWebhookEvent maps a webhook event name to a State. Unrecognized event
// names return false; the receiver acknowledges them without forwarding.
func FromWebhookEvent(event string) (State, bool) {
	s, ok := eventTable[event]
	return s, ok
}
