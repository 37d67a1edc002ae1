package remote

import "ttsengine/internal/state"

// SubmitRequest is the job submission body. WebhookURL is optional; without
// it the caller relies solely on polling.
type SubmitRequest struct {
	Text       string  `json:"text"`
	VoiceID    string  `json:"voice_id"`
	ModelID    string  `json:"model_id"`
	Speed      float64 `json:"speed,omitempty"`
	Pitch      float64 `json:"pitch,omitempty"`
	WebhookURL string  `json:"webhook_url,omitempty"`
}

// SubmitResponse is the accept response for a new job.
type SubmitResponse struct {
	JobID       string `json:"job_id"`
	Status      string `json:"status"`
	CreditsUsed int    `json:"credits_used,omitempty"`
}

// StatusResponse is the job status query response. The service has reported
// the artifact location under both audio_file_url and audio_url across
// versions, so both are accepted.
type StatusResponse struct {
	Status          string  `json:"status"`
	QueuePosition   int     `json:"queue_position,omitempty"`
	AudioFileURL    string  `json:"audio_file_url,omitempty"`
	AudioURL        string  `json:"audio_url,omitempty"`
	S3URL           string  `json:"s3_url,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	ErrorMessage    string  `json:"error_message,omitempty"`
}

// State maps the reported status string through the fixed table. ok is false
// for unrecognized strings, which callers treat as a skipped observation.
func (r *StatusResponse) State() (state.State, bool) {
	return state.FromRemoteStatus(r.Status)
}

// Payload converts the response fields into an event payload.
func (r *StatusResponse) Payload() state.Payload {
	audioURL := r.AudioFileURL
	if audioURL == "" {
		audioURL = r.AudioURL
	}
	return state.Payload{
		QueuePosition:   r.QueuePosition,
		DurationSeconds: r.DurationSeconds,
		S3URL:           r.S3URL,
		AudioFileURL:    audioURL,
		ErrorMessage:    r.ErrorMessage,
	}
}

// Voice describes a selectable voice.
type Voice struct {
	VoiceID  string `json:"voice_id"`
	Name     string `json:"name"`
	Language string `json:"language"`
	Gender   string `json:"gender"`
}

// Model describes a selectable synthesis model.
type Model struct {
	ModelID     string `json:"model_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}
