package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"ttsengine/internal/state"
)

// signatureHeader carries the HMAC-SHA256 signature of the raw body,
// prefixed with "sha256=".
const signatureHeader = "X-Signature-256"

// webhookEnvelope is the payload the synthesis service posts on every
// lifecycle transition.
type webhookEnvelope struct {
	Event           string  `json:"event"`
	JobID           string  `json:"job_id"`
	Status          string  `json:"status"`
	QueuePosition   int     `json:"queue_position"`
	DurationSeconds float64 `json:"duration_seconds"`
	S3URL           string  `json:"s3_url"`
	AudioFileURL    string  `json:"audio_file_url"`
	CreditsUsed     int     `json:"credits_used"`
	ErrorMessage    string  `json:"error_message"`
	Timestamp       string  `json:"timestamp"`
}

// ReceiveWebhook handles POST /webhook. The handler validates and enqueues
// only: it never blocks on reconciliation, so the sender sees a fast 200
// regardless of how backed up a job's queue is.
func (h *Handler) ReceiveWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	if h.webhookSecret != "" {
		if !verifySignature(body, h.webhookSecret, r.Header.Get(signatureHeader)) {
			slog.Warn("Webhook signature verification failed", "remote_addr", r.RemoteAddr)
			h.writeError(w, http.StatusUnauthorized, "Invalid signature")
			return
		}
	}

	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid JSON payload: "+err.Error())
		return
	}
	if env.JobID == "" {
		h.writeError(w, http.StatusBadRequest, "Missing job_id")
		return
	}
	if env.Event == "" {
		h.writeError(w, http.StatusBadRequest, "Missing event")
		return
	}

	st, ok := state.FromWebhookEvent(env.Event)
	if !ok {
		// Unknown event types from a newer service version are acknowledged
		// but not forwarded.
		slog.Info("Ignoring unrecognized webhook event",
			"event", env.Event,
			"job_id", env.JobID)
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "job_id": env.JobID})
		return
	}

	ev := state.NewEvent(env.JobID, st, state.Payload{
		QueuePosition:   env.QueuePosition,
		DurationSeconds: env.DurationSeconds,
		S3URL:           env.S3URL,
		AudioFileURL:    env.AudioFileURL,
		CreditsUsed:     env.CreditsUsed,
		ErrorMessage:    env.ErrorMessage,
	}, state.SourceWebhook)

	if err := h.sink.Offer(ev); err != nil {
		// Dropping here is a local capacity problem, not the sender's.
		// Acknowledge anyway so the service does not retry into the same
		// full queue.
		slog.Error("Failed to enqueue webhook event",
			"job_id", env.JobID,
			"event", env.Event,
			"error", err)
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "success", "job_id": env.JobID})
}

// verifySignature checks an HMAC-SHA256 hex signature over the raw body.
func verifySignature(body []byte, secret, got string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}
