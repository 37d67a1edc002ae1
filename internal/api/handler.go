// Package api provides the HTTP handlers and routing for the tracker
// service: the webhook receiver, the job management API, and health probes.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"ttsengine/internal/apperrors"
	"ttsengine/internal/health"
	"ttsengine/internal/remote"
	"ttsengine/internal/state"
)

// maxRequestBodySize limits request body to 1MB to prevent memory exhaustion
const maxRequestBodySize = 1 << 20 // 1 MB

// JobService is the job handle surface the API exposes. Implemented by
// *client.Client.
type JobService interface {
	Submit(ctx context.Context, req *remote.SubmitRequest) (string, error)
	Record(ctx context.Context, jobID string) (*state.Record, error)
	Cancel(ctx context.Context, jobID string) error
}

// EventSink accepts validated webhook events. Implemented by the reconciler.
type EventSink interface {
	Offer(ev state.Event) error
}

// Handler contains the HTTP handlers for the tracker service.
type Handler struct {
	svc           JobService
	sink          EventSink
	health        *health.Checker
	webhookSecret string
}

// NewHandler creates a new API handler.
func NewHandler(svc JobService, sink EventSink, healthChecker *health.Checker, webhookSecret string) *Handler {
	return &Handler{
		svc:           svc,
		sink:          sink,
		health:        healthChecker,
		webhookSecret: webhookSecret,
	}
}

// submitResponse is the accept response for a tracked job.
type submitResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// SubmitJob handles POST /v1/jobs
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req remote.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	jobID, err := h.svc.Submit(r.Context(), &req)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, submitResponse{JobID: jobID, Status: "accepted"})
}

// GetJob handles GET /v1/jobs/{jobId}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	if jobID == "" {
		h.writeError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	rec, err := h.svc.Record(r.Context(), jobID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, rec)
}

// CancelJob handles DELETE /v1/jobs/{jobId}. Cancellation is forwarded to
// the remote service; the authoritative cancelled state still arrives
// through the status channels, so this returns 202, not 204.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	if jobID == "" {
		h.writeError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	if err := h.svc.Cancel(r.Context(), jobID); err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": "cancel_requested"})
}

// JobEvents handles GET /events/{jobId} - the audit history of a job.
func (h *Handler) JobEvents(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	if jobID == "" {
		h.writeError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	rec, err := h.svc.Record(r.Context(), jobID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	events := rec.History
	if events == nil {
		events = []state.Event{}
	}
	h.writeJSON(w, http.StatusOK, events)
}

// Livez handles GET /livez - liveness probe.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.health.Liveness(r.Context()))
}

// Readyz handles GET /readyz - readiness probe.
// Returns 503 if the remote API is unavailable or the service is draining.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsHealthy() {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, response)
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// handleError handles errors from the service layer with appropriate HTTP
// status codes.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= 500 {
		slog.Error("Internal error", "error", err, "path", r.URL.Path)
	} else {
		slog.Warn("Client error", "error", err, "path", r.URL.Path, "status", status)
	}
	h.writeError(w, status, err.Error())
}
