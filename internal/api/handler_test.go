package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"ttsengine/internal/apperrors"
	"ttsengine/internal/state"
)

func TestSubmitJob(t *testing.T) {
	t.Parallel()

	h := newTestHandler(&fakeService{submitID: "job-42"}, &fakeSink{}, "")

	body := []byte(`{"text": "hello world", "voice_id": "nova"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.SubmitJob(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	var resp submitResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.JobID != "job-42" {
		t.Errorf("JobID = %q, want job-42", resp.JobID)
	}
	if resp.Status != "accepted" {
		t.Errorf("Status = %q, want accepted", resp.Status)
	}
}

func TestSubmitJobInvalidBody(t *testing.T) {
	t.Parallel()

	h := newTestHandler(&fakeService{}, &fakeSink{}, "")

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	h.SubmitJob(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestGetJob(t *testing.T) {
	t.Parallel()

	record := state.NewRecord("job-1")
	record.CurrentState = state.StateProcessing

	h := newTestHandler(&fakeService{record: record}, &fakeSink{}, "")

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/job-1", nil)
	req.SetPathValue("jobId", "job-1")
	rec := httptest.NewRecorder()
	h.GetJob(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got state.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if got.CurrentState != state.StateProcessing {
		t.Errorf("CurrentState = %q, want processing", got.CurrentState)
	}
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()

	h := newTestHandler(&fakeService{recordErr: apperrors.NotFound("job-x")}, &fakeSink{}, "")

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/job-x", nil)
	req.SetPathValue("jobId", "job-x")
	rec := httptest.NewRecorder()
	h.GetJob(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestCancelJob(t *testing.T) {
	t.Parallel()

	svc := &fakeService{}
	h := newTestHandler(svc, &fakeSink{}, "")

	req := httptest.NewRequest(http.MethodDelete, "/v1/jobs/job-1", nil)
	req.SetPathValue("jobId", "job-1")
	rec := httptest.NewRecorder()
	h.CancelJob(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if len(svc.cancelled) != 1 || svc.cancelled[0] != "job-1" {
		t.Errorf("cancelled = %v, want [job-1]", svc.cancelled)
	}
}

func TestJobEvents(t *testing.T) {
	t.Parallel()

	record := state.NewRecord("job-1")
	record.History = []state.Event{
		state.NewEvent("job-1", state.StateQueued, state.Payload{}, state.SourcePoll),
		state.NewEvent("job-1", state.StateProcessing, state.Payload{}, state.SourceWebhook),
	}

	h := newTestHandler(&fakeService{record: record}, &fakeSink{}, "")

	req := httptest.NewRequest(http.MethodGet, "/events/job-1", nil)
	req.SetPathValue("jobId", "job-1")
	rec := httptest.NewRecorder()
	h.JobEvents(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var events []state.Event
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	if events[0].State != state.StateQueued || events[1].State != state.StateProcessing {
		t.Errorf("history order unexpected: %v", events)
	}
}

func TestRouterAuth(t *testing.T) {
	t.Parallel()

	router := NewRouter(RouterConfig{
		JobService: &fakeService{record: state.NewRecord("job-1")},
		EventSink:  &fakeSink{},
		APIKey:     "topsecret",
	})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"wrong scheme", "ApiKey topsecret", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"valid token", "Bearer topsecret", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/v1/jobs/job-1", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestRouterWebhookBypassesBearerAuth(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	router := NewRouter(RouterConfig{
		JobService: &fakeService{},
		EventSink:  sink,
		APIKey:     "topsecret",
	})

	body := []byte(`{"event": "tts_queued", "job_id": "job-1"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(sink.all()) != 1 {
		t.Errorf("forwarded %d events, want 1", len(sink.all()))
	}
}
