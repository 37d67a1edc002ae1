package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ttsengine/internal/apperrors"
	"ttsengine/internal/fetcher"
	"ttsengine/internal/poller"
	"ttsengine/internal/reconciler"
	"ttsengine/internal/remote"
	"ttsengine/internal/state"
	"ttsengine/internal/store"
	"ttsengine/internal/testutil"
	"ttsengine/pkg/backoff"
)

// fakeSubmitter scripts the remote accept and cancel endpoints.
type fakeSubmitter struct {
	resp      *remote.SubmitResponse
	submitErr error
	cancelErr error

	mu        sync.Mutex
	cancelled []string
}

func (f *fakeSubmitter) CreateJob(_ context.Context, _ *remote.SubmitRequest) (*remote.SubmitResponse, error) {
	return f.resp, f.submitErr
}

func (f *fakeSubmitter) CancelJob(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, jobID)
	return f.cancelErr
}

// fakeTracker records Track/Stop calls.
type fakeTracker struct {
	mu      sync.Mutex
	tracked []string
}

func (f *fakeTracker) Track(jobID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracked = append(f.tracked, jobID)
}

func (f *fakeTracker) Stop(string) {}

func newReconciler(t *testing.T) *reconciler.Reconciler {
	t.Helper()
	rec := reconciler.New(store.NewMemory(), reconciler.Config{}, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		rec.Close(ctx)
	})
	return rec
}

func TestSubmitRequiresText(t *testing.T) {
	t.Parallel()

	c := New(&fakeSubmitter{}, newReconciler(t), &fakeTracker{}, nil)

	_, err := c.Submit(context.Background(), &remote.SubmitRequest{Text: "   "})
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestSubmitSeedsRecordAndTracks(t *testing.T) {
	t.Parallel()

	rec := newReconciler(t)
	tracker := &fakeTracker{}
	c := New(&fakeSubmitter{
		resp: &remote.SubmitResponse{JobID: "job-1", Status: "pending", CreditsUsed: 7},
	}, rec, tracker, nil)

	jobID, err := c.Submit(context.Background(), &remote.SubmitRequest{Text: "hello"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if jobID != "job-1" {
		t.Fatalf("jobID = %q, want job-1", jobID)
	}

	tracker.mu.Lock()
	tracked := append([]string(nil), tracker.tracked...)
	tracker.mu.Unlock()
	if len(tracked) != 1 || tracked[0] != "job-1" {
		t.Errorf("tracked = %v, want [job-1]", tracked)
	}

	// The accept response seeds the record asynchronously.
	testutil.MustWaitFor(t, func() bool {
		r, err := c.Record(context.Background(), "job-1")
		return err == nil && r.CurrentState == state.StateQueued
	})
	r, _ := c.Record(context.Background(), "job-1")
	if len(r.History) != 1 || r.History[0].Payload.CreditsUsed != 7 {
		t.Errorf("seed event not recorded: %+v", r.History)
	}
}

func TestSubmitGeneratesIDWhenMissing(t *testing.T) {
	t.Parallel()

	c := New(&fakeSubmitter{resp: &remote.SubmitResponse{Status: "pending"}},
		newReconciler(t), &fakeTracker{}, nil)

	jobID, err := c.Submit(context.Background(), &remote.SubmitRequest{Text: "hello"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if jobID == "" {
		t.Error("expected a generated job ID")
	}
}

func TestRecordUnknownJob(t *testing.T) {
	t.Parallel()

	c := New(&fakeSubmitter{}, newReconciler(t), &fakeTracker{}, nil)

	_, err := c.Record(context.Background(), "nope")
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestWaitForTerminalTimeoutThenSuccess(t *testing.T) {
	t.Parallel()

	rec := newReconciler(t)
	c := New(&fakeSubmitter{}, rec, &fakeTracker{}, nil)

	if err := rec.Register(context.Background(), "job-1"); err != nil {
		t.Fatal(err)
	}
	if err := rec.Offer(state.NewEvent("job-1", state.StateProcessing, state.Payload{}, state.SourcePoll)); err != nil {
		t.Fatal(err)
	}

	_, err := c.WaitForTerminal(context.Background(), "job-1", 50*time.Millisecond)
	if !errors.Is(err, apperrors.ErrWaitTimeout) {
		t.Fatalf("err = %v, want ErrWaitTimeout", err)
	}

	// Tracking continued in the background, so a later wait succeeds.
	if err := rec.Offer(state.NewEvent("job-1", state.StateCompleted, state.Payload{AudioFileURL: "http://x/a.mp3"}, state.SourceWebhook)); err != nil {
		t.Fatal(err)
	}
	got, err := c.WaitForTerminal(context.Background(), "job-1", time.Second)
	if err != nil {
		t.Fatalf("second wait: %v", err)
	}
	if got.CurrentState != state.StateCompleted {
		t.Errorf("CurrentState = %q, want completed", got.CurrentState)
	}
}

func TestWaitForTerminalAlreadyTerminal(t *testing.T) {
	t.Parallel()

	rec := newReconciler(t)
	c := New(&fakeSubmitter{}, rec, &fakeTracker{}, nil)

	if err := rec.Register(context.Background(), "job-1"); err != nil {
		t.Fatal(err)
	}
	if err := rec.Offer(state.NewEvent("job-1", state.StateFailed, state.Payload{ErrorMessage: "synthesis error"}, state.SourceWebhook)); err != nil {
		t.Fatal(err)
	}
	testutil.MustWaitFor(t, func() bool {
		r, err := rec.Record(context.Background(), "job-1")
		return err == nil && r.CurrentState.IsTerminal()
	})

	got, err := c.WaitForTerminal(context.Background(), "job-1", time.Second)
	if err != nil {
		t.Fatalf("WaitForTerminal: %v", err)
	}
	if got.CurrentState != state.StateFailed || got.Error != "synthesis error" {
		t.Errorf("record = %+v, want failed with error message", got)
	}
}

func TestCancelBestEffort(t *testing.T) {
	t.Parallel()

	rec := newReconciler(t)
	submitter := &fakeSubmitter{}
	c := New(submitter, rec, &fakeTracker{}, nil)

	if err := rec.Register(context.Background(), "job-1"); err != nil {
		t.Fatal(err)
	}
	if err := c.Cancel(context.Background(), "job-1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if len(submitter.cancelled) != 1 || submitter.cancelled[0] != "job-1" {
		t.Errorf("cancelled = %v", submitter.cancelled)
	}

	// The local record is untouched until the channels deliver cancelled.
	r, err := c.Record(context.Background(), "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if r.CurrentState.IsTerminal() {
		t.Errorf("cancel must not flip the record locally, got %q", r.CurrentState)
	}
}

func TestConditionsDecoupledFromOutcome(t *testing.T) {
	t.Parallel()

	rec := newReconciler(t)
	c := New(&fakeSubmitter{}, rec, &fakeTracker{}, nil)

	if err := rec.Register(context.Background(), "job-1"); err != nil {
		t.Fatal(err)
	}

	c.HandlePollExhausted("job-1")
	c.HandleArtifact(fetcher.Result{JobID: "job-1", Err: apperrors.ArtifactFetch("job-1", errors.New("boom"))})

	conds := c.Conditions("job-1")
	if len(conds) != 2 {
		t.Fatalf("got %d conditions, want 2", len(conds))
	}
	if conds[0].Type != ConditionPollTimeout || conds[1].Type != ConditionArtifactFetchFailed {
		t.Errorf("condition types = %v, %v", conds[0].Type, conds[1].Type)
	}

	// Conditions never drive the state machine; the job can still complete.
	if err := rec.Offer(state.NewEvent("job-1", state.StateCompleted, state.Payload{}, state.SourceWebhook)); err != nil {
		t.Fatal(err)
	}
	testutil.MustWaitFor(t, func() bool {
		r, err := rec.Record(context.Background(), "job-1")
		return err == nil && r.CurrentState == state.StateCompleted
	})
}

// TestEndToEndWebhookWinsOverStalledPolls runs the full pipeline: a real
// remote client against a scripted server whose status endpoint never
// progresses past processing, a real poller, reconciler, and fetcher. The
// webhook channel delivers duplicated, out-of-order events ending in
// delivery, and the artifact must be downloaded exactly once.
func TestEndToEndWebhookWinsOverStalledPolls(t *testing.T) {
	t.Parallel()

	var artifactHits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tts/jobs/":
			json.NewEncoder(w).Encode(map[string]any{"job_id": "job-e2e", "status": "pending", "credits_used": 3})
		case "/tts/jobs/job-e2e/status/":
			json.NewEncoder(w).Encode(map[string]any{"status": "processing"})
		case "/artifacts/job-e2e.mp3":
			artifactHits.Add(1)
			w.Write([]byte("audio-bytes"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	rec := newReconciler(t)

	dir := t.TempDir()
	dl := fetcher.New(fetcher.Config{Dir: dir, MaxAttempts: 3, Backoff: backoff.Constant(time.Millisecond)}, nil)
	rec.OnTerminal(dl.HandleTerminal)

	api := remote.New(srv.URL, "test-key")
	p := poller.New(api, rec, poller.Config{
		MaxAttempts:    100,
		Backoff:        backoff.Constant(2 * time.Millisecond),
		AttemptTimeout: time.Second,
	}, nil)
	defer p.Close()

	c := New(api, rec, p, nil)
	dl.OnResult(c.HandleArtifact)
	p.OnExhausted(c.HandlePollExhausted)
	rec.OnTerminal(func(r *state.Record) { p.Stop(r.JobID) })

	jobID, err := c.Submit(context.Background(), &remote.SubmitRequest{Text: "hello", VoiceID: "nova"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// Let a few polls land, then deliver webhooks out of order with a
	// duplicate. Delivery carries the artifact URL.
	testutil.MustWaitFor(t, func() bool {
		r, err := c.Record(context.Background(), jobID)
		return err == nil && r.CurrentState == state.StateProcessing
	})

	artifactURL := srv.URL + "/artifacts/job-e2e.mp3"
	webhooks := []state.Event{
		state.NewEvent(jobID, state.StateUploaded, state.Payload{S3URL: artifactURL}, state.SourceWebhook),
		state.NewEvent(jobID, state.StateSynthesized, state.Payload{}, state.SourceWebhook), // stale
		state.NewEvent(jobID, state.StateUploaded, state.Payload{S3URL: artifactURL}, state.SourceWebhook), // duplicate
		state.NewEvent(jobID, state.StateCompleted, state.Payload{AudioFileURL: artifactURL, DurationSeconds: 1.5}, state.SourceWebhook),
	}
	for _, ev := range webhooks {
		if err := rec.Offer(ev); err != nil {
			t.Fatalf("Offer: %v", err)
		}
	}

	got, err := c.WaitForTerminal(context.Background(), jobID, 5*time.Second)
	if err != nil {
		t.Fatalf("WaitForTerminal: %v", err)
	}
	if got.CurrentState != state.StateCompleted {
		t.Fatalf("CurrentState = %q, want completed", got.CurrentState)
	}
	if got.ArtifactURL != artifactURL {
		t.Errorf("ArtifactURL = %q, want %q", got.ArtifactURL, artifactURL)
	}

	testutil.MustWaitFor(t, func() bool {
		_, ok := c.ArtifactPath(jobID)
		return ok
	})
	dl.Close()
	if got := artifactHits.Load(); got != 1 {
		t.Errorf("artifact downloaded %d times, want exactly 1", got)
	}

	// The stalled poll channel never produced a terminal, but that is a
	// liveness concern of one channel, not an error on the job.
	if conds := c.Conditions(jobID); len(conds) != 0 {
		t.Errorf("unexpected conditions: %v", conds)
	}
}
