// Package client is the job handle facade: one type that submits jobs to the
// remote synthesis service, wires them into background tracking, and lets
// callers wait on or observe the reconciled lifecycle.
package client

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ttsengine/internal/apperrors"
	"ttsengine/internal/fetcher"
	"ttsengine/internal/observability"
	"ttsengine/internal/reconciler"
	"ttsengine/internal/remote"
	"ttsengine/internal/state"
	"ttsengine/internal/store"
)

// Condition types recorded against a job without changing its lifecycle
// state. A job can complete successfully and still carry a condition, and a
// condition never makes a job failed.
const (
	ConditionPollTimeout         = "PollTimeout"
	ConditionArtifactFetchFailed = "ArtifactFetchFailed"
)

// Condition is a side observation about a tracked job.
type Condition struct {
	Type string    `json:"type"`
	Err  error     `json:"-"`
	At   time.Time `json:"at"`
}

// Submitter is the slice of the remote API the client needs.
// Implemented by *remote.Client.
type Submitter interface {
	CreateJob(ctx context.Context, req *remote.SubmitRequest) (*remote.SubmitResponse, error)
	CancelJob(ctx context.Context, jobID string) error
}

// Tracker starts and stops background polling for a job.
// Implemented by *poller.Poller.
type Tracker interface {
	Track(jobID string)
	Stop(jobID string)
}

// Client is the job handle facade.
type Client struct {
	remote     Submitter
	reconciler *reconciler.Reconciler
	tracker    Tracker
	metrics    *observability.Metrics
	logger     *slog.Logger

	mu         sync.Mutex
	conditions map[string][]Condition
	artifacts  map[string]string
}

// New creates a job handle over an already-wired reconciler and tracker.
// metrics may be nil.
func New(submitter Submitter, rec *reconciler.Reconciler, tracker Tracker, metrics *observability.Metrics) *Client {
	return &Client{
		remote:     submitter,
		reconciler: rec,
		tracker:    tracker,
		metrics:    metrics,
		logger:     slog.Default().With("component", "client"),
		conditions: make(map[string][]Condition),
		artifacts:  make(map[string]string),
	}
}

// Submit sends a synthesis request to the remote service and starts tracking
// the accepted job. The returned ID identifies the job on both sides.
func (c *Client) Submit(ctx context.Context, req *remote.SubmitRequest) (string, error) {
	if req == nil || strings.TrimSpace(req.Text) == "" {
		return "", apperrors.Validation("text", "text is required")
	}

	resp, err := c.remote.CreateJob(ctx, req)
	if err != nil {
		return "", apperrors.Internal("remote.submit", err)
	}

	jobID := resp.JobID
	if jobID == "" {
		// Some deployments return the job ID only via the first status poll.
		// Tracking needs a stable key immediately, so mint one.
		jobID = uuid.New().String()
		c.logger.Warn("Accept response carried no job ID, using generated ID", "job_id", jobID)
	}

	if err := c.reconciler.Register(ctx, jobID); err != nil {
		return "", apperrors.Internal("reconciler.register", err)
	}

	// Seed the record from the accept response so a caller who reads the
	// record before the first poll lands still sees the initial state.
	if st, ok := state.FromRemoteStatus(resp.Status); ok {
		ev := state.NewEvent(jobID, st, state.Payload{CreditsUsed: resp.CreditsUsed}, state.SourcePoll)
		if err := c.reconciler.Offer(ev); err != nil {
			c.logger.Warn("Failed to seed initial state", "job_id", jobID, "error", err)
		}
	}

	c.tracker.Track(jobID)
	if c.metrics != nil {
		c.metrics.RecordJobTracked(ctx)
	}

	c.logger.Info("Job submitted",
		"job_id", jobID,
		"status", resp.Status,
		"credits_used", resp.CreditsUsed)
	return jobID, nil
}

// Record returns a snapshot of the job's reconciled record.
func (c *Client) Record(ctx context.Context, jobID string) (*state.Record, error) {
	rec, err := c.reconciler.Record(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperrors.NotFound(jobID)
		}
		return nil, apperrors.Internal("reconciler.record", err)
	}
	return rec, nil
}

// WaitForTerminal blocks until the job reaches a terminal state, the timeout
// expires, or ctx is cancelled. On timeout the job keeps being tracked in
// the background and a later call can still succeed.
func (c *Client) WaitForTerminal(ctx context.Context, jobID string, timeout time.Duration) (*state.Record, error) {
	done := make(chan *state.Record, 1)
	sub := c.reconciler.Subscribe(jobID, func(rec *state.Record, _ state.Event) {
		if rec.CurrentState.IsTerminal() {
			select {
			case done <- rec:
			default:
			}
		}
	})
	defer sub.Cancel()

	// The job may already be terminal; check after subscribing so a
	// transition between the two cannot be missed.
	rec, err := c.Record(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if rec.CurrentState.IsTerminal() {
		return rec, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case rec := <-done:
		return rec, nil
	case <-timer.C:
		return nil, apperrors.WaitTimeout(jobID)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Subscribe registers a handler for every applied event of a job.
func (c *Client) Subscribe(jobID string, h reconciler.Handler) *reconciler.Subscription {
	return c.reconciler.Subscribe(jobID, h)
}

// Cancel asks the remote service to cancel a job. Best effort: the
// authoritative cancelled state still arrives through the status channels,
// so the local record is never touched here.
func (c *Client) Cancel(ctx context.Context, jobID string) error {
	if err := c.remote.CancelJob(ctx, jobID); err != nil {
		return apperrors.Internal("remote.cancel", err)
	}
	c.logger.Info("Cancel requested", "job_id", jobID)
	return nil
}

// Conditions returns the side conditions recorded against a job.
func (c *Client) Conditions(jobID string) []Condition {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Condition(nil), c.conditions[jobID]...)
}

// ArtifactPath returns the local path of a downloaded artifact, if any.
func (c *Client) ArtifactPath(jobID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	path, ok := c.artifacts[jobID]
	return path, ok
}

// HandlePollExhausted records the poll-budget condition for a job.
// Satisfies the poller's exhaustion hook. The webhook channel may still
// deliver the outcome, so this is a condition, never a state change.
func (c *Client) HandlePollExhausted(jobID string) {
	c.addCondition(jobID, Condition{
		Type: ConditionPollTimeout,
		Err:  apperrors.PollTimeout(jobID, 0),
		At:   time.Now().UTC(),
	})
	c.logger.Warn("Poll budget exhausted, relying on webhook channel", "job_id", jobID)
}

// HandleArtifact records a fetch outcome. Satisfies the fetcher's result
// hook.
func (c *Client) HandleArtifact(res fetcher.Result) {
	if res.Err != nil {
		c.addCondition(res.JobID, Condition{
			Type: ConditionArtifactFetchFailed,
			Err:  res.Err,
			At:   time.Now().UTC(),
		})
		return
	}
	c.mu.Lock()
	c.artifacts[res.JobID] = res.Path
	c.mu.Unlock()
}

func (c *Client) addCondition(jobID string, cond Condition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conditions[jobID] = append(c.conditions[jobID], cond)
}
