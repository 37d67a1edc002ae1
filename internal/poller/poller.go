// Package poller actively queries job status on a schedule and feeds the
// observations to the reconciler. It is a pure producer: it never mutates
// job records.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ttsengine/internal/remote"
	"ttsengine/internal/state"
	"ttsengine/pkg/backoff"
)

// StatusQuerier performs one remote status query. Implemented by
// *remote.Client.
type StatusQuerier interface {
	JobStatus(ctx context.Context, jobID string) (*remote.StatusResponse, error)
}

// EventSink accepts observed status events. Implemented by the reconciler.
type EventSink interface {
	Offer(ev state.Event) error
}

// ExhaustedFunc reports that a job's attempt budget ran out without a
// terminal state. This is a liveness failure of the poll channel only, so it
// goes to the job handle, never to the reconciler: the webhook channel may
// still deliver the real outcome later.
type ExhaustedFunc func(jobID string)

// MetricsRecorder is an optional interface for recording poll metrics.
type MetricsRecorder interface {
	RecordPollAttempt(ctx context.Context, outcome string)
}

// Config holds poll scheduling. Zero values use defaults.
type Config struct {
	MaxAttempts    int             // attempts per job (default: 30)
	Interval       time.Duration   // delay between attempts (default: 2s, constant)
	Backoff        backoff.Policy  // overrides Interval when set
	AttemptTimeout time.Duration   // per-query timeout (default: 10s)
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 30
	}
	if c.Interval <= 0 {
		c.Interval = 2 * time.Second
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 10 * time.Second
	}
	if c.Backoff == nil {
		c.Backoff = backoff.Constant(c.Interval)
	}
	return c
}

// Poller tracks jobs, each on its own timer.
type Poller struct {
	querier     StatusQuerier
	sink        EventSink
	cfg         Config
	logger      *slog.Logger
	metrics     MetricsRecorder
	onExhausted ExhaustedFunc

	mu      sync.Mutex
	watches map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a poller feeding the given sink.
func New(querier StatusQuerier, sink EventSink, cfg Config, metrics MetricsRecorder) *Poller {
	return &Poller{
		querier: querier,
		sink:    sink,
		cfg:     cfg.withDefaults(),
		logger:  slog.With("component", "poller"),
		metrics: metrics,
		watches: make(map[string]context.CancelFunc),
	}
}

// OnExhausted registers the budget-exhaustion callback. Register before the
// first Track.
func (p *Poller) OnExhausted(fn ExhaustedFunc) {
	p.onExhausted = fn
}

// Track starts polling a job. Tracking an already-tracked job is a no-op, so
// a restart after a WaitTimeout is safe.
func (p *Poller) Track(jobID string) {
	p.mu.Lock()
	if _, ok := p.watches[jobID]; ok {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.watches[jobID] = cancel
	p.wg.Add(1)
	p.mu.Unlock()

	go p.watch(ctx, jobID)
}

// Stop releases a job's timer. The reconciler's terminal notification calls
// this so resources are freed even when no subscriber is waiting.
func (p *Poller) Stop(jobID string) {
	p.mu.Lock()
	cancel, ok := p.watches[jobID]
	if ok {
		delete(p.watches, jobID)
	}
	p.mu.Unlock()
	if ok {
		cancel()
	}
}

// Tracking reports whether a job is currently being polled.
func (p *Poller) Tracking(jobID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.watches[jobID]
	return ok
}

// Close stops all watches and waits for them to exit.
func (p *Poller) Close() {
	p.mu.Lock()
	for id, cancel := range p.watches {
		cancel()
		delete(p.watches, id)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// watch runs the attempt loop for one job.
func (p *Poller) watch(ctx context.Context, jobID string) {
	defer p.wg.Done()
	defer p.Stop(jobID)

	logger := p.logger.With("jobId", jobID)

	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		if terminal := p.attempt(ctx, jobID, logger); terminal {
			return
		}
		if attempt == p.cfg.MaxAttempts {
			// No wait after the final attempt: exhaustion is reported as
			// soon as the budget is spent.
			break
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.cfg.Backoff(attempt)):
		}
	}

	logger.Warn("Poll attempts exhausted without terminal state", "attempts", p.cfg.MaxAttempts)
	if p.onExhausted != nil {
		p.onExhausted(jobID)
	}
}

// attempt performs one status query and forwards the observation. A network
// failure or malformed response consumes the attempt and is otherwise
// absorbed. Returns true when a terminal state was observed.
func (p *Poller) attempt(ctx context.Context, jobID string, logger *slog.Logger) bool {
	attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.AttemptTimeout)
	defer cancel()

	resp, err := p.querier.JobStatus(attemptCtx, jobID)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		if p.metrics != nil {
			p.metrics.RecordPollAttempt(ctx, "error")
		}
		logger.Debug("Poll attempt failed", "error", err)
		return false
	}

	st, recognized := resp.State()
	if !recognized {
		logger.Debug("Unrecognized status string", "status", resp.Status)
	}
	if p.metrics != nil {
		p.metrics.RecordPollAttempt(ctx, "ok")
	}

	ev := state.NewEvent(jobID, st, resp.Payload(), state.SourcePoll)
	if err := p.sink.Offer(ev); err != nil {
		logger.Warn("Event not accepted", "error", err)
	}

	return st.IsTerminal()
}
