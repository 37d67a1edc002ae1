// Package reconciler implements the job lifecycle state machine. It consumes
// status events from both delivery channels, applies a rank-monotonic merge
// policy, and emits exactly one terminal notification per job.
package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"ttsengine/internal/state"
	"ttsengine/internal/store"
)

// ErrQueueFull is returned when a job's event queue is full and the event is
// dropped. The channels redeliver (poll repeats, webhooks retry), so a drop
// is a backpressure signal, not data loss.
var ErrQueueFull = errors.New("reconciler queue full, event dropped")

// ErrClosed is returned when offering events after shutdown.
var ErrClosed = errors.New("reconciler is closed")

// ErrHasSubscribers is returned when evicting a job that still has
// subscribers waiting on it.
var ErrHasSubscribers = errors.New("job has pending subscribers")

// StalePolicy controls how an event with lower rank than already observed is
// treated: as a silently discarded duplicate (the default) or logged as an
// anomaly. Either way the event is appended to history and never changes
// CurrentState.
type StalePolicy int

const (
	StaleDiscard StalePolicy = iota
	StaleLogAnomaly
)

// Handler receives state transitions for a subscribed job. It is invoked from
// the job's single consumer goroutine, so calls for one job never overlap.
type Handler func(rec *state.Record, ev state.Event)

// TerminalFunc is invoked exactly once per job, on its transition into a
// terminal state.
type TerminalFunc func(rec *state.Record)

// MetricsRecorder is an optional interface for recording reconciler metrics.
type MetricsRecorder interface {
	RecordEventApplied(ctx context.Context, source, st string)
	RecordEventDiscarded(ctx context.Context, source, reason string)
	RecordJobTerminal(ctx context.Context, st string)
}

// Config holds reconciler tuning. Zero values use defaults.
type Config struct {
	QueueSize   int // per-job event buffer (default: 256)
	StalePolicy StalePolicy
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	return c
}

// Reconciler owns all job records. Producers enqueue events via Offer; one
// consumer goroutine per job applies transitions in arrival order, which
// makes the "first terminal event wins" rule correct without locks around
// the merge itself. Different job ids are processed in parallel.
type Reconciler struct {
	records    store.Store
	cfg        Config
	logger     *slog.Logger
	metrics    MetricsRecorder
	onTerminal []TerminalFunc

	mu     sync.Mutex
	queues map[string]chan state.Event
	subs   map[string]map[uint64]Handler
	nextID atomic.Uint64
	closed bool
	wg     sync.WaitGroup

	applied   atomic.Int64
	discarded atomic.Int64
	dropped   atomic.Int64
	terminals atomic.Int64
}

// Stats holds reconciler counters.
type Stats struct {
	Applied   int64 // events that advanced a record
	Discarded int64 // duplicate, stale, or post-terminal events
	Dropped   int64 // events rejected due to a full queue
	Terminals int64 // jobs that reached a terminal state
}

// New creates a reconciler over the given record store.
func New(records store.Store, cfg Config, metrics MetricsRecorder) *Reconciler {
	return &Reconciler{
		records: records,
		cfg:     cfg.withDefaults(),
		logger:  slog.With("component", "reconciler"),
		metrics: metrics,
		queues:  make(map[string]chan state.Event),
		subs:    make(map[string]map[uint64]Handler),
	}
}

// OnTerminal registers a hook invoked exactly once per job on its terminal
// transition. Register hooks before the first Offer.
func (r *Reconciler) OnTerminal(fn TerminalFunc) {
	r.onTerminal = append(r.onTerminal, fn)
}

// Register creates a record for a job id if none exists and starts its
// consumer. Called on submit so a record exists before the first event.
// Creation must be atomic: the first webhook can outrun the submit path,
// and a blank record written over an applied one would roll the job back.
func (r *Reconciler) Register(ctx context.Context, jobID string) error {
	if _, err := r.records.PutIfAbsent(ctx, state.NewRecord(jobID)); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	r.ensureQueueLocked(jobID)
	return nil
}

// Offer enqueues an event for its job's consumer. Non-blocking: producers
// must never stall on the state machine. An event for an unknown job id
// creates the job (the submit response may be lost or delayed relative to
// the first webhook).
func (r *Reconciler) Offer(ev state.Event) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	q := r.ensureQueueLocked(ev.JobID)

	// Send under the lock: Close and Evict close queues while holding it, so
	// this can never race a close. The send is non-blocking either way.
	select {
	case q <- ev:
		r.mu.Unlock()
		return nil
	default:
		r.mu.Unlock()
		r.dropped.Add(1)
		r.logger.Warn("Event dropped, queue full", "jobId", ev.JobID, "state", ev.State, "source", ev.Source)
		return ErrQueueFull
	}
}

// ensureQueueLocked returns the job's event queue, starting its consumer if
// needed. Caller holds r.mu.
func (r *Reconciler) ensureQueueLocked(jobID string) chan state.Event {
	q, ok := r.queues[jobID]
	if ok {
		return q
	}
	q = make(chan state.Event, r.cfg.QueueSize)
	r.queues[jobID] = q
	r.wg.Add(1)
	go r.consume(jobID, q)
	return q
}

// consume applies events for one job in arrival order.
func (r *Reconciler) consume(jobID string, q chan state.Event) {
	defer r.wg.Done()
	for ev := range q {
		r.apply(ev)
	}
}

// apply runs the merge algorithm for one event. It is only ever called from
// the job's single consumer goroutine, so the read-modify-write on the
// record and the terminalHandled check-and-set are serialized per job id.
func (r *Reconciler) apply(ev state.Event) {
	ctx := context.Background()

	rec, err := r.records.Get(ctx, ev.JobID)
	if errors.Is(err, store.ErrNotFound) {
		rec = state.NewRecord(ev.JobID)
	} else if err != nil {
		r.logger.Error("Record load failed", "jobId", ev.JobID, "error", err)
		return
	}

	// Sticky terminal: once terminal, everything else is a duplicate.
	if rec.CurrentState.IsTerminal() {
		r.discard(ctx, ev, "post-terminal")
		return
	}

	rec.History = append(rec.History, ev)
	rec.UpdatedAt = ev.ObservedAt

	switch {
	case ev.State.IsTerminal():
		rec.CurrentState = ev.State
		if ev.State.Rank() > rec.HighestSeen.Rank() {
			rec.HighestSeen = ev.State
		}
		r.commitTerminal(ctx, rec, ev)
		return

	case ev.State.Rank() > rec.HighestSeen.Rank():
		rec.CurrentState = ev.State
		rec.HighestSeen = ev.State
		if err := r.records.Put(ctx, rec); err != nil {
			r.logger.Error("Record store failed", "jobId", ev.JobID, "error", err)
			return
		}
		r.applied.Add(1)
		if r.metrics != nil {
			r.metrics.RecordEventApplied(ctx, string(ev.Source), string(ev.State))
		}
		r.notify(rec, ev)

	default:
		// Stale or duplicate: history keeps it for audit, state is untouched.
		if err := r.records.Put(ctx, rec); err != nil {
			r.logger.Error("Record store failed", "jobId", ev.JobID, "error", err)
			return
		}
		r.discard(ctx, ev, "stale")
	}
}

// commitTerminal finalizes a record on its first terminal event and fires
// the at-most-once terminal notification.
func (r *Reconciler) commitTerminal(ctx context.Context, rec *state.Record, ev state.Event) {
	if !rec.TerminalHandled {
		rec.TerminalHandled = true
		rec.ArtifactURL = ev.Payload.ArtifactURL()
		rec.Error = ev.Payload.ErrorMessage
	}

	if err := r.records.Put(ctx, rec); err != nil {
		r.logger.Error("Record store failed", "jobId", rec.JobID, "error", err)
		return
	}

	r.applied.Add(1)
	r.terminals.Add(1)
	if r.metrics != nil {
		r.metrics.RecordEventApplied(ctx, string(ev.Source), string(ev.State))
		r.metrics.RecordJobTerminal(ctx, string(rec.CurrentState))
	}
	r.logger.Info("Job reached terminal state",
		"jobId", rec.JobID,
		"state", rec.CurrentState,
		"source", ev.Source,
	)

	snapshot := rec.Clone()
	for _, fn := range r.onTerminal {
		fn(snapshot)
	}
	r.notify(rec, ev)
}

func (r *Reconciler) discard(ctx context.Context, ev state.Event, reason string) {
	r.discarded.Add(1)
	if r.metrics != nil {
		r.metrics.RecordEventDiscarded(ctx, string(ev.Source), reason)
	}
	if reason == "stale" && r.cfg.StalePolicy == StaleLogAnomaly {
		r.logger.Warn("Stale event discarded",
			"jobId", ev.JobID,
			"state", ev.State,
			"source", ev.Source,
		)
	} else {
		r.logger.Debug("Event discarded", "jobId", ev.JobID, "state", ev.State, "reason", reason)
	}
}

// notify delivers a transition to the job's subscribers.
func (r *Reconciler) notify(rec *state.Record, ev state.Event) {
	r.mu.Lock()
	handlers := make([]Handler, 0, len(r.subs[rec.JobID]))
	for _, h := range r.subs[rec.JobID] {
		handlers = append(handlers, h)
	}
	r.mu.Unlock()

	if len(handlers) == 0 {
		return
	}
	snapshot := rec.Clone()
	for _, h := range handlers {
		h(snapshot, ev)
	}
}

// Record returns a snapshot of a job's record.
func (r *Reconciler) Record(ctx context.Context, jobID string) (*state.Record, error) {
	return r.records.Get(ctx, jobID)
}

// Stats returns current counters.
func (r *Reconciler) Stats() Stats {
	return Stats{
		Applied:   r.applied.Load(),
		Discarded: r.discarded.Load(),
		Dropped:   r.dropped.Load(),
		Terminals: r.terminals.Load(),
	}
}

// Evict removes a job's record and releases its consumer. Refused while the
// job still has subscribers.
func (r *Reconciler) Evict(ctx context.Context, jobID string) error {
	r.mu.Lock()
	if len(r.subs[jobID]) > 0 {
		r.mu.Unlock()
		return ErrHasSubscribers
	}
	if q, ok := r.queues[jobID]; ok {
		close(q)
		delete(r.queues, jobID)
	}
	delete(r.subs, jobID)
	r.mu.Unlock()

	return r.records.Delete(ctx, jobID)
}

// Close drains all per-job queues and stops the consumers. The context
// deadline bounds the wait.
func (r *Reconciler) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	for id, q := range r.queues {
		close(q)
		delete(r.queues, id)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
