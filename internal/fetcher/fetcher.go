// Package fetcher materializes completed job artifacts to local disk.
//
// The fetcher sits behind the reconciler's terminal hook: it fires once per
// job, downloads the audio artifact for completed jobs, and does nothing for
// failed or cancelled ones. Download failures are retried with exponential
// backoff behind a per-host circuit breaker; exhausting the budget is an
// artifact condition on the job, never a change to its terminal state.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"ttsengine/internal/apperrors"
	"ttsengine/internal/observability"
	"ttsengine/internal/state"
	"ttsengine/pkg/backoff"
	"ttsengine/pkg/circuitbreaker"
)

const (
	defaultMaxAttempts    = 3
	defaultRequestTimeout = 60 * time.Second

	breakerThreshold = 5
	breakerCooldown  = 30 * time.Second
)

// Result reports the outcome of one artifact materialization.
type Result struct {
	JobID string
	Path  string // local path, set on success
	Err   error  // apperrors.ErrArtifactFetch on exhaustion
}

// ResultFunc receives fetch outcomes.
type ResultFunc func(res Result)

// Config holds fetcher settings.
type Config struct {
	// Dir is the directory artifacts are written to.
	Dir string

	// MaxAttempts bounds download retries per job. Defaults to 3.
	MaxAttempts int

	// Backoff yields the wait between attempts. Defaults to exponential.
	Backoff backoff.Policy

	// RequestTimeout bounds a single download. Defaults to 60s.
	RequestTimeout time.Duration
}

func (c *Config) withDefaults() Config {
	cfg := *c
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Backoff == nil {
		cfg.Backoff = backoff.ExponentialPolicy(nil)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	return cfg
}

// Fetcher downloads artifacts for completed jobs exactly once each.
type Fetcher struct {
	cfg      Config
	http     *http.Client
	breakers *circuitbreaker.Registry
	metrics  *observability.Metrics
	logger   *slog.Logger

	mu       sync.Mutex
	started  map[string]bool
	onResult []ResultFunc

	wg sync.WaitGroup
}

// New creates a fetcher writing into cfg.Dir. metrics may be nil.
func New(cfg Config, metrics *observability.Metrics) *Fetcher {
	resolved := cfg.withDefaults()
	return &Fetcher{
		cfg: resolved,
		http: &http.Client{
			Timeout: resolved.RequestTimeout,
		},
		breakers: circuitbreaker.NewRegistry(circuitbreaker.Config{
			Threshold: breakerThreshold,
			Cooldown:  breakerCooldown,
		}),
		metrics: metrics,
		logger:  slog.Default().With("component", "fetcher"),
		started: make(map[string]bool),
	}
}

// SetHTTPClient overrides the download client. Useful in tests.
func (f *Fetcher) SetHTTPClient(c *http.Client) {
	f.http = c
}

// OnResult registers a callback invoked with every fetch outcome.
// Must be called before the fetcher starts receiving terminal records.
func (f *Fetcher) OnResult(fn ResultFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onResult = append(f.onResult, fn)
}

// HandleTerminal consumes a terminal record snapshot. Satisfies the
// reconciler's terminal hook signature.
//
// The reconciler already guarantees at-most-once terminal delivery per job;
// the started map is a second gate so that a redundant call can never start
// a second download.
func (f *Fetcher) HandleTerminal(rec *state.Record) {
	if rec.CurrentState != state.StateCompleted {
		f.logger.Debug("No artifact for terminal job",
			"job_id", rec.JobID,
			"state", rec.CurrentState)
		return
	}

	f.mu.Lock()
	if f.started[rec.JobID] {
		f.mu.Unlock()
		f.logger.Warn("Duplicate terminal delivery suppressed", "job_id", rec.JobID)
		return
	}
	f.started[rec.JobID] = true
	f.mu.Unlock()

	if rec.ArtifactURL == "" {
		f.emit(Result{
			JobID: rec.JobID,
			Err:   apperrors.ArtifactFetch(rec.JobID, errors.New("completed without an artifact URL")),
		})
		return
	}

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.fetch(rec.JobID, rec.ArtifactURL)
	}()
}

// fetch runs the bounded retry loop for one job's artifact.
func (f *Fetcher) fetch(jobID, rawURL string) {
	host := extractHost(rawURL)
	breaker := f.breakers.Get(host)
	destPath := filepath.Join(f.cfg.Dir, jobID+".mp3")

	start := time.Now()
	var lastErr error
	for attempt := 0; attempt < f.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(f.cfg.Backoff(attempt))
		}

		if !breaker.Allow() {
			lastErr = fmt.Errorf("circuit open for host %s", host)
			continue
		}

		if err := f.download(rawURL, destPath); err != nil {
			breaker.RecordFailure()
			lastErr = err
			f.logger.Warn("Artifact download attempt failed",
				"job_id", jobID,
				"attempt", attempt+1,
				"error", err)
			continue
		}

		breaker.RecordSuccess()
		if f.metrics != nil {
			f.metrics.RecordArtifactDownloaded(context.Background(), time.Since(start).Seconds())
		}
		f.logger.Info("Artifact downloaded",
			"job_id", jobID,
			"path", destPath,
			"duration", time.Since(start))
		f.emit(Result{JobID: jobID, Path: destPath})
		return
	}

	if f.metrics != nil {
		f.metrics.RecordArtifactFailed(context.Background())
	}
	err := apperrors.ArtifactFetch(jobID, lastErr)
	f.logger.Error("Artifact fetch budget exhausted",
		"job_id", jobID,
		"attempts", f.cfg.MaxAttempts,
		"error", lastErr)
	f.emit(Result{JobID: jobID, Err: err})
}

// download performs a single GET and writes the body atomically: first to a
// temp file in the target directory, then renamed into place, so a partial
// download never appears at the final path.
func (f *Fetcher) download(rawURL, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), f.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download artifact: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(filepath.Dir(destPath), filepath.Base(destPath)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close artifact: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to move artifact into place: %w", err)
	}
	return nil
}

// emit delivers a result to all registered callbacks.
func (f *Fetcher) emit(res Result) {
	f.mu.Lock()
	callbacks := append([]ResultFunc(nil), f.onResult...)
	f.mu.Unlock()
	for _, fn := range callbacks {
		fn(res)
	}
}

// Close waits for in-flight downloads to finish.
func (f *Fetcher) Close() {
	f.wg.Wait()
}

// extractHost pulls the host from a URL for breaker keying.
func extractHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}
