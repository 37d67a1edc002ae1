package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds all application metrics implementing the golden 4 signals:
// - Latency: HTTP and artifact download durations
// - Traffic: webhook/poll event throughput
// - Errors: discarded events, failed downloads
// - Saturation: jobs currently tracked
type Metrics struct {
	meter metric.Meter

	// HTTP metrics (webhook receiver and management API)
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	// Reconciler metrics
	EventsAppliedTotal   metric.Int64Counter
	EventsDiscardedTotal metric.Int64Counter
	JobsTerminalTotal    metric.Int64Counter
	JobsTracked          metric.Int64UpDownCounter

	// Poll channel metrics
	PollAttemptsTotal metric.Int64Counter

	// Artifact fetcher metrics
	ArtifactDownloadDuration metric.Float64Histogram
	ArtifactDownloadsTotal   metric.Int64Counter
	ArtifactFailuresTotal    metric.Int64Counter
}

// NewMetrics creates and registers all metrics with a Prometheus exporter.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("ttsengine")
	m := &Metrics{meter: meter}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPErrorsTotal, err = meter.Int64Counter(
		"http_errors_total",
		metric.WithDescription("Total number of HTTP errors (4xx and 5xx)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.EventsAppliedTotal, err = meter.Int64Counter(
		"events_applied_total",
		metric.WithDescription("Status events that advanced a job record"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.EventsDiscardedTotal, err = meter.Int64Counter(
		"events_discarded_total",
		metric.WithDescription("Status events discarded as duplicate, stale, or post-terminal"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobsTerminalTotal, err = meter.Int64Counter(
		"jobs_terminal_total",
		metric.WithDescription("Jobs that reached a terminal state"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobsTracked, err = meter.Int64UpDownCounter(
		"jobs_tracked",
		metric.WithDescription("Jobs currently tracked by the engine (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.PollAttemptsTotal, err = meter.Int64Counter(
		"poll_attempts_total",
		metric.WithDescription("Status poll attempts by outcome"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ArtifactDownloadDuration, err = meter.Float64Histogram(
		"artifact_download_duration_seconds",
		metric.WithDescription("Artifact download latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ArtifactDownloadsTotal, err = meter.Int64Counter(
		"artifact_downloads_total",
		metric.WithDescription("Artifacts downloaded successfully"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ArtifactFailuresTotal, err = meter.Int64Counter(
		"artifact_failures_total",
		metric.WithDescription("Artifact downloads that exhausted their retry budget"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.Handler(), nil
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(
		methodAttr(method),
		pathAttr(path),
		statusAttr(statusCode),
	)

	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)

	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordEventApplied records a status event advancing a record.
func (m *Metrics) RecordEventApplied(ctx context.Context, source, st string) {
	m.EventsAppliedTotal.Add(ctx, 1, metric.WithAttributes(sourceAttr(source), stateAttr(st)))
}

// RecordEventDiscarded records a duplicate, stale, or post-terminal event.
func (m *Metrics) RecordEventDiscarded(ctx context.Context, source, reason string) {
	m.EventsDiscardedTotal.Add(ctx, 1, metric.WithAttributes(sourceAttr(source), reasonAttr(reason)))
}

// RecordJobTerminal records a job reaching a terminal state.
func (m *Metrics) RecordJobTerminal(ctx context.Context, st string) {
	m.JobsTerminalTotal.Add(ctx, 1, metric.WithAttributes(stateAttr(st)))
	m.JobsTracked.Add(ctx, -1)
}

// RecordJobTracked records a job entering tracking.
func (m *Metrics) RecordJobTracked(ctx context.Context) {
	m.JobsTracked.Add(ctx, 1)
}

// RecordPollAttempt records one poll attempt by outcome.
func (m *Metrics) RecordPollAttempt(ctx context.Context, outcome string) {
	m.PollAttemptsTotal.Add(ctx, 1, metric.WithAttributes(outcomeAttr(outcome)))
}

// RecordArtifactDownloaded records a successful artifact download.
func (m *Metrics) RecordArtifactDownloaded(ctx context.Context, durationSeconds float64) {
	m.ArtifactDownloadsTotal.Add(ctx, 1)
	m.ArtifactDownloadDuration.Record(ctx, durationSeconds)
}

// RecordArtifactFailed records an exhausted artifact download budget.
func (m *Metrics) RecordArtifactFailed(ctx context.Context) {
	m.ArtifactFailuresTotal.Add(ctx, 1)
}
