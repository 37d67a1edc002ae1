package api

import (
	"net/http"

	"ttsengine/internal/health"
	"ttsengine/internal/observability"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	JobService    JobService
	EventSink     EventSink
	Metrics       *observability.Metrics
	HealthChecker *health.Checker
	APIKey        string
	WebhookSecret string
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := NewHandler(cfg.JobService, cfg.EventSink, cfg.HealthChecker, cfg.WebhookSecret)

	mux := http.NewServeMux()

	// Health check endpoints (liveness/readiness probes) - no auth required
	mux.HandleFunc("GET /livez", handler.Livez)
	mux.HandleFunc("GET /readyz", handler.Readyz)

	// Webhook receiver - authenticated by HMAC signature, not Bearer token
	mux.HandleFunc("POST /webhook", handler.ReceiveWebhook)

	// Job endpoints - auth required
	authMiddleware := AuthMiddleware(cfg.APIKey)
	mux.Handle("POST /v1/jobs", authMiddleware(http.HandlerFunc(handler.SubmitJob)))
	mux.Handle("GET /v1/jobs/{jobId}", authMiddleware(http.HandlerFunc(handler.GetJob)))
	mux.Handle("DELETE /v1/jobs/{jobId}", authMiddleware(http.HandlerFunc(handler.CancelJob)))
	mux.Handle("GET /events/{jobId}", authMiddleware(http.HandlerFunc(handler.JobEvents)))

	// Apply middleware chain (order matters: outermost first)
	var h http.Handler = mux
	h = ContentTypeMiddleware()(h)
	if cfg.Metrics != nil {
		h = MetricsMiddleware(cfg.Metrics)(h)
	}
	h = LoggingMiddleware()(h)
	h = RecoveryMiddleware()(h)

	return h
}
