// tts-tracker is the job lifecycle tracking service: it hosts the webhook
// receiver and job management API, polls the synthesis service, reconciles
// both channels into per-job records, and downloads finished audio.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"ttsengine/internal/api"
	"ttsengine/internal/client"
	"ttsengine/internal/config"
	"ttsengine/internal/fetcher"
	"ttsengine/internal/health"
	"ttsengine/internal/observability"
	"ttsengine/internal/poller"
	"ttsengine/internal/reconciler"
	"ttsengine/internal/remote"
	"ttsengine/internal/state"
	"ttsengine/internal/store"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg := config.LoadServiceConfig()

	// Setup metrics
	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	// Record store: Redis when configured, in-memory otherwise
	var records store.Store
	if cfg.Engine.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.Engine.RedisURL)
		if err != nil {
			return err
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		records = store.NewRedis(rdb, cfg.Engine.RecordRetention)
		slog.Info("Using Redis record store")
	} else {
		records = store.NewMemory()
		slog.Info("Using in-memory record store")
	}

	// Core pipeline: remote client, reconciler, poller, artifact fetcher
	remoteClient := remote.New(cfg.Engine.APIBaseURL, cfg.Engine.APIKey)

	rec := reconciler.New(records, reconciler.Config{
		QueueSize: cfg.Engine.QueueSize,
	}, metrics)

	p := poller.New(remoteClient, rec, poller.Config{
		MaxAttempts:    cfg.Engine.PollMaxAttempts,
		Interval:       cfg.Engine.PollInterval,
		AttemptTimeout: cfg.Engine.PollAttemptTimeout,
	}, metrics)

	dl := fetcher.New(fetcher.Config{
		Dir:         cfg.Engine.ArtifactDir,
		MaxAttempts: cfg.Engine.FetchMaxAttempts,
	}, metrics)

	jobClient := client.New(remoteClient, rec, p, metrics)

	// Terminal wiring: download the artifact, release the job's poll timer.
	// Hooks fire at most once per job.
	rec.OnTerminal(dl.HandleTerminal)
	rec.OnTerminal(func(r *state.Record) { p.Stop(r.JobID) })
	dl.OnResult(jobClient.HandleArtifact)
	p.OnExhausted(jobClient.HandlePollExhausted)

	// Create health checker probing the remote synthesis API
	healthChecker := health.NewChecker(remoteClient)

	// Create API router
	router := api.NewRouter(api.RouterConfig{
		JobService:    jobClient,
		EventSink:     rec,
		Metrics:       metrics,
		HealthChecker: healthChecker,
		APIKey:        cfg.APIKey,
		WebhookSecret: cfg.WebhookSecret,
	})

	if cfg.APIKey != "" {
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled - no API_KEY configured")
	}
	if cfg.WebhookSecret == "" {
		slog.Warn("Webhook signature verification disabled - no WEBHOOK_SECRET configured")
	}

	// Create API server
	apiServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Create metrics server
	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + cfg.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// Channel to capture server errors
	serverErr := make(chan error, 1)

	go func() {
		slog.Info("Starting API server", "port", cfg.Port)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	go func() {
		slog.Info("Starting metrics server", "port", cfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// shutdown closes both servers gracefully
	shutdown := func(timeout time.Duration) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}

	// Wait for interrupt signal or server error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		slog.Error("Server failed to start", "error", err)
		shutdown(5 * time.Second)
		return err
	}

	// Phase 1: Mark service as unhealthy for load balancer draining
	healthChecker.SetShuttingDown()

	if cfg.ShutdownDrainWait > 0 {
		slog.Info("Waiting for traffic to drain", "duration", cfg.ShutdownDrainWait)
		time.Sleep(cfg.ShutdownDrainWait)
	}

	// Phase 2: Stop accepting new requests, finish in-flight ones
	slog.Info("Starting graceful shutdown")
	shutdown(25 * time.Second)

	// Phase 3: Stop poll timers, drain per-job event queues, finish downloads
	p.Close()

	reconcilerCtx, reconcilerCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer reconcilerCancel()
	if err := rec.Close(reconcilerCtx); err != nil {
		slog.Warn("Reconciler shutdown error", "error", err)
	}
	dl.Close()

	stats := rec.Stats()
	slog.Info("Reconciler stats",
		"applied", stats.Applied,
		"discarded", stats.Discarded,
		"dropped", stats.Dropped,
		"terminals", stats.Terminals,
	)

	slog.Info("Shutdown complete")
	return nil
}
