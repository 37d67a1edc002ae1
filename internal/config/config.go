// Package config provides configuration loading from environment variables.
package config

import (
	"time"
)

// ServiceConfig holds configuration for the tracker service.
type ServiceConfig struct {
	Port              string
	MetricsPort       string
	APIKey            string        // Bearer token for the management API; empty disables auth
	WebhookSecret     string        // HMAC secret for webhook signatures; empty disables verification
	ShutdownDrainWait time.Duration // Time to wait for load balancer to drain (0 to skip)

	Engine EngineConfig
}

// EngineConfig holds the tracking pipeline settings shared by the service
// and the CLI.
type EngineConfig struct {
	APIBaseURL string
	APIKey     string // key for the remote synthesis API

	PollMaxAttempts    int
	PollInterval       time.Duration
	PollAttemptTimeout time.Duration

	FetchMaxAttempts int
	ArtifactDir      string

	QueueSize int

	RedisURL        string // empty selects the in-memory record store
	RecordRetention time.Duration
}

// LoadServiceConfig loads service configuration from environment variables.
func LoadServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		Port:              GetEnv("PORT", "8080"),
		MetricsPort:       GetEnv("METRICS_PORT", "9090"),
		APIKey:            GetSecretEnv("API_KEY"),
		WebhookSecret:     GetSecretEnv("WEBHOOK_SECRET"),
		ShutdownDrainWait: GetDurationEnv("SHUTDOWN_DRAIN_WAIT", 5*time.Second),
		Engine:            LoadEngineConfig(),
	}
}

// LoadEngineConfig loads the tracking pipeline settings.
func LoadEngineConfig() EngineConfig {
	return EngineConfig{
		APIBaseURL:         GetEnv("TTS_API_BASE_URL", "http://localhost:8000/api/v1"),
		APIKey:             GetSecretEnv("TTS_API_KEY"),
		PollMaxAttempts:    GetIntEnv("POLL_MAX_ATTEMPTS", 30),
		PollInterval:       GetDurationEnv("POLL_INTERVAL", 2*time.Second),
		PollAttemptTimeout: GetDurationEnv("POLL_ATTEMPT_TIMEOUT", 10*time.Second),
		FetchMaxAttempts:   GetIntEnv("FETCH_MAX_ATTEMPTS", 3),
		ArtifactDir:        GetEnv("ARTIFACT_DIR", "artifacts"),
		QueueSize:          GetIntEnv("EVENT_QUEUE_SIZE", 256),
		RedisURL:           GetEnv("REDIS_URL", ""),
		RecordRetention:    GetDurationEnv("RECORD_RETENTION", 24*time.Hour),
	}
}
