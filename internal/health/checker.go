// Package health provides health check functionality for liveness and readiness probes.
package health

import (
	"context"
	"sync"
	"time"
)

// Pinger is the dependency probe. Implemented by the remote API client's
// Health method.
type Pinger interface {
	Health(ctx context.Context) error
}

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult contains the result of a health check.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response is the health check response.
type Response struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// IsHealthy reports whether the response indicates readiness.
func (r *Response) IsHealthy() bool {
	return r.Status == StatusHealthy
}

// Checker performs health checks on the remote API dependency.
type Checker struct {
	remote  Pinger
	timeout time.Duration

	mu           sync.RWMutex
	lastCheck    time.Time
	cachedReady  *Response
	shuttingDown bool
}

// NewChecker creates a new health checker.
func NewChecker(remote Pinger) *Checker {
	return &Checker{
		remote:  remote,
		timeout: 5 * time.Second,
	}
}

// Liveness returns healthy while the process is alive. It never touches
// external dependencies.
func (c *Checker) Liveness(ctx context.Context) *Response {
	return &Response{
		Status: StatusHealthy,
	}
}

// Readiness checks if the service is ready to accept traffic: the remote API
// must answer its health endpoint. Results are cached for a second to avoid
// hammering the remote service from probe traffic.
func (c *Checker) Readiness(ctx context.Context) *Response {
	c.mu.RLock()
	if c.shuttingDown {
		c.mu.RUnlock()
		return &Response{
			Status: StatusUnhealthy,
			Checks: map[string]CheckResult{
				"shutdown": {Status: StatusUnhealthy, Message: "service is shutting down"},
			},
		}
	}
	if c.cachedReady != nil && time.Since(c.lastCheck) < time.Second {
		cached := c.cachedReady
		c.mu.RUnlock()
		return cached
	}
	c.mu.RUnlock()

	checks := make(map[string]CheckResult)
	overall := StatusHealthy

	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.remote.Health(checkCtx); err != nil {
		checks["remote_api"] = CheckResult{Status: StatusUnhealthy, Message: err.Error()}
		overall = StatusUnhealthy
	} else {
		checks["remote_api"] = CheckResult{Status: StatusHealthy}
	}

	resp := &Response{Status: overall, Checks: checks}

	c.mu.Lock()
	c.cachedReady = resp
	c.lastCheck = time.Now()
	c.mu.Unlock()

	return resp
}

// SetShuttingDown marks the service as draining so readiness fails fast.
func (c *Checker) SetShuttingDown() {
	c.mu.Lock()
	c.shuttingDown = true
	c.mu.Unlock()
}
