// Package backoff provides retry delay policies.
package backoff

import (
	"math"
	"time"
)

// Policy returns the delay before a given attempt. Attempt numbering starts
// at 1. The status poller and artifact fetcher accept any Policy; the
// baseline poll schedule is a constant interval, artifact retries use
// exponential growth.
type Policy func(attempt int) time.Duration

// Constant returns a policy with the same delay for every attempt.
func Constant(interval time.Duration) Policy {
	return func(int) time.Duration {
		return interval
	}
}

// Config for exponential backoff. Zero values use defaults.
type Config struct {
	Initial time.Duration // default: 100ms
	Max     time.Duration // default: 5s
}

// Exponential calculates exponential backoff for a given attempt.
// Attempt 1 returns initial, attempt 2 returns initial*2, etc.
func Exponential(attempt int, cfg *Config) time.Duration {
	initial := 100 * time.Millisecond
	maxBackoff := 5 * time.Second
	if cfg != nil {
		if cfg.Initial > 0 {
			initial = cfg.Initial
		}
		if cfg.Max > 0 {
			maxBackoff = cfg.Max
		}
	}

	if attempt < 1 {
		return initial
	}
	backoff := float64(initial) * math.Pow(2.0, float64(attempt-1))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}
	return time.Duration(backoff)
}

// ExponentialPolicy adapts Exponential into a Policy.
func ExponentialPolicy(cfg *Config) Policy {
	return func(attempt int) time.Duration {
		return Exponential(attempt, cfg)
	}
}
