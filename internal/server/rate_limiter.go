// Package server wraps a token bucket for per-connection inbound throttling
// that protects the registry from a single noisy client.
package server

import (
	"time"

	"golang.org/x/time/rate"
)

// newRateLimiter returns a bucket that holds capacity tokens and refills all of
// them over interval.
func newRateLimiter(capacity int, interval time.Duration) *rate.Limiter {
	if capacity <= 0 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	every := interval / time.Duration(capacity)
	if every <= 0 {
		return rate.NewLimiter(rate.Inf, capacity)
	}
	return rate.NewLimiter(rate.Every(every), capacity)
}
