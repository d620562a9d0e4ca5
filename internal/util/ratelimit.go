package util

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter paces calls so that no more than perMinute operations start in
// any rolling minute. It is safe for concurrent use.
type RateLimiter struct {
	limiter   *rate.Limiter
	perMinute int
}

// NewRateLimiter creates a RateLimiter that allows perMinute operations per
// minute. A non-positive perMinute disables pacing.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	interval := time.Minute / time.Duration(perMinute)
	return &RateLimiter{
		limiter:   rate.NewLimiter(rate.Every(interval), 1), // start with one token available
		perMinute: perMinute,
	}
}

// Wait blocks until a rate-limit token is available or the context is
// cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	return rl.limiter.Wait(ctx)
}

// PerMinute returns the configured ceiling, or 0 when pacing is disabled.
func (rl *RateLimiter) PerMinute() int { return rl.perMinute }
