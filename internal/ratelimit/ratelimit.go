// Package ratelimit throttles requests to hosted model APIs.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter allows a fixed number of requests per minute with a burst of the
// same size. A nil *Limiter never blocks.
type Limiter struct {
	l *rate.Limiter
}

// PerMinute creates a limiter for n requests per minute. E.g. PerMinute(20)
// allows 20 requests to happen over a minute. n <= 0 disables limiting.
func PerMinute(n int) *Limiter {
	if n <= 0 {
		return nil
	}
	return &Limiter{l: rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), n)}
}

// Acquire returns nil if work can proceed. If the bucket is empty Acquire
// sleeps until a token is available or ctx is done, in which case the
// context error is returned.
func (rl *Limiter) Acquire(ctx context.Context) error {
	if rl == nil {
		return nil
	}
	return rl.l.Wait(ctx)
}
