// Package ratelimit throttles the selection endpoints with a token bucket.
package ratelimit

import (
	"golang.org/x/time/rate"
)

// Limiter is a QPS limiter
type Limiter struct {
	limiter *rate.Limiter
}

// New creates a limiter allowing qps requests per second with a burst of qps.
// A qps of zero or less disables limiting.
func New(qps int) *Limiter {
	if qps <= 0 {
		return &Limiter{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(qps), qps)}
}

// Allow reports whether a request may proceed now, without blocking
func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}
