package ratelimit

import (
	"golang.org/x/time/rate"
)

// NewLimiter creates the outbound pacing limiter used by the page fetcher.
// A non-positive rps disables pacing.
func NewLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}
