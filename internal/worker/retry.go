package worker

import (
	"math"
	"time"
)

// RetryPolicy controls how long a failed sync task waits before the next
// attempt. Zero values get sane defaults, so RetryPolicy{} is usable as-is.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// NextDelay computes the backoff for attempt (1-based). Attempts below one
// count as the first, and the result never exceeds MaxDelay when it is set.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := r.InitialDelay
	if base <= 0 {
		base = time.Second
	}
	factor := r.BackoffFactor
	if factor <= 0 {
		factor = 2
	}

	delay := time.Duration(float64(base) * math.Pow(factor, float64(attempt-1)))
	if r.MaxDelay > 0 && delay > r.MaxDelay {
		delay = r.MaxDelay
	}
	if delay <= 0 {
		delay = time.Second
	}
	return delay
}
