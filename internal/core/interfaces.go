package core

import (
	"context"
	"time"
)

// RateLimitStore abstracts the backing store for rate limiting.
// Production uses Redis when configured; otherwise an in-process store.
type RateLimitStore interface {
	// IncrementAndCheck atomically increments the counter for key and reports
	// whether it is still within limit for the current window.
	IncrementAndCheck(ctx context.Context, key string, limit int, window time.Duration) (RateLimitResult, error)
}

// RateLimitResult contains the outcome of a rate limit check.
type RateLimitResult struct {
	// Allowed indicates whether the request is within the rate limit.
	Allowed bool
	// Remaining is the number of requests remaining in the current window.
	Remaining int
	// ResetAt is the time when the current rate limit window resets.
	ResetAt time.Time
}
