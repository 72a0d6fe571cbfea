package checker

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Limiter is a bounded admission gate for fan-out operations. Waiters are
// admitted in FIFO order, so no caller starves while slots free up.
type Limiter struct {
	sem *semaphore.Weighted
}

// NewLimiter returns a limiter admitting at most n concurrent holders.
// Values below one are raised to one.
func NewLimiter(n int) *Limiter {
	if n < 1 {
		n = 1
	}
	return &Limiter{sem: semaphore.NewWeighted(int64(n))}
}

// Acquire blocks until a slot is free or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	return l.sem.Acquire(ctx, 1)
}

// Release frees a slot taken by Acquire.
func (l *Limiter) Release() {
	l.sem.Release(1)
}
