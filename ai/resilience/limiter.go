package resilience

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ErrLimiterFull is returned when the waiter queue is at capacity. Callers
// surface this without blocking.
var ErrLimiterFull = errors.New("concurrency limiter queue is full")

// Limiter serialises provider calls with a single permit and a bounded FIFO
// waiter queue. The weighted semaphore grants permits in arrival order.
type Limiter struct {
	sem        *semaphore.Weighted
	maxWaiters int32
	inflight   atomic.Int32
}

// NewLimiter creates a limiter with one permit and up to maxWaiters queued
// callers.
func NewLimiter(maxWaiters int) *Limiter {
	if maxWaiters < 0 {
		maxWaiters = 0
	}
	return &Limiter{
		sem:        semaphore.NewWeighted(1),
		maxWaiters: int32(maxWaiters),
	}
}

// Acquire takes the permit, queueing behind earlier callers. Returns
// ErrLimiterFull immediately when the queue is at capacity, or the context
// error if ctx ends while waiting.
func (l *Limiter) Acquire(ctx context.Context) error {
	// inflight counts the holder plus all waiters.
	if l.inflight.Add(1) > l.maxWaiters+1 {
		l.inflight.Add(-1)
		return ErrLimiterFull
	}
	if err := l.sem.Acquire(ctx, 1); err != nil {
		l.inflight.Add(-1)
		return err
	}
	return nil
}

// Release returns the permit. Must be called exactly once per successful
// Acquire.
func (l *Limiter) Release() {
	l.sem.Release(1)
	l.inflight.Add(-1)
}

// Waiting returns the number of callers queued behind the current holder.
func (l *Limiter) Waiting() int {
	n := l.inflight.Load() - 1
	if n < 0 {
		n = 0
	}
	return int(n)
}
