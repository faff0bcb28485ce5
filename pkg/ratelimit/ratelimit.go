package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Limiter enforces a minimum gap between consecutive operations, with optional
// positive jitter. It is safe for concurrent use; concurrent callers are handed
// successive slots in arrival order.
type Limiter struct {
	mu       sync.Mutex
	interval time.Duration
	jitter   float64 // 0.0 to 1.0
	next     time.Time
}

// NewLimiter creates a limiter with the given minimum interval and jitter factor.
// Jitter is clamped to [0, 1] and adds up to jitter*interval to each gap.
// An interval <= 0 never blocks.
func NewLimiter(interval time.Duration, jitter float64) *Limiter {
	if jitter < 0 {
		jitter = 0
	} else if jitter > 1 {
		jitter = 1
	}
	return &Limiter{interval: interval, jitter: jitter}
}

// Interval returns the configured minimum gap.
func (l *Limiter) Interval() time.Duration {
	return l.interval
}

// Wait blocks until the caller's slot arrives or ctx is done.
// The first call returns immediately.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.interval <= 0 {
		return nil
	}

	l.mu.Lock()
	now := time.Now()
	at := l.next
	if at.Before(now) {
		at = now
	}
	gap := l.interval
	if l.jitter > 0 {
		gap += time.Duration(float64(l.interval) * l.jitter * rand.Float64())
	}
	l.next = at.Add(gap)
	l.mu.Unlock()

	wait := time.Until(at)
	if wait <= 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
