package api

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Limiter is a token bucket shared by every caller of a Client.
type Limiter struct {
	rl *rate.Limiter
}

// NewLimiter refills rps tokens per second into a bucket holding at most burst tokens.
func NewLimiter(rps float64, burst int) *Limiter {
	if rps <= 0 {
		return &Limiter{rl: rate.NewLimiter(rate.Inf, 1)}
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{rl: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Wait blocks until a token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.rl.Wait(ctx)
}

// Every returns the refill interval.
func (l *Limiter) Every() time.Duration {
	if l.rl.Limit() == rate.Inf {
		return 0
	}
	return time.Duration(float64(time.Second) / float64(l.rl.Limit()))
}

// Gate bounds the number of requests in flight.
type Gate struct {
	sem  *semaphore.Weighted
	size int64
}

// NewGate creates a gate with n slots (minimum 1).
func NewGate(n int) *Gate {
	if n <= 0 {
		n = 1
	}
	return &Gate{sem: semaphore.NewWeighted(int64(n)), size: int64(n)}
}

// Acquire waits for a free slot. The returned release func must be called exactly once.
func (g *Gate) Acquire(ctx context.Context) (release func(), err error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { g.sem.Release(1) }, nil
}

// Size returns the number of slots.
func (g *Gate) Size() int { return int(g.size) }
