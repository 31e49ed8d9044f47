package ratelimit

import (
	"context"
	"math/rand"
	"time"
)

// Limiter spaces out operations to a fixed rate with optional jitter.
// It is safe for concurrent use by multiple goroutines.
type Limiter struct {
	ticker   *time.Ticker
	jitter   float64 // 0.0 to 1.0
	interval time.Duration
}

// NewLimiter creates a limiter allowing rps operations per second. Jitter is
// clamped to [0,1]. If rps is <= 0 the limiter never blocks.
func NewLimiter(rps float64, jitter float64) *Limiter {
	if jitter < 0 {
		jitter = 0
	} else if jitter > 1 {
		jitter = 1
	}
	if rps <= 0 {
		return &Limiter{jitter: jitter}
	}

	interval := time.Duration(float64(time.Second) / rps)
	return &Limiter{
		ticker:   time.NewTicker(interval),
		jitter:   jitter,
		interval: interval,
	}
}

// Wait blocks until the next slot or until ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil || l.ticker == nil {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.ticker.C:
	}

	if l.jitter == 0 {
		return nil
	}
	// Only positive jitter delays; the ticker already enforces the floor.
	extra := time.Duration(float64(l.interval) * l.jitter * (rand.Float64()*2 - 1))
	if extra <= 0 {
		return nil
	}
	return Sleep(ctx, extra)
}

// Stop releases the limiter's ticker.
func (l *Limiter) Stop() {
	if l != nil && l.ticker != nil {
		l.ticker.Stop()
	}
}

// PauseFunc waits for a random duration in [min, max]. Components take one so
// tests can replace the real pause with a no-op.
type PauseFunc func(ctx context.Context, min, max time.Duration) error

// Pause sleeps for a uniformly random duration between min and max.
func Pause(ctx context.Context, min, max time.Duration) error {
	return Sleep(ctx, Between(min, max))
}

// NoPause returns immediately unless ctx is already done.
func NoPause(ctx context.Context, _, _ time.Duration) error {
	return ctx.Err()
}

// Between returns a uniformly random duration in [min, max].
func Between(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)+1))
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
