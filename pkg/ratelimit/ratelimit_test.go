package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_NoBlockWhenZeroRPS(t *testing.T) {
	limiter := NewLimiter(0, 0.5)

	start := time.Now()
	if err := limiter.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(start) > 10*time.Millisecond {
		t.Errorf("limiter with 0 RPS should not block")
	}
}

func TestLimiter_NilIsNoop(t *testing.T) {
	var l *Limiter
	if err := l.Wait(context.Background()); err != nil {
		t.Errorf("nil limiter should not fail: %v", err)
	}
	l.Stop()
}

func TestLimiter_Wait(t *testing.T) {
	limiter := NewLimiter(10, 0) // 100ms interval
	defer limiter.Stop()

	ctx := context.Background()
	_ = limiter.Wait(ctx)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d := time.Since(start); d < 50*time.Millisecond || d > 150*time.Millisecond {
		t.Errorf("expected wait around 100ms, took %v", d)
	}
}

func TestLimiter_ContextCancellation(t *testing.T) {
	limiter := NewLimiter(1, 0)
	defer limiter.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := limiter.Wait(ctx); err == nil {
		t.Fatalf("expected context canceled error")
	}
}

func TestBetween(t *testing.T) {
	min, max := 500*time.Millisecond, 1200*time.Millisecond
	for i := 0; i < 200; i++ {
		d := Between(min, max)
		if d < min || d > max {
			t.Fatalf("duration %v outside [%v, %v]", d, min, max)
		}
	}
	if d := Between(time.Second, time.Second); d != time.Second {
		t.Errorf("expected degenerate range to return min, got %v", d)
	}
}

func TestPause_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	if err := Pause(ctx, time.Second, 3*time.Second); err == nil {
		t.Fatal("expected cancellation error")
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Errorf("cancelled pause should return promptly")
	}
}

func TestNoPause(t *testing.T) {
	if err := NoPause(context.Background(), time.Hour, 2*time.Hour); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
