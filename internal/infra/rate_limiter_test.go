package infra

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRateLimiter_TryAcquire(t *testing.T) {
	rl := NewRateLimiter(2, 10)

	if !rl.TryAcquire() {
		t.Error("expected first TryAcquire to succeed")
	}
	if !rl.TryAcquire() {
		t.Error("expected second TryAcquire to succeed")
	}
	if rl.TryAcquire() {
		t.Error("expected third TryAcquire to fail")
	}
}

func TestRateLimiter_Refill(t *testing.T) {
	rl := NewRateLimiter(1, 10)

	if !rl.TryAcquire() {
		t.Error("expected first TryAcquire to succeed")
	}
	if rl.TryAcquire() {
		t.Error("expected immediate TryAcquire to fail")
	}

	// 120ms > one token at 10/s.
	time.Sleep(120 * time.Millisecond)
	if !rl.TryAcquire() {
		t.Error("expected TryAcquire to succeed after refill")
	}
}

func TestRateLimiter_AcquireBlocksUntilSlot(t *testing.T) {
	rl := NewRateLimiter(1, 20) // 50ms per token
	ctx := context.Background()

	if err := rl.Acquire(ctx); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	start := time.Now()
	if err := rl.Acquire(ctx); err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if waited := time.Since(start); waited < 30*time.Millisecond {
		t.Errorf("second Acquire returned after %v; expected to wait about 50ms", waited)
	}
}

func TestRateLimiter_AcquireCancellation(t *testing.T) {
	rl := NewRateLimiter(1, 0.5) // next token 2s away
	if err := rl.Acquire(context.Background()); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := rl.Acquire(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Acquire error = %v; want DeadlineExceeded", err)
	}
}

func TestRateLimiter_ReservationOrdering(t *testing.T) {
	rl := NewRateLimiter(1, 50) // 20ms per token
	ctx := context.Background()

	if err := rl.Acquire(ctx); err != nil {
		t.Fatalf("seed Acquire: %v", err)
	}

	// Two blocked callers reserve consecutive slots; both complete within the
	// deterministic bound of their reservations (no starvation).
	done := make(chan time.Time, 2)
	for i := 0; i < 2; i++ {
		go func() {
			if err := rl.Acquire(ctx); err != nil {
				t.Error(err)
			}
			done <- time.Now()
		}()
	}

	deadline := time.After(500 * time.Millisecond)
	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-deadline:
			t.Fatal("blocked Acquire did not complete in time")
		}
	}
}

func TestRateLimiter_WaitersConsumeRefill(t *testing.T) {
	rl := NewRateLimiter(2, 10) // 100ms per token
	ctx := context.Background()

	if !rl.TryAcquire() || !rl.TryAcquire() {
		t.Fatal("expected burst capacity of 2")
	}

	// Two blocked callers are paid out of the refill accrued while they wait.
	// That refill is spent; the bucket must not also hold it afterwards.
	done := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		go func() {
			if err := rl.Acquire(ctx); err != nil {
				t.Error(err)
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 2; i++ {
		<-done
	}

	if rl.TryAcquire() {
		t.Error("TryAcquire granted a token the waiters already consumed")
	}
}

func TestRateLimiter_WaitHook(t *testing.T) {
	rl := NewRateLimiter(1, 50)
	var waits int
	rl.WaitHook = func() { waits++ }
	ctx := context.Background()

	if err := rl.Acquire(ctx); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	if waits != 0 {
		t.Errorf("waits = %d after unblocked Acquire, want 0", waits)
	}
	if err := rl.Acquire(ctx); err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if waits != 1 {
		t.Errorf("waits = %d after blocked Acquire, want 1", waits)
	}
}
