package infra

import (
	"context"
	"sync"
	"time"
)

// RateLimiter implements a token bucket with lazy refill: capacity tokens,
// refilled at rate tokens/second based on elapsed wall-clock time, no
// background timer. Blocking callers are served in reservation order, so no
// single order stream can be starved under contention.
type RateLimiter struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time

	// nextSlot is the virtual-time cursor for blocked callers: each Acquire
	// reserves the earliest unclaimed slot under the lock, giving FIFO-
	// equivalent ordering without a waiter queue.
	nextSlot time.Time

	// WaitHook, when set before first use, is invoked once per Acquire that
	// has to block for a slot.
	WaitHook func()
}

// NewRateLimiter creates a limiter with the given burst capacity and refill
// rate (tokens per second).
func NewRateLimiter(capacity int, perSecond float64) *RateLimiter {
	now := time.Now()
	return &RateLimiter{
		tokens:     float64(capacity),
		maxTokens:  float64(capacity),
		refillRate: perSecond,
		lastRefill: now,
		nextSlot:   now,
	}
}

// Acquire blocks until a token is available or ctx fires. It is the only
// blocking point on the submit path and never fails for any other reason.
func (r *RateLimiter) Acquire(ctx context.Context) error {
	r.mu.Lock()
	r.refill()

	now := time.Now()
	var due time.Time
	if r.tokens >= 1 && !r.nextSlot.After(now) {
		// Token available and nobody queued ahead of us.
		r.tokens--
		r.nextSlot = now
		r.mu.Unlock()
		return nil
	}

	// Reserve the next slot after the current queue tail. The token is
	// debited now, driving the balance negative, so the refill that matures
	// by the slot's due time pays off the reservation instead of piling back
	// into the bucket.
	r.tokens--
	interval := time.Duration(float64(time.Second) / r.refillRate)
	if r.nextSlot.After(now) {
		due = r.nextSlot.Add(interval)
	} else {
		due = now.Add(interval)
	}
	r.nextSlot = due
	hook := r.WaitHook
	r.mu.Unlock()

	if hook != nil {
		hook()
	}

	timer := time.NewTimer(time.Until(due))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		// Refund the reservation's token. The slot itself stays claimed,
		// which only costs later waiters a little extra latency.
		r.mu.Lock()
		r.tokens++
		r.mu.Unlock()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// TryAcquire attempts to take a token without blocking.
func (r *RateLimiter) TryAcquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()
	if r.tokens >= 1 && !r.nextSlot.After(time.Now()) {
		r.tokens--
		return true
	}
	return false
}

// refill adds tokens based on elapsed time. Must be called with mutex held.
func (r *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(r.lastRefill).Seconds()
	r.tokens += elapsed * r.refillRate
	if r.tokens > r.maxTokens {
		r.tokens = r.maxTokens
	}
	r.lastRefill = now
}
