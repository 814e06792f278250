package infra

import (
	"math/rand"
	"time"
)

// BackoffPolicy computes reconnect delays: base * 2^attempt, capped at Max,
// with up to Jitter fraction of random spread so that a fleet of clients does
// not reconnect in lockstep. MaxAttempts of 0 means retry forever.
type BackoffPolicy struct {
	Base        time.Duration
	Max         time.Duration
	Jitter      float64 // 0..1, fraction of the delay randomized
	MaxAttempts int
}

// DefaultBackoff matches the venue reconnect defaults: 1s doubling to 60s
// with 20% jitter, giving up after 12 attempts.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		Base:        time.Second,
		Max:         60 * time.Second,
		Jitter:      0.2,
		MaxAttempts: 12,
	}
}

// Delay returns the backoff duration for a given attempt count (0-based).
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	d := p.Base
	// 2^attempt with an early cap; 1<<30 seconds is already far past any Max.
	if attempt > 30 {
		d = p.Max
	} else {
		d = p.Base * time.Duration(1<<attempt)
		if d > p.Max || d <= 0 {
			d = p.Max
		}
	}

	if p.Jitter > 0 {
		spread := float64(d) * p.Jitter
		d = time.Duration(float64(d) - spread/2 + rand.Float64()*spread)
	}
	return d
}

// Exhausted reports whether the attempt ceiling has been reached.
func (p BackoffPolicy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt >= p.MaxAttempts
}
