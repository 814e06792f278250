package infra

import (
	"testing"
	"time"
)

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 1, time.Minute)

	for i := 0; i < 2; i++ {
		cb.RecordFailure()
	}
	if !cb.Allow() {
		t.Error("breaker should still allow below threshold")
	}

	cb.RecordFailure()
	if cb.State() != BreakerOpen {
		t.Errorf("State = %s; want OPEN", cb.State())
	}
	if cb.Allow() {
		t.Error("open breaker must reject requests")
	}
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 2, 10*time.Millisecond)

	cb.RecordFailure()
	if cb.Allow() {
		t.Fatal("breaker should be open")
	}

	time.Sleep(15 * time.Millisecond)
	if !cb.Allow() {
		t.Fatal("breaker should probe after cooldown")
	}
	if cb.State() != BreakerHalfOpen {
		t.Fatalf("State = %s; want HALF_OPEN", cb.State())
	}

	cb.RecordSuccess()
	cb.RecordSuccess()
	if cb.State() != BreakerClosed {
		t.Errorf("State = %s; want CLOSED after successes", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 2, 10*time.Millisecond)

	cb.RecordFailure()
	time.Sleep(15 * time.Millisecond)
	if !cb.Allow() {
		t.Fatal("expected half-open probe")
	}

	cb.RecordFailure()
	if cb.State() != BreakerOpen {
		t.Errorf("State = %s; want OPEN after failed probe", cb.State())
	}
}

func TestCircuitBreaker_ClosedResetsFailuresOnSuccess(t *testing.T) {
	cb := NewCircuitBreaker("test", 2, 1, time.Minute)

	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	if cb.State() != BreakerClosed {
		t.Error("non-consecutive failures must not open the breaker")
	}
}
