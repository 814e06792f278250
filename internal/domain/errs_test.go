package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"rejection", &RejectionError{Reason: "insufficient margin"}, KindRejected},
		{"wrapped rejection", fmt.Errorf("submit: %w", &RejectionError{Reason: "x"}), KindRejected},
		{"signer", ErrSignerRequired, KindAuth},
		{"gap", ErrSequenceGap, KindConsistency},
		{"crossed", fmt.Errorf("book: %w", ErrCrossedBook), KindConsistency},
		{"drift", ErrReconcileDrift, KindConsistency},
		{"stale", ErrStaleUpdate, KindConsistency},
		{"invalid request", ErrInvalidRequest, KindProgrammer},
		{"unknown order", ErrUnknownOrder, KindProgrammer},
		{"deadline", context.DeadlineExceeded, KindTransient},
		{"rate limited", ErrRateLimited, KindTransient},
		{"unclassified network-ish", errors.New("connection reset by peer"), KindTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}
