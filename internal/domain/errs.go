package domain

import (
	"context"
	"errors"
	"fmt"
)

// Kind buckets every error the trading core can surface. The bucket decides
// the reaction: Transient is retried with backoff (never a submit that was
// already dispatched), Rejected is terminal for that order, Auth is fatal for
// the session, Consistency triggers resync/correction plus an alert, and
// Programmer fails fast before anything touches the network.
type Kind int

const (
	KindTransient Kind = iota
	KindRejected
	KindAuth
	KindConsistency
	KindProgrammer
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "TRANSIENT"
	case KindRejected:
		return "REJECTED"
	case KindAuth:
		return "AUTH"
	case KindConsistency:
		return "CONSISTENCY"
	case KindProgrammer:
		return "PROGRAMMER"
	default:
		return "UNKNOWN"
	}
}

var (
	// Consistency failures raised by the book and the trackers.
	ErrStaleUpdate    = errors.New("stale update: sequence not newer than book")
	ErrSequenceGap    = errors.New("sequence gap in delta stream")
	ErrCrossedBook    = errors.New("crossed book: best bid >= best ask")
	ErrReconcileDrift = errors.New("reconciliation drift between local and venue state")

	// Auth failures.
	ErrSignerRequired = errors.New("signer credentials not configured")
	ErrAuthFailed     = errors.New("venue rejected authentication")

	// Programmer failures.
	ErrInvalidRequest = errors.New("invalid order request")

	// Lifecycle failures.
	ErrUnknownOrder = errors.New("unknown order")
	ErrRateLimited  = errors.New("venue rate limit hit")
)

// RejectionError carries the venue's refusal reason for one order.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("order rejected by venue: %s", e.Reason)
}

// KindOf classifies an error into the taxonomy. Anything unrecognized is
// treated as Transient, which is the safe default for network-shaped
// failures: nothing is retried blindly and reconciliation heals the rest.
func KindOf(err error) Kind {
	var rej *RejectionError
	switch {
	case errors.As(err, &rej):
		return KindRejected
	case errors.Is(err, ErrSignerRequired), errors.Is(err, ErrAuthFailed):
		return KindAuth
	case errors.Is(err, ErrStaleUpdate),
		errors.Is(err, ErrSequenceGap),
		errors.Is(err, ErrCrossedBook),
		errors.Is(err, ErrReconcileDrift):
		return KindConsistency
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrUnknownOrder):
		return KindProgrammer
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, ErrRateLimited):
		return KindTransient
	default:
		return KindTransient
	}
}
