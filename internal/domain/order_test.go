package domain

import (
	"testing"

	"quant_go/pkg/quant"
)

func TestOrderState_CanTransition(t *testing.T) {
	tests := []struct {
		name string
		from OrderState
		to   OrderState
		want bool
	}{
		{"pending to open", StatePending, StateOpen, true},
		{"pending to rejected", StatePending, StateRejected, true},
		{"pending straight to filled (sync IOC)", StatePending, StateFilled, true},
		{"open to partially filled", StateOpen, StatePartiallyFilled, true},
		{"partially filled back to open", StatePartiallyFilled, StateOpen, true},
		{"partially filled to filled", StatePartiallyFilled, StateFilled, true},
		{"open to expired", StateOpen, StateExpired, true},
		{"filled is terminal", StateFilled, StateCancelled, false},
		{"cancelled is terminal", StateCancelled, StateOpen, false},
		{"rejected is terminal", StateRejected, StatePending, false},
		{"expired is terminal", StateExpired, StateOpen, false},
		{"open cannot regress to pending", StateOpen, StatePending, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("%s.CanTransition(%s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestOrderState_IsTerminal(t *testing.T) {
	terminal := []OrderState{StateFilled, StateCancelled, StateRejected, StateExpired}
	live := []OrderState{StatePending, StateOpen, StatePartiallyFilled}

	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s.IsTerminal() = false, want true", s)
		}
	}
	for _, s := range live {
		if s.IsTerminal() {
			t.Errorf("%s.IsTerminal() = true, want false", s)
		}
	}
}

func TestOrder_Remaining(t *testing.T) {
	o := &Order{
		RequestedQty: quant.MustFixed("2"),
		FilledQty:    quant.MustFixed("0.5"),
	}
	if got := o.Remaining(); got.String() != "1.5" {
		t.Errorf("Remaining() = %s, want 1.5", got.String())
	}

	o.FilledQty = quant.MustFixed("2")
	if !o.Remaining().IsZero() {
		t.Errorf("Remaining() on fully filled = %s, want 0", o.Remaining().String())
	}
}

func TestOrder_IsOpen(t *testing.T) {
	tests := []struct {
		state OrderState
		want  bool
	}{
		{StatePending, false},
		{StateOpen, true},
		{StatePartiallyFilled, true},
		{StateFilled, false},
		{StateCancelled, false},
	}
	for _, tt := range tests {
		o := &Order{State: tt.state}
		if got := o.IsOpen(); got != tt.want {
			t.Errorf("Order{%s}.IsOpen() = %v, want %v", tt.state, got, tt.want)
		}
	}
}
