package domain

import (
	"time"

	"quant_go/pkg/quant"
)

// Side of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType distinguishes limit from market orders.
type OrderType string

const (
	TypeLimit  OrderType = "LIMIT"
	TypeMarket OrderType = "MARKET"
)

// OrderState is the lifecycle state of an order.
type OrderState string

const (
	StatePending         OrderState = "PENDING"
	StateOpen            OrderState = "OPEN"
	StatePartiallyFilled OrderState = "PARTIALLY_FILLED"
	StateFilled          OrderState = "FILLED"
	StateCancelled       OrderState = "CANCELLED"
	StateRejected        OrderState = "REJECTED"
	StateExpired         OrderState = "EXPIRED"
)

// IsTerminal reports whether no further transition may leave this state.
func (s OrderState) IsTerminal() bool {
	switch s {
	case StateFilled, StateCancelled, StateRejected, StateExpired:
		return true
	}
	return false
}

// transitions enumerates every legal state change. Terminal states absorb.
var transitions = map[OrderState][]OrderState{
	// PENDING may go straight to FILLED when the venue fills an IOC
	// synchronously on the ack, and to CANCELLED/EXPIRED via reconciliation.
	StatePending:         {StateOpen, StateFilled, StateRejected, StateCancelled, StateExpired},
	StateOpen:            {StatePartiallyFilled, StateFilled, StateCancelled, StateExpired},
	StatePartiallyFilled: {StateOpen, StatePartiallyFilled, StateFilled, StateCancelled, StateExpired},
}

// CanTransition reports whether s -> to is a legal state change.
func (s OrderState) CanTransition(to OrderState) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Order is a single order record. The client order id is assigned locally and
// is the idempotency key; the exchange order id is learned from the ack and is
// empty until then. Records are owned exclusively by the order store.
type Order struct {
	ClientOrderID   string
	ExchangeOrderID string
	Symbol          string
	Side            Side
	Type            OrderType
	RequestedQty    quant.Fixed
	FilledQty       quant.Fixed
	AvgFillPrice    quant.Fixed // meaningful only when FilledQty > 0
	LimitPrice      quant.Fixed // zero for market orders
	State           OrderState
	RejectReason    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsOpen checks if the order is still working on the venue.
func (o *Order) IsOpen() bool {
	return o.State == StateOpen || o.State == StatePartiallyFilled
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() quant.Fixed {
	rem, err := o.RequestedQty.Sub(o.FilledQty)
	if err != nil || rem.Sign() < 0 {
		return quant.Fixed{}
	}
	return rem
}
