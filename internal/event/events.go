package event

import (
	"time"

	"quant_go/internal/book"
	"quant_go/internal/domain"
)

// Type defines the type of a push event.
type Type uint16

const (
	EvBookSnapshot Type = iota + 1
	EvBookDelta
	EvOrderUpdate
	EvFill
	EvAccountSnapshot
	EvDisconnect
)

// Event is the interface for everything the push stream delivers. Events for
// a given order are dispatched in delivery order; the supervisor owns the
// single draining goroutine.
type Event interface {
	GetType() Type
	GetTs() time.Time
}

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	Ts time.Time `json:"ts"`
}

func (e BaseEvent) GetTs() time.Time { return e.Ts }

// BookSnapshotEvent carries a full ladder replacement for one symbol.
type BookSnapshotEvent struct {
	BaseEvent
	Symbol string            `json:"symbol"`
	Bids   []book.PriceLevel `json:"bids"`
	Asks   []book.PriceLevel `json:"asks"`
	Seq    uint64            `json:"seq"`
}

func (e BookSnapshotEvent) GetType() Type { return EvBookSnapshot }

// BookDeltaEvent carries one incremental, sequenced ladder update.
type BookDeltaEvent struct {
	BaseEvent
	Symbol string            `json:"symbol"`
	Bids   []book.PriceLevel `json:"bids"`
	Asks   []book.PriceLevel `json:"asks"`
	Seq    uint64            `json:"seq"`
}

func (e BookDeltaEvent) GetType() Type { return EvBookDelta }

// OrderUpdateEvent reports a venue-side order state change.
type OrderUpdateEvent struct {
	BaseEvent
	ExchangeOrderID string            `json:"exchange_order_id"`
	ClientOrderID   string            `json:"client_order_id,omitempty"`
	Symbol          string            `json:"symbol"`
	State           domain.OrderState `json:"state"`
	Reason          string            `json:"reason,omitempty"`
}

func (e OrderUpdateEvent) GetType() Type { return EvOrderUpdate }

// FillEvent reports one execution. Fill.Qty is incremental per the adapter
// contract; Fill.FillID dedupes duplicate delivery.
type FillEvent struct {
	BaseEvent
	Fill domain.Fill `json:"fill"`
}

func (e FillEvent) GetType() Type { return EvFill }

// AccountSnapshotEvent carries an authoritative account and position snapshot.
type AccountSnapshotEvent struct {
	BaseEvent
	Account   domain.Account    `json:"account"`
	Positions []domain.Position `json:"positions"`
}

func (e AccountSnapshotEvent) GetType() Type { return EvAccountSnapshot }

// DisconnectEvent signals that the transport dropped; the supervisor reacts
// by re-entering its reconnect loop.
type DisconnectEvent struct {
	BaseEvent
	Reason string `json:"reason"`
}

func (e DisconnectEvent) GetType() Type { return EvDisconnect }
