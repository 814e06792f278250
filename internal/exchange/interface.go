package exchange

import (
	"context"

	"quant_go/internal/book"
	"quant_go/internal/domain"
	"quant_go/internal/event"
	"quant_go/pkg/quant"
)

// OrderRequest is the caller-facing shape of a new order. The client order id
// is filled in by the order manager, not by callers.
type OrderRequest struct {
	ClientOrderID string
	Symbol        string
	Side          domain.Side
	Type          domain.OrderType
	Qty           quant.Fixed
	LimitPrice    quant.Fixed // required for LIMIT, ignored for MARKET
}

// Validate fails fast on malformed requests before anything is signed or sent.
func (r *OrderRequest) Validate() error {
	switch {
	case r.Symbol == "":
		return domain.ErrInvalidRequest
	case r.Side != domain.SideBuy && r.Side != domain.SideSell:
		return domain.ErrInvalidRequest
	case r.Type != domain.TypeLimit && r.Type != domain.TypeMarket:
		return domain.ErrInvalidRequest
	case r.Qty.Sign() <= 0:
		return domain.ErrInvalidRequest
	case r.Type == domain.TypeLimit && r.LimitPrice.Sign() <= 0:
		return domain.ErrInvalidRequest
	}
	return nil
}

// Ack is the venue's synchronous answer to a submit. Filled is true when the
// venue reports an immediate fill on the ack itself (IOC-style); the manager
// handles that explicitly instead of waiting for a push event that may never
// come.
type Ack struct {
	ExchangeOrderID string
	Filled          bool
	FilledQty       quant.Fixed
	FillPrice       quant.Fixed
}

// VenueOrder is one row of the venue's authoritative open-order listing, used
// by reconciliation.
type VenueOrder struct {
	ExchangeOrderID string
	ClientOrderID   string
	Symbol          string
	State           domain.OrderState
	FilledQty       quant.Fixed
}

// Venue is the request/response surface of one exchange. The order manager
// depends only on this abstraction; one implementation exists per venue.
type Venue interface {
	Name() string

	PlaceOrder(ctx context.Context, req OrderRequest) (Ack, error)
	CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error
	BatchCancel(ctx context.Context, symbol string) error

	OpenOrders(ctx context.Context, symbol string) ([]VenueOrder, error)
	Account(ctx context.Context) (domain.Account, []domain.Position, error)

	// BookSnapshot fetches a fresh ladder via the query path. The supervisor
	// uses it to resync after a gap or a crossed book.
	BookSnapshot(ctx context.Context, symbol string) (bids, asks []book.PriceLevel, seq uint64, err error)
}

// Stream is the push channel of one exchange. Dial establishes the transport,
// Subscribe registers a topic, and Events delivers parsed events until Close.
// A transport drop surfaces as a DisconnectEvent; redial is the supervisor's
// job, not the stream's.
type Stream interface {
	Dial(ctx context.Context) error
	Subscribe(ctx context.Context, topic string) error
	Events() <-chan event.Event
	Close() error
}

// Subscription topics understood by venue streams. Fills arrive on the
// orders topic; venues deliver them in the same channel as state changes.
const (
	TopicBooks   = "books"
	TopicOrders  = "orders"
	TopicAccount = "account"
)
