package orders

import (
	"fmt"
	"sync"
	"time"

	"quant_go/internal/domain"
	"quant_go/pkg/quant"
)

// Store is the in-memory order book of record. It is the single writer for
// order state: every mutation goes through it so the lifecycle state machine
// is enforced in exactly one place. All returned orders are copies.
type Store struct {
	mu         sync.RWMutex
	byClientID map[string]*domain.Order
	byVenueID  map[string]string // exchange order id -> client order id
	seenFills  map[string]map[string]struct{}
}

func NewStore() *Store {
	return &Store{
		byClientID: make(map[string]*domain.Order),
		byVenueID:  make(map[string]string),
		seenFills:  make(map[string]map[string]struct{}),
	}
}

// Create registers a new order in PENDING. The client order id is the
// idempotency key; a duplicate is a programmer error.
func (s *Store) Create(o domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byClientID[o.ClientOrderID]; ok {
		return fmt.Errorf("%w: duplicate client order id %s", domain.ErrInvalidRequest, o.ClientOrderID)
	}
	o.State = domain.StatePending
	now := time.Now()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now

	s.byClientID[o.ClientOrderID] = &o
	if o.ExchangeOrderID != "" {
		s.byVenueID[o.ExchangeOrderID] = o.ClientOrderID
	}
	return nil
}

// Restore installs a persisted order record as-is, state included. Only the
// recovery path uses it; live orders go through Create.
func (s *Store) Restore(o domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byClientID[o.ClientOrderID]; ok {
		return fmt.Errorf("%w: duplicate client order id %s", domain.ErrInvalidRequest, o.ClientOrderID)
	}
	s.byClientID[o.ClientOrderID] = &o
	if o.ExchangeOrderID != "" {
		s.byVenueID[o.ExchangeOrderID] = o.ClientOrderID
	}
	return nil
}

// MarkFillSeen pre-seeds the dedupe set during recovery so journaled fills
// replayed by the venue after a restart are not double counted.
func (s *Store) MarkFillSeen(clientOrderID, fillID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byClientID[clientOrderID]; !ok {
		return
	}
	seen := s.seenFills[clientOrderID]
	if seen == nil {
		seen = make(map[string]struct{})
		s.seenFills[clientOrderID] = seen
	}
	seen[fillID] = struct{}{}
}

// BindVenueID records the exchange order id learned from the submit ack.
func (s *Store) BindVenueID(clientOrderID, exchangeOrderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.byClientID[clientOrderID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownOrder, clientOrderID)
	}
	o.ExchangeOrderID = exchangeOrderID
	o.UpdatedAt = time.Now()
	s.byVenueID[exchangeOrderID] = clientOrderID
	return nil
}

// Get returns a copy of the order with the given client order id.
func (s *Store) Get(clientOrderID string) (domain.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.byClientID[clientOrderID]
	if !ok {
		return domain.Order{}, false
	}
	return *o, true
}

// GetByVenueID returns a copy of the order with the given exchange order id.
func (s *Store) GetByVenueID(exchangeOrderID string) (domain.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cid, ok := s.byVenueID[exchangeOrderID]
	if !ok {
		return domain.Order{}, false
	}
	o, ok := s.byClientID[cid]
	if !ok {
		return domain.Order{}, false
	}
	return *o, true
}

// Transition moves an order to a new state. Updates landing on a terminal
// order are reported as stale so the caller can drop them quietly; an illegal
// non-terminal transition is a consistency fault.
func (s *Store) Transition(clientOrderID string, to domain.OrderState, reason string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.byClientID[clientOrderID]
	if !ok {
		return domain.Order{}, fmt.Errorf("%w: %s", domain.ErrUnknownOrder, clientOrderID)
	}
	if o.State == to {
		return *o, nil
	}
	if o.State.IsTerminal() {
		return *o, fmt.Errorf("%w: %s is %s", domain.ErrStaleUpdate, clientOrderID, o.State)
	}
	if !o.State.CanTransition(to) {
		return *o, fmt.Errorf("illegal order transition %s -> %s for %s", o.State, to, clientOrderID)
	}

	o.State = to
	if reason != "" {
		o.RejectReason = reason
	}
	o.UpdatedAt = time.Now()
	return *o, nil
}

// ApplyFill applies one incremental fill. Duplicate fill ids are dropped and
// reported via the bool. The average fill price is the running VWAP over all
// applied fills; the state moves to PARTIALLY_FILLED or FILLED depending on
// the remaining quantity.
func (s *Store) ApplyFill(fill domain.Fill) (domain.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cid, ok := s.byVenueID[fill.ExchangeOrderID]
	if !ok {
		return domain.Order{}, false, fmt.Errorf("%w: exchange order %s", domain.ErrUnknownOrder, fill.ExchangeOrderID)
	}
	o := s.byClientID[cid]

	seen := s.seenFills[cid]
	if seen == nil {
		seen = make(map[string]struct{})
		s.seenFills[cid] = seen
	}
	if _, dup := seen[fill.FillID]; dup {
		return *o, false, nil
	}
	if o.State.IsTerminal() {
		return *o, false, fmt.Errorf("%w: fill %s on %s order %s", domain.ErrStaleUpdate, fill.FillID, o.State, cid)
	}

	newFilled, err := o.FilledQty.Add(fill.Qty)
	if err != nil {
		return *o, false, err
	}
	avg, err := vwap(o.AvgFillPrice, o.FilledQty, fill.Price, fill.Qty, newFilled)
	if err != nil {
		return *o, false, err
	}

	seen[fill.FillID] = struct{}{}
	o.FilledQty = newFilled
	o.AvgFillPrice = avg
	if newFilled.Cmp(o.RequestedQty) >= 0 {
		o.State = domain.StateFilled
	} else {
		o.State = domain.StatePartiallyFilled
	}
	o.UpdatedAt = time.Now()
	return *o, true, nil
}

// vwap folds one fill into the running average: (avg*qty + price*fillQty) / total.
func vwap(avg, qty, price, fillQty, total quant.Fixed) (quant.Fixed, error) {
	if total.IsZero() {
		return quant.Fixed{}, nil
	}
	prev, err := avg.Mul(qty)
	if err != nil {
		return quant.Fixed{}, err
	}
	add, err := price.Mul(fillQty)
	if err != nil {
		return quant.Fixed{}, err
	}
	sum, err := prev.Add(add)
	if err != nil {
		return quant.Fixed{}, err
	}
	return sum.Div(total)
}

// Open returns copies of every order still working on the venue, PENDING
// included: a pending order may already exist venue-side.
func (s *Store) Open() []domain.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Order, 0, len(s.byClientID))
	for _, o := range s.byClientID {
		if o.IsOpen() || o.State == domain.StatePending {
			out = append(out, *o)
		}
	}
	return out
}

// All returns copies of every tracked order.
func (s *Store) All() []domain.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Order, 0, len(s.byClientID))
	for _, o := range s.byClientID {
		out = append(out, *o)
	}
	return out
}

// Prune drops terminal orders older than the cutoff along with their fill-id
// sets. Keeps the maps from growing without bound on long sessions.
func (s *Store) Prune(olderThan time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for cid, o := range s.byClientID {
		if !o.State.IsTerminal() || o.UpdatedAt.After(cutoff) {
			continue
		}
		delete(s.byClientID, cid)
		delete(s.seenFills, cid)
		if o.ExchangeOrderID != "" {
			delete(s.byVenueID, o.ExchangeOrderID)
		}
		removed++
	}
	return removed
}
