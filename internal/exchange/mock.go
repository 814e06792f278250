package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"quant_go/internal/book"
	"quant_go/internal/domain"
	"quant_go/internal/event"
	"quant_go/pkg/quant"
)

// MockVenue is an in-memory venue used by tests and paper mode. It implements
// both Venue and Stream, and exposes knobs for the failure modes the order
// manager and supervisor must survive: lost acks, rejections, dial failures
// and transport drops.
type MockVenue struct {
	mu     sync.Mutex
	nextID int
	orders map[string]*VenueOrder // exchange id -> order

	// Failure injection.
	PlaceErr  error // returned before the order reaches the venue
	DropAck   bool  // order goes live on the venue but the ack is lost
	RejectMsg string
	FillAck   bool // venue fills synchronously on the ack (IOC-style)
	DialErrs  []error

	account      domain.Account
	positions    []domain.Position
	snapBids     []book.PriceLevel
	snapAsks     []book.PriceLevel
	snapSeq      uint64
	subscription []string
	events       chan event.Event
	dialed       bool
}

// NewMockVenue creates a mock venue with an empty account.
func NewMockVenue() *MockVenue {
	return &MockVenue{
		orders:  make(map[string]*VenueOrder),
		account: domain.Account{Balances: map[string]quant.Fixed{}},
		events:  make(chan event.Event, 256),
	}
}

func (m *MockVenue) Name() string { return "MOCK" }

// PlaceOrder simulates a submit. With DropAck set the order is created on the
// venue side but the caller sees a timeout, the exact situation reconciliation
// exists to heal.
func (m *MockVenue) PlaceOrder(ctx context.Context, req OrderRequest) (Ack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.PlaceErr != nil {
		err := m.PlaceErr
		m.PlaceErr = nil
		return Ack{}, err
	}
	if m.RejectMsg != "" {
		msg := m.RejectMsg
		m.RejectMsg = ""
		return Ack{}, &domain.RejectionError{Reason: msg}
	}

	m.nextID++
	vo := &VenueOrder{
		ExchangeOrderID: fmt.Sprintf("EX-%d", m.nextID),
		ClientOrderID:   req.ClientOrderID,
		Symbol:          req.Symbol,
		State:           domain.StateOpen,
	}
	m.orders[vo.ExchangeOrderID] = vo

	if m.DropAck {
		m.DropAck = false
		return Ack{}, context.DeadlineExceeded
	}

	ack := Ack{ExchangeOrderID: vo.ExchangeOrderID}
	if m.FillAck {
		vo.State = domain.StateFilled
		vo.FilledQty = req.Qty
		ack.Filled = true
		ack.FilledQty = req.Qty
		ack.FillPrice = req.LimitPrice
	}
	return ack, nil
}

func (m *MockVenue) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	vo, ok := m.orders[exchangeOrderID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownOrder, exchangeOrderID)
	}
	if !vo.State.IsTerminal() {
		vo.State = domain.StateCancelled
	}
	return nil
}

func (m *MockVenue) BatchCancel(ctx context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, vo := range m.orders {
		if vo.Symbol == symbol && !vo.State.IsTerminal() {
			vo.State = domain.StateCancelled
		}
	}
	return nil
}

func (m *MockVenue) OpenOrders(ctx context.Context, symbol string) ([]VenueOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []VenueOrder
	for _, vo := range m.orders {
		if vo.State.IsTerminal() {
			continue
		}
		if symbol != "" && vo.Symbol != symbol {
			continue
		}
		out = append(out, *vo)
	}
	return out, nil
}

func (m *MockVenue) Account(ctx context.Context) (domain.Account, []domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.account.Clone(), append([]domain.Position(nil), m.positions...), nil
}

func (m *MockVenue) BookSnapshot(ctx context.Context, symbol string) ([]book.PriceLevel, []book.PriceLevel, uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]book.PriceLevel(nil), m.snapBids...),
		append([]book.PriceLevel(nil), m.snapAsks...),
		m.snapSeq, nil
}

// Dial pops an injected dial error if any, else succeeds.
func (m *MockVenue) Dial(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.DialErrs) > 0 {
		err := m.DialErrs[0]
		m.DialErrs = m.DialErrs[1:]
		if err != nil {
			return err
		}
	}
	m.dialed = true
	return nil
}

func (m *MockVenue) Subscribe(ctx context.Context, topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.dialed {
		return fmt.Errorf("mock: subscribe before dial")
	}
	m.subscription = append(m.subscription, topic)
	return nil
}

func (m *MockVenue) Events() <-chan event.Event { return m.events }

func (m *MockVenue) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dialed = false
	m.subscription = nil
	return nil
}

// --- test helpers ---

// SetAccount replaces the account and positions the venue reports.
func (m *MockVenue) SetAccount(acct domain.Account, positions []domain.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.account = acct
	m.positions = positions
}

// SetSnapshot sets what BookSnapshot returns.
func (m *MockVenue) SetSnapshot(bids, asks []book.PriceLevel, seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapBids, m.snapAsks, m.snapSeq = bids, asks, seq
}

// SetOrderState forces a venue-side order state, simulating activity the
// local store never heard about.
func (m *MockVenue) SetOrderState(exchangeOrderID string, state domain.OrderState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if vo, ok := m.orders[exchangeOrderID]; ok {
		vo.State = state
	}
}

// SeedOrder installs a venue-side order that the local store has no record of.
func (m *MockVenue) SeedOrder(vo VenueOrder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[vo.ExchangeOrderID] = &vo
}

// Subscriptions returns the topics subscribed since the last Dial.
func (m *MockVenue) Subscriptions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.subscription...)
}

// Push delivers an event on the stream.
func (m *MockVenue) Push(ev event.Event) {
	select {
	case m.events <- ev:
	default:
		slog.Warn("mock venue event buffer full, dropping event")
	}
}

// DropConnection emits a disconnect, as a real stream does on a read error.
func (m *MockVenue) DropConnection(reason string) {
	m.Push(event.DisconnectEvent{BaseEvent: event.BaseEvent{Ts: time.Now()}, Reason: reason})
}
