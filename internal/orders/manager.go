package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"quant_go/internal/domain"
	"quant_go/internal/event"
	"quant_go/internal/exchange"
	"quant_go/internal/metrics"
)

// FillJournal durably records applied fills so that a restart can reseed
// duplicate suppression before the venue replays them.
type FillJournal interface {
	JournalFill(ctx context.Context, f domain.Fill) error
}

// Manager drives order lifecycles against one venue. It assigns client order
// ids, dispatches requests, folds push events into the store and periodically
// reconciles local state against the venue's authoritative listing.
type Manager struct {
	venue   exchange.Venue
	store   *Store
	journal FillJournal
	mtx     *metrics.Metrics
	log     *slog.Logger

	// pendingGrace spares freshly created PENDING orders from being closed
	// as unlisted by a reconcile pass that raced their submission.
	pendingGrace time.Duration
}

func NewManager(venue exchange.Venue, store *Store, mtx *metrics.Metrics, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if mtx == nil {
		mtx = metrics.New()
	}
	return &Manager{venue: venue, store: store, mtx: mtx, log: log, pendingGrace: defaultPendingGrace}
}

const defaultPendingGrace = 30 * time.Second

// SetJournal installs the durable fill journal. Applied fills are journaled
// on the dispatch path; nil disables journaling.
func (m *Manager) SetJournal(j FillJournal) { m.journal = j }

// SetPendingGrace overrides the window during which an unlisted PENDING
// order is left for the next reconcile pass. One reconcile interval is a
// sensible value.
func (m *Manager) SetPendingGrace(d time.Duration) {
	if d > 0 {
		m.pendingGrace = d
	}
}

// Submit validates, records and dispatches a new order. The record is created
// in PENDING before the network call so that a lost ack still leaves a row for
// reconciliation to resolve. An ambiguous network failure therefore keeps the
// order PENDING rather than guessing at its fate.
func (m *Manager) Submit(ctx context.Context, req exchange.OrderRequest) (domain.Order, error) {
	if req.ClientOrderID == "" {
		req.ClientOrderID = uuid.NewString()
	}
	if err := req.Validate(); err != nil {
		return domain.Order{}, err
	}

	o := domain.Order{
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		RequestedQty:  req.Qty,
		LimitPrice:    req.LimitPrice,
	}
	if err := m.store.Create(o); err != nil {
		return domain.Order{}, err
	}
	m.mtx.OrdersSubmitted.Inc()

	ack, err := m.venue.PlaceOrder(ctx, req)
	if err != nil {
		return m.submitFailed(req.ClientOrderID, err)
	}

	if ack.ExchangeOrderID != "" {
		if berr := m.store.BindVenueID(req.ClientOrderID, ack.ExchangeOrderID); berr != nil {
			return domain.Order{}, berr
		}
	}

	if ack.Filled {
		// IOC-style synchronous fill reported on the ack itself. Synthesize
		// one fill keyed on the ack so a later push replay dedupes against it.
		filled, applied, ferr := m.store.ApplyFill(domain.Fill{
			FillID:          "ack-" + ack.ExchangeOrderID,
			ExchangeOrderID: ack.ExchangeOrderID,
			Symbol:          req.Symbol,
			Side:            req.Side,
			Price:           ack.FillPrice,
			Qty:             ack.FilledQty,
		})
		if ferr != nil {
			return domain.Order{}, ferr
		}
		if applied {
			m.mtx.FillsApplied.Inc()
		}
		return filled, nil
	}

	return m.store.Transition(req.ClientOrderID, domain.StateOpen, "")
}

// submitFailed resolves a failed dispatch by error kind. Only an explicit
// venue refusal proves the order does not exist venue-side; anything
// network-shaped stays PENDING for reconciliation.
func (m *Manager) submitFailed(clientOrderID string, err error) (domain.Order, error) {
	switch domain.KindOf(err) {
	case domain.KindRejected:
		m.mtx.OrdersRejected.Inc()
		o, terr := m.store.Transition(clientOrderID, domain.StateRejected, err.Error())
		if terr != nil {
			return domain.Order{}, terr
		}
		return o, err
	case domain.KindAuth, domain.KindProgrammer:
		o, terr := m.store.Transition(clientOrderID, domain.StateRejected, err.Error())
		if terr != nil {
			return domain.Order{}, terr
		}
		return o, err
	default:
		m.log.Warn("submit outcome unknown, leaving order pending for reconciliation",
			slog.String("client_order_id", clientOrderID), slog.Any("error", err))
		o, _ := m.store.Get(clientOrderID)
		return o, err
	}
}

// Cancel requests cancellation of one order. Cancelling an order that is
// already terminal is a no-op: the race between a fill and a cancel is normal.
func (m *Manager) Cancel(ctx context.Context, clientOrderID string) error {
	o, ok := m.store.Get(clientOrderID)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownOrder, clientOrderID)
	}
	if o.State.IsTerminal() {
		return nil
	}
	if o.ExchangeOrderID == "" {
		// Never acked. Reconciliation resolves it either way.
		m.log.Warn("cancel of unacked order deferred to reconciliation",
			slog.String("client_order_id", clientOrderID))
		return nil
	}
	return m.venue.CancelOrder(ctx, o.Symbol, o.ExchangeOrderID)
}

// CancelAll cancels every working order for a symbol venue-side.
func (m *Manager) CancelAll(ctx context.Context, symbol string) error {
	return m.venue.BatchCancel(ctx, symbol)
}

// Get returns a copy of one order.
func (m *Manager) Get(clientOrderID string) (domain.Order, bool) {
	return m.store.Get(clientOrderID)
}

// Open returns every order still working, PENDING included.
func (m *Manager) Open() []domain.Order {
	return m.store.Open()
}

// OnOrderUpdate folds one push order-state event into the store. Stale
// updates landing after a terminal state are dropped quietly.
func (m *Manager) OnOrderUpdate(ev event.OrderUpdateEvent) {
	cid := ev.ClientOrderID
	if cid == "" {
		if o, ok := m.store.GetByVenueID(ev.ExchangeOrderID); ok {
			cid = o.ClientOrderID
		}
	}
	if cid == "" {
		m.log.Warn("ORDER_UPDATE_UNKNOWN",
			slog.String("exchange_order_id", ev.ExchangeOrderID), slog.String("symbol", ev.Symbol))
		return
	}

	if o, ok := m.store.Get(cid); ok && o.ExchangeOrderID == "" && ev.ExchangeOrderID != "" {
		if err := m.store.BindVenueID(cid, ev.ExchangeOrderID); err != nil {
			m.log.Warn("bind venue id failed", slog.Any("error", err))
		}
	}

	if ev.State == domain.StateRejected {
		m.mtx.OrdersRejected.Inc()
	}
	if _, err := m.store.Transition(cid, ev.State, ev.Reason); err != nil {
		if errors.Is(err, domain.ErrStaleUpdate) {
			m.log.Debug("stale order update dropped", slog.String("client_order_id", cid))
			return
		}
		m.log.Warn("ORDER_TRANSITION_FAILED",
			slog.String("client_order_id", cid), slog.String("to", string(ev.State)), slog.Any("error", err))
	}
}

// OnFill folds one incremental fill into the store and returns the applied
// fill for downstream position tracking, or false when it was a duplicate.
func (m *Manager) OnFill(ev event.FillEvent) (domain.Fill, bool) {
	_, applied, err := m.store.ApplyFill(ev.Fill)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownOrder) {
			m.log.Warn("FILL_FOR_UNKNOWN_ORDER",
				slog.String("fill_id", ev.Fill.FillID),
				slog.String("exchange_order_id", ev.Fill.ExchangeOrderID))
		} else {
			m.log.Warn("FILL_APPLY_FAILED", slog.String("fill_id", ev.Fill.FillID), slog.Any("error", err))
		}
		return domain.Fill{}, false
	}
	if !applied {
		m.mtx.DuplicateFills.Inc()
		return domain.Fill{}, false
	}
	m.mtx.FillsApplied.Inc()
	if m.journal != nil {
		// Not tied to the dispatch context: an applied fill must reach the
		// journal even when the event loop is shutting down.
		if jerr := m.journal.JournalFill(context.Background(), ev.Fill); jerr != nil {
			m.log.Warn("FILL_JOURNAL_FAILED", slog.String("fill_id", ev.Fill.FillID), slog.Any("error", jerr))
		}
	}
	return ev.Fill, true
}

// Reconcile diffs local open orders against the venue's listing and corrects
// toward the venue, which is always authoritative. Local records the venue no
// longer lists are closed out; fill-quantity drift is overwritten with an
// alert since the missed fills never reached the position tracker.
func (m *Manager) Reconcile(ctx context.Context) error {
	venueOrders, err := m.venue.OpenOrders(ctx, "")
	if err != nil {
		return fmt.Errorf("reconcile listing failed: %w", err)
	}
	m.mtx.ReconcileRuns.Inc()

	byVenueID := make(map[string]exchange.VenueOrder, len(venueOrders))
	byClientID := make(map[string]exchange.VenueOrder, len(venueOrders))
	for _, vo := range venueOrders {
		byVenueID[vo.ExchangeOrderID] = vo
		if vo.ClientOrderID != "" {
			byClientID[vo.ClientOrderID] = vo
		}
	}

	for _, local := range m.store.Open() {
		vo, listed := byVenueID[local.ExchangeOrderID]
		if !listed {
			vo, listed = byClientID[local.ClientOrderID]
		}

		if !listed {
			// A PENDING order submitted after the listing was fetched (or
			// whose dispatch is still in flight) legitimately is not in it.
			// Leave it for a later pass instead of killing a live submit.
			if local.State == domain.StatePending && time.Since(local.CreatedAt) < m.pendingGrace {
				continue
			}
			m.closeUnlisted(local)
			continue
		}

		if local.ExchangeOrderID == "" && vo.ExchangeOrderID != "" {
			if err := m.store.BindVenueID(local.ClientOrderID, vo.ExchangeOrderID); err != nil {
				m.log.Warn("reconcile bind failed", slog.Any("error", err))
				continue
			}
			m.mtx.ReconcileFixes.Inc()
		}

		if local.State == domain.StatePending {
			if _, err := m.store.Transition(local.ClientOrderID, vo.State, ""); err != nil {
				m.log.Warn("RECONCILE_TRANSITION_FAILED",
					slog.String("client_order_id", local.ClientOrderID), slog.Any("error", err))
			} else {
				m.mtx.ReconcileFixes.Inc()
			}
		}

		if !local.FilledQty.Equal(vo.FilledQty) {
			m.log.Error("RECONCILE_FILL_DRIFT",
				slog.String("client_order_id", local.ClientOrderID),
				slog.String("local_filled", local.FilledQty.String()),
				slog.String("venue_filled", vo.FilledQty.String()))
			m.correctFilledQty(local, vo)
		}
	}

	for _, vo := range venueOrders {
		local, known := m.store.GetByVenueID(vo.ExchangeOrderID)
		if !known && vo.ClientOrderID != "" {
			local, known = m.store.Get(vo.ClientOrderID)
		}
		if known {
			if local.State.IsTerminal() {
				// Locally closed but still live on the venue. Kill it there so
				// the books agree again.
				m.log.Error("RECONCILE_ZOMBIE_ORDER",
					slog.String("client_order_id", local.ClientOrderID),
					slog.String("exchange_order_id", vo.ExchangeOrderID),
					slog.String("local_state", string(local.State)))
				if err := m.venue.CancelOrder(ctx, vo.Symbol, vo.ExchangeOrderID); err != nil {
					m.log.Warn("reconcile cancel failed",
						slog.String("exchange_order_id", vo.ExchangeOrderID), slog.Any("error", err))
				} else {
					m.mtx.ReconcileFixes.Inc()
				}
			}
			continue
		}
		m.log.Error("RECONCILE_FOREIGN_ORDER",
			slog.String("exchange_order_id", vo.ExchangeOrderID), slog.String("symbol", vo.Symbol))
	}

	return nil
}

// closeUnlisted resolves a local open order the venue does not list. The true
// terminal state (filled vs cancelled) is unknowable from the listing alone,
// so the record is expired with an alert rather than silently guessed filled.
func (m *Manager) closeUnlisted(local domain.Order) {
	m.log.Error("RECONCILE_ORDER_VANISHED",
		slog.String("client_order_id", local.ClientOrderID),
		slog.String("state", string(local.State)))
	if _, err := m.store.Transition(local.ClientOrderID, domain.StateExpired, "not listed by venue"); err != nil {
		m.log.Warn("reconcile close failed", slog.Any("error", err))
		return
	}
	m.mtx.ReconcileFixes.Inc()
}

// correctFilledQty forces the local filled quantity to the venue's number via
// a synthetic fill priced at the order's average (or limit) price.
func (m *Manager) correctFilledQty(local domain.Order, vo exchange.VenueOrder) {
	delta, err := vo.FilledQty.Sub(local.FilledQty)
	if err != nil || delta.Sign() <= 0 {
		// Venue reporting less than local would mean we applied a fill the
		// venue disowns; that is not correctable from here.
		m.log.Error("RECONCILE_FILL_REGRESSION", slog.String("client_order_id", local.ClientOrderID))
		return
	}
	price := local.AvgFillPrice
	if price.IsZero() {
		price = local.LimitPrice
	}
	venueID := local.ExchangeOrderID
	if venueID == "" {
		venueID = vo.ExchangeOrderID
	}
	_, applied, ferr := m.store.ApplyFill(domain.Fill{
		FillID:          "reconcile-" + local.ClientOrderID + "-" + vo.FilledQty.String(),
		ExchangeOrderID: venueID,
		Symbol:          local.Symbol,
		Side:            local.Side,
		Price:           price,
		Qty:             delta,
	})
	if ferr != nil {
		m.log.Warn("reconcile fill correction failed", slog.Any("error", ferr))
		return
	}
	if applied {
		m.mtx.ReconcileFixes.Inc()
	}
}
