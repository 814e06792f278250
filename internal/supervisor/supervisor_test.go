package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"quant_go/internal/book"
	"quant_go/internal/domain"
	"quant_go/internal/event"
	"quant_go/internal/exchange"
	"quant_go/internal/infra"
	"quant_go/internal/orders"
	"quant_go/internal/position"
	"quant_go/pkg/quant"
)

func lvl(price, qty string) book.PriceLevel {
	return book.PriceLevel{Price: quant.MustFixed(price), Qty: quant.MustFixed(qty)}
}

func newHarness() (*Supervisor, *exchange.MockVenue, *book.Manager, *orders.Store, *position.Tracker) {
	venue := exchange.NewMockVenue()
	books := book.NewManager(false)
	store := orders.NewStore()
	om := orders.NewManager(venue, store, nil, nil)
	pt := position.NewTracker(nil, nil)
	cfg := Config{
		Backoff:        infra.BackoffPolicy{Base: time.Millisecond, Max: 5 * time.Millisecond, MaxAttempts: 3},
		ReconcileEvery: time.Hour,
	}
	sup := New(venue, venue, books, om, pt, cfg, nil, nil)
	return sup, venue, books, store, pt
}

func runSupervisor(t *testing.T, sup *Supervisor) (context.CancelFunc, chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()
	return cancel, done
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

func TestSupervisorSubscribesOnConnect(t *testing.T) {
	sup, venue, _, _, _ := newHarness()
	cancel, done := runSupervisor(t, sup)
	defer func() { cancel(); <-done }()

	waitFor(t, func() bool { return len(venue.Subscriptions()) == 3 }, "topics never subscribed")
	if sup.State() != StateSubscribed {
		t.Errorf("State() = %v, want SUBSCRIBED", sup.State())
	}
}

func TestSupervisorAppliesBookEvents(t *testing.T) {
	sup, venue, books, _, _ := newHarness()
	cancel, done := runSupervisor(t, sup)
	defer func() { cancel(); <-done }()

	waitFor(t, func() bool { return len(venue.Subscriptions()) > 0 }, "never subscribed")

	venue.Push(event.BookSnapshotEvent{
		Symbol: "BTCUSDT",
		Bids:   []book.PriceLevel{lvl("100", "1")},
		Asks:   []book.PriceLevel{lvl("101", "1")},
		Seq:    10,
	})
	venue.Push(event.BookDeltaEvent{
		Symbol: "BTCUSDT",
		Bids:   []book.PriceLevel{lvl("100.5", "2")},
		Seq:    11,
	})

	waitFor(t, func() bool {
		b, ok := books.Get("BTCUSDT")
		return ok && b.LastSequence() == 11
	}, "delta never applied")

	b, _ := books.Get("BTCUSDT")
	best, ok := b.BestBid()
	if !ok || !best.Price.Equal(quant.MustFixed("100.5")) {
		t.Errorf("BestBid() = %v, want 100.5", best.Price)
	}
}

func TestSupervisorResyncsOnGap(t *testing.T) {
	sup, venue, books, _, _ := newHarness()
	venue.SetSnapshot([]book.PriceLevel{lvl("99", "5")}, []book.PriceLevel{lvl("100", "5")}, 50)

	cancel, done := runSupervisor(t, sup)
	defer func() { cancel(); <-done }()
	waitFor(t, func() bool { return len(venue.Subscriptions()) > 0 }, "never subscribed")

	venue.Push(event.BookSnapshotEvent{
		Symbol: "BTCUSDT",
		Bids:   []book.PriceLevel{lvl("100", "1")},
		Asks:   []book.PriceLevel{lvl("101", "1")},
		Seq:    10,
	})
	// Seq jumps 10 -> 15: the supervisor must refetch over the query path.
	venue.Push(event.BookDeltaEvent{
		Symbol: "BTCUSDT",
		Bids:   []book.PriceLevel{lvl("100.2", "1")},
		Seq:    15,
	})

	waitFor(t, func() bool {
		b, ok := books.Get("BTCUSDT")
		return ok && b.LastSequence() == 50
	}, "book never resynced to the query snapshot")

	b, _ := books.Get("BTCUSDT")
	best, _ := b.BestBid()
	if !best.Price.Equal(quant.MustFixed("99")) {
		t.Errorf("BestBid() after resync = %v, want 99", best.Price)
	}
}

func TestSupervisorReconnectsAfterDrop(t *testing.T) {
	sup, venue, _, _, _ := newHarness()
	cancel, done := runSupervisor(t, sup)
	defer func() { cancel(); <-done }()
	waitFor(t, func() bool { return len(venue.Subscriptions()) == 3 }, "never subscribed")

	venue.DropConnection("read timeout")
	waitFor(t, func() bool {
		return sup.State() == StateSubscribed && len(venue.Subscriptions()) == 3
	}, "never resubscribed after drop")
}

func TestSupervisorGivesUpAfterMaxAttempts(t *testing.T) {
	sup, venue, _, _, _ := newHarness()
	dialErr := errors.New("venue down")
	venue.DialErrs = []error{dialErr, dialErr, dialErr, dialErr}

	err := sup.Run(context.Background())
	if err == nil {
		t.Fatal("Run() error = nil, want exhaustion error")
	}
	if !errors.Is(err, dialErr) {
		t.Errorf("Run() error = %v, want wrapped dial error", err)
	}
}

func TestSupervisorRoutesFillsToPositions(t *testing.T) {
	sup, venue, _, store, pt := newHarness()
	cancel, done := runSupervisor(t, sup)
	defer func() { cancel(); <-done }()
	waitFor(t, func() bool { return len(venue.Subscriptions()) > 0 }, "never subscribed")

	om := orders.NewManager(venue, store, nil, nil)
	o, err := om.Submit(context.Background(), exchange.OrderRequest{
		Symbol: "BTCUSDT", Side: domain.SideBuy, Type: domain.TypeLimit,
		Qty: quant.MustFixed("1"), LimitPrice: quant.MustFixed("100"),
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	fill := event.FillEvent{Fill: domain.Fill{
		FillID: "f1", ExchangeOrderID: o.ExchangeOrderID, Symbol: "BTCUSDT",
		Side: domain.SideBuy, Price: quant.MustFixed("100"), Qty: quant.MustFixed("1"),
		Ts: time.Now(),
	}}
	venue.Push(fill)
	venue.Push(fill) // duplicate must not double the position

	waitFor(t, func() bool {
		return pt.Position("BTCUSDT").Size.Equal(quant.MustFixed("1"))
	}, "fill never reached the position tracker")

	time.Sleep(20 * time.Millisecond)
	if got := pt.Position("BTCUSDT").Size; !got.Equal(quant.MustFixed("1")) {
		t.Errorf("Size = %v after duplicate fill, want 1", got)
	}
}
