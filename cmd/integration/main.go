package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"quant_go/internal/book"
	"quant_go/internal/domain"
	"quant_go/internal/event"
	"quant_go/internal/exchange"
	"quant_go/internal/infra"
	"quant_go/internal/metrics"
	"quant_go/internal/orders"
	"quant_go/internal/position"
	"quant_go/internal/supervisor"
	"quant_go/pkg/quant"
)

// integration drives the full pipeline against the in-memory venue: submit,
// fill over the stream, duplicate delivery, a sequence gap with resync, and a
// transport drop with reconnect. Exits nonzero on the first wrong answer.
func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	venue := exchange.NewMockVenue()
	books := book.NewManager(false)
	store := orders.NewStore()
	mtx := metrics.New()
	om := orders.NewManager(venue, store, mtx, log)
	pt := position.NewTracker(mtx, log)

	sup := supervisor.New(venue, venue, books, om, pt, supervisor.Config{
		Backoff:        infra.BackoffPolicy{Base: 10 * time.Millisecond, Max: 100 * time.Millisecond, MaxAttempts: 5},
		ReconcileEvery: time.Second,
	}, mtx, log)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	go sup.Run(ctx)
	waitUntil(ctx, func() bool { return sup.State() == supervisor.StateSubscribed })

	// Order lifecycle with a duplicated fill.
	o, err := om.Submit(ctx, exchange.OrderRequest{
		Symbol: "BTCUSDT", Side: domain.SideBuy, Type: domain.TypeLimit,
		Qty: quant.MustFixed("1"), LimitPrice: quant.MustFixed("50000"),
	})
	check(err == nil, "submit failed: %v", err)

	fill := event.FillEvent{Fill: domain.Fill{
		FillID: "f1", ExchangeOrderID: o.ExchangeOrderID, Symbol: "BTCUSDT",
		Side: domain.SideBuy, Price: quant.MustFixed("50000"), Qty: quant.MustFixed("1"),
		Ts: time.Now(),
	}}
	venue.Push(fill)
	venue.Push(fill)
	waitUntil(ctx, func() bool { return pt.Position("BTCUSDT").Size.Equal(quant.MustFixed("1")) })
	time.Sleep(50 * time.Millisecond)
	check(pt.Position("BTCUSDT").Size.Equal(quant.MustFixed("1")), "duplicate fill double counted")

	got, _ := store.Get(o.ClientOrderID)
	check(got.State == domain.StateFilled, "order state = %s, want FILLED", got.State)

	// Gap triggers a query-path resync.
	venue.SetSnapshot(
		[]book.PriceLevel{{Price: quant.MustFixed("49999"), Qty: quant.MustFixed("3")}},
		[]book.PriceLevel{{Price: quant.MustFixed("50001"), Qty: quant.MustFixed("3")}}, 100)
	venue.Push(event.BookSnapshotEvent{Symbol: "BTCUSDT",
		Bids: []book.PriceLevel{{Price: quant.MustFixed("49990"), Qty: quant.MustFixed("1")}},
		Asks: []book.PriceLevel{{Price: quant.MustFixed("50010"), Qty: quant.MustFixed("1")}}, Seq: 10})
	venue.Push(event.BookDeltaEvent{Symbol: "BTCUSDT",
		Bids: []book.PriceLevel{{Price: quant.MustFixed("49991"), Qty: quant.MustFixed("1")}}, Seq: 20})
	waitUntil(ctx, func() bool {
		b, ok := books.Get("BTCUSDT")
		return ok && b.LastSequence() == 100
	})

	// Transport drop and reconnect.
	venue.DropConnection("injected")
	waitUntil(ctx, func() bool { return sup.State() == supervisor.StateSubscribed })

	log.Info("integration run passed")
}

func waitUntil(ctx context.Context, cond func() bool) {
	for !cond() {
		if ctx.Err() != nil {
			slog.Error("timed out waiting for condition")
			os.Exit(1)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func check(ok bool, format string, args ...any) {
	if !ok {
		slog.Error("integration check failed", slog.String("detail", fmt.Sprintf(format, args...)))
		os.Exit(1)
	}
}
