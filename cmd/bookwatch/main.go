package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"quant_go/internal/book"
	"quant_go/internal/event"
	"quant_go/internal/exchange"
	"quant_go/internal/infra/bitget"
)

// bookwatch subscribes to the public depth channel for a set of symbols and
// prints top of book once a second. Handy for eyeballing sequencing behavior
// against the live feed without credentials.
func main() {
	symbolsFlag := flag.String("symbols", "BTCUSDT", "comma-separated symbols")
	wsURL := flag.String("ws", "", "websocket endpoint override")
	strict := flag.Bool("strict", false, "treat sequence gaps as errors")
	flag.Parse()

	symbols := strings.Split(*symbolsFlag, ",")
	stream := bitget.NewStream(*wsURL, nil, symbols)
	books := book.NewManager(*strict)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := stream.Dial(ctx); err != nil {
		slog.Error("dial failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer stream.Close()
	if err := stream.Subscribe(ctx, exchange.TopicBooks); err != nil {
		slog.Error("subscribe failed", slog.Any("error", err))
		os.Exit(1)
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			printTops(books, symbols)
		case ev, ok := <-stream.Events():
			if !ok {
				return
			}
			switch e := ev.(type) {
			case event.BookSnapshotEvent:
				b := books.GetOrCreate(e.Symbol)
				if err := b.ApplySnapshot(e.Bids, e.Asks, e.Seq); err != nil {
					slog.Warn("snapshot rejected", slog.String("symbol", e.Symbol), slog.Any("error", err))
				}
			case event.BookDeltaEvent:
				b := books.GetOrCreate(e.Symbol)
				if err := b.ApplyUpdate(e.Bids, e.Asks, e.Seq); err != nil {
					slog.Warn("delta rejected", slog.String("symbol", e.Symbol), slog.Any("error", err))
				}
			case event.DisconnectEvent:
				slog.Error("stream dropped", slog.String("reason", e.Reason))
				return
			}
		}
	}
}

func printTops(books *book.Manager, symbols []string) {
	for _, sym := range symbols {
		b, ok := books.Get(sym)
		if !ok {
			continue
		}
		bid, hasBid := b.BestBid()
		ask, hasAsk := b.BestAsk()
		if !hasBid || !hasAsk {
			continue
		}
		spread, _ := b.Spread()
		slog.Info("top of book",
			slog.String("symbol", sym),
			slog.String("bid", bid.Price.String()),
			slog.String("ask", ask.Price.String()),
			slog.String("spread", spread.String()),
			slog.Uint64("seq", b.LastSequence()),
			slog.Uint64("gaps", b.Gaps()))
	}
}
