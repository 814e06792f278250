package bitget

import (
	"testing"
	"time"

	"quant_go/internal/event"
	"quant_go/pkg/quant"
)

func drainFill(t *testing.T, s *Stream) (event.FillEvent, bool) {
	t.Helper()
	select {
	case ev := <-s.Events():
		fe, ok := ev.(event.FillEvent)
		if !ok {
			t.Fatalf("event type = %T, want FillEvent", ev)
		}
		return fe, true
	default:
		return event.FillEvent{}, false
	}
}

func TestStreamEmitFillConvertsCumulative(t *testing.T) {
	s := NewStream("wss://example.invalid/ws", nil, []string{"BTCUSDT"})

	row := wsOrderData{
		InstID: "BTCUSDT", OrderID: "ex-1", Side: "buy",
		AccBaseVolume: "1", FillPrice: "100", TradeID: "t1",
	}
	s.emitFill(row, time.Now())
	fe, ok := drainFill(t, s)
	if !ok {
		t.Fatal("no fill emitted for first cumulative report")
	}
	if !fe.Fill.Qty.Equal(quant.MustFixed("1")) {
		t.Errorf("Qty = %v, want 1", fe.Fill.Qty)
	}

	// Same cumulative size again is a duplicate frame.
	s.emitFill(row, time.Now())
	if _, ok := drainFill(t, s); ok {
		t.Error("duplicate cumulative report emitted a fill")
	}

	row.AccBaseVolume = "1.5"
	row.TradeID = "t2"
	s.emitFill(row, time.Now())
	fe, ok = drainFill(t, s)
	if !ok {
		t.Fatal("no fill emitted for advanced cumulative report")
	}
	if !fe.Fill.Qty.Equal(quant.MustFixed("0.5")) {
		t.Errorf("Qty = %v, want 0.5 incremental delta", fe.Fill.Qty)
	}
}

func TestStreamSeedFillCursorSuppressesReplay(t *testing.T) {
	s := NewStream("wss://example.invalid/ws", nil, []string{"BTCUSDT"})
	s.SeedFillCursor("ex-1", quant.MustFixed("1"))

	// Replay of the pre-restart frame: cumulative size already accounted.
	s.emitFill(wsOrderData{
		InstID: "BTCUSDT", OrderID: "ex-1", Side: "buy",
		AccBaseVolume: "1", FillPrice: "100", TradeID: "t1",
	}, time.Now())
	if _, ok := drainFill(t, s); ok {
		t.Error("replayed frame below the seeded cursor emitted a fill")
	}

	// New trading after the restart still comes through.
	s.emitFill(wsOrderData{
		InstID: "BTCUSDT", OrderID: "ex-1", Side: "buy",
		AccBaseVolume: "1.25", FillPrice: "101", TradeID: "t2",
	}, time.Now())
	fe, ok := drainFill(t, s)
	if !ok {
		t.Fatal("no fill emitted past the seeded cursor")
	}
	if !fe.Fill.Qty.Equal(quant.MustFixed("0.25")) {
		t.Errorf("Qty = %v, want 0.25", fe.Fill.Qty)
	}

	// Seeding never moves the cursor backwards.
	s.SeedFillCursor("ex-1", quant.MustFixed("1"))
	s.emitFill(wsOrderData{
		InstID: "BTCUSDT", OrderID: "ex-1", Side: "buy",
		AccBaseVolume: "1.25", FillPrice: "101", TradeID: "t2",
	}, time.Now())
	if _, ok := drainFill(t, s); ok {
		t.Error("stale reseed reopened the cursor")
	}
}
