package position

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"quant_go/internal/domain"
	"quant_go/internal/metrics"
	"quant_go/pkg/quant"
)

func buy(qty, price string) domain.Fill {
	return domain.Fill{
		FillID: "f-" + qty + "-" + price, Symbol: "BTCUSDT",
		Side: domain.SideBuy, Qty: quant.MustFixed(qty), Price: quant.MustFixed(price),
		Ts: time.Now(),
	}
}

func sell(qty, price string) domain.Fill {
	f := buy(qty, price)
	f.Side = domain.SideSell
	return f
}

func TestTrackerOpenAndAverage(t *testing.T) {
	tr := NewTracker(nil, nil)
	if err := tr.OnFill(buy("1", "100")); err != nil {
		t.Fatalf("OnFill() error = %v", err)
	}
	if err := tr.OnFill(buy("1", "110")); err != nil {
		t.Fatalf("OnFill() error = %v", err)
	}

	pos := tr.Position("BTCUSDT")
	if !pos.Size.Equal(quant.MustFixed("2")) {
		t.Errorf("Size = %v, want 2", pos.Size)
	}
	if !pos.EntryPrice.Equal(quant.MustFixed("105")) {
		t.Errorf("EntryPrice = %v, want 105", pos.EntryPrice)
	}
}

func TestTrackerReduceRealizes(t *testing.T) {
	tr := NewTracker(nil, nil)
	tr.OnFill(buy("2", "100"))
	tr.OnFill(sell("1", "110"))

	pos := tr.Position("BTCUSDT")
	if !pos.Size.Equal(quant.MustFixed("1")) {
		t.Errorf("Size = %v, want 1", pos.Size)
	}
	if !pos.EntryPrice.Equal(quant.MustFixed("100")) {
		t.Errorf("EntryPrice = %v, want 100 unchanged by reduction", pos.EntryPrice)
	}
	if !pos.RealizedPnL.Equal(quant.MustFixed("10")) {
		t.Errorf("RealizedPnL = %v, want 10", pos.RealizedPnL)
	}
}

func TestTrackerCloseToFlat(t *testing.T) {
	tr := NewTracker(nil, nil)
	tr.OnFill(buy("1", "100"))
	tr.OnFill(sell("1", "90"))

	pos := tr.Position("BTCUSDT")
	if !pos.IsFlat() {
		t.Errorf("Size = %v, want flat", pos.Size)
	}
	if !pos.RealizedPnL.Equal(quant.MustFixed("-10")) {
		t.Errorf("RealizedPnL = %v, want -10", pos.RealizedPnL)
	}
}

func TestTrackerFlip(t *testing.T) {
	tr := NewTracker(nil, nil)
	tr.OnFill(buy("1", "100"))
	tr.OnFill(sell("1.5", "110"))

	pos := tr.Position("BTCUSDT")
	if !pos.Size.Equal(quant.MustFixed("-0.5")) {
		t.Errorf("Size = %v, want -0.5", pos.Size)
	}
	if !pos.EntryPrice.Equal(quant.MustFixed("110")) {
		t.Errorf("EntryPrice = %v, want 110 for the residual short", pos.EntryPrice)
	}
	if !pos.RealizedPnL.Equal(quant.MustFixed("10")) {
		t.Errorf("RealizedPnL = %v, want 10 on the closed long", pos.RealizedPnL)
	}
}

func TestTrackerShortSide(t *testing.T) {
	tr := NewTracker(nil, nil)
	tr.OnFill(sell("2", "100"))
	tr.OnFill(buy("1", "90"))

	pos := tr.Position("BTCUSDT")
	if !pos.Size.Equal(quant.MustFixed("-1")) {
		t.Errorf("Size = %v, want -1", pos.Size)
	}
	if !pos.RealizedPnL.Equal(quant.MustFixed("10")) {
		t.Errorf("RealizedPnL = %v, want 10 on short buy-back below entry", pos.RealizedPnL)
	}
}

func TestTrackerUnrealizedMark(t *testing.T) {
	tr := NewTracker(nil, nil)
	tr.OnFill(buy("2", "100"))
	if err := tr.UpdateMark("BTCUSDT", quant.MustFixed("103")); err != nil {
		t.Fatalf("UpdateMark() error = %v", err)
	}

	pos := tr.Position("BTCUSDT")
	if !pos.UnrealizedPnL.Equal(quant.MustFixed("6")) {
		t.Errorf("UnrealizedPnL = %v, want 6", pos.UnrealizedPnL)
	}

	// Shorts gain when the mark drops below entry.
	tr2 := NewTracker(nil, nil)
	tr2.OnFill(sell("1", "100"))
	tr2.UpdateMark("BTCUSDT", quant.MustFixed("95"))
	if got := tr2.Position("BTCUSDT").UnrealizedPnL; !got.Equal(quant.MustFixed("5")) {
		t.Errorf("short UnrealizedPnL = %v, want 5", got)
	}
}

func TestTrackerSnapshotReplaces(t *testing.T) {
	tr := NewTracker(nil, nil)
	tr.OnFill(buy("1", "100"))

	acct := domain.Account{Balances: map[string]quant.Fixed{"USDT": quant.MustFixed("5000")}}
	tr.OnAccountSnapshot(acct, []domain.Position{{
		Symbol:     "BTCUSDT",
		Size:       quant.MustFixed("3"),
		EntryPrice: quant.MustFixed("99"),
	}})

	pos := tr.Position("BTCUSDT")
	if !pos.Size.Equal(quant.MustFixed("3")) {
		t.Errorf("Size = %v, want 3 from snapshot", pos.Size)
	}
	if !tr.Account().Balance("USDT").Equal(quant.MustFixed("5000")) {
		t.Errorf("Balance(USDT) = %v, want 5000", tr.Account().Balance("USDT"))
	}
}

func TestTrackerSnapshotDropsUnlistedSymbol(t *testing.T) {
	tr := NewTracker(nil, nil)
	tr.OnFill(buy("1", "100"))

	tr.OnAccountSnapshot(domain.Account{Balances: map[string]quant.Fixed{}}, nil)
	if pos := tr.Position("BTCUSDT"); !pos.IsFlat() {
		t.Errorf("Size = %v, want flat after venue stopped listing the symbol", pos.Size)
	}
	if got := len(tr.Positions()); got != 0 {
		t.Errorf("len(Positions()) = %d, want 0", got)
	}
}

func TestTrackerSnapshotDriftTolerance(t *testing.T) {
	mtx := metrics.New()
	tr := NewTracker(mtx, nil)
	tr.SetDriftTolerance(quant.MustFixed("0.001"))
	tr.OnFill(buy("1", "100"))

	// Mismatch within tolerance: overwritten, but no alert.
	tr.OnAccountSnapshot(domain.Account{Balances: map[string]quant.Fixed{}}, []domain.Position{{
		Symbol: "BTCUSDT", Size: quant.MustFixed("1.0000001"),
	}})
	if got := testutil.ToFloat64(mtx.PositionDrift); got != 0 {
		t.Errorf("PositionDrift = %v after rounding-level mismatch, want 0", got)
	}
	if !tr.Position("BTCUSDT").Size.Equal(quant.MustFixed("1.0000001")) {
		t.Error("snapshot size not adopted despite tolerated mismatch")
	}

	// Mismatch beyond tolerance still alerts.
	tr.OnAccountSnapshot(domain.Account{Balances: map[string]quant.Fixed{}}, []domain.Position{{
		Symbol: "BTCUSDT", Size: quant.MustFixed("1.5"),
	}})
	if got := testutil.ToFloat64(mtx.PositionDrift); got != 1 {
		t.Errorf("PositionDrift = %v after real mismatch, want 1", got)
	}
}
