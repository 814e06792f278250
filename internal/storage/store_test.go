package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"quant_go/internal/domain"
	"quant_go/pkg/quant"
)

func newTestStore(t *testing.T) *StateStore {
	t.Helper()
	s, err := NewStateStore(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("NewStateStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStateStoreOrderRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	o := domain.Order{
		ClientOrderID:   "c1",
		ExchangeOrderID: "ex1",
		Symbol:          "BTCUSDT",
		Side:            domain.SideBuy,
		Type:            domain.TypeLimit,
		RequestedQty:    quant.MustFixed("2"),
		FilledQty:       quant.MustFixed("0.5"),
		AvgFillPrice:    quant.MustFixed("100.25"),
		LimitPrice:      quant.MustFixed("101"),
		State:           domain.StatePartiallyFilled,
		UpdatedAt:       time.Now(),
	}
	if err := s.SaveOrder(ctx, o); err != nil {
		t.Fatalf("SaveOrder() error = %v", err)
	}

	got, err := s.LoadOpenOrders(ctx)
	if err != nil {
		t.Fatalf("LoadOpenOrders() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len(orders) = %d, want 1", len(got))
	}
	if got[0].ClientOrderID != "c1" || got[0].State != domain.StatePartiallyFilled {
		t.Errorf("order = %+v, want c1 PARTIALLY_FILLED", got[0])
	}
	if !got[0].FilledQty.Equal(quant.MustFixed("0.5")) {
		t.Errorf("FilledQty = %v, want 0.5", got[0].FilledQty)
	}
	if !got[0].AvgFillPrice.Equal(quant.MustFixed("100.25")) {
		t.Errorf("AvgFillPrice = %v, want 100.25", got[0].AvgFillPrice)
	}
}

func TestStateStoreTerminalOrdersExcluded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.SaveOrder(ctx, domain.Order{ClientOrderID: "open", State: domain.StateOpen, UpdatedAt: time.Now()})
	s.SaveOrder(ctx, domain.Order{ClientOrderID: "done", State: domain.StateFilled, UpdatedAt: time.Now()})

	got, err := s.LoadOpenOrders(ctx)
	if err != nil {
		t.Fatalf("LoadOpenOrders() error = %v", err)
	}
	if len(got) != 1 || got[0].ClientOrderID != "open" {
		t.Errorf("LoadOpenOrders() = %+v, want just the open order", got)
	}
}

func TestStateStoreUpsertOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	o := domain.Order{ClientOrderID: "c1", State: domain.StateOpen, UpdatedAt: time.Now()}
	s.SaveOrder(ctx, o)
	o.State = domain.StatePartiallyFilled
	o.FilledQty = quant.MustFixed("1")
	s.SaveOrder(ctx, o)

	got, _ := s.LoadOpenOrders(ctx)
	if len(got) != 1 {
		t.Fatalf("len(orders) = %d, want 1 after upsert", len(got))
	}
	if got[0].State != domain.StatePartiallyFilled {
		t.Errorf("State = %v, want PARTIALLY_FILLED", got[0].State)
	}
}

func TestStateStorePositionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := domain.Position{
		Symbol:      "BTCUSDT",
		Size:        quant.MustFixed("-0.5"),
		EntryPrice:  quant.MustFixed("110"),
		RealizedPnL: quant.MustFixed("10"),
	}
	if err := s.SavePosition(ctx, p); err != nil {
		t.Fatalf("SavePosition() error = %v", err)
	}

	got, err := s.LoadPositions(ctx)
	if err != nil {
		t.Fatalf("LoadPositions() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len(positions) = %d, want 1", len(got))
	}
	if !got[0].Size.Equal(quant.MustFixed("-0.5")) {
		t.Errorf("Size = %v, want -0.5", got[0].Size)
	}

	// Going flat removes the row.
	p.Size = quant.Fixed{}
	if err := s.SavePosition(ctx, p); err != nil {
		t.Fatalf("SavePosition(flat) error = %v", err)
	}
	got, _ = s.LoadPositions(ctx)
	if len(got) != 0 {
		t.Errorf("len(positions) = %d after flat, want 0", len(got))
	}
}

func TestStateStoreFillJournalDedupes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	f := domain.Fill{
		FillID:          "f1",
		ExchangeOrderID: "ex1",
		Symbol:          "BTCUSDT",
		Side:            domain.SideBuy,
		Price:           quant.MustFixed("100"),
		Qty:             quant.MustFixed("1"),
		Ts:              time.Now(),
	}
	if err := s.JournalFill(ctx, f); err != nil {
		t.Fatalf("JournalFill() error = %v", err)
	}
	if err := s.JournalFill(ctx, f); err != nil {
		t.Fatalf("JournalFill(duplicate) error = %v", err)
	}

	got, err := s.LoadFills(ctx, "ex1")
	if err != nil {
		t.Fatalf("LoadFills() error = %v", err)
	}
	if len(got) != 1 {
		t.Errorf("len(fills) = %d, want 1 after duplicate journal", len(got))
	}
}

func TestStateStorePrune(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	s.SaveOrder(ctx, domain.Order{ClientOrderID: "stale", State: domain.StateFilled, UpdatedAt: old})
	s.SaveOrder(ctx, domain.Order{ClientOrderID: "fresh", State: domain.StateFilled, UpdatedAt: time.Now()})
	s.SaveOrder(ctx, domain.Order{ClientOrderID: "live", State: domain.StateOpen, UpdatedAt: old})

	n, err := s.PruneOrders(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("PruneOrders() error = %v", err)
	}
	if n != 1 {
		t.Errorf("PruneOrders() = %d, want 1", n)
	}

	// The stale open order must survive: only terminal rows age out.
	got, _ := s.LoadOpenOrders(ctx)
	if len(got) != 1 || got[0].ClientOrderID != "live" {
		t.Errorf("LoadOpenOrders() = %+v, want the live order intact", got)
	}
}
