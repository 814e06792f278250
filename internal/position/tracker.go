package position

import (
	"log/slog"
	"sync"

	"quant_go/internal/domain"
	"quant_go/internal/metrics"
	"quant_go/pkg/quant"
)

// Tracker maintains net positions per symbol from the fill stream, with
// venue snapshots as the periodic authoritative correction. Signed sizes:
// positive long, negative short.
type Tracker struct {
	mu        sync.RWMutex
	positions map[string]*domain.Position
	account   domain.Account
	tolerance quant.Fixed
	mtx       *metrics.Metrics
	log       *slog.Logger
}

func NewTracker(mtx *metrics.Metrics, log *slog.Logger) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	if mtx == nil {
		mtx = metrics.New()
	}
	return &Tracker{
		positions: make(map[string]*domain.Position),
		account:   domain.Account{Balances: map[string]quant.Fixed{}},
		mtx:       mtx,
		log:       log,
	}
}

// SetDriftTolerance sets the absolute size mismatch below which snapshot
// reconciliation does not raise a drift alert. Zero (the default) alerts on
// any mismatch. The overwrite with the venue's numbers happens either way.
func (t *Tracker) SetDriftTolerance(tol quant.Fixed) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tolerance = tol.Abs()
}

// exceedsTolerance reports whether |a-b| is beyond tol. An unrepresentable
// difference counts as drift.
func exceedsTolerance(a, b, tol quant.Fixed) bool {
	diff, err := a.Sub(b)
	if err != nil {
		return true
	}
	return diff.Abs().Cmp(tol) > 0
}

// OnFill folds one incremental fill into the symbol's position. Adding to a
// position moves the entry price to the size-weighted average; reducing
// realizes PnL against the entry price and leaves it unchanged; crossing
// through flat realizes the closable part and opens the remainder at the
// fill price.
func (t *Tracker) OnFill(fill domain.Fill) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	pos := t.positions[fill.Symbol]
	if pos == nil {
		pos = &domain.Position{Symbol: fill.Symbol}
		t.positions[fill.Symbol] = pos
	}

	delta := fill.Qty
	if fill.Side == domain.SideSell {
		delta = delta.Neg()
	}

	newSize, err := pos.Size.Add(delta)
	if err != nil {
		return err
	}

	switch {
	case pos.Size.IsZero():
		pos.EntryPrice = fill.Price

	case pos.Size.Sign() == delta.Sign():
		// Same direction: entry becomes the size-weighted average.
		avg, werr := weightedEntry(pos.EntryPrice, pos.Size, fill.Price, delta, newSize)
		if werr != nil {
			return werr
		}
		pos.EntryPrice = avg

	case newSize.Sign() == pos.Size.Sign() || newSize.IsZero():
		// Reduction without crossing flat: realize on the closed quantity.
		realized, rerr := realizedOn(pos.EntryPrice, fill.Price, delta.Abs(), pos.Size.Sign())
		if rerr != nil {
			return rerr
		}
		if pos.RealizedPnL, rerr = pos.RealizedPnL.Add(realized); rerr != nil {
			return rerr
		}
		if newSize.IsZero() {
			pos.EntryPrice = quant.Fixed{}
		}

	default:
		// Flip: close the whole old position, open the residual fresh.
		realized, rerr := realizedOn(pos.EntryPrice, fill.Price, pos.Size.Abs(), pos.Size.Sign())
		if rerr != nil {
			return rerr
		}
		if pos.RealizedPnL, rerr = pos.RealizedPnL.Add(realized); rerr != nil {
			return rerr
		}
		pos.EntryPrice = fill.Price
	}

	pos.Size = newSize
	return nil
}

// weightedEntry computes (entry*|size| + price*|delta|) / |newSize|.
func weightedEntry(entry, size, price, delta, newSize quant.Fixed) (quant.Fixed, error) {
	prev, err := entry.Mul(size.Abs())
	if err != nil {
		return quant.Fixed{}, err
	}
	add, err := price.Mul(delta.Abs())
	if err != nil {
		return quant.Fixed{}, err
	}
	sum, err := prev.Add(add)
	if err != nil {
		return quant.Fixed{}, err
	}
	return sum.Div(newSize.Abs())
}

// realizedOn computes (price - entry) * qty for longs, (entry - price) * qty
// for shorts.
func realizedOn(entry, price, qty quant.Fixed, sideSign int) (quant.Fixed, error) {
	diff, err := price.Sub(entry)
	if err != nil {
		return quant.Fixed{}, err
	}
	if sideSign < 0 {
		diff = diff.Neg()
	}
	return diff.Mul(qty)
}

// UpdateMark recomputes unrealized PnL for one symbol against a mark price.
func (t *Tracker) UpdateMark(symbol string, mark quant.Fixed) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	pos := t.positions[symbol]
	if pos == nil || pos.IsFlat() {
		return nil
	}
	diff, err := mark.Sub(pos.EntryPrice)
	if err != nil {
		return err
	}
	upl, err := diff.Mul(pos.Size)
	if err != nil {
		return err
	}
	pos.UnrealizedPnL = upl
	return nil
}

// OnAccountSnapshot replaces local state wholesale with the venue's numbers.
// The snapshot is authoritative; local fills-derived state only bridges the
// gaps between snapshots. A size mismatch means fills were missed and is
// alerted before the overwrite.
func (t *Tracker) OnAccountSnapshot(acct domain.Account, positions []domain.Position) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, venue := range positions {
		local := t.positions[venue.Symbol]
		if local != nil && exceedsTolerance(local.Size, venue.Size, t.tolerance) {
			t.mtx.PositionDrift.Inc()
			t.log.Error("POSITION_DRIFT",
				slog.String("symbol", venue.Symbol),
				slog.String("local", local.Size.String()),
				slog.String("venue", venue.Size.String()))
		}
	}

	fresh := make(map[string]*domain.Position, len(positions))
	for _, venue := range positions {
		p := venue
		fresh[p.Symbol] = &p
	}
	// A symbol the venue stopped listing is flat. Keep locally known symbols
	// visible as flat entries so drift the other way is also caught.
	for sym, local := range t.positions {
		if _, ok := fresh[sym]; ok {
			continue
		}
		if exceedsTolerance(local.Size, quant.Fixed{}, t.tolerance) {
			t.mtx.PositionDrift.Inc()
			t.log.Error("POSITION_DRIFT",
				slog.String("symbol", sym),
				slog.String("local", local.Size.String()),
				slog.String("venue", "0"))
		}
	}
	t.positions = fresh
	t.account = acct.Clone()
}

// Position returns a copy of the position for one symbol. A symbol never
// traded reports flat.
func (t *Tracker) Position(symbol string) domain.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if pos := t.positions[symbol]; pos != nil {
		return *pos
	}
	return domain.Position{Symbol: symbol}
}

// Positions returns copies of every non-flat position.
func (t *Tracker) Positions() []domain.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.Position, 0, len(t.positions))
	for _, pos := range t.positions {
		if !pos.IsFlat() {
			out = append(out, *pos)
		}
	}
	return out
}

// Account returns a copy of the last venue account snapshot.
func (t *Tracker) Account() domain.Account {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.account.Clone()
}
