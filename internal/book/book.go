package book

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"quant_go/internal/domain"
	"quant_go/pkg/quant"
)

// ErrInsufficientLiquidity is returned by SlippageFor when the resting ladder
// cannot absorb the requested quantity.
var ErrInsufficientLiquidity = errors.New("book: insufficient liquidity for requested quantity")

// PriceLevel is one rung of a ladder. A zero quantity is a tombstone in the
// wire format meaning "remove this level"; it is never stored.
type PriceLevel struct {
	Price      quant.Fixed `json:"price"`
	Qty        quant.Fixed `json:"qty"`
	OrderCount uint32      `json:"order_count,omitempty"`
}

// Book is a per-symbol price-level ladder kept consistent by sequenced
// snapshots and deltas. Bids are sorted descending, asks ascending.
//
// In strict mode the delta transport guarantees gap-free delivery and any
// sequence jump is an error. In monotonic mode jumps are tolerated and
// counted; the supervisor watches the counter and resyncs.
type Book struct {
	mu      sync.RWMutex
	symbol  string
	bids    []PriceLevel
	asks    []PriceLevel
	lastSeq uint64
	strict  bool
	gaps    uint64
}

// New creates an empty book for a symbol.
func New(symbol string, strict bool) *Book {
	return &Book{symbol: symbol, strict: strict}
}

// Symbol returns the symbol this book tracks.
func (b *Book) Symbol() string { return b.symbol }

// LastSequence returns the sequence of the last applied snapshot or delta.
func (b *Book) LastSequence() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastSeq
}

// Gaps returns how many tolerated sequence jumps have been observed since the
// last snapshot. Only ever nonzero in monotonic mode.
func (b *Book) Gaps() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.gaps
}

// ApplySnapshot replaces both ladders wholesale. A snapshot is always
// authoritative regardless of the prior sequence value.
func (b *Book) ApplySnapshot(bids, asks []PriceLevel, seq uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bids = compactLevels(bids)
	b.asks = compactLevels(asks)
	sort.Slice(b.bids, func(i, j int) bool { return b.bids[i].Price.Cmp(b.bids[j].Price) > 0 })
	sort.Slice(b.asks, func(i, j int) bool { return b.asks[i].Price.Cmp(b.asks[j].Price) < 0 })
	b.lastSeq = seq
	b.gaps = 0

	return b.checkCrossedLocked()
}

// ApplyUpdate applies one sequenced delta. Stale deltas are rejected without
// mutating state; gaps are an error in strict mode and a counted event in
// monotonic mode.
func (b *Book) ApplyUpdate(bids, asks []PriceLevel, seq uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if seq <= b.lastSeq {
		return fmt.Errorf("%w: got %d, book at %d", domain.ErrStaleUpdate, seq, b.lastSeq)
	}
	if seq != b.lastSeq+1 {
		if b.strict {
			return fmt.Errorf("%w: expected %d, got %d", domain.ErrSequenceGap, b.lastSeq+1, seq)
		}
		b.gaps++
	}

	for _, lvl := range bids {
		b.bids = applyLevel(b.bids, lvl, func(a, c quant.Fixed) bool { return a.Cmp(c) > 0 })
	}
	for _, lvl := range asks {
		b.asks = applyLevel(b.asks, lvl, func(a, c quant.Fixed) bool { return a.Cmp(c) < 0 })
	}
	b.lastSeq = seq

	return b.checkCrossedLocked()
}

func (b *Book) checkCrossedLocked() error {
	if len(b.bids) == 0 || len(b.asks) == 0 {
		return nil
	}
	if b.bids[0].Price.Cmp(b.asks[0].Price) >= 0 {
		return fmt.Errorf("%w: %s bid %s >= ask %s",
			domain.ErrCrossedBook, b.symbol, b.bids[0].Price.String(), b.asks[0].Price.String())
	}
	return nil
}

// applyLevel inserts, replaces or removes one rung. before orders the ladder:
// bids descending, asks ascending.
func applyLevel(ladder []PriceLevel, lvl PriceLevel, before func(a, c quant.Fixed) bool) []PriceLevel {
	idx := sort.Search(len(ladder), func(i int) bool {
		return !before(ladder[i].Price, lvl.Price)
	})
	exists := idx < len(ladder) && ladder[idx].Price.Equal(lvl.Price)

	if lvl.Qty.IsZero() {
		if exists {
			return append(ladder[:idx], ladder[idx+1:]...)
		}
		return ladder // removal of an absent level is a no-op
	}
	if exists {
		ladder[idx] = lvl
		return ladder
	}
	ladder = append(ladder, PriceLevel{})
	copy(ladder[idx+1:], ladder[idx:])
	ladder[idx] = lvl
	return ladder
}

func compactLevels(levels []PriceLevel) []PriceLevel {
	out := make([]PriceLevel, 0, len(levels))
	for _, lvl := range levels {
		if lvl.Qty.IsZero() {
			continue
		}
		out = append(out, lvl)
	}
	return out
}

// BestBid returns the highest resting bid.
func (b *Book) BestBid() (PriceLevel, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.bids) == 0 {
		return PriceLevel{}, false
	}
	return b.bids[0], true
}

// BestAsk returns the lowest resting ask.
func (b *Book) BestAsk() (PriceLevel, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.asks) == 0 {
		return PriceLevel{}, false
	}
	return b.asks[0], true
}

// Spread returns bestAsk - bestBid. ok is false when either side is empty.
func (b *Book) Spread() (quant.Fixed, bool) {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return quant.Fixed{}, false
	}
	spread, err := ask.Price.Sub(bid.Price)
	if err != nil {
		return quant.Fixed{}, false
	}
	return spread, true
}

// MidPrice returns (bestBid + bestAsk) / 2. ok is false when either side is empty.
func (b *Book) MidPrice() (quant.Fixed, bool) {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return quant.Fixed{}, false
	}
	sum, err := bid.Price.Add(ask.Price)
	if err != nil {
		return quant.Fixed{}, false
	}
	mid, err := sum.Div(quant.FixedFromInt64(2))
	if err != nil {
		return quant.Fixed{}, false
	}
	return mid, true
}

// DepthAt returns copies of the first n levels per side.
func (b *Book) DepthAt(n int) (bids, asks []PriceLevel) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return copyLevels(b.bids, n), copyLevels(b.asks, n)
}

func copyLevels(ladder []PriceLevel, n int) []PriceLevel {
	if n > len(ladder) || n < 0 {
		n = len(ladder)
	}
	out := make([]PriceLevel, n)
	copy(out, ladder[:n])
	return out
}

// SlippageFor walks the opposing ladder accumulating quantity until the
// requested size is filled and returns the volume-weighted execution price.
// Buys consume asks, sells consume bids.
func (b *Book) SlippageFor(side domain.Side, qty quant.Fixed) (quant.Fixed, error) {
	if qty.Sign() <= 0 {
		return quant.Fixed{}, fmt.Errorf("%w: non-positive quantity", domain.ErrInvalidRequest)
	}

	b.mu.RLock()
	ladder := b.asks
	if side == domain.SideSell {
		ladder = b.bids
	}
	levels := make([]PriceLevel, len(ladder))
	copy(levels, ladder)
	b.mu.RUnlock()

	remaining := qty
	cost := quant.Fixed{}
	for _, lvl := range levels {
		take := lvl.Qty
		if take.Cmp(remaining) > 0 {
			take = remaining
		}
		notional, err := lvl.Price.Mul(take)
		if err != nil {
			return quant.Fixed{}, err
		}
		if cost, err = cost.Add(notional); err != nil {
			return quant.Fixed{}, err
		}
		if remaining, err = remaining.Sub(take); err != nil {
			return quant.Fixed{}, err
		}
		if remaining.IsZero() {
			return cost.Div(qty)
		}
	}
	return quant.Fixed{}, ErrInsufficientLiquidity
}
