package domain

import "quant_go/pkg/quant"

// Position represents an open trading position for one symbol.
// Size is signed: positive for long, negative for short.
type Position struct {
	Symbol        string
	Size          quant.Fixed
	EntryPrice    quant.Fixed // weighted average entry, resets when Size crosses zero
	RealizedPnL   quant.Fixed
	UnrealizedPnL quant.Fixed
}

// IsLong checks if the position is long.
func (p *Position) IsLong() bool {
	return p.Size.Sign() > 0
}

// IsShort checks if the position is short.
func (p *Position) IsShort() bool {
	return p.Size.Sign() < 0
}

// IsFlat checks if there is no open exposure.
func (p *Position) IsFlat() bool {
	return p.Size.IsZero()
}
