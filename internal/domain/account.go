package domain

import (
	"time"

	"quant_go/pkg/quant"
)

// Account holds venue-reported balances and margin. It is replaced wholesale
// on each authoritative snapshot, never patched incrementally, so that local
// inference can never drift it.
type Account struct {
	Balances        map[string]quant.Fixed // currency -> amount
	MarginUsed      quant.Fixed
	MarginAvailable quant.Fixed
	UpdatedAt       time.Time
}

// Clone returns a deep copy safe to hand out to callers.
func (a *Account) Clone() Account {
	out := *a
	out.Balances = make(map[string]quant.Fixed, len(a.Balances))
	for ccy, amt := range a.Balances {
		out.Balances[ccy] = amt
	}
	return out
}

// Balance returns the balance for a currency, zero if absent.
func (a Account) Balance(currency string) quant.Fixed {
	return a.Balances[currency]
}
