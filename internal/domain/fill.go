package domain

import (
	"time"

	"quant_go/pkg/quant"
)

// Fill is one execution against an order. FillID is unique per execution and
// is the dedupe key against duplicate push delivery. Qty is the incremental
// quantity of this execution; venue adapters that receive cumulative sizes
// convert to increments before emitting a Fill.
type Fill struct {
	FillID          string
	ExchangeOrderID string
	Symbol          string
	Side            Side
	Price           quant.Fixed
	Qty             quant.Fixed
	Ts              time.Time
}
