// Package derive computes the ledger's derived figures: totals, current
// stock, source breakdowns, trailing consumption and shortage
// classifications. Everything here is pure and idempotent; recomputing from
// the same item always yields the same result.
//
// Quantities are conceptually integral but arrive as numbers, so every
// figure representing discrete stock is truncated at the point of
// aggregation, never at the point of input.
package derive

import (
	"math"

	"github.com/pharmledger/pharmledger-backend/internal/ledger/domain"
)

// TotalDispensed sums the item's daily dispense values across all three
// wire shapes and truncates the result.
func TotalDispensed(it domain.Item) int {
	var sum float64
	for _, v := range it.DailyDispense {
		sum += v.Total()
	}
	return int(math.Trunc(sum))
}

// TotalIncoming sums the item's daily incoming quantities, truncated.
func TotalIncoming(it domain.Item) int {
	var sum float64
	for _, v := range it.DailyIncoming {
		sum += v
	}
	return int(math.Trunc(sum))
}

// OpeningPlusIncoming is the stock available this month before dispensing.
func OpeningPlusIncoming(it domain.Item) int {
	return int(math.Trunc(it.Opening)) + TotalIncoming(it)
}

// CurrentStock is what remains after dispensing. It may be negative, which
// signals over-dispensing or a data error; it is deliberately not clamped.
func CurrentStock(it domain.Item) int {
	return OpeningPlusIncoming(it) - TotalDispensed(it)
}

// RemainingValue prices the current stock at the item's unit price.
func RemainingValue(it domain.Item) float64 {
	return float64(CurrentStock(it)) * it.UnitPrice
}

// SourceBreakdown partitions the month's incoming quantity by source.
type SourceBreakdown struct {
	Factory   int `json:"factory"`
	Authority int `json:"authority"`
	Scissors  int `json:"scissors"`
}

// IncomingBySource attributes each day's incoming quantity to the source
// recorded for that day. Days without a recognized source are dropped from
// the breakdown, though they still count in TotalIncoming.
func IncomingBySource(it domain.Item) SourceBreakdown {
	var factory, authority, scissors float64
	for day, qty := range it.DailyIncoming {
		switch it.IncomingSource[day] {
		case domain.SourceFactory:
			factory += qty
		case domain.SourceAuthority:
			authority += qty
		case domain.SourceScissors:
			scissors += qty
		}
	}
	return SourceBreakdown{
		Factory:   int(math.Trunc(factory)),
		Authority: int(math.Trunc(authority)),
		Scissors:  int(math.Trunc(scissors)),
	}
}
