package derive

import "github.com/pharmledger/pharmledger-backend/internal/ledger/domain"

// DefaultWindowMonths is the trailing window used when callers don't
// override it: the current month and the two before it.
const DefaultWindowMonths = 3

// ConsumptionWindow is the trailing consumption history of one item name.
type ConsumptionWindow struct {
	ItemName string            `json:"item_name"`
	Months   []domain.MonthKey `json:"months"`
	Totals   []int             `json:"totals"`
	// Average is computed only over months with a nonzero total. A month
	// with genuinely zero dispensing is indistinguishable from one with
	// no data, so zero months are excluded from the denominator rather
	// than diluting the average with stock-out months. Zero when no
	// month in the window had any consumption.
	Average int `json:"average"`
}

// TrailingConsumption builds the consumption window for an item name,
// ending at currentMonth and stepping back by calendar month (so windows
// span year boundaries correctly). The item is looked up in each month's
// ledger by exact name; a month without the item, or without a ledger at
// all, contributes a zero total.
func TrailingConsumption(
	itemName string,
	currentMonth domain.MonthKey,
	ledgersByMonth map[domain.MonthKey]domain.MonthlyLedger,
	windowSize int,
) ConsumptionWindow {
	if windowSize <= 0 {
		windowSize = DefaultWindowMonths
	}

	months := currentMonth.Window(windowSize)
	totals := make([]int, len(months))

	sum := 0
	nonzero := 0
	for i, month := range months {
		ledger, ok := ledgersByMonth[month]
		if !ok {
			continue
		}
		idx := ledger.FindItem(itemName)
		if idx < 0 {
			continue
		}
		total := TotalDispensed(ledger.Items[idx])
		totals[i] = total
		if total != 0 {
			sum += total
			nonzero++
		}
	}

	w := ConsumptionWindow{
		ItemName: itemName,
		Months:   months,
		Totals:   totals,
	}
	if nonzero > 0 {
		w.Average = sum / nonzero
	}
	return w
}
