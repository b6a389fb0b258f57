package domain

import (
	"strconv"

	"github.com/pharmledger/pharmledger-backend/pkg/errors"
)

// ValidateItem checks an item before persistence. A blank name is rejected
// only once the item carries data; a brand-new, still-empty item is exempt
// so "add item" can create blank rows that get filled in afterwards.
// Validation failures block persistence but the in-memory edit is kept so
// the caller can surface the rejection without losing the user's input.
func ValidateItem(it Item) error {
	details := make(map[string]string)

	if it.Name == "" && !it.Empty() {
		details["name"] = "name is required once the item has data"
	}
	if it.Opening < 0 {
		details["opening"] = "must not be negative"
	}
	if it.UnitPrice < 0 {
		details["unit_price"] = "must not be negative"
	}

	if len(details) > 0 {
		return errors.Validation(details)
	}
	return nil
}

// ValidateLedger runs ValidateItem across a month's items, reporting the
// first failure with its index.
func ValidateLedger(l MonthlyLedger) error {
	for i, it := range l.Items {
		if err := ValidateItem(it); err != nil {
			var appErr *errors.AppError
			if errors.As(err, &appErr) && appErr.Details != nil {
				appErr.Details["index"] = strconv.Itoa(i)
			}
			return err
		}
	}
	return nil
}
