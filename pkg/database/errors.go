package database

import (
	"strings"

	"github.com/lib/pq"
	"github.com/pharmledger/pharmledger-backend/pkg/errors"
)

// MapPQError converts a PostgreSQL error to an AppError with meaningful messages.
// Returns nil if the error is not a pq.Error.
func MapPQError(err error) *errors.AppError {
	pqErr, ok := err.(*pq.Error)
	if !ok {
		return nil
	}

	switch pqErr.Code {
	// Check constraint violation (23514)
	case "23514":
		return mapCheckConstraint(pqErr)

	// Unique constraint violation (23505)
	case "23505":
		return errors.Conflict(formatConstraintMessage(pqErr))

	// Foreign key violation (23503)
	case "23503":
		return errors.BadRequest("referenced record does not exist")

	// Not null violation (23502)
	case "23502":
		col := pqErr.Column
		if col == "" {
			col = "required field"
		}
		return errors.Validation(map[string]string{
			col: "must not be empty",
		})

	default:
		return nil
	}
}

// mapCheckConstraint maps specific CHECK constraint names to user-friendly messages.
func mapCheckConstraint(pqErr *pq.Error) *errors.AppError {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "opening_non_negative"):
		return errors.Validation(map[string]string{
			"opening": "must not be negative",
		})

	case strings.Contains(constraint, "unit_price_non_negative"):
		return errors.Validation(map[string]string{
			"unit_price": "must not be negative",
		})

	case strings.Contains(constraint, "role_valid"):
		return errors.Validation(map[string]string{
			"role": "must be one of: lead, senior, regular",
		})

	case strings.Contains(constraint, "month_key_format"):
		return errors.Validation(map[string]string{
			"month": "must be formatted as YYYY-MM",
		})

	default:
		return errors.BadRequest("data validation failed: " + constraint)
	}
}

// formatConstraintMessage creates a user-friendly message for unique constraint violations.
func formatConstraintMessage(pqErr *pq.Error) string {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "custom_pages_tenant_name"):
		return "a custom page with this name already exists"
	case strings.Contains(constraint, "monthly_ledgers_pharmacy_month"):
		return "a ledger for this pharmacy and month already exists"
	case strings.Contains(constraint, "username"):
		return "a staff member with this username already exists"
	default:
		return "a record with these values already exists"
	}
}
