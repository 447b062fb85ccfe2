package database

import (
	"strings"

	"github.com/lib/pq"
	"github.com/trialstock/trialstock-backend/pkg/errors"
)

// MapPQError converts a PostgreSQL error to an AppError with meaningful messages.
// Returns nil if the error is not a pq.Error.
func MapPQError(err error) *errors.AppError {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return nil
	}

	switch pqErr.Code {
	// Serialization failure (40001) / deadlock detected (40P01):
	// a concurrent transaction won the race, callers should retry.
	case "40001", "40P01":
		return errors.ConcurrencyConflict()

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
	// current_quantity >= 0 is the last line of defense against a lost
	// update slipping past the row lock.
	case strings.Contains(constraint, "quantity_non_negative"):
		return errors.ConcurrencyConflict()

	case strings.Contains(constraint, "status_valid"):
		return errors.Validation(map[string]string{
			"status": "must be one of: AVAILABLE, QUARANTINE, RESERVED, EXPIRED, DESTROYED, RETURNED_TO_SPONSOR",
		})

	case strings.Contains(constraint, "movement_type_valid"):
		return errors.Validation(map[string]string{
			"movement_type": "must be one of: RECEPTION, DISPENSATION, RETOUR, DESTRUCTION, TRANSFER",
		})

	default:
		return errors.BadRequest("data validation failed: " + constraint)
	}
}

// formatConstraintMessage creates a user-friendly message for unique constraint violations.
func formatConstraintMessage(pqErr *pq.Error) string {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "batch_number"):
		return "a stock item with this batch number already exists in the study"
	case strings.Contains(constraint, "destruction_batches"):
		return "a destruction batch with this number already exists in the study"
	default:
		return "a record with these values already exists"
	}
}
