/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages (billing) wrap these errors with additional context.

ERROR CATEGORIES:
  1. Authorization / validation - raised before any write
  2. Allocation errors - payment allocator preconditions
  3. Consistency errors - version conflicts, partial saga failures
  4. Store errors - database-level failures

USAGE:
  Callers branch with errors.Is():

    if errors.Is(err, ledger.ErrOverpayment) {
        // amount exceeded outstanding charges; nothing was written
    }

SEE ALSO:
  - service.go: Raises authorization/validation/conflict errors
  - billing: Raises allocation and partial-failure errors
*/
package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrUnauthorized is returned when a capability check fails.
	// Authorization failures are raised before anything is written.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrValidation is returned for malformed or missing required fields.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a referenced entity is absent.
	ErrNotFound = errors.New("not found")

	// ErrNoPaymentMethod is returned when an account has no registered
	// payment method.
	ErrNoPaymentMethod = errors.New("no payment method registered")

	// ErrNoPendingCharges is returned when a payment is applied to an
	// account with nothing outstanding.
	ErrNoPendingCharges = errors.New("no pending charges")

	// ErrOverpayment is returned when a payment exceeds the outstanding
	// total. Raised during planning, before any mutation.
	ErrOverpayment = errors.New("payment exceeds pending charges")

	// ErrConcurrencyConflict is returned when a version check-and-set
	// detects a concurrent write. Safe to retry.
	ErrConcurrencyConflict = errors.New("concurrent modification detected")

	// ErrPersistence wraps underlying store failures.
	ErrPersistence = errors.New("persistence failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports which field failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// OverpaymentError reports how far a payment exceeded the outstanding total.
type OverpaymentError struct {
	AccountID   AccountID
	Requested   decimal.Decimal
	Outstanding decimal.Decimal
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("payment exceeds pending charges: requested %s, outstanding %s (account %s)",
		e.Requested, e.Outstanding, e.AccountID)
}

func (e *OverpaymentError) Unwrap() error { return ErrOverpayment }

// PartialFailureError is surfaced when a multi-write sequence fails after
// some sub-steps committed. Already-committed writes stay in place; the
// step list tells the operator (or a reconciliation pass) where to resume.
type PartialFailureError struct {
	Op        string   // e.g. "createInvoice", "applyPayment"
	RunID     string   // step-log run carrying the completed sub-steps
	Completed []string // names of the sub-steps that committed
	Err       error    // the failure that interrupted the sequence
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("%s partially failed after [%s] (run %s): %v",
		e.Op, strings.Join(e.Completed, ", "), e.RunID, e.Err)
}

func (e *PartialFailureError) Unwrap() error { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// IsClientError returns true if the error is due to invalid caller input
// or a failed precondition, as opposed to a store failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNoPaymentMethod) ||
		errors.Is(err, ErrNoPendingCharges) ||
		errors.Is(err, ErrOverpayment)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
