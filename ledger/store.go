/*
store.go - Persistence contracts for ledger and collaborator records

PURPOSE:
  Defines the interface between the domain logic and the database. The
  backing store offers key/value access plus filtered list queries over
  indexed fields, and no native multi-record transaction. Every multi-write
  sequence above this layer is therefore step-logged (see StepStore).

KEY INTERFACES:
  TransactionStore:   Ledger rows (insert, versioned update, list)
  PaymentMethodStore: Registered payment methods per account
  ContactStore:       Contact relationships
  NotificationStore:  Fire-and-forget notification records
  StepStore:          Saga step log for resumable multi-write sequences

VERSIONED UPDATES:
  Update takes the version the caller read. If the stored version differs,
  the store returns ErrConcurrencyConflict and writes nothing. This is the
  check-and-set half of the concurrency design; Append serialization is
  the other half (see service.go).

IMPLEMENTATIONS:
  - store/sqlite: production SQLite
  - store/memory: in-memory for tests and dev

SEE ALSO:
  - service.go: Ledger service built on TransactionStore
  - billing/store.go: Invoice aggregate contracts
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// TRANSACTION STORE
// =============================================================================

// TransactionStore persists ledger rows.
type TransactionStore interface {
	// Insert writes a new transaction. The id must be unset in the store.
	Insert(ctx context.Context, tx Transaction) error

	// Get returns a transaction by id, or ErrNotFound.
	Get(ctx context.Context, id TransactionID) (Transaction, error)

	// Update overwrites the row if its stored version equals
	// expectedVersion, bumping the version. Returns the stored result, or
	// ErrConcurrencyConflict when the check fails.
	Update(ctx context.Context, tx Transaction, expectedVersion int64) (Transaction, error)

	// Delete removes the row. Does not cascade or recompute anything.
	Delete(ctx context.Context, id TransactionID) error

	// List returns transactions matching the filter, ordered by CreatedAt
	// ascending. A zero filter returns everything up to DefaultListLimit.
	List(ctx context.Context, f Filter) ([]Transaction, error)

	// LastByCreated returns the most recently created transaction for the
	// account. ok is false when the account has no transactions.
	LastByCreated(ctx context.Context, accountID AccountID) (tx Transaction, ok bool, err error)

	// Accounts returns every account id that has at least one transaction.
	Accounts(ctx context.Context) ([]AccountID, error)
}

// =============================================================================
// COLLABORATOR STORES
// =============================================================================

// PaymentMethodStore persists registered payment methods.
type PaymentMethodStore interface {
	AddPaymentMethod(ctx context.Context, m PaymentMethod) error
	PaymentMethods(ctx context.Context, accountID AccountID) ([]PaymentMethod, error)
}

// ContactStore persists contact relationships.
type ContactStore interface {
	AddContact(ctx context.Context, c Contact) error
	ContactsByOwner(ctx context.Context, ownerID AccountID) ([]Contact, error)
}

// NotificationStore accepts notification records. Fire-and-forget from the
// caller's perspective; delivery is the sink's problem.
type NotificationStore interface {
	AddNotification(ctx context.Context, n Notification) error
	NotificationsByRecipient(ctx context.Context, recipientID AccountID) ([]Notification, error)
}

// =============================================================================
// STEP STORE - Saga step log
// =============================================================================

// StepStore records multi-write sequences. Each sub-write is logged as it
// commits so a failed run can be diagnosed and resumed instead of assuming
// atomicity the store never offered.
type StepStore interface {
	// BeginRun opens a new run and returns its id.
	BeginRun(ctx context.Context, kind RunKind, reference string, at time.Time) (string, error)

	// RecordStep logs a committed sub-write.
	RecordStep(ctx context.Context, runID string, seq int, name, targetID string, at time.Time) error

	// CompleteRun marks a run finished.
	CompleteRun(ctx context.Context, runID string, at time.Time) error

	// Steps returns the recorded steps of a run, ordered by Seq.
	Steps(ctx context.Context, runID string) ([]Step, error)

	// IncompleteRuns returns runs that never completed, oldest first.
	// This is the reconciliation work queue.
	IncompleteRuns(ctx context.Context, kind RunKind) ([]StepRun, error)
}
