/*
Package ledger provides the core transaction ledger engine.

PURPOSE:
  This package contains the types and algorithms for maintaining a running
  account balance across monetary events. Every charge, payment, and
  assessment is recorded as a Transaction carrying the balance as of its
  creation. The ledger is append-mostly: entries are only mutated by the
  payment allocator (extinguishing charges oldest-first) or by an
  authorized edit, and only deleted by an explicit admin action.

KEY CONCEPTS IN THIS FILE (types.go):
  - Transaction: A dated monetary event with a stored running balance
  - Draft: Caller-supplied fields for a new transaction
  - Patch: Partial update applied under a version check
  - PaymentMethod / Contact / Notification: Collaborator records

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point errors
  2. Type Safety: Strong typing for IDs prevents mixing account/tx IDs
  3. Snapshot Balances: Balance is stored at creation time, not recomputed
     on read. Mutating an older entry does not rewrite later balances.
  4. Versioning: Every transaction carries a version for check-and-set

SEE ALSO:
  - service.go: Balance chaining and visibility filtering
  - store.go: Persistence contracts
  - errors.go: Error taxonomy
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TransactionID string
type AccountID string

// =============================================================================
// TRANSACTION - One row per monetary event
// =============================================================================

type TxType string

const (
	TxAssessment TxType = "assessment"
	TxPayment    TxType = "payment"
	TxCharge     TxType = "charge"
	TxOther      TxType = "other"
)

// ValidTxType reports whether t is a known transaction type.
func ValidTxType(t TxType) bool {
	switch t {
	case TxAssessment, TxPayment, TxCharge, TxOther:
		return true
	}
	return false
}

type TxStatus string

const (
	StatusPaid    TxStatus = "paid"
	StatusPending TxStatus = "pending"
	StatusOverdue TxStatus = "overdue"
)

// ValidTxStatus reports whether s is a known status.
func ValidTxStatus(s TxStatus) bool {
	switch s {
	case StatusPaid, StatusPending, StatusOverdue:
		return true
	}
	return false
}

// Transaction is a single monetary event in an account's ledger.
//
// INVARIANT: for a given AccountID, ordering by CreatedAt ascending yields
// Balance[i] = Balance[i-1] + ChargeAmount[i] - PaymentAmount[i], seeded
// at zero. The balance is stored, not derived on read; Append is the only
// path that chains it.
type Transaction struct {
	ID        TransactionID
	AccountID AccountID
	Type      TxType
	Date      time.Time

	DocNumber   string // correlates to an invoice number
	Description string

	ChargeAmount  decimal.Decimal
	PaymentAmount decimal.Decimal
	Balance       decimal.Decimal // running balance after this entry

	ConfirmationNumber string
	Method             string
	Status             TxStatus
	Category           string
	RecurringID        string
	Reconciled         bool
	TenantID           string
	Building           string // scoping tag for manager visibility

	// Version supports check-and-set updates. Incremented on every write.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Draft holds the caller-supplied fields for a new transaction. Missing
// amounts are treated as zero; a zero Date defaults to today.
type Draft struct {
	Type          TxType
	Date          time.Time
	DocNumber     string
	Description   string
	ChargeAmount  decimal.Decimal
	PaymentAmount decimal.Decimal
	Status        TxStatus
	Method        string
	Category      string
	TenantID      string
	Building      string
}

// Patch is a partial transaction update. Nil fields are left untouched.
type Patch struct {
	Date          *time.Time
	Description   *string
	ChargeAmount  *decimal.Decimal
	PaymentAmount *decimal.Decimal
	Balance       *decimal.Decimal
	Status        *TxStatus
	Category      *string
	Reconciled    *bool
}

// Apply copies the non-nil patch fields onto tx.
func (p Patch) Apply(tx *Transaction) {
	if p.Date != nil {
		tx.Date = *p.Date
	}
	if p.Description != nil {
		tx.Description = *p.Description
	}
	if p.ChargeAmount != nil {
		tx.ChargeAmount = *p.ChargeAmount
	}
	if p.PaymentAmount != nil {
		tx.PaymentAmount = *p.PaymentAmount
	}
	if p.Balance != nil {
		tx.Balance = *p.Balance
	}
	if p.Status != nil {
		tx.Status = *p.Status
	}
	if p.Category != nil {
		tx.Category = *p.Category
	}
	if p.Reconciled != nil {
		tx.Reconciled = *p.Reconciled
	}
}

// =============================================================================
// FILTER - List query parameters
// =============================================================================

// Filter narrows a transaction list query. Zero values mean "no constraint".
type Filter struct {
	AccountID AccountID
	DocNumber string
	From      time.Time
	To        time.Time
	Status    TxStatus
	Type      TxType
	Limit     int
}

// DefaultListLimit caps list queries when the caller does not set one.
const DefaultListLimit = 100

// =============================================================================
// COLLABORATOR RECORDS
// =============================================================================

// PaymentMethod is a registered way to pay for an account. The allocator
// refuses payments for accounts with none registered.
type PaymentMethod struct {
	ID        string
	AccountID AccountID
	Type      string // e.g. "card", "ach"
	Name      string
	CreatedAt time.Time
}

// Describe renders the method the way payment descriptions reference it.
func (m PaymentMethod) Describe() string {
	return m.Type + "-" + m.Name
}

// Contact is a stored contact relationship owned by an account holder.
type Contact struct {
	ID        string
	OwnerID   AccountID
	ContactID AccountID
	FirstName string
	LastName  string
	Email     string
	CreatedAt time.Time
}

// Notification is a fire-and-forget record for the notification sink.
type Notification struct {
	ID          string
	RecipientID AccountID
	Content     string
	Type        string
	IsRead      bool
	CreatedAt   time.Time
}

// =============================================================================
// SAGA STEP LOG - Multi-write sequences without an atomic commit
// =============================================================================

// RunKind identifies which multi-step operation a run belongs to.
type RunKind string

const (
	RunInvoiceCreate RunKind = "invoice_create"
	RunPayment       RunKind = "payment"
)

// StepRun is one execution of a multi-write sequence. Steps are recorded as
// each sub-write commits, so a failed run shows exactly how far it got.
type StepRun struct {
	ID          string
	Kind        RunKind
	Reference   string // account or invoice the run operates on
	StartedAt   time.Time
	CompletedAt time.Time // zero until the run finishes
}

// Step records one completed sub-write within a run.
type Step struct {
	ID          string
	RunID       string
	Seq         int
	Name        string // e.g. "invoice", "item", "charge", "allocate", "payment"
	TargetID    string // id of the record written
	CompletedAt time.Time
}
