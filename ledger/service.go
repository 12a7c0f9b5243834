/*
service.go - Ledger service: balance chaining, visibility, versioned edits

PURPOSE:
  The Service is the only write path into the transaction ledger. It chains
  the running balance off the most recently created entry, gates every
  operation on the caller's claims, and filters list results through the
  visibility predicate.

BALANCE CHAINING:
  Append reads the account's latest transaction, computes
      balance = prior + chargeAmount - paymentAmount
  and stores the result on the new entry. The read-then-write is a classic
  race, so Append holds a per-account mutex for the duration. Edits go
  through a version check-and-set instead; concurrent edits surface
  ErrConcurrencyConflict rather than corrupting the chain.

SNAPSHOT SEMANTICS:
  Balance is the running total as of the entry's creation. Mutating an
  older entry (the allocator reducing a charge) rewrites neither that
  entry's balance nor any later entry's. "Balance" means "balance as of
  that snapshot"; a full recompute pass is deliberately not performed.

VISIBILITY:
  List results pass row-by-row through Claims.CanViewTransaction. Rejected
  rows are silently dropped, not errored. Get returns ErrNotFound for rows
  the caller cannot see, so hidden rows are indistinguishable from absent
  ones.

SEE ALSO:
  - locks.go: Per-account serialization
  - store.go: TransactionStore contract
  - authz: Capability predicates
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/billing-engine/authz"
)

// =============================================================================
// SERVICE
// =============================================================================

// Service owns all reads and writes of the transaction ledger.
type Service struct {
	store TransactionStore
	locks *accountLocks
}

func NewService(store TransactionStore) *Service {
	return &Service{store: store, locks: newAccountLocks()}
}

// Store exposes the underlying transaction store for collaborating
// services (the allocator's planned check-and-set updates).
func (s *Service) Store() TransactionStore { return s.store }

// =============================================================================
// APPEND - The only path that chains balances
// =============================================================================

// Append validates the draft, chains the balance off the account's latest
// entry under the account lock, and persists the new transaction.
func (s *Service) Append(ctx context.Context, claims authz.Claims, accountID AccountID, d Draft) (Transaction, error) {
	if !claims.CanCreateTransaction() {
		return Transaction{}, ErrUnauthorized
	}
	if accountID == "" {
		return Transaction{}, &ValidationError{Field: "accountId", Reason: "required"}
	}
	if !ValidTxType(d.Type) {
		return Transaction{}, &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown type %q", d.Type)}
	}
	if d.ChargeAmount.IsNegative() {
		return Transaction{}, &ValidationError{Field: "chargeAmount", Reason: "must not be negative"}
	}
	if d.PaymentAmount.IsNegative() {
		return Transaction{}, &ValidationError{Field: "paymentAmount", Reason: "must not be negative"}
	}
	status := d.Status
	if status == "" {
		status = StatusPending
	}
	if !ValidTxStatus(status) {
		return Transaction{}, &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", status)}
	}

	unlock := s.locks.acquire(accountID)
	defer unlock()

	last, ok, err := s.store.LastByCreated(ctx, accountID)
	if err != nil {
		return Transaction{}, storeErr(err)
	}
	prior := decimal.Zero
	if ok {
		prior = last.Balance
	}

	now := time.Now().UTC()
	// CreatedAt is the chain order; never let a clock step break it.
	if ok && !now.After(last.CreatedAt) {
		now = last.CreatedAt.Add(time.Nanosecond)
	}

	date := d.Date
	if date.IsZero() {
		date = now.Truncate(24 * time.Hour)
	}

	tx := Transaction{
		ID:            TransactionID(uuid.NewString()),
		AccountID:     accountID,
		Type:          d.Type,
		Date:          date,
		DocNumber:     d.DocNumber,
		Description:   d.Description,
		ChargeAmount:  d.ChargeAmount,
		PaymentAmount: d.PaymentAmount,
		Balance:       prior.Add(d.ChargeAmount).Sub(d.PaymentAmount),
		Status:        status,
		Method:        d.Method,
		Category:      d.Category,
		TenantID:      d.TenantID,
		Building:      d.Building,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.store.Insert(ctx, tx); err != nil {
		return Transaction{}, storeErr(err)
	}
	return tx, nil
}

// =============================================================================
// READS
// =============================================================================

// Get returns a transaction the caller may see, or ErrNotFound.
func (s *Service) Get(ctx context.Context, claims authz.Claims, id TransactionID) (Transaction, error) {
	tx, err := s.store.Get(ctx, id)
	if err != nil {
		return Transaction{}, storeErr(err)
	}
	if !claims.CanViewTransaction(string(tx.AccountID), tx.Building) {
		return Transaction{}, ErrNotFound
	}
	return tx, nil
}

// List returns transactions matching the filter, post-filtered through the
// visibility predicate. Manager-scope callers ignore the account filter
// and query their whole fleet; admins keep whatever filter they pass.
func (s *Service) List(ctx context.Context, claims authz.Claims, f Filter) ([]Transaction, error) {
	if claims.HasFleetScope() {
		f.AccountID = ""
	}
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}

	rows, err := s.store.List(ctx, f)
	if err != nil {
		return nil, storeErr(err)
	}

	visible := make([]Transaction, 0, len(rows))
	for _, tx := range rows {
		if claims.CanViewTransaction(string(tx.AccountID), tx.Building) {
			visible = append(visible, tx)
		}
	}
	return visible, nil
}

// CurrentBalance returns the latest stored balance for the account, the
// sum of latest balances across visible accounts for a manager-scope
// caller, or zero when no transactions exist.
func (s *Service) CurrentBalance(ctx context.Context, claims authz.Claims, accountID AccountID) (decimal.Decimal, error) {
	if claims.IsManager() {
		return s.fleetBalance(ctx, claims)
	}
	if !claims.IsAdmin() && string(accountID) != claims.AccountID {
		return decimal.Zero, ErrUnauthorized
	}
	last, ok, err := s.store.LastByCreated(ctx, accountID)
	if err != nil {
		return decimal.Zero, storeErr(err)
	}
	if !ok {
		return decimal.Zero, nil
	}
	return last.Balance, nil
}

func (s *Service) fleetBalance(ctx context.Context, claims authz.Claims) (decimal.Decimal, error) {
	accounts, err := s.store.Accounts(ctx)
	if err != nil {
		return decimal.Zero, storeErr(err)
	}
	total := decimal.Zero
	for _, acct := range accounts {
		last, ok, err := s.store.LastByCreated(ctx, acct)
		if err != nil {
			return decimal.Zero, storeErr(err)
		}
		if !ok || !claims.CanViewTransaction(string(last.AccountID), last.Building) {
			continue
		}
		total = total.Add(last.Balance)
	}
	return total, nil
}

// UnpaidBalance sums the outstanding charge amounts (pending charges) for
// an account, using the caller's visibility.
func (s *Service) UnpaidBalance(ctx context.Context, claims authz.Claims, accountID AccountID) (decimal.Decimal, error) {
	rows, err := s.List(ctx, claims, Filter{
		AccountID: accountID,
		Status:    StatusPending,
		Type:      TxCharge,
		Limit:     1000,
	})
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, tx := range rows {
		// Manager-scope listing ignores the account filter; re-narrow here.
		if tx.AccountID != accountID {
			continue
		}
		total = total.Add(tx.ChargeAmount)
	}
	return total, nil
}

// SummaryPeriod selects the window for PaidSummary.
type SummaryPeriod string

const (
	PeriodRecent   SummaryPeriod = "recent"
	PeriodLastYear SummaryPeriod = "lastYear"
)

// PaidSummary aggregates completed payments for an account.
type PaidSummary struct {
	Total      decimal.Decimal
	ByCategory map[string]decimal.Decimal
}

// PaidSummaryFor totals the caller-visible paid payment transactions,
// grouped by category.
func (s *Service) PaidSummaryFor(ctx context.Context, claims authz.Claims, accountID AccountID, period SummaryPeriod) (PaidSummary, error) {
	f := Filter{AccountID: accountID, Limit: 1000}
	if period == PeriodLastYear {
		f.From = time.Now().UTC().AddDate(-1, 0, 0)
	}
	rows, err := s.List(ctx, claims, f)
	if err != nil {
		return PaidSummary{}, err
	}

	summary := PaidSummary{Total: decimal.Zero, ByCategory: make(map[string]decimal.Decimal)}
	for _, tx := range rows {
		if tx.AccountID != accountID {
			continue
		}
		if tx.Type != TxPayment || tx.Status != StatusPaid {
			continue
		}
		summary.Total = summary.Total.Add(tx.PaymentAmount)
		cat := tx.Category
		if cat == "" {
			cat = "Uncategorized"
		}
		summary.ByCategory[cat] = summary.ByCategory[cat].Add(tx.PaymentAmount)
	}
	return summary, nil
}

// =============================================================================
// EDITS
// =============================================================================

// Update applies a patch under a version check-and-set. Stored balances
// are creation-time snapshots: mutating an entry's amounts rewrites
// neither its own balance nor any later entry's.
func (s *Service) Update(ctx context.Context, claims authz.Claims, id TransactionID, p Patch, expectedVersion int64) (Transaction, error) {
	existing, err := s.store.Get(ctx, id)
	if err != nil {
		return Transaction{}, storeErr(err)
	}
	if !claims.CanEditTransaction(existing.Building) {
		return Transaction{}, ErrUnauthorized
	}
	if expectedVersion == 0 {
		expectedVersion = existing.Version
	}

	patched := existing
	p.Apply(&patched)
	if patched.ChargeAmount.IsNegative() {
		return Transaction{}, &ValidationError{Field: "chargeAmount", Reason: "must not be negative"}
	}
	if patched.PaymentAmount.IsNegative() {
		return Transaction{}, &ValidationError{Field: "paymentAmount", Reason: "must not be negative"}
	}
	if !ValidTxStatus(patched.Status) {
		return Transaction{}, &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", patched.Status)}
	}
	patched.UpdatedAt = time.Now().UTC()

	updated, err := s.store.Update(ctx, patched, expectedVersion)
	if err != nil {
		return Transaction{}, storeErr(err)
	}
	return updated, nil
}

// Delete removes a transaction. Admin only. Later balances are not
// recomputed; this is an explicit operator action, not a ledger flow.
func (s *Service) Delete(ctx context.Context, claims authz.Claims, id TransactionID) error {
	if !claims.CanDeleteTransaction() {
		return ErrUnauthorized
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return storeErr(err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// storeErr wraps raw store failures with ErrPersistence while letting
// typed ledger errors pass through for errors.Is branching.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConcurrencyConflict) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}
