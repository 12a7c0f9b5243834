/*
allocator.go - FIFO payment allocation

PURPOSE:
  Applies a payment to an account's outstanding charges oldest-first and
  records the payment as one new ledger transaction at the end of the
  chain.

ALGORITHM:
  1. Require a registered payment method (NoPaymentMethod otherwise).
  2. Load pending charges sorted by date ascending.
  3. PLAN (pure): greedy walk, apply = min(remaining, chargeAmount).
     NoPendingCharges and Overpayment are decided here, before any write.
  4. EXECUTE: per-charge check-and-set update (new chargeAmount, status
     paid at zero), each sub-write recorded in the step log. Stored
     balances are creation-time snapshots and are not rewritten.
  5. Append one payment transaction through the normal chained path; it
     carries the full decrement of the running balance.

PARTIAL FAILURE:
  There is no multi-row transaction. A store failure mid-execution leaves
  the committed updates in place and surfaces PartialFailureError with the
  step names; the open run in the step log is the reconciliation queue.
  The plan/execute split guarantees the two precondition errors
  (NoPendingCharges, Overpayment) are raised with zero mutations issued.

CONCURRENCY:
  Each charge update carries the version read during planning. A
  concurrent edit of any planned charge fails the check-and-set with
  ErrConcurrencyConflict (retryable) instead of double-applying.

SEE ALSO:
  - ledger/service.go: Update (CAS) and Append (account lock)
  - invoice.go: Where the charges come from
*/
package billing

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/billing-engine/authz"
	"github.com/warp/billing-engine/ledger"
)

// =============================================================================
// ALLOCATOR
// =============================================================================

// Allocator applies payments against outstanding charges.
type Allocator struct {
	ledger  *ledger.Service
	methods ledger.PaymentMethodStore
	steps   ledger.StepStore
}

func NewAllocator(svc *ledger.Service, methods ledger.PaymentMethodStore, steps ledger.StepStore) *Allocator {
	return &Allocator{ledger: svc, methods: methods, steps: steps}
}

// allocation is one planned slice of the payment.
type allocation struct {
	tx    ledger.Transaction
	apply decimal.Decimal
}

// ApplyPayment extinguishes pending charges oldest-first and appends the
// payment transaction. Returns the new payment record.
func (a *Allocator) ApplyPayment(ctx context.Context, claims authz.Claims, accountID ledger.AccountID, amount decimal.Decimal) (ledger.Transaction, error) {
	// The per-charge updates and the final append both require ledger
	// write capabilities; fail before touching anything.
	if !claims.CanCreateTransaction() {
		return ledger.Transaction{}, ledger.ErrUnauthorized
	}
	if !amount.IsPositive() {
		return ledger.Transaction{}, &ledger.ValidationError{Field: "amount", Reason: "must be positive"}
	}

	methods, err := a.methods.PaymentMethods(ctx, accountID)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("%w: %w", ledger.ErrPersistence, err)
	}
	if len(methods) == 0 {
		return ledger.Transaction{}, ledger.ErrNoPaymentMethod
	}
	method := methods[0]

	plan, err := a.plan(ctx, claims, accountID, amount)
	if err != nil {
		return ledger.Transaction{}, err
	}

	return a.execute(ctx, claims, accountID, amount, method, plan)
}

// =============================================================================
// PLAN - Pure allocation, no writes
// =============================================================================

func (a *Allocator) plan(ctx context.Context, claims authz.Claims, accountID ledger.AccountID, amount decimal.Decimal) ([]allocation, error) {
	pending, err := a.ledger.List(ctx, claims, ledger.Filter{
		AccountID: accountID,
		Status:    ledger.StatusPending,
		Type:      ledger.TxCharge,
		Limit:     1000,
	})
	if err != nil {
		return nil, err
	}
	// Manager-scope listing ignores the account filter; re-narrow here.
	charges := pending[:0:0]
	for _, tx := range pending {
		if tx.AccountID == accountID {
			charges = append(charges, tx)
		}
	}
	if len(charges) == 0 {
		return nil, ledger.ErrNoPendingCharges
	}

	// Oldest first; creation order breaks date ties deterministically.
	sort.SliceStable(charges, func(i, j int) bool {
		if charges[i].Date.Equal(charges[j].Date) {
			return charges[i].CreatedAt.Before(charges[j].CreatedAt)
		}
		return charges[i].Date.Before(charges[j].Date)
	})

	remaining := amount
	var plan []allocation
	for _, tx := range charges {
		if !remaining.IsPositive() {
			break
		}
		apply := decimal.Min(remaining, tx.ChargeAmount)
		if !apply.IsPositive() {
			continue
		}
		plan = append(plan, allocation{tx: tx, apply: apply})
		remaining = remaining.Sub(apply)
	}

	if remaining.IsPositive() {
		return nil, &ledger.OverpaymentError{
			AccountID:   accountID,
			Requested:   amount,
			Outstanding: amount.Sub(remaining),
		}
	}
	return plan, nil
}

// =============================================================================
// EXECUTE - Step-logged writes
// =============================================================================

func (a *Allocator) execute(ctx context.Context, claims authz.Claims, accountID ledger.AccountID, amount decimal.Decimal, method ledger.PaymentMethod, plan []allocation) (ledger.Transaction, error) {
	runID, err := a.steps.BeginRun(ctx, ledger.RunPayment, string(accountID), time.Now().UTC())
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("%w: %w", ledger.ErrPersistence, err)
	}
	saga := sagaLog{op: "applyPayment", runID: runID, steps: a.steps}

	for _, alloc := range plan {
		newCharge := alloc.tx.ChargeAmount.Sub(alloc.apply)
		status := ledger.StatusPending
		if newCharge.IsZero() {
			status = ledger.StatusPaid
		}

		// The charge's stored balance is a creation-time snapshot and stays
		// untouched; the appended payment alone moves the running balance.
		_, err := a.ledger.Update(ctx, claims, alloc.tx.ID, ledger.Patch{
			ChargeAmount: &newCharge,
			Status:       &status,
		}, alloc.tx.Version)
		if err != nil {
			return ledger.Transaction{}, saga.partial(err)
		}
		if err := saga.record(ctx, "allocate", string(alloc.tx.ID)); err != nil {
			return ledger.Transaction{}, err
		}
	}

	payment, err := a.ledger.Append(ctx, claims, accountID, ledger.Draft{
		Type:          ledger.TxPayment,
		PaymentAmount: amount,
		Status:        ledger.StatusPaid,
		Method:        method.Describe(),
		Description:   fmt.Sprintf("Payment via %s (%s)", method.Type, method.Name),
		TenantID:      string(accountID),
	})
	if err != nil {
		return ledger.Transaction{}, saga.partial(err)
	}
	if err := saga.record(ctx, "payment", string(payment.ID)); err != nil {
		return ledger.Transaction{}, err
	}
	if err := a.steps.CompleteRun(ctx, runID, time.Now().UTC()); err != nil {
		return ledger.Transaction{}, saga.partial(err)
	}

	return payment, nil
}
