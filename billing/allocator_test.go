package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/billing-engine/authz"
	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/ledger"
	"github.com/warp/billing-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestAllocator(t *testing.T) (*billing.Allocator, *ledger.Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	svc := ledger.NewService(store)
	return billing.NewAllocator(svc, store, store), svc, store
}

func registerMethod(t *testing.T, store *memory.Store, accountID ledger.AccountID) {
	t.Helper()
	err := store.AddPaymentMethod(context.Background(), ledger.PaymentMethod{
		ID:        "pm-1",
		AccountID: accountID,
		Type:      "card",
		Name:      "Visa 4242",
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
}

func addCharge(t *testing.T, svc *ledger.Service, accountID ledger.AccountID, amount string, date time.Time) ledger.Transaction {
	t.Helper()
	tx, err := svc.Append(context.Background(), adminClaims(), accountID, ledger.Draft{
		Type:         ledger.TxCharge,
		Date:         date,
		ChargeAmount: dec(amount),
		Status:       ledger.StatusPending,
	})
	require.NoError(t, err)
	return tx
}

// =============================================================================
// PRECONDITIONS
// =============================================================================

func TestApplyPayment_NoPaymentMethod(t *testing.T) {
	alloc, svc, _ := newTestAllocator(t)

	addCharge(t, svc, "acct-1", "100", time.Now())

	_, err := alloc.ApplyPayment(context.Background(), adminClaims(), "acct-1", dec("100"))
	assert.ErrorIs(t, err, ledger.ErrNoPaymentMethod)
}

func TestApplyPayment_NoPendingCharges(t *testing.T) {
	alloc, _, store := newTestAllocator(t)
	registerMethod(t, store, "acct-1")

	_, err := alloc.ApplyPayment(context.Background(), adminClaims(), "acct-1", dec("100"))
	assert.ErrorIs(t, err, ledger.ErrNoPendingCharges)
}

func TestApplyPayment_RejectsNonPositiveAmount(t *testing.T) {
	alloc, _, _ := newTestAllocator(t)

	_, err := alloc.ApplyPayment(context.Background(), adminClaims(), "acct-1", dec("0"))
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestApplyPayment_Overpayment_NoWrites(t *testing.T) {
	// GIVEN: 100 outstanding
	// WHEN: paying 150
	// THEN: typed overpayment error, no payment transaction, charge untouched

	alloc, svc, store := newTestAllocator(t)
	ctx := context.Background()
	claims := adminClaims()
	registerMethod(t, store, "acct-1")
	charge := addCharge(t, svc, "acct-1", "100", time.Now())

	_, err := alloc.ApplyPayment(ctx, claims, "acct-1", dec("150"))

	var overpay *ledger.OverpaymentError
	require.ErrorAs(t, err, &overpay)
	assert.True(t, overpay.Requested.Equal(dec("150")))
	assert.True(t, overpay.Outstanding.Equal(dec("100")))

	rows, err := svc.List(ctx, claims, ledger.Filter{AccountID: "acct-1"})
	require.NoError(t, err)
	require.Len(t, rows, 1, "no payment transaction was appended")
	after, err := svc.Get(ctx, claims, charge.ID)
	require.NoError(t, err)
	assert.True(t, after.ChargeAmount.Equal(dec("100")), "charge mutated on overpayment")
	assert.Equal(t, ledger.StatusPending, after.Status)
}

// =============================================================================
// ALLOCATION
// =============================================================================

func TestApplyPayment_ExactAmount_ExtinguishesAll(t *testing.T) {
	// GIVEN: pending charges 60 and 40
	// WHEN: paying exactly 100
	// THEN: both charges paid at zero, one payment transaction appended

	alloc, svc, store := newTestAllocator(t)
	ctx := context.Background()
	claims := adminClaims()
	registerMethod(t, store, "acct-1")

	jan := time.Date(2026, time.January, 5, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2026, time.February, 5, 0, 0, 0, 0, time.UTC)
	c1 := addCharge(t, svc, "acct-1", "60", jan)
	c2 := addCharge(t, svc, "acct-1", "40", feb)

	payment, err := alloc.ApplyPayment(ctx, claims, "acct-1", dec("100"))
	require.NoError(t, err)

	assert.Equal(t, ledger.TxPayment, payment.Type)
	assert.Equal(t, ledger.StatusPaid, payment.Status)
	assert.True(t, payment.PaymentAmount.Equal(dec("100")))
	assert.Equal(t, "card-Visa 4242", payment.Method)

	for _, id := range []ledger.TransactionID{c1.ID, c2.ID} {
		after, err := svc.Get(ctx, claims, id)
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusPaid, after.Status)
		assert.True(t, after.ChargeAmount.IsZero())
	}

	rows, err := svc.List(ctx, claims, ledger.Filter{AccountID: "acct-1", Type: ledger.TxPayment})
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	// Payment chained at the end: balance dropped by the full amount.
	balance, err := svc.CurrentBalance(ctx, claims, "acct-1")
	require.NoError(t, err)
	assert.True(t, balance.IsZero(), "got %s", balance)
}

func TestApplyPayment_PartialOldestFirst(t *testing.T) {
	// GIVEN: charges 60 (January) and 40 (February)
	// WHEN: paying 80
	// THEN: January extinguished, February reduced to 20, still pending

	alloc, svc, store := newTestAllocator(t)
	ctx := context.Background()
	claims := adminClaims()
	registerMethod(t, store, "acct-1")

	jan := time.Date(2026, time.January, 5, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2026, time.February, 5, 0, 0, 0, 0, time.UTC)
	c1 := addCharge(t, svc, "acct-1", "60", jan)
	c2 := addCharge(t, svc, "acct-1", "40", feb)

	_, err := alloc.ApplyPayment(ctx, claims, "acct-1", dec("80"))
	require.NoError(t, err)

	first, err := svc.Get(ctx, claims, c1.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPaid, first.Status)
	assert.True(t, first.ChargeAmount.IsZero())

	second, err := svc.Get(ctx, claims, c2.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, second.Status)
	assert.True(t, second.ChargeAmount.Equal(dec("20")), "got %s", second.ChargeAmount)

	unpaid, err := svc.UnpaidBalance(ctx, claims, "acct-1")
	require.NoError(t, err)
	assert.True(t, unpaid.Equal(dec("20")))
}

func TestApplyPayment_ChargeBalancesStaySnapshots(t *testing.T) {
	// GIVEN: a pending charge with stored balance 100
	// WHEN: the allocator extinguishes it
	// THEN: the charge keeps its creation-time balance; only the appended
	//       payment moves the running balance

	alloc, svc, store := newTestAllocator(t)
	ctx := context.Background()
	claims := adminClaims()
	registerMethod(t, store, "acct-1")
	charge := addCharge(t, svc, "acct-1", "100", time.Now())

	_, err := alloc.ApplyPayment(ctx, claims, "acct-1", dec("100"))
	require.NoError(t, err)

	after, err := svc.Get(ctx, claims, charge.ID)
	require.NoError(t, err)
	assert.True(t, after.Balance.Equal(dec("100")), "stored balance rewritten to %s", after.Balance)

	balance, err := svc.CurrentBalance(ctx, claims, "acct-1")
	require.NoError(t, err)
	assert.True(t, balance.IsZero(), "got %s", balance)
}

func TestApplyPayment_CompletesRun(t *testing.T) {
	alloc, svc, store := newTestAllocator(t)
	ctx := context.Background()
	registerMethod(t, store, "acct-1")
	addCharge(t, svc, "acct-1", "50", time.Now())

	_, err := alloc.ApplyPayment(ctx, adminClaims(), "acct-1", dec("50"))
	require.NoError(t, err)

	open, err := store.IncompleteRuns(ctx, ledger.RunPayment)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestApplyPayment_RejectsUnauthorized(t *testing.T) {
	alloc, _, _ := newTestAllocator(t)
	user := authz.WithRoles("user-1", []authz.Role{authz.RoleUser})

	_, err := alloc.ApplyPayment(context.Background(), user, "user-1", dec("10"))
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)
}
