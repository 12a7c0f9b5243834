package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/ledger"
	"github.com/warp/billing-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func sampleTx(id, account string, created time.Time) ledger.Transaction {
	return ledger.Transaction{
		ID:            ledger.TransactionID(id),
		AccountID:     ledger.AccountID(account),
		Type:          ledger.TxCharge,
		Date:          created.Truncate(24 * time.Hour),
		ChargeAmount:  dec("100.50"),
		PaymentAmount: decimal.Zero,
		Balance:       dec("100.50"),
		Status:        ledger.StatusPending,
		Version:       1,
		CreatedAt:     created,
		UpdatedAt:     created,
	}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestTransactions_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	tx := sampleTx("tx-1", "acct-1", now)
	tx.DocNumber = "INV-ABC"
	tx.Building = "b1"

	require.NoError(t, store.Insert(ctx, tx))

	got, err := store.Get(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, tx.AccountID, got.AccountID)
	assert.Equal(t, tx.DocNumber, got.DocNumber)
	assert.Equal(t, tx.Building, got.Building)
	assert.True(t, got.ChargeAmount.Equal(dec("100.50")), "exact decimal round-trip")
	assert.True(t, got.CreatedAt.Equal(now), "nanosecond timestamp round-trip")
}

func TestTransactions_GetMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestTransactions_VersionedUpdate(t *testing.T) {
	// GIVEN: a stored row at version 1
	// WHEN: updating with the right and then a stale expected version
	// THEN: first bumps to 2, second gets ErrConcurrencyConflict

	store := newTestStore(t)
	ctx := context.Background()

	tx := sampleTx("tx-1", "acct-1", time.Now().UTC())
	require.NoError(t, store.Insert(ctx, tx))

	tx.Description = "edited"
	updated, err := store.Update(ctx, tx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, "edited", updated.Description)

	_, err = store.Update(ctx, tx, 1)
	assert.ErrorIs(t, err, ledger.ErrConcurrencyConflict)

	tx.ID = "ghost"
	_, err = store.Update(ctx, tx, 1)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestTransactions_ListFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	a := sampleTx("tx-1", "acct-1", base)
	a.DocNumber = "INV-AAAA1111"
	b := sampleTx("tx-2", "acct-1", base.Add(time.Minute))
	b.Status = ledger.StatusPaid
	c := sampleTx("tx-3", "acct-2", base.Add(2*time.Minute))
	require.NoError(t, store.Insert(ctx, a))
	require.NoError(t, store.Insert(ctx, b))
	require.NoError(t, store.Insert(ctx, c))

	rows, err := store.List(ctx, ledger.Filter{AccountID: "acct-1"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, ledger.TransactionID("tx-1"), rows[0].ID, "creation order")

	rows, err = store.List(ctx, ledger.Filter{Status: ledger.StatusPaid})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, ledger.TransactionID("tx-2"), rows[0].ID)

	rows, err = store.List(ctx, ledger.Filter{DocNumber: "INV-AAAA1111"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, ledger.TransactionID("tx-1"), rows[0].ID)
}

func TestTransactions_LastByCreatedAndAccounts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, ok, err := store.LastByCreated(ctx, "acct-1")
	require.NoError(t, err)
	assert.False(t, ok, "empty account")

	base := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Insert(ctx, sampleTx("tx-1", "acct-1", base)))
	require.NoError(t, store.Insert(ctx, sampleTx("tx-2", "acct-1", base.Add(time.Second))))
	require.NoError(t, store.Insert(ctx, sampleTx("tx-3", "acct-2", base)))

	last, ok, err := store.LastByCreated(ctx, "acct-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ledger.TransactionID("tx-2"), last.ID)

	accounts, err := store.Accounts(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []ledger.AccountID{"acct-1", "acct-2"}, accounts)
}

// =============================================================================
// INVOICES
// =============================================================================

func TestInvoices_RoundTripAndItemReplace(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	inv := billing.Invoice{
		ID:         "inv-1",
		Number:     "INV-0001",
		Date:       now.Truncate(24 * time.Hour),
		Status:     billing.InvoicePending,
		BillFromID: "owner-1",
		BillToID:   "tenant-1",
		Subtotal:   dec("250"),
		Tax:        dec("20.625"),
		GrandTotal: dec("270.625"),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, store.InsertInvoice(ctx, inv))
	require.NoError(t, store.InsertItem(ctx, billing.InvoiceItem{
		ID: "item-1", InvoiceID: "inv-1", Name: "A", UnitPrice: dec("100"), Units: dec("2"), Total: dec("200"),
	}))
	require.NoError(t, store.InsertItem(ctx, billing.InvoiceItem{
		ID: "item-2", InvoiceID: "inv-1", Name: "B", UnitPrice: dec("50"), Units: dec("1"), Total: dec("50"),
	}))

	got, err := store.GetInvoice(ctx, "inv-1")
	require.NoError(t, err)
	assert.True(t, got.GrandTotal.Equal(dec("270.625")))

	items, err := store.ItemsByInvoice(ctx, "inv-1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "A", items[0].Name, "insertion order")

	// Wholesale replace
	require.NoError(t, store.DeleteItemsByInvoice(ctx, "inv-1"))
	require.NoError(t, store.InsertItem(ctx, billing.InvoiceItem{
		ID: "item-3", InvoiceID: "inv-1", Name: "C", UnitPrice: dec("80"), Units: dec("1"), Total: dec("80"),
	}))
	items, err = store.ItemsByInvoice(ctx, "inv-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "C", items[0].Name)

	invoices, err := store.ListInvoices(ctx, billing.InvoiceFilter{BillToID: "tenant-1"})
	require.NoError(t, err)
	assert.Len(t, invoices, 1)
}

// =============================================================================
// STEP LOG
// =============================================================================

func TestStepLog_RunLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	runID, err := store.BeginRun(ctx, ledger.RunPayment, "acct-1", now)
	require.NoError(t, err)
	require.NoError(t, store.RecordStep(ctx, runID, 1, "allocate", "tx-1", now))
	require.NoError(t, store.RecordStep(ctx, runID, 2, "payment", "tx-2", now))

	open, err := store.IncompleteRuns(ctx, ledger.RunPayment)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, runID, open[0].ID)

	steps, err := store.Steps(ctx, runID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "allocate", steps[0].Name)
	assert.Equal(t, "payment", steps[1].Name)

	require.NoError(t, store.CompleteRun(ctx, runID, now.Add(time.Second)))
	open, err = store.IncompleteRuns(ctx, ledger.RunPayment)
	require.NoError(t, err)
	assert.Empty(t, open)
}

// =============================================================================
// COLLABORATORS
// =============================================================================

func TestPaymentMethodsAndContacts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.AddPaymentMethod(ctx, ledger.PaymentMethod{
		ID: "pm-1", AccountID: "acct-1", Type: "card", Name: "Visa", CreatedAt: now,
	}))
	methods, err := store.PaymentMethods(ctx, "acct-1")
	require.NoError(t, err)
	require.Len(t, methods, 1)
	assert.Equal(t, "card-Visa", methods[0].Describe())

	require.NoError(t, store.AddContact(ctx, ledger.Contact{
		ID: "c-1", OwnerID: "acct-1", ContactID: "acct-2", FirstName: "Pat", Email: "pat@example.com", CreatedAt: now,
	}))
	contacts, err := store.ContactsByOwner(ctx, "acct-1")
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, ledger.AccountID("acct-2"), contacts[0].ContactID)

	require.NoError(t, store.AddNotification(ctx, ledger.Notification{
		ID: "n-1", RecipientID: "acct-2", Content: "New invoice INV-0001", Type: "invoice", CreatedAt: now,
	}))
	notifs, err := store.NotificationsByRecipient(ctx, "acct-2")
	require.NoError(t, err)
	require.Len(t, notifs, 1)
}
