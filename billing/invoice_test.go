package billing_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
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

func newTestManager(t *testing.T) (*billing.Manager, *ledger.Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	svc := ledger.NewService(store)
	return billing.NewManager(store, svc, store, store), svc, store
}

func adminClaims() authz.Claims {
	return authz.WithRoles("admin-1", []authz.Role{authz.RoleAdmin})
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func twoItems() []billing.ItemDraft {
	return []billing.ItemDraft{
		{Name: "Consulting", UnitPrice: dec("100"), Units: dec("2")},
		{Name: "Materials", UnitPrice: dec("50"), Units: dec("1")},
	}
}

// =============================================================================
// CREATE
// =============================================================================

func TestCreate_DerivesTotalsAndLinksCharge(t *testing.T) {
	// GIVEN: items [{100 x 2}, {50 x 1}]
	// WHEN: creating the invoice
	// THEN: subtotal 250, tax 20.625, grand total 270.625, and exactly one
	//       pending charge whose docNumber is the invoice number

	mgr, svc, _ := newTestManager(t)
	ctx := context.Background()
	claims := adminClaims()

	inv, err := mgr.Create(ctx, claims, billing.InvoiceDraft{BillToID: "tenant-1"}, twoItems())
	require.NoError(t, err)

	assert.True(t, inv.Subtotal.Equal(dec("250")), "subtotal %s", inv.Subtotal)
	assert.True(t, inv.Tax.Equal(dec("20.625")), "tax %s", inv.Tax)
	assert.True(t, inv.GrandTotal.Equal(dec("270.625")), "grand %s", inv.GrandTotal)
	assert.Equal(t, billing.InvoicePending, inv.Status)
	assert.Contains(t, inv.Number, "INV-")
	require.Len(t, inv.Items, 2)
	assert.True(t, inv.Items[0].Total.Equal(dec("200")))

	rows, err := svc.List(ctx, claims, ledger.Filter{AccountID: "tenant-1"})
	require.NoError(t, err)

	var charges []ledger.Transaction
	for _, tx := range rows {
		if tx.DocNumber == inv.Number {
			charges = append(charges, tx)
		}
	}
	require.Len(t, charges, 1, "exactly one linked charge")
	assert.Equal(t, ledger.TxCharge, charges[0].Type)
	assert.Equal(t, ledger.StatusPending, charges[0].Status)
	assert.True(t, charges[0].ChargeAmount.Equal(dec("270.625")))
}

func TestCreate_RequiresBillTo(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	_, err := mgr.Create(context.Background(), adminClaims(), billing.InvoiceDraft{}, twoItems())
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestCreate_RejectsUnauthorized(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	user := authz.WithRoles("user-1", []authz.Role{authz.RoleUser})

	_, err := mgr.Create(context.Background(), user, billing.InvoiceDraft{BillToID: "tenant-1"}, twoItems())
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)
}

func TestCreate_RecordsSagaSteps(t *testing.T) {
	// The create saga logs invoice -> items -> charge and completes the run.
	mgr, _, store := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.Create(ctx, adminClaims(), billing.InvoiceDraft{BillToID: "tenant-1"}, twoItems())
	require.NoError(t, err)

	open, err := store.IncompleteRuns(ctx, ledger.RunInvoiceCreate)
	require.NoError(t, err)
	assert.Empty(t, open, "completed run must leave the work queue")
}

// =============================================================================
// UPDATE
// =============================================================================

func TestUpdate_ReplacesItemsWholesale(t *testing.T) {
	// GIVEN: an invoice with two items
	// WHEN: updating with one different item
	// THEN: old items are gone, totals recomputed, charge reconciled

	mgr, svc, _ := newTestManager(t)
	ctx := context.Background()
	claims := adminClaims()

	inv, err := mgr.Create(ctx, claims, billing.InvoiceDraft{BillToID: "tenant-1"}, twoItems())
	require.NoError(t, err)

	updated, err := mgr.Update(ctx, claims, inv.ID, billing.InvoiceDraft{}, []billing.ItemDraft{
		{Name: "Flat fee", UnitPrice: dec("80"), Units: dec("1")},
	})
	require.NoError(t, err)

	require.Len(t, updated.Items, 1)
	assert.Equal(t, "Flat fee", updated.Items[0].Name)
	assert.True(t, updated.Subtotal.Equal(dec("80")))
	assert.True(t, updated.GrandTotal.Equal(dec("86.6")), "grand %s", updated.GrandTotal)

	// Round-trip through the store shows no leftovers.
	fetched, err := mgr.Get(ctx, claims, inv.ID)
	require.NoError(t, err)
	require.Len(t, fetched.Items, 1)

	// Linked charge now carries the new grand total.
	rows, err := svc.List(ctx, claims, ledger.Filter{AccountID: "tenant-1", DocNumber: inv.Number})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].ChargeAmount.Equal(dec("86.6")), "charge %s", rows[0].ChargeAmount)
}

func TestUpdate_AdminOnly(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	inv, err := mgr.Create(ctx, adminClaims(), billing.InvoiceDraft{BillToID: "tenant-1"}, twoItems())
	require.NoError(t, err)

	manager := authz.WithRoles("mgr-1", []authz.Role{authz.RoleManager}, "b1")
	_, err = mgr.Update(ctx, manager, inv.ID, billing.InvoiceDraft{}, twoItems())
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)
}

// =============================================================================
// VISIBILITY
// =============================================================================

func TestGet_OnlyPartiesAndAdmins(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	inv, err := mgr.Create(ctx, adminClaims(), billing.InvoiceDraft{BillToID: "tenant-1"}, twoItems())
	require.NoError(t, err)

	billTo := authz.WithRoles("tenant-1", []authz.Role{authz.RoleUser})
	got, err := mgr.Get(ctx, billTo, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, inv.ID, got.ID)

	stranger := authz.WithRoles("stranger", []authz.Role{authz.RoleUser})
	_, err = mgr.Get(ctx, stranger, inv.ID)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestList_NonAdminSeesOwnInvoices(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()
	claims := adminClaims()

	_, err := mgr.Create(ctx, claims, billing.InvoiceDraft{BillToID: "tenant-1"}, twoItems())
	require.NoError(t, err)
	_, err = mgr.Create(ctx, claims, billing.InvoiceDraft{BillToID: "tenant-2"}, twoItems())
	require.NoError(t, err)

	tenant := authz.WithRoles("tenant-1", []authz.Role{authz.RoleUser})
	invoices, err := mgr.List(ctx, tenant, billing.InvoiceFilter{})
	require.NoError(t, err)

	require.Len(t, invoices, 1)
	assert.Equal(t, ledger.AccountID("tenant-1"), invoices[0].BillToID)
	assert.Len(t, invoices[0].Items, 2, "items eagerly joined")
}

// =============================================================================
// SEND
// =============================================================================

func TestSend_OpensAndNotifies(t *testing.T) {
	mgr, _, store := newTestManager(t)
	ctx := context.Background()
	claims := adminClaims()

	inv, err := mgr.Create(ctx, claims, billing.InvoiceDraft{BillToID: "tenant-1"}, twoItems())
	require.NoError(t, err)

	sent, err := mgr.Send(ctx, claims, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.InvoiceOpen, sent.Status)

	notifs, err := store.NotificationsByRecipient(ctx, "tenant-1")
	require.NoError(t, err)
	require.Len(t, notifs, 1)
	assert.Contains(t, notifs[0].Content, inv.Number)
}

// =============================================================================
// DOCUMENT PAYLOAD
// =============================================================================

func TestBuildDocument_CarriesInvoiceFields(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	inv, err := mgr.Create(ctx, adminClaims(), billing.InvoiceDraft{
		BillToID:    "tenant-1",
		FromAddress: "1 Main St",
		ToAddress:   "2 Oak Ave",
		Description: "May services",
	}, twoItems())
	require.NoError(t, err)

	doc := billing.BuildDocument(inv)
	assert.Equal(t, inv.Number, doc.InvoiceNumber)
	assert.Len(t, doc.Items, 2)
	assert.True(t, doc.GrandTotal.Equal(dec("270.625")))

	data, contentType, err := billing.TextRenderer{}.Render(doc)
	require.NoError(t, err)
	assert.Contains(t, string(data), inv.Number)
	assert.Contains(t, contentType, "text/plain")
}
