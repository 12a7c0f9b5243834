/*
invoice.go - Invoice aggregate manager

PURPOSE:
  Owns the Invoice + InvoiceItem aggregate and keeps it reconciled with
  the ledger: every invoice past 'pending' has exactly one linked charge
  transaction whose docNumber equals the invoice number and whose amount
  equals the grand total (until partially paid).

CREATE IS A SAGA:
  invoice row -> item rows -> linked charge transaction. The store has no
  multi-record transaction, so each committed sub-write is recorded in the
  step log. A failure after the invoice row is written surfaces a
  PartialFailureError naming the committed steps; the run stays in the
  step log as reconciliation work instead of leaving a silent orphan.

UPDATE REPLACES ITEMS WHOLESALE:
  All existing items are deleted and recreated from the supplied list.
  Totals are recomputed and the linked charge amount is adjusted when the
  grand total changed. Balances of transactions created after the linked
  charge are not retroactively corrected (snapshot semantics, see
  ledger/service.go).

SEE ALSO:
  - allocator.go: How charges get extinguished
  - ledger/service.go: Append path used for the linked charge
*/
package billing

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/billing-engine/authz"
	"github.com/warp/billing-engine/ledger"
)

// =============================================================================
// MANAGER
// =============================================================================

// Manager coordinates the invoice aggregate and its linked ledger charge.
type Manager struct {
	invoices      InvoiceStore
	ledger        *ledger.Service
	steps         ledger.StepStore
	notifications ledger.NotificationStore
}

func NewManager(invoices InvoiceStore, svc *ledger.Service, steps ledger.StepStore, notifications ledger.NotificationStore) *Manager {
	return &Manager{
		invoices:      invoices,
		ledger:        svc,
		steps:         steps,
		notifications: notifications,
	}
}

// =============================================================================
// CREATE
// =============================================================================

// Create persists a new invoice with derived totals, then its items, then
// the linked charge transaction. Authorization and validation failures are
// raised before anything is written.
func (m *Manager) Create(ctx context.Context, claims authz.Claims, d InvoiceDraft, items []ItemDraft) (Invoice, error) {
	if !claims.CanCreateInvoice() {
		return Invoice{}, ledger.ErrUnauthorized
	}
	if d.BillToID == "" {
		return Invoice{}, &ledger.ValidationError{Field: "billToId", Reason: "required"}
	}
	built, err := buildItems(items)
	if err != nil {
		return Invoice{}, err
	}

	now := time.Now().UTC()
	id := InvoiceID(uuid.NewString())
	date := d.Date
	if date.IsZero() {
		date = now.Truncate(24 * time.Hour)
	}

	inv := Invoice{
		ID:          id,
		Number:      invoiceNumber(id),
		Date:        date,
		Status:      InvoicePending,
		BillFromID:  ledger.AccountID(claims.AccountID),
		BillToID:    d.BillToID,
		FromAddress: d.FromAddress,
		ToAddress:   d.ToAddress,
		Description: d.Description,
		Building:    d.Building,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	inv.Subtotal, inv.Tax, inv.GrandTotal = totals(built)
	for i := range built {
		built[i].InvoiceID = id
	}

	runID, err := m.steps.BeginRun(ctx, ledger.RunInvoiceCreate, string(id), now)
	if err != nil {
		return Invoice{}, fmt.Errorf("%w: %w", ledger.ErrPersistence, err)
	}

	saga := sagaLog{op: "createInvoice", runID: runID, steps: m.steps}

	if err := m.invoices.InsertInvoice(ctx, inv); err != nil {
		// Nothing committed yet; no partial state to report.
		return Invoice{}, fmt.Errorf("%w: %w", ledger.ErrPersistence, err)
	}
	if err := saga.record(ctx, "invoice", string(id)); err != nil {
		return Invoice{}, err
	}

	for _, item := range built {
		if err := m.invoices.InsertItem(ctx, item); err != nil {
			return Invoice{}, saga.partial(err)
		}
	}
	if err := saga.record(ctx, "items", string(id)); err != nil {
		return Invoice{}, err
	}

	charge, err := m.ledger.Append(ctx, claims, inv.BillToID, ledger.Draft{
		Type:         ledger.TxCharge,
		Date:         inv.Date,
		DocNumber:    inv.Number,
		Description:  "Invoice: " + orNA(inv.Description),
		ChargeAmount: inv.GrandTotal,
		Status:       ledger.StatusPending,
		TenantID:     string(inv.BillToID),
		Building:     inv.Building,
	})
	if err != nil {
		return Invoice{}, saga.partial(err)
	}
	if err := saga.record(ctx, "charge", string(charge.ID)); err != nil {
		return Invoice{}, err
	}
	if err := m.steps.CompleteRun(ctx, runID, time.Now().UTC()); err != nil {
		return Invoice{}, saga.partial(err)
	}

	inv.Items = built
	return inv, nil
}

// =============================================================================
// READS
// =============================================================================

// Get returns an invoice with its items joined, or ErrNotFound. Only the
// parties to the invoice (and admins) may see it.
func (m *Manager) Get(ctx context.Context, claims authz.Claims, id InvoiceID) (Invoice, error) {
	inv, err := m.invoices.GetInvoice(ctx, id)
	if err != nil {
		return Invoice{}, err
	}
	if !m.canSee(claims, inv) {
		return Invoice{}, ledger.ErrNotFound
	}
	items, err := m.invoices.ItemsByInvoice(ctx, id)
	if err != nil {
		return Invoice{}, fmt.Errorf("%w: %w", ledger.ErrPersistence, err)
	}
	inv.Items = items
	return inv, nil
}

// List returns invoices visible to the caller, items eagerly joined,
// newest date first. Admins see all; everyone else sees invoices billed
// to them.
func (m *Manager) List(ctx context.Context, claims authz.Claims, f InvoiceFilter) ([]Invoice, error) {
	if !claims.IsAdmin() {
		f.BillToID = ledger.AccountID(claims.AccountID)
	}
	if f.Limit <= 0 {
		f.Limit = ledger.DefaultListLimit
	}
	invoices, err := m.invoices.ListInvoices(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ledger.ErrPersistence, err)
	}
	for i := range invoices {
		items, err := m.invoices.ItemsByInvoice(ctx, invoices[i].ID)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ledger.ErrPersistence, err)
		}
		invoices[i].Items = items
	}
	sort.SliceStable(invoices, func(i, j int) bool {
		return invoices[i].Date.After(invoices[j].Date)
	})
	return invoices, nil
}

// =============================================================================
// UPDATE
// =============================================================================

// Update replaces the invoice's items wholesale, recomputes totals, and
// reconciles the linked charge transaction when the grand total moved.
func (m *Manager) Update(ctx context.Context, claims authz.Claims, id InvoiceID, d InvoiceDraft, items []ItemDraft) (Invoice, error) {
	if !claims.CanEditInvoice() {
		return Invoice{}, ledger.ErrUnauthorized
	}
	inv, err := m.invoices.GetInvoice(ctx, id)
	if err != nil {
		return Invoice{}, err
	}
	built, err := buildItems(items)
	if err != nil {
		return Invoice{}, err
	}

	if !d.Date.IsZero() {
		inv.Date = d.Date
	}
	if d.FromAddress != "" {
		inv.FromAddress = d.FromAddress
	}
	if d.ToAddress != "" {
		inv.ToAddress = d.ToAddress
	}
	if d.Description != "" {
		inv.Description = d.Description
	}
	if d.Building != "" {
		inv.Building = d.Building
	}
	inv.Subtotal, inv.Tax, inv.GrandTotal = totals(built)
	inv.UpdatedAt = time.Now().UTC()
	for i := range built {
		built[i].InvoiceID = id
	}

	if err := m.invoices.UpdateInvoice(ctx, inv); err != nil {
		return Invoice{}, fmt.Errorf("%w: %w", ledger.ErrPersistence, err)
	}

	// Full replace: delete all existing items, recreate from input.
	if err := m.invoices.DeleteItemsByInvoice(ctx, id); err != nil {
		return Invoice{}, fmt.Errorf("%w: %w", ledger.ErrPersistence, err)
	}
	for _, item := range built {
		if err := m.invoices.InsertItem(ctx, item); err != nil {
			return Invoice{}, fmt.Errorf("%w: %w", ledger.ErrPersistence, err)
		}
	}

	if err := m.reconcileCharge(ctx, claims, inv); err != nil {
		return Invoice{}, err
	}

	inv.Items = built
	return inv, nil
}

// reconcileCharge adjusts the linked charge's amount to the invoice's new
// grand total. The charge's own balance and later balances stay as-is.
func (m *Manager) reconcileCharge(ctx context.Context, claims authz.Claims, inv Invoice) error {
	rows, err := m.ledger.List(ctx, claims, ledger.Filter{
		AccountID: inv.BillToID,
		DocNumber: inv.Number,
		Limit:     1,
	})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		// No linked charge; the create saga never reached the charge step.
		return nil
	}
	tx := rows[0]
	if tx.ChargeAmount.Equal(inv.GrandTotal) {
		return nil
	}
	amount := inv.GrandTotal
	_, err = m.ledger.Update(ctx, claims, tx.ID, ledger.Patch{ChargeAmount: &amount}, tx.Version)
	return err
}

// =============================================================================
// SEND
// =============================================================================

// Send opens the invoice and notifies the bill-to party. The notification
// is fire-and-forget: a sink failure does not unwind the status change.
func (m *Manager) Send(ctx context.Context, claims authz.Claims, id InvoiceID) (Invoice, error) {
	if !claims.CanSendInvoice() {
		return Invoice{}, ledger.ErrUnauthorized
	}
	inv, err := m.Get(ctx, claims, id)
	if err != nil {
		return Invoice{}, err
	}

	inv.Status = InvoiceOpen
	inv.UpdatedAt = time.Now().UTC()
	if err := m.invoices.UpdateInvoice(ctx, inv); err != nil {
		return Invoice{}, fmt.Errorf("%w: %w", ledger.ErrPersistence, err)
	}

	_ = m.notifications.AddNotification(ctx, ledger.Notification{
		ID:          uuid.NewString(),
		RecipientID: inv.BillToID,
		Content:     fmt.Sprintf("New invoice %s from %s", inv.Number, inv.BillFromID),
		Type:        "invoice",
		CreatedAt:   time.Now().UTC(),
	})

	return inv, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (m *Manager) canSee(claims authz.Claims, inv Invoice) bool {
	if claims.IsAdmin() {
		return true
	}
	caller := ledger.AccountID(claims.AccountID)
	return caller != "" && (caller == inv.BillToID || caller == inv.BillFromID)
}

// invoiceNumber derives the human-readable number from the invoice id.
func invoiceNumber(id InvoiceID) string {
	s := string(id)
	if len(s) > 8 {
		s = s[:8]
	}
	return "INV-" + strings.ToUpper(s)
}

// buildItems validates the drafts and recomputes every item total.
// Client-supplied totals are never trusted.
func buildItems(items []ItemDraft) ([]InvoiceItem, error) {
	built := make([]InvoiceItem, 0, len(items))
	for i, d := range items {
		if d.Name == "" {
			return nil, &ledger.ValidationError{Field: fmt.Sprintf("items[%d].name", i), Reason: "required"}
		}
		if d.UnitPrice.IsNegative() {
			return nil, &ledger.ValidationError{Field: fmt.Sprintf("items[%d].unitPrice", i), Reason: "must not be negative"}
		}
		if d.Units.IsNegative() {
			return nil, &ledger.ValidationError{Field: fmt.Sprintf("items[%d].units", i), Reason: "must not be negative"}
		}
		built = append(built, InvoiceItem{
			ID:        uuid.NewString(),
			Name:      d.Name,
			UnitPrice: d.UnitPrice,
			Units:     d.Units,
			Total:     d.UnitPrice.Mul(d.Units),
		})
	}
	return built, nil
}

// totals derives subtotal, tax, and grand total from the items.
func totals(items []InvoiceItem) (subtotal, tax, grand decimal.Decimal) {
	subtotal = decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.Total)
	}
	tax = subtotal.Mul(TaxRate)
	grand = subtotal.Add(tax)
	return subtotal, tax, grand
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

// =============================================================================
// SAGA LOG HELPER
// =============================================================================

// sagaLog tracks committed sub-steps of a multi-write sequence and wraps
// mid-sequence failures as PartialFailureError.
type sagaLog struct {
	op        string
	runID     string
	steps     ledger.StepStore
	completed []string
	seq       int
}

func (s *sagaLog) record(ctx context.Context, name, targetID string) error {
	s.seq++
	if err := s.steps.RecordStep(ctx, s.runID, s.seq, name, targetID, time.Now().UTC()); err != nil {
		return s.partial(err)
	}
	s.completed = append(s.completed, name)
	return nil
}

func (s *sagaLog) partial(err error) error {
	return &ledger.PartialFailureError{
		Op:        s.op,
		RunID:     s.runID,
		Completed: append([]string(nil), s.completed...),
		Err:       err,
	}
}
