/*
Package billing owns the invoice aggregate and the payment allocator.

PURPOSE:
  Sits on top of the ledger package. Invoices derive their totals from
  their items, and every issued invoice is mirrored by exactly one ledger
  charge whose docNumber is the invoice number. Payments extinguish
  outstanding charges oldest-first and land as one payment transaction at
  the end of the chain.

KEY CONCEPTS IN THIS FILE (types.go):
  - Invoice / InvoiceItem: The billing aggregate
  - InvoiceDraft / ItemDraft: Caller-supplied input, totals never trusted
  - TaxRate: Fixed 8.25%

SEE ALSO:
  - invoice.go: Aggregate manager (create/update/send/list)
  - allocator.go: FIFO payment allocation
  - pdf.go: Renderer payload for the external PDF collaborator
*/
package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/billing-engine/ledger"
)

// TaxRate is the fixed tax rate applied to every invoice subtotal.
var TaxRate = decimal.RequireFromString("0.0825")

// =============================================================================
// INVOICE AGGREGATE
// =============================================================================

type InvoiceID string

type InvoiceStatus string

const (
	InvoicePending InvoiceStatus = "pending"
	InvoiceOpen    InvoiceStatus = "open"
	InvoiceClosed  InvoiceStatus = "closed"
)

// Invoice is the billing aggregate. Subtotal, Tax, and GrandTotal are
// derived from the items at save time and never taken from client input.
type Invoice struct {
	ID          InvoiceID
	Number      string // human-readable, derived from the id
	Date        time.Time
	Status      InvoiceStatus
	BillFromID  ledger.AccountID
	BillToID    ledger.AccountID
	FromAddress string
	ToAddress   string
	Description string
	Subtotal    decimal.Decimal
	Tax         decimal.Decimal
	GrandTotal  decimal.Decimal
	Building    string
	CreatedAt   time.Time
	UpdatedAt   time.Time

	Items []InvoiceItem
}

// InvoiceItem is an owned child row. Total is always recomputed as
// UnitPrice x Units.
type InvoiceItem struct {
	ID        string
	InvoiceID InvoiceID
	Name      string
	UnitPrice decimal.Decimal
	Units     decimal.Decimal
	Total     decimal.Decimal
}

// InvoiceDraft holds caller-supplied invoice fields. Totals are ignored;
// they are derived from the items.
type InvoiceDraft struct {
	Date        time.Time
	BillToID    ledger.AccountID
	FromAddress string
	ToAddress   string
	Description string
	Building    string
}

// ItemDraft is caller-supplied item input.
type ItemDraft struct {
	Name      string
	UnitPrice decimal.Decimal
	Units     decimal.Decimal
}

// InvoiceFilter narrows invoice list queries.
type InvoiceFilter struct {
	BillToID ledger.AccountID
	Limit    int
}

// =============================================================================
// STORE CONTRACT
// =============================================================================

// InvoiceStore persists invoices and their items. Items are always
// replaced wholesale on update; there is no item-level diffing.
type InvoiceStore interface {
	InsertInvoice(ctx context.Context, inv Invoice) error
	GetInvoice(ctx context.Context, id InvoiceID) (Invoice, error)
	UpdateInvoice(ctx context.Context, inv Invoice) error
	ListInvoices(ctx context.Context, f InvoiceFilter) ([]Invoice, error)

	InsertItem(ctx context.Context, item InvoiceItem) error
	ItemsByInvoice(ctx context.Context, id InvoiceID) ([]InvoiceItem, error)
	DeleteItemsByInvoice(ctx context.Context, id InvoiceID) error
}
