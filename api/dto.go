/*
dto.go - Request/response data structures for the billing API

PURPOSE:
  JSON shapes exchanged with clients. Amounts travel as decimal strings;
  dates as YYYY-MM-DD. Totals are never accepted from clients (the invoice
  manager derives them), so the invoice request DTO carries no total
  fields at all.

SEE ALSO:
  - handlers.go: Where these are parsed and produced
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/ledger"
)

const dateLayout = "2006-01-02"

// =============================================================================
// TRANSACTIONS
// =============================================================================

type TransactionDTO struct {
	ID                 string `json:"id"`
	AccountID          string `json:"account_id"`
	Type               string `json:"type"`
	Date               string `json:"date"`
	DocNumber          string `json:"doc_number,omitempty"`
	Description        string `json:"description,omitempty"`
	ChargeAmount       string `json:"charge_amount"`
	PaymentAmount      string `json:"payment_amount"`
	Balance            string `json:"balance"`
	ConfirmationNumber string `json:"confirmation_number,omitempty"`
	Method             string `json:"method,omitempty"`
	Status             string `json:"status"`
	Category           string `json:"category,omitempty"`
	Reconciled         bool   `json:"reconciled"`
	Building           string `json:"building,omitempty"`
	Version            int64  `json:"version"`
	CreatedAt          string `json:"created_at"`
	UpdatedAt          string `json:"updated_at"`
}

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:                 string(tx.ID),
		AccountID:          string(tx.AccountID),
		Type:               string(tx.Type),
		Date:               tx.Date.Format(dateLayout),
		DocNumber:          tx.DocNumber,
		Description:        tx.Description,
		ChargeAmount:       tx.ChargeAmount.String(),
		PaymentAmount:      tx.PaymentAmount.String(),
		Balance:            tx.Balance.String(),
		ConfirmationNumber: tx.ConfirmationNumber,
		Method:             tx.Method,
		Status:             string(tx.Status),
		Category:           tx.Category,
		Reconciled:         tx.Reconciled,
		Building:           tx.Building,
		Version:            tx.Version,
		CreatedAt:          tx.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:          tx.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func toTransactionDTOs(txs []ledger.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	return dtos
}

// CreateTransactionRequest is the append payload.
type CreateTransactionRequest struct {
	AccountID     string `json:"account_id"`
	Type          string `json:"type"`
	Date          string `json:"date,omitempty"`
	DocNumber     string `json:"doc_number,omitempty"`
	Description   string `json:"description,omitempty"`
	ChargeAmount  string `json:"charge_amount,omitempty"`
	PaymentAmount string `json:"payment_amount,omitempty"`
	Status        string `json:"status,omitempty"`
	Method        string `json:"method,omitempty"`
	Category      string `json:"category,omitempty"`
	TenantID      string `json:"tenant_id,omitempty"`
	Building      string `json:"building,omitempty"`
}

// UpdateTransactionRequest is a partial edit; absent fields are untouched.
// Version carries the expected version for the check-and-set; zero means
// "whatever is stored now".
type UpdateTransactionRequest struct {
	Date          *string `json:"date,omitempty"`
	Description   *string `json:"description,omitempty"`
	ChargeAmount  *string `json:"charge_amount,omitempty"`
	PaymentAmount *string `json:"payment_amount,omitempty"`
	Status        *string `json:"status,omitempty"`
	Category      *string `json:"category,omitempty"`
	Reconciled    *bool   `json:"reconciled,omitempty"`
	Version       int64   `json:"version,omitempty"`
}

// =============================================================================
// BALANCES / SUMMARIES
// =============================================================================

type BalanceDTO struct {
	AccountID string `json:"account_id"`
	Balance   string `json:"balance"`
}

type UnpaidDTO struct {
	AccountID string `json:"account_id"`
	Unpaid    string `json:"unpaid"`
}

type SummaryDTO struct {
	AccountID  string            `json:"account_id"`
	Period     string            `json:"period"`
	Total      string            `json:"total"`
	ByCategory map[string]string `json:"by_category"`
}

// =============================================================================
// PAYMENTS
// =============================================================================

type ApplyPaymentRequest struct {
	Amount string `json:"amount"`
}

type RegisterPaymentMethodRequest struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

type PaymentMethodDTO struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	Type      string `json:"type"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
}

// =============================================================================
// INVOICES
// =============================================================================

type InvoiceItemDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	UnitPrice string `json:"unit_price"`
	Units     string `json:"units"`
	Total     string `json:"total"`
}

type InvoiceDTO struct {
	ID          string           `json:"id"`
	Number      string           `json:"number"`
	Date        string           `json:"date"`
	Status      string           `json:"status"`
	BillFromID  string           `json:"bill_from_id"`
	BillToID    string           `json:"bill_to_id"`
	FromAddress string           `json:"from_address,omitempty"`
	ToAddress   string           `json:"to_address,omitempty"`
	Description string           `json:"description,omitempty"`
	Subtotal    string           `json:"subtotal"`
	Tax         string           `json:"tax"`
	GrandTotal  string           `json:"grand_total"`
	Building    string           `json:"building,omitempty"`
	Items       []InvoiceItemDTO `json:"items"`
	CreatedAt   string           `json:"created_at"`
	UpdatedAt   string           `json:"updated_at"`
}

func toInvoiceDTO(inv billing.Invoice) InvoiceDTO {
	items := make([]InvoiceItemDTO, len(inv.Items))
	for i, item := range inv.Items {
		items[i] = InvoiceItemDTO{
			ID:        item.ID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice.String(),
			Units:     item.Units.String(),
			Total:     item.Total.String(),
		}
	}
	return InvoiceDTO{
		ID:          string(inv.ID),
		Number:      inv.Number,
		Date:        inv.Date.Format(dateLayout),
		Status:      string(inv.Status),
		BillFromID:  string(inv.BillFromID),
		BillToID:    string(inv.BillToID),
		FromAddress: inv.FromAddress,
		ToAddress:   inv.ToAddress,
		Description: inv.Description,
		Subtotal:    inv.Subtotal.String(),
		Tax:         inv.Tax.String(),
		GrandTotal:  inv.GrandTotal.String(),
		Building:    inv.Building,
		Items:       items,
		CreatedAt:   inv.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:   inv.UpdatedAt.Format(time.RFC3339Nano),
	}
}

// InvoiceItemRequest deliberately has no total field.
type InvoiceItemRequest struct {
	Name      string `json:"name"`
	UnitPrice string `json:"unit_price"`
	Units     string `json:"units"`
}

type InvoiceRequest struct {
	Date        string               `json:"date,omitempty"`
	BillToID    string               `json:"bill_to_id"`
	FromAddress string               `json:"from_address,omitempty"`
	ToAddress   string               `json:"to_address,omitempty"`
	Description string               `json:"description,omitempty"`
	Building    string               `json:"building,omitempty"`
	Items       []InvoiceItemRequest `json:"items"`
}

// =============================================================================
// CONTACTS
// =============================================================================

type ContactDTO struct {
	ID        string `json:"id"`
	ContactID string `json:"contact_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

// =============================================================================
// ERRORS
// =============================================================================

type ErrorResponse struct {
	Error   string   `json:"error"`
	Details string   `json:"details,omitempty"`
	Steps   []string `json:"completed_steps,omitempty"` // partial failures only
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(dateLayout, s)
}
