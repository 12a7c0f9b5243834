/*
handlers.go - HTTP handlers for the billing engine

PURPOSE:
  Exposes the ledger, invoice manager, and payment allocator over REST.
  Handles JSON parsing and the error-to-status mapping; all authorization
  and domain rules live below this layer.

ERROR MAPPING:
  400  validation errors
  401  missing identity (middleware)
  402  payment preconditions (no method, no pending charges, overpayment)
  403  capability check failed
  404  not found (including rows hidden by visibility)
  409  version check-and-set conflict
  500  persistence failures and partial saga failures; partial failures
       include the committed step names so operators can reconcile

SEE ALSO:
  - dto.go: Wire shapes
  - server.go: Routing
  - identity.go: Claims resolution
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger    *ledger.Service
	Invoices  *billing.Manager
	Allocator *billing.Allocator
	Methods   ledger.PaymentMethodStore
	Contacts  ledger.ContactStore
	Renderer  billing.DocumentRenderer
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// GetBalance returns the account's current ledger balance.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	accountID := ledger.AccountID(chi.URLParam(r, "id"))

	balance, err := h.Ledger.CurrentBalance(r.Context(), claimsFrom(r), accountID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{
		AccountID: string(accountID),
		Balance:   balance.String(),
	})
}

// GetUnpaid returns the sum of the account's pending charge amounts.
func (h *Handler) GetUnpaid(w http.ResponseWriter, r *http.Request) {
	accountID := ledger.AccountID(chi.URLParam(r, "id"))

	unpaid, err := h.Ledger.UnpaidBalance(r.Context(), claimsFrom(r), accountID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, UnpaidDTO{
		AccountID: string(accountID),
		Unpaid:    unpaid.String(),
	})
}

// GetSummary returns the paid-payment summary grouped by category.
// Query param "period" selects recent (default) or lastYear.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	accountID := ledger.AccountID(chi.URLParam(r, "id"))
	period := ledger.SummaryPeriod(r.URL.Query().Get("period"))
	if period == "" {
		period = ledger.PeriodRecent
	}

	summary, err := h.Ledger.PaidSummaryFor(r.Context(), claimsFrom(r), accountID, period)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	byCategory := make(map[string]string, len(summary.ByCategory))
	for cat, total := range summary.ByCategory {
		byCategory[cat] = total.String()
	}
	writeJSON(w, http.StatusOK, SummaryDTO{
		AccountID:  string(accountID),
		Period:     string(period),
		Total:      summary.Total.String(),
		ByCategory: byCategory,
	})
}

// ApplyPayment runs the payment allocator against the account.
func (h *Handler) ApplyPayment(w http.ResponseWriter, r *http.Request) {
	accountID := ledger.AccountID(chi.URLParam(r, "id"))

	var req ApplyPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	payment, err := h.Allocator.ApplyPayment(r.Context(), claimsFrom(r), accountID, amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(payment))
}

// RegisterPaymentMethod adds a payment method to the account.
func (h *Handler) RegisterPaymentMethod(w http.ResponseWriter, r *http.Request) {
	accountID := ledger.AccountID(chi.URLParam(r, "id"))
	claims := claimsFrom(r)
	if !claims.IsAdmin() && claims.AccountID != string(accountID) {
		writeError(w, http.StatusForbidden, "Forbidden", nil)
		return
	}

	var req RegisterPaymentMethodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Type == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "Type and name are required", nil)
		return
	}

	m := ledger.PaymentMethod{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Type:      req.Type,
		Name:      req.Name,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.Methods.AddPaymentMethod(r.Context(), m); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to register payment method", err)
		return
	}
	writeJSON(w, http.StatusCreated, PaymentMethodDTO{
		ID:        m.ID,
		AccountID: string(m.AccountID),
		Type:      m.Type,
		Name:      m.Name,
		CreatedAt: m.CreatedAt.Format(time.RFC3339Nano),
	})
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// ListTransactions returns transactions visible to the caller.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ledger.Filter{
		AccountID: ledger.AccountID(q.Get("account_id")),
		Status:    ledger.TxStatus(q.Get("status")),
		Type:      ledger.TxType(q.Get("type")),
	}
	if from, err := parseDate(q.Get("from")); err == nil {
		f.From = from
	}
	if to, err := parseDate(q.Get("to")); err == nil {
		f.To = to
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 {
		f.Limit = limit
	}

	txs, err := h.Ledger.List(r.Context(), claimsFrom(r), f)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// CreateTransaction appends a new transaction to the account's chain.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req CreateTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	charge, err := parseAmount(req.ChargeAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid charge_amount", err)
		return
	}
	payment, err := parseAmount(req.PaymentAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid payment_amount", err)
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	tx, err := h.Ledger.Append(r.Context(), claimsFrom(r), ledger.AccountID(req.AccountID), ledger.Draft{
		Type:          ledger.TxType(req.Type),
		Date:          date,
		DocNumber:     req.DocNumber,
		Description:   req.Description,
		ChargeAmount:  charge,
		PaymentAmount: payment,
		Status:        ledger.TxStatus(req.Status),
		Method:        req.Method,
		Category:      req.Category,
		TenantID:      req.TenantID,
		Building:      req.Building,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

// GetTransaction returns one transaction the caller may see.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id := ledger.TransactionID(chi.URLParam(r, "id"))

	tx, err := h.Ledger.Get(r.Context(), claimsFrom(r), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

// UpdateTransaction applies a partial edit under the version check-and-set.
func (h *Handler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	id := ledger.TransactionID(chi.URLParam(r, "id"))

	var req UpdateTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var p ledger.Patch
	if req.Date != nil {
		d, err := parseDate(*req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
			return
		}
		p.Date = &d
	}
	p.Description = req.Description
	if req.ChargeAmount != nil {
		amt, err := parseAmount(*req.ChargeAmount)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid charge_amount", err)
			return
		}
		p.ChargeAmount = &amt
	}
	if req.PaymentAmount != nil {
		amt, err := parseAmount(*req.PaymentAmount)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid payment_amount", err)
			return
		}
		p.PaymentAmount = &amt
	}
	if req.Status != nil {
		st := ledger.TxStatus(*req.Status)
		p.Status = &st
	}
	p.Category = req.Category
	p.Reconciled = req.Reconciled

	tx, err := h.Ledger.Update(r.Context(), claimsFrom(r), id, p, req.Version)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

// DeleteTransaction removes a transaction. Admin only.
func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id := ledger.TransactionID(chi.URLParam(r, "id"))

	if err := h.Ledger.Delete(r.Context(), claimsFrom(r), id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// =============================================================================
// INVOICE HANDLERS
// =============================================================================

// ListInvoices returns invoices visible to the caller.
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	f := billing.InvoiceFilter{
		BillToID: ledger.AccountID(r.URL.Query().Get("bill_to_id")),
	}
	invoices, err := h.Invoices.List(r.Context(), claimsFrom(r), f)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]InvoiceDTO, len(invoices))
	for i, inv := range invoices {
		dtos[i] = toInvoiceDTO(inv)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateInvoice creates an invoice with derived totals and its linked
// charge transaction.
func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	draft, items, ok := h.parseInvoiceRequest(w, r)
	if !ok {
		return
	}
	inv, err := h.Invoices.Create(r.Context(), claimsFrom(r), draft, items)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toInvoiceDTO(inv))
}

// GetInvoice returns one invoice with its items.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	id := billing.InvoiceID(chi.URLParam(r, "id"))

	inv, err := h.Invoices.Get(r.Context(), claimsFrom(r), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(inv))
}

// UpdateInvoice replaces the invoice's items and reconciles its charge.
func (h *Handler) UpdateInvoice(w http.ResponseWriter, r *http.Request) {
	id := billing.InvoiceID(chi.URLParam(r, "id"))

	draft, items, ok := h.parseInvoiceRequest(w, r)
	if !ok {
		return
	}
	inv, err := h.Invoices.Update(r.Context(), claimsFrom(r), id, draft, items)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(inv))
}

// SendInvoice opens the invoice and notifies the bill-to party.
func (h *Handler) SendInvoice(w http.ResponseWriter, r *http.Request) {
	id := billing.InvoiceID(chi.URLParam(r, "id"))

	inv, err := h.Invoices.Send(r.Context(), claimsFrom(r), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(inv))
}

// GetInvoiceDocument renders the invoice through the document renderer.
func (h *Handler) GetInvoiceDocument(w http.ResponseWriter, r *http.Request) {
	id := billing.InvoiceID(chi.URLParam(r, "id"))

	inv, err := h.Invoices.Get(r.Context(), claimsFrom(r), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	data, contentType, err := h.Renderer.Render(billing.BuildDocument(inv))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to render document", err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", inv.Number))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *Handler) parseInvoiceRequest(w http.ResponseWriter, r *http.Request) (billing.InvoiceDraft, []billing.ItemDraft, bool) {
	var req InvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return billing.InvoiceDraft{}, nil, false
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return billing.InvoiceDraft{}, nil, false
	}

	items := make([]billing.ItemDraft, 0, len(req.Items))
	for i, item := range req.Items {
		price, err := parseAmount(item.UnitPrice)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid unit_price on item %d", i), err)
			return billing.InvoiceDraft{}, nil, false
		}
		units, err := parseAmount(item.Units)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid units on item %d", i), err)
			return billing.InvoiceDraft{}, nil, false
		}
		items = append(items, billing.ItemDraft{Name: item.Name, UnitPrice: price, Units: units})
	}

	return billing.InvoiceDraft{
		Date:        date,
		BillToID:    ledger.AccountID(req.BillToID),
		FromAddress: req.FromAddress,
		ToAddress:   req.ToAddress,
		Description: req.Description,
		Building:    req.Building,
	}, items, true
}

// =============================================================================
// CONTACT HANDLERS
// =============================================================================

// ListContacts returns the caller's stored contacts.
func (h *Handler) ListContacts(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)

	contacts, err := h.Contacts.ContactsByOwner(r.Context(), ledger.AccountID(claims.AccountID))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list contacts", err)
		return
	}
	dtos := make([]ContactDTO, len(contacts))
	for i, c := range contacts {
		dtos[i] = ContactDTO{
			ID:        c.ID,
			ContactID: string(c.ContactID),
			FirstName: c.FirstName,
			LastName:  c.LastName,
			Email:     c.Email,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps ledger/billing errors to HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	var partial *ledger.PartialFailureError
	if errors.As(err, &partial) {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "Operation partially failed",
			Details: partial.Error(),
			Steps:   partial.Completed,
		})
		return
	}

	switch {
	case errors.Is(err, ledger.ErrValidation):
		writeError(w, http.StatusBadRequest, "Validation failed", err)
	case errors.Is(err, ledger.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "Forbidden", err)
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, ledger.ErrNoPaymentMethod),
		errors.Is(err, ledger.ErrNoPendingCharges),
		errors.Is(err, ledger.ErrOverpayment):
		writeError(w, http.StatusPaymentRequired, "Payment precondition failed", err)
	case errors.Is(err, ledger.ErrConcurrencyConflict):
		writeError(w, http.StatusConflict, "Concurrent modification, retry", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
