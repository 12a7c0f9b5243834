/*
Package memory provides in-memory store implementations (for testing/dev).

PURPOSE:
  Map-backed implementations of every persistence contract: ledger
  transactions, payment methods, contacts, notifications, the saga step
  log, and the invoice aggregate. Thread-safe via RWMutex. Semantics match
  the SQLite store: versioned check-and-set on transaction updates,
  creation-order listing, not-found and conflict errors from the ledger
  taxonomy.

SEE ALSO:
  - store/sqlite: Production implementation
  - ledger/store.go, billing/types.go: Contracts
*/
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/ledger"
)

// Store implements every persistence contract in memory.
type Store struct {
	mu sync.RWMutex

	transactions map[ledger.TransactionID]ledger.Transaction
	txOrder      []ledger.TransactionID // insertion order

	methods       map[ledger.AccountID][]ledger.PaymentMethod
	contacts      map[ledger.AccountID][]ledger.Contact
	notifications map[ledger.AccountID][]ledger.Notification

	runs  map[string]ledger.StepRun
	steps map[string][]ledger.Step

	invoices map[billing.InvoiceID]billing.Invoice
	invOrder []billing.InvoiceID
	items    map[billing.InvoiceID][]billing.InvoiceItem
}

func New() *Store {
	return &Store{
		transactions:  make(map[ledger.TransactionID]ledger.Transaction),
		methods:       make(map[ledger.AccountID][]ledger.PaymentMethod),
		contacts:      make(map[ledger.AccountID][]ledger.Contact),
		notifications: make(map[ledger.AccountID][]ledger.Notification),
		runs:          make(map[string]ledger.StepRun),
		steps:         make(map[string][]ledger.Step),
		invoices:      make(map[billing.InvoiceID]billing.Invoice),
		items:         make(map[billing.InvoiceID][]billing.InvoiceItem),
	}
}

// =============================================================================
// TRANSACTION STORE
// =============================================================================

func (s *Store) Insert(_ context.Context, tx ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions[tx.ID] = tx
	s.txOrder = append(s.txOrder, tx.ID)
	return nil
}

func (s *Store) Get(_ context.Context, id ledger.TransactionID) (ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.transactions[id]
	if !ok {
		return ledger.Transaction{}, ledger.ErrNotFound
	}
	return tx, nil
}

func (s *Store) Update(_ context.Context, tx ledger.Transaction, expectedVersion int64) (ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.transactions[tx.ID]
	if !ok {
		return ledger.Transaction{}, ledger.ErrNotFound
	}
	if existing.Version != expectedVersion {
		return ledger.Transaction{}, ledger.ErrConcurrencyConflict
	}
	tx.Version = existing.Version + 1
	s.transactions[tx.ID] = tx
	return tx, nil
}

func (s *Store) Delete(_ context.Context, id ledger.TransactionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transactions[id]; !ok {
		return ledger.ErrNotFound
	}
	delete(s.transactions, id)
	for i, tid := range s.txOrder {
		if tid == id {
			s.txOrder = append(s.txOrder[:i], s.txOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Store) List(_ context.Context, f ledger.Filter) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := f.Limit
	if limit <= 0 {
		limit = ledger.DefaultListLimit
	}

	var result []ledger.Transaction
	for _, id := range s.txOrder {
		tx := s.transactions[id]
		if f.AccountID != "" && tx.AccountID != f.AccountID {
			continue
		}
		if f.DocNumber != "" && tx.DocNumber != f.DocNumber {
			continue
		}
		if f.Status != "" && tx.Status != f.Status {
			continue
		}
		if f.Type != "" && tx.Type != f.Type {
			continue
		}
		if !f.From.IsZero() && tx.Date.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && tx.Date.After(f.To) {
			continue
		}
		result = append(result, tx)
		if len(result) >= limit {
			break
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) LastByCreated(_ context.Context, accountID ledger.AccountID) (ledger.Transaction, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last ledger.Transaction
	found := false
	for _, tx := range s.transactions {
		if tx.AccountID != accountID {
			continue
		}
		if !found || tx.CreatedAt.After(last.CreatedAt) {
			last = tx
			found = true
		}
	}
	return last, found, nil
}

func (s *Store) Accounts(_ context.Context) ([]ledger.AccountID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[ledger.AccountID]bool)
	var accounts []ledger.AccountID
	for _, id := range s.txOrder {
		acct := s.transactions[id].AccountID
		if !seen[acct] {
			seen[acct] = true
			accounts = append(accounts, acct)
		}
	}
	return accounts, nil
}

// =============================================================================
// PAYMENT METHODS / CONTACTS / NOTIFICATIONS
// =============================================================================

func (s *Store) AddPaymentMethod(_ context.Context, m ledger.PaymentMethod) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.methods[m.AccountID] = append(s.methods[m.AccountID], m)
	return nil
}

func (s *Store) PaymentMethods(_ context.Context, accountID ledger.AccountID) ([]ledger.PaymentMethod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ledger.PaymentMethod(nil), s.methods[accountID]...), nil
}

func (s *Store) AddContact(_ context.Context, c ledger.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[c.OwnerID] = append(s.contacts[c.OwnerID], c)
	return nil
}

func (s *Store) ContactsByOwner(_ context.Context, ownerID ledger.AccountID) ([]ledger.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ledger.Contact(nil), s.contacts[ownerID]...), nil
}

func (s *Store) AddNotification(_ context.Context, n ledger.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications[n.RecipientID] = append(s.notifications[n.RecipientID], n)
	return nil
}

func (s *Store) NotificationsByRecipient(_ context.Context, recipientID ledger.AccountID) ([]ledger.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ledger.Notification(nil), s.notifications[recipientID]...), nil
}

// =============================================================================
// STEP LOG
// =============================================================================

func (s *Store) BeginRun(_ context.Context, kind ledger.RunKind, reference string, at time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.runs[id] = ledger.StepRun{ID: id, Kind: kind, Reference: reference, StartedAt: at}
	return id, nil
}

func (s *Store) RecordStep(_ context.Context, runID string, seq int, name, targetID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps[runID] = append(s.steps[runID], ledger.Step{
		ID:          uuid.NewString(),
		RunID:       runID,
		Seq:         seq,
		Name:        name,
		TargetID:    targetID,
		CompletedAt: at,
	})
	return nil
}

func (s *Store) CompleteRun(_ context.Context, runID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return ledger.ErrNotFound
	}
	run.CompletedAt = at
	s.runs[runID] = run
	return nil
}

func (s *Store) Steps(_ context.Context, runID string) ([]ledger.Step, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	steps := append([]ledger.Step(nil), s.steps[runID]...)
	sort.Slice(steps, func(i, j int) bool { return steps[i].Seq < steps[j].Seq })
	return steps, nil
}

func (s *Store) IncompleteRuns(_ context.Context, kind ledger.RunKind) ([]ledger.StepRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var runs []ledger.StepRun
	for _, run := range s.runs {
		if run.Kind == kind && run.CompletedAt.IsZero() {
			runs = append(runs, run)
		}
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.Before(runs[j].StartedAt) })
	return runs, nil
}

// =============================================================================
// INVOICE STORE
// =============================================================================

func (s *Store) InsertInvoice(_ context.Context, inv billing.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv.Items = nil // items are stored separately
	s.invoices[inv.ID] = inv
	s.invOrder = append(s.invOrder, inv.ID)
	return nil
}

func (s *Store) GetInvoice(_ context.Context, id billing.InvoiceID) (billing.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invoices[id]
	if !ok {
		return billing.Invoice{}, ledger.ErrNotFound
	}
	return inv, nil
}

func (s *Store) UpdateInvoice(_ context.Context, inv billing.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.invoices[inv.ID]; !ok {
		return ledger.ErrNotFound
	}
	inv.Items = nil
	s.invoices[inv.ID] = inv
	return nil
}

func (s *Store) ListInvoices(_ context.Context, f billing.InvoiceFilter) ([]billing.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := f.Limit
	if limit <= 0 {
		limit = ledger.DefaultListLimit
	}

	var result []billing.Invoice
	for _, id := range s.invOrder {
		inv := s.invoices[id]
		if f.BillToID != "" && inv.BillToID != f.BillToID {
			continue
		}
		result = append(result, inv)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) InsertItem(_ context.Context, item billing.InvoiceItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.InvoiceID] = append(s.items[item.InvoiceID], item)
	return nil
}

func (s *Store) ItemsByInvoice(_ context.Context, id billing.InvoiceID) ([]billing.InvoiceItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]billing.InvoiceItem(nil), s.items[id]...), nil
}

func (s *Store) DeleteItemsByInvoice(_ context.Context, id billing.InvoiceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
	return nil
}
