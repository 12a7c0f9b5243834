/*
billing.go - billing.InvoiceStore plus the collaborator stores

PURPOSE:
  SQLite implementations of the invoice aggregate store, payment methods,
  contacts, notifications, and the saga step log.
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/ledger"
)

// =============================================================================
// INVOICE STORE
// =============================================================================

const invoiceColumns = `id, invoice_number, inv_date, status, bill_from_id,
	bill_to_id, from_address, to_address, description, subtotal, tax,
	grand_total, building, created_at, updated_at`

func (s *Store) InsertInvoice(ctx context.Context, inv billing.Invoice) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invoices (`+invoiceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(inv.ID), inv.Number, encTime(inv.Date), string(inv.Status),
		string(inv.BillFromID), string(inv.BillToID),
		inv.FromAddress, inv.ToAddress, inv.Description,
		inv.Subtotal.String(), inv.Tax.String(), inv.GrandTotal.String(),
		inv.Building, encTime(inv.CreatedAt), encTime(inv.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert invoice: %w", err)
	}
	return nil
}

func (s *Store) GetInvoice(ctx context.Context, id billing.InvoiceID) (billing.Invoice, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`, string(id))
	inv, err := scanInvoice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.Invoice{}, ledger.ErrNotFound
	}
	return inv, err
}

func (s *Store) UpdateInvoice(ctx context.Context, inv billing.Invoice) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE invoices SET
			invoice_number = ?, inv_date = ?, status = ?, bill_from_id = ?,
			bill_to_id = ?, from_address = ?, to_address = ?, description = ?,
			subtotal = ?, tax = ?, grand_total = ?, building = ?, updated_at = ?
		WHERE id = ?`,
		inv.Number, encTime(inv.Date), string(inv.Status), string(inv.BillFromID),
		string(inv.BillToID), inv.FromAddress, inv.ToAddress, inv.Description,
		inv.Subtotal.String(), inv.Tax.String(), inv.GrandTotal.String(),
		inv.Building, encTime(inv.UpdatedAt),
		string(inv.ID),
	)
	if err != nil {
		return fmt.Errorf("update invoice: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update invoice: %w", err)
	}
	if n == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func (s *Store) ListInvoices(ctx context.Context, f billing.InvoiceFilter) ([]billing.Invoice, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = ledger.DefaultListLimit
	}

	query := `SELECT ` + invoiceColumns + ` FROM invoices`
	var args []any
	if f.BillToID != "" {
		query += ` WHERE bill_to_id = ?`
		args = append(args, string(f.BillToID))
	}
	query += ` ORDER BY created_at ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()

	var result []billing.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, inv)
	}
	return result, rows.Err()
}

func (s *Store) InsertItem(ctx context.Context, item billing.InvoiceItem) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invoice_items (id, invoice_id, name, unit_price, units, total)
		VALUES (?, ?, ?, ?, ?, ?)`,
		item.ID, string(item.InvoiceID), item.Name,
		item.UnitPrice.String(), item.Units.String(), item.Total.String(),
	)
	if err != nil {
		return fmt.Errorf("insert invoice item: %w", err)
	}
	return nil
}

func (s *Store) ItemsByInvoice(ctx context.Context, id billing.InvoiceID) ([]billing.InvoiceItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, invoice_id, name, unit_price, units, total
		FROM invoice_items WHERE invoice_id = ? ORDER BY rowid ASC`, string(id))
	if err != nil {
		return nil, fmt.Errorf("list invoice items: %w", err)
	}
	defer rows.Close()

	var items []billing.InvoiceItem
	for rows.Next() {
		var (
			item                    billing.InvoiceItem
			invID                   string
			unitPrice, units, total string
		)
		if err := rows.Scan(&item.ID, &invID, &item.Name, &unitPrice, &units, &total); err != nil {
			return nil, err
		}
		item.InvoiceID = billing.InvoiceID(invID)
		item.UnitPrice = decDecimal(unitPrice)
		item.Units = decDecimal(units)
		item.Total = decDecimal(total)
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) DeleteItemsByInvoice(ctx context.Context, id billing.InvoiceID) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM invoice_items WHERE invoice_id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("delete invoice items: %w", err)
	}
	return nil
}

func scanInvoice(r rowScanner) (billing.Invoice, error) {
	var (
		inv                          billing.Invoice
		id, status, billFrom, billTo string
		date, createdAt, updatedAt   string
		subtotal, tax, grand         string
	)
	err := r.Scan(
		&id, &inv.Number, &date, &status, &billFrom, &billTo,
		&inv.FromAddress, &inv.ToAddress, &inv.Description,
		&subtotal, &tax, &grand, &inv.Building, &createdAt, &updatedAt,
	)
	if err != nil {
		return billing.Invoice{}, err
	}
	inv.ID = billing.InvoiceID(id)
	inv.Status = billing.InvoiceStatus(status)
	inv.BillFromID = ledger.AccountID(billFrom)
	inv.BillToID = ledger.AccountID(billTo)
	inv.Date = decTime(date)
	inv.CreatedAt = decTime(createdAt)
	inv.UpdatedAt = decTime(updatedAt)
	inv.Subtotal = decDecimal(subtotal)
	inv.Tax = decDecimal(tax)
	inv.GrandTotal = decDecimal(grand)
	return inv, nil
}

// =============================================================================
// PAYMENT METHODS / CONTACTS / NOTIFICATIONS
// =============================================================================

func (s *Store) AddPaymentMethod(ctx context.Context, m ledger.PaymentMethod) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_methods (id, account_id, method_type, name, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		m.ID, string(m.AccountID), m.Type, m.Name, encTime(m.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert payment method: %w", err)
	}
	return nil
}

func (s *Store) PaymentMethods(ctx context.Context, accountID ledger.AccountID) ([]ledger.PaymentMethod, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, method_type, name, created_at
		FROM payment_methods WHERE account_id = ? ORDER BY created_at ASC`,
		string(accountID))
	if err != nil {
		return nil, fmt.Errorf("list payment methods: %w", err)
	}
	defer rows.Close()

	var methods []ledger.PaymentMethod
	for rows.Next() {
		var (
			m               ledger.PaymentMethod
			acct, createdAt string
		)
		if err := rows.Scan(&m.ID, &acct, &m.Type, &m.Name, &createdAt); err != nil {
			return nil, err
		}
		m.AccountID = ledger.AccountID(acct)
		m.CreatedAt = decTime(createdAt)
		methods = append(methods, m)
	}
	return methods, rows.Err()
}

func (s *Store) AddContact(ctx context.Context, c ledger.Contact) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contacts (id, owner_id, contact_id, first_name, last_name, email, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, string(c.OwnerID), string(c.ContactID),
		c.FirstName, c.LastName, c.Email, encTime(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert contact: %w", err)
	}
	return nil
}

func (s *Store) ContactsByOwner(ctx context.Context, ownerID ledger.AccountID) ([]ledger.Contact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, contact_id, first_name, last_name, email, created_at
		FROM contacts WHERE owner_id = ? ORDER BY created_at ASC`, string(ownerID))
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	var contacts []ledger.Contact
	for rows.Next() {
		var (
			c                         ledger.Contact
			owner, contact, createdAt string
		)
		if err := rows.Scan(&c.ID, &owner, &contact, &c.FirstName, &c.LastName, &c.Email, &createdAt); err != nil {
			return nil, err
		}
		c.OwnerID = ledger.AccountID(owner)
		c.ContactID = ledger.AccountID(contact)
		c.CreatedAt = decTime(createdAt)
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

func (s *Store) AddNotification(ctx context.Context, n ledger.Notification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, recipient_id, content, notif_type, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		n.ID, string(n.RecipientID), n.Content, n.Type, n.IsRead, encTime(n.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *Store) NotificationsByRecipient(ctx context.Context, recipientID ledger.AccountID) ([]ledger.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, recipient_id, content, notif_type, is_read, created_at
		FROM notifications WHERE recipient_id = ? ORDER BY created_at ASC`,
		string(recipientID))
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var notifs []ledger.Notification
	for rows.Next() {
		var (
			n                    ledger.Notification
			recipient, createdAt string
		)
		if err := rows.Scan(&n.ID, &recipient, &n.Content, &n.Type, &n.IsRead, &createdAt); err != nil {
			return nil, err
		}
		n.RecipientID = ledger.AccountID(recipient)
		n.CreatedAt = decTime(createdAt)
		notifs = append(notifs, n)
	}
	return notifs, rows.Err()
}

// =============================================================================
// STEP LOG
// =============================================================================

func (s *Store) BeginRun(ctx context.Context, kind ledger.RunKind, reference string, at time.Time) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO saga_runs (id, kind, reference, started_at, completed_at)
		VALUES (?, ?, ?, ?, NULL)`,
		id, string(kind), reference, encTime(at),
	)
	if err != nil {
		return "", fmt.Errorf("begin run: %w", err)
	}
	return id, nil
}

func (s *Store) RecordStep(ctx context.Context, runID string, seq int, name, targetID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO saga_steps (id, run_id, seq, name, target_id, completed_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), runID, seq, name, targetID, encTime(at),
	)
	if err != nil {
		return fmt.Errorf("record step: %w", err)
	}
	return nil
}

func (s *Store) CompleteRun(ctx context.Context, runID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE saga_runs SET completed_at = ? WHERE id = ?`, encTime(at), runID)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	if n == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func (s *Store) Steps(ctx context.Context, runID string) ([]ledger.Step, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, seq, name, target_id, completed_at
		FROM saga_steps WHERE run_id = ? ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	var steps []ledger.Step
	for rows.Next() {
		var (
			st          ledger.Step
			completedAt string
		)
		if err := rows.Scan(&st.ID, &st.RunID, &st.Seq, &st.Name, &st.TargetID, &completedAt); err != nil {
			return nil, err
		}
		st.CompletedAt = decTime(completedAt)
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

func (s *Store) IncompleteRuns(ctx context.Context, kind ledger.RunKind) ([]ledger.StepRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, reference, started_at, completed_at
		FROM saga_runs WHERE kind = ? AND completed_at IS NULL
		ORDER BY started_at ASC`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("list incomplete runs: %w", err)
	}
	defer rows.Close()

	var runs []ledger.StepRun
	for rows.Next() {
		var (
			run         ledger.StepRun
			kindStr     string
			startedAt   string
			completedAt sql.NullString
		)
		if err := rows.Scan(&run.ID, &kindStr, &run.Reference, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		run.Kind = ledger.RunKind(kindStr)
		run.StartedAt = decTime(startedAt)
		if completedAt.Valid {
			run.CompletedAt = decTime(completedAt.String)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
