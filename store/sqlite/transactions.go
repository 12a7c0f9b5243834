/*
transactions.go - ledger.TransactionStore implementation

PURPOSE:
  Ledger row persistence. The conditional UPDATE on version is the
  check-and-set half of the concurrency design; the ledger service holds
  the per-account lock for appends.
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/warp/billing-engine/ledger"
)

const txColumns = `id, account_id, tx_type, tx_date, doc_number, description,
	charge_amount, payment_amount, balance, confirmation_number, method,
	status, category, recurring_id, reconciled, tenant_id, building,
	version, created_at, updated_at`

func (s *Store) Insert(ctx context.Context, tx ledger.Transaction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (`+txColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(tx.ID), string(tx.AccountID), string(tx.Type), encTime(tx.Date),
		tx.DocNumber, tx.Description,
		tx.ChargeAmount.String(), tx.PaymentAmount.String(), tx.Balance.String(),
		tx.ConfirmationNumber, tx.Method,
		string(tx.Status), tx.Category, tx.RecurringID, tx.Reconciled,
		tx.TenantID, tx.Building,
		tx.Version, encTime(tx.CreatedAt), encTime(tx.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id ledger.TransactionID) (ledger.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+txColumns+` FROM transactions WHERE id = ?`, string(id))
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Transaction{}, ledger.ErrNotFound
	}
	return tx, err
}

// Update is a conditional write: it only applies when the stored version
// equals expectedVersion, and bumps the version in the same statement.
func (s *Store) Update(ctx context.Context, tx ledger.Transaction, expectedVersion int64) (ledger.Transaction, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions SET
			tx_type = ?, tx_date = ?, doc_number = ?, description = ?,
			charge_amount = ?, payment_amount = ?, balance = ?,
			confirmation_number = ?, method = ?, status = ?, category = ?,
			recurring_id = ?, reconciled = ?, tenant_id = ?, building = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		string(tx.Type), encTime(tx.Date), tx.DocNumber, tx.Description,
		tx.ChargeAmount.String(), tx.PaymentAmount.String(), tx.Balance.String(),
		tx.ConfirmationNumber, tx.Method, string(tx.Status), tx.Category,
		tx.RecurringID, tx.Reconciled, tx.TenantID, tx.Building,
		encTime(tx.UpdatedAt),
		string(tx.ID), expectedVersion,
	)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("update transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("update transaction: %w", err)
	}
	if n == 0 {
		// Distinguish a lost race from a missing row.
		if _, getErr := s.Get(ctx, tx.ID); errors.Is(getErr, ledger.ErrNotFound) {
			return ledger.Transaction{}, ledger.ErrNotFound
		}
		return ledger.Transaction{}, ledger.ErrConcurrencyConflict
	}
	return s.Get(ctx, tx.ID)
}

func (s *Store) Delete(ctx context.Context, id ledger.TransactionID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	if n == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func (s *Store) List(ctx context.Context, f ledger.Filter) ([]ledger.Transaction, error) {
	where := []string{"1=1"}
	var args []any
	if f.AccountID != "" {
		where = append(where, "account_id = ?")
		args = append(args, string(f.AccountID))
	}
	if f.DocNumber != "" {
		where = append(where, "doc_number = ?")
		args = append(args, f.DocNumber)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Type != "" {
		where = append(where, "tx_type = ?")
		args = append(args, string(f.Type))
	}
	if !f.From.IsZero() {
		where = append(where, "tx_date >= ?")
		args = append(args, encTime(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "tx_date <= ?")
		args = append(args, encTime(f.To))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = ledger.DefaultListLimit
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY created_at ASC
		LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var result []ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, tx)
	}
	return result, rows.Err()
}

func (s *Store) LastByCreated(ctx context.Context, accountID ledger.AccountID) (ledger.Transaction, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE account_id = ?
		ORDER BY created_at DESC
		LIMIT 1`, string(accountID))
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Transaction{}, false, nil
	}
	if err != nil {
		return ledger.Transaction{}, false, err
	}
	return tx, true, nil
}

func (s *Store) Accounts(ctx context.Context) ([]ledger.AccountID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT account_id FROM transactions ORDER BY account_id`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []ledger.AccountID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		accounts = append(accounts, ledger.AccountID(id))
	}
	return accounts, rows.Err()
}

// =============================================================================
// SCANNING
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(r rowScanner) (ledger.Transaction, error) {
	var (
		tx                            ledger.Transaction
		id, accountID, txType, status string
		date, createdAt, updatedAt    string
		charge, payment, balance      string
	)
	err := r.Scan(
		&id, &accountID, &txType, &date, &tx.DocNumber, &tx.Description,
		&charge, &payment, &balance, &tx.ConfirmationNumber, &tx.Method,
		&status, &tx.Category, &tx.RecurringID, &tx.Reconciled,
		&tx.TenantID, &tx.Building,
		&tx.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		return ledger.Transaction{}, err
	}
	tx.ID = ledger.TransactionID(id)
	tx.AccountID = ledger.AccountID(accountID)
	tx.Type = ledger.TxType(txType)
	tx.Status = ledger.TxStatus(status)
	tx.Date = decTime(date)
	tx.CreatedAt = decTime(createdAt)
	tx.UpdatedAt = decTime(updatedAt)
	tx.ChargeAmount = decDecimal(charge)
	tx.PaymentAmount = decDecimal(payment)
	tx.Balance = decDecimal(balance)
	return tx, nil
}
