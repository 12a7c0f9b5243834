/*
Package sqlite provides the SQLite-backed implementation of every
persistence contract.

PURPOSE:
  Implements ledger.TransactionStore, PaymentMethodStore, ContactStore,
  NotificationStore, StepStore, and billing.InvoiceStore over a single
  SQLite database. In production the same patterns apply to PostgreSQL -
  only minor SQL dialect differences.

SCHEMA:
  Versioned .sql migrations embedded in the binary and applied through
  golang-migrate at open. See migrations/.

MONEY & TIME ENCODING:
  decimal amounts are stored as TEXT (exact, no float drift); timestamps
  as RFC3339Nano TEXT so lexical order equals chronological order.

CONCURRENCY:
  WAL mode for reader/writer concurrency. Transaction updates are a
  conditional UPDATE on the stored version; zero rows affected means a
  concurrent writer won and the caller gets ErrConcurrencyConflict.

USAGE:
  store, err := sqlite.New("./data/billing.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - ledger/store.go, billing/types.go: Contracts
  - store/memory: In-memory implementation for unit tests
*/
package sqlite

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements all persistence contracts using SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and applies pending
// migrations. Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies all pending up migrations from the embedded files.
func (s *Store) migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// =============================================================================
// ENCODING HELPERS
// =============================================================================

func encTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func decTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func decDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
