/*
Package sqlite provides a SQLite-backed billing.Backend.

PURPOSE:
  Plays the payment backend for local development and the demo server:
  the roster of players, the three catalogs, payment records and a table
  of statement records imported verbatim from older systems.

INTERFACES IMPLEMENTED:
  billing.Source:        Account statement, active accounts, catalogs
  billing.PaymentWriter: Create / update / delete a payment

KEY TABLES:
  players:          Roster (any status; ActiveAccounts filters)
  catalog_entries:  (kind, id) -> name for types, methods and statuses
  payments:         Payment records, owed period optional
  imported_records: Legacy statement records kept as JSON

INDEXES:
  - idx_unique_owed_period: at most one fee of a type per (account, owed
    month). A violation is reported as billing.ErrPeriodTaken.
  - idx_payments_account: statement reads

STATEMENT SHAPE:
  Payment rows are returned the way the remote backend does: flat ids plus
  an embedded player object and the type name. Imported records are
  returned as stored, so their aliases go through the same adapter.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. WAL mode lets readers proceed while
  a write is in flight.

MIGRATION:
  Versioned migrations are embedded (migrations/*.sql) and applied with
  golang-migrate on New().

USAGE:
  store, err := sqlite.New("./dues.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  rec := billing.NewReconciler(store, policy, log)
*/
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/warp/dues-engine/billing"
)

//go:embed migrations/*.sql
var migrations embed.FS

const dateLayout = "2006-01-02"

// Store implements billing.Backend using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL"
	if dbPath == ":memory:" {
		dsn = dbPath + "?_foreign_keys=on"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func runMigrations(db *sql.DB) error {
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to set up migrate driver: %w", err)
	}
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create iofs source driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to set up migrate instance: %w", err)
	}
	// m.Close would close db as well; the store owns it.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migration(up): %w", err)
	}
	return nil
}

// =============================================================================
// SOURCE (billing.Source interface)
// =============================================================================

// AccountStatement returns payment records (oldest id first) followed by
// imported records. A non-nil account restricts both.
func (s *Store) AccountStatement(ctx context.Context, account *billing.AccountID) ([]billing.RawTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT p.id, p.account_id, p.amount, p.payment_date,
		       p.type_id, COALESCE(t.name, ''), p.method_id, p.status_id,
		       COALESCE(p.notes, ''), p.owed_year, p.owed_month,
		       pl.id, COALESCE(pl.display_name, ''), COALESCE(pl.category_name, ''), COALESCE(pl.branch_name, '')
		FROM payments p
		LEFT JOIN players pl ON pl.id = p.account_id
		LEFT JOIN catalog_entries t ON t.kind = 'type' AND t.id = p.type_id`
	var args []any
	if account != nil {
		query += " WHERE p.account_id = ?"
		args = append(args, string(*account))
	}
	query += " ORDER BY p.id"

	out, err := s.queryPayments(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	imported, err := s.importedRecords(ctx, account)
	if err != nil {
		return nil, err
	}
	return append(out, imported...), nil
}

func (s *Store) queryPayments(ctx context.Context, query string, args ...any) ([]billing.RawTransaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query payments: %w", err)
	}
	defer rows.Close()

	var out []billing.RawTransaction
	for rows.Next() {
		r, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPayment(row scanner) (billing.RawTransaction, error) {
	var (
		r                            billing.RawTransaction
		id, typeID, methodID, status int64
		owedYear, owedMonth          sql.NullInt64
		playerID                     sql.NullString
		acc                          billing.RawAccount
	)
	err := row.Scan(&id, &r.AccountID, &r.Amount, &r.PaymentDate,
		&typeID, &r.TypeName, &methodID, &status,
		&r.Notes, &owedYear, &owedMonth,
		&playerID, &acc.DisplayName, &acc.CategoryName, &acc.BranchName,
	)
	if err != nil {
		return billing.RawTransaction{}, err
	}
	r.ID = billing.PaymentID(id).String()
	r.TypeID = billing.CatalogID(typeID).String()
	r.MethodID = billing.CatalogID(methodID).String()
	r.StatusID = billing.CatalogID(status).String()
	if owedYear.Valid && owedMonth.Valid {
		r.OwedYear, r.OwedMonth = int(owedYear.Int64), int(owedMonth.Int64)
	}
	if playerID.Valid {
		acc.ID = playerID.String
		r.Account = &acc
	}
	return r, nil
}

func (s *Store) importedRecords(ctx context.Context, account *billing.AccountID) ([]billing.RawTransaction, error) {
	query := "SELECT payload FROM imported_records"
	var args []any
	if account != nil {
		query += " WHERE account_id = ?"
		args = append(args, string(*account))
	}
	query += " ORDER BY seq"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query imported records: %w", err)
	}
	defer rows.Close()

	var out []billing.RawTransaction
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var r billing.RawTransaction
		if err := json.Unmarshal([]byte(payload), &r); err != nil {
			return nil, fmt.Errorf("decode imported record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ActiveAccounts returns players whose status counts as active.
func (s *Store) ActiveAccounts(ctx context.Context) ([]billing.Account, error) {
	players, err := s.ListPlayers(ctx)
	if err != nil {
		return nil, err
	}
	var out []billing.Account
	for _, p := range players {
		if billing.IsActiveStatus(p.Status) {
			out = append(out, p)
		}
	}
	return out, nil
}

// Catalog returns the entries of one reference list ordered by id.
func (s *Store) Catalog(ctx context.Context, kind billing.CatalogKind) ([]billing.CatalogEntry, error) {
	if !kind.Valid() {
		return nil, &billing.NotFoundError{Kind: "catalog", ID: string(kind)}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name FROM catalog_entries WHERE kind = ? ORDER BY id", string(kind))
	if err != nil {
		return nil, fmt.Errorf("query catalog %s: %w", kind, err)
	}
	defer rows.Close()

	var out []billing.CatalogEntry
	for rows.Next() {
		var e billing.CatalogEntry
		var id int64
		if err := rows.Scan(&id, &e.Name); err != nil {
			return nil, err
		}
		e.ID = billing.CatalogID(id)
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// PAYMENT WRITER (billing.PaymentWriter interface)
// =============================================================================

// CreatePayment inserts a payment and returns it as a statement record.
func (s *Store) CreatePayment(ctx context.Context, p billing.PaymentPayload) (billing.RawTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)
	owedYear, owedMonth := owedColumns(p)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO payments (account_id, amount, payment_date, type_id, method_id, status_id,
		                      notes, owed_year, owed_month, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(p.AccountID), p.Amount.String(), p.PaymentDate.Format(dateLayout),
		int64(p.TypeID), int64(p.MethodID), int64(p.StatusID),
		nullString(p.Notes), owedYear, owedMonth, now, now,
	)
	if err != nil {
		return billing.RawTransaction{}, writeError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return billing.RawTransaction{}, err
	}
	return s.getPayment(ctx, billing.PaymentID(id))
}

// UpdatePayment replaces every field of an existing payment.
func (s *Store) UpdatePayment(ctx context.Context, id billing.PaymentID, p billing.PaymentPayload) (billing.RawTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	owedYear, owedMonth := owedColumns(p)
	res, err := s.db.ExecContext(ctx, `
		UPDATE payments SET
			account_id = ?, amount = ?, payment_date = ?,
			type_id = ?, method_id = ?, status_id = ?,
			notes = ?, owed_year = ?, owed_month = ?, updated_at = ?
		WHERE id = ?`,
		string(p.AccountID), p.Amount.String(), p.PaymentDate.Format(dateLayout),
		int64(p.TypeID), int64(p.MethodID), int64(p.StatusID),
		nullString(p.Notes), owedYear, owedMonth,
		time.Now().UTC().Format(time.RFC3339), int64(id),
	)
	if err != nil {
		return billing.RawTransaction{}, writeError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return billing.RawTransaction{}, &billing.NotFoundError{Kind: "payment", ID: id.String()}
	}
	return s.getPayment(ctx, id)
}

// DeletePayment removes a payment.
func (s *Store) DeletePayment(ctx context.Context, id billing.PaymentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM payments WHERE id = ?", int64(id))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &billing.NotFoundError{Kind: "payment", ID: id.String()}
	}
	return nil
}

// getPayment must be called with s.mu held.
func (s *Store) getPayment(ctx context.Context, id billing.PaymentID) (billing.RawTransaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT p.id, p.account_id, p.amount, p.payment_date,
		       p.type_id, COALESCE(t.name, ''), p.method_id, p.status_id,
		       COALESCE(p.notes, ''), p.owed_year, p.owed_month,
		       pl.id, COALESCE(pl.display_name, ''), COALESCE(pl.category_name, ''), COALESCE(pl.branch_name, '')
		FROM payments p
		LEFT JOIN players pl ON pl.id = p.account_id
		LEFT JOIN catalog_entries t ON t.kind = 'type' AND t.id = p.type_id
		WHERE p.id = ?`, int64(id))
	r, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.RawTransaction{}, &billing.NotFoundError{Kind: "payment", ID: id.String()}
	}
	return r, err
}

// =============================================================================
// PLAYERS & CATALOGS
// =============================================================================

// SavePlayer inserts or updates a player.
func (s *Store) SavePlayer(ctx context.Context, a billing.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO players (id, display_name, category_name, branch_name, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			category_name = excluded.category_name,
			branch_name = excluded.branch_name,
			status = excluded.status`,
		strings.TrimSpace(string(a.ID)), a.DisplayName, a.CategoryName, a.BranchName, a.Status,
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// ListPlayers returns every player regardless of status.
func (s *Store) ListPlayers(ctx context.Context) ([]billing.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, display_name, category_name, branch_name, status FROM players ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query players: %w", err)
	}
	defer rows.Close()

	var out []billing.Account
	for rows.Next() {
		var a billing.Account
		var id string
		if err := rows.Scan(&id, &a.DisplayName, &a.CategoryName, &a.BranchName, &a.Status); err != nil {
			return nil, err
		}
		a.ID = billing.AccountID(id)
		out = append(out, a)
	}
	return out, rows.Err()
}

// SaveCatalogEntry inserts or renames one catalog entry.
func (s *Store) SaveCatalogEntry(ctx context.Context, kind billing.CatalogKind, e billing.CatalogEntry) error {
	if !kind.Valid() {
		return &billing.ValidationError{Field: "kind", Message: "unknown catalog " + string(kind)}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO catalog_entries (kind, id, name) VALUES (?, ?, ?)
		ON CONFLICT(kind, id) DO UPDATE SET name = excluded.name`,
		string(kind), int64(e.ID), e.Name,
	)
	return err
}

// ImportRecord stores a statement record verbatim. It is returned by
// AccountStatement after the payment rows and cannot be edited.
func (s *Store) ImportRecord(ctx context.Context, r billing.RawTransaction) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode imported record: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO imported_records (account_id, payload, imported_at) VALUES (?, ?, ?)",
		strings.TrimSpace(r.AccountID), string(payload), time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"payments", "imported_records", "catalog_entries", "players"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Counts reports rows per table (for the admin view).
func (s *Store) Counts(ctx context.Context) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tables := []string{"players", "catalog_entries", "payments", "imported_records"}
	out := make(map[string]int, len(tables))
	for _, table := range tables {
		var n int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, err
		}
		out[table] = n
	}
	return out, nil
}

// Helper functions

func owedColumns(p billing.PaymentPayload) (sql.NullInt64, sql.NullInt64) {
	if p.OwedPeriod == nil || !p.OwedPeriod.Valid() {
		return sql.NullInt64{}, sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(p.OwedPeriod.Year), Valid: true},
		sql.NullInt64{Int64: int64(p.OwedPeriod.Month), Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// writeError maps the owed-period unique index onto billing.ErrPeriodTaken.
func writeError(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique &&
		strings.Contains(se.Error(), "owed_") {
		return fmt.Errorf("%w: %v", billing.ErrPeriodTaken, err)
	}
	return err
}
