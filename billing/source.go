/*
source.go - Collaborator interfaces

PURPOSE:
  Defines the boundary between the engine and whatever serves the academy
  data. The engine never talks to a transport directly; it consumes these
  interfaces.

KEY INTERFACES:
  Source:        Read side (statement, active accounts, catalogs)
  PaymentWriter: Write side (create/update/delete one payment record)
  Backend:       Both

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite backend
  - billing/store/memory.go: In-memory backend for tests and demos

ERRORS:
  Implementations return *AuthError for authorization failures,
  *NotFoundError for unknown records, ErrPeriodTaken when a second monthly
  fee would land in an occupied period, and *BackendError for anything the
  backend explains itself. Other errors are treated as transient by the
  reconciler.
*/
package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Source is the read side of the collaborator.
type Source interface {
	// AccountStatement returns raw transactions, optionally for one account.
	AccountStatement(ctx context.Context, account *AccountID) ([]RawTransaction, error)

	// ActiveAccounts returns the players that must have a due schedule.
	ActiveAccounts(ctx context.Context) ([]Account, error)

	// Catalog returns one reference list.
	Catalog(ctx context.Context, kind CatalogKind) ([]CatalogEntry, error)
}

// PaymentWriter is the write side of the collaborator. Writers return the
// stored record as a raw transaction; the mutator normalizes it.
type PaymentWriter interface {
	CreatePayment(ctx context.Context, payload PaymentPayload) (RawTransaction, error)
	UpdatePayment(ctx context.Context, id PaymentID, payload PaymentPayload) (RawTransaction, error)
	DeletePayment(ctx context.Context, id PaymentID) error
}

// Backend is a full collaborator.
type Backend interface {
	Source
	PaymentWriter
}

// =============================================================================
// PAYMENT PAYLOAD
// =============================================================================

// PaymentPayload is the body of a create or update.
type PaymentPayload struct {
	AccountID   AccountID
	Amount      decimal.Decimal
	PaymentDate time.Time
	TypeID      CatalogID
	MethodID    CatalogID
	StatusID    CatalogID
	Notes       string

	// OwedPeriod places a monthly fee in a specific slot. Filled from the
	// virtual row when paying an overdue month.
	OwedPeriod *DuePeriod
}

// Period resolves the slot this payload occupies: the explicit owed period,
// else the payment date's month.
func (p PaymentPayload) Period() DuePeriod {
	if p.OwedPeriod != nil && p.OwedPeriod.Valid() {
		return *p.OwedPeriod
	}
	return PeriodOf(p.PaymentDate)
}

// ToRaw renders the payload as the backend would echo it.
func (p PaymentPayload) ToRaw(id PaymentID) RawTransaction {
	r := RawTransaction{
		AccountID:   string(p.AccountID),
		Amount:      p.Amount.String(),
		PaymentDate: p.PaymentDate.Format("2006-01-02"),
		TypeID:      p.TypeID.String(),
		MethodID:    p.MethodID.String(),
		StatusID:    p.StatusID.String(),
		Notes:       p.Notes,
	}
	if id.Valid() {
		r.ID = id.String()
	}
	if p.OwedPeriod != nil {
		r.OwedYear, r.OwedMonth = p.OwedPeriod.Year, int(p.OwedPeriod.Month)
	}
	return r
}
