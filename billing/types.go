/*
Package billing provides the payment ledger reconciliation engine.

PURPOSE:
  Turns an uneven collection of payment transactions per player into a
  complete, gap-free monthly billing ledger. Real payments are normalized
  and deduplicated; months that were never paid are synthesized as
  "virtual" overdue rows; the result is ordered for presentation.

KEY CONCEPTS IN THIS FILE (types.go):
  - AccountID / PaymentID / CatalogID: Type-safe identifiers
  - Account: An active player that can owe monthly fees
  - Payment: Canonical payment after normalization
  - Policy: Billing rules (recurring fee type, paid status, start, cutoff)

PIPELINE:
  CatalogIndex + AccountIndex  ->  Normalize  ->  Payment
  OwedPeriods(now, cutoff, start)              ->  []DuePeriod
  BuildRows(payments, accounts, schedule)      ->  []LedgerRow

  Reconciler runs the whole pipeline once per cycle; Mutator applies
  create/update/delete and forces a new cycle.

SEE ALSO:
  - period.go: DuePeriod calendar arithmetic
  - schedule.go: DueScheduleGenerator
  - normalize.go: PaymentNormalizer
  - rows.go: LedgerRowBuilder
  - mutator.go: LedgerMutator
  - reconciler.go: Cycle orchestration
*/
package billing

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// AccountID identifies a player (national ID number in practice).
type AccountID string

// PaymentID is the backend record id. Zero means "not persisted".
type PaymentID int64

// Valid reports whether the id refers to a persisted record.
func (id PaymentID) Valid() bool { return id > 0 }

func (id PaymentID) String() string { return strconv.FormatInt(int64(id), 10) }

// CatalogID identifies a payment type, method or status. Zero means unresolved.
type CatalogID int64

func (id CatalogID) String() string { return strconv.FormatInt(int64(id), 10) }

// =============================================================================
// ACCOUNT
// =============================================================================

// Account is one player that can owe monthly fees.
type Account struct {
	ID           AccountID
	DisplayName  string
	CategoryName string
	BranchName   string
	Status       string
}

// =============================================================================
// PAYMENT - Canonical payment after normalization
// =============================================================================

// Payment is the canonical shape every raw transaction is normalized into.
type Payment struct {
	ID        PaymentID
	AccountID AccountID

	// Denormalized account data, resolved from the embedded account object
	// or the AccountIndex.
	DisplayName  string
	CategoryName string
	BranchName   string

	Amount      decimal.Decimal
	PaymentDate time.Time // zero when missing or malformed
	RawDate     string    // date exactly as delivered, used for legacy dedupe keys

	TypeID     CatalogID
	TypeName   string
	MethodID   CatalogID
	MethodName string
	StatusID   CatalogID
	StatusName string

	Notes string

	// OwedPeriod is the explicit obligation period carried by the record.
	OwedPeriod *DuePeriod
}

// HasDate reports whether the payment carries a usable calendar date.
func (p Payment) HasDate() bool { return !p.PaymentDate.IsZero() }

// Period resolves the obligation period: the explicit owed period first,
// then the payment date.
func (p Payment) Period() (DuePeriod, bool) {
	if p.OwedPeriod != nil && p.OwedPeriod.Valid() {
		return *p.OwedPeriod, true
	}
	if p.HasDate() {
		return PeriodOf(p.PaymentDate), true
	}
	return DuePeriod{}, false
}

// =============================================================================
// POLICY - Billing rules for one academy
// =============================================================================

// Policy holds the billing rules the engine is parameterized with.
type Policy struct {
	// RecurringFeeType is the payment type id of the monthly fee.
	RecurringFeeType CatalogID

	// PaidStatus is the status id that marks a payment as settled.
	PaidStatus CatalogID

	// Start is the first month a monthly fee is owed.
	Start DuePeriod

	// CutoffDay is the day-of-month after which the current month's fee
	// becomes part of the owed schedule.
	CutoffDay int
}

// DefaultPolicy returns the academy's standard billing rules.
func DefaultPolicy() Policy {
	return Policy{
		RecurringFeeType: 1,
		PaidStatus:       1,
		Start:            DuePeriod{Year: 2025, Month: time.December},
		CutoffDay:        5,
	}
}

// IsRecurring reports whether the payment is a monthly fee.
func (pol Policy) IsRecurring(p Payment) bool {
	return p.TypeID != 0 && p.TypeID == pol.RecurringFeeType
}

// IsPaid reports whether the payment carries the paid status.
func (pol Policy) IsPaid(p Payment) bool {
	return p.StatusID != 0 && p.StatusID == pol.PaidStatus
}

// Schedule computes the owed periods for the given instant under this policy.
func (pol Policy) Schedule(now time.Time) []DuePeriod {
	return OwedPeriods(now, pol.CutoffDay, pol.Start.Year, int(pol.Start.Month))
}
