/*
rows.go - LedgerRowBuilder

PURPOSE:
  Merges normalized real payments with synthesized virtual "overdue" rows
  so every active account has exactly one row per owed period, then orders
  the result for presentation.

ALGORITHM:
  1. Index satisfied periods: monthly fees with the paid status, keyed by
     (account, period). The explicit owed period wins over the payment date.
  2. Materialize real rows, collapsing duplicates by dedupe key (first wins):
       "ID-<id>"                                  persisted records
       "PERIOD-<account>-<type>-<YYYY-MM>"        monthly fee without id
       "RAW-<account>-<type>-<date>-<amount>"     anything else
  3. Synthesize a virtual VENCIDO row for every (active account, owed
     period) that is neither satisfied nor occupied by a real monthly fee.
  4. Order: VENCIDO, then PAGADO, then everything else. Within a status,
     virtual rows come before real ones; virtual rows sort oldest period
     first, real rows most recent payment first.

INVARIANTS:
  - No two rows share a dedupe key.
  - Unknown or inactive accounts never get virtual rows, but their real
    payments are always shown.
  - Malformed records are included with safe defaults, never dropped.
*/
package billing

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status labels shown on ledger rows.
const (
	StatusPaid    = "PAGADO"
	StatusOverdue = "VENCIDO"
)

// =============================================================================
// ROW ENTRIES - Real(Payment) | Virtual(Account, Period)
// =============================================================================

// Entry is what a ledger row stands for. It is either a RealEntry or a
// VirtualEntry; the unexported method keeps the set closed.
type Entry interface {
	entry()
}

// RealEntry is a row backed by a transaction record.
type RealEntry struct {
	Payment Payment
}

// VirtualEntry is an owed period with no backing record.
type VirtualEntry struct {
	AccountID AccountID
	Period    DuePeriod
}

func (RealEntry) entry()    {}
func (VirtualEntry) entry() {}

// =============================================================================
// LEDGER ROW
// =============================================================================

// LedgerRow is one presentation row. Rows are immutable snapshots: edits go
// through the Mutator and force a rebuild.
type LedgerRow struct {
	Entry Entry

	AccountID    AccountID
	DisplayName  string
	CategoryName string
	BranchName   string
	TypeName     string
	StatusLabel  string
	DedupeKey    string

	// Period is the obligation slot the row fills, when it has one.
	Period *DuePeriod
}

// IsVirtual reports whether the row is a synthesized overdue period.
func (r LedgerRow) IsVirtual() bool {
	_, ok := r.Entry.(VirtualEntry)
	return ok
}

// Payment returns the backing payment of a real row.
func (r LedgerRow) Payment() (Payment, bool) {
	re, ok := r.Entry.(RealEntry)
	return re.Payment, ok
}

// Amount returns the row amount; virtual rows are zero.
func (r LedgerRow) Amount() decimal.Decimal {
	if p, ok := r.Payment(); ok {
		return p.Amount
	}
	return decimal.Zero
}

// CanDelete reports whether a delete action is available for the row.
func (r LedgerRow) CanDelete() bool {
	p, ok := r.Payment()
	return ok && p.ID.Valid()
}

func (r LedgerRow) timestamp() time.Time {
	if p, ok := r.Payment(); ok {
		return p.PaymentDate
	}
	return time.Time{}
}

// =============================================================================
// DEDUPE KEYS
// =============================================================================

// DedupeKey derives the uniqueness key for a real payment.
func DedupeKey(p Payment, policy Policy) string {
	if p.ID.Valid() {
		return "ID-" + p.ID.String()
	}
	if policy.IsRecurring(p) {
		if period, ok := p.Period(); ok {
			return periodKey(p.AccountID, p.TypeID, period)
		}
	}
	return "RAW-" + string(p.AccountID) + "-" + p.TypeID.String() + "-" + p.RawDate + "-" + p.Amount.String()
}

func periodKey(account AccountID, typeID CatalogID, period DuePeriod) string {
	return "PERIOD-" + string(account) + "-" + typeID.String() + "-" + period.String()
}

type slot struct {
	account AccountID
	period  DuePeriod
}

// =============================================================================
// BUILDER
// =============================================================================

// RowBuilder builds the ledger row set for one reconciliation pass.
type RowBuilder struct {
	Policy Policy
}

// BuildRows is the package-level form of RowBuilder.Build.
func BuildRows(payments []Payment, accounts *AccountIndex, schedule []DuePeriod, policy Policy) []LedgerRow {
	return RowBuilder{Policy: policy}.Build(payments, accounts, schedule)
}

// Build merges real and virtual rows and orders them.
func (b RowBuilder) Build(payments []Payment, accounts *AccountIndex, schedule []DuePeriod) []LedgerRow {
	satisfied := make(map[slot]bool)
	occupied := make(map[slot]bool)
	for _, p := range payments {
		if !b.Policy.IsRecurring(p) {
			continue
		}
		period, ok := p.Period()
		if !ok {
			continue
		}
		s := slot{account: p.AccountID, period: period}
		occupied[s] = true
		if b.Policy.IsPaid(p) {
			satisfied[s] = true
		}
	}

	rows := make([]LedgerRow, 0, len(payments)+accounts.Len()*len(schedule))
	seen := make(map[string]bool, len(payments))
	for _, p := range payments {
		key := DedupeKey(p, b.Policy)
		if seen[key] {
			continue
		}
		seen[key] = true
		rows = append(rows, b.realRow(p, key))
	}

	for _, acc := range accounts.Accounts() {
		for _, period := range schedule {
			s := slot{account: acc.ID, period: period}
			if satisfied[s] || occupied[s] {
				continue
			}
			key := periodKey(acc.ID, b.Policy.RecurringFeeType, period)
			if seen[key] {
				continue
			}
			seen[key] = true
			rows = append(rows, virtualRow(acc, period, key))
		}
	}

	SortRows(rows)
	return rows
}

func (b RowBuilder) realRow(p Payment, key string) LedgerRow {
	row := LedgerRow{
		Entry:        RealEntry{Payment: p},
		AccountID:    p.AccountID,
		DisplayName:  p.DisplayName,
		CategoryName: p.CategoryName,
		BranchName:   p.BranchName,
		TypeName:     p.TypeName,
		StatusLabel:  b.statusLabel(p),
		DedupeKey:    key,
	}
	if b.Policy.IsRecurring(p) {
		if period, ok := p.Period(); ok {
			row.Period = &period
		}
	}
	return row
}

func (b RowBuilder) statusLabel(p Payment) string {
	if b.Policy.IsPaid(p) {
		return StatusPaid
	}
	return strings.ToUpper(strings.TrimSpace(p.StatusName))
}

func virtualRow(acc Account, period DuePeriod, key string) LedgerRow {
	return LedgerRow{
		Entry:        VirtualEntry{AccountID: acc.ID, Period: period},
		AccountID:    acc.ID,
		DisplayName:  firstNonEmpty(acc.DisplayName, FallbackDisplayName),
		CategoryName: firstNonEmpty(acc.CategoryName, FallbackCategoryName),
		BranchName:   acc.BranchName,
		TypeName:     FeeLabel(period),
		StatusLabel:  StatusOverdue,
		DedupeKey:    key,
		Period:       &period,
	}
}

// =============================================================================
// ORDERING
// =============================================================================

// StatusWeight ranks status labels: overdue first, then paid, then the rest.
func StatusWeight(label string) int {
	switch label {
	case StatusOverdue:
		return 0
	case StatusPaid:
		return 1
	default:
		return 2
	}
}

// SortRows orders rows in place for presentation.
func SortRows(rows []LedgerRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		return rowLess(rows[i], rows[j])
	})
}

func rowLess(a, b LedgerRow) bool {
	wa, wb := StatusWeight(a.StatusLabel), StatusWeight(b.StatusLabel)
	if wa != wb {
		return wa < wb
	}
	va, aVirtual := a.Entry.(VirtualEntry)
	vb, bVirtual := b.Entry.(VirtualEntry)
	if aVirtual != bVirtual {
		return aVirtual
	}
	if aVirtual {
		if c := va.Period.Compare(vb.Period); c != 0 {
			return c < 0
		}
		return va.AccountID < vb.AccountID
	}
	ta, tb := a.timestamp(), b.timestamp()
	if !ta.Equal(tb) {
		return ta.After(tb)
	}
	return a.DedupeKey < b.DedupeKey
}
