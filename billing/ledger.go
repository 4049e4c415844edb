/*
ledger.go - Immutable ledger snapshot

PURPOSE:
  A Ledger is the output of one reconciliation cycle: the ordered rows plus
  the schedule and indexes they were built from. A new cycle replaces the
  whole snapshot; nothing patches rows in place.

  The single exception is PatchPayment, which returns a NEW snapshot with a
  known real row's catalog names refreshed after a successful update, until
  the follow-up refresh lands.
*/
package billing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Ledger is one reconciliation cycle's result.
type Ledger struct {
	CycleID  string
	BuiltAt  time.Time
	AsOf     time.Time
	Account  *AccountID // set for account-scoped cycles
	Schedule []DuePeriod
	Catalogs *CatalogIndex
	Accounts *AccountIndex

	rows []LedgerRow
}

// NewLedger wraps a built row set. The slice is owned by the ledger afterwards.
func NewLedger(cycleID string, asOf time.Time, schedule []DuePeriod, catalogs *CatalogIndex, accounts *AccountIndex, rows []LedgerRow) *Ledger {
	return &Ledger{
		CycleID:  cycleID,
		BuiltAt:  time.Now().UTC(),
		AsOf:     asOf,
		Schedule: schedule,
		Catalogs: catalogs,
		Accounts: accounts,
		rows:     rows,
	}
}

// Rows returns a copy of the ordered rows.
func (l *Ledger) Rows() []LedgerRow {
	if l == nil {
		return nil
	}
	out := make([]LedgerRow, len(l.rows))
	copy(out, l.rows)
	return out
}

// Len returns the row count.
func (l *Ledger) Len() int {
	if l == nil {
		return 0
	}
	return len(l.rows)
}

// ForAccount returns the rows belonging to one account, in ledger order.
func (l *Ledger) ForAccount(id AccountID) []LedgerRow {
	var out []LedgerRow
	for _, r := range l.rowsOrNil() {
		if r.AccountID == id {
			out = append(out, r)
		}
	}
	return out
}

// Row finds a row by dedupe key.
func (l *Ledger) Row(key string) (LedgerRow, bool) {
	for _, r := range l.rowsOrNil() {
		if r.DedupeKey == key {
			return r, true
		}
	}
	return LedgerRow{}, false
}

// FindPayment finds the real row backed by payment id.
func (l *Ledger) FindPayment(id PaymentID) (LedgerRow, bool) {
	if !id.Valid() {
		return LedgerRow{}, false
	}
	return l.Row("ID-" + id.String())
}

// SlotTaken reports whether a real monthly-fee row already fills the
// (account, period) slot, ignoring the payment with id except.
func (l *Ledger) SlotTaken(account AccountID, period DuePeriod, except PaymentID) bool {
	for _, r := range l.rowsOrNil() {
		p, ok := r.Payment()
		if !ok || r.AccountID != account || r.Period == nil {
			continue
		}
		if except.Valid() && p.ID == except {
			continue
		}
		if r.Period.Equal(period) {
			return true
		}
	}
	return false
}

func (l *Ledger) rowsOrNil() []LedgerRow {
	if l == nil {
		return nil
	}
	return l.rows
}

// PatchPayment returns a copy of the ledger where the real row backed by
// p.ID shows p's amount, date, notes and catalog names resolved through the
// loaded catalogs. Unknown ids return the receiver unchanged.
func (l *Ledger) PatchPayment(p Payment, policy Policy) *Ledger {
	row, ok := l.FindPayment(p.ID)
	if !ok {
		return l
	}
	old, _ := row.Payment()

	patched := old
	patched.Amount = p.Amount
	patched.PaymentDate = p.PaymentDate
	patched.RawDate = p.RawDate
	patched.Notes = p.Notes
	patched.TypeID, patched.MethodID, patched.StatusID = p.TypeID, p.MethodID, p.StatusID
	patched.TypeName = l.Catalogs.NameOr(CatalogType, p.TypeID)
	patched.MethodName = l.Catalogs.NameOr(CatalogMethod, p.MethodID)
	patched.StatusName = l.Catalogs.NameOr(CatalogStatus, p.StatusID)
	if p.OwedPeriod != nil {
		owed := *p.OwedPeriod
		patched.OwedPeriod = &owed
	}
	if policy.IsRecurring(patched) {
		if period, ok := patched.Period(); ok {
			patched.TypeName = DecorateFeeLabel(patched.TypeName, period)
		}
	}

	b := RowBuilder{Policy: policy}
	next := *l
	next.rows = make([]LedgerRow, len(l.rows))
	for i, r := range l.rows {
		if r.DedupeKey == row.DedupeKey {
			r = b.realRow(patched, r.DedupeKey)
		}
		next.rows[i] = r
	}
	SortRows(next.rows)
	return &next
}

// =============================================================================
// TOTALS & COMPLETENESS
// =============================================================================

// Totals summarizes a ledger.
type Totals struct {
	Rows        int
	VirtualRows int
	PaidAmount  decimal.Decimal
	ByStatus    map[string]int
}

// Totals computes row counts per status and the paid amount.
func (l *Ledger) Totals() Totals {
	t := Totals{PaidAmount: decimal.Zero, ByStatus: make(map[string]int)}
	for _, r := range l.rowsOrNil() {
		t.Rows++
		t.ByStatus[r.StatusLabel]++
		if r.IsVirtual() {
			t.VirtualRows++
			continue
		}
		if r.StatusLabel == StatusPaid {
			t.PaidAmount = t.PaidAmount.Add(r.Amount())
		}
	}
	return t
}

// Gap is an (account, period) pair without exactly one row.
type Gap struct {
	AccountID AccountID
	Period    DuePeriod
	Rows      int
}

func (g Gap) String() string {
	return fmt.Sprintf("%s %s: %d rows", g.AccountID, g.Period, g.Rows)
}

// CheckCompleteness reports every active account and owed period that is
// covered by zero or more than one row.
func CheckCompleteness(l *Ledger) []Gap {
	if l == nil {
		return nil
	}
	counts := make(map[slot]int)
	for _, r := range l.rows {
		if r.Period != nil {
			counts[slot{account: r.AccountID, period: *r.Period}]++
		}
	}
	var gaps []Gap
	for _, acc := range l.Accounts.Accounts() {
		for _, period := range l.Schedule {
			n := counts[slot{account: acc.ID, period: period}]
			if n != 1 {
				gaps = append(gaps, Gap{AccountID: acc.ID, Period: period, Rows: n})
			}
		}
	}
	return gaps
}
