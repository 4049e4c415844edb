/*
normalize.go - PaymentNormalizer

PURPOSE:
  Converts a RawTransaction into the canonical Payment. Foreign keys are
  resolved to display names through the CatalogIndex; account data comes
  from the embedded account object, then the AccountIndex, then literal
  fallbacks.

FEE LABELS:
  A monthly fee with a valid payment date gets its type name decorated with
  the month label ("Mensualidad" -> "Mensualidad enero 2026"). The label is
  only appended when absent, so normalizing an already-decorated record
  yields the same name. The month is the owed period when the record
  carries one, otherwise the payment date's month.

ERROR POLICY:
  Never fails. Missing or malformed amounts become zero (negative amounts
  are clamped to zero), malformed dates leave PaymentDate zero and skip the
  decoration, unknown catalog ids display as the id itself.
*/
package billing

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Normalizer turns raw statement records into canonical payments.
type Normalizer struct {
	Catalogs *CatalogIndex
	Accounts *AccountIndex
	Policy   Policy
}

// NewNormalizer creates a normalizer for one reconciliation cycle.
func NewNormalizer(catalogs *CatalogIndex, accounts *AccountIndex, policy Policy) *Normalizer {
	return &Normalizer{Catalogs: catalogs, Accounts: accounts, Policy: policy}
}

// Normalize converts one raw record. It is a pure function of its inputs.
func Normalize(raw RawTransaction, catalogs *CatalogIndex, accounts *AccountIndex, policy Policy) Payment {
	return NewNormalizer(catalogs, accounts, policy).Normalize(raw)
}

// Normalize converts one raw record.
func (n *Normalizer) Normalize(raw RawTransaction) Payment {
	p := Payment{
		ID:       parsePaymentID(raw.ID),
		Amount:   parseAmount(raw.Amount),
		RawDate:  strings.TrimSpace(raw.PaymentDate),
		TypeID:   parseCatalogID(raw.TypeID),
		MethodID: parseCatalogID(raw.MethodID),
		StatusID: parseCatalogID(raw.StatusID),
		Notes:    strings.TrimSpace(raw.Notes),
	}
	if t, ok := ParseDate(raw.PaymentDate); ok {
		p.PaymentDate = t
	}
	if owed, ok := raw.OwedPeriod(); ok {
		p.OwedPeriod = &owed
	}

	p.TypeName = n.resolveName(CatalogType, p.TypeID, raw.TypeID, raw.TypeName)
	p.MethodName = n.resolveName(CatalogMethod, p.MethodID, raw.MethodID, raw.MethodName)
	p.StatusName = n.resolveName(CatalogStatus, p.StatusID, raw.StatusID, raw.StatusName)

	n.resolveAccount(&p, raw)

	// A fee without a usable payment date keeps its catalog name.
	if n.Policy.IsRecurring(p) && p.HasDate() {
		if period, ok := p.Period(); ok {
			p.TypeName = DecorateFeeLabel(p.TypeName, period)
		}
	}
	return p
}

// resolveName prefers the catalog, then a name embedded in the record, then
// the id as delivered.
func (n *Normalizer) resolveName(kind CatalogKind, id CatalogID, rawID, embedded string) string {
	if name, ok := n.Catalogs.Name(kind, id); ok {
		return name
	}
	if embedded != "" {
		return embedded
	}
	return strings.TrimSpace(rawID)
}

func (n *Normalizer) resolveAccount(p *Payment, raw RawTransaction) {
	p.AccountID = AccountID(strings.TrimSpace(raw.AccountID))
	if p.AccountID == "" && raw.Account != nil {
		p.AccountID = AccountID(strings.TrimSpace(raw.Account.ID))
	}

	var embedded RawAccount
	if raw.Account != nil {
		embedded = *raw.Account
	}
	indexed, _ := n.Accounts.Get(p.AccountID)

	p.DisplayName = firstNonEmpty(embedded.DisplayName, indexed.DisplayName, FallbackDisplayName)
	p.CategoryName = firstNonEmpty(embedded.CategoryName, indexed.CategoryName, FallbackCategoryName)
	p.BranchName = firstNonEmpty(embedded.BranchName, indexed.BranchName)
}

// DecorateFeeLabel appends the period label to a fee name unless the name
// already carries it.
func DecorateFeeLabel(name string, period DuePeriod) string {
	label := period.Label()
	name = strings.TrimSpace(name)
	if name == "" {
		return FeeLabel(period)
	}
	if strings.Contains(strings.ToLower(name), label) {
		return name
	}
	return name + " " + label
}

// FeeLabel is the type name shown for a monthly fee of period.
func FeeLabel(period DuePeriod) string {
	return "Mensualidad " + period.Label()
}

// =============================================================================
// SCALAR PARSING
// =============================================================================

func parsePaymentID(s string) PaymentID {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || f != float64(int64(f)) {
			return 0
		}
		n = int64(f)
	}
	if n <= 0 {
		return 0
	}
	return PaymentID(n)
}

func parseCatalogID(s string) CatalogID {
	return CatalogID(parsePaymentID(s))
}

func parseAmount(s string) decimal.Decimal {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() {
		return decimal.Zero
	}
	return d
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
