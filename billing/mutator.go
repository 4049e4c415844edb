/*
mutator.go - LedgerMutator

PURPOSE:
  Applies create/update/delete to a single payment record and reconciles
  the ledger afterwards.

RULES:
  - Payloads are validated locally first. Field checks run before the
    snapshot is loaded, so a ValidationError never waits on (or is masked
    by) a fetch; catalog membership is checked against the snapshot.
  - A monthly fee always occupies exactly one period. Payloads without an
    explicit owed period take the payment date's month; paying a virtual
    row carries the row's period, and an update keeps the period the
    record already occupies.
  - At most one monthly fee per (account, period): checked against the
    current snapshot here, and enforced again by the backend.
  - Virtual rows cannot be deleted (ErrVirtualRow).
  - After a successful write the full pipeline runs again. The only local
    patch is the optimistic name refresh of a known real row on update.
  - Mutations are serialized with the reconciler's rebuilds: the mutation
    lock is held until the follow-up refresh finishes.
*/
package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// maxRefreshAttempts bounds the follow-up refreshes of a mutation that keep
// being superseded by concurrent cycles.
const maxRefreshAttempts = 3

// MutationResult is the outcome of a successful write.
type MutationResult struct {
	Payment Payment

	// Ledger is the refreshed snapshot; nil when the refresh failed.
	Ledger *Ledger

	// RefreshErr reports a failed follow-up cycle. The write itself succeeded.
	RefreshErr error
}

// Mutator writes payments through a PaymentWriter and keeps a Reconciler's
// ledger in step.
type Mutator struct {
	Writer     PaymentWriter
	Reconciler *Reconciler
}

// NewMutator creates a mutator.
func NewMutator(w PaymentWriter, r *Reconciler) *Mutator {
	return &Mutator{Writer: w, Reconciler: r}
}

// Create stores a new payment.
func (m *Mutator) Create(ctx context.Context, payload PaymentPayload) (MutationResult, error) {
	payload = m.prepare(payload)
	if err := validateFields(payload); err != nil {
		return MutationResult{}, err
	}
	return m.mutate(ctx, func(l *Ledger) (Payment, error) {
		if err := validateMembership(payload, l.Catalogs); err != nil {
			return Payment{}, err
		}
		if err := m.checkSlot(l, payload, 0); err != nil {
			return Payment{}, err
		}
		raw, err := m.Writer.CreatePayment(ctx, payload)
		if err != nil {
			return Payment{}, fmt.Errorf("create payment: %w", err)
		}
		return m.normalize(l, raw), nil
	})
}

// CreateForRow pays the slot a ledger row represents. For a virtual row the
// row's account, period and the monthly-fee type fill any blanks in payload.
func (m *Mutator) CreateForRow(ctx context.Context, row LedgerRow, payload PaymentPayload) (MutationResult, error) {
	if v, ok := row.Entry.(VirtualEntry); ok {
		if payload.AccountID == "" {
			payload.AccountID = v.AccountID
		}
		if payload.TypeID == 0 {
			payload.TypeID = m.Reconciler.Policy.RecurringFeeType
		}
		period := v.Period
		payload.OwedPeriod = &period
	}
	return m.Create(ctx, payload)
}

// Update replaces the payment with id.
func (m *Mutator) Update(ctx context.Context, id PaymentID, payload PaymentPayload) (MutationResult, error) {
	if !id.Valid() {
		return MutationResult{}, &ValidationError{Field: "id", Message: "payment id must be a positive number"}
	}
	if err := validateFields(payload); err != nil {
		return MutationResult{}, err
	}
	var base, patched *Ledger
	res, err := m.mutateWithPatch(ctx, func(l *Ledger) (Payment, error) {
		payload = m.prepare(m.keepPeriod(l, id, payload))
		if err := validateMembership(payload, l.Catalogs); err != nil {
			return Payment{}, err
		}
		if err := m.checkSlot(l, payload, id); err != nil {
			return Payment{}, err
		}
		raw, err := m.Writer.UpdatePayment(ctx, id, payload)
		if err != nil {
			return Payment{}, fmt.Errorf("update payment %s: %w", id, err)
		}
		p := m.normalize(l, raw)
		if _, known := l.FindPayment(id); known {
			base, patched = l, l.PatchPayment(p, m.Reconciler.Policy)
		}
		return p, nil
	}, func() {
		if patched != nil {
			m.Reconciler.replace(base, patched)
		}
	})
	return res, err
}

// Delete removes the payment with id.
func (m *Mutator) Delete(ctx context.Context, id PaymentID) (MutationResult, error) {
	if !id.Valid() {
		return MutationResult{}, ErrVirtualRow
	}
	return m.mutate(ctx, func(l *Ledger) (Payment, error) {
		var p Payment
		if row, ok := l.FindPayment(id); ok {
			p, _ = row.Payment()
		}
		if err := m.Writer.DeletePayment(ctx, id); err != nil {
			return Payment{}, fmt.Errorf("delete payment %s: %w", id, err)
		}
		return p, nil
	})
}

// DeleteRow removes the record behind a ledger row. Virtual rows have none.
func (m *Mutator) DeleteRow(ctx context.Context, row LedgerRow) (MutationResult, error) {
	p, ok := row.Payment()
	if !ok || !p.ID.Valid() {
		return MutationResult{}, ErrVirtualRow
	}
	return m.Delete(ctx, p.ID)
}

// =============================================================================
// INTERNALS
// =============================================================================

func (m *Mutator) mutate(ctx context.Context, write func(*Ledger) (Payment, error)) (MutationResult, error) {
	return m.mutateWithPatch(ctx, write, nil)
}

// mutateWithPatch runs write against the current snapshot under the
// mutation lock, applies the optional optimistic patch, then refreshes.
func (m *Mutator) mutateWithPatch(ctx context.Context, write func(*Ledger) (Payment, error), patch func()) (MutationResult, error) {
	r := m.Reconciler
	r.mutateMu.Lock()
	defer r.mutateMu.Unlock()

	l, err := r.Ledger(ctx)
	if err != nil {
		return MutationResult{}, err
	}

	p, err := write(l)
	if err != nil {
		return MutationResult{}, err
	}
	if patch != nil {
		patch()
	}

	res := MutationResult{Payment: p}
	res.Ledger, res.RefreshErr = m.refresh(ctx)
	return res, nil
}

// refresh runs the follow-up cycle. A cycle superseded by a concurrent one
// (e.g. a scheduler tick) is retried, since only an installed snapshot is
// known to include the write.
func (m *Mutator) refresh(ctx context.Context) (*Ledger, error) {
	var (
		l   *Ledger
		err error
	)
	for attempt := 0; attempt < maxRefreshAttempts; attempt++ {
		l, err = m.Reconciler.Refresh(ctx)
		if !errors.Is(err, ErrSuperseded) {
			return l, err
		}
	}
	return l, err
}

// keepPeriod carries the period a known recurring record already occupies
// into an update payload that names none, so editing the date of a fee
// never moves it to another month.
func (m *Mutator) keepPeriod(l *Ledger, id PaymentID, p PaymentPayload) PaymentPayload {
	if p.OwedPeriod != nil || p.TypeID != m.Reconciler.Policy.RecurringFeeType {
		return p
	}
	if row, ok := l.FindPayment(id); ok && row.Period != nil {
		period := *row.Period
		p.OwedPeriod = &period
	}
	return p
}

// prepare fills the owed period of a monthly fee from its payment date.
func (m *Mutator) prepare(p PaymentPayload) PaymentPayload {
	p.AccountID = AccountID(strings.TrimSpace(string(p.AccountID)))
	p.Notes = strings.TrimSpace(p.Notes)
	if p.TypeID == m.Reconciler.Policy.RecurringFeeType && p.OwedPeriod == nil && !p.PaymentDate.IsZero() {
		period := PeriodOf(p.PaymentDate)
		p.OwedPeriod = &period
	}
	return p
}

func (m *Mutator) checkSlot(l *Ledger, p PaymentPayload, except PaymentID) error {
	if p.TypeID != m.Reconciler.Policy.RecurringFeeType {
		return nil
	}
	if l.SlotTaken(p.AccountID, p.Period(), except) {
		return fmt.Errorf("%s %s: %w", p.AccountID, p.Period(), ErrPeriodTaken)
	}
	return nil
}

func (m *Mutator) normalize(l *Ledger, raw RawTransaction) Payment {
	return NewNormalizer(l.Catalogs, l.Accounts, m.Reconciler.Policy).Normalize(raw)
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidatePayload checks a payload before any network effect. Catalog ids
// are checked for membership only when that catalog was loaded.
func ValidatePayload(p PaymentPayload, catalogs *CatalogIndex) error {
	if err := validateFields(p); err != nil {
		return err
	}
	return validateMembership(p, catalogs)
}

type payloadRef struct {
	field string
	kind  CatalogKind
	id    CatalogID
	what  string
}

func payloadRefs(p PaymentPayload) []payloadRef {
	return []payloadRef{
		{"type_id", CatalogType, p.TypeID, "payment type"},
		{"method_id", CatalogMethod, p.MethodID, "payment method"},
		{"status_id", CatalogStatus, p.StatusID, "payment status"},
	}
}

// validateFields runs the checks that need no catalog.
func validateFields(p PaymentPayload) error {
	if strings.TrimSpace(string(p.AccountID)) == "" {
		return &ValidationError{Field: "account_id", Message: "the player is required"}
	}
	if !p.Amount.IsPositive() {
		return &ValidationError{Field: "amount", Message: "the amount must be greater than zero"}
	}
	if p.PaymentDate.IsZero() {
		return &ValidationError{Field: "payment_date", Message: "a valid payment date is required"}
	}
	for _, ref := range payloadRefs(p) {
		if ref.id <= 0 {
			return &ValidationError{Field: ref.field, Message: "the " + ref.what + " is required"}
		}
	}
	if p.OwedPeriod != nil && !p.OwedPeriod.Valid() {
		return &ValidationError{Field: "owed_period", Message: "the owed period must be a valid month"}
	}
	return nil
}

func validateMembership(p PaymentPayload, catalogs *CatalogIndex) error {
	for _, ref := range payloadRefs(p) {
		if len(catalogs.Entries(ref.kind)) > 0 && !catalogs.Has(ref.kind, ref.id) {
			return &ValidationError{Field: ref.field, Message: "unknown " + ref.what + " " + ref.id.String()}
		}
	}
	return nil
}
