// Package store provides in-memory billing.Backend implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/dues-engine/billing"
)

// =============================================================================
// MEMORY BACKEND - In-memory implementation (for testing/dev)
// =============================================================================

// Hook runs before every operation; a non-nil error aborts it. Ops are
// "statement", "accounts", "catalog", "create", "update" and "delete".
type Hook func(ctx context.Context, op string) error

type Memory struct {
	mu       sync.RWMutex
	payments map[billing.PaymentID]billing.PaymentPayload
	nextID   billing.PaymentID
	players  []billing.Account
	catalogs map[billing.CatalogKind][]billing.CatalogEntry
	raw      []billing.RawTransaction

	hook Hook
}

func NewMemory() *Memory {
	return &Memory{
		payments: make(map[billing.PaymentID]billing.PaymentPayload),
		catalogs: make(map[billing.CatalogKind][]billing.CatalogEntry),
		nextID:   1,
	}
}

// SetHook installs a hook; nil removes it.
func (m *Memory) SetHook(h Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = h
}

// AddPlayer registers a player of any status.
func (m *Memory) AddPlayer(a billing.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.players = append(m.players, a)
}

// SetCatalog replaces one reference list.
func (m *Memory) SetCatalog(kind billing.CatalogKind, entries []billing.CatalogEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.catalogs[kind] = append([]billing.CatalogEntry(nil), entries...)
}

// AddRaw appends a statement record verbatim, bypassing the payment table.
// Used to replay duplicate deliveries and legacy records.
func (m *Memory) AddRaw(r billing.RawTransaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.raw = append(m.raw, r)
}

func (m *Memory) before(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	h := m.hook
	m.mu.RUnlock()
	if h == nil {
		return nil
	}
	return h(ctx, op)
}

// =============================================================================
// SOURCE
// =============================================================================

func (m *Memory) AccountStatement(ctx context.Context, account *billing.AccountID) ([]billing.RawTransaction, error) {
	if err := m.before(ctx, "statement"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]billing.PaymentID, 0, len(m.payments))
	for id := range m.payments {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []billing.RawTransaction
	for _, id := range ids {
		p := m.payments[id]
		if account != nil && p.AccountID != *account {
			continue
		}
		out = append(out, m.rawLocked(id, p))
	}
	for _, r := range m.raw {
		if account != nil && billing.AccountID(r.AccountID) != *account {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *Memory) rawLocked(id billing.PaymentID, p billing.PaymentPayload) billing.RawTransaction {
	r := p.ToRaw(id)
	for _, a := range m.players {
		if a.ID == p.AccountID {
			r.Account = &billing.RawAccount{
				ID:           string(a.ID),
				DisplayName:  a.DisplayName,
				CategoryName: a.CategoryName,
				BranchName:   a.BranchName,
			}
			break
		}
	}
	return r
}

func (m *Memory) ActiveAccounts(ctx context.Context) ([]billing.Account, error) {
	if err := m.before(ctx, "accounts"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []billing.Account
	for _, a := range m.players {
		if billing.IsActiveStatus(a.Status) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *Memory) Catalog(ctx context.Context, kind billing.CatalogKind) ([]billing.CatalogEntry, error) {
	if err := m.before(ctx, "catalog"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]billing.CatalogEntry(nil), m.catalogs[kind]...), nil
}

// =============================================================================
// PAYMENT WRITER
// =============================================================================

func (m *Memory) CreatePayment(ctx context.Context, p billing.PaymentPayload) (billing.RawTransaction, error) {
	if err := m.before(ctx, "create"); err != nil {
		return billing.RawTransaction{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.periodTakenLocked(p, 0) {
		return billing.RawTransaction{}, billing.ErrPeriodTaken
	}
	id := m.nextID
	m.nextID++
	m.payments[id] = p
	return m.rawLocked(id, p), nil
}

func (m *Memory) UpdatePayment(ctx context.Context, id billing.PaymentID, p billing.PaymentPayload) (billing.RawTransaction, error) {
	if err := m.before(ctx, "update"); err != nil {
		return billing.RawTransaction{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.payments[id]; !ok {
		return billing.RawTransaction{}, &billing.NotFoundError{Kind: "payment", ID: id.String()}
	}
	if m.periodTakenLocked(p, id) {
		return billing.RawTransaction{}, billing.ErrPeriodTaken
	}
	m.payments[id] = p
	return m.rawLocked(id, p), nil
}

func (m *Memory) DeletePayment(ctx context.Context, id billing.PaymentID) error {
	if err := m.before(ctx, "delete"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.payments[id]; !ok {
		return &billing.NotFoundError{Kind: "payment", ID: id.String()}
	}
	delete(m.payments, id)
	return nil
}

// periodTakenLocked mirrors the backend's unique (account, type, owed period) index.
func (m *Memory) periodTakenLocked(p billing.PaymentPayload, except billing.PaymentID) bool {
	if p.OwedPeriod == nil {
		return false
	}
	for id, other := range m.payments {
		if id == except || other.OwedPeriod == nil {
			continue
		}
		if other.AccountID == p.AccountID && other.TypeID == p.TypeID && other.OwedPeriod.Equal(*p.OwedPeriod) {
			return true
		}
	}
	return false
}
