package billing

import (
	"sort"
	"strings"
)

// =============================================================================
// ACCOUNT INDEX - Active players eligible for a due schedule
// =============================================================================

// Literal fallbacks for rows whose account cannot be resolved.
const (
	FallbackDisplayName  = "—"
	FallbackCategoryName = "Sin categoría"
)

// activeStatuses are the player statuses that keep an account billable.
// An empty status counts as active: the collaborator already filters.
var activeStatuses = map[string]bool{
	"":       true,
	"activo": true,
	"activa": true,
	"active": true,
}

// IsActiveStatus reports whether a player status keeps the account billable.
func IsActiveStatus(status string) bool {
	return activeStatuses[strings.ToLower(strings.TrimSpace(status))]
}

// AccountIndex is the authoritative set of accounts that must have a due
// schedule. Built once per cycle; read-only after.
type AccountIndex struct {
	byID  map[AccountID]Account
	order []AccountID
}

// NewAccountIndex indexes the active accounts. Inactive players and entries
// without an id are dropped; the first occurrence of an id wins.
func NewAccountIndex(accounts []Account) *AccountIndex {
	idx := &AccountIndex{byID: make(map[AccountID]Account, len(accounts))}
	for _, a := range accounts {
		a.ID = AccountID(strings.TrimSpace(string(a.ID)))
		if a.ID == "" || !IsActiveStatus(a.Status) {
			continue
		}
		if _, dup := idx.byID[a.ID]; dup {
			continue
		}
		idx.byID[a.ID] = a
		idx.order = append(idx.order, a.ID)
	}
	sort.Slice(idx.order, func(i, j int) bool { return idx.order[i] < idx.order[j] })
	return idx
}

// Get returns the account for id.
func (x *AccountIndex) Get(id AccountID) (Account, bool) {
	if x == nil {
		return Account{}, false
	}
	a, ok := x.byID[id]
	return a, ok
}

// Contains reports whether id is an active account.
func (x *AccountIndex) Contains(id AccountID) bool {
	_, ok := x.Get(id)
	return ok
}

// Len returns the number of active accounts.
func (x *AccountIndex) Len() int {
	if x == nil {
		return 0
	}
	return len(x.order)
}

// Accounts returns the active accounts ordered by id.
func (x *AccountIndex) Accounts() []Account {
	if x == nil {
		return nil
	}
	out := make([]Account, len(x.order))
	for i, id := range x.order {
		out[i] = x.byID[id]
	}
	return out
}

// Only returns an index restricted to id. Used by account-scoped cycles.
func (x *AccountIndex) Only(id AccountID) *AccountIndex {
	a, ok := x.Get(id)
	if !ok {
		return NewAccountIndex(nil)
	}
	return NewAccountIndex([]Account{a})
}
