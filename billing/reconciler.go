/*
reconciler.go - Reconciliation cycle orchestration

PURPOSE:
  Runs the whole pipeline (fetch -> index -> normalize -> schedule -> rows)
  and owns the current Ledger snapshot.

CYCLE:
  1. Statement, active accounts and the three catalogs are independent
     reads; they run concurrently under one bounded timeout.
  2. Row building waits for all five to complete.
  3. The new snapshot fully replaces the previous one.

CONCURRENCY:
  - A new Refresh cancels the in-flight one. A cycle that finishes after a
    newer one started is discarded with ErrSuperseded.
  - A failed cycle never empties the ledger: the previous good snapshot is
    retained and the error (TransientError, or AuthError unchanged) is
    returned to the caller.
  - Mutations hold mutateMu until their follow-up refresh has finished, so
    no write races a half-refreshed ledger (see mutator.go).
*/
package billing

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultFetchTimeout bounds every collaborator read in a cycle.
const DefaultFetchTimeout = 10 * time.Second

// Reconciler owns the current ledger and serializes its rebuilds.
type Reconciler struct {
	Source       Source
	Policy       Policy
	FetchTimeout time.Duration
	Clock        func() time.Time
	Log          zerolog.Logger

	mu         sync.Mutex
	current    *Ledger
	generation uint64
	cancel     context.CancelFunc

	mutateMu sync.Mutex
}

// NewReconciler creates a reconciler with default timeout and wall clock.
func NewReconciler(src Source, policy Policy, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		Source:       src,
		Policy:       policy,
		FetchTimeout: DefaultFetchTimeout,
		Clock:        time.Now,
		Log:          log,
	}
}

func (r *Reconciler) now() time.Time {
	if r.Clock == nil {
		return time.Now()
	}
	return r.Clock()
}

// Current returns the latest good snapshot, or nil before the first cycle.
func (r *Reconciler) Current() *Ledger {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Ledger returns the current snapshot, running a cycle first if none exists.
func (r *Reconciler) Ledger(ctx context.Context) (*Ledger, error) {
	if l := r.Current(); l != nil {
		return l, nil
	}
	return r.Refresh(ctx)
}

// Refresh runs a full cycle and installs its result.
func (r *Reconciler) Refresh(ctx context.Context) (*Ledger, error) {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.generation++
	gen := r.generation
	cycleCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()
	defer cancel()

	started := time.Now()
	ledger, err := Reconcile(cycleCtx, r.Source, r.Policy, r.now(), nil, r.FetchTimeout)

	r.mu.Lock()
	defer r.mu.Unlock()

	if gen != r.generation {
		r.Log.Debug().Uint64("generation", gen).Msg("reconciliation cycle superseded")
		return nil, ErrSuperseded
	}
	r.cancel = nil

	if err != nil {
		evt := r.Log.Warn().Err(err).Dur("duration", time.Since(started))
		if r.current != nil {
			evt = evt.Str("retained_cycle", r.current.CycleID)
		}
		evt.Msg("reconciliation cycle failed")
		return nil, err
	}

	r.current = ledger
	totals := ledger.Totals()
	r.Log.Info().
		Str("cycle", ledger.CycleID).
		Int("rows", totals.Rows).
		Int("virtual_rows", totals.VirtualRows).
		Int("accounts", ledger.Accounts.Len()).
		Int("periods", len(ledger.Schedule)).
		Dur("duration", time.Since(started)).
		Msg("reconciliation cycle complete")
	return ledger, nil
}

// RefreshAccount runs an account-scoped cycle. The result is returned but
// not installed: the shared snapshot always covers every account.
func (r *Reconciler) RefreshAccount(ctx context.Context, account AccountID) (*Ledger, error) {
	return Reconcile(ctx, r.Source, r.Policy, r.now(), &account, r.FetchTimeout)
}

// replace installs l only if base is still the current snapshot.
func (r *Reconciler) replace(base, l *Ledger) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != base {
		return false
	}
	r.current = l
	return true
}

// =============================================================================
// PIPELINE
// =============================================================================

// Reconcile runs one cycle against src as of now. A non-nil account scopes
// the statement and the virtual-row synthesis to that account.
func Reconcile(ctx context.Context, src Source, policy Policy, now time.Time, account *AccountID, timeout time.Duration) (*Ledger, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var (
		raws     []RawTransaction
		accounts []Account
		catalogs = make([][]CatalogEntry, len(CatalogKinds))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		raws, err = src.AccountStatement(gctx, account)
		if IsNotFound(err) {
			raws, err = nil, nil
		}
		return fetchError("account statement", err)
	})
	g.Go(func() error {
		var err error
		accounts, err = src.ActiveAccounts(gctx)
		return fetchError("active accounts", err)
	})
	for i, kind := range CatalogKinds {
		g.Go(func() error {
			entries, err := src.Catalog(gctx, kind)
			if IsNotFound(err) {
				return nil
			}
			catalogs[i] = entries
			return fetchError("catalog "+string(kind), err)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	catalogIdx := NewCatalogIndex(catalogs[0], catalogs[1], catalogs[2])
	accountIdx := NewAccountIndex(accounts)
	if account != nil {
		accountIdx = accountIdx.Only(*account)
	}

	normalizer := NewNormalizer(catalogIdx, accountIdx, policy)
	payments := make([]Payment, 0, len(raws))
	for _, raw := range raws {
		p := normalizer.Normalize(raw)
		if account != nil && p.AccountID != *account {
			continue
		}
		payments = append(payments, p)
	}

	schedule := policy.Schedule(now)
	rows := BuildRows(payments, accountIdx, schedule, policy)

	ledger := NewLedger(uuid.NewString(), now, schedule, catalogIdx, accountIdx, rows)
	ledger.Account = account
	return ledger, nil
}

// fetchError classifies a collaborator read failure. Authorization failures
// pass through unchanged; everything else is transient.
func fetchError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnauthorized) {
		return err
	}
	var te *TransientError
	if errors.As(err, &te) {
		return err
	}
	return &TransientError{Op: op, Err: err}
}
