/*
scheduler.go - Periodic ledger refresh

PURPOSE:
  Rebuilds the ledger on an interval, so a cutoff-day crossing turns the
  new month into an overdue row without anyone pressing refresh.

DESIGN:
  - Runs a background goroutine with configurable interval
  - Runs one cycle immediately on start
  - A failed cycle is logged; the reconciler keeps the previous snapshot
  - Stop cancels an in-flight cycle and waits for the goroutine

CONFIGURATION:
  - Interval: How often to refresh (default: 1 hour)
  - Enabled:  Whether scheduler is active (default: true)

USAGE:
  scheduler := NewRefreshScheduler(reconciler, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()
*/
package api

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/dues-engine/billing"
)

// RefreshScheduler periodically runs reconciliation cycles.
type RefreshScheduler struct {
	Reconciler *billing.Reconciler
	Interval   time.Duration
	Enabled    bool
	Log        zerolog.Logger

	ticker *time.Ticker
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	runs   atomic.Int64
}

// NewRefreshScheduler creates a new scheduler.
func NewRefreshScheduler(rec *billing.Reconciler, log zerolog.Logger) *RefreshScheduler {
	return &RefreshScheduler{
		Reconciler: rec,
		Interval:   time.Hour,
		Enabled:    true,
		Log:        log,
	}
}

// Start begins the scheduler. Calling Start twice is a no-op.
func (rs *RefreshScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled || rs.Interval <= 0 {
		rs.Log.Info().Msg("refresh scheduler disabled")
		return
	}
	if rs.ticker != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	rs.cancel = cancel
	rs.ticker = time.NewTicker(rs.Interval)
	rs.wg.Add(1)

	go rs.run(ctx, rs.ticker)

	rs.Log.Info().Dur("interval", rs.Interval).Msg("refresh scheduler started")
}

// Stop stops the scheduler.
func (rs *RefreshScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker == nil {
		return
	}
	rs.ticker.Stop()
	rs.cancel()
	rs.wg.Wait()
	rs.ticker, rs.cancel = nil, nil
	rs.Log.Info().Msg("refresh scheduler stopped")
}

// Runs reports how many cycles the scheduler has attempted.
func (rs *RefreshScheduler) Runs() int {
	return int(rs.runs.Load())
}

func (rs *RefreshScheduler) run(ctx context.Context, ticker *time.Ticker) {
	defer rs.wg.Done()

	// Run immediately on start
	rs.refresh(ctx)

	for {
		select {
		case <-ticker.C:
			rs.refresh(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (rs *RefreshScheduler) refresh(ctx context.Context) {
	_, err := rs.Reconciler.Refresh(ctx)
	rs.runs.Add(1)

	switch {
	case err == nil, errors.Is(err, billing.ErrSuperseded), ctx.Err() != nil:
	default:
		rs.Log.Warn().Err(err).Msg("scheduled refresh failed")
	}
}
