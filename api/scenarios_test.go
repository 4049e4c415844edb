/*
scenarios_test.go - Tests for the demo scenarios and the refresh scheduler

Each scenario is loaded through the HTTP API and checked for row counts,
completeness and the dedupe behaviour it is meant to demonstrate.
*/
package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/dues-engine/billing"
)

func countByAccount(rows []LedgerRowDTO) map[string]int {
	out := make(map[string]int)
	for _, r := range rows {
		out[r.AccountID]++
	}
	return out
}

// =============================================================================
// SCENARIO LOADING
// =============================================================================

func TestListScenarios(t *testing.T) {
	_, router := setupTestHandler(t)

	rr := do(t, router, http.MethodGet, "/api/scenarios", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	list := decode[[]ScenarioDTO](t, rr)
	require.Len(t, list, 3)
	ids := make([]string, len(list))
	for i, s := range list {
		ids[i] = s.ID
	}
	assert.Equal(t, []string{"fresh-season", "mixed-academy", "legacy-import"}, ids)
}

func TestLoadScenario_AllComplete(t *testing.T) {
	tests := []struct {
		id        string
		rows      int
		virtual   int
		byAccount map[string]int
	}{
		{
			id:      "fresh-season",
			rows:    16,
			virtual: 16,
			byAccount: map[string]int{
				"V-30111222": 4, "V-30222333": 4, "V-30333444": 4, "V-30444555": 4,
			},
		},
		{
			id:      "mixed-academy",
			rows:    20,
			virtual: 10,
			byAccount: map[string]int{
				"V-30111222": 5, "V-30222333": 5, "V-30333444": 4, "V-30444555": 5, "V-29999000": 1,
			},
		},
		{
			id:      "legacy-import",
			rows:    9,
			virtual: 6,
			byAccount: map[string]int{
				"V-30111222": 4, "V-30222333": 5,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			// GIVEN
			_, router := setupTestHandler(t)

			// WHEN
			rr := do(t, router, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: tt.id})

			// THEN
			require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
			loaded := decode[map[string]any](t, rr)
			assert.Equal(t, "loaded", loaded["status"])
			assert.EqualValues(t, tt.rows, loaded["rows"])

			l := decode[LedgerDTO](t, do(t, router, http.MethodGet, "/api/ledger", nil))
			assert.Len(t, l.Rows, tt.rows)
			assert.Equal(t, tt.virtual, l.Totals.VirtualRows)
			assert.Equal(t, tt.byAccount, countByAccount(l.Rows))

			health := decode[HealthResponse](t, do(t, router, http.MethodGet, "/api/ledger/health", nil))
			assert.True(t, health.Complete, "gaps: %v", health.Gaps)

			current := decode[ScenarioDTO](t, do(t, router, http.MethodGet, "/api/scenarios/current", nil))
			assert.Equal(t, tt.id, current.ID)
		})
	}
}

func TestLoadScenario_Unknown(t *testing.T) {
	_, router := setupTestHandler(t)

	rr := do(t, router, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "world-cup"})

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestMixedAcademy_PendingFeeOccupiesMonth(t *testing.T) {
	// GIVEN: Marta's January fee awaits confirmation
	h, _ := setupTestHandler(t)
	l := loadScenario(t, h, "mixed-academy")

	// THEN: January shows the pending payment, not an overdue row
	rows := l.ForAccount("V-30333444")
	require.Len(t, rows, 4)
	var jan []billing.LedgerRow
	for _, r := range rows {
		if r.Period != nil && r.Period.String() == "2026-01" {
			jan = append(jan, r)
		}
	}
	require.Len(t, jan, 1)
	assert.False(t, jan[0].IsVirtual())
	assert.Equal(t, "PENDIENTE", jan[0].StatusLabel)

	// Pending rows sort after overdue and paid ones
	assert.Equal(t, "PENDIENTE", rows[len(rows)-1].StatusLabel)
}

func TestLegacyImport_DuplicateDeliveryCollapses(t *testing.T) {
	h, _ := setupTestHandler(t)
	l := loadScenario(t, h, "legacy-import")

	var dup int
	for _, r := range l.Rows() {
		if r.DedupeKey == "ID-9001" {
			dup++
		}
	}
	assert.Equal(t, 1, dup)

	// The record without an id still fills Luis's January
	jan, ok := l.Row("PERIOD-V-30222333-1-2026-01")
	require.True(t, ok)
	assert.False(t, jan.IsVirtual())
	assert.Equal(t, billing.StatusPaid, jan.StatusLabel)
	assert.Equal(t, "Mensualidad enero 2026", jan.TypeName)

	// The undated uniform is kept, keyed by its raw fields
	var raw int
	for _, r := range l.ForAccount("V-30222333") {
		if r.Period == nil {
			raw++
			assert.Contains(t, r.DedupeKey, "RAW-V-30222333-3-")
			assert.False(t, r.CanDelete())
		}
	}
	assert.Equal(t, 1, raw)
}

func TestResetDatabase(t *testing.T) {
	h, router := setupTestHandler(t)
	loadScenario(t, h, "mixed-academy")

	rr := do(t, router, http.MethodPost, "/api/scenarios/reset", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 0, h.Reconciler.Current().Len())

	current := do(t, router, http.MethodGet, "/api/scenarios/current", nil)
	assert.Equal(t, "null\n", current.Body.String())
}

// =============================================================================
// SCHEDULER
// =============================================================================

func TestRefreshScheduler_RunsAndStops(t *testing.T) {
	// GIVEN
	h, _ := setupTestHandler(t)
	scheduler := NewRefreshScheduler(h.Reconciler, h.Log)
	scheduler.Interval = 10 * time.Millisecond

	// WHEN
	scheduler.Start()
	scheduler.Start()
	require.Eventually(t, func() bool { return scheduler.Runs() >= 2 }, 2*time.Second, 5*time.Millisecond)
	scheduler.Stop()

	// THEN
	assert.NotNil(t, h.Reconciler.Current())
	runs := scheduler.Runs()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, runs, scheduler.Runs())
}

func TestRefreshScheduler_Disabled(t *testing.T) {
	h, _ := setupTestHandler(t)
	scheduler := NewRefreshScheduler(h.Reconciler, h.Log)
	scheduler.Enabled = false

	scheduler.Start()
	scheduler.Stop()

	assert.Zero(t, scheduler.Runs())
	assert.Nil(t, h.Reconciler.Current())
}
