/*
handlers_test.go - HTTP tests for the ledger API

Tests for:
- Ledger reads and account filter
- Paying an overdue (virtual) row, validation and conflicts
- Update / delete round trips through the follow-up refresh
- Reference data, schedule and health endpoints
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/dues-engine/billing"
	"github.com/warp/dues-engine/store/sqlite"
)

// March 10th 2026: December through March are owed.
var testNow = time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)

func setupTestHandler(t *testing.T) (*Handler, *chi.Mux) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := func() time.Time { return testNow }
	rec := billing.NewReconciler(store, billing.DefaultPolicy(), zerolog.Nop())
	rec.Clock = clock

	h := NewHandler(store, rec, zerolog.Nop())
	h.Clock = clock
	return h, NewRouter(h, nil)
}

func loadScenario(t *testing.T, h *Handler, id string) *billing.Ledger {
	t.Helper()
	l, err := h.LoadScenarioByID(context.Background(), id)
	require.NoError(t, err)
	return l
}

func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func rowByPeriod(rows []LedgerRowDTO, account, period string) (LedgerRowDTO, bool) {
	for _, r := range rows {
		if r.AccountID == account && r.Period == period {
			return r, true
		}
	}
	return LedgerRowDTO{}, false
}

// =============================================================================
// LEDGER
// =============================================================================

func TestGetLedger_AccountFilter(t *testing.T) {
	// GIVEN: Luis paid December late and owes January to March
	h, router := setupTestHandler(t)
	loadScenario(t, h, "mixed-academy")

	// WHEN
	rr := do(t, router, http.MethodGet, "/api/ledger?account=V-30222333", nil)

	// THEN: overdue months first, oldest first
	require.Equal(t, http.StatusOK, rr.Code)
	l := decode[LedgerDTO](t, rr)
	require.Len(t, l.Rows, 5)
	assert.Equal(t, []string{"2025-12", "2026-01", "2026-02", "2026-03"}, l.Schedule)
	for i, period := range []string{"2026-01", "2026-02", "2026-03"} {
		assert.True(t, l.Rows[i].Virtual)
		assert.Equal(t, billing.StatusOverdue, l.Rows[i].Status)
		assert.Equal(t, period, l.Rows[i].Period)
		assert.Equal(t, "0.00", l.Rows[i].Amount)
		assert.False(t, l.Rows[i].CanDelete)
	}
	dec, ok := rowByPeriod(l.Rows, "V-30222333", "2025-12")
	require.True(t, ok)
	assert.Equal(t, billing.StatusPaid, dec.Status)
	assert.Equal(t, "Mensualidad diciembre 2025", dec.TypeName)
}

func TestGetLedger_BuildsOnFirstRead(t *testing.T) {
	h, router := setupTestHandler(t)
	assert.Nil(t, h.Reconciler.Current())

	rr := do(t, router, http.MethodGet, "/api/ledger", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decode[LedgerDTO](t, rr).Rows)
	assert.NotNil(t, h.Reconciler.Current())
}

func TestRefreshLedger_NewCycle(t *testing.T) {
	h, router := setupTestHandler(t)
	first := loadScenario(t, h, "fresh-season")

	rr := do(t, router, http.MethodPost, "/api/ledger/refresh", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	l := decode[LedgerDTO](t, rr)
	assert.NotEqual(t, first.CycleID, l.CycleID)
	assert.Equal(t, 16, l.Totals.VirtualRows)
}

func TestLedgerHealth(t *testing.T) {
	h, router := setupTestHandler(t)

	rr := do(t, router, http.MethodGet, "/api/ledger/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	loadScenario(t, h, "mixed-academy")
	rr = do(t, router, http.MethodGet, "/api/ledger/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	health := decode[HealthResponse](t, rr)
	assert.True(t, health.Complete)
	assert.Empty(t, health.Gaps)
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestCreatePayment_PaysOverdueRow(t *testing.T) {
	// GIVEN: Luis's January is overdue
	h, router := setupTestHandler(t)
	loadScenario(t, h, "mixed-academy")

	// WHEN: paying that row in March
	rr := do(t, router, http.MethodPost, "/api/payments", map[string]any{
		"row_key":      "PERIOD-V-30222333-1-2026-01",
		"amount":       "35",
		"payment_date": "2026-03-08",
		"method_id":    2,
		"status_id":    1,
	})

	// THEN: January is paid, February and March still overdue
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	res := decode[MutationResponse](t, rr)
	assert.Equal(t, "2026-01", res.Payment.OwedPeriod)
	assert.Equal(t, "Mensualidad enero 2026", res.Payment.TypeName)
	require.NotNil(t, res.Ledger)

	jan, ok := rowByPeriod(res.Ledger.Rows, "V-30222333", "2026-01")
	require.True(t, ok)
	assert.False(t, jan.Virtual)
	assert.Equal(t, billing.StatusPaid, jan.Status)
	assert.Equal(t, "2026-03-08", jan.PaymentDate)

	feb, ok := rowByPeriod(res.Ledger.Rows, "V-30222333", "2026-02")
	require.True(t, ok)
	assert.True(t, feb.Virtual)
}

func TestCreatePayment_ValidationError(t *testing.T) {
	h, router := setupTestHandler(t)
	loadScenario(t, h, "fresh-season")

	rr := do(t, router, http.MethodPost, "/api/payments", map[string]any{
		"account_id":   "V-30111222",
		"amount":       0,
		"payment_date": "2026-03-08",
		"type_id":      1,
		"method_id":    1,
		"status_id":    1,
	})

	require.Equal(t, http.StatusBadRequest, rr.Code)
	resp := decode[ErrorResponse](t, rr)
	assert.Equal(t, "amount", resp.Field)
	assert.Equal(t, "the amount must be greater than zero", resp.Error)
}

func TestCreatePayment_BadDate(t *testing.T) {
	_, router := setupTestHandler(t)

	rr := do(t, router, http.MethodPost, "/api/payments", map[string]any{
		"account_id":   "V-30111222",
		"amount":       "35",
		"payment_date": "mañana",
	})

	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "payment_date", decode[ErrorResponse](t, rr).Field)
}

func TestCreatePayment_MonthAlreadyPaid(t *testing.T) {
	// GIVEN: Ana paid December
	h, router := setupTestHandler(t)
	loadScenario(t, h, "mixed-academy")

	// WHEN: a second December fee is posted
	rr := do(t, router, http.MethodPost, "/api/payments", map[string]any{
		"account_id":   "V-30111222",
		"amount":       "35",
		"payment_date": "2026-03-01",
		"type_id":      1,
		"method_id":    1,
		"status_id":    1,
		"owed_year":    2025,
		"owed_month":   12,
	})

	// THEN
	require.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "a monthly fee is already recorded for that month", decode[ErrorResponse](t, rr).Error)
}

func TestUpdatePayment_ConfirmsPendingFee(t *testing.T) {
	// GIVEN: Marta's January fee (payment 6) is pending
	h, router := setupTestHandler(t)
	l := loadScenario(t, h, "mixed-academy")
	row, ok := l.FindPayment(6)
	require.True(t, ok)
	require.Equal(t, "PENDIENTE", row.StatusLabel)

	// WHEN
	rr := do(t, router, http.MethodPut, "/api/payments/6", map[string]any{
		"account_id":   "V-30333444",
		"amount":       "35",
		"payment_date": "2026-01-05",
		"type_id":      1,
		"method_id":    2,
		"status_id":    1,
		"owed_year":    2026,
		"owed_month":   1,
	})

	// THEN
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	res := decode[MutationResponse](t, rr)
	jan, ok := rowByPeriod(res.Ledger.Rows, "V-30333444", "2026-01")
	require.True(t, ok)
	assert.Equal(t, billing.StatusPaid, jan.Status)
	assert.Equal(t, "Transferencia", jan.MethodName)
}

func TestUpdatePayment_InvalidID(t *testing.T) {
	_, router := setupTestHandler(t)
	rr := do(t, router, http.MethodPut, "/api/payments/abc", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestDeletePayment_RestoresOverdueRow(t *testing.T) {
	// GIVEN: Ana's December fee is payment 1
	h, router := setupTestHandler(t)
	loadScenario(t, h, "mixed-academy")

	// WHEN
	rr := do(t, router, http.MethodDelete, "/api/payments/1", nil)

	// THEN
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	res := decode[MutationResponse](t, rr)
	dec, ok := rowByPeriod(res.Ledger.Rows, "V-30111222", "2025-12")
	require.True(t, ok)
	assert.True(t, dec.Virtual)

	rr = do(t, router, http.MethodDelete, "/api/payments/1", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestDeleteRow_VirtualRowRejected(t *testing.T) {
	h, router := setupTestHandler(t)
	loadScenario(t, h, "fresh-season")

	rr := do(t, router, http.MethodDelete, "/api/ledger/rows/PERIOD-V-30111222-1-2025-12", nil)

	require.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "an overdue month without a recorded payment cannot be deleted", decode[ErrorResponse](t, rr).Error)
}

func TestDeleteRow_RealRow(t *testing.T) {
	h, router := setupTestHandler(t)
	loadScenario(t, h, "mixed-academy")

	rr := do(t, router, http.MethodDelete, "/api/ledger/rows/ID-7", nil)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	res := decode[MutationResponse](t, rr)
	for _, r := range res.Ledger.Rows {
		assert.NotEqual(t, "V-29999000", r.AccountID)
	}
}

func TestDeleteRow_UnknownKey(t *testing.T) {
	h, router := setupTestHandler(t)
	loadScenario(t, h, "fresh-season")

	rr := do(t, router, http.MethodDelete, "/api/ledger/rows/ID-404", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

// =============================================================================
// REFERENCE DATA & SCHEDULE
// =============================================================================

func TestListAccounts_OnlyActive(t *testing.T) {
	h, router := setupTestHandler(t)
	loadScenario(t, h, "mixed-academy")

	rr := do(t, router, http.MethodGet, "/api/accounts", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	accounts := decode[[]AccountDTO](t, rr)
	assert.Len(t, accounts, 4)
	for _, a := range accounts {
		assert.NotEqual(t, "V-29999000", a.ID)
	}
}

func TestGetCatalog(t *testing.T) {
	h, router := setupTestHandler(t)
	loadScenario(t, h, "fresh-season")

	rr := do(t, router, http.MethodGet, "/api/catalogs/method", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	methods := decode[[]CatalogEntryDTO](t, rr)
	require.Len(t, methods, 3)
	assert.Equal(t, "Efectivo", methods[0].Name)

	rr = do(t, router, http.MethodGet, "/api/catalogs/currency", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGetSchedule(t *testing.T) {
	_, router := setupTestHandler(t)

	rr := do(t, router, http.MethodGet, "/api/schedule", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"2025-12", "2026-01", "2026-02", "2026-03"}, decode[ScheduleResponse](t, rr).Periods)

	// Before January's cutoff only December is owed
	rr = do(t, router, http.MethodGet, "/api/schedule?as_of=2026-01-03", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"2025-12"}, decode[ScheduleResponse](t, rr).Periods)

	rr = do(t, router, http.MethodGet, "/api/schedule?as_of=someday", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetStatement_ScopedToAccount(t *testing.T) {
	h, router := setupTestHandler(t)
	shared := loadScenario(t, h, "mixed-academy")

	rr := do(t, router, http.MethodGet, "/api/statement?account=V-30111222", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	l := decode[LedgerDTO](t, rr)
	assert.Equal(t, "V-30111222", l.Account)
	assert.Len(t, l.Rows, 5)
	assert.Same(t, shared, h.Reconciler.Current())

	rr = do(t, router, http.MethodGet, "/api/statement", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
