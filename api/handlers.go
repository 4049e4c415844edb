/*
handlers.go - HTTP API handlers for the dues ledger

PURPOSE:
  Exposes the reconciliation engine via REST API. Handles HTTP
  request/response and JSON serialization, and delegates to the billing
  package (Reconciler for reads, Mutator for writes).

ENDPOINTS:
  Ledger:
    GET    /api/ledger                 Current snapshot (?account= filters rows)
    POST   /api/ledger/refresh         Run a cycle now
    GET    /api/ledger/health          Completeness check of the snapshot
    DELETE /api/ledger/rows/{key}      Delete the record behind a row
    GET    /api/schedule               Owed periods (?as_of=YYYY-MM-DD)
    GET    /api/statement              Account-scoped cycle (?account=)

  Payments:
    POST   /api/payments               Create (row_key pays a ledger row)
    PUT    /api/payments/{id}          Update
    DELETE /api/payments/{id}          Delete

  Reference data:
    GET    /api/accounts               Active players
    GET    /api/catalogs/{kind}        type | method | status

  Scenarios:
    GET    /api/scenarios              List demo scenarios
    POST   /api/scenarios/load         Load a demo scenario
    POST   /api/scenarios/reset        Clear the database

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 401: Backend rejected the session
  - 404: Resource not found
  - 409: Month already paid, or delete of an overdue (virtual) row
  - 503: Transient backend failure or no ledger yet
  - 500: Internal errors
  The "error" field always carries billing.UserMessage.

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/warp/dues-engine/billing"
	"github.com/warp/dues-engine/logger"
	"github.com/warp/dues-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      *sqlite.Store
	Reconciler *billing.Reconciler
	Mutator    *billing.Mutator
	Log        zerolog.Logger

	// Clock is used for ?as_of defaults; nil means time.Now.
	Clock func() time.Time

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler writing through store and reading through rec.
func NewHandler(store *sqlite.Store, rec *billing.Reconciler, log zerolog.Logger) *Handler {
	return &Handler{
		Store:      store,
		Reconciler: rec,
		Mutator:    billing.NewMutator(store, rec),
		Log:        log,
	}
}

func (h *Handler) now() time.Time {
	if h.Clock != nil {
		return h.Clock()
	}
	return time.Now()
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

// GetLedger returns the current snapshot, building one if none exists.
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	l, err := h.Reconciler.Ledger(r.Context())
	if err != nil {
		h.writeBillingError(w, r, err)
		return
	}

	rows := l.Rows()
	if account := strings.TrimSpace(r.URL.Query().Get("account")); account != "" {
		rows = l.ForAccount(billing.AccountID(account))
	}
	writeJSON(w, http.StatusOK, toLedgerDTO(l, rows))
}

// RefreshLedger runs a cycle and returns its snapshot. A superseded cycle
// answers with whichever snapshot is current afterwards.
func (h *Handler) RefreshLedger(w http.ResponseWriter, r *http.Request) {
	l, err := h.Reconciler.Refresh(r.Context())
	if errors.Is(err, billing.ErrSuperseded) {
		if cur := h.Reconciler.Current(); cur != nil {
			l, err = cur, nil
		}
	}
	if err != nil {
		h.writeBillingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLedgerDTO(l, l.Rows()))
}

// LedgerHealth reports slots not covered by exactly one row.
func (h *Handler) LedgerHealth(w http.ResponseWriter, r *http.Request) {
	l := h.Reconciler.Current()
	if l == nil {
		h.writeBillingError(w, r, billing.ErrNoLedger)
		return
	}

	gaps := billing.CheckCompleteness(l)
	resp := HealthResponse{CycleID: l.CycleID, Complete: len(gaps) == 0, Gaps: make([]GapDTO, len(gaps))}
	for i, g := range gaps {
		resp.Gaps[i] = GapDTO{AccountID: string(g.AccountID), Period: g.Period.String(), Rows: g.Rows}
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetSchedule lists the owed periods as of ?as_of (default today).
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	asOf := h.now()
	if v := r.URL.Query().Get("as_of"); v != "" {
		t, ok := billing.ParseDate(v)
		if !ok {
			writeError(w, http.StatusBadRequest, "Invalid as_of date", nil)
			return
		}
		asOf = t
	}

	pol := h.Reconciler.Policy
	writeJSON(w, http.StatusOK, ScheduleResponse{
		AsOf:      asOf.Format(dateLayout),
		CutoffDay: pol.CutoffDay,
		Start:     pol.Start.String(),
		Periods:   periodStrings(pol.Schedule(asOf)),
	})
}

// GetStatement runs an account-scoped cycle. The shared snapshot is untouched.
func (h *Handler) GetStatement(w http.ResponseWriter, r *http.Request) {
	account := strings.TrimSpace(r.URL.Query().Get("account"))
	if account == "" {
		writeError(w, http.StatusBadRequest, "account is required", nil)
		return
	}

	l, err := h.Reconciler.RefreshAccount(r.Context(), billing.AccountID(account))
	if err != nil {
		h.writeBillingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLedgerDTO(l, l.Rows()))
}

// DeleteRow deletes the record behind a ledger row.
func (h *Handler) DeleteRow(w http.ResponseWriter, r *http.Request) {
	key, err := url.PathUnescape(chi.URLParam(r, "key"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid row key", err)
		return
	}

	l, err := h.Reconciler.Ledger(r.Context())
	if err != nil {
		h.writeBillingError(w, r, err)
		return
	}
	row, ok := l.Row(key)
	if !ok {
		h.writeBillingError(w, r, &billing.NotFoundError{Kind: "row", ID: key})
		return
	}

	res, err := h.Mutator.DeleteRow(r.Context(), row)
	if err != nil {
		h.writeBillingError(w, r, err)
		return
	}
	h.logMutation(r, "delete", res)
	writeJSON(w, http.StatusOK, toMutationResponse(res))
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// CreatePayment stores a payment. With row_key it pays that row's slot.
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	payload, err := req.ToPayload()
	if err != nil {
		h.writeBillingError(w, r, err)
		return
	}

	var res billing.MutationResult
	if req.RowKey != "" {
		l, lerr := h.Reconciler.Ledger(r.Context())
		if lerr != nil {
			h.writeBillingError(w, r, lerr)
			return
		}
		row, ok := l.Row(req.RowKey)
		if !ok {
			h.writeBillingError(w, r, &billing.NotFoundError{Kind: "row", ID: req.RowKey})
			return
		}
		res, err = h.Mutator.CreateForRow(r.Context(), row, payload)
	} else {
		res, err = h.Mutator.Create(r.Context(), payload)
	}
	if err != nil {
		h.writeBillingError(w, r, err)
		return
	}
	h.logMutation(r, "create", res)
	writeJSON(w, http.StatusCreated, toMutationResponse(res))
}

// UpdatePayment replaces a payment.
func (h *Handler) UpdatePayment(w http.ResponseWriter, r *http.Request) {
	id, ok := paymentIDParam(w, r)
	if !ok {
		return
	}
	var req PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	payload, err := req.ToPayload()
	if err != nil {
		h.writeBillingError(w, r, err)
		return
	}

	res, err := h.Mutator.Update(r.Context(), id, payload)
	if err != nil {
		h.writeBillingError(w, r, err)
		return
	}
	h.logMutation(r, "update", res)
	writeJSON(w, http.StatusOK, toMutationResponse(res))
}

// DeletePayment removes a payment.
func (h *Handler) DeletePayment(w http.ResponseWriter, r *http.Request) {
	id, ok := paymentIDParam(w, r)
	if !ok {
		return
	}

	res, err := h.Mutator.Delete(r.Context(), id)
	if err != nil {
		h.writeBillingError(w, r, err)
		return
	}
	h.logMutation(r, "delete", res)
	writeJSON(w, http.StatusOK, toMutationResponse(res))
}

func paymentIDParam(w http.ResponseWriter, r *http.Request) (billing.PaymentID, bool) {
	raw := chi.URLParam(r, "id")
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid payment id", nil)
		return 0, false
	}
	return billing.PaymentID(n), true
}

func (h *Handler) logMutation(r *http.Request, op string, res billing.MutationResult) {
	log := logger.FromContext(r.Context())
	evt := log.Info()
	if res.RefreshErr != nil {
		evt = log.Warn().Err(res.RefreshErr)
	}
	evt.Str("op", op).
		Str("payment", res.Payment.ID.String()).
		Str("account", string(res.Payment.AccountID)).
		Msg("payment mutation applied")
}

// =============================================================================
// REFERENCE DATA HANDLERS
// =============================================================================

// ListAccounts returns the active players of the current snapshot.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	l, err := h.Reconciler.Ledger(r.Context())
	if err != nil {
		h.writeBillingError(w, r, err)
		return
	}

	accounts := l.Accounts.Accounts()
	dtos := make([]AccountDTO, len(accounts))
	for i, a := range accounts {
		dtos[i] = AccountDTO{
			ID:           string(a.ID),
			DisplayName:  a.DisplayName,
			CategoryName: a.CategoryName,
			BranchName:   a.BranchName,
			Status:       a.Status,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCatalog returns one catalog of the current snapshot.
func (h *Handler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	kind := billing.CatalogKind(chi.URLParam(r, "kind"))
	if !kind.Valid() {
		h.writeBillingError(w, r, &billing.NotFoundError{Kind: "catalog", ID: string(kind)})
		return
	}
	l, err := h.Reconciler.Ledger(r.Context())
	if err != nil {
		h.writeBillingError(w, r, err)
		return
	}

	entries := l.Catalogs.Entries(kind)
	dtos := make([]CatalogEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = CatalogEntryDTO{ID: int64(e.ID), Name: e.Name}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeBillingError maps billing errors onto HTTP statuses.
func (h *Handler) writeBillingError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := ErrorResponse{Error: billing.UserMessage(err)}
	var ve *billing.ValidationError
	if errors.As(err, &ve) {
		resp.Field = ve.Field
	}
	if status >= http.StatusInternalServerError {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Int("status", status).Msg("request failed")
	} else {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, billing.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, billing.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, billing.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, billing.ErrPeriodTaken), errors.Is(err, billing.ErrVirtualRow):
		return http.StatusConflict
	case billing.IsRetryable(err), errors.Is(err, billing.ErrNoLedger):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
