/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Provides pre-built academies that populate the database with realistic
  data for demos. Each scenario creates catalogs, players and payments that
  exercise a specific part of the reconciliation.

AVAILABLE SCENARIOS:
  fresh-season:   Players enrolled, nothing paid: every month is overdue
  mixed-academy:  Late payments pinned to past months, pending fees,
                  enrolment fees, an inactive player with history
  legacy-import:  Statement records from an older system: drifting field
                  names, duplicate deliveries, records without id or date

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Seed the three catalogs
 3. Create players
 4. Create payments / import legacy records
 5. Run a reconciliation cycle

Dates are placed relative to the configured season start, so every
scenario stays meaningful whatever the start month is.

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "mixed-academy"}

NOTE:
  Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler dependencies
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/dues-engine/billing"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "fresh-season",
		Name:        "Fresh Season",
		Description: "Four players enrolled, no payments yet: every owed month shows as overdue",
		Category:    "ledger",
	},
	{
		ID:          "mixed-academy",
		Name:        "Mixed Academy",
		Description: "Late payments for past months, pending fees, enrolment fees and a retired player",
		Category:    "ledger",
	},
	{
		ID:          "legacy-import",
		Name:        "Legacy Import",
		Description: "Records from the old system: duplicated deliveries, renamed fields, missing ids and dates",
		Category:    "import",
	},
}

// Catalog ids used by the demo data.
const (
	typeMonthly   billing.CatalogID = 1
	typeEnrolment billing.CatalogID = 2
	typeUniform   billing.CatalogID = 3

	methodCash     billing.CatalogID = 1
	methodTransfer billing.CatalogID = 2
	methodCard     billing.CatalogID = 3

	statusPaid     billing.CatalogID = 1
	statusPending  billing.CatalogID = 2
	statusRejected billing.CatalogID = 3
)

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	l, err := h.LoadScenarioByID(r.Context(), req.ScenarioID)
	if err != nil {
		if billing.IsNotFound(err) {
			writeError(w, http.StatusBadRequest, "Unknown scenario", err)
			return
		}
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "loaded",
		"scenario": req.ScenarioID,
		"cycle_id": l.CycleID,
		"rows":     l.Len(),
	})
}

// LoadScenarioByID resets the store, seeds the scenario and refreshes the ledger.
func (h *Handler) LoadScenarioByID(ctx context.Context, id string) (*billing.Ledger, error) {
	var loader func(context.Context) error
	switch id {
	case "fresh-season":
		loader = h.loadFreshSeasonScenario
	case "mixed-academy":
		loader = h.loadMixedAcademyScenario
	case "legacy-import":
		loader = h.loadLegacyImportScenario
	default:
		return nil, &billing.NotFoundError{Kind: "scenario", ID: id}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(ctx); err != nil {
		return nil, fmt.Errorf("reset database: %w", err)
	}
	h.currentScenario = ""

	if err := h.seedCatalogs(ctx); err != nil {
		return nil, err
	}
	if err := loader(ctx); err != nil {
		return nil, err
	}
	h.currentScenario = id

	l, err := h.Reconciler.Refresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("refresh after load: %w", err)
	}
	h.Log.Info().Str("scenario", id).Str("cycle", l.CycleID).Int("rows", l.Len()).Msg("scenario loaded")
	return l, nil
}

// ResetDatabase clears all data and rebuilds the (now empty) ledger.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	err := h.Store.Reset(r.Context())
	h.currentScenario = ""
	h.mu.Unlock()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}

	if _, err := h.Reconciler.Refresh(r.Context()); err != nil {
		h.writeBillingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) seedCatalogs(ctx context.Context) error {
	catalogs := map[billing.CatalogKind][]billing.CatalogEntry{
		billing.CatalogType: {
			{ID: typeMonthly, Name: "Mensualidad"},
			{ID: typeEnrolment, Name: "Inscripción"},
			{ID: typeUniform, Name: "Uniforme"},
		},
		billing.CatalogMethod: {
			{ID: methodCash, Name: "Efectivo"},
			{ID: methodTransfer, Name: "Transferencia"},
			{ID: methodCard, Name: "Punto de venta"},
		},
		billing.CatalogStatus: {
			{ID: statusPaid, Name: "Pagado"},
			{ID: statusPending, Name: "Pendiente"},
			{ID: statusRejected, Name: "Rechazado"},
		},
	}
	for _, kind := range billing.CatalogKinds {
		for _, e := range catalogs[kind] {
			if err := h.Store.SaveCatalogEntry(ctx, kind, e); err != nil {
				return fmt.Errorf("seed catalog %s: %w", kind, err)
			}
		}
	}
	return nil
}

func (h *Handler) savePlayers(ctx context.Context, players ...billing.Account) error {
	for _, p := range players {
		if err := h.Store.SavePlayer(ctx, p); err != nil {
			return fmt.Errorf("save player %s: %w", p.ID, err)
		}
	}
	return nil
}

// seasonDay returns day d of the n-th month after the season start.
func (h *Handler) seasonDay(n, d int) time.Time {
	return h.Reconciler.Policy.Start.AddMonths(n).FirstDay().AddDate(0, 0, d-1)
}

func receipt() string {
	return "recibo " + uuid.NewString()[:8]
}

func (h *Handler) pay(ctx context.Context, p billing.PaymentPayload) error {
	if _, err := h.Store.CreatePayment(ctx, p); err != nil {
		return fmt.Errorf("create payment for %s: %w", p.AccountID, err)
	}
	return nil
}

func (h *Handler) loadFreshSeasonScenario(ctx context.Context) error {
	return h.savePlayers(ctx,
		billing.Account{ID: "V-30111222", DisplayName: "Ana Pérez", CategoryName: "Sub-10", BranchName: "Norte", Status: "activo"},
		billing.Account{ID: "V-30222333", DisplayName: "Luis Gómez", CategoryName: "Sub-12", BranchName: "Norte", Status: "activo"},
		billing.Account{ID: "V-30333444", DisplayName: "Marta Rivas", CategoryName: "Sub-12", BranchName: "Sur", Status: "Activa"},
		billing.Account{ID: "V-30444555", DisplayName: "Diego Salas", CategoryName: "Sub-14", BranchName: "Sur", Status: ""},
	)
}

func (h *Handler) loadMixedAcademyScenario(ctx context.Context) error {
	err := h.savePlayers(ctx,
		billing.Account{ID: "V-30111222", DisplayName: "Ana Pérez", CategoryName: "Sub-10", BranchName: "Norte", Status: "activo"},
		billing.Account{ID: "V-30222333", DisplayName: "Luis Gómez", CategoryName: "Sub-12", BranchName: "Norte", Status: "activo"},
		billing.Account{ID: "V-30333444", DisplayName: "Marta Rivas", CategoryName: "Sub-12", BranchName: "Sur", Status: "activo"},
		billing.Account{ID: "V-30444555", DisplayName: "Diego Salas", CategoryName: "Sub-14", BranchName: "Sur", Status: "activo"},
		billing.Account{ID: "V-29999000", DisplayName: "Pedro Lara", CategoryName: "Sub-16", BranchName: "Norte", Status: "retirado"},
	)
	if err != nil {
		return err
	}

	start := h.Reconciler.Policy.Start
	monthly := func(account billing.AccountID, owed billing.DuePeriod, paidOn time.Time, method, status billing.CatalogID) billing.PaymentPayload {
		return billing.PaymentPayload{
			AccountID:   account,
			Amount:      decimal.NewFromInt(35),
			PaymentDate: paidOn,
			TypeID:      typeMonthly,
			MethodID:    method,
			StatusID:    status,
			Notes:       receipt(),
			OwedPeriod:  &owed,
		}
	}

	payments := []billing.PaymentPayload{
		// Ana pays on time, first three months
		monthly("V-30111222", start, h.seasonDay(0, 3), methodCash, statusPaid),
		monthly("V-30111222", start.AddMonths(1), h.seasonDay(1, 2), methodTransfer, statusPaid),
		monthly("V-30111222", start.AddMonths(2), h.seasonDay(2, 4), methodTransfer, statusPaid),

		// Luis pays the first month late, during the second
		monthly("V-30222333", start, h.seasonDay(1, 18), methodCard, statusPaid),

		// Marta's second month is still pending confirmation
		monthly("V-30333444", start, h.seasonDay(0, 5), methodCash, statusPaid),
		monthly("V-30333444", start.AddMonths(1), h.seasonDay(1, 5), methodTransfer, statusPending),

		// Retired player history stays visible
		monthly("V-29999000", start, h.seasonDay(0, 2), methodCash, statusPaid),
	}

	// Enrolment fees do not occupy a month
	for _, id := range []billing.AccountID{"V-30111222", "V-30222333", "V-30444555"} {
		payments = append(payments, billing.PaymentPayload{
			AccountID:   id,
			Amount:      decimal.RequireFromString("20.00"),
			PaymentDate: h.seasonDay(0, 1),
			TypeID:      typeEnrolment,
			MethodID:    methodCash,
			StatusID:    statusPaid,
			Notes:       receipt(),
		})
	}

	for _, p := range payments {
		if err := h.pay(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadLegacyImportScenario(ctx context.Context) error {
	err := h.savePlayers(ctx,
		billing.Account{ID: "V-30111222", DisplayName: "Ana Pérez", CategoryName: "Sub-10", BranchName: "Norte", Status: "activo"},
		billing.Account{ID: "V-30222333", DisplayName: "Luis Gómez", CategoryName: "Sub-12", BranchName: "Norte", Status: "activo"},
	)
	if err != nil {
		return err
	}

	first := h.seasonDay(0, 6)
	second := h.seasonDay(1, 9)
	records := []string{
		// Same record delivered twice
		fmt.Sprintf(`{"id_pago": 9001, "cedula": "V-30111222", "monto": "35", "fecha": %q,
			"tipo_id": 1, "metodo_id": 1, "estado_id": 1}`, first.Format(dateLayout)),
		fmt.Sprintf(`{"id_pago": 9001, "cedula": "V-30111222", "monto": "35", "fecha": %q,
			"tipo_id": 1, "metodo_id": 1, "estado_id": 1}`, first.Format(dateLayout)),

		// No id, nested player object, day-first date
		fmt.Sprintf(`{"jugador": {"cedula": "V-30222333", "nombre": "Luis", "apellido": "Gómez",
			"categoria": {"nombre": "Sub-12"}}, "valor": 35, "fecha_pago": %q,
			"tipo_pago": {"id": 1, "nombre": "Mensualidad"}, "metodo_pago": {"id": 2, "nombre": "Transferencia"},
			"estatus": {"id": 1, "nombre": "Pagado"}}`, second.Format("02/01/2006")),

		// No id and no date: keyed by its raw fields
		`{"cedula_jugador": "V-30222333", "monto": "15", "tipo_pago_id": 3, "estatus_id": 1,
			"observaciones": "uniforme entregado"}`,
	}

	for _, js := range records {
		var raw billing.RawTransaction
		if err := json.Unmarshal([]byte(js), &raw); err != nil {
			return fmt.Errorf("decode legacy record: %w", err)
		}
		if err := h.Store.ImportRecord(ctx, raw); err != nil {
			return fmt.Errorf("import legacy record: %w", err)
		}
	}
	return nil
}
