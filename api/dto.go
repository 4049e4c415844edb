/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the billing model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Ledger:
    LedgerDTO, LedgerRowDTO, TotalsDTO, GapDTO

  Payments:
    PaymentRequest, PaymentDTO, MutationResponse

  Reference data:
    AccountDTO, CatalogEntryDTO

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

MONEY:
  Amounts travel as decimal strings ("30.50"). Requests accept either a
  JSON number or a string.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/dues-engine/billing"
)

const dateLayout = "2006-01-02"

// =============================================================================
// LEDGER
// =============================================================================

// LedgerDTO is one reconciliation snapshot.
type LedgerDTO struct {
	CycleID  string         `json:"cycle_id"`
	BuiltAt  string         `json:"built_at"`
	AsOf     string         `json:"as_of"`
	Account  string         `json:"account,omitempty"`
	Schedule []string       `json:"schedule"`
	Rows     []LedgerRowDTO `json:"rows"`
	Totals   TotalsDTO      `json:"totals"`
}

// LedgerRowDTO is one presentation row. Virtual rows carry no payment fields.
type LedgerRowDTO struct {
	Key          string `json:"key"`
	Virtual      bool   `json:"virtual"`
	AccountID    string `json:"account_id"`
	DisplayName  string `json:"display_name"`
	CategoryName string `json:"category_name"`
	BranchName   string `json:"branch_name,omitempty"`
	TypeName     string `json:"type_name"`
	Status       string `json:"status"`
	Period       string `json:"period,omitempty"`
	Amount       string `json:"amount"`
	CanDelete    bool   `json:"can_delete"`

	PaymentID   int64  `json:"payment_id,omitempty"`
	PaymentDate string `json:"payment_date,omitempty"`
	MethodName  string `json:"method_name,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

// TotalsDTO summarizes a ledger.
type TotalsDTO struct {
	Rows        int            `json:"rows"`
	VirtualRows int            `json:"virtual_rows"`
	PaidAmount  string         `json:"paid_amount"`
	ByStatus    map[string]int `json:"by_status"`
}

// GapDTO is an (account, period) slot not covered by exactly one row.
type GapDTO struct {
	AccountID string `json:"account_id"`
	Period    string `json:"period"`
	Rows      int    `json:"rows"`
}

// HealthResponse is the completeness check of the current ledger.
type HealthResponse struct {
	CycleID  string   `json:"cycle_id"`
	Complete bool     `json:"complete"`
	Gaps     []GapDTO `json:"gaps"`
}

// ScheduleResponse lists owed periods as of a date.
type ScheduleResponse struct {
	AsOf      string   `json:"as_of"`
	CutoffDay int      `json:"cutoff_day"`
	Start     string   `json:"start"`
	Periods   []string `json:"periods"`
}

func toLedgerDTO(l *billing.Ledger, rows []billing.LedgerRow) LedgerDTO {
	dto := LedgerDTO{
		CycleID:  l.CycleID,
		BuiltAt:  l.BuiltAt.Format(time.RFC3339),
		AsOf:     l.AsOf.Format(time.RFC3339),
		Schedule: periodStrings(l.Schedule),
		Rows:     make([]LedgerRowDTO, len(rows)),
		Totals:   toTotalsDTO(l.Totals()),
	}
	if l.Account != nil {
		dto.Account = string(*l.Account)
	}
	for i, r := range rows {
		dto.Rows[i] = toLedgerRowDTO(r)
	}
	return dto
}

func toLedgerRowDTO(r billing.LedgerRow) LedgerRowDTO {
	dto := LedgerRowDTO{
		Key:          r.DedupeKey,
		Virtual:      r.IsVirtual(),
		AccountID:    string(r.AccountID),
		DisplayName:  r.DisplayName,
		CategoryName: r.CategoryName,
		BranchName:   r.BranchName,
		TypeName:     r.TypeName,
		Status:       r.StatusLabel,
		Amount:       r.Amount().StringFixed(2),
		CanDelete:    r.CanDelete(),
	}
	if r.Period != nil {
		dto.Period = r.Period.String()
	}
	if p, ok := r.Payment(); ok {
		dto.PaymentID = int64(p.ID)
		dto.MethodName = p.MethodName
		dto.Notes = p.Notes
		if p.HasDate() {
			dto.PaymentDate = p.PaymentDate.Format(dateLayout)
		}
	}
	return dto
}

func toTotalsDTO(t billing.Totals) TotalsDTO {
	return TotalsDTO{
		Rows:        t.Rows,
		VirtualRows: t.VirtualRows,
		PaidAmount:  t.PaidAmount.StringFixed(2),
		ByStatus:    t.ByStatus,
	}
}

func periodStrings(periods []billing.DuePeriod) []string {
	out := make([]string, len(periods))
	for i, p := range periods {
		out[i] = p.String()
	}
	return out
}

// =============================================================================
// PAYMENTS
// =============================================================================

// PaymentRequest is the body of POST /api/payments and PUT /api/payments/{id}.
type PaymentRequest struct {
	AccountID   string          `json:"account_id"`
	Amount      decimal.Decimal `json:"amount"`
	PaymentDate string          `json:"payment_date"`
	TypeID      int64           `json:"type_id"`
	MethodID    int64           `json:"method_id"`
	StatusID    int64           `json:"status_id"`
	Notes       string          `json:"notes,omitempty"`

	// OwedYear/OwedMonth pin a monthly fee to a specific month.
	OwedYear  int `json:"owed_year,omitempty"`
	OwedMonth int `json:"owed_month,omitempty"`

	// RowKey pays the slot of an existing ledger row (create only).
	RowKey string `json:"row_key,omitempty"`
}

// ToPayload converts the request, rejecting unparseable dates and partial
// owed periods with a field-level ValidationError.
func (r PaymentRequest) ToPayload() (billing.PaymentPayload, error) {
	p := billing.PaymentPayload{
		AccountID: billing.AccountID(strings.TrimSpace(r.AccountID)),
		Amount:    r.Amount,
		TypeID:    billing.CatalogID(r.TypeID),
		MethodID:  billing.CatalogID(r.MethodID),
		StatusID:  billing.CatalogID(r.StatusID),
		Notes:     r.Notes,
	}
	if strings.TrimSpace(r.PaymentDate) != "" {
		d, ok := billing.ParseDate(r.PaymentDate)
		if !ok {
			return p, &billing.ValidationError{Field: "payment_date", Message: "a valid payment date is required"}
		}
		p.PaymentDate = d
	}
	if r.OwedYear != 0 || r.OwedMonth != 0 {
		owed := billing.NewDuePeriod(r.OwedYear, r.OwedMonth)
		if !owed.Valid() {
			return p, &billing.ValidationError{Field: "owed_period", Message: "the owed period must be a valid month"}
		}
		p.OwedPeriod = &owed
	}
	return p, nil
}

// PaymentDTO is a normalized payment.
type PaymentDTO struct {
	ID           int64  `json:"id,omitempty"`
	AccountID    string `json:"account_id"`
	DisplayName  string `json:"display_name"`
	CategoryName string `json:"category_name"`
	Amount       string `json:"amount"`
	PaymentDate  string `json:"payment_date,omitempty"`
	TypeID       int64  `json:"type_id"`
	TypeName     string `json:"type_name"`
	MethodID     int64  `json:"method_id"`
	MethodName   string `json:"method_name"`
	StatusID     int64  `json:"status_id"`
	StatusName   string `json:"status_name"`
	Notes        string `json:"notes,omitempty"`
	OwedPeriod   string `json:"owed_period,omitempty"`
}

func toPaymentDTO(p billing.Payment) PaymentDTO {
	dto := PaymentDTO{
		ID:           int64(p.ID),
		AccountID:    string(p.AccountID),
		DisplayName:  p.DisplayName,
		CategoryName: p.CategoryName,
		Amount:       p.Amount.StringFixed(2),
		TypeID:       int64(p.TypeID),
		TypeName:     p.TypeName,
		MethodID:     int64(p.MethodID),
		MethodName:   p.MethodName,
		StatusID:     int64(p.StatusID),
		StatusName:   p.StatusName,
		Notes:        p.Notes,
	}
	if p.HasDate() {
		dto.PaymentDate = p.PaymentDate.Format(dateLayout)
	}
	if p.OwedPeriod != nil {
		dto.OwedPeriod = p.OwedPeriod.String()
	}
	return dto
}

// MutationResponse is returned by every payment write. Ledger is absent and
// RefreshError set when the write succeeded but the follow-up cycle failed.
type MutationResponse struct {
	Payment      PaymentDTO `json:"payment"`
	Ledger       *LedgerDTO `json:"ledger,omitempty"`
	RefreshError string     `json:"refresh_error,omitempty"`
}

func toMutationResponse(res billing.MutationResult) MutationResponse {
	out := MutationResponse{Payment: toPaymentDTO(res.Payment)}
	if res.Ledger != nil {
		dto := toLedgerDTO(res.Ledger, res.Ledger.Rows())
		out.Ledger = &dto
	}
	if res.RefreshErr != nil {
		out.RefreshError = res.RefreshErr.Error()
	}
	return out
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

// AccountDTO is an active player.
type AccountDTO struct {
	ID           string `json:"id"`
	DisplayName  string `json:"display_name"`
	CategoryName string `json:"category_name"`
	BranchName   string `json:"branch_name,omitempty"`
	Status       string `json:"status"`
}

// CatalogEntryDTO is one catalog entry.
type CatalogEntryDTO struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// LoadScenarioRequest is the body of POST /api/scenarios/load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Field   string `json:"field,omitempty"`
	Details string `json:"details,omitempty"`
}
