/*
raw.go - Boundary adapter for account-statement payloads

PURPOSE:
  The statement endpoint delivers loosely typed records whose field names
  drift between backend versions (tipo_pago_id vs tipo_id, a nested
  jugador object vs a bare cedula, ...). All alias resolution happens here,
  once, producing a RawTransaction with one field per concept. Business
  logic never looks at the original keys.

COERCION:
  Values keep their textual form (numbers become decimal strings via
  spf13/cast). Parsing into ids, amounts and dates is the normalizer's job,
  so a malformed value degrades there instead of failing the decode.
*/
package billing

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/spf13/cast"
)

// RawAccount is the account object some statement records embed.
type RawAccount struct {
	ID           string
	DisplayName  string
	CategoryName string
	BranchName   string
}

// RawTransaction is one statement record after alias resolution.
type RawTransaction struct {
	ID          string
	AccountID   string
	Account     *RawAccount
	Amount      string
	PaymentDate string

	TypeID     string
	TypeName   string
	MethodID   string
	MethodName string
	StatusID   string
	StatusName string

	Notes string

	OwedYear  int
	OwedMonth int
}

// OwedPeriod returns the explicit obligation period, if the record carries one.
func (r RawTransaction) OwedPeriod() (DuePeriod, bool) {
	p := NewDuePeriod(r.OwedYear, r.OwedMonth)
	return p, p.Valid()
}

// =============================================================================
// FIELD ALIASES
// =============================================================================

var (
	idKeys        = []string{"id", "pago_id", "id_pago", "payment_id", "paymentId"}
	accountIDKeys = []string{"cedula", "cedula_jugador", "jugador_cedula", "jugador_id", "account_id", "accountId", "player_id"}
	accountObjs   = []string{"jugador", "account", "player"}
	amountKeys    = []string{"monto", "amount", "valor", "monto_pagado"}
	dateKeys      = []string{"fecha_pago", "fecha", "payment_date", "paymentDate"}
	notesKeys     = []string{"observaciones", "notas", "nota", "notes", "descripcion"}

	typeIDKeys     = []string{"tipo_pago_id", "tipo_id", "id_tipo_pago", "type_id", "typeId"}
	typeObjs       = []string{"tipo_pago", "tipo", "type"}
	typeNameKeys   = []string{"tipo_pago_nombre", "tipo_nombre", "type_name"}
	methodIDKeys   = []string{"metodo_pago_id", "metodo_id", "id_metodo_pago", "method_id", "methodId"}
	methodObjs     = []string{"metodo_pago", "metodo", "method"}
	methodNameKeys = []string{"metodo_pago_nombre", "metodo_nombre", "method_name"}
	statusIDKeys   = []string{"estatus_id", "estado_id", "status_id", "id_estatus", "statusId"}
	statusObjs     = []string{"estatus", "estado", "status"}
	statusNameKeys = []string{"estatus_nombre", "estado_nombre", "status_name"}

	owedYearKeys   = []string{"periodo_anio", "anio_periodo", "mensualidad_anio", "owed_year"}
	owedMonthKeys  = []string{"periodo_mes", "mes_periodo", "mensualidad_mes", "owed_month"}
	owedPeriodKeys = []string{"periodo", "owed_period"}

	embeddedIDKeys       = []string{"cedula", "id", "account_id"}
	embeddedNameKeys     = []string{"nombre_completo", "display_name", "name"}
	embeddedCategoryKeys = []string{"categoria_nombre", "category_name"}
	embeddedBranchKeys   = []string{"sede_nombre", "branch_name"}
)

// ParseRawTransaction resolves field aliases in a decoded statement record.
func ParseRawTransaction(m map[string]any) RawTransaction {
	r := RawTransaction{
		ID:          firstString(m, idKeys...),
		AccountID:   firstString(m, accountIDKeys...),
		Amount:      firstString(m, amountKeys...),
		PaymentDate: firstString(m, dateKeys...),
		Notes:       firstString(m, notesKeys...),
	}
	r.TypeID, r.TypeName = catalogRef(m, typeIDKeys, typeObjs, typeNameKeys)
	r.MethodID, r.MethodName = catalogRef(m, methodIDKeys, methodObjs, methodNameKeys)
	r.StatusID, r.StatusName = catalogRef(m, statusIDKeys, statusObjs, statusNameKeys)

	for _, key := range accountObjs {
		if obj, ok := m[key].(map[string]any); ok {
			r.Account = parseRawAccount(obj)
			break
		}
	}
	if r.AccountID == "" && r.Account != nil {
		r.AccountID = r.Account.ID
	}

	r.OwedYear = firstInt(m, owedYearKeys...)
	r.OwedMonth = firstInt(m, owedMonthKeys...)
	if r.OwedYear == 0 || r.OwedMonth == 0 {
		if p, err := ParseDuePeriod(firstString(m, owedPeriodKeys...)); err == nil {
			r.OwedYear, r.OwedMonth = p.Year, int(p.Month)
		}
	}
	return r
}

func parseRawAccount(obj map[string]any) *RawAccount {
	a := &RawAccount{
		ID:           firstString(obj, embeddedIDKeys...),
		DisplayName:  firstString(obj, embeddedNameKeys...),
		CategoryName: firstString(obj, embeddedCategoryKeys...),
		BranchName:   firstString(obj, embeddedBranchKeys...),
	}
	if a.DisplayName == "" {
		a.DisplayName = strings.TrimSpace(firstString(obj, "nombre") + " " + firstString(obj, "apellido"))
	}
	if a.CategoryName == "" {
		a.CategoryName = nameOf(obj["categoria"])
	}
	if a.BranchName == "" {
		a.BranchName = nameOf(obj["sede"])
	}
	return a
}

// catalogRef resolves a foreign key that may arrive flat or as a nested
// {id, nombre} object, or as a bare name string under the object key.
func catalogRef(m map[string]any, idKeys, objKeys, nameKeys []string) (id, name string) {
	id = firstString(m, idKeys...)
	name = firstString(m, nameKeys...)
	for _, key := range objKeys {
		switch v := m[key].(type) {
		case map[string]any:
			if id == "" {
				id = firstString(v, "id")
			}
			if name == "" {
				name = firstString(v, "nombre", "name")
			}
		case string:
			if name == "" {
				name = strings.TrimSpace(v)
			}
		}
	}
	return id, name
}

func nameOf(v any) string {
	switch x := v.(type) {
	case map[string]any:
		return firstString(x, "nombre", "name")
	case nil:
		return ""
	default:
		return strings.TrimSpace(cast.ToString(x))
	}
}

// firstString returns the first alias present with a non-empty scalar value.
func firstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		v, ok := m[key]
		if !ok || v == nil {
			continue
		}
		if _, nested := v.(map[string]any); nested {
			continue
		}
		s := strings.TrimSpace(cast.ToString(v))
		if s != "" {
			return s
		}
	}
	return ""
}

func firstInt(m map[string]any, keys ...string) int {
	s := firstString(m, keys...)
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return 0
		}
		return int(f)
	}
	return n
}

// =============================================================================
// JSON
// =============================================================================

// UnmarshalJSON decodes any known backend shape.
func (r *RawTransaction) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return err
	}
	*r = ParseRawTransaction(m)
	return nil
}

// MarshalJSON emits the current backend field names.
func (r RawTransaction) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, 16)
	put := func(key, value string) {
		if value != "" {
			m[key] = value
		}
	}
	put("id", r.ID)
	put("cedula", r.AccountID)
	put("monto", r.Amount)
	put("fecha_pago", r.PaymentDate)
	put("tipo_pago_id", r.TypeID)
	put("tipo_pago_nombre", r.TypeName)
	put("metodo_pago_id", r.MethodID)
	put("metodo_pago_nombre", r.MethodName)
	put("estatus_id", r.StatusID)
	put("estatus_nombre", r.StatusName)
	put("observaciones", r.Notes)
	if r.OwedYear != 0 && r.OwedMonth != 0 {
		m["periodo_anio"] = r.OwedYear
		m["periodo_mes"] = r.OwedMonth
	}
	if r.Account != nil {
		acc := map[string]any{"cedula": r.Account.ID}
		if r.Account.DisplayName != "" {
			acc["nombre_completo"] = r.Account.DisplayName
		}
		if r.Account.CategoryName != "" {
			acc["categoria_nombre"] = r.Account.CategoryName
		}
		if r.Account.BranchName != "" {
			acc["sede_nombre"] = r.Account.BranchName
		}
		m["jugador"] = acc
	}
	return json.Marshal(m)
}
