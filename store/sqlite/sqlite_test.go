package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/dues-engine/billing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	for _, e := range []billing.CatalogEntry{{ID: 1, Name: "Mensualidad"}, {ID: 2, Name: "Inscripción"}} {
		require.NoError(t, s.SaveCatalogEntry(ctx, billing.CatalogType, e))
	}
	require.NoError(t, s.SaveCatalogEntry(ctx, billing.CatalogMethod, billing.CatalogEntry{ID: 1, Name: "Efectivo"}))
	require.NoError(t, s.SaveCatalogEntry(ctx, billing.CatalogStatus, billing.CatalogEntry{ID: 1, Name: "Pagado"}))
	require.NoError(t, s.SavePlayer(ctx, billing.Account{ID: "V-100", DisplayName: "Ana Pérez", CategoryName: "Sub-12", BranchName: "Norte", Status: "activo"}))
	require.NoError(t, s.SavePlayer(ctx, billing.Account{ID: "V-300", DisplayName: "Retirado", Status: "inactivo"}))
	return s
}

func payload(account string, y int, m time.Month, d int) billing.PaymentPayload {
	return billing.PaymentPayload{
		AccountID:   billing.AccountID(account),
		Amount:      decimal.RequireFromString("30.50"),
		PaymentDate: time.Date(y, m, d, 0, 0, 0, 0, time.UTC),
		TypeID:      1,
		MethodID:    1,
		StatusID:    1,
		Notes:       "pagado en sede",
	}
}

func TestNew_MigratesFileDatabaseTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dues.db")

	s, err := New(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Re-opening must not fail on an already-applied migration.
	s, err = New(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestCreatePayment_EchoesStatementShape(t *testing.T) {
	s := newTestStore(t)

	raw, err := s.CreatePayment(context.Background(), payload("V-100", 2026, time.January, 3))
	require.NoError(t, err)

	assert.Equal(t, "1", raw.ID)
	assert.Equal(t, "V-100", raw.AccountID)
	assert.Equal(t, "30.5", raw.Amount)
	assert.Equal(t, "2026-01-03", raw.PaymentDate)
	assert.Equal(t, "Mensualidad", raw.TypeName)
	assert.Equal(t, "pagado en sede", raw.Notes)
	require.NotNil(t, raw.Account)
	assert.Equal(t, "Ana Pérez", raw.Account.DisplayName)
	assert.Zero(t, raw.OwedYear)
}

func TestCreatePayment_OwedPeriodUnique(t *testing.T) {
	// GIVEN: December already paid for V-100
	s := newTestStore(t)
	ctx := context.Background()
	dec := billing.NewDuePeriod(2025, 12)
	first := payload("V-100", 2026, time.January, 3)
	first.OwedPeriod = &dec
	_, err := s.CreatePayment(ctx, first)
	require.NoError(t, err)

	// WHEN: a second December fee is written
	second := payload("V-100", 2026, time.January, 9)
	second.OwedPeriod = &dec
	_, err = s.CreatePayment(ctx, second)

	// THEN
	assert.ErrorIs(t, err, billing.ErrPeriodTaken)

	// A different type for the same month is fine
	second.TypeID = 2
	_, err = s.CreatePayment(ctx, second)
	assert.NoError(t, err)
}

func TestUpdatePayment(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	created, err := s.CreatePayment(ctx, payload("V-100", 2026, time.January, 3))
	require.NoError(t, err)

	p := payload("V-100", 2026, time.January, 4)
	p.Amount = decimal.NewFromInt(35)
	p.Notes = ""
	jan := billing.NewDuePeriod(2026, 1)
	p.OwedPeriod = &jan
	updated, err := s.UpdatePayment(ctx, 1, p)
	require.NoError(t, err)

	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, "35", updated.Amount)
	assert.Equal(t, "2026-01-04", updated.PaymentDate)
	assert.Empty(t, updated.Notes)
	assert.Equal(t, 2026, updated.OwedYear)
	assert.Equal(t, 1, updated.OwedMonth)
}

func TestUpdateDelete_UnknownPayment(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpdatePayment(ctx, 99, payload("V-100", 2026, time.January, 3))
	assert.True(t, billing.IsNotFound(err))

	err = s.DeletePayment(ctx, 99)
	assert.True(t, billing.IsNotFound(err))
}

func TestAccountStatement_FilterAndImported(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SavePlayer(ctx, billing.Account{ID: "V-200", Status: "activo"}))
	_, err := s.CreatePayment(ctx, payload("V-100", 2026, time.January, 3))
	require.NoError(t, err)
	_, err = s.CreatePayment(ctx, payload("V-200", 2026, time.January, 5))
	require.NoError(t, err)
	require.NoError(t, s.ImportRecord(ctx, billing.RawTransaction{
		AccountID: "V-100", Amount: "25", PaymentDate: "15/11/2025", TypeID: "1", StatusID: "1",
	}))

	all, err := s.AccountStatement(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	acc := billing.AccountID("V-100")
	mine, err := s.AccountStatement(ctx, &acc)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "1", mine[0].ID)
	assert.Empty(t, mine[1].ID)
	assert.Equal(t, "15/11/2025", mine[1].PaymentDate)
}

func TestActiveAccounts_FiltersInactive(t *testing.T) {
	s := newTestStore(t)

	accounts, err := s.ActiveAccounts(context.Background())
	require.NoError(t, err)

	require.Len(t, accounts, 1)
	assert.Equal(t, billing.AccountID("V-100"), accounts[0].ID)
}

func TestCatalog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	types, err := s.Catalog(ctx, billing.CatalogType)
	require.NoError(t, err)
	assert.Equal(t, []billing.CatalogEntry{{ID: 1, Name: "Mensualidad"}, {ID: 2, Name: "Inscripción"}}, types)

	_, err = s.Catalog(ctx, billing.CatalogKind("currency"))
	assert.True(t, billing.IsNotFound(err))
}

func TestReset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.CreatePayment(ctx, payload("V-100", 2026, time.January, 3))
	require.NoError(t, err)

	require.NoError(t, s.Reset(ctx))

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	for table, n := range counts {
		assert.Zero(t, n, table)
	}
}

// =============================================================================
// RECONCILIATION AGAINST SQLITE
// =============================================================================

func TestReconcile_AgainstStore(t *testing.T) {
	// GIVEN: Ana paid December late (in January) and has a legacy November record
	s := newTestStore(t)
	ctx := context.Background()
	dec := billing.NewDuePeriod(2025, 12)
	p := payload("V-100", 2026, time.January, 8)
	p.OwedPeriod = &dec
	_, err := s.CreatePayment(ctx, p)
	require.NoError(t, err)

	pol := billing.DefaultPolicy()
	rec := billing.NewReconciler(s, pol, zerolog.Nop())
	rec.Clock = func() time.Time { return time.Date(2026, time.February, 10, 9, 0, 0, 0, time.UTC) }

	// WHEN
	l, err := rec.Refresh(ctx)
	require.NoError(t, err)

	// THEN: December paid, January and February overdue; the inactive player owes nothing
	assert.Empty(t, billing.CheckCompleteness(l))
	rows := l.ForAccount("V-100")
	require.Len(t, rows, 3)
	assert.Equal(t, billing.NewDuePeriod(2026, 1), *rows[0].Period)
	assert.Equal(t, billing.NewDuePeriod(2026, 2), *rows[1].Period)
	assert.Equal(t, billing.StatusPaid, rows[2].StatusLabel)
	assert.Equal(t, "Mensualidad diciembre 2025", rows[2].TypeName)
	assert.Empty(t, l.ForAccount("V-300"))
}
