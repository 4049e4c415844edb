package billing_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/dues-engine/billing"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 10, 0, 0, 0, time.UTC)
}

func period(y, m int) billing.DuePeriod {
	return billing.NewDuePeriod(y, m)
}

// =============================================================================
// CEILING / CUTOFF
// =============================================================================

func TestCeilingPeriod_BeforeCutoff_IsPreviousMonth(t *testing.T) {
	// GIVEN: cutoff day 5, today is the 4th of March
	// THEN: March is not owed yet
	assert.Equal(t, period(2026, 2), billing.CeilingPeriod(date(2026, time.March, 4), 5))
}

func TestCeilingPeriod_OnCutoff_IsPreviousMonth(t *testing.T) {
	assert.Equal(t, period(2026, 2), billing.CeilingPeriod(date(2026, time.March, 5), 5))
}

func TestCeilingPeriod_AfterCutoff_IncludesCurrentMonth(t *testing.T) {
	assert.Equal(t, period(2026, 3), billing.CeilingPeriod(date(2026, time.March, 6), 5))
}

func TestCeilingPeriod_January_WrapsToDecember(t *testing.T) {
	assert.Equal(t, period(2025, 12), billing.CeilingPeriod(date(2026, time.January, 2), 5))
}

// =============================================================================
// OWED PERIODS
// =============================================================================

func TestOwedPeriods_ScenarioA(t *testing.T) {
	// GIVEN: start 2025-12, now 2026-01-10, cutoff 5
	got := billing.OwedPeriods(date(2026, time.January, 10), 5, 2025, 12)

	// THEN: December and January are owed
	assert.Equal(t, []billing.DuePeriod{period(2025, 12), period(2026, 1)}, got)
}

func TestOwedPeriods_NowBeforeStart_Empty(t *testing.T) {
	got := billing.OwedPeriods(date(2025, time.November, 20), 5, 2025, 12)
	require.NotNil(t, got)
	assert.Empty(t, got)
}

func TestOwedPeriods_StartMonthBeforeCutoff_Empty(t *testing.T) {
	// GIVEN: the start month itself, before its cutoff
	got := billing.OwedPeriods(date(2025, time.December, 3), 5, 2025, 12)
	assert.Empty(t, got)
}

func TestOwedPeriods_ContiguousAcrossYears(t *testing.T) {
	got := billing.OwedPeriods(date(2027, time.February, 28), 5, 2025, 11)

	require.Len(t, got, 16)
	assert.Equal(t, period(2025, 11), got[0])
	assert.Equal(t, period(2027, 2), got[len(got)-1])
	for i := 1; i < len(got); i++ {
		assert.Equal(t, got[i-1].Next(), got[i], "gap between %s and %s", got[i-1], got[i])
	}
}

func TestOwedPeriods_InvalidStartMonth_Nil(t *testing.T) {
	assert.Nil(t, billing.OwedPeriods(date(2026, time.January, 10), 5, 2025, 13))
}

func TestPolicySchedule_UsesConfiguredStart(t *testing.T) {
	pol := billing.DefaultPolicy()
	got := pol.Schedule(date(2026, time.February, 6))
	assert.Equal(t, []billing.DuePeriod{period(2025, 12), period(2026, 1), period(2026, 2)}, got)
}

// =============================================================================
// DUE PERIOD
// =============================================================================

func TestDuePeriod_Arithmetic(t *testing.T) {
	p := period(2025, 12)
	assert.Equal(t, period(2026, 1), p.Next())
	assert.Equal(t, period(2025, 11), p.Previous())
	assert.Equal(t, period(2024, 12), p.AddMonths(-12))
	assert.True(t, p.Before(period(2026, 1)))
	assert.Equal(t, "2025-12", p.String())
	assert.Equal(t, "diciembre 2025", p.Label())
}

func TestParseDuePeriod(t *testing.T) {
	p, err := billing.ParseDuePeriod("2026-01")
	require.NoError(t, err)
	assert.Equal(t, period(2026, 1), p)

	_, err = billing.ParseDuePeriod("2026-13")
	assert.Error(t, err)

	_, err = billing.ParseDuePeriod("enero")
	assert.Error(t, err)
}
