package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/dues-engine/billing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "dues.db", cfg.Database.Path)
	assert.Equal(t, 10*time.Second, cfg.Billing.FetchTimeout)
	assert.Equal(t, time.Hour, cfg.Billing.RefreshInterval)
	assert.Equal(t, billing.DefaultPolicy(), cfg.Policy())
	assert.Equal(t, ":8080", cfg.Addr())
}

func TestLoad_FileThenEnv(t *testing.T) {
	// GIVEN: a file moving the start and an env override on the cutoff
	path := filepath.Join(t.TempDir(), "dues.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
billing:
  start_year: 2026
  start_month: 3
  cutoff_day: 7
  fetch_timeout: 3s
log:
  level: debug
`), 0o644))
	t.Setenv("DUES_BILLING_CUTOFF_DAY", "10")

	// WHEN
	cfg, err := Load(path)
	require.NoError(t, err)

	// THEN
	pol := cfg.Policy()
	assert.Equal(t, billing.NewDuePeriod(2026, 3), pol.Start)
	assert.Equal(t, 10, pol.CutoffDay)
	assert.Equal(t, 3*time.Second, cfg.Billing.FetchTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, path, cfg.ConfigPath)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidMonthRejected(t *testing.T) {
	t.Setenv("DUES_BILLING_START_MONTH", "13")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "billing.start_month")
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Billing.CutoffDay = 40
	cfg.Billing.FetchTimeout = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cutoff_day")
	assert.Contains(t, err.Error(), "fetch_timeout")
}

func TestSave_RoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Billing.CutoffDay = 12
	cfg.Billing.RefreshInterval = 30 * time.Minute
	path := filepath.Join(t.TempDir(), "dues.yaml")

	require.NoError(t, Save(path, cfg))
	got, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 12, got.Billing.CutoffDay)
	assert.Equal(t, 30*time.Minute, got.Billing.RefreshInterval)
	assert.Equal(t, cfg.Server.AllowedOrigins, got.Server.AllowedOrigins)
}
