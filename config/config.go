/*
config.go - Service configuration

SOURCES (lowest to highest precedence):
  1. Built-in defaults (Default)
  2. Optional YAML file passed with --config
  3. Environment variables prefixed DUES_, with "." replaced by "_"
     (e.g. DUES_BILLING_CUTOFF_DAY=10)

The billing section maps onto billing.Policy; everything else configures
the process around it.
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/warp/dues-engine/billing"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "DUES"

type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Billing  BillingConfig  `mapstructure:"billing" yaml:"billing"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`

	ConfigPath string `mapstructure:"-" yaml:"-"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port" yaml:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// BillingConfig holds the fee policy and reconciliation timing.
type BillingConfig struct {
	StartYear          int           `mapstructure:"start_year" yaml:"start_year"`
	StartMonth         int           `mapstructure:"start_month" yaml:"start_month"`
	CutoffDay          int           `mapstructure:"cutoff_day" yaml:"cutoff_day"`
	RecurringFeeTypeID int64         `mapstructure:"recurring_fee_type_id" yaml:"recurring_fee_type_id"`
	PaidStatusID       int64         `mapstructure:"paid_status_id" yaml:"paid_status_id"`
	FetchTimeout       time.Duration `mapstructure:"fetch_timeout" yaml:"fetch_timeout"`
	RefreshInterval    time.Duration `mapstructure:"refresh_interval" yaml:"refresh_interval"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	pol := billing.DefaultPolicy()
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
		},
		Database: DatabaseConfig{Path: "dues.db"},
		Billing: BillingConfig{
			StartYear:          pol.Start.Year,
			StartMonth:         int(pol.Start.Month),
			CutoffDay:          pol.CutoffDay,
			RecurringFeeTypeID: int64(pol.RecurringFeeType),
			PaidStatusID:       int64(pol.PaidStatus),
			FetchTimeout:       billing.DefaultFetchTimeout,
			RefreshInterval:    time.Hour,
		},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

// Load reads configuration from path (optional) and the environment.
// A missing path is only an error when one was given explicitly.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.ConfigPath = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so environment overrides reach Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("billing.start_year", d.Billing.StartYear)
	v.SetDefault("billing.start_month", d.Billing.StartMonth)
	v.SetDefault("billing.cutoff_day", d.Billing.CutoffDay)
	v.SetDefault("billing.recurring_fee_type_id", d.Billing.RecurringFeeTypeID)
	v.SetDefault("billing.paid_status_id", d.Billing.PaidStatusID)
	v.SetDefault("billing.fetch_timeout", d.Billing.FetchTimeout)
	v.SetDefault("billing.refresh_interval", d.Billing.RefreshInterval)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Save writes cfg as YAML, e.g. to seed a starter config file.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(fileConfig(cfg))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// fileConfig renders durations as strings ("10s") so viper reads them back.
func fileConfig(cfg *Config) map[string]any {
	return map[string]any{
		"server":   cfg.Server,
		"database": cfg.Database,
		"billing": map[string]any{
			"start_year":            cfg.Billing.StartYear,
			"start_month":           cfg.Billing.StartMonth,
			"cutoff_day":            cfg.Billing.CutoffDay,
			"recurring_fee_type_id": cfg.Billing.RecurringFeeTypeID,
			"paid_status_id":        cfg.Billing.PaidStatusID,
			"fetch_timeout":         cfg.Billing.FetchTimeout.String(),
			"refresh_interval":      cfg.Billing.RefreshInterval.String(),
		},
		"log": cfg.Log,
	}
}

// Validate rejects settings the reconciler cannot work with.
func (c *Config) Validate() error {
	var errs []error
	if c.Billing.StartMonth < 1 || c.Billing.StartMonth > 12 {
		errs = append(errs, fmt.Errorf("billing.start_month must be 1..12, got %d", c.Billing.StartMonth))
	}
	if c.Billing.StartYear < 1 {
		errs = append(errs, fmt.Errorf("billing.start_year must be positive, got %d", c.Billing.StartYear))
	}
	if c.Billing.CutoffDay < 0 || c.Billing.CutoffDay > 31 {
		errs = append(errs, fmt.Errorf("billing.cutoff_day must be 0..31, got %d", c.Billing.CutoffDay))
	}
	if c.Billing.RecurringFeeTypeID <= 0 {
		errs = append(errs, errors.New("billing.recurring_fee_type_id must be positive"))
	}
	if c.Billing.PaidStatusID <= 0 {
		errs = append(errs, errors.New("billing.paid_status_id must be positive"))
	}
	if c.Billing.FetchTimeout <= 0 {
		errs = append(errs, errors.New("billing.fetch_timeout must be positive"))
	}
	if c.Billing.RefreshInterval < 0 {
		errs = append(errs, errors.New("billing.refresh_interval must not be negative"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Policy converts the billing section into a billing.Policy.
func (c *Config) Policy() billing.Policy {
	return billing.Policy{
		RecurringFeeType: billing.CatalogID(c.Billing.RecurringFeeTypeID),
		PaidStatus:       billing.CatalogID(c.Billing.PaidStatusID),
		Start:            billing.NewDuePeriod(c.Billing.StartYear, c.Billing.StartMonth),
		CutoffDay:        c.Billing.CutoffDay,
	}
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
