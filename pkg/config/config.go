// Package config loads bedcast configuration from a YAML file with
// environment variable overrides (BEDCAST_* prefix).
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config is the complete bedcastd configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Store    StoreConfig    `mapstructure:"store"`
	Forecast ForecastConfig `mapstructure:"forecast"`
	Risk     RiskConfig     `mapstructure:"risk"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP API server settings.
type ServerConfig struct {
	Host              string `mapstructure:"host"`
	Port              int    `mapstructure:"port"`
	MaxConcurrentFits int    `mapstructure:"max_concurrent_fits"`
}

// StoreConfig holds facility store settings.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// ForecastConfig holds forecasting engine tuning.
type ForecastConfig struct {
	MinObservations       int     `mapstructure:"min_observations"`
	MaxHorizonDays        int     `mapstructure:"max_horizon_days"`
	DefaultHorizonDays    int     `mapstructure:"default_horizon_days"`
	MaxHistoryDays        int     `mapstructure:"max_history_days"`
	ChangepointPriorScale float64 `mapstructure:"changepoint_prior_scale"`
	MaxChangepoints       int     `mapstructure:"max_changepoints"`
	WeeklyFourierOrder    int     `mapstructure:"weekly_fourier_order"`
}

// RiskConfig holds the shared utilization thresholds. These are the only
// place the 70/85 boundaries are written down; every consumer classifies
// through the risk package.
type RiskConfig struct {
	ElevatedPct float64 `mapstructure:"elevated_pct"`
	CriticalPct float64 `mapstructure:"critical_pct"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads configuration from an optional file plus environment variables.
// An empty path loads defaults and environment overrides only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("BEDCAST")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_concurrent_fits", 4)

	v.SetDefault("store.path", "./data/bedcast.db")

	v.SetDefault("forecast.min_observations", 14)
	v.SetDefault("forecast.max_horizon_days", 30)
	v.SetDefault("forecast.default_horizon_days", 7)
	v.SetDefault("forecast.max_history_days", 365)
	v.SetDefault("forecast.changepoint_prior_scale", 0.05)
	v.SetDefault("forecast.max_changepoints", 3)
	v.SetDefault("forecast.weekly_fourier_order", 3)

	v.SetDefault("risk.elevated_pct", 70.0)
	v.SetDefault("risk.critical_pct", 85.0)

	v.SetDefault("logging.level", "info")
}

// Validate checks that all configuration values are usable.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Server.MaxConcurrentFits < 1 {
		return fmt.Errorf("server.max_concurrent_fits must be at least 1")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if c.Forecast.MinObservations < 2 {
		return fmt.Errorf("forecast.min_observations must be at least 2")
	}
	if c.Forecast.MaxHorizonDays < 1 {
		return fmt.Errorf("forecast.max_horizon_days must be at least 1")
	}
	if c.Forecast.DefaultHorizonDays < 1 || c.Forecast.DefaultHorizonDays > c.Forecast.MaxHorizonDays {
		return fmt.Errorf("forecast.default_horizon_days must be between 1 and max_horizon_days")
	}
	if c.Forecast.MaxHistoryDays < c.Forecast.MinObservations {
		return fmt.Errorf("forecast.max_history_days must be at least min_observations")
	}
	if c.Forecast.ChangepointPriorScale <= 0 {
		return fmt.Errorf("forecast.changepoint_prior_scale must be positive")
	}
	if c.Forecast.MaxChangepoints < 0 {
		return fmt.Errorf("forecast.max_changepoints must not be negative")
	}
	if c.Forecast.WeeklyFourierOrder < 1 || c.Forecast.WeeklyFourierOrder > 3 {
		return fmt.Errorf("forecast.weekly_fourier_order must be between 1 and 3")
	}
	if c.Risk.ElevatedPct <= 0 || c.Risk.CriticalPct <= c.Risk.ElevatedPct || c.Risk.CriticalPct > 100 {
		return fmt.Errorf("risk thresholds must satisfy 0 < elevated_pct < critical_pct <= 100")
	}
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level is required")
	}
	return nil
}
