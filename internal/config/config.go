// Package config loads payday settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Ledger drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds all settings of the payday engine.
type Config struct {
	Ledger   LedgerConfig
	Settle   SettleConfig
	Dispatch DispatchConfig
	Schedule ScheduleConfig
	Log      LogConfig
}

// LedgerConfig selects and locates the ledger store.
type LedgerConfig struct {
	Driver      string `envconfig:"LEDGER_DRIVER" default:"sqlite"`
	DBPath      string `envconfig:"DB_PATH" default:"./data/payday.db"`
	DatabaseURL string `envconfig:"DATABASE_URL"`
}

// SettleConfig tunes loading and settlement.
type SettleConfig struct {
	// MinorUnits is the number of fractional digits of the currency.
	MinorUnits int32 `envconfig:"CURRENCY_MINOR_UNITS" default:"2"`
	Workers    int   `envconfig:"SETTLE_WORKERS" default:"1"`
}

// DispatchConfig tunes delivery of instructions to the gateway.
type DispatchConfig struct {
	Workers        int           `envconfig:"DISPATCH_WORKERS" default:"4"`
	MaxAttempts    int           `envconfig:"DISPATCH_MAX_ATTEMPTS" default:"5"`
	InitialBackoff time.Duration `envconfig:"DISPATCH_INITIAL_BACKOFF" default:"500ms"`
	MaxBackoff     time.Duration `envconfig:"DISPATCH_MAX_BACKOFF" default:"30s"`
}

// ScheduleConfig drives the long-running schedule command.
type ScheduleConfig struct {
	// Cron is a standard five-field cron expression. Default: Thursdays at noon UTC.
	Cron        string `envconfig:"PAYDAY_SCHEDULE" default:"CRON_TZ=UTC 0 12 * * THU"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`
}

// LogConfig selects log level and output format.
type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Format string `envconfig:"LOG_FORMAT" default:"text"`
}

// Load reads an optional .env file from envFile, then the environment.
// A missing .env file is not an error.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Ledger.Driver {
	case DriverSQLite:
		if c.Ledger.DBPath == "" {
			return errors.New("DB_PATH is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Ledger.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown LEDGER_DRIVER %q", c.Ledger.Driver)
	}
	if c.Settle.MinorUnits < 0 {
		return fmt.Errorf("CURRENCY_MINOR_UNITS must not be negative, got %d", c.Settle.MinorUnits)
	}
	if c.Settle.Workers < 1 {
		return fmt.Errorf("SETTLE_WORKERS must be at least 1, got %d", c.Settle.Workers)
	}
	if c.Dispatch.Workers < 1 {
		return fmt.Errorf("DISPATCH_WORKERS must be at least 1, got %d", c.Dispatch.Workers)
	}
	if c.Dispatch.MaxAttempts < 1 {
		return fmt.Errorf("DISPATCH_MAX_ATTEMPTS must be at least 1, got %d", c.Dispatch.MaxAttempts)
	}
	return nil
}
