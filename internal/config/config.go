// Package config loads prepchain settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// Store backends.
const (
	StoreSQLite = "sqlite"
	StoreBadger = "badger"
)

// Config holds every tunable. Zero durations and counts are valid where
// noted; everything else is checked by Validate.
type Config struct {
	Store  string `env:"PREPCHAIN_STORE" envDefault:"sqlite" validate:"oneof=sqlite badger"`
	DBPath string `env:"PREPCHAIN_DB_PATH" envDefault:"prepchain.db" validate:"required"`

	// DatasetDir is the CSV catalog root. Empty starts with no datasets.
	DatasetDir string `env:"PREPCHAIN_DATASET_DIR"`

	SampleSize     int           `env:"PREPCHAIN_SAMPLE_SIZE" envDefault:"100" validate:"gte=1,lte=100000"`
	PreviewTimeout time.Duration `env:"PREPCHAIN_PREVIEW_TIMEOUT" envDefault:"10s" validate:"gte=0"`

	// LockTTL of zero keeps edit locks until released.
	LockTTL time.Duration `env:"PREPCHAIN_LOCK_TTL" envDefault:"0s" validate:"gte=0"`

	DatasetTimeout   time.Duration `env:"PREPCHAIN_DATASET_TIMEOUT" envDefault:"5s" validate:"gt=0"`
	DatasetRetries   int           `env:"PREPCHAIN_DATASET_RETRIES" envDefault:"3" validate:"gte=1,lte=20"`
	BreakerThreshold int           `env:"PREPCHAIN_BREAKER_THRESHOLD" envDefault:"5" validate:"gte=1"`
	BreakerReset     time.Duration `env:"PREPCHAIN_BREAKER_RESET" envDefault:"30s" validate:"gt=0"`

	LogLevel      string `env:"PREPCHAIN_LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	TraceExporter string `env:"PREPCHAIN_TRACE_EXPORTER" envDefault:"none" validate:"oneof=none stdout"`
}

var validate = validator.New()

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFrom is Load over an explicit variable set instead of the process
// environment.
func LoadFrom(vars map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: vars}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints and reports every violation at once.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, len(verrs))
	for i, fe := range verrs {
		msgs[i] = fmt.Sprintf("%s: failed %q (value %v)", fe.Field(), fe.Tag(), fe.Value())
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// SlogLevel maps LogLevel to a slog level.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
