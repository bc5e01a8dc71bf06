package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName  string `envconfig:"APP_NAME" default:"Pesafi"`
	AppEnv   string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	RedisURL    string `envconfig:"REDIS_URL" required:"true"`

	ShutdownPeriod time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	// Banking business rules, amounts in minor currency units.
	MaxTransactionAmount int64 `envconfig:"MAX_TRANSACTION_AMOUNT" default:"10000000"`
	MinTransactionAmount int64 `envconfig:"MIN_TRANSACTION_AMOUNT" default:"1"`

	// Step-up verification for sensitive transfers.
	VerificationTTL      time.Duration `envconfig:"VERIFICATION_TTL" default:"10m"`
	VerificationAttempts int           `envconfig:"VERIFICATION_MAX_ATTEMPTS" default:"3"`

	// Recurrence sweep.
	SweepInterval    time.Duration `envconfig:"SWEEP_INTERVAL" default:"1m"`
	SweepClaimTTL    time.Duration `envconfig:"SWEEP_CLAIM_TTL" default:"5m"`
	SweepConcurrency int           `envconfig:"SWEEP_CONCURRENCY" default:"5"`
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("process environment: %w", err)
	}

	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	if cfg.MaxTransactionAmount <= 0 {
		return Config{}, fmt.Errorf("MAX_TRANSACTION_AMOUNT must be positive")
	}
	if cfg.MinTransactionAmount < 0 || cfg.MinTransactionAmount > cfg.MaxTransactionAmount {
		return Config{}, fmt.Errorf("MIN_TRANSACTION_AMOUNT must be between 0 and MAX_TRANSACTION_AMOUNT")
	}
	if cfg.VerificationAttempts < 1 {
		return Config{}, fmt.Errorf("VERIFICATION_MAX_ATTEMPTS must be at least 1")
	}
	if cfg.SweepInterval < time.Second {
		return Config{}, fmt.Errorf("SWEEP_INTERVAL must be at least one second")
	}

	return cfg, nil
}
