package scheduler

import (
	"errors"
	"time"

	"github.com/fleetcheck/fleetcheck/internal/platform/env"
)

type Config struct {
	Enabled bool
	// Interval is the time between ticks.
	Interval time.Duration
	// Concurrency bounds how many reminders are evaluated at once.
	Concurrency int
	// MaxAttempts bounds tries per store call within one tick.
	MaxAttempts int
	// Backoff is the first retry delay; it doubles per attempt.
	Backoff time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		Interval:    time.Minute,
		Concurrency: 8,
		MaxAttempts: 3,
		Backoff:     200 * time.Millisecond,
	}
}

func ConfigFromEnv() (Config, error) {
	def := DefaultConfig()
	enabled, err := env.Bool("FLEETCHECK_SCHEDULER_ENABLED", def.Enabled)
	if err != nil {
		return Config{}, err
	}
	interval, err := env.Duration("FLEETCHECK_SCHEDULER_INTERVAL", def.Interval)
	if err != nil {
		return Config{}, err
	}
	concurrency, err := env.Int("FLEETCHECK_SCHEDULER_CONCURRENCY", def.Concurrency)
	if err != nil {
		return Config{}, err
	}
	attempts, err := env.Int("FLEETCHECK_SCHEDULER_MAX_ATTEMPTS", def.MaxAttempts)
	if err != nil {
		return Config{}, err
	}
	backoff, err := env.Duration("FLEETCHECK_SCHEDULER_BACKOFF", def.Backoff)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Enabled:     enabled,
		Interval:    interval,
		Concurrency: concurrency,
		MaxAttempts: attempts,
		Backoff:     backoff,
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.Interval <= 0 {
		return errors.New("scheduler interval must be positive")
	}
	if c.Concurrency < 1 {
		return errors.New("scheduler concurrency must be >= 1")
	}
	if c.MaxAttempts < 1 {
		return errors.New("scheduler max attempts must be >= 1")
	}
	if c.Backoff < 0 {
		return errors.New("scheduler backoff must not be negative")
	}
	return nil
}
