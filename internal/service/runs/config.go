package runs

import (
	"errors"
	"time"

	"github.com/fleetcheck/fleetcheck/internal/platform/env"
)

type Config struct {
	// StoreTimeout bounds every repository and audit call.
	StoreTimeout time.Duration
	// SignedURLTTL is the lifetime of evidence read URLs in run details. It
	// follows the object store configuration.
	SignedURLTTL time.Duration
	// ListWindow is how far back run listings look when no start is given.
	ListWindow time.Duration
	// ConflictRetries bounds re-reads after a lost conditional update.
	ConflictRetries int
}

func DefaultConfig() Config {
	return Config{
		StoreTimeout:    5 * time.Second,
		SignedURLTTL:    120 * time.Second,
		ListWindow:      30 * 24 * time.Hour,
		ConflictRetries: 3,
	}
}

func ConfigFromEnv() (Config, error) {
	def := DefaultConfig()
	storeTimeout, err := env.Duration("FLEETCHECK_STORE_TIMEOUT", def.StoreTimeout)
	if err != nil {
		return Config{}, err
	}
	window, err := env.Duration("FLEETCHECK_RUNS_LIST_WINDOW", def.ListWindow)
	if err != nil {
		return Config{}, err
	}
	retries, err := env.Int("FLEETCHECK_RUNS_CONFLICT_RETRIES", def.ConflictRetries)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		StoreTimeout:    storeTimeout,
		SignedURLTTL:    def.SignedURLTTL,
		ListWindow:      window,
		ConflictRetries: retries,
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.StoreTimeout <= 0 {
		return errors.New("store timeout must be positive")
	}
	if c.SignedURLTTL <= 0 {
		return errors.New("signed url ttl must be positive")
	}
	if c.ListWindow <= 0 {
		return errors.New("list window must be positive")
	}
	if c.ConflictRetries < 1 {
		return errors.New("conflict retries must be >= 1")
	}
	return nil
}
