package scheduler

import (
	"time"

	"github.com/smallbiznis/paygate/internal/config"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	Enabled     bool
	RunInterval time.Duration
	BatchSize   int
	// StaleAfter is how long a pending charge may go without an update before
	// the provider is polled for it.
	StaleAfter time.Duration
	// MaxAge bounds the sweep so abandoned charges stop being polled.
	MaxAge     time.Duration
	JobTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		RunInterval: time.Minute,
		BatchSize:   50,
		StaleAfter:  15 * time.Minute,
		MaxAge:      72 * time.Hour,
		JobTimeout:  30 * time.Second,
	}
}

// ProvideConfig maps the application config onto the scheduler.
func ProvideConfig(cfg config.Config) Config {
	return Config{
		Enabled:     cfg.Sweep.Enabled,
		RunInterval: cfg.Sweep.Interval,
		BatchSize:   cfg.Sweep.BatchSize,
		StaleAfter:  cfg.Sweep.StaleAfter,
		MaxAge:      cfg.Sweep.MaxAge,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = defaults.StaleAfter
	}
	if c.MaxAge <= 0 {
		c.MaxAge = defaults.MaxAge
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}
