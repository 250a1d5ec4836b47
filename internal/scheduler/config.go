package scheduler

import (
	"time"

	"github.com/smallbiznis/entitlements/internal/config"
)

// Config controls sweep intervals and batch sizes.
type Config struct {
	RunInterval      time.Duration
	BatchSize        int
	JobTimeout       time.Duration
	IncompleteExpiry time.Duration
	// EnabledJobs restricts the sweep to the named jobs; empty runs all of them.
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:      time.Minute,
		BatchSize:        100,
		JobTimeout:       30 * time.Second,
		IncompleteExpiry: 23 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.IncompleteExpiry <= 0 {
		c.IncompleteExpiry = defaults.IncompleteExpiry
	}
	return c
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:      cfg.Scheduler.RunInterval,
		BatchSize:        cfg.Scheduler.BatchSize,
		IncompleteExpiry: cfg.Scheduler.IncompleteExpiry,
		EnabledJobs:      cfg.Scheduler.EnabledJobs,
	}
}
