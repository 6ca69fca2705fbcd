package reconcile

import "time"

// WorkerConfig controls the background reconciliation loop.
type WorkerConfig struct {
	Enabled      bool
	PollInterval time.Duration
	RunTimeout   time.Duration
}

func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Enabled:      true,
		PollInterval: time.Hour,
		RunTimeout:   5 * time.Minute,
	}
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	defaults := DefaultWorkerConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = defaults.PollInterval
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = defaults.RunTimeout
	}
	return c
}
