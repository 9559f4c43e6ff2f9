// Package worker provides background processing of feature flag change events
// and store consistency checks.
package worker

import (
	"time"
)

// CheckConfig holds configuration for the store consistency check.
type CheckConfig struct {
	// Concurrency is the number of flags checked in parallel.
	// Default: 4
	Concurrency int

	// Timeout bounds a single check run.
	// Default: 30 seconds
	Timeout time.Duration

	// Environments are evaluated for every flag and reported in the result.
	// Default: Development, Staging, Production
	Environments []string
}

// DefaultCheckConfig returns the default consistency check configuration.
func DefaultCheckConfig() CheckConfig {
	return CheckConfig{
		Concurrency:  4,
		Timeout:      30 * time.Second,
		Environments: []string{"Development", "Staging", "Production"},
	}
}

func (c CheckConfig) withDefaults() CheckConfig {
	d := DefaultCheckConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if len(c.Environments) == 0 {
		c.Environments = d.Environments
	}
	return c
}
