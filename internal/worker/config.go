// Package worker runs weather acquisitions in the background: an hourly cron
// refresh, a retrying refresh job and a Pub/Sub trigger for on-demand refreshes.
package worker

import (
	"time"
)

// RefreshConfig holds configuration for the refresh job.
type RefreshConfig struct {
	// Timeout bounds each acquisition attempt.
	// Default: 30 seconds
	Timeout time.Duration

	// MaxAttempts is the number of acquisition attempts per run.
	// Default: 3
	MaxAttempts uint64

	// InitialInterval is the first backoff delay between attempts.
	// Default: 1 second
	InitialInterval time.Duration

	// MaxInterval caps the backoff delay.
	// Default: 30 seconds
	MaxInterval time.Duration

	// IncludeForecast also refreshes the daily forecast.
	// Default: true
	IncludeForecast bool
}

// DefaultRefreshConfig returns the default refresh configuration.
func DefaultRefreshConfig() RefreshConfig {
	return RefreshConfig{
		Timeout:         30 * time.Second,
		MaxAttempts:     3,
		InitialInterval: 1 * time.Second,
		MaxInterval:     30 * time.Second,
		IncludeForecast: true,
	}
}

// withDefaults fills zero fields from DefaultRefreshConfig. IncludeForecast is
// taken as given.
func (c RefreshConfig) withDefaults() RefreshConfig {
	def := DefaultRefreshConfig()
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = def.InitialInterval
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = def.MaxInterval
	}
	return c
}
