// Package resilience provides the HTTP client used for provider calls: a
// timeout-bounded client behind a circuit breaker, plus a registry that
// tracks provider health.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
)

const (
	// DefaultOpenTimeout is how long an open breaker rejects calls before probing.
	DefaultOpenTimeout = 60 * time.Second

	// DefaultConsecutiveFailures trips the breaker regardless of volume. A single
	// device makes a handful of calls an hour, too few for a ratio to settle.
	DefaultConsecutiveFailures = 3

	// DefaultMinRequests and DefaultFailureRatio trip a busy breaker by rate.
	DefaultMinRequests  = 5
	DefaultFailureRatio = 0.5
)

// CircuitBreakerConfig holds configuration for the circuit breaker.
type CircuitBreakerConfig struct {
	// Name identifies the breaker in logs and on the health endpoint.
	Name string

	// MaxRequests is the number of probe requests allowed while half-open.
	// Default: 1
	MaxRequests uint32

	// Interval clears the closed-state counts periodically. Zero never clears.
	Interval time.Duration

	// Timeout is the open period before the breaker goes half-open.
	// Default: DefaultOpenTimeout
	Timeout time.Duration

	// ReadyToTrip decides when to open. A tripped breaker surfaces to
	// acquisitions as a network failure.
	// Default: DefaultReadyToTrip
	ReadyToTrip func(counts gobreaker.Counts) bool

	// OnStateChange is called when the breaker changes state.
	OnStateChange func(name string, from gobreaker.State, to gobreaker.State)
}

// DefaultCircuitBreakerConfig returns the provider defaults.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:        name,
		MaxRequests: 1,
		Timeout:     DefaultOpenTimeout,
		ReadyToTrip: DefaultReadyToTrip,
	}
}

// DefaultReadyToTrip opens after DefaultConsecutiveFailures failures in a row,
// or once DefaultMinRequests calls have failed at DefaultFailureRatio or worse.
func DefaultReadyToTrip(counts gobreaker.Counts) bool {
	if counts.ConsecutiveFailures >= DefaultConsecutiveFailures {
		return true
	}
	if counts.Requests < DefaultMinRequests {
		return false
	}
	return float64(counts.TotalFailures)/float64(counts.Requests) >= DefaultFailureRatio
}

// callerAborted reports errors caused by the caller giving up rather than the
// provider failing. They do not count against the breaker.
func callerAborted(err error) bool {
	return errors.Is(err, context.Canceled)
}

// NewCircuitBreaker creates a breaker from cfg, filling unset fields with defaults.
func NewCircuitBreaker[T any](cfg CircuitBreakerConfig) *gobreaker.CircuitBreaker[T] {
	settings := gobreaker.Settings{
		Name:          cfg.Name,
		MaxRequests:   cfg.MaxRequests,
		Interval:      cfg.Interval,
		Timeout:       cfg.Timeout,
		ReadyToTrip:   cfg.ReadyToTrip,
		OnStateChange: cfg.OnStateChange,
		IsSuccessful: func(err error) bool {
			return err == nil || callerAborted(err)
		},
	}
	if settings.MaxRequests == 0 {
		settings.MaxRequests = 1
	}
	if settings.Timeout == 0 {
		settings.Timeout = DefaultOpenTimeout
	}
	if settings.ReadyToTrip == nil {
		settings.ReadyToTrip = DefaultReadyToTrip
	}

	return gobreaker.NewCircuitBreaker[T](settings)
}
