// Package location turns a callback-based location platform into a single-shot,
// timeout-bounded coordinate request.
package location

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/breatheroute/weathercore/internal/fault"
	"github.com/breatheroute/weathercore/pkg/geo"
)

// Platform errors. Either one makes the acquisition fail with LocationUnavailable.
var (
	ErrPermissionDenied = errors.New("location permission denied")
	ErrNoCapability     = errors.New("location capability unavailable")
)

// DefaultTimeout bounds a fix request when the caller does not pass a timeout.
const DefaultTimeout = 10 * time.Second

// Fix is one position report from a platform.
type Fix struct {
	Coordinate geo.Coordinate

	// Accuracy in meters, 0 if unknown. Not interpreted by the adapter.
	Accuracy float64

	// At is when the platform obtained the fix.
	At time.Time
}

// CancelFunc cancels an outstanding fix request. It must be safe to call after
// the fix was delivered and safe to call more than once.
type CancelFunc func()

// Platform is the device location API.
type Platform interface {
	// RequestFix registers a single-shot request. deliver may be called from any
	// goroutine; calls after the first are ignored. A non-nil error means the
	// request could not be registered at all.
	RequestFix(ctx context.Context, deliver func(Fix, error)) (CancelFunc, error)
}

// AdapterConfig holds configuration for the Adapter.
type AdapterConfig struct {
	// Platform is the location platform (required).
	Platform Platform

	// Timeout is used when Acquire is called with a zero timeout (default: 10s).
	Timeout time.Duration

	// Logger for adapter operations.
	Logger zerolog.Logger
}

// Adapter resolves exactly one coordinate per Acquire call.
type Adapter struct {
	platform Platform
	timeout  time.Duration
	logger   zerolog.Logger
}

// NewAdapter creates a new location adapter.
func NewAdapter(cfg AdapterConfig) *Adapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Adapter{
		platform: cfg.Platform,
		timeout:  timeout,
		logger:   cfg.Logger,
	}
}

type fixResult struct {
	fix Fix
	err error
}

// Acquire requests a fix and waits at most timeout for it.
//
// Platform failures (permission denial, missing capability, registration
// errors, out-of-range fixes) yield fault.KindLocationUnavailable. No fix in
// time, or the caller's deadline passing while waiting, yields
// fault.KindLocationTimeout. An explicit caller cancellation returns ctx.Err().
// The platform request is cancelled on every path once Acquire stops waiting.
func (a *Adapter) Acquire(ctx context.Context, timeout time.Duration) (geo.Coordinate, error) {
	if timeout <= 0 {
		timeout = a.timeout
	}
	if a.platform == nil {
		return geo.Coordinate{}, fault.LocationUnavailable(ErrNoCapability)
	}

	reqCtx, cancelCtx := context.WithCancel(ctx)
	defer cancelCtx()

	results := make(chan fixResult, 1)
	var once sync.Once
	deliver := func(fix Fix, err error) {
		once.Do(func() {
			results <- fixResult{fix: fix, err: err}
		})
	}

	cancelFix, err := a.platform.RequestFix(reqCtx, deliver)
	if err != nil {
		a.logger.Warn().Err(err).Msg("location request rejected by platform")
		return geo.Coordinate{}, fault.LocationUnavailable(err)
	}
	if cancelFix != nil {
		defer cancelFix()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-results:
		if r.err != nil {
			a.logger.Warn().Err(r.err).Msg("location platform reported failure")
			return geo.Coordinate{}, fault.LocationUnavailable(r.err)
		}
		if err := r.fix.Coordinate.Validate(); err != nil {
			return geo.Coordinate{}, fault.LocationUnavailable(err)
		}
		a.logger.Debug().
			Float64("accuracy", r.fix.Accuracy).
			Msg("location fix acquired")
		return r.fix.Coordinate, nil

	case <-timer.C:
		a.logger.Warn().Dur("timeout", timeout).Msg("location fix timed out")
		return geo.Coordinate{}, fault.LocationTimeout(fmt.Errorf("no fix within %s", timeout))

	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return geo.Coordinate{}, fault.LocationTimeout(ctx.Err())
		}
		return geo.Coordinate{}, ctx.Err()
	}
}
