package location

import (
	"context"
	"time"

	"github.com/breatheroute/weathercore/pkg/geo"
)

// Fixed is a platform that always reports the same coordinate, e.g. a position
// reported by the device alongside an API request.
type Fixed struct {
	Coordinate geo.Coordinate
}

// RequestFix delivers the fixed coordinate immediately.
func (f Fixed) RequestFix(_ context.Context, deliver func(Fix, error)) (CancelFunc, error) {
	deliver(Fix{Coordinate: f.Coordinate, At: time.Now()}, nil)
	return func() {}, nil
}

// Unavailable is a platform without location capability.
type Unavailable struct {
	// Err is returned from RequestFix (default: ErrNoCapability).
	Err error
}

// RequestFix always fails.
func (u Unavailable) RequestFix(context.Context, func(Fix, error)) (CancelFunc, error) {
	if u.Err != nil {
		return nil, u.Err
	}
	return nil, ErrNoCapability
}
