package weather

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/breatheroute/weathercore/internal/fault"
	"github.com/breatheroute/weathercore/internal/freshness"
	"github.com/breatheroute/weathercore/internal/location"
	"github.com/breatheroute/weathercore/internal/telemetry"
	"github.com/breatheroute/weathercore/pkg/geo"
)

const tracerName = "github.com/breatheroute/weathercore/internal/weather"

// Operation names used in logs, spans and metrics.
const (
	OperationCurrent  = "current"
	OperationForecast = "forecast"
)

// DefaultForecastTTL is the default freshness of a daily forecast.
const DefaultForecastTTL = 30 * time.Minute

// ErrNoLocator is wrapped in a LocationUnavailable failure when the service has
// no way to resolve a position.
var ErrNoLocator = errors.New("no locator configured")

// Locator resolves the current position. Implementations return fault errors of
// kind LocationUnavailable or LocationTimeout.
type Locator interface {
	Acquire(ctx context.Context, timeout time.Duration) (geo.Coordinate, error)
}

// Provider fetches weather for a coordinate. Implementations return fault errors
// of kind NetworkFailure, MalformedResponse or APIError.
type Provider interface {
	// Fetch returns the current conditions.
	Fetch(ctx context.Context, coord geo.Coordinate) (Snapshot, error)

	// FetchForecast returns the 3-hourly forecast.
	FetchForecast(ctx context.Context, coord geo.Coordinate) (Forecast, error)

	// Name returns the provider name for logging.
	Name() string
}

// Geocoder names the area around a coordinate. A zero Place with a nil error
// means nothing named is nearby.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, coord geo.Coordinate) (Place, error)
}

// ServiceConfig holds configuration for the weather service.
type ServiceConfig struct {
	// Provider is the weather data provider (required).
	Provider Provider

	// Locator resolves the position for each acquisition.
	Locator Locator

	// Geocoder labels fetched data with a place name (optional). Its failures
	// leave the place empty and never fail an acquisition.
	Geocoder Geocoder

	// Logger for service operations.
	Logger zerolog.Logger

	// CacheTTL is how long current conditions stay fresh (default: 10 minutes).
	CacheTTL time.Duration

	// ForecastTTL is how long a daily forecast stays fresh (default: 30 minutes).
	ForecastTTL time.Duration

	// CacheCapacity bounds each cache (default: 128 cells).
	CacheCapacity int

	// GridResolution is the cache cell size in degrees (default: 0.01).
	// Points within the same cell share cached data.
	GridResolution float64

	// LocationTimeout bounds the wait for a position fix (default: 10 seconds).
	LocationTimeout time.Duration

	// DayLocation is the time zone used to group forecast items by day (default: UTC).
	DayLocation *time.Location

	// Instruments records acquisition metrics (optional).
	Instruments *telemetry.Instruments

	// Tracer for acquisition spans. Defaults to the global tracer.
	Tracer trace.Tracer

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// OnTransition observes every state change, synchronously on the
	// acquiring goroutine (optional). Exposed to embedders as
	// weathercore.Options.OnTransition.
	OnTransition func(Transition)
}

// Service acquires weather for the current position, serving from a freshness
// cache when possible. It never retries and never falls back to stale data.
type Service struct {
	provider        Provider
	locator         Locator
	geocoder        Geocoder
	logger          zerolog.Logger
	grid            geo.Grid
	locationTimeout time.Duration
	dayLocation     *time.Location
	instruments     *telemetry.Instruments
	tracer          trace.Tracer
	onTransition    func(Transition)

	weatherCache  *freshness.Cache[Snapshot]
	forecastCache *freshness.Cache[DailyForecast]
}

// NewService creates a new weather service.
func NewService(cfg ServiceConfig) *Service {
	locationTimeout := cfg.LocationTimeout
	if locationTimeout == 0 {
		locationTimeout = location.DefaultTimeout
	}

	forecastTTL := cfg.ForecastTTL
	if forecastTTL == 0 {
		forecastTTL = DefaultForecastTTL
	}

	dayLocation := cfg.DayLocation
	if dayLocation == nil {
		dayLocation = time.UTC
	}

	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		provider:        cfg.Provider,
		locator:         cfg.Locator,
		geocoder:        cfg.Geocoder,
		logger:          cfg.Logger,
		grid:            geo.NewGrid(cfg.GridResolution),
		locationTimeout: locationTimeout,
		dayLocation:     dayLocation,
		instruments:     cfg.Instruments,
		tracer:          tracer,
		onTransition:    cfg.OnTransition,
		weatherCache: freshness.New[Snapshot](freshness.Config{
			Capacity: cfg.CacheCapacity,
			TTL:      cfg.CacheTTL,
			Now:      now,
		}),
		forecastCache: freshness.New[DailyForecast](freshness.Config{
			Capacity: cfg.CacheCapacity,
			TTL:      forecastTTL,
			Now:      now,
		}),
	}
}

// WithLocator returns a service that shares this service's provider and caches
// but resolves positions with l.
func (s *Service) WithLocator(l Locator) *Service {
	clone := *s
	clone.locator = l
	return &clone
}

// RequestWeather resolves the current position and returns the weather there.
// budget bounds the whole call; zero means no bound beyond ctx.
//
// Failures are returned unchanged from the locator or provider. Successful
// fetches are cached; failures are not.
func (s *Service) RequestWeather(ctx context.Context, budget time.Duration) (Snapshot, error) {
	return acquire(ctx, s, OperationCurrent, budget, s.weatherCache, s.fetchCurrent)
}

// RequestForecast resolves the current position and returns a daily forecast
// summary there, with the same failure and caching rules as RequestWeather.
func (s *Service) RequestForecast(ctx context.Context, budget time.Duration) (DailyForecast, error) {
	return acquire(ctx, s, OperationForecast, budget, s.forecastCache, s.fetchDaily)
}

func (s *Service) fetchCurrent(ctx context.Context, coord geo.Coordinate) (Snapshot, error) {
	snapshot, err := s.provider.Fetch(ctx, coord)
	if err != nil {
		return Snapshot{}, err
	}
	snapshot.Place = s.placeOf(ctx, coord)
	return snapshot, nil
}

func (s *Service) fetchDaily(ctx context.Context, coord geo.Coordinate) (DailyForecast, error) {
	forecast, err := s.provider.FetchForecast(ctx, coord)
	if err != nil {
		return DailyForecast{}, err
	}
	return DailyForecast{
		Coordinate: forecast.Coordinate,
		Place:      s.placeOf(ctx, coord),
		Units:      forecast.Units,
		Days:       SummarizeByDay(forecast.Items, s.dayLocation),
		FetchedAt:  forecast.FetchedAt,
	}, nil
}

// placeOf is best effort: the weather was fetched, so a failed lookup only
// costs the label.
func (s *Service) placeOf(ctx context.Context, coord geo.Coordinate) Place {
	if s.geocoder == nil {
		return Place{}
	}
	place, err := s.geocoder.ReverseGeocode(ctx, coord)
	if err != nil {
		s.logger.Debug().Err(err).Msg("place lookup failed")
		return Place{}
	}
	return place
}

// acquire runs one acquisition through the state machine:
// Idle -> LocatingStarted -> LocationResolved -> CacheChecked -> (Fetching -> FetchResolved ->) Done,
// or Failed from any step.
func acquire[V freshness.Observed](
	ctx context.Context,
	s *Service,
	operation string,
	budget time.Duration,
	cache *freshness.Cache[V],
	fetch func(context.Context, geo.Coordinate) (V, error),
) (result V, err error) {
	var zero V

	if budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	a := &acquisition{
		id:        uuid.NewString(),
		operation: operation,
		service:   s,
		start:     time.Now(),
	}
	ctx, a.span = s.tracer.Start(ctx, "weather.Request",
		trace.WithAttributes(
			attribute.String("acquisition.id", a.id),
			attribute.String("acquisition.operation", operation),
		),
	)
	a.logger = s.logger.With().
		Str("acquisition_id", a.id).
		Str("operation", operation).
		Logger()

	outcome := telemetry.OutcomeFetched
	defer func() {
		if errors.Is(err, context.Canceled) {
			outcome = telemetry.OutcomeCanceled
		}
		a.finish(outcome, err)
	}()

	// Locate
	a.transition(StateLocatingStarted)
	if s.locator == nil {
		outcome = telemetry.OutcomeFailed
		return zero, fault.LocationUnavailable(ErrNoLocator)
	}

	coord, err := s.locator.Acquire(ctx, s.fixTimeout(ctx))
	if err != nil {
		outcome = telemetry.OutcomeFailed
		return zero, err
	}
	a.transition(StateLocationResolved)

	// Cache
	cell := s.grid.Cell(coord)
	a.span.SetAttributes(attribute.String("weather.cell", cell.String()))
	a.logger = a.logger.With().Str("cell", cell.String()).Logger()

	cached, hit := cache.Get(cell)
	s.instruments.RecordCacheLookup(operation, hit)
	a.transition(StateCacheChecked)
	if hit {
		outcome = telemetry.OutcomeHit
		return cached, nil
	}

	// Fetch
	a.transition(StateFetching)
	fetchStart := time.Now()
	value, err := fetch(ctx, coord)
	s.instruments.RecordProviderRequest(s.provider.Name(), operation, time.Since(fetchStart), err)
	a.transition(StateFetchResolved)
	if err != nil {
		outcome = telemetry.OutcomeFailed
		return zero, err
	}

	if !cache.Put(cell, value, 0) {
		// A concurrent acquisition stored a newer observation for this cell.
		if newer, ok := cache.Get(cell); ok {
			return newer, nil
		}
	}
	return value, nil
}

// fixTimeout returns the location timeout, shortened to the time left on ctx.
func (s *Service) fixTimeout(ctx context.Context) time.Duration {
	timeout := s.locationTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	return timeout
}

type acquisition struct {
	id        string
	operation string
	service   *Service
	span      trace.Span
	logger    zerolog.Logger
	state     State
	start     time.Time
}

func (a *acquisition) transition(to State) {
	from := a.state
	a.state = to

	a.logger.Debug().
		Str("from", from.String()).
		Str("state", to.String()).
		Msg("acquisition state changed")
	a.span.AddEvent(to.String())

	if a.service.onTransition != nil {
		a.service.onTransition(Transition{AcquisitionID: a.id, From: from, To: to})
	}
}

func (a *acquisition) finish(outcome string, err error) {
	defer a.span.End()

	kind := ""
	switch {
	case outcome == telemetry.OutcomeCanceled:
		// Not an acquisition failure: the caller stopped listening.
		a.transition(StateFailed)
		a.span.AddEvent("canceled")
		a.logger.Debug().
			Dur("elapsed", time.Since(a.start)).
			Msg("weather acquisition canceled")
	case err != nil:
		a.transition(StateFailed)
		kind = fault.KindOf(err).String()

		a.span.RecordError(err)
		a.span.SetStatus(codes.Error, kind)
		a.logger.Warn().Err(err).
			Str("kind", kind).
			Msg("weather acquisition failed")
	default:
		a.transition(StateDone)
		a.logger.Debug().
			Str("outcome", outcome).
			Dur("elapsed", time.Since(a.start)).
			Msg("weather acquisition done")
	}

	a.span.SetAttributes(attribute.String("acquisition.outcome", outcome))
	a.service.instruments.RecordAcquisition(a.operation, outcome, kind, time.Since(a.start))
}

// InvalidateCache clears all cached data.
func (s *Service) InvalidateCache() {
	s.weatherCache.Purge()
	s.forecastCache.Purge()
}

// CacheStats contains cache statistics.
type CacheStats struct {
	Weather  freshness.Stats
	Forecast freshness.Stats
	Provider string
}

// CacheStats returns cache statistics.
func (s *Service) CacheStats() CacheStats {
	return CacheStats{
		Weather:  s.weatherCache.Stats(),
		Forecast: s.forecastCache.Stats(),
		Provider: s.provider.Name(),
	}
}
