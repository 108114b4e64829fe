// Package weathercore resolves the device's position, fetches the weather there
// from OpenWeatherMap and caches it with a freshness policy.
//
// A Core is built from a Config with New. It answers RequestWeather and
// RequestForecast calls with one snapshot or one typed failure, serves the
// same data over HTTP through Handler, and can keep the cache warm on a
// schedule with StartRefresh.
package weathercore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/breatheroute/weathercore/internal/api"
	"github.com/breatheroute/weathercore/internal/api/middleware"
	"github.com/breatheroute/weathercore/internal/config"
	"github.com/breatheroute/weathercore/internal/fault"
	"github.com/breatheroute/weathercore/internal/location"
	"github.com/breatheroute/weathercore/internal/location/ipapi"
	"github.com/breatheroute/weathercore/internal/provider/resilience"
	"github.com/breatheroute/weathercore/internal/telemetry"
	"github.com/breatheroute/weathercore/internal/weather"
	"github.com/breatheroute/weathercore/internal/weather/openweathermap"
	"github.com/breatheroute/weathercore/internal/worker"
	"github.com/breatheroute/weathercore/pkg/geo"
)

// Version is reported on the health endpoint.
var Version = "dev"

type (
	Config        = config.Config
	Coordinate    = geo.Coordinate
	Snapshot      = weather.Snapshot
	Condition     = weather.Condition
	DailyForecast = weather.DailyForecast
	DailySummary  = weather.DailySummary
	Place         = weather.Place
	DayCursor     = weather.DayCursor
	RefreshResult = worker.RefreshResult
	RefreshStats  = worker.RefreshMetrics
	CacheStats    = weather.CacheStats

	// Transition is one state change of an acquisition; see Options.OnTransition.
	Transition = weather.Transition
	State      = weather.State

	// Sink receives refresh results; SinkFunc adapts a function.
	Sink     = worker.Sink
	SinkFunc = worker.SinkFunc

	// Platform is the device location API; see location.Platform.
	Platform   = location.Platform
	Fix        = location.Fix
	CancelFunc = location.CancelFunc

	// Error is the failure returned by every acquisition.
	Error = fault.Error
	Kind  = fault.Kind
)

const (
	KindLocationUnavailable = fault.KindLocationUnavailable
	KindLocationTimeout     = fault.KindLocationTimeout
	KindNetworkFailure      = fault.KindNetworkFailure
	KindMalformedResponse   = fault.KindMalformedResponse
	KindAPIError            = fault.KindAPIError
)

// Sentinels for errors.Is. ErrAPIError matches any status code.
var (
	ErrLocationUnavailable = fault.ErrLocationUnavailable
	ErrLocationTimeout     = fault.ErrLocationTimeout
	ErrNetworkFailure      = fault.ErrNetworkFailure
	ErrMalformedResponse   = fault.ErrMalformedResponse
	ErrAPIError            = fault.ErrAPIError

	// Platform failures a custom Platform may report.
	ErrPermissionDenied = location.ErrPermissionDenied
	ErrNoCapability     = location.ErrNoCapability
)

const (
	StateIdle             = weather.StateIdle
	StateLocatingStarted  = weather.StateLocatingStarted
	StateLocationResolved = weather.StateLocationResolved
	StateCacheChecked     = weather.StateCacheChecked
	StateFetching         = weather.StateFetching
	StateFetchResolved    = weather.StateFetchResolved
	StateDone             = weather.StateDone
	StateFailed           = weather.StateFailed
)

// NewDayCursor returns a cursor on the first day of a forecast, for stepping
// through it one day at a time.
func NewDayCursor(days []DailySummary) *DayCursor { return weather.NewDayCursor(days) }

// KindOf returns the failure kind of err.
func KindOf(err error) Kind { return fault.KindOf(err) }

// StatusCode returns the provider status code of an APIError failure.
func StatusCode(err error) (int, bool) { return fault.StatusCode(err) }

// LoadConfig reads configuration from path (optional), then WEATHERCORE_*
// environment variables.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// DefaultConfig returns the built-in defaults. An API key must be set before use.
func DefaultConfig() *Config { return config.Default() }

// Options holds everything New needs besides the context.
type Options struct {
	// Config is required.
	Config *Config

	// Logger overrides the logger built from Config.App.
	Logger *zerolog.Logger

	// Platform overrides the location source selected by Config.Location.Source.
	Platform Platform

	// Transport overrides the HTTP transport of every outbound client.
	Transport http.RoundTripper

	// Sink receives every refresh result (optional).
	Sink Sink

	// OnTransition observes every acquisition state change (optional). It is
	// called synchronously on the acquiring goroutine and must not block.
	OnTransition func(Transition)
}

// Core is a configured weather acquisition pipeline.
type Core struct {
	cfg       *Config
	logger    zerolog.Logger
	telemetry *telemetry.Provider
	registry  *resilience.Registry
	service   *weather.Service
	job       *worker.RefreshJob

	handlerOnce sync.Once
	handler     http.Handler

	mu         sync.Mutex
	scheduler  *worker.Scheduler
	stopPubSub context.CancelFunc
	pubsubDone chan struct{}
	closed     bool
}

// New validates cfg and wires the pipeline. No network access happens until
// the first request.
func New(ctx context.Context, opts Options) (*Core, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("weathercore: config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.App.Logger(os.Stderr)
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    cfg.App.Name,
		ServiceVersion: Version,
		Environment:    cfg.App.Env,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Secure:         cfg.Telemetry.Secure,
		Enabled:        cfg.Telemetry.Enabled,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	instruments, err := telemetry.NewInstruments(tp.Meter)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("creating instruments: %w", err)
	}

	registry := resilience.NewRegistry()

	owm := openweathermap.NewClient(openweathermap.ClientConfig{
		APIKey:       cfg.OpenWeatherMap.APIKey,
		BaseURL:      cfg.OpenWeatherMap.BaseURL,
		CurrentPath:  cfg.OpenWeatherMap.CurrentPath,
		ForecastPath: cfg.OpenWeatherMap.ForecastPath,
		Units:        cfg.OpenWeatherMap.Units,
		Lang:         cfg.OpenWeatherMap.Lang,
		HTTPClient: resilience.NewClient(resilience.ClientConfig{
			Name:      openweathermap.ProviderName,
			Timeout:   cfg.OpenWeatherMap.Timeout,
			Transport: opts.Transport,
			Registry:  registry,
			Logger:    logger,
		}),
		Logger: logger,
	})

	platform := opts.Platform
	if platform == nil {
		platform = platformFor(cfg, registry, opts.Transport, logger)
	}

	var geocoder weather.Geocoder
	if cfg.OpenWeatherMap.GeoBaseURL != "" {
		// Own breaker, unregistered: a geocoding outage costs place names,
		// not weather health.
		geocoder = openweathermap.NewGeocoder(openweathermap.GeocoderConfig{
			APIKey:  cfg.OpenWeatherMap.APIKey,
			BaseURL: cfg.OpenWeatherMap.GeoBaseURL,
			Lang:    cfg.OpenWeatherMap.PlaceLang,
			HTTPClient: resilience.NewClient(resilience.ClientConfig{
				Name:      openweathermap.GeocoderName,
				Timeout:   cfg.OpenWeatherMap.Timeout,
				Transport: opts.Transport,
				Logger:    logger,
			}),
			Logger: logger,
		})
	}

	service := weather.NewService(weather.ServiceConfig{
		Provider: owm,
		Geocoder: geocoder,
		Locator: location.NewAdapter(location.AdapterConfig{
			Platform: platform,
			Timeout:  cfg.Location.Timeout,
			Logger:   logger,
		}),
		Logger:          logger,
		CacheTTL:        cfg.Cache.TTL,
		ForecastTTL:     cfg.Cache.ForecastTTL,
		CacheCapacity:   cfg.Cache.Capacity,
		GridResolution:  cfg.Cache.GridResolution,
		LocationTimeout: cfg.Location.Timeout,
		Instruments:     instruments,
		Tracer:          tp.Tracer,
		OnTransition:    opts.OnTransition,
	})

	refreshCfg := worker.DefaultRefreshConfig()
	refreshCfg.Timeout = cfg.Refresh.Timeout
	refreshCfg.MaxAttempts = cfg.Refresh.MaxAttempts

	job := worker.NewRefreshJob(worker.RefreshJobConfig{
		Config:   refreshCfg,
		Acquirer: service,
		Sink:     opts.Sink,
		Logger:   logger,
	})

	logger.Info().
		Str("location_source", cfg.Location.Source).
		Str("units", cfg.OpenWeatherMap.Units).
		Dur("cache_ttl", cfg.Cache.TTL).
		Msg("weathercore initialized")

	return &Core{
		cfg:       cfg,
		logger:    logger,
		telemetry: tp,
		registry:  registry,
		service:   service,
		job:       job,
	}, nil
}

func platformFor(cfg *Config, registry *resilience.Registry, transport http.RoundTripper, logger zerolog.Logger) Platform {
	switch cfg.Location.Source {
	case config.LocationSourceIPAPI:
		return ipapi.New(ipapi.Config{
			URL: cfg.Location.IPAPIURL,
			HTTPClient: resilience.NewClient(resilience.ClientConfig{
				Name:      ipapi.ProviderName,
				Timeout:   cfg.Location.Timeout,
				Transport: transport,
				Registry:  registry,
				Logger:    logger,
			}),
			Logger: logger,
		})
	case config.LocationSourceFixed:
		return location.Fixed{Coordinate: geo.Coordinate{Lat: cfg.Location.Lat, Lon: cfg.Location.Lon}}
	default:
		return location.Unavailable{}
	}
}

// RequestWeather returns current conditions at the current position. The
// configured API request timeout bounds the call unless ctx ends sooner.
func (c *Core) RequestWeather(ctx context.Context) (Snapshot, error) {
	return c.service.RequestWeather(ctx, c.cfg.API.RequestTimeout)
}

// RequestWeatherAt returns current conditions at coord, skipping the locator.
func (c *Core) RequestWeatherAt(ctx context.Context, coord Coordinate) (Snapshot, error) {
	return c.at(coord).RequestWeather(ctx, c.cfg.API.RequestTimeout)
}

// RequestForecast returns the daily forecast at the current position.
func (c *Core) RequestForecast(ctx context.Context) (DailyForecast, error) {
	return c.service.RequestForecast(ctx, c.cfg.API.RequestTimeout)
}

// RequestForecastAt returns the daily forecast at coord, skipping the locator.
func (c *Core) RequestForecastAt(ctx context.Context, coord Coordinate) (DailyForecast, error) {
	return c.at(coord).RequestForecast(ctx, c.cfg.API.RequestTimeout)
}

func (c *Core) at(coord Coordinate) *weather.Service {
	return c.service.WithLocator(location.NewAdapter(location.AdapterConfig{
		Platform: location.Fixed{Coordinate: coord},
		Logger:   c.logger,
	}))
}

// InvalidateCache drops every cached snapshot and forecast.
func (c *Core) InvalidateCache() { c.service.InvalidateCache() }

// CacheStats reports cache counters.
func (c *Core) CacheStats() CacheStats { return c.service.CacheStats() }

// Handler returns the HTTP presentation of the core. It is built once.
func (c *Core) Handler() http.Handler {
	c.handlerOnce.Do(func() {
		metrics, err := middleware.NewMetrics(c.telemetry.Meter)
		if err != nil {
			c.logger.Warn().Err(err).Msg("http metrics disabled")
			metrics = nil
		}

		c.handler = api.NewRouter(api.RouterConfig{
			Version:  Version,
			Logger:   c.logger,
			Tracer:   c.telemetry.Tracer,
			Metrics:  metrics,
			Service:  c.service,
			Registry: c.registry,
			RateLimit: middleware.RateLimitConfig{
				RequestLimit: c.cfg.API.RateLimit,
				WindowLength: c.cfg.API.RateLimitWindow,
			},
			Budget: c.cfg.API.RequestTimeout,
		})
	})
	return c.handler
}

// Refresh runs one retrying refresh now.
func (c *Core) Refresh(ctx context.Context) *RefreshResult {
	return c.job.Run(ctx)
}

// Latest returns the most recent successful refresh result, or nil.
func (c *Core) Latest() *RefreshResult {
	return c.job.Latest()
}

// RefreshStats reports the refresh job's running totals.
func (c *Core) RefreshStats() RefreshStats {
	return c.job.GetMetrics()
}

// StartRefresh schedules periodic refreshes and, when a Pub/Sub subscription
// is configured, starts listening for on-demand triggers. It does nothing when
// refresh is disabled and returns an error if called twice.
func (c *Core) StartRefresh(ctx context.Context) error {
	if !c.cfg.Refresh.Enabled {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("weathercore: core is closed")
	}
	if c.scheduler != nil {
		return errors.New("weathercore: refresh already started")
	}

	scheduler := worker.NewScheduler(worker.SchedulerConfig{
		// Room for every attempt plus the backoff between them.
		Timeout: c.cfg.Refresh.Timeout * time.Duration(c.cfg.Refresh.MaxAttempts+1),
		Logger:  c.logger,
	})
	if _, err := scheduler.ScheduleRefresh(c.cfg.Refresh.Schedule, c.job); err != nil {
		scheduler.Stop()
		return err
	}

	if c.cfg.Refresh.PubSubProject != "" {
		handler, err := worker.NewPubSubHandler(ctx, worker.PubSubConfig{
			ProjectID:        c.cfg.Refresh.PubSubProject,
			SubscriptionName: c.cfg.Refresh.PubSubSubscription,
			Handler:          worker.NewMessageHandler(c.job, c.registry, c.logger),
			Logger:           c.logger,
		})
		if err != nil {
			scheduler.Stop()
			return err
		}

		pubsubCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		done := make(chan struct{})
		go func() {
			defer close(done)
			defer handler.Close()
			if err := handler.Start(pubsubCtx); err != nil && !errors.Is(err, context.Canceled) {
				c.logger.Error().Err(err).Msg("pubsub handler stopped")
			}
		}()
		c.stopPubSub = cancel
		c.pubsubDone = done
	}

	scheduler.Start()
	c.scheduler = scheduler
	return nil
}

// Close stops background refreshes and flushes telemetry.
func (c *Core) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	scheduler, stopPubSub, pubsubDone := c.scheduler, c.stopPubSub, c.pubsubDone
	c.mu.Unlock()

	if scheduler != nil {
		scheduler.Stop()
	}
	if stopPubSub != nil {
		stopPubSub()
		select {
		case <-pubsubDone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := c.telemetry.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down telemetry: %w", err)
	}
	c.logger.Info().Msg("weathercore closed")
	return nil
}
