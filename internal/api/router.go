// Package api provides the HTTP presentation layer for weather acquisitions.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/breatheroute/weathercore/internal/api/handler"
	"github.com/breatheroute/weathercore/internal/api/middleware"
	"github.com/breatheroute/weathercore/internal/api/response"
	"github.com/breatheroute/weathercore/internal/provider/resilience"
	"github.com/breatheroute/weathercore/internal/weather"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version string
	Logger  zerolog.Logger

	// Tracer for server spans. Defaults to the global tracer.
	Tracer trace.Tracer

	// Metrics records HTTP server metrics (optional).
	Metrics *middleware.Metrics

	// Service acquires weather (required).
	Service *weather.Service

	// Registry reports provider health on /v1/ops/health (optional).
	Registry *resilience.Registry

	// RateLimit applies per client IP and endpoint to weather routes.
	RateLimit middleware.RateLimitConfig

	// Budget bounds each weather request.
	Budget time.Duration
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware - order matters. The request ID comes first so every
	// later layer can log and tag it.
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing(cfg.Tracer))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.ContentTypeJSON)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.NotFound(w, r, "no such resource")
	})

	weatherHandler := handler.NewWeatherHandler(handler.WeatherHandlerConfig{
		Service: cfg.Service,
		Budget:  cfg.Budget,
		Logger:  cfg.Logger,
	})
	opsHandler := handler.NewOpsHandler(cfg.Version, cfg.Registry, cfg.Service.CacheStats)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/weather", func(r chi.Router) {
			r.Use(middleware.RateLimitWeather(cfg.RateLimit))
			r.Get("/current", weatherHandler.Current)
			r.Get("/forecast", weatherHandler.Forecast)
		})

		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
		})
	})

	return r
}
