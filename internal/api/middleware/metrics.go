package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/breatheroute/weathercore/internal/api/middleware"

// unmatchedRoute labels requests no route matched, keeping scanners' paths out
// of metric attributes.
const unmatchedRoute = "unmatched"

// Metrics holds the HTTP server instruments.
type Metrics struct {
	requestDuration  metric.Float64Histogram
	requestTotal     metric.Int64Counter
	requestsInFlight metric.Int64UpDownCounter
	failures         metric.Int64Counter
}

// NewMetrics creates the HTTP server instruments on meter. A nil meter uses the
// global meter provider.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}

	var m Metrics
	var err error

	if m.requestDuration, err = meter.Float64Histogram(
		"http.server.request.duration",
		metric.WithDescription("Duration of HTTP server requests"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.requestTotal, err = meter.Int64Counter(
		"http.server.request.total",
		metric.WithDescription("HTTP server requests by route and status"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}

	if m.requestsInFlight, err = meter.Int64UpDownCounter(
		"http.server.active_requests",
		metric.WithDescription("HTTP requests being served"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}

	if m.failures, err = meter.Int64Counter(
		"weather.http.failures",
		metric.WithDescription("Weather responses that carried an acquisition failure, by kind"),
		metric.WithUnit("{response}"),
	); err != nil {
		return nil, err
	}

	return &m, nil
}

// Middleware records each request under its route pattern and, for weather
// routes, the location source and failure kind.
func (m *Metrics) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			r, notes := withAnnotations(r)

			m.requestsInFlight.Add(r.Context(), 1)
			defer m.requestsInFlight.Add(r.Context(), -1)

			rec := newStatusRecorder(w)
			next.ServeHTTP(rec, r)

			route := metricsRoute(r)
			attrs := []attribute.KeyValue{
				attribute.String("http.request.method", r.Method),
				attribute.String("http.route", route),
				attribute.String("http.response.status_code", strconv.Itoa(rec.statusCode)),
			}
			source, kind := notes.get()
			if source != "" {
				attrs = append(attrs, attribute.String("weather.location_source", source))
			}

			opt := metric.WithAttributes(attrs...)
			m.requestDuration.Record(r.Context(), time.Since(start).Seconds(), opt)
			m.requestTotal.Add(r.Context(), 1, opt)

			if kind != "" {
				m.failures.Add(r.Context(), 1, metric.WithAttributes(
					attribute.String("http.route", route),
					attribute.String("weather.failure_kind", kind),
				))
			}
		})
	}
}

func metricsRoute(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return unmatchedRoute
}
