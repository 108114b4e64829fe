package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/breatheroute/weathercore/internal/api/middleware"
)

func newTestMetrics(t *testing.T) (*middleware.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := middleware.NewMetrics(mp.Meter("test"))
	require.NoError(t, err)
	return m, reader
}

func requestTotals(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	totals := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != "http.server.request.total" {
				continue
			}
			sum, ok := md.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				route, _ := dp.Attributes.Value(attribute.Key("http.route"))
				status, _ := dp.Attributes.Value(attribute.Key("http.response.status_code"))
				totals[route.AsString()+" "+status.AsString()] += dp.Value
			}
		}
	}
	return totals
}

func failureTotals(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	totals := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != "weather.http.failures" {
				continue
			}
			sum, ok := md.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				kind, _ := dp.Attributes.Value(attribute.Key("weather.failure_kind"))
				totals[kind.AsString()] += dp.Value
			}
		}
	}
	return totals
}

func TestNewMetrics_GlobalMeter(t *testing.T) {
	m, err := middleware.NewMetrics(nil)
	require.NoError(t, err)
	assert.NotNil(t, m)
}

func TestMetrics_Middleware_CountsByRoute(t *testing.T) {
	m, reader := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(m.Middleware())
	r.Get("/v1/items/{id}", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})
	r.Get("/v1/broken", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	for _, path := range []string{"/v1/items/1", "/v1/items/2", "/v1/broken"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, http.NoBody))
	}

	totals := requestTotals(t, reader)
	assert.Equal(t, int64(2), totals["/v1/items/{id} 200"])
	assert.Equal(t, int64(1), totals["/v1/broken 502"])
}

func TestMetrics_Middleware_PassesResponseThrough(t *testing.T) {
	m, _ := newTestMetrics(t)

	handler := m.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad request"}`))
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", http.NoBody))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, `{"error":"bad request"}`, w.Body.String())
}

func TestMetrics_Middleware_UnmatchedRoute(t *testing.T) {
	m, reader := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(m.Middleware())
	r.Get("/v1/items/{id}", func(w http.ResponseWriter, _ *http.Request) {})

	for _, path := range []string{"/wp-admin", "/.env"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, http.NoBody))
	}

	totals := requestTotals(t, reader)
	assert.Equal(t, int64(2), totals["unmatched 404"])
}

func TestMetrics_Middleware_CountsFailureKinds(t *testing.T) {
	m, reader := newTestMetrics(t)

	kinds := []string{"LOCATION_UNAVAILABLE", "NETWORK_FAILURE", "NETWORK_FAILURE", ""}
	for _, kind := range kinds {
		handler := m.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			middleware.SetLocationSource(r.Context(), middleware.LocationSourceLocator)
			if kind != "" {
				middleware.SetFailureKind(r.Context(), kind)
				w.WriteHeader(http.StatusServiceUnavailable)
			}
		}))
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/weather/current", http.NoBody))
	}

	totals := failureTotals(t, reader)
	assert.Equal(t, int64(1), totals["LOCATION_UNAVAILABLE"])
	assert.Equal(t, int64(2), totals["NETWORK_FAILURE"])
	assert.Len(t, totals, 2)
}
