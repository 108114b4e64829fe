package openweathermap_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breatheroute/weathercore/internal/fault"
	"github.com/breatheroute/weathercore/internal/provider/resilience"
	"github.com/breatheroute/weathercore/internal/weather"
	"github.com/breatheroute/weathercore/internal/weather/openweathermap"
)

const junggu = `[{
	"name": "Jung-gu",
	"local_names": {"ko": "중구", "en": "Jung-gu"},
	"lat": 37.5641,
	"lon": 126.9979,
	"country": "KR",
	"state": "Seoul"
}]`

func newGeocoder(t *testing.T, serverURL, lang string) *openweathermap.Geocoder {
	t.Helper()
	return openweathermap.NewGeocoder(openweathermap.GeocoderConfig{
		APIKey:     "test-key",
		BaseURL:    serverURL,
		Lang:       lang,
		HTTPClient: resilience.NewClient(resilience.DefaultClientConfig(t.Name())),
		Logger:     zerolog.Nop(),
	})
}

func TestGeocoder_ReverseGeocode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, openweathermap.ReversePath, r.URL.Path)
		assert.Equal(t, "37.566500", q.Get("lat"))
		assert.Equal(t, "126.978000", q.Get("lon"))
		assert.Equal(t, "1", q.Get("limit"))
		assert.Equal(t, "test-key", q.Get("appid"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(junggu))
	}))
	defer server.Close()

	tests := []struct {
		name string
		lang string
		want weather.Place
	}{
		{"provider name", "", weather.Place{Name: "Jung-gu", State: "Seoul", Country: "KR"}},
		{"localized name", "ko", weather.Place{Name: "중구", State: "Seoul", Country: "KR"}},
		{"missing localization falls back", "fr", weather.Place{Name: "Jung-gu", State: "Seoul", Country: "KR"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			place, err := newGeocoder(t, server.URL, tt.lang).ReverseGeocode(context.Background(), seoul)

			require.NoError(t, err)
			assert.Equal(t, tt.want, place)
		})
	}
}

func TestGeocoder_NoPlaceNearby(t *testing.T) {
	server := serveJSON(t, http.StatusOK, []interface{}{})

	place, err := newGeocoder(t, server.URL, "").ReverseGeocode(context.Background(), seoul)

	require.NoError(t, err)
	assert.True(t, place.IsZero())
}

func TestGeocoder_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   fault.Kind
	}{
		{"bad key", http.StatusUnauthorized, `{"cod":401}`, fault.KindAPIError},
		{"not a list", http.StatusOK, `{"name":"Jung-gu"}`, fault.KindMalformedResponse},
		{"nameless place", http.StatusOK, `[{"country":"KR"}]`, fault.KindMalformedResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := newGeocoder(t, server.URL, "").ReverseGeocode(context.Background(), seoul)

			require.Error(t, err)
			assert.Equal(t, tt.kind, fault.KindOf(err))
		})
	}
}

func TestGeocoder_NetworkFailureHidesKey(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()

	_, err := newGeocoder(t, server.URL, "").ReverseGeocode(context.Background(), seoul)

	require.ErrorIs(t, err, fault.ErrNetworkFailure)
	assert.NotContains(t, err.Error(), "test-key")
}
