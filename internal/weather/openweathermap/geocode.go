package openweathermap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/breatheroute/weathercore/internal/fault"
	"github.com/breatheroute/weathercore/internal/provider/resilience"
	"github.com/breatheroute/weathercore/internal/weather"
	"github.com/breatheroute/weathercore/pkg/geo"
)

const (
	// GeocoderName identifies the reverse geocoding client.
	GeocoderName = "openweathermap-geo"

	// DefaultGeoBaseURL is the OpenWeatherMap geocoding API base URL.
	DefaultGeoBaseURL = "https://api.openweathermap.org/geo/1.0"

	// ReversePath is the reverse geocoding endpoint under the geo base URL.
	ReversePath = "/reverse"
)

// GeocoderConfig holds configuration for the reverse geocoder.
type GeocoderConfig struct {
	// APIKey is the OpenWeatherMap API key (required).
	APIKey string

	// BaseURL defaults to DefaultGeoBaseURL.
	BaseURL string

	// Lang selects a localized name from local_names (ISO 639-1, optional).
	Lang string

	// HTTPClient is the HTTP client to use (optional). It should not share a
	// breaker with the weather client.
	HTTPClient *resilience.Client

	Logger zerolog.Logger
}

// Geocoder names the area around a coordinate.
type Geocoder struct {
	apiKey     string
	baseURL    string
	lang       string
	httpClient *resilience.Client
	logger     zerolog.Logger
}

// NewGeocoder creates a reverse geocoder.
func NewGeocoder(cfg GeocoderConfig) *Geocoder {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultGeoBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = resilience.NewClient(resilience.DefaultClientConfig(GeocoderName))
	}

	return &Geocoder{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		lang:       cfg.Lang,
		httpClient: httpClient,
		logger:     cfg.Logger,
	}
}

// ReverseGeocode returns the nearest named place to coord. A position with no
// named place nearby, such as open sea, yields a zero Place and no error.
// Failures map to the same kinds as Client.Fetch.
func (g *Geocoder) ReverseGeocode(ctx context.Context, coord geo.Coordinate) (weather.Place, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(coord.Lat, 'f', 6, 64))
	q.Set("lon", strconv.FormatFloat(coord.Lon, 'f', 6, 64))
	q.Set("limit", "1")
	q.Set("appid", g.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+ReversePath+"?"+q.Encode(), http.NoBody)
	if err != nil {
		return weather.Place{}, fault.NetworkFailure(fmt.Errorf("creating request: %w", err))
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return weather.Place{}, ctx.Err()
		}
		return weather.Place{}, fault.NetworkFailure(fmt.Errorf("executing request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		return weather.Place{}, fault.APIError(resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return weather.Place{}, fault.NetworkFailure(fmt.Errorf("reading response: %w", err))
	}

	var places []reversePlace
	if err := json.Unmarshal(body, &places); err != nil {
		return weather.Place{}, fault.MalformedResponse(fmt.Errorf("decoding response: %w", err))
	}
	if len(places) == 0 {
		return weather.Place{}, nil
	}
	if err := validate.Struct(&places[0]); err != nil {
		return weather.Place{}, fault.MalformedResponse(fmt.Errorf("invalid response: %w", err))
	}

	p := places[0]
	name := p.Name
	if local, ok := p.LocalNames[g.lang]; ok && g.lang != "" && local != "" {
		name = local
	}

	g.logger.Debug().
		Str("provider", GeocoderName).
		Str("country", p.Country).
		Msg("place resolved")

	return weather.Place{Name: name, State: p.State, Country: p.Country}, nil
}

type reversePlace struct {
	Name       string            `json:"name" validate:"required"`
	LocalNames map[string]string `json:"local_names"`
	State      string            `json:"state"`
	Country    string            `json:"country"`
}
