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
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/breatheroute/weathercore/internal/fault"
	"github.com/breatheroute/weathercore/internal/provider/resilience"
	"github.com/breatheroute/weathercore/internal/weather"
	"github.com/breatheroute/weathercore/pkg/geo"
)

const (
	// ProviderName identifies this weather provider.
	ProviderName = "openweathermap"

	// DefaultBaseURL is the OpenWeatherMap API base URL.
	DefaultBaseURL = "https://api.openweathermap.org/data/2.5"

	// DefaultCurrentPath and DefaultForecastPath are appended to the base URL.
	DefaultCurrentPath  = "/weather"
	DefaultForecastPath = "/forecast"

	// DefaultUnits asks the provider for Celsius and m/s.
	DefaultUnits = "metric"

	// maxBodySize bounds how much of a response body is read.
	maxBodySize = 1 << 20
)

var validate = validator.New()

// ClientConfig holds configuration for the OpenWeatherMap client.
type ClientConfig struct {
	// APIKey is the OpenWeatherMap API key (required).
	APIKey string

	// BaseURL is the API base URL (optional, defaults to OpenWeatherMap API).
	BaseURL string

	// CurrentPath and ForecastPath select the endpoints under BaseURL.
	CurrentPath  string
	ForecastPath string

	// Units is passed through as the units parameter and recorded on results.
	// No conversion happens client side. Default: "metric".
	Units string

	// Lang is the language for condition descriptions (optional).
	Lang string

	// HTTPClient is the HTTP client to use (optional).
	// If nil, uses a resilient client with defaults.
	HTTPClient *resilience.Client

	// Logger for client operations.
	Logger zerolog.Logger

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Client is an OpenWeatherMap API client.
type Client struct {
	apiKey       string
	baseURL      string
	currentPath  string
	forecastPath string
	units        string
	lang         string
	httpClient   *resilience.Client
	logger       zerolog.Logger
	now          func() time.Time
}

// NewClient creates a new OpenWeatherMap client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	currentPath := cfg.CurrentPath
	if currentPath == "" {
		currentPath = DefaultCurrentPath
	}

	forecastPath := cfg.ForecastPath
	if forecastPath == "" {
		forecastPath = DefaultForecastPath
	}

	units := cfg.Units
	if units == "" {
		units = DefaultUnits
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = resilience.NewClient(resilience.DefaultClientConfig(ProviderName))
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Client{
		apiKey:       cfg.APIKey,
		baseURL:      baseURL,
		currentPath:  currentPath,
		forecastPath: forecastPath,
		units:        units,
		lang:         cfg.Lang,
		httpClient:   httpClient,
		logger:       cfg.Logger,
		now:          now,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// Fetch returns the current conditions at coord.
//
// Transport failures map to NetworkFailure, non-2xx statuses to APIError and
// bodies that fail schema validation to MalformedResponse. When ctx is
// canceled first, context.Canceled is returned unwrapped.
func (c *Client) Fetch(ctx context.Context, coord geo.Coordinate) (weather.Snapshot, error) {
	var resp currentWeatherResponse
	if err := c.get(ctx, c.currentPath, coord, &resp); err != nil {
		return weather.Snapshot{}, err
	}
	return c.toSnapshot(coord, &resp), nil
}

// Forecast returns the 5 day / 3 hour forecast at coord, with the same error
// mapping as Fetch.
func (c *Client) Forecast(ctx context.Context, coord geo.Coordinate) (weather.Forecast, error) {
	var resp forecastResponse
	if err := c.get(ctx, c.forecastPath, coord, &resp); err != nil {
		return weather.Forecast{}, err
	}
	return c.toForecast(coord, &resp), nil
}

// FetchForecast is Forecast under the weather.Provider interface.
func (c *Client) FetchForecast(ctx context.Context, coord geo.Coordinate) (weather.Forecast, error) {
	return c.Forecast(ctx, coord)
}

// get performs one request and decodes a validated body into out.
func (c *Client) get(ctx context.Context, path string, coord geo.Coordinate, out any) error {
	endpoint := c.endpoint(path, coord)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return fault.NetworkFailure(fmt.Errorf("creating request: %w", err))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// The caller gave up; the provider is not at fault. An expired
		// deadline is a request timeout and stays a NetworkFailure.
		if errors.Is(ctx.Err(), context.Canceled) {
			return ctx.Err()
		}
		c.logger.Warn().Err(err).
			Str("provider", ProviderName).
			Str("path", path).
			Msg("provider request failed")
		return fault.NetworkFailure(fmt.Errorf("executing request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		c.logger.Warn().
			Str("provider", ProviderName).
			Str("path", path).
			Int("status", resp.StatusCode).
			Msg("provider returned error status")
		return fault.APIError(resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fault.NetworkFailure(fmt.Errorf("reading response: %w", err))
	}

	if err := decode(body, out); err != nil {
		c.logger.Warn().Err(err).
			Str("provider", ProviderName).
			Str("path", path).
			Msg("provider returned malformed response")
		return fault.MalformedResponse(err)
	}
	return nil
}

func (c *Client) endpoint(path string, coord geo.Coordinate) string {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(coord.Lat, 'f', 6, 64))
	q.Set("lon", strconv.FormatFloat(coord.Lon, 'f', 6, 64))
	q.Set("appid", c.apiKey)
	q.Set("units", c.units)
	if c.lang != "" {
		q.Set("lang", c.lang)
	}
	return c.baseURL + path + "?" + q.Encode()
}

// decode unmarshals body into out and validates required fields.
func decode(body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if err := validate.Struct(out); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid response: field %s failed %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid response: %w", err)
	}
	return nil
}

// toSnapshot converts a validated current weather response to the domain model.
func (c *Client) toSnapshot(coord geo.Coordinate, resp *currentWeatherResponse) weather.Snapshot {
	cond := resp.Weather[0]
	return weather.Snapshot{
		Coordinate:    coord,
		Temperature:   *resp.Main.Temp,
		Humidity:      *resp.Main.Humidity,
		WindSpeed:     *resp.Wind.Speed,
		Condition:     mapCondition(cond.Main),
		ConditionText: cond.Main,
		Description:   cond.Description,
		Icon:          cond.Icon,
		Units:         c.units,
		ObservedAt:    time.Unix(*resp.Dt, 0).UTC(),
		FetchedAt:     c.now(),
	}
}

// toForecast converts a validated forecast response to the domain model.
func (c *Client) toForecast(coord geo.Coordinate, resp *forecastResponse) weather.Forecast {
	forecast := weather.Forecast{
		Coordinate: coord,
		Units:      c.units,
		Items:      make([]weather.ForecastItem, 0, len(resp.List)),
		FetchedAt:  c.now(),
	}

	for _, e := range resp.List {
		cond := e.Weather[0]
		item := weather.ForecastItem{
			Time:          time.Unix(*e.Dt, 0).UTC(),
			Temperature:   *e.Main.Temp,
			TempMin:       *e.Main.TempMin,
			TempMax:       *e.Main.TempMax,
			Humidity:      *e.Main.Humidity,
			Condition:     mapCondition(cond.Main),
			ConditionText: cond.Main,
			Description:   cond.Description,
			Icon:          cond.Icon,
			PrecipProb:    e.Pop,
		}
		if e.Wind != nil {
			item.WindSpeed = *e.Wind.Speed
		}
		forecast.Items = append(forecast.Items, item)
	}

	return forecast
}

// mapCondition maps OpenWeatherMap condition to domain condition.
func mapCondition(owmCondition string) weather.Condition {
	switch owmCondition {
	case "Clear":
		return weather.ConditionClear
	case "Clouds":
		return weather.ConditionClouds
	case "Rain":
		return weather.ConditionRain
	case "Drizzle":
		return weather.ConditionDrizzle
	case "Thunderstorm":
		return weather.ConditionThunderstorm
	case "Snow":
		return weather.ConditionSnow
	case "Mist":
		return weather.ConditionMist
	case "Fog":
		return weather.ConditionFog
	case "Haze", "Smoke", "Dust", "Sand", "Ash", "Squall", "Tornado":
		return weather.ConditionHaze
	default:
		return weather.ConditionUnknown
	}
}

// OpenWeatherMap API response structures. Required numeric fields are pointers
// so that a missing field can be told apart from zero.

type condition struct {
	ID          int    `json:"id"`
	Main        string `json:"main" validate:"required"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

type currentMain struct {
	Temp     *float64 `json:"temp" validate:"required"`
	Humidity *float64 `json:"humidity" validate:"required"`
}

type wind struct {
	Speed *float64 `json:"speed" validate:"required"`
}

type currentWeatherResponse struct {
	Weather []condition  `json:"weather" validate:"required,min=1,dive"`
	Main    *currentMain `json:"main" validate:"required"`
	Wind    *wind        `json:"wind" validate:"required"`
	Dt      *int64       `json:"dt" validate:"required"`
}

type forecastMain struct {
	Temp     *float64 `json:"temp" validate:"required"`
	TempMin  *float64 `json:"temp_min" validate:"required"`
	TempMax  *float64 `json:"temp_max" validate:"required"`
	Humidity *float64 `json:"humidity" validate:"required"`
}

type forecastEntry struct {
	Dt      *int64        `json:"dt" validate:"required"`
	Main    *forecastMain `json:"main" validate:"required"`
	Weather []condition   `json:"weather" validate:"required,min=1,dive"`
	Wind    *wind         `json:"wind" validate:"omitempty"`
	Pop     float64       `json:"pop"`
}

type forecastResponse struct {
	List []forecastEntry `json:"list" validate:"required,dive"`
}
