// Package handler provides HTTP handlers for the weather API.
package handler

import (
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/breatheroute/weathercore/internal/api/middleware"
	"github.com/breatheroute/weathercore/internal/api/models"
	"github.com/breatheroute/weathercore/internal/api/response"
	"github.com/breatheroute/weathercore/internal/location"
	"github.com/breatheroute/weathercore/internal/weather"
	"github.com/breatheroute/weathercore/pkg/geo"
)

// DefaultRequestBudget bounds one weather request end to end.
const DefaultRequestBudget = 20 * time.Second

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// errPartialCoordinate is reported when only one of lat and lon is given.
var errPartialCoordinate = errors.New("lat and lon must be given together")

// WeatherHandlerConfig holds configuration for the WeatherHandler.
type WeatherHandlerConfig struct {
	// Service acquires weather (required).
	Service *weather.Service

	// Budget bounds each request (default: 20 seconds).
	Budget time.Duration

	Logger zerolog.Logger
}

// WeatherHandler serves current conditions and daily forecasts. Requests with
// lat and lon use that position; others resolve it with the service's locator.
type WeatherHandler struct {
	service *weather.Service
	budget  time.Duration
	logger  zerolog.Logger
}

// NewWeatherHandler creates a new WeatherHandler.
func NewWeatherHandler(cfg WeatherHandlerConfig) *WeatherHandler {
	budget := cfg.Budget
	if budget <= 0 {
		budget = DefaultRequestBudget
	}
	return &WeatherHandler{
		service: cfg.Service,
		budget:  budget,
		logger:  cfg.Logger,
	}
}

// Current handles GET /v1/weather/current.
func (h *WeatherHandler) Current(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.serviceFor(w, r)
	if !ok {
		return
	}

	snap, err := svc.RequestWeather(r.Context(), h.budget)
	if err != nil {
		response.Failure(w, r, err)
		return
	}
	response.Observation(w, r, models.NewCurrentWeather(snap), snap.ObservedAt)
}

// Forecast handles GET /v1/weather/forecast.
func (h *WeatherHandler) Forecast(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.serviceFor(w, r)
	if !ok {
		return
	}

	daily, err := svc.RequestForecast(r.Context(), h.budget)
	if err != nil {
		response.Failure(w, r, err)
		return
	}
	response.Observation(w, r, models.NewDailyForecast(daily), daily.FetchedAt)
}

// serviceFor returns the service to acquire with. It writes a 400 problem and
// reports false when the coordinate query is invalid.
func (h *WeatherHandler) serviceFor(w http.ResponseWriter, r *http.Request) (*weather.Service, bool) {
	q, present, fieldErrs := parseCoordinateQuery(r)
	if len(fieldErrs) > 0 {
		response.BadRequest(w, r, "invalid coordinate query", fieldErrs)
		return nil, false
	}
	if !present {
		middleware.SetLocationSource(r.Context(), middleware.LocationSourceLocator)
		return h.service, true
	}
	middleware.SetLocationSource(r.Context(), middleware.LocationSourceDevice)

	coord := geo.Coordinate{Lat: q.Lat, Lon: q.Lon}
	h.logger.Debug().
		Float64("lat", coord.Lat).
		Float64("lon", coord.Lon).
		Msg("using device-reported coordinate")

	return h.service.WithLocator(location.NewAdapter(location.AdapterConfig{
		Platform: location.Fixed{Coordinate: coord},
		Logger:   h.logger,
	})), true
}

// parseCoordinateQuery reads the optional lat and lon query parameters.
func parseCoordinateQuery(r *http.Request) (models.CoordinateQuery, bool, []models.FieldError) {
	values := r.URL.Query()
	latRaw, lonRaw := values.Get("lat"), values.Get("lon")

	if latRaw == "" && lonRaw == "" {
		return models.CoordinateQuery{}, false, nil
	}
	if latRaw == "" || lonRaw == "" {
		field := "lat"
		if lonRaw == "" {
			field = "lon"
		}
		return models.CoordinateQuery{}, false, []models.FieldError{
			{Field: field, Message: errPartialCoordinate.Error(), Code: "required_with"},
		}
	}

	var q models.CoordinateQuery
	var fieldErrs []models.FieldError
	for _, p := range []struct {
		name string
		raw  string
		dst  *float64
	}{
		{"lat", latRaw, &q.Lat},
		{"lon", lonRaw, &q.Lon},
	} {
		v, err := strconv.ParseFloat(p.raw, 64)
		if err != nil {
			fieldErrs = append(fieldErrs, models.FieldError{Field: p.name, Message: "must be a number", Code: "number"})
			continue
		}
		*p.dst = v
	}
	if len(fieldErrs) > 0 {
		return q, false, fieldErrs
	}

	if err := validate.Struct(q); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return q, false, []models.FieldError{{Field: "lat", Message: err.Error()}}
		}
		for _, fe := range verrs {
			fieldErrs = append(fieldErrs, models.FieldError{
				Field:   fe.Field(),
				Message: "must be a valid " + fe.Tag(),
				Code:    fe.Tag(),
			})
		}
		return q, false, fieldErrs
	}

	return q, true, nil
}
