package weather

import (
	"strings"
	"time"

	"github.com/breatheroute/weathercore/pkg/geo"
)

// Snapshot is a normalized weather observation valid as of ObservedAt.
// Values are handed out by copy and never modified after creation.
type Snapshot struct {
	// Coordinate is the position the snapshot was requested for.
	Coordinate geo.Coordinate

	// Temperature in the provider's configured units.
	Temperature float64

	// Humidity percentage (0-100)
	Humidity float64

	// WindSpeed in the provider's configured units.
	WindSpeed float64

	// Condition is the normalized condition; ConditionText is the provider's
	// own group name (e.g. "Clouds").
	Condition     Condition
	ConditionText string
	Description   string

	// Icon is the provider icon code (e.g. "04d"). See IconURL.
	Icon string

	// Units is the unit system the provider was asked for ("metric", "imperial", "standard").
	Units string

	// Place names the area around Coordinate. It is empty when no geocoder is
	// configured or the lookup failed.
	Place Place

	// Timestamps
	ObservedAt time.Time
	FetchedAt  time.Time
}

// ObservedTime returns the observation timestamp.
func (s Snapshot) ObservedTime() time.Time {
	return s.ObservedAt
}

// IconURL returns the image URL for the snapshot's icon.
func (s Snapshot) IconURL() string {
	return IconURL(s.Icon)
}

// Place is a reverse-geocoded area.
type Place struct {
	// Name is the locality or district, e.g. "Jung-gu".
	Name string

	// State is the administrative area above it, e.g. "Seoul".
	State string

	// Country is an ISO 3166 country code.
	Country string
}

// Label returns the area for display as "State Name", skipping parts that are
// empty or repeat the one before.
func (p Place) Label() string {
	parts := make([]string, 0, 2)
	for _, part := range []string{p.State, p.Name} {
		if part == "" || (len(parts) > 0 && parts[len(parts)-1] == part) {
			continue
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, " ")
}

// IsZero reports whether no part of the place is known.
func (p Place) IsZero() bool {
	return p == Place{}
}

// Condition represents the general weather condition.
type Condition string

const (
	ConditionClear        Condition = "CLEAR"
	ConditionClouds       Condition = "CLOUDS"
	ConditionRain         Condition = "RAIN"
	ConditionDrizzle      Condition = "DRIZZLE"
	ConditionThunderstorm Condition = "THUNDERSTORM"
	ConditionSnow         Condition = "SNOW"
	ConditionMist         Condition = "MIST"
	ConditionFog          Condition = "FOG"
	ConditionHaze         Condition = "HAZE"
	ConditionUnknown      Condition = "UNKNOWN"
)

// IconBaseURL is where provider icon images are served from.
const IconBaseURL = "https://openweathermap.org/img/wn/"

// IconURL returns the 2x image URL for an icon code, or "" for an empty code.
// Image bytes are never fetched here.
func IconURL(code string) string {
	if code == "" {
		return ""
	}
	return IconBaseURL + code + "@2x.png"
}

// Forecast is a 3-hourly forecast for one position.
type Forecast struct {
	Coordinate geo.Coordinate
	Units      string

	// Items in provider order (ascending time).
	Items []ForecastItem

	FetchedAt time.Time
}

// ForecastItem represents the forecast for one 3-hour slot.
type ForecastItem struct {
	Time          time.Time
	Temperature   float64
	TempMin       float64
	TempMax       float64
	Humidity      float64
	WindSpeed     float64
	Condition     Condition
	ConditionText string
	Description   string
	Icon          string
	PrecipProb    float64 // Probability of precipitation (0-1)
}

// ObservedTime returns when the forecast was fetched.
func (f Forecast) ObservedTime() time.Time {
	return f.FetchedAt
}
