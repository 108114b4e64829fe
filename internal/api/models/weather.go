package models

import (
	"github.com/breatheroute/weathercore/internal/weather"
)

// Coordinate is a WGS84 position in degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// CoordinateQuery is a device-reported position given as lat and lon query
// parameters on weather routes.
type CoordinateQuery struct {
	Lat float64 `json:"lat" validate:"latitude"`
	Lon float64 `json:"lon" validate:"longitude"`
}

// CurrentWeather is the response of GET /v1/weather/current.
type CurrentWeather struct {
	Location      Coordinate `json:"location"`
	Place         string     `json:"place,omitempty"`
	Temperature   float64    `json:"temperature"`
	Humidity      float64    `json:"humidity"`
	WindSpeed     float64    `json:"windSpeed"`
	Condition     string     `json:"condition"`
	ConditionText string     `json:"conditionText"`
	Description   string     `json:"description,omitempty"`
	Icon          string     `json:"icon,omitempty"`
	IconURL       string     `json:"iconUrl,omitempty"`
	Units         string     `json:"units"`
	ObservedAt    Timestamp  `json:"observedAt"`
	FetchedAt     Timestamp  `json:"fetchedAt"`
}

// NewCurrentWeather converts a snapshot to its wire form.
func NewCurrentWeather(s weather.Snapshot) CurrentWeather {
	return CurrentWeather{
		Location:      Coordinate{Lat: s.Coordinate.Lat, Lon: s.Coordinate.Lon},
		Place:         s.Place.Label(),
		Temperature:   s.Temperature,
		Humidity:      s.Humidity,
		WindSpeed:     s.WindSpeed,
		Condition:     string(s.Condition),
		ConditionText: s.ConditionText,
		Description:   s.Description,
		Icon:          s.Icon,
		IconURL:       s.IconURL(),
		Units:         s.Units,
		ObservedAt:    Timestamp(s.ObservedAt),
		FetchedAt:     Timestamp(s.FetchedAt),
	}
}

// DailyForecast is the response of GET /v1/weather/forecast.
type DailyForecast struct {
	Location  Coordinate `json:"location"`
	Place     string     `json:"place,omitempty"`
	Units     string     `json:"units"`
	Days      []Day      `json:"days"`
	FetchedAt Timestamp  `json:"fetchedAt"`
}

// Day summarizes one forecast day.
type Day struct {
	Date          Date    `json:"date"`
	TempMin       float64 `json:"tempMin"`
	TempMax       float64 `json:"tempMax"`
	Condition     string  `json:"condition"`
	ConditionText string  `json:"conditionText"`
	Description   string  `json:"description,omitempty"`
	Icon          string  `json:"icon,omitempty"`
	IconURL       string  `json:"iconUrl,omitempty"`
}

// NewDailyForecast converts a daily forecast to its wire form.
func NewDailyForecast(f weather.DailyForecast) DailyForecast {
	days := make([]Day, 0, len(f.Days))
	for _, d := range f.Days {
		days = append(days, Day{
			Date:          Date(d.Date),
			TempMin:       d.TempMin,
			TempMax:       d.TempMax,
			Condition:     string(d.Condition),
			ConditionText: d.ConditionText,
			Description:   d.Description,
			Icon:          d.Icon,
			IconURL:       weather.IconURL(d.Icon),
		})
	}

	return DailyForecast{
		Location:  Coordinate{Lat: f.Coordinate.Lat, Lon: f.Coordinate.Lon},
		Place:     f.Place.Label(),
		Units:     f.Units,
		Days:      days,
		FetchedAt: Timestamp(f.FetchedAt),
	}
}
