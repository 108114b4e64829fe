package weather

import (
	"math"
	"time"

	"github.com/breatheroute/weathercore/pkg/geo"
)

// MaxForecastDays is the number of days a daily summary covers.
const MaxForecastDays = 5

// DailySummary aggregates the forecast items of one calendar day.
type DailySummary struct {
	// Date is midnight of the day in the summary's location.
	Date time.Time

	TempMin float64
	TempMax float64

	// Condition, Description and Icon come from the day's first item.
	Condition     Condition
	ConditionText string
	Description   string
	Icon          string
}

// DailyForecast is a forecast summarized per day.
type DailyForecast struct {
	Coordinate geo.Coordinate
	Place      Place
	Units      string
	Days       []DailySummary
	FetchedAt  time.Time
}

// ObservedTime returns when the underlying forecast was fetched.
func (d DailyForecast) ObservedTime() time.Time {
	return d.FetchedAt
}

// SummarizeByDay groups forecast items by calendar date in loc, keeping provider
// order, and returns at most MaxForecastDays days. A nil loc means UTC.
func SummarizeByDay(items []ForecastItem, loc *time.Location) []DailySummary {
	if loc == nil {
		loc = time.UTC
	}

	days := make([]DailySummary, 0, MaxForecastDays)
	index := make(map[time.Time]int, MaxForecastDays)

	for _, item := range items {
		t := item.Time.In(loc)
		date := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)

		i, ok := index[date]
		if !ok {
			if len(days) == MaxForecastDays {
				continue
			}
			index[date] = len(days)
			days = append(days, DailySummary{
				Date:          date,
				TempMin:       math.Inf(1),
				TempMax:       math.Inf(-1),
				Condition:     item.Condition,
				ConditionText: item.ConditionText,
				Description:   item.Description,
				Icon:          item.Icon,
			})
			i = len(days) - 1
		}

		days[i].TempMin = math.Min(days[i].TempMin, item.TempMin)
		days[i].TempMax = math.Max(days[i].TempMax, item.TempMax)
	}

	return days
}

// DayCursor walks a daily summary with wrap-around in both directions.
// It is not safe for concurrent use.
type DayCursor struct {
	days  []DailySummary
	index int
}

// NewDayCursor returns a cursor positioned on the first day.
func NewDayCursor(days []DailySummary) *DayCursor {
	return &DayCursor{days: days}
}

// Len returns the number of days.
func (c *DayCursor) Len() int {
	return len(c.days)
}

// Index returns the current position.
func (c *DayCursor) Index() int {
	return c.index
}

// Current returns the day under the cursor. ok is false when there are no days.
func (c *DayCursor) Current() (DailySummary, bool) {
	if len(c.days) == 0 {
		return DailySummary{}, false
	}
	return c.days[c.index], true
}

// Next advances the cursor, wrapping to the first day after the last.
func (c *DayCursor) Next() (DailySummary, bool) {
	return c.move(1)
}

// Prev moves the cursor back, wrapping to the last day before the first.
func (c *DayCursor) Prev() (DailySummary, bool) {
	return c.move(-1)
}

// Reset moves the cursor to the first day.
func (c *DayCursor) Reset() {
	c.index = 0
}

func (c *DayCursor) move(delta int) (DailySummary, bool) {
	n := len(c.days)
	if n == 0 {
		return DailySummary{}, false
	}
	c.index = ((c.index+delta)%n + n) % n
	return c.days[c.index], true
}
