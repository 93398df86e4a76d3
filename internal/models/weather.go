package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvariantViolation is returned when an assembled report breaks the response contract.
// It should never happen in practice; the HTTP layer maps it to 500.
var ErrInvariantViolation = errors.New("internal invariant violation")

// ForecastDays is the fixed forecast length of every report.
const ForecastDays = 3

// DateLayout is the ISO-8601 calendar date format used for forecast days.
const DateLayout = "2006-01-02"

// SourceMode tags where a report's data came from.
type SourceMode string

const (
	SourceAPI  SourceMode = "api"
	SourceMock SourceMode = "mock"
)

type WeatherCondition struct {
	MainCode    string `json:"main"`
	Description string `json:"description"`
	IconID      string `json:"icon"`
}

type CurrentWeather struct {
	City          CityKey          `json:"city"`
	Temperature   float64          `json:"temperature"`
	FeelsLike     float64          `json:"feels_like"`
	Humidity      int              `json:"humidity"`
	Pressure      int              `json:"pressure"`
	WindSpeed     float64          `json:"wind_speed"`
	WindDirection int              `json:"wind_direction"`
	Condition     WeatherCondition `json:"condition"`
	Timestamp     time.Time        `json:"timestamp"`
}

// ForecastDay describes one calendar day. Condition is the daytime condition; its
// description covers the day-to-night transition. Night is the overnight condition.
type ForecastDay struct {
	Date      string           `json:"date"`
	HighTemp  float64          `json:"high_temp"`
	LowTemp   float64          `json:"low_temp"`
	Condition WeatherCondition `json:"condition"`
	Night     WeatherCondition `json:"night_condition"`
}

// WeatherReport is the canonical response shape for both live and mock data.
type WeatherReport struct {
	CityName   string         `json:"city_name"`
	Language   Language       `json:"language"`
	Current    CurrentWeather `json:"current"`
	Forecast   []ForecastDay  `json:"forecast"`
	SourceMode SourceMode     `json:"source_mode"`
}

// Clone returns a deep copy so cached reports never share the forecast backing array with callers.
func (r WeatherReport) Clone() WeatherReport {
	out := r
	if r.Forecast != nil {
		out.Forecast = make([]ForecastDay, len(r.Forecast))
		copy(out.Forecast, r.Forecast)
	}
	return out
}

// Validate checks the forecast contract: exactly ForecastDays entries, strictly ascending
// dates, first date not before today (compared as calendar dates in today's location).
func (r WeatherReport) Validate(today time.Time) error {
	if len(r.Forecast) != ForecastDays {
		return fmt.Errorf("%w: forecast has %d days, want %d", ErrInvariantViolation, len(r.Forecast), ForecastDays)
	}
	if r.SourceMode != SourceAPI && r.SourceMode != SourceMock {
		return fmt.Errorf("%w: unknown source mode %q", ErrInvariantViolation, r.SourceMode)
	}
	return ValidateForecast(r.Forecast, today)
}

// ValidateForecast checks date ordering of a forecast sequence against today.
func ValidateForecast(days []ForecastDay, today time.Time) error {
	todayStr := today.Format(DateLayout)
	prev := ""
	for i, d := range days {
		if _, err := time.Parse(DateLayout, d.Date); err != nil {
			return fmt.Errorf("%w: forecast day %d has bad date %q", ErrInvariantViolation, i, d.Date)
		}
		if i == 0 && d.Date < todayStr {
			return fmt.Errorf("%w: forecast starts %s before today %s", ErrInvariantViolation, d.Date, todayStr)
		}
		if prev != "" && d.Date <= prev {
			return fmt.Errorf("%w: forecast dates not ascending (%s after %s)", ErrInvariantViolation, d.Date, prev)
		}
		prev = d.Date
	}
	return nil
}

// CacheStats is a read-only projection of cache occupancy.
type CacheStats struct {
	CurrentSize int `json:"current_size"`
	MaxSize     int `json:"max_size"`
	TTLSeconds  int `json:"ttl"`
}

// HealthInfo summarizes service state for /health.
type HealthInfo struct {
	Status      string            `json:"status"`
	CacheStats  CacheStats        `json:"cache_stats"`
	DataSources map[string]string `json:"data_sources"`
	CurrentMode SourceMode        `json:"current_mode"`
}

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	ErrorCode int    `json:"error_code"`
	Message   string `json:"message"`
}
