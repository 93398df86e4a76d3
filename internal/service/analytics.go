package service

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/kjstillabower/city-weather-service/internal/models"
)

// Analyzer is an optional capability run on every freshly assembled report.
// Its output is logged; errors never affect the response.
type Analyzer interface {
	AnalyzeTrends(ctx context.Context, report models.WeatherReport) (Trend, error)
	GenerateReport(ctx context.Context, report models.WeatherReport) (string, error)
}

// Trend summarizes the direction of daily highs across the forecast.
type Trend struct {
	Direction string  `json:"direction"` // warming, cooling or steady
	DeltaHigh float64 `json:"delta_high"`
	Spread    float64 `json:"spread"` // widest high-low gap in the forecast
}

// steadyBand is the change in daily high below which the trend is steady, in °C.
const steadyBand = 1.5

// TrendAnalyzer is the built-in Analyzer: a forecast temperature trend and a one-line summary.
type TrendAnalyzer struct{}

func (TrendAnalyzer) AnalyzeTrends(_ context.Context, r models.WeatherReport) (Trend, error) {
	if len(r.Forecast) < 2 {
		return Trend{}, fmt.Errorf("trend needs at least 2 forecast days, have %d", len(r.Forecast))
	}
	first, last := r.Forecast[0], r.Forecast[len(r.Forecast)-1]
	t := Trend{DeltaHigh: math.Round((last.HighTemp-first.HighTemp)*10) / 10}
	switch {
	case t.DeltaHigh >= steadyBand:
		t.Direction = "warming"
	case t.DeltaHigh <= -steadyBand:
		t.Direction = "cooling"
	default:
		t.Direction = "steady"
	}
	for _, d := range r.Forecast {
		t.Spread = math.Max(t.Spread, d.HighTemp-d.LowTemp)
	}
	return t, nil
}

func (a TrendAnalyzer) GenerateReport(ctx context.Context, r models.WeatherReport) (string, error) {
	t, err := a.AnalyzeTrends(ctx, r)
	if err != nil {
		return "", err
	}
	if r.Language == models.LangZH {
		dir := map[string]string{"warming": "升温", "cooling": "降温", "steady": "平稳"}[t.Direction]
		return fmt.Sprintf("%s未来%d天气温%s，最高温变化%+.1f°C", r.CityName, len(r.Forecast), dir, t.DeltaHigh), nil
	}
	return fmt.Sprintf("%s: %s over the next %d days, high %+.1f°C", r.CityName, t.Direction, len(r.Forecast), t.DeltaHigh), nil
}

// analyze runs the registered Analyzer, if any.
func (s *WeatherService) analyze(ctx context.Context, logger *zap.Logger, r models.WeatherReport) {
	if s.analyzer == nil {
		return
	}
	trend, err := s.analyzer.AnalyzeTrends(ctx, r)
	if err != nil {
		logger.Warn("trend analysis failed", zap.String("city", string(r.Current.City)), zap.Error(err))
		return
	}
	summary, err := s.analyzer.GenerateReport(ctx, r)
	if err != nil {
		logger.Warn("analysis report failed", zap.String("city", string(r.Current.City)), zap.Error(err))
		return
	}
	logger.Info("forecast analysis",
		zap.String("city", string(r.Current.City)),
		zap.String("source_mode", string(r.SourceMode)),
		zap.String("trend", trend.Direction),
		zap.Float64("delta_high", trend.DeltaHigh),
		zap.String("summary", summary))
}
