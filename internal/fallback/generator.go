// Package fallback synthesizes plausible weather reports when the provider is unavailable.
//
// Output is a pure function of (city, calendar day, language): the generator seeds a PCG
// stream from an xxhash of the city and date, so every cache miss on the same day yields
// the same numbers and mock data does not flicker between requests.
package fallback

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/kjstillabower/city-weather-service/internal/localize"
	"github.com/kjstillabower/city-weather-service/internal/models"
)

type climate struct {
	meanTemp  float64 // annual mean, °C
	amplitude float64 // half the summer/winter spread
	humidity  int     // typical relative humidity
}

var climates = map[models.CityKey]climate{
	models.Beijing:   {meanTemp: 13, amplitude: 15, humidity: 50},
	models.Shanghai:  {meanTemp: 17, amplitude: 12, humidity: 72},
	models.Guangzhou: {meanTemp: 22.5, amplitude: 7.5, humidity: 78},
	models.Shenzhen:  {meanTemp: 23, amplitude: 7, humidity: 77},
	models.Hangzhou:  {meanTemp: 17.5, amplitude: 12, humidity: 74},
}

var defaultClimate = climate{meanTemp: 16, amplitude: 10, humidity: 65}

type weightedCode struct {
	code   string
	icon   string
	weight int
}

var conditions = []weightedCode{
	{localize.CodeClear, "100", 30},
	{localize.CodeFewClouds, "102", 15},
	{localize.CodeClouds, "101", 20},
	{localize.CodeOvercast, "104", 10},
	{localize.CodeLightRain, "305", 10},
	{localize.CodeShower, "300", 5},
	{localize.CodeRain, "306", 4},
	{localize.CodeThunderstorm, "302", 2},
	{localize.CodeMist, "500", 2},
	{localize.CodeHaze, "502", 2},
}

// Generator produces mock reports. The zero value is not usable; call New.
type Generator struct {
	loc *time.Location
	now func() time.Time
}

// Option configures a Generator.
type Option func(*Generator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// New returns a Generator whose calendar days are taken in loc.
func New(loc *time.Location, opts ...Option) *Generator {
	if loc == nil {
		loc = time.UTC
	}
	g := &Generator{loc: loc, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate always succeeds and never performs I/O.
func (g *Generator) Generate(city models.CityKey, lang models.Language) models.WeatherReport {
	now := g.now().In(g.loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, g.loc)
	rng := rand.New(rand.NewPCG(seed(city, today)))

	cl, ok := climates[city]
	if !ok {
		cl = defaultClimate
	}

	cond := pick(rng)
	temp := round1(seasonal(cl, today) + uniform(rng, -3, 3))
	humidity := clamp(cl.humidity+rng.IntN(21)-10, 5, 100)
	current := models.CurrentWeather{
		City:          city,
		Temperature:   temp,
		FeelsLike:     round1(temp + uniform(rng, -2, 2)),
		Humidity:      humidity,
		Pressure:      1000 + rng.IntN(26),
		WindSpeed:     round1(uniform(rng, 0.5, 8)),
		WindDirection: rng.IntN(360),
		Condition:     condition(cond),
		Timestamp:     now.Truncate(time.Minute),
	}

	forecast := make([]models.ForecastDay, 0, models.ForecastDays)
	for i := 0; i < models.ForecastDays; i++ {
		day := today.AddDate(0, 0, i)
		high := round1(seasonal(cl, day) + uniform(rng, -1, 4))
		low := round1(high - uniform(rng, 5, 11))
		dayCond, nightCond := pick(rng), pick(rng)
		forecast = append(forecast, models.ForecastDay{
			Date:      day.Format(models.DateLayout),
			HighTemp:  high,
			LowTemp:   low,
			Condition: condition(dayCond),
			Night:     condition(nightCond),
		})
	}

	return localize.Report(models.WeatherReport{
		Current:    current,
		Forecast:   forecast,
		SourceMode: models.SourceMock,
	}, lang)
}

func seed(city models.CityKey, day time.Time) (uint64, uint64) {
	key := string(city) + "|" + day.Format(models.DateLayout)
	return xxhash.Sum64String(key), xxhash.Sum64String(key + "|pcg")
}

// seasonal approximates the daily mean with a cosine peaking in mid-July.
func seasonal(cl climate, day time.Time) float64 {
	phase := 2 * math.Pi * float64(day.YearDay()-196) / 365
	return cl.meanTemp + cl.amplitude*math.Cos(phase)
}

func pick(rng *rand.Rand) weightedCode {
	total := 0
	for _, c := range conditions {
		total += c.weight
	}
	n := rng.IntN(total)
	for _, c := range conditions {
		if n < c.weight {
			return c
		}
		n -= c.weight
	}
	return conditions[0]
}

func condition(c weightedCode) models.WeatherCondition {
	return models.WeatherCondition{MainCode: c.code, Description: c.code, IconID: c.icon}
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
