package fallback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjstillabower/city-weather-service/internal/models"
)

var shanghaiTZ = time.FixedZone("CST", 8*3600)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestGenerate_DeterministicWithinDay(t *testing.T) {
	morning := time.Date(2026, 10, 15, 7, 5, 0, 0, shanghaiTZ)
	evening := time.Date(2026, 10, 15, 22, 40, 0, 0, shanghaiTZ)

	a := New(shanghaiTZ, WithClock(fixedClock(morning))).Generate(models.Beijing, models.LangEN)
	b := New(shanghaiTZ, WithClock(fixedClock(evening))).Generate(models.Beijing, models.LangEN)

	// Identical modulo timestamp.
	a.Current.Timestamp, b.Current.Timestamp = time.Time{}, time.Time{}
	assert.Equal(t, a, b)
}

func TestGenerate_VariesAcrossDaysAndCities(t *testing.T) {
	day1 := New(shanghaiTZ, WithClock(fixedClock(time.Date(2026, 10, 15, 12, 0, 0, 0, shanghaiTZ))))
	day2 := New(shanghaiTZ, WithClock(fixedClock(time.Date(2026, 10, 16, 12, 0, 0, 0, shanghaiTZ))))

	bj1 := day1.Generate(models.Beijing, models.LangEN)
	bj2 := day2.Generate(models.Beijing, models.LangEN)
	sz1 := day1.Generate(models.Shenzhen, models.LangEN)

	assert.NotEqual(t, bj1.Current, bj2.Current)
	assert.NotEqual(t, bj1.Current.Temperature, sz1.Current.Temperature)
}

func TestGenerate_ReportShape(t *testing.T) {
	now := time.Date(2026, 12, 31, 23, 30, 0, 0, shanghaiTZ)
	g := New(shanghaiTZ, WithClock(fixedClock(now)))

	for _, city := range models.SupportedCities() {
		for _, lang := range []models.Language{models.LangZH, models.LangEN} {
			r := g.Generate(city, lang)

			require.NoError(t, r.Validate(now), "%s/%s", city, lang)
			assert.Equal(t, models.SourceMock, r.SourceMode)
			assert.Equal(t, city, r.Current.City)
			assert.Equal(t, city.DisplayName(lang), r.CityName)
			assert.Equal(t, []string{"2026-12-31", "2027-01-01", "2027-01-02"},
				[]string{r.Forecast[0].Date, r.Forecast[1].Date, r.Forecast[2].Date})

			c := r.Current
			assert.True(t, c.Humidity >= 0 && c.Humidity <= 100, "humidity %d", c.Humidity)
			assert.True(t, c.WindDirection >= 0 && c.WindDirection < 360, "wind dir %d", c.WindDirection)
			assert.True(t, c.Pressure >= 1000 && c.Pressure <= 1025, "pressure %d", c.Pressure)
			for _, d := range r.Forecast {
				assert.Less(t, d.LowTemp, d.HighTemp)
				assert.NotEmpty(t, d.Condition.Description)
			}
		}
	}
}

func TestGenerate_LanguageOnlyChangesText(t *testing.T) {
	g := New(shanghaiTZ, WithClock(fixedClock(time.Date(2026, 10, 15, 12, 0, 0, 0, shanghaiTZ))))
	zh := g.Generate(models.Guangzhou, models.LangZH)
	en := g.Generate(models.Guangzhou, models.LangEN)

	assert.Equal(t, zh.Current.Temperature, en.Current.Temperature)
	assert.Equal(t, zh.Current.Condition.MainCode, en.Current.Condition.MainCode)
	assert.NotEqual(t, zh.Current.Condition.Description, en.Current.Condition.Description)
	assert.Equal(t, "广州", zh.CityName)
	assert.Equal(t, "Guangzhou", en.CityName)
}

func TestGenerate_DayBoundaryFollowsLocation(t *testing.T) {
	// 17:00 UTC on the 15th is already the 16th in UTC+8.
	instant := time.Date(2026, 10, 15, 17, 0, 0, 0, time.UTC)
	r := New(shanghaiTZ, WithClock(fixedClock(instant))).Generate(models.Hangzhou, models.LangEN)
	assert.Equal(t, "2026-10-16", r.Forecast[0].Date)
}
