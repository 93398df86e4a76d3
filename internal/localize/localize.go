// Package localize maps weather condition codes to bilingual labels.
package localize

import (
	"strconv"
	"strings"

	"github.com/kjstillabower/city-weather-service/internal/models"
)

// Condition codes. Both the provider mapping and the fallback generator emit these.
const (
	CodeClear        = "clear"
	CodeClouds       = "clouds"
	CodeFewClouds    = "few_clouds"
	CodeOvercast     = "overcast"
	CodeDrizzle      = "drizzle"
	CodeLightRain    = "light_rain"
	CodeRain         = "rain"
	CodeHeavyRain    = "heavy_rain"
	CodeShower       = "shower"
	CodeThunderstorm = "thunderstorm"
	CodeSleet        = "sleet"
	CodeSnow         = "snow"
	CodeMist         = "mist"
	CodeFog          = "fog"
	CodeHaze         = "haze"
	CodeDust         = "dust"
)

type label struct {
	zh string
	en string
}

var labels = map[string]label{
	CodeClear:        {"晴朗", "Clear"},
	CodeClouds:       {"多云", "Clouds"},
	CodeFewClouds:    {"少云", "Few clouds"},
	CodeOvercast:     {"阴", "Overcast"},
	CodeDrizzle:      {"毛毛雨", "Drizzle"},
	CodeLightRain:    {"小雨", "Light rain"},
	CodeRain:         {"下雨", "Rain"},
	CodeHeavyRain:    {"大雨", "Heavy rain"},
	CodeShower:       {"阵雨", "Shower"},
	CodeThunderstorm: {"雷暴", "Thunderstorm"},
	CodeSleet:        {"雨夹雪", "Sleet"},
	CodeSnow:         {"下雪", "Snow"},
	CodeMist:         {"薄雾", "Mist"},
	CodeFog:          {"雾", "Fog"},
	CodeHaze:         {"霾", "Haze"},
	CodeDust:         {"沙尘", "Dust"},
}

// Label returns the localized label for code, or ok=false when the code is not in the table.
func Label(code string, lang models.Language) (string, bool) {
	l, ok := labels[code]
	if !ok {
		return "", false
	}
	if lang == models.LangZH {
		return l.zh, true
	}
	return l.en, true
}

// Describe returns the localized label for code, or raw when the code is unknown.
func Describe(code, raw string, lang models.Language) string {
	if s, ok := Label(code, lang); ok {
		return s
	}
	return raw
}

// Condition rewrites c.Description for lang. Unrecognized codes keep the provider text.
func Condition(c models.WeatherCondition, lang models.Language) models.WeatherCondition {
	c.Description = Describe(c.MainCode, c.Description, lang)
	return c
}

// DayNight composes a forecast description from day and night conditions.
// Identical conditions collapse to a single label.
func DayNight(dayCode, dayRaw, nightCode, nightRaw string, lang models.Language) string {
	day := Describe(dayCode, dayRaw, lang)
	night := Describe(nightCode, nightRaw, lang)
	if night == "" || night == day {
		return day
	}
	if lang == models.LangZH {
		return day + "转" + night
	}
	return day + " to " + strings.ToLower(night)
}

// CodeForIcon maps a QWeather icon id to a condition code. Unknown icons return "".
// See https://dev.qweather.com/en/docs/resource/icons/ for the id ranges.
func CodeForIcon(icon string) string {
	n, err := strconv.Atoi(strings.TrimSpace(icon))
	if err != nil {
		return ""
	}
	switch {
	case n == 100 || n == 150:
		return CodeClear
	case n == 102 || n == 152:
		return CodeFewClouds
	case n == 101 || n == 103 || n == 151 || n == 153:
		return CodeClouds
	case n == 104:
		return CodeOvercast
	case n == 302 || n == 303 || n == 304:
		return CodeThunderstorm
	case n == 300 || n == 301 || n == 350 || n == 351:
		return CodeShower
	case n == 305 || n == 314:
		return CodeLightRain
	case n == 309:
		return CodeDrizzle
	case n == 306 || n == 315 || n == 399:
		return CodeRain
	case (n >= 307 && n <= 308) || (n >= 310 && n <= 313) || (n >= 316 && n <= 318):
		return CodeHeavyRain
	case n >= 404 && n <= 406, n == 456:
		return CodeSleet
	case n >= 400 && n <= 410, n == 457, n == 499:
		return CodeSnow
	case n == 500:
		return CodeMist
	case n == 501 || n == 509 || n == 510 || n == 514 || n == 515:
		return CodeFog
	case n == 502 || (n >= 511 && n <= 513):
		return CodeHaze
	case n >= 503 && n <= 508:
		return CodeDust
	}
	return ""
}

// Report localizes every condition in r for lang. Forecast day conditions get a
// day-to-night description; it must be applied once, to provider-raw text.
func Report(r models.WeatherReport, lang models.Language) models.WeatherReport {
	out := r.Clone()
	out.Language = lang
	out.CityName = r.Current.City.DisplayName(lang)
	out.Current.Condition = Condition(r.Current.Condition, lang)
	for i, d := range r.Forecast {
		out.Forecast[i].Condition.Description = DayNight(
			d.Condition.MainCode, d.Condition.Description,
			d.Night.MainCode, d.Night.Description, lang)
		out.Forecast[i].Night = Condition(d.Night, lang)
	}
	return out
}
