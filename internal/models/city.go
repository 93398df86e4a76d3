package models

import "strings"

// CityKey is the canonical identifier of a supported city. Only city.Resolver produces them
// from user input.
type CityKey string

const (
	Beijing   CityKey = "beijing"
	Shanghai  CityKey = "shanghai"
	Guangzhou CityKey = "guangzhou"
	Shenzhen  CityKey = "shenzhen"
	Hangzhou  CityKey = "hangzhou"
)

type cityInfo struct {
	locationID string
	nameZH     string
	nameEN     string
}

var cities = map[CityKey]cityInfo{
	Beijing:   {"101010100", "北京", "Beijing"},
	Shanghai:  {"101020100", "上海", "Shanghai"},
	Guangzhou: {"101280101", "广州", "Guangzhou"},
	Shenzhen:  {"101280601", "深圳", "Shenzhen"},
	Hangzhou:  {"101210101", "杭州", "Hangzhou"},
}

// SupportedCities returns every CityKey in a stable order.
func SupportedCities() []CityKey {
	return []CityKey{Beijing, Shanghai, Guangzhou, Shenzhen, Hangzhou}
}

// Valid reports whether k is one of the supported cities.
func (k CityKey) Valid() bool {
	_, ok := cities[k]
	return ok
}

// LocationID is the upstream provider's location id for the city.
func (k CityKey) LocationID() string {
	return cities[k].locationID
}

// DisplayName returns the city name in the given language, falling back to the key itself.
func (k CityKey) DisplayName(lang Language) string {
	info, ok := cities[k]
	if !ok {
		return string(k)
	}
	if lang == LangZH {
		return info.nameZH
	}
	return info.nameEN
}

// CacheKey composes the cache key for a city and language.
func CacheKey(city CityKey, lang Language) string {
	return string(city) + ":" + string(lang)
}

// Language is the closed set of response languages.
type Language string

const (
	LangZH Language = "zh"
	LangEN Language = "en"
)

// ParseLanguage maps a query value to a Language. Empty input yields LangEN.
func ParseLanguage(s string) (Language, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return LangEN, true
	case "zh", "zh-cn", "zh_cn", "cn":
		return LangZH, true
	case "en", "en-us", "en_us":
		return LangEN, true
	}
	return "", false
}
