// Package city resolves free-text city names to canonical city keys.
package city

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/kjstillabower/city-weather-service/internal/models"
)

// aliases maps normalized names to city keys. Keys must already be in normalized form.
var aliases = map[string]models.CityKey{
	"北京":        models.Beijing,
	"京":         models.Beijing,
	"beijing":   models.Beijing,
	"peking":    models.Beijing,
	"101010100": models.Beijing,

	"上海":        models.Shanghai,
	"沪":         models.Shanghai,
	"滬":         models.Shanghai,
	"shanghai":  models.Shanghai,
	"101020100": models.Shanghai,

	"广州":        models.Guangzhou,
	"廣州":        models.Guangzhou,
	"穗":         models.Guangzhou,
	"guangzhou": models.Guangzhou,
	"canton":    models.Guangzhou,
	"101280101": models.Guangzhou,

	"深圳":        models.Shenzhen,
	"鹏城":        models.Shenzhen,
	"shenzhen":  models.Shenzhen,
	"101280601": models.Shenzhen,

	"杭州":        models.Hangzhou,
	"hangzhou":  models.Hangzhou,
	"hangchow":  models.Hangzhou,
	"101210101": models.Hangzhou,
}

var suffixes = []string{"市", "city", "shi"}

// Resolver maps raw city names to CityKeys. Unknown names resolve to the default city.
type Resolver struct {
	defaultCity models.CityKey
}

// NewResolver returns a Resolver that falls back to defaultCity.
func NewResolver(defaultCity models.CityKey) (*Resolver, error) {
	if !defaultCity.Valid() {
		return nil, fmt.Errorf("default city %q is not supported", defaultCity)
	}
	return &Resolver{defaultCity: defaultCity}, nil
}

// Default returns the fallback city.
func (r *Resolver) Default() models.CityKey {
	return r.defaultCity
}

// Resolve never fails: names that match nothing return the default city.
func (r *Resolver) Resolve(raw string) models.CityKey {
	key, _ := r.Lookup(raw)
	return key
}

// Lookup is Resolve plus whether the name matched a known city.
func (r *Resolver) Lookup(raw string) (models.CityKey, bool) {
	n := Normalize(raw)
	if key, ok := aliases[n]; ok {
		return key, true
	}
	for _, sfx := range suffixes {
		if trimmed := strings.TrimSuffix(n, sfx); trimmed != n && trimmed != "" {
			if key, ok := aliases[trimmed]; ok {
				return key, true
			}
		}
	}
	return r.defaultCity, false
}

// Normalize folds a city name to its lookup form: percent-decoded, mojibake repaired,
// NFKC, case folded, diacritics and separators removed.
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.Contains(s, "%") {
		if u, err := url.QueryUnescape(s); err == nil && utf8.ValidString(u) {
			s = u
		}
	}
	s = repairMojibake(s)
	s = norm.NFKC.String(s)

	// Callers run concurrently; Caser and transformers are stateful, so build per call.
	stripMarks := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if out, _, err := transform.String(stripMarks, s); err == nil {
		s = out
	}
	s = cases.Fold().String(s)

	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '-' || r == '\'' || r == '_' || r == '.' {
			return -1
		}
		return r
	}, s)
}

// repairMojibake undoes UTF-8 text that was decoded as Windows-1252 or Latin-1,
// e.g. "åŒ—äº¬" back to "北京". Input that does not round-trip is returned unchanged.
func repairMojibake(s string) string {
	if isASCII(s) {
		return s
	}
	for _, cm := range []*charmap.Charmap{charmap.Windows1252, charmap.ISO8859_1} {
		b, err := cm.NewEncoder().Bytes([]byte(s))
		if err != nil {
			continue
		}
		if fixed := string(b); fixed != s && utf8.Valid(b) && !isASCII(fixed) {
			return fixed
		}
	}
	return s
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
