// Package validation checks /weather query parameters before they reach the service.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/kjstillabower/city-weather-service/internal/models"
)

// ErrInvalidInput is the parent of every validation error; handlers map it to 400.
var ErrInvalidInput = errors.New("invalid input")

var (
	// ErrCityEmpty is returned when city is empty or whitespace-only after trim.
	ErrCityEmpty = fmt.Errorf("%w: city is required", ErrInvalidInput)
	// ErrCityTooLong is returned when city length exceeds the maximum.
	ErrCityTooLong = fmt.Errorf("%w: city too long", ErrInvalidInput)
	// ErrCityInvalidChars is returned when city contains control or reserved characters.
	ErrCityInvalidChars = fmt.Errorf("%w: city contains invalid characters", ErrInvalidInput)
	// ErrLanguageUnsupported is returned for a lang other than zh or en.
	ErrLanguageUnsupported = fmt.Errorf("%w: lang must be zh or en", ErrInvalidInput)
)

// ValidateCity trims the input and enforces a rune length limit (maxLen <= 0 disables it).
// Any script is accepted, including percent-encoded and mis-decoded names that the
// resolver repairs later; only control characters and URL delimiters are rejected.
func ValidateCity(input string, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	n := len([]rune(s))
	if n == 0 {
		return "", ErrCityEmpty
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrCityTooLong
	}
	for _, c := range s {
		if !isAllowedCityRune(c) {
			return "", ErrCityInvalidChars
		}
	}
	return s, nil
}

func isAllowedCityRune(r rune) bool {
	if unicode.IsControl(r) || r == unicode.ReplacementChar {
		return false
	}
	switch r {
	case '/', '\\', '?', '#', '&', '<', '>', '"':
		return false
	}
	return true
}

// ValidateLanguage parses lang; empty means English.
func ValidateLanguage(input string) (models.Language, error) {
	lang, ok := models.ParseLanguage(input)
	if !ok {
		return "", ErrLanguageUnsupported
	}
	return lang, nil
}
