package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrInvalidLocation is matched by every location validation error.
var ErrInvalidLocation = errors.New("invalid location")

var (
	ErrLocationEmpty        = fmt.Errorf("%w: location is required", ErrInvalidLocation)
	ErrLocationTooShort     = fmt.Errorf("%w: location too short", ErrInvalidLocation)
	ErrLocationTooLong      = fmt.Errorf("%w: location too long", ErrInvalidLocation)
	ErrLocationInvalidChars = fmt.Errorf("%w: location contains invalid characters", ErrInvalidLocation)
)

// ValidateLocation trims the input, enforces length bounds (minLen, maxLen in runes)
// and restricts characters to letters, digits, space, comma, hyphen, period and
// apostrophe (e.g. "St. John's,CA"). Returns the trimmed string.
// Splitting into city and country is left to the resolver.
func ValidateLocation(input string, minLen, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	n := len(r)
	if n == 0 {
		return "", ErrLocationEmpty
	}
	if minLen > 0 && n < minLen {
		return "", ErrLocationTooShort
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrLocationTooLong
	}
	for _, c := range r {
		if !isAllowedLocationRune(c) {
			return "", ErrLocationInvalidChars
		}
	}
	return s, nil
}

func isAllowedLocationRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsMark(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '.', '\'':
		return true
	}
	return false
}
