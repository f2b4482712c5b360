// Package phone normalizes Ivorian phone numbers to E.164.
//
// The platform accepts the local 10-digit format customers actually type
// (a leading 0 followed by 9 digits) and rewrites it to +225XXXXXXXXX.
// Anything else is rejected at the boundary rather than silently coerced.
package phone

import (
	"errors"
	"regexp"
	"strings"
)

// Validation errors returned by NormalizeCI.
var (
	// ErrNotTenDigits is returned when the cleaned input is not exactly
	// ten digits.
	ErrNotTenDigits = errors.New("phone: expected exactly 10 digits")

	// ErrNoLeadingZero is returned when a ten-digit input does not start
	// with 0.
	ErrNoLeadingZero = errors.New("phone: local number must start with 0")
)

var nonDigitRE = regexp.MustCompile(`[^0-9]`)

// NormalizeCI converts a local Côte d'Ivoire number to E.164.
// Spaces, dashes, and dots are stripped before validation, so
// "01 23 45 67 89" and "0123456789" normalize identically.
func NormalizeCI(input string) (string, error) {
	cleaned := nonDigitRE.ReplaceAllString(strings.TrimSpace(input), "")
	if len(cleaned) != 10 {
		return "", ErrNotTenDigits
	}
	if !strings.HasPrefix(cleaned, "0") {
		return "", ErrNoLeadingZero
	}
	return "+225" + cleaned[1:], nil
}

// IsE164CI reports whether s is already a normalized +225 number.
func IsE164CI(s string) bool {
	return len(s) == 13 && strings.HasPrefix(s, "+225")
}
