// Package fields normalizes raw wizard input and describes every editable field.
package fields

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

const (
	// VINLength is the canonical VIN length.
	VINLength = 17
	// PhoneLength is the canonical length of a domestic phone number.
	PhoneLength = 10
)

var (
	vinPattern   = regexp.MustCompile(`^[A-HJ-NPR-Z0-9]{17}$`)
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

	summaryPolicy = bluemonday.StrictPolicy()
)

// NormalizeVIN uppercases raw input and drops every character outside A-Z and 0-9.
func NormalizeVIN(raw string) string {
	upper := strings.ToUpper(raw)
	var b strings.Builder
	b.Grow(len(upper))
	for i := 0; i < len(upper); i++ {
		c := upper[i]
		if (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// IsVINValid reports whether code is exactly 17 characters from the VIN alphabet.
// The letters I, O and Q never appear in a VIN. The check digit is not verified.
func IsVINValid(code string) bool {
	return vinPattern.MatchString(code)
}

// FormatVINDisplay groups a VIN as 4-4-4-5 for display. Storage always keeps the ungrouped code.
func FormatVINDisplay(raw string) string {
	vin := NormalizeVIN(raw)
	if len(vin) > VINLength {
		vin = vin[:VINLength]
	}
	bounds := []int{0, 4, 8, 12, VINLength}
	parts := make([]string, 0, 4)
	for i := 0; i+1 < len(bounds); i++ {
		start, end := bounds[i], bounds[i+1]
		if start >= len(vin) {
			break
		}
		if end > len(vin) {
			end = len(vin)
		}
		parts = append(parts, vin[start:end])
	}
	return strings.Join(parts, " ")
}

// MaskVIN renders the ad preview form of a VIN, showing only the last six characters.
func MaskVIN(raw string) string {
	vin := NormalizeVIN(raw)
	switch {
	case vin == "":
		return "VIN —"
	case len(vin) < 6:
		return "VIN " + vin
	default:
		return "VIN •••••••••••" + vin[len(vin)-6:]
	}
}

// NormalizePhone keeps ASCII digits and truncates to ten.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for i := 0; i < len(raw) && b.Len() < PhoneLength; i++ {
		c := raw[i]
		if c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// IsPhoneValid reports whether digits is a complete ten digit number.
func IsPhoneValid(digits string) bool {
	if len(digits) != PhoneLength {
		return false
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return false
		}
	}
	return true
}

// IsEmailValid is a loose syntactic check: one @, no whitespace, and a dot inside the domain.
func IsEmailValid(s string) bool {
	return emailPattern.MatchString(strings.TrimSpace(s))
}

// SanitizeSummary strips markup from a listing summary and returns plain text.
func SanitizeSummary(raw string) string {
	return strings.TrimSpace(html.UnescapeString(summaryPolicy.Sanitize(raw)))
}

// Length counts characters the way the summary counter does.
func Length(s string) int {
	return utf8.RuneCountInString(s)
}

// TruncateRunes cuts s to at most n characters.
func TruncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
