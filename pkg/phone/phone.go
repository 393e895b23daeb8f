// Package phone normalizes and validates Brazilian phone numbers used as
// conversation discovery keys.
package phone

import (
	"strings"
)

// Kind classifies a validated number.
type Kind string

const (
	Mobile   Kind = "mobile"
	Landline Kind = "landline"
	Invalid  Kind = "invalid"
)

// Digits strips everything except ASCII digits.
func Digits(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Normalize returns the number in +55DDNNNNNNNNN form. Empty input stays empty.
func Normalize(raw string) string {
	digits := Digits(raw)
	if digits == "" {
		return ""
	}
	// 10 or 11 digits is a national number (DDD + subscriber).
	if !strings.HasPrefix(digits, "55") || len(digits) <= 11 {
		digits = "55" + digits
	}
	return "+" + digits
}

// Validate reports whether raw is a Brazilian mobile or landline number.
func Validate(raw string, allowLandline bool) (bool, Kind) {
	normalized := Normalize(raw)
	if !strings.HasPrefix(normalized, "+55") {
		return false, Invalid
	}
	number := normalized[3:]
	if len(number) < 10 {
		return false, Invalid
	}

	ddd := number[:2]
	if ddd[0] == '0' || ddd[1] == '0' {
		return false, Invalid
	}

	rest := number[2:]
	switch {
	case len(rest) == 9 && rest[0] == '9':
		return true, Mobile
	case allowLandline && len(rest) == 8:
		return true, Landline
	default:
		return false, Invalid
	}
}

// Display formats a number as "+55 (11) 98765-4321". Unknown shapes are
// returned unchanged.
func Display(raw string) string {
	normalized := Normalize(raw)
	if !strings.HasPrefix(normalized, "+55") {
		return raw
	}
	number := normalized[3:]
	switch len(number) {
	case 11:
		return "+55 (" + number[:2] + ") " + number[2:7] + "-" + number[7:]
	case 10:
		return "+55 (" + number[:2] + ") " + number[2:6] + "-" + number[6:]
	default:
		return raw
	}
}

// WireFormat returns the digits-only form expected by the WhatsApp API.
func WireFormat(raw string) string {
	return Digits(Normalize(raw))
}
