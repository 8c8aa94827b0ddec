// Package phone validates and normalises E.164 phone numbers.
package phone

import (
	"regexp"
	"strings"

	dErrors "commonvote/pkg/domain-errors"
)

var e164 = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)

// Number is a validated E.164 phone number.
type Number string

func (n Number) String() string { return string(n) }

// Parse validates s as an E.164 number without rewriting it.
func Parse(s string) (Number, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeValidation, "phone number is required")
	}
	if !e164.MatchString(s) {
		return "", dErrors.New(dErrors.CodeValidation, "phone number must be in E.164 format")
	}
	return Number(s), nil
}

// Normalize strips formatting characters and prefixes defaultCountryCode
// (digits only, e.g. "1" or "254") to national numbers before validating.
// A leading "00" is treated as the international prefix.
func Normalize(s, defaultCountryCode string) (Number, error) {
	var b strings.Builder
	for i, r := range strings.TrimSpace(s) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case strings.HasPrefix(digits, "+"):
	case strings.HasPrefix(digits, "00"):
		digits = "+" + digits[2:]
	case strings.HasPrefix(digits, "0") && defaultCountryCode != "":
		digits = "+" + defaultCountryCode + digits[1:]
	case defaultCountryCode != "" && !strings.HasPrefix(digits, defaultCountryCode):
		digits = "+" + defaultCountryCode + digits
	default:
		digits = "+" + digits
	}
	return Parse(digits)
}

// Mask hides the middle of a number for logs: +15551234567 -> +155***4567.
func Mask(n Number) string {
	s := string(n)
	if len(s) <= 7 {
		return "***"
	}
	return s[:4] + "***" + s[len(s)-4:]
}
