// Package phone canonicalises user-entered mobile numbers to E.164.
package phone

import (
	"strings"
)

const DefaultCountryCode = "+91"

// Normalize returns the E.164 form of mobile, or "" when it holds no digits.
// Input starting with "+" is taken as already international. Indian numbers
// entered with a trunk "0" or a bare "91" prefix are folded to +91.
// Normalize(Normalize(x, cc), cc) == Normalize(x, cc) for every x and cc.
func Normalize(mobile, countryCode string) string {
	digits := Digits(mobile)
	if digits == "" {
		return ""
	}
	if strings.HasPrefix(strings.TrimSpace(mobile), "+") {
		return "+" + digits
	}

	cc := Digits(countryCode)
	if cc == "" {
		cc = Digits(DefaultCountryCode)
	}
	if cc == "91" {
		switch {
		case len(digits) == 10:
			return "+91" + digits
		case len(digits) == 11 && digits[0] == '0':
			return "+91" + digits[1:]
		case len(digits) == 12 && strings.HasPrefix(digits, "91"):
			return "+" + digits
		}
	}
	return "+" + cc + digits
}

// Digits strips everything but ASCII digits.
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
