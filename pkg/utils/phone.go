package utils

import "strings"

const (
	phoneMinDigits = 10
	phoneMaxDigits = 15
)

// NormalizePhone canonicalizes a raw phone string into digits-only form
// with a leading country code and no plus sign.
//
// Kazakh/Russian subscriber numbers are folded to the 7-prefixed 11-digit
// form: a leading 8 on an 11-digit number becomes 7, and a bare 10-digit
// local number gets 7 prepended. Any other 10 to 15 digit sequence is kept
// as-is (generic E.164 without the plus). Everything else is rejected.
func NormalizePhone(raw string) (string, bool) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	if len(digits) < phoneMinDigits || len(digits) > phoneMaxDigits {
		return "", false
	}

	switch {
	case len(digits) == 11 && digits[0] == '8':
		return "7" + digits[1:], true
	case len(digits) == phoneMinDigits:
		return "7" + digits, true
	default:
		return digits, true
	}
}
