// Package phone normalises Kenyan mobile numbers as they appear in payment
// notifications and tenant records.
package phone

import "strings"

// CountryCode is the dialling prefix numbers are normalised to.
const CountryCode = "254"

// Digits strips everything except ASCII digits.
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

// Last9 returns the last nine digits of s, the subscriber part shared by the
// 07XX, +2547XX and 2547XX spellings of the same number. It returns "" when s
// has fewer than nine digits.
func Last9(s string) string {
	d := Digits(s)
	if len(d) < 9 {
		return ""
	}
	return d[len(d)-9:]
}

// MSISDN normalises s to 254XXXXXXXXX. Numbers that cannot be normalised are
// returned as their digits.
func MSISDN(s string) string {
	d := Digits(s)
	switch {
	case len(d) == 12 && strings.HasPrefix(d, CountryCode):
		return d
	case len(d) == 10 && strings.HasPrefix(d, "0"):
		return CountryCode + d[1:]
	case len(d) == 9:
		return CountryCode + d
	}
	return d
}
