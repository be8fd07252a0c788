// Package identity – identity.go compares WhatsApp user identifiers.
//
// The same person can show up as "5511987654321@s.whatsapp.net",
// "5511987654321:12@s.whatsapp.net" (device suffix) or as a bare number
// configured by hand, sometimes with or without the country code. Every
// identity comparison in the bot goes through this package.
package identity

import (
	"strings"
)

const (
	// minSuffixDigits is the shortest digit string eligible for suffix matching.
	minSuffixDigits = 7

	// suffixDigits is how many trailing digits are compared.
	suffixDigits = 10
)

// ExtractDigits returns only the decimal digits of id, in order.
func ExtractDigits(id string) string {
	if id == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// User strips the device suffix and server part of a JID string:
// "5511987654321:12@s.whatsapp.net" becomes "5511987654321".
func User(id string) string {
	if at := strings.IndexByte(id, '@'); at >= 0 {
		id = id[:at]
	}
	if colon := strings.IndexByte(id, ':'); colon >= 0 {
		id = id[:colon]
	}
	return strings.TrimSpace(id)
}

// Normalize reduces id to the form persisted for sudo entries: the last
// ten digits of the user part. Returns "" when id carries no digits.
func Normalize(id string) string {
	return suffix(ExtractDigits(User(id)))
}

// MatchesBySuffix reports whether a and b identify the same account.
// Digit forms that are equal always match. Otherwise both sides need at
// least seven digits, and their last ten digits (or the whole digit
// string when shorter) must be equal.
func MatchesBySuffix(a, b string) bool {
	da := ExtractDigits(User(a))
	db := ExtractDigits(User(b))
	if da == "" || db == "" {
		return false
	}
	if da == db {
		return true
	}
	if len(da) < minSuffixDigits || len(db) < minSuffixDigits {
		return false
	}
	return suffix(da) == suffix(db)
}

// MatchesAny reports whether id matches any entry of list.
func MatchesAny(id string, list []string) bool {
	for _, candidate := range list {
		if MatchesBySuffix(id, candidate) {
			return true
		}
	}
	return false
}

// ParseList splits a comma separated list of numbers (the SUDO/OWNER env
// format), dropping blanks and entries without digits.
func ParseList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if ExtractDigits(part) == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func suffix(digits string) string {
	if len(digits) > suffixDigits {
		return digits[len(digits)-suffixDigits:]
	}
	return digits
}
