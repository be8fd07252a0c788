package access

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// symbolPrefix is the curated set of characters accepted as a prefix in
// multi-prefix mode.
var symbolPrefix = regexp.MustCompile(`^(?:[°•π÷×¶∆£¢€¥®™+✓_=|~!?@#$%^&.©/\\,;:*-]|🔥|⚡|✨|🌟|💫)`)

// Prefixes configures command prefix detection.
type Prefixes struct {
	// Literals are tried in order. An empty literal means no prefix is
	// required.
	Literals []string

	// MultiPrefix accepts any symbol from the curated set, checked before
	// the literals.
	MultiPrefix bool
}

// ParsePrefixes splits a comma separated prefix list. "null" and "none"
// stand for the empty prefix.
func ParsePrefixes(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{""}
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		switch strings.ToLower(p) {
		case "null", "none", "false":
			p = ""
		}
		out = append(out, p)
	}
	return out
}

// Detect returns the prefix body starts with.
func (p Prefixes) Detect(body string) (string, bool) {
	if body == "" {
		return "", false
	}
	if p.MultiPrefix {
		if m := symbolPrefix.FindString(foldFirst(body)); m != "" {
			// Report the prefix as it appears in body.
			r := []rune(body)
			return string(r[:len([]rune(m))]), true
		}
	}
	for _, lit := range p.Literals {
		if strings.HasPrefix(body, lit) {
			return lit, true
		}
	}
	return "", false
}

// First returns the prefix shown in help texts.
func (p Prefixes) First() string {
	for _, lit := range p.Literals {
		if lit != "" {
			return lit
		}
	}
	if p.MultiPrefix {
		return "."
	}
	return ""
}

// foldFirst applies NFKC to the first rune so full-width symbols match
// their ASCII forms.
func foldFirst(s string) string {
	r := []rune(s)
	first := norm.NFKC.String(string(r[0]))
	if len([]rune(first)) != 1 {
		return s
	}
	return first + string(r[1:])
}
