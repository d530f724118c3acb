// Package normalize produces the comparison keys the dedup resolver indexes
// on. Normalized values collapse trivial variation (URL prefixes, case,
// punctuation) while leaving the stored originals untouched.
package normalize

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode"
)

var (
	doiPrefixRe  = regexp.MustCompile(`(?i)^(https?://(dx\.)?doi\.org/|doi:)\s*`)
	openAlexIDRe = regexp.MustCompile(`(?i)\bW\d+\b`)
)

// DOI strips the URL or "doi:" prefix and folds case. The empty string means
// no usable DOI.
func DOI(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	s = doiPrefixRe.ReplaceAllString(s, "")
	s = strings.TrimSpace(strings.ToLower(s))
	if !strings.HasPrefix(s, "10.") {
		return ""
	}
	return s
}

// DOIKey is the stored comparison key: the cleaned DOI uppercased, so
// lookups are case-insensitive regardless of how the source cased it.
func DOIKey(raw string) string {
	return strings.ToUpper(DOI(raw))
}

// OpenAlexID extracts the W<digits> token from an OpenAlex id or URL and
// uppercases it. Returns "" when no token is present.
func OpenAlexID(raw string) string {
	m := openAlexIDRe.FindString(raw)
	return strings.ToUpper(m)
}

// Title lowercases and removes everything that is not a letter or digit.
// Whitespace collapses to nothing, so "The Firm" and "the firm" share a key.
func Title(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(raw) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Authors serializes the ordered author list canonically and then applies
// the title rule to the serialization. Order matters: the same names in a
// different order are a different key.
func Authors(names []string) string {
	if len(names) == 0 {
		return ""
	}
	// json.Marshal of a string slice is already canonical for our purposes:
	// element order is preserved and there are no map keys to sort.
	enc, err := json.Marshal(names)
	if err != nil {
		return ""
	}
	return Title(string(enc))
}

// PersonName is a parsed author name used during matching only; it is never
// stored.
type PersonName struct {
	First    string // given names, non-alphabetics stripped
	Last     string
	Initials string // e.g. "RH" for "R. H. Coase"
}

// Person parses "Last, First" and "First ... Last" display forms.
func Person(raw string) PersonName {
	s := strings.TrimSpace(raw)
	if s == "" {
		return PersonName{}
	}

	var first, last string
	if i := strings.Index(s, ","); i >= 0 {
		last = strings.TrimSpace(s[:i])
		first = strings.TrimSpace(s[i+1:])
	} else {
		parts := strings.Fields(s)
		if len(parts) == 1 {
			last = parts[0]
		} else {
			last = parts[len(parts)-1]
			first = strings.Join(parts[:len(parts)-1], " ")
		}
	}

	p := PersonName{
		First: cleanGiven(first),
		Last:  strings.TrimSpace(last),
	}
	p.Initials = initialsOf(first)
	return p
}

// cleanGiven strips non-alphabetic runes from given names but keeps spaces
// so "R. H." becomes "R H".
func cleanGiven(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || r == ' ' {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// initialsOf returns the uppercase first letter of each given-name token.
func initialsOf(first string) string {
	var b strings.Builder
	for _, tok := range strings.Fields(cleanGiven(first)) {
		for _, r := range tok {
			b.WriteRune(unicode.ToUpper(r))
			break
		}
	}
	return b.String()
}
