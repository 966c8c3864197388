// Package resolver clusters venue markets from both exchanges into
// canonical pairs using fuzzy text and temporal features. It runs on the
// periodic market-sync trigger, never on the hot path.
package resolver

import (
	"regexp"
	"strings"
	"time"
	"unicode"
)

// Normalized is the feature bundle extracted from one venue market.
type Normalized struct {
	// Title is the normalized title text, used for string-distance
	// metrics.
	Title string
	// Tokens is the filtered token set from title+description.
	Tokens []string
	// Dates are the temporal references found in title+description.
	Dates []time.Time
}

var (
	numericDateRe = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})\b`)
	isoDateRe     = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	monthDateRe   = regexp.MustCompile(`(?i)\b(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\s+(\d{1,2}),\s*(\d{4})`)
)

var monthIndex = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

// Normalize extracts the comparison features for one market.
func Normalize(title, description string) Normalized {
	combined := title
	if description != "" {
		combined += " " + description
	}
	return Normalized{
		Title:  NormalizeText(title),
		Tokens: tokenize(NormalizeText(combined)),
		Dates:  extractDates(combined),
	}
}

// NormalizeText lowercases, replaces every non-alphanumeric rune with a
// space, collapses whitespace, and trims. It is idempotent:
// NormalizeText(NormalizeText(s)) == NormalizeText(s).
func NormalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	lastSpace := true // trims leading spaces
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastSpace = false
			continue
		}
		if !lastSpace {
			b.WriteByte(' ')
			lastSpace = true
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// tokenize splits on whitespace, dropping tokens of length <= 2 and purely
// numeric tokens.
func tokenize(normalized string) []string {
	fields := strings.Fields(normalized)
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) <= 2 || isNumeric(f) {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// extractDates scans the raw text for the three recognized date shapes and
// parses each hit, discarding anything that does not resolve to a real
// calendar day.
func extractDates(s string) []time.Time {
	var dates []time.Time

	for _, m := range numericDateRe.FindAllStringSubmatch(s, -1) {
		if d, ok := makeDate(atoi(m[3]), atoi(m[1]), atoi(m[2])); ok {
			dates = append(dates, d)
		}
	}
	for _, m := range isoDateRe.FindAllStringSubmatch(s, -1) {
		if d, ok := makeDate(atoi(m[1]), atoi(m[2]), atoi(m[3])); ok {
			dates = append(dates, d)
		}
	}
	for _, m := range monthDateRe.FindAllStringSubmatch(s, -1) {
		month, ok := monthIndex[strings.ToLower(m[1])]
		if !ok {
			continue
		}
		if d, ok := makeDate(atoi(m[3]), int(month), atoi(m[2])); ok {
			dates = append(dates, d)
		}
	}
	return dates
}

// makeDate validates the components by round-tripping through time.Date,
// which normalizes out-of-range values (e.g. Feb 30 becomes Mar 2).
func makeDate(year, month, day int) (time.Time, bool) {
	if year < 1900 || year > 2200 || month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if d.Year() != year || int(d.Month()) != month || d.Day() != day {
		return time.Time{}, false
	}
	return d, true
}

func atoi(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}
