package intent

import (
	"regexp"
	"strings"
)

// Each extractor is independent and pure: it sees the normalized query text
// and returns the values it found, nothing else.

var (
	relativeDateRe = regexp.MustCompile(`\b(yesterday|today|tomorrow|last\s+(?:week|month|quarter|year|\d+\s+(?:days?|weeks?|months?))|this\s+(?:week|month|quarter|year)|past\s+\d+\s+(?:days?|weeks?|months?))\b`)
	isoDateRe      = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
	monthYearRe    = regexp.MustCompile(`\b(?:january|february|march|april|may|june|july|august|september|october|november|december)\s+\d{4}\b`)
	numberRe       = regexp.MustCompile(`\b\d+(?:\.\d+)?\b`)
	comparatorRe   = regexp.MustCompile(`\b(more than|greater than|at least|at most|less than|fewer than|under|over|above|below|between|equal to|exactly)\b`)
	metricRe       = regexp.MustCompile(`\b(count|total|sum|average|avg|mean|median|max|maximum|min|minimum|rate|percentage|percent)\b`)
)

func extractDates(normalized string) []string {
	var out []string
	out = append(out, relativeDateRe.FindAllString(normalized, -1)...)
	out = append(out, isoDateRe.FindAllString(normalized, -1)...)
	out = append(out, monthYearRe.FindAllString(normalized, -1)...)
	return dedupe(out)
}

func extractNumbers(normalized string) []string {
	// Skip digits that are part of a date expression.
	stripped := isoDateRe.ReplaceAllString(normalized, " ")
	stripped = relativeDateRe.ReplaceAllString(stripped, " ")
	return dedupe(numberRe.FindAllString(stripped, -1))
}

func extractComparators(normalized string) []string {
	return dedupe(comparatorRe.FindAllString(normalized, -1))
}

func extractMetrics(normalized string) []string {
	return dedupe(metricRe.FindAllString(normalized, -1))
}

// extractTableHints matches known table names as whole tokens, tolerating a
// trailing plural "s" either way.
func extractTableHints(normalized string, knownTables []string) []string {
	tokens := tokenize(normalized)
	var hints []string
	for _, table := range knownTables {
		t := strings.ToLower(table)
		for _, tok := range tokens {
			if tok == t || tok == t+"s" || tok+"s" == t {
				hints = append(hints, t)
				break
			}
		}
	}
	return dedupe(hints)
}

func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_')
	})
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(values))
	out := values[:0]
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
