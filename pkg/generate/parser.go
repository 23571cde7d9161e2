package generate

import (
	"regexp"
	"strings"
)

// RefusalToken is the completion the prompt asks for when the schema cannot
// answer the question.
const RefusalToken = "NO_SQL"

var (
	selectStartRe = regexp.MustCompile(`(?is)\bselect\b`)
	cteStartRe    = regexp.MustCompile(`(?is)\bwith\s+[a-z_][a-z0-9_]*\s+as\s*\(`)

	fromJoinRe = regexp.MustCompile(`(?is)\b(?:from|join)\s+([a-z_][a-z0-9_\.]*)`)
	windowRe         = regexp.MustCompile(`(?is)\bover\s*\(`)
	joinRe           = regexp.MustCompile(`(?is)\bjoin\b`)
	subqueryRe       = regexp.MustCompile(`(?is)\(\s*select\b`)
	unionRe          = regexp.MustCompile(`(?is)\bunion\b`)
)

// ExtractStatement pulls the SQL statement out of a raw completion: fences
// and prefixes are stripped, the text is cut at the first statement keyword,
// and trailing narrative after the statement is dropped. The second return is
// false when no statement is present (including an explicit refusal).
func ExtractStatement(completion string) (string, bool) {
	text := strings.TrimSpace(completion)
	if text == "" {
		return "", false
	}
	if strings.Contains(strings.ToUpper(text), RefusalToken) {
		return "", false
	}

	// Prefer fenced content when present.
	if fenced := extractFenced(text); fenced != "" {
		text = fenced
	}

	// Drop a leading "SQL Query:"-style label.
	lower := strings.ToLower(text)
	if idx := strings.Index(lower, "sql query:"); idx == 0 {
		text = strings.TrimSpace(text[len("sql query:"):])
	}

	start := statementStart(text)
	if start == -1 {
		return "", false
	}
	text = text[start:]

	// Cut trailing narrative: anything after the statement's last semicolon,
	// or after a blank line following the statement body.
	if idx := strings.Index(text, ";"); idx != -1 {
		text = text[:idx]
	} else if idx := strings.Index(text, "\n\n"); idx != -1 {
		text = text[:idx]
	}

	return strings.TrimSpace(text), true
}

// statementStart finds where the statement begins. A WITH counts only when it
// opens a CTE ("WITH name AS ("); the bare word is too common in narrative
// text ("here is the query with the results: SELECT ...") to cut on.
func statementStart(text string) int {
	start := -1
	if loc := cteStartRe.FindStringIndex(text); loc != nil {
		start = loc[0]
	}
	if loc := selectStartRe.FindStringIndex(text); loc != nil && (start == -1 || loc[0] < start) {
		start = loc[0]
	}
	return start
}

func extractFenced(text string) string {
	for _, open := range []string{"```sql", "```"} {
		start := strings.Index(text, open)
		if start == -1 {
			continue
		}
		start += len(open)
		end := strings.Index(text[start:], "```")
		if end == -1 {
			continue
		}
		return strings.TrimSpace(text[start : start+end])
	}
	return ""
}

// ReferencedTables lists the distinct table names a statement reads from, in
// first-appearance order. Schema qualifiers and CTE names are preserved as
// written; the caller resolves them against the snapshot.
func ReferencedTables(sql string) []string {
	matches := fromJoinRe.FindAllStringSubmatch(sql, -1)
	cteNames := cteNameSet(sql)

	seen := make(map[string]bool)
	var tables []string
	for _, m := range matches {
		name := strings.ToLower(strings.TrimRight(m[1], "."))
		if name == "" || seen[name] || cteNames[name] {
			continue
		}
		seen[name] = true
		tables = append(tables, name)
	}
	return tables
}

var cteRe = regexp.MustCompile(`(?is)\b(?:with|,)\s*([a-z_][a-z0-9_]*)\s+as\s*\(`)

func cteNameSet(sql string) map[string]bool {
	names := make(map[string]bool)
	for _, m := range cteRe.FindAllStringSubmatch(sql, -1) {
		names[strings.ToLower(m[1])] = true
	}
	return names
}

// Classify assigns a complexity tier from structural counts.
func Classify(sql string) Complexity {
	joins := len(joinRe.FindAllString(sql, -1))
	subqueries := len(subqueryRe.FindAllString(sql, -1))
	windows := len(windowRe.FindAllString(sql, -1))

	switch {
	case joins >= 3 || subqueries >= 2 || windows > 0:
		return ComplexityComplex
	case joins > 0 || subqueries > 0 || len(unionRe.FindAllString(sql, -1)) > 0:
		return ComplexityModerate
	default:
		return ComplexitySimple
	}
}

// StructuralCounts exposes the raw counts used by the validator's complexity
// layer.
func StructuralCounts(sql string) (joins, subqueries, unions int) {
	return len(joinRe.FindAllString(sql, -1)),
		len(subqueryRe.FindAllString(sql, -1)),
		len(unionRe.FindAllString(sql, -1))
}
