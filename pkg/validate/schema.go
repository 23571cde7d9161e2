package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/askdb-dev/askdb/pkg/generate"
	"github.com/askdb-dev/askdb/pkg/schema"
)

const maxSuggestions = 3

var qualifiedColumnRe = regexp.MustCompile(`(?i)\b([a-z_][a-z0-9_]*)\.([a-z_][a-z0-9_]*)\b`)

// checkSchema is layer 3: every referenced table (and every resolvable
// column) must exist in the snapshot. Unknown names produce error-severity
// issues with similarity-ranked suggestions.
func checkSchema(sql string, snap *schema.Snapshot) []Issue {
	if snap == nil {
		return []Issue{{
			Severity: SeverityWarning,
			Rule:     RuleSchema,
			Message:  "schema snapshot unavailable; existence check skipped",
		}}
	}

	var issues []Issue
	referenced := generate.ReferencedTables(sql)

	for _, table := range referenced {
		name := table
		if idx := strings.LastIndex(name, "."); idx != -1 {
			name = name[idx+1:]
		}
		if snap.TableExists(name) {
			continue
		}
		issues = append(issues, Issue{
			Severity:    SeverityError,
			Rule:        RuleSchema,
			Message:     fmt.Sprintf("table %q does not exist", table),
			Suggestions: snap.SuggestSimilar(name, maxSuggestions),
		})
	}

	// Qualified column references resolve unambiguously; check the ones whose
	// qualifier is a known table. Bare column names would need a full parser
	// to attribute, so they are left to the datastore.
	aliases := tableAliases(sql, referenced)
	for _, m := range qualifiedColumnRe.FindAllStringSubmatch(sql, -1) {
		qualifier, column := strings.ToLower(m[1]), strings.ToLower(m[2])
		table, ok := aliases[qualifier]
		if !ok || !snap.TableExists(table) {
			continue
		}
		if snap.ColumnExists(table, column) {
			continue
		}
		issues = append(issues, Issue{
			Severity:    SeverityError,
			Rule:        RuleSchema,
			Message:     fmt.Sprintf("column %q does not exist on table %q", column, table),
			Suggestions: snap.SuggestSimilarColumn(table, column, maxSuggestions),
		})
	}
	return issues
}

var aliasRe = regexp.MustCompile(`(?i)\b(?:from|join)\s+([a-z_][a-z0-9_\.]*)(?:\s+(?:as\s+)?([a-z_][a-z0-9_]*))?`)

// tableAliases maps alias (or the table's own name) to the table name for
// every FROM/JOIN clause.
func tableAliases(sql string, referenced []string) map[string]string {
	aliases := make(map[string]string)
	for _, table := range referenced {
		name := table
		if idx := strings.LastIndex(name, "."); idx != -1 {
			name = name[idx+1:]
		}
		aliases[name] = name
	}
	reserved := map[string]bool{"on": true, "where": true, "inner": true, "left": true, "right": true, "full": true, "cross": true, "group": true, "order": true, "limit": true, "join": true, "using": true}
	for _, m := range aliasRe.FindAllStringSubmatch(sql, -1) {
		table := strings.ToLower(m[1])
		if idx := strings.LastIndex(table, "."); idx != -1 {
			table = table[idx+1:]
		}
		alias := strings.ToLower(m[2])
		if alias != "" && !reserved[alias] {
			aliases[alias] = table
		}
	}
	return aliases
}
