package validate

import (
	"fmt"
	"regexp"
	"strings"
)

// Layer 1: injection and obfuscation patterns. Compiled once; any match is
// critical and stops the pipeline.
var injectionPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"statement chaining", regexp.MustCompile(`;\s*\S`)},
	{"line comment", regexp.MustCompile(`--`)},
	{"block comment", regexp.MustCompile(`/\*`)},
	{"dynamic execution", regexp.MustCompile(`(?i)\b(execute\s+immediate|exec\s*\(|sp_executesql|xp_cmdshell)\b`)},
	{"privileged function", regexp.MustCompile(`(?i)\b(pg_read_file|pg_ls_dir|pg_sleep|lo_import|lo_export|dblink|copy\s+.*\bprogram\b)\b`)},
	{"system catalog write", regexp.MustCompile(`(?i)\bpg_catalog\.\w+\s*=`)},
}

// Layer 2: read-only allow-list. The statement must begin with a read
// keyword, and no write/DDL/administrative keyword may appear as a bare token
// outside string literals.
var (
	readOnlyStartRe  = regexp.MustCompile(`(?i)^\s*(select|with)\b`)
	forbiddenKeyword = regexp.MustCompile(`(?i)\b(insert|update|delete|merge|drop|alter|create|truncate|grant|revoke|vacuum|reindex|cluster|copy|call|do|set|reset|listen|notify)\b`)
	stringLiteralRe  = regexp.MustCompile(`'(?:[^']|'')*'`)
)

// checkInjection is the first, security-critical layer.
func checkInjection(sql string) []Issue {
	for _, p := range injectionPatterns {
		if p.re.MatchString(sql) {
			return []Issue{{
				Severity: SeverityCritical,
				Rule:     RuleInjection,
				Message:  fmt.Sprintf("statement rejected: %s detected", p.name),
			}}
		}
	}
	return nil
}

// checkReadOnly is the second, security-critical layer.
func checkReadOnly(sql string) []Issue {
	if !readOnlyStartRe.MatchString(sql) {
		return []Issue{{
			Severity: SeverityCritical,
			Rule:     RuleReadOnly,
			Message:  "statement rejected: only SELECT (or WITH ... SELECT) statements are executed",
		}}
	}

	// Keywords inside string literals are data, not operations.
	stripped := stringLiteralRe.ReplaceAllString(sql, "''")
	if m := forbiddenKeyword.FindString(stripped); m != "" {
		return []Issue{{
			Severity: SeverityCritical,
			Rule:     RuleReadOnly,
			Message:  fmt.Sprintf("statement rejected: write or administrative keyword %q is not allowed", strings.ToUpper(m)),
		}}
	}
	return nil
}
