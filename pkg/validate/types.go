// Package validate runs the ordered safety, policy and cost checks applied to
// every generated statement. The security layers short-circuit the pipeline;
// the schema, complexity and cost layers are independent and run
// concurrently.
package validate

// Severity grades a validation issue.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Rule identifiers, stable across releases so callers can match on them.
const (
	RuleInjection   = "injection"
	RuleReadOnly    = "readonly"
	RuleSchema      = "schema_existence"
	RuleComplexity  = "complexity"
	RuleCost        = "cost"
	RuleLargeResult = "large_result"
)

// Issue is one finding from a validation layer.
type Issue struct {
	Severity    Severity
	Rule        string
	Message     string
	Suggestions []string
}

// Result is the outcome of validating one statement. Passed is false exactly
// when an error- or critical-severity issue is present. Statement carries the
// possibly-adjusted statement text.
type Result struct {
	Passed    bool
	Issues    []Issue
	Statement string
}

// Blocking reports whether any issue forbids execution.
func (r *Result) Blocking() bool {
	for _, issue := range r.Issues {
		if issue.Severity >= SeverityError {
			return true
		}
	}
	return false
}

// SecurityCritical reports whether a security layer produced a critical
// finding. Security failures terminate the request: they never trigger
// regeneration.
func (r *Result) SecurityCritical() bool {
	for _, issue := range r.Issues {
		if issue.Severity == SeverityCritical &&
			(issue.Rule == RuleInjection || issue.Rule == RuleReadOnly) {
			return true
		}
	}
	return false
}

// SchemaErrors returns the schema-existence findings, the one class of error
// that permits a corrective regeneration.
func (r *Result) SchemaErrors() []Issue {
	var out []Issue
	for _, issue := range r.Issues {
		if issue.Rule == RuleSchema && issue.Severity == SeverityError {
			out = append(out, issue)
		}
	}
	return out
}
