package validate

import (
	"fmt"

	"github.com/askdb-dev/askdb/pkg/generate"
)

// Ceilings for layer 4. Violations are warnings, not failures: an expensive
// statement is still a legal one.
type ComplexityLimits struct {
	MaxJoins      int
	MaxSubqueries int
	MaxUnions     int
}

// DefaultComplexityLimits mirrors what the cost layer treats as "reviewable".
func DefaultComplexityLimits() ComplexityLimits {
	return ComplexityLimits{MaxJoins: 5, MaxSubqueries: 3, MaxUnions: 2}
}

func checkComplexity(sql string, limits ComplexityLimits) []Issue {
	joins, subqueries, unions := generate.StructuralCounts(sql)

	var issues []Issue
	if joins > limits.MaxJoins {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Rule:     RuleComplexity,
			Message:  fmt.Sprintf("statement uses %d joins (ceiling %d); consider splitting the question", joins, limits.MaxJoins),
		})
	}
	if subqueries > limits.MaxSubqueries {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Rule:     RuleComplexity,
			Message:  fmt.Sprintf("statement nests %d subqueries (ceiling %d)", subqueries, limits.MaxSubqueries),
		})
	}
	if unions > limits.MaxUnions {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Rule:     RuleComplexity,
			Message:  fmt.Sprintf("statement unions %d branches (ceiling %d)", unions, limits.MaxUnions),
		})
	}
	return issues
}
