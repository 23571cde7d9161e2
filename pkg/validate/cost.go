package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/askdb-dev/askdb/pkg/generate"
	"github.com/askdb-dev/askdb/pkg/schema"
)

// Risk classifies the estimated cost of a statement.
type Risk string

const (
	RiskLow      Risk = "low"
	RiskMedium   Risk = "medium"
	RiskHigh     Risk = "high"
	RiskVeryHigh Risk = "very-high"
)

// largeTableRows is the row estimate above which an unfiltered scan is
// flagged.
const largeTableRows = 100_000

var (
	whereRe     = regexp.MustCompile(`(?i)\bwhere\b`)
	limitRe     = regexp.MustCompile(`(?i)\blimit\s+\d+`)
	aggregateRe = regexp.MustCompile(`(?i)\b(count|sum|avg|min|max)\s*\(|\bgroup\s+by\b`)
)

// checkCost is layer 5: a heuristic score from table sizes, join/subquery
// counts and the absence of filtering or limiting clauses. It attaches
// warnings for risky statements but never blocks execution.
func checkCost(sql string, snap *schema.Snapshot) []Issue {
	joins, subqueries, _ := generate.StructuralCounts(sql)
	hasFilter := whereRe.MatchString(sql)
	hasLimit := limitRe.MatchString(sql)
	hasAggregate := aggregateRe.MatchString(sql)

	var maxRows int64
	var largestTable string
	if snap != nil {
		for _, table := range generate.ReferencedTables(sql) {
			name := table
			if idx := strings.LastIndex(name, "."); idx != -1 {
				name = name[idx+1:]
			}
			if rows := snap.RowEstimate(name); rows > maxRows {
				maxRows = rows
				largestTable = name
			}
		}
	}

	score := 0
	switch {
	case maxRows >= 1_000_000:
		score += 3
	case maxRows >= largeTableRows:
		score += 2
	case maxRows >= 10_000:
		score++
	}
	if joins > 1 {
		score += joins - 1
	}
	score += subqueries
	if !hasFilter && !hasLimit && !hasAggregate {
		score += 2
	}

	risk := classifyRisk(score)

	var issues []Issue
	if !hasFilter && !hasLimit && !hasAggregate && maxRows >= largeTableRows {
		issues = append(issues, Issue{
			Severity:    SeverityWarning,
			Rule:        RuleLargeResult,
			Message:     fmt.Sprintf("statement scans large table %q (~%d rows) without a filter, limit, or aggregate; the result may be very large", largestTable, maxRows),
			Suggestions: []string{"add a date or key filter", "add a LIMIT clause", "use an export job for full extracts"},
		})
	}
	if risk == RiskHigh || risk == RiskVeryHigh {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Rule:     RuleCost,
			Message:  fmt.Sprintf("estimated execution risk is %s (score %d)", risk, score),
		})
	} else if score > 0 {
		issues = append(issues, Issue{
			Severity: SeverityInfo,
			Rule:     RuleCost,
			Message:  fmt.Sprintf("estimated execution risk is %s (score %d)", risk, score),
		})
	}
	return issues
}

func classifyRisk(score int) Risk {
	switch {
	case score <= 1:
		return RiskLow
	case score <= 3:
		return RiskMedium
	case score <= 5:
		return RiskHigh
	default:
		return RiskVeryHigh
	}
}
