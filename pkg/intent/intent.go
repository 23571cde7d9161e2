// Package intent classifies natural-language queries into a closed set of
// intent kinds and extracts structured entities. Analysis is a pure function
// of the query text, the conversation window and the known table names; it
// performs no I/O.
package intent

import (
	"strings"
)

// Kind is the classified query type.
type Kind string

const (
	KindCount      Kind = "count"
	KindAggregate  Kind = "aggregate"
	KindList       Kind = "list"
	KindTrend      Kind = "trend"
	KindComparison Kind = "comparison"
	KindLookup     Kind = "lookup"
	KindUnknown    Kind = "unknown"
)

// Entity classes produced by the extractors.
const (
	EntityDate       = "date"
	EntityNumber     = "number"
	EntityComparator = "comparator"
	EntityTableHint  = "table_hint"
	EntityMetric     = "metric"
)

// Result is the outcome of analyzing one query. It is serialized into
// clarification responses, hence the tags.
type Result struct {
	Kind       Kind                `json:"kind"`
	Confidence float64             `json:"confidence"`
	Entities   map[string][]string `json:"entities,omitempty"`
}

// Ambiguous reports whether the result falls below the confidence floor and
// the pipeline must ask for clarification instead of generating.
func (r Result) Ambiguous(minConfidence float64) bool {
	return r.Confidence < minConfidence
}

// patternSet maps an intent kind to the phrases that signal it, with a base
// confidence reflecting how unambiguous the phrasing usually is.
type patternSet struct {
	kind Kind
	base float64
	cues []string
}

// Order matters: the first matching set wins, so the more specific cues come
// before the catch-all list/lookup phrasing.
var patternSets = []patternSet{
	{KindCount, 0.70, []string{"how many", "count of", "count the", "number of", "total number"}},
	{KindTrend, 0.68, []string{"trend", "over time", "per month", "per week", "per day", "by month", "by year", "month over month", "growth"}},
	{KindComparison, 0.66, []string{"compare", " versus ", " vs ", " vs. ", "difference between", "compared to", "compared with"}},
	{KindAggregate, 0.68, []string{"average", "avg ", "sum of", "total ", "maximum", "minimum", "highest", "lowest", "mean ", "median"}},
	{KindLookup, 0.62, []string{"who is", "who are", "details of", "details for", "find the", "look up", "lookup"}},
	{KindList, 0.60, []string{"show", "list", "display", "which ", "what are", "give me", "get all", "get the"}},
}

// Analyzer classifies queries and extracts entities.
type Analyzer struct {
	minConfidence float64
}

// NewAnalyzer creates an analyzer with the given confidence floor. Zero means
// the default of 0.7.
func NewAnalyzer(minConfidence float64) *Analyzer {
	if minConfidence == 0 {
		minConfidence = 0.7
	}
	return &Analyzer{minConfidence: minConfidence}
}

// MinConfidence returns the floor below which a query is ambiguous.
func (a *Analyzer) MinConfidence() float64 { return a.minConfidence }

// Analyze classifies the query and extracts entities. priorQuestions is the
// bounded conversation window (most recent last); knownTables feeds the
// table-hint extractor.
func (a *Analyzer) Analyze(queryText string, priorQuestions []string, knownTables []string) Result {
	normalized := " " + strings.ToLower(strings.TrimSpace(queryText)) + " "

	kind := KindUnknown
	confidence := 0.45
	for _, set := range patternSets {
		for _, cue := range set.cues {
			if strings.Contains(normalized, cue) {
				kind = set.kind
				confidence = set.base
				break
			}
		}
		if kind != KindUnknown {
			break
		}
	}

	entities := map[string][]string{}
	addAll(entities, EntityDate, extractDates(normalized))
	addAll(entities, EntityNumber, extractNumbers(normalized))
	addAll(entities, EntityComparator, extractComparators(normalized))
	addAll(entities, EntityTableHint, extractTableHints(normalized, knownTables))
	addAll(entities, EntityMetric, extractMetrics(normalized))

	// Entity coverage sharpens confidence: a dated, scoped question is far
	// less ambiguous than a bare "show me X".
	if len(entities[EntityDate]) > 0 {
		confidence += 0.15
	}
	if len(entities[EntityTableHint]) > 0 {
		confidence += 0.10
	}
	if len(entities[EntityComparator]) > 0 || len(entities[EntityNumber]) > 0 {
		confidence += 0.05
	}

	words := strings.Fields(normalized)
	if len(words) < 3 {
		confidence -= 0.20
	}

	// Unresolved references need history to make sense.
	if hasPronounReference(normalized) {
		if len(priorQuestions) > 0 {
			confidence += 0.05
		} else {
			confidence -= 0.15
		}
	}

	if confidence > 0.99 {
		confidence = 0.99
	}
	if confidence < 0.05 {
		confidence = 0.05
	}

	return Result{Kind: kind, Confidence: confidence, Entities: entities}
}

// ClarificationQuestions synthesizes questions for the entity classes an
// ambiguous query is missing.
func ClarificationQuestions(r Result) []string {
	var questions []string
	if len(r.Entities[EntityDate]) == 0 {
		questions = append(questions, "What date range should the results cover?")
	}
	if len(r.Entities[EntityTableHint]) == 0 {
		questions = append(questions, "Which records are you asking about? Naming the subject (for example patients, admissions, orders) helps scope the query.")
	}
	if r.Kind == KindAggregate || r.Kind == KindTrend || r.Kind == KindUnknown {
		if len(r.Entities[EntityMetric]) == 0 {
			questions = append(questions, "Which metric should be measured (count, sum, average, ...)?")
		}
	}
	if len(questions) == 0 {
		questions = append(questions, "Could you rephrase the question with more detail?")
	}
	return questions
}

func addAll(m map[string][]string, key string, values []string) {
	if len(values) > 0 {
		m[key] = values
	}
}

func hasPronounReference(normalized string) bool {
	for _, p := range []string{" them ", " those ", " these ", " that one ", " it "} {
		if strings.Contains(normalized, p) {
			return true
		}
	}
	return false
}
