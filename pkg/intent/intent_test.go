package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyze_CountQuestionWithDateIsConfident(t *testing.T) {
	a := NewAnalyzer(0.7)

	res := a.Analyze("How many patients were admitted yesterday?", nil, []string{"patients", "admissions"})

	assert.Equal(t, KindCount, res.Kind)
	assert.GreaterOrEqual(t, res.Confidence, 0.85)
	assert.False(t, res.Ambiguous(a.MinConfidence()))
	assert.Contains(t, res.Entities[EntityDate], "yesterday")
	assert.Contains(t, res.Entities[EntityTableHint], "patients")
}

func TestAnalyze_BareListQuestionIsAmbiguous(t *testing.T) {
	a := NewAnalyzer(0.7)

	res := a.Analyze("Show me discharges", nil, []string{"patients", "admissions"})

	assert.Equal(t, KindList, res.Kind)
	assert.Less(t, res.Confidence, 0.7)
	assert.True(t, res.Ambiguous(a.MinConfidence()))

	questions := ClarificationQuestions(res)
	require.NotEmpty(t, questions)
	assert.Contains(t, questions[0], "date range")
}

func TestAnalyze_Kinds(t *testing.T) {
	a := NewAnalyzer(0.7)

	tests := []struct {
		query string
		want  Kind
	}{
		{"How many orders shipped last week?", KindCount},
		{"What is the average order value?", KindAggregate},
		{"Show admissions per month for 2024", KindTrend},
		{"Compare readmissions versus discharges", KindComparison},
		{"Find the patient with id 42", KindLookup},
		{"List all departments", KindList},
		{"asdf qwerty zxcv", KindUnknown},
	}
	for _, tt := range tests {
		res := a.Analyze(tt.query, nil, nil)
		assert.Equal(t, tt.want, res.Kind, "query: %s", tt.query)
	}
}

func TestAnalyze_EntityExtraction(t *testing.T) {
	a := NewAnalyzer(0.7)

	res := a.Analyze("List orders over 500 placed between 2024-01-01 and 2024-03-31", nil, []string{"orders"})

	assert.Contains(t, res.Entities[EntityDate], "2024-01-01")
	assert.Contains(t, res.Entities[EntityDate], "2024-03-31")
	assert.Contains(t, res.Entities[EntityNumber], "500")
	assert.Contains(t, res.Entities[EntityComparator], "over")
	assert.Contains(t, res.Entities[EntityTableHint], "orders")
}

func TestAnalyze_TableHintToleratesPlural(t *testing.T) {
	a := NewAnalyzer(0.7)

	// Schema table is singular, question uses the plural.
	res := a.Analyze("How many admissions happened today?", nil, []string{"admission"})
	assert.Contains(t, res.Entities[EntityTableHint], "admission")
}

func TestAnalyze_PronounWithoutHistoryLowersConfidence(t *testing.T) {
	a := NewAnalyzer(0.7)

	cold := a.Analyze("Show me those records from yesterday", nil, nil)
	warm := a.Analyze("Show me those records from yesterday", []string{"List all patients admitted this week"}, nil)

	assert.Less(t, cold.Confidence, warm.Confidence)
}

func TestAnalyze_ShortQueryPenalized(t *testing.T) {
	a := NewAnalyzer(0.7)

	res := a.Analyze("show patients", nil, []string{"patients"})
	assert.True(t, res.Ambiguous(a.MinConfidence()))
}

func TestClarificationQuestions_AlwaysReturnsSomething(t *testing.T) {
	questions := ClarificationQuestions(Result{
		Kind: KindList,
		Entities: map[string][]string{
			EntityDate:      {"yesterday"},
			EntityTableHint: {"orders"},
		},
	})
	require.NotEmpty(t, questions)
}
