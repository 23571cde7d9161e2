package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askdb-dev/askdb/pkg/execguard"
	"github.com/askdb-dev/askdb/pkg/generate"
	"github.com/askdb-dev/askdb/pkg/logger"
)

type erroringBackend struct{}

func (erroringBackend) Generate(context.Context, generate.Request) (string, error) {
	return "", errors.New("backend down")
}

func TestSynthesize_UsesBackendAnswer(t *testing.T) {
	backend := &mockBackend{completions: []string{"There were 12 admissions yesterday."}}
	s, err := NewSynthesizer(logger.NewTest(), backend)
	require.NoError(t, err)

	result := &execguard.Result{
		Success:  true,
		Columns:  []string{"count"},
		Rows:     []map[string]any{{"count": 12}},
		RowCount: 1,
		Complete: true,
	}
	answer := s.Synthesize(context.Background(), "How many admissions yesterday?", result)

	assert.Equal(t, "There were 12 admissions yesterday.", answer)
	require.Len(t, backend.prompts, 1)
	assert.Contains(t, backend.prompts[0], "How many admissions yesterday?")
	assert.Contains(t, backend.prompts[0], "1 rows returned")
	assert.Contains(t, backend.prompts[0], "12")
}

func TestSynthesize_FallsBackToTemplateOnBackendFailure(t *testing.T) {
	s, err := NewSynthesizer(logger.NewTest(), erroringBackend{})
	require.NoError(t, err)

	result := &execguard.Result{
		Success:  true,
		Columns:  []string{"count"},
		Rows:     []map[string]any{{"count": 42}},
		RowCount: 1,
		Complete: true,
	}
	answer := s.Synthesize(context.Background(), "how many?", result)
	assert.Equal(t, "Result: 42.", answer)
}

func TestTemplateAnswer(t *testing.T) {
	assert.Equal(t,
		"The query ran successfully but returned no rows.",
		templateAnswer(&execguard.Result{Complete: true}))

	assert.Contains(t,
		templateAnswer(&execguard.Result{RowCount: 50_000, Complete: false}),
		"too large to display")

	assert.Equal(t,
		"The query returned 3 rows.",
		templateAnswer(&execguard.Result{
			RowCount: 3,
			Columns:  []string{"a", "b"},
			Rows:     []map[string]any{{"a": 1}, {"a": 2}, {"a": 3}},
			Complete: true,
		}))

	assert.Contains(t,
		templateAnswer(&execguard.Result{
			RowCount: 1500,
			Columns:  []string{"a"},
			Rows:     []map[string]any{{"a": 1}},
			Complete: false,
		}),
		"truncated")
}

func TestRenderRows_CapsAtLimit(t *testing.T) {
	result := &execguard.Result{Columns: []string{"id"}}
	for i := 0; i < 30; i++ {
		result.Rows = append(result.Rows, map[string]any{"id": i})
	}
	result.RowCount = 30

	out := renderRows(result, 20)
	assert.Contains(t, out, "and 10 more rows")

	assert.Equal(t, "(no rows)", renderRows(&execguard.Result{Columns: []string{"id"}}, 20))
}
