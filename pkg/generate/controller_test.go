package generate

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askdb-dev/askdb/pkg/logger"
	"github.com/askdb-dev/askdb/pkg/retrieval"
	"github.com/askdb-dev/askdb/pkg/schema"
)

// mockGenerator replays canned completions and records the prompts it saw.
type mockGenerator struct {
	completions []string
	err         error
	prompts     []string
}

func (m *mockGenerator) Generate(_ context.Context, req Request) (string, error) {
	m.prompts = append(m.prompts, req.Prompt)
	if m.err != nil {
		return "", m.err
	}
	idx := len(m.prompts) - 1
	if idx >= len(m.completions) {
		idx = len(m.completions) - 1
	}
	return m.completions[idx], nil
}

func testSnapshot() *schema.Snapshot {
	return schema.NewSnapshot([]*schema.Table{
		{Name: "patients", Columns: []schema.Column{{Name: "id", DataType: "bigint"}}},
		{Name: "admissions", Columns: []schema.Column{{Name: "id", DataType: "bigint"}, {Name: "patient_id", DataType: "bigint"}}},
	})
}

func newTestController(t *testing.T, gen Generator) *Controller {
	t.Helper()
	c, err := New(&Config{Logger: logger.NewTest(), Generator: gen})
	require.NoError(t, err)
	return c
}

func TestGenerate_HappyPath(t *testing.T) {
	gen := &mockGenerator{completions: []string{"SELECT count(*) FROM admissions"}}
	c := newTestController(t, gen)

	stmt, err := c.Generate(context.Background(), Input{
		Question: "How many admissions?",
		Snapshot: testSnapshot(),
	})
	require.NoError(t, err)
	assert.Equal(t, "SELECT count(*) FROM admissions", stmt.SQL)
	assert.Equal(t, 1, stmt.Attempt)
	assert.Equal(t, ComplexitySimple, stmt.Complexity)
	assert.Equal(t, []string{"admissions"}, stmt.ReferencedTables)
	assert.Greater(t, stmt.Confidence, 0.5)
	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "# Question")
}

func TestGenerate_RetriesOnceWithCorrectionForUnknownTable(t *testing.T) {
	gen := &mockGenerator{completions: []string{
		"SELECT count(*) FROM admisions",
		"SELECT count(*) FROM admissions",
	}}
	c := newTestController(t, gen)

	stmt, err := c.Generate(context.Background(), Input{
		Question: "How many admissions?",
		Snapshot: testSnapshot(),
	})
	require.NoError(t, err)
	assert.Equal(t, "SELECT count(*) FROM admissions", stmt.SQL)
	assert.Equal(t, 2, stmt.Attempt)

	require.Len(t, gen.prompts, 2)
	assert.NotContains(t, gen.prompts[0], "# Correction")
	assert.Contains(t, gen.prompts[1], "# Correction")
	assert.Contains(t, gen.prompts[1], `Table "admisions" does not exist`)
	assert.Contains(t, gen.prompts[1], "admissions")
}

func TestGenerate_NeverExceedsMaxAttempts(t *testing.T) {
	gen := &mockGenerator{completions: []string{"SELECT * FROM nonexistent"}}
	c := newTestController(t, gen)

	_, err := c.Generate(context.Background(), Input{
		Question: "anything",
		Snapshot: testSnapshot(),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAttemptsExhausted)
	assert.Len(t, gen.prompts, defaultMaxAttempts)
}

func TestGenerate_RefusalSurfacesAfterNudge(t *testing.T) {
	gen := &mockGenerator{completions: []string{"NO_SQL", "NO_SQL"}}
	c := newTestController(t, gen)

	_, err := c.Generate(context.Background(), Input{Question: "what is the weather"})
	assert.ErrorIs(t, err, ErrNoStatement)
	assert.Len(t, gen.prompts, 2)
}

func TestGenerate_BackendErrorPropagates(t *testing.T) {
	gen := &mockGenerator{err: errors.New("rate limited")}
	c := newTestController(t, gen)

	_, err := c.Generate(context.Background(), Input{Question: "anything"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestRegenerate_RespectsAttemptCap(t *testing.T) {
	gen := &mockGenerator{completions: []string{"SELECT 1"}}
	c := newTestController(t, gen)

	failed := &Statement{SQL: "SELECT * FROM foo", Attempt: defaultMaxAttempts}
	_, err := c.Regenerate(context.Background(), Input{Question: "q"}, failed, "table foo does not exist")
	assert.ErrorIs(t, err, ErrAttemptsExhausted)
	assert.Empty(t, gen.prompts)
}

func TestRegenerate_UsesValidatorFeedback(t *testing.T) {
	gen := &mockGenerator{completions: []string{"SELECT count(*) FROM patients"}}
	c := newTestController(t, gen)

	failed := &Statement{SQL: "SELECT * FROM foo", Attempt: 1}
	stmt, err := c.Regenerate(context.Background(), Input{Question: "q", Snapshot: testSnapshot()}, failed, `table "foo" not found`)
	require.NoError(t, err)
	assert.Equal(t, 2, stmt.Attempt)
	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], `table "foo" not found`)
	assert.Contains(t, gen.prompts[0], "SELECT * FROM foo")
}

func TestBuildPrompt_SectionsAndHistoryWindow(t *testing.T) {
	c := newTestController(t, &mockGenerator{completions: []string{"SELECT 1"}})

	rctx := &retrieval.Context{
		Query: "q",
		Elements: []retrieval.Element{
			{Kind: retrieval.KindTable, Content: "Table admissions: hospital admissions", Score: 0.9, Table: &retrieval.TableMeta{Name: "admissions"}},
			{Kind: retrieval.KindRule, Content: "Always filter by date when asked about a period", Score: 0.8, Rule: &retrieval.RuleMeta{}},
			{Kind: retrieval.KindExample, Content: "Q: how many? A: SELECT count(*)", Score: 0.7, Example: &retrieval.ExampleMeta{}},
		},
	}
	history := []Message{
		{Role: "user", Content: "oldest question"},
		{Role: "assistant", Content: "oldest answer"},
		{Role: "user", Content: "q1"}, {Role: "assistant", Content: "a1"},
		{Role: "user", Content: "q2"}, {Role: "assistant", Content: "a2"},
	}

	prompt := c.buildPrompt(Input{Question: "How many admissions?", Context: rctx, History: history}, "")

	assert.Contains(t, prompt, "# Schema")
	assert.Contains(t, prompt, "Table admissions")
	assert.Contains(t, prompt, "# Rules")
	assert.Contains(t, prompt, "# Examples")
	assert.Contains(t, prompt, "# Recent conversation")
	// Only the last MaxHistoryTurns messages survive.
	assert.NotContains(t, prompt, "oldest question")
	assert.Contains(t, prompt, "q2")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(prompt), "# SQL"))
}

func TestBuildPrompt_EmptyContextFallsBackToWarning(t *testing.T) {
	c := newTestController(t, &mockGenerator{completions: []string{"SELECT 1"}})
	prompt := c.buildPrompt(Input{Question: "q"}, "")
	assert.Contains(t, prompt, "no schema context retrieved")
}
