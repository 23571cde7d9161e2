package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askdb-dev/askdb/pkg/intent"
	"github.com/askdb-dev/askdb/pkg/logger"
	"github.com/askdb-dev/askdb/pkg/schema"
)

type mockEmbedder struct {
	err   error
	calls int
}

func (m *mockEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type mockStore struct {
	hits []SearchHit
	err  error
	topK int
}

func (m *mockStore) Search(_ context.Context, _ []float32, topK int, _ []ElementKind) ([]SearchHit, error) {
	m.topK = topK
	if m.err != nil {
		return nil, m.err
	}
	return m.hits, nil
}

func tableHit(name string, score float64) SearchHit {
	return SearchHit{
		ID:       "table:" + name,
		Content:  "Table " + name,
		Score:    score,
		Metadata: map[string]string{"kind": "table", "table": name},
	}
}

func columnHit(table, column string, score float64) SearchHit {
	return SearchHit{
		ID:       fmt.Sprintf("column:%s.%s", table, column),
		Content:  fmt.Sprintf("Column %s.%s", table, column),
		Score:    score,
		Metadata: map[string]string{"kind": "column", "table": table, "column": column, "data_type": "text"},
	}
}

func testSnapshot() *schema.Snapshot {
	return schema.NewSnapshot([]*schema.Table{
		{Name: "patients", Columns: []schema.Column{{Name: "id", DataType: "bigint"}}},
		{
			Name:    "admissions",
			Columns: []schema.Column{{Name: "id", DataType: "bigint"}, {Name: "patient_id", DataType: "bigint"}},
			ForeignKeys: []schema.ForeignKey{
				{Column: "patient_id", RefTable: "patients", RefColumn: "id"},
			},
		},
		{Name: "billing", Columns: []schema.Column{{Name: "id", DataType: "bigint"}}},
	})
}

func newTestRetriever(t *testing.T, cfg *Config) *Retriever {
	t.Helper()
	cfg.Logger = logger.NewTest()
	r, err := New(cfg)
	require.NoError(t, err)
	return r
}

func TestRetrieve_DegradesToEmptyContextOnEmbedderFailure(t *testing.T) {
	r := newTestRetriever(t, &Config{
		Embedder: &mockEmbedder{err: errors.New("connection refused")},
		Store:    &mockStore{},
	})

	rctx := r.Retrieve(context.Background(), "how many patients", intent.Result{Kind: intent.KindCount}, 0, testSnapshot())
	require.NotNil(t, rctx)
	assert.True(t, rctx.Empty())
}

func TestRetrieve_DegradesToEmptyContextOnStoreFailure(t *testing.T) {
	r := newTestRetriever(t, &Config{
		Embedder: &mockEmbedder{},
		Store:    &mockStore{err: errors.New("timeout")},
	})

	rctx := r.Retrieve(context.Background(), "how many patients", intent.Result{Kind: intent.KindCount}, 0, testSnapshot())
	require.NotNil(t, rctx)
	assert.True(t, rctx.Empty())
}

func TestRetrieve_FiltersBelowThresholdAndSelectsRelatedTables(t *testing.T) {
	store := &mockStore{hits: []SearchHit{
		tableHit("admissions", 0.9),
		tableHit("patients", 0.5),
		tableHit("billing", 0.1), // below threshold
		columnHit("admissions", "patient_id", 0.8),
		columnHit("billing", "id", 0.7), // table not selected
	}}
	r := newTestRetriever(t, &Config{
		Embedder: &mockEmbedder{},
		Store:    store,
	})

	rctx := r.Retrieve(context.Background(), "how many patients were admitted", intent.Result{Kind: intent.KindCount}, 0, testSnapshot())

	names := rctx.TableNames()
	assert.Contains(t, names, "admissions")
	assert.Contains(t, names, "patients")
	assert.NotContains(t, names, "billing")

	for _, el := range rctx.Elements {
		if el.Kind == KindColumn {
			assert.NotEqual(t, "billing", strings.ToLower(el.Column.Table))
		}
	}
}

func TestRetrieve_TokenCountNeverExceedsBudget(t *testing.T) {
	var hits []SearchHit
	for i := 0; i < 40; i++ {
		hit := tableHit(fmt.Sprintf("table_%02d", i), 0.9-float64(i)*0.01)
		hit.Content = strings.Repeat("wide column description ", 30)
		hits = append(hits, hit)
	}
	cfg := &Config{
		Embedder:    &mockEmbedder{},
		Store:       &mockStore{hits: hits},
		TokenBudget: 600,
		MaxTables:   40,
	}
	r := newTestRetriever(t, cfg)

	rctx := r.Retrieve(context.Background(), "show everything", intent.Result{Kind: intent.KindList}, 0, nil)

	assert.LessOrEqual(t, rctx.TokenCount, cfg.TokenBudget-cfg.PromptHeadroom)
	assert.NotEmpty(t, rctx.Elements)
}

func TestRetrieve_TopKExpandsWithHistoryAndJoinCues(t *testing.T) {
	store := &mockStore{}
	r := newTestRetriever(t, &Config{Embedder: &mockEmbedder{}, Store: store})

	r.Retrieve(context.Background(), "how many patients", intent.Result{Kind: intent.KindCount}, 0, nil)
	assert.Equal(t, defaultBaseTopK, store.topK)

	r.Retrieve(context.Background(), "how many patients", intent.Result{Kind: intent.KindCount}, 3, nil)
	assert.Equal(t, defaultExpandedTopK, store.topK)

	r.Retrieve(context.Background(), "patients and their admissions grouped by ward", intent.Result{Kind: intent.KindCount}, 0, nil)
	assert.Equal(t, defaultExpandedTopK, store.topK)
}

func TestRetrieve_ExamplesFilteredByIntent(t *testing.T) {
	countExample := SearchHit{
		ID: "ex1", Content: "Q: how many? A: SELECT count(*)", Score: 0.8,
		Metadata: map[string]string{"kind": "example", "intents": "count"},
	}
	trendExample := SearchHit{
		ID: "ex2", Content: "Q: per month? A: SELECT date_trunc(...)", Score: 0.8,
		Metadata: map[string]string{"kind": "example", "intents": "trend"},
	}
	untagged := SearchHit{
		ID: "ex3", Content: "Q: anything A: SELECT 1", Score: 0.8,
		Metadata: map[string]string{"kind": "example"},
	}
	r := newTestRetriever(t, &Config{
		Embedder: &mockEmbedder{},
		Store:    &mockStore{hits: []SearchHit{countExample, trendExample, untagged}},
	})

	rctx := r.Retrieve(context.Background(), "how many admissions", intent.Result{Kind: intent.KindCount}, 0, nil)

	ids := make([]string, 0, len(rctx.Elements))
	for _, el := range rctx.Elements {
		ids = append(ids, el.ID)
	}
	assert.Contains(t, ids, "ex1")
	assert.Contains(t, ids, "ex3")
	assert.NotContains(t, ids, "ex2")
}

func TestFitBudget_SkipsOversizedElements(t *testing.T) {
	elements := []Element{
		{ID: "big", Content: strings.Repeat("x", 4000), Score: 0.9, Kind: KindRule, Rule: &RuleMeta{}},
		{ID: "small", Content: strings.Repeat("x", 100), Score: 0.8, Kind: KindRule, Rule: &RuleMeta{}},
	}

	kept, tokens := fitBudget(elements, 200)
	require.Len(t, kept, 1)
	assert.Equal(t, "small", kept[0].ID)
	assert.LessOrEqual(t, tokens, 200)
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "how many patients", NormalizeText("  How   MANY\tpatients  "))
}

func TestCachedEmbedder_HitsOnNormalizedText(t *testing.T) {
	inner := &mockEmbedder{}
	cached := NewCachedEmbedder(inner, 0)

	ctx := context.Background()
	_, err := cached.Embed(ctx, "How many patients?")
	require.NoError(t, err)
	_, err = cached.Embed(ctx, "  how   many patients?  ")
	require.NoError(t, err)

	assert.Equal(t, 1, inner.calls)
}
