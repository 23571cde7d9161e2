package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/askdb-dev/askdb/pkg/intent"
	"github.com/askdb-dev/askdb/pkg/schema"
)

const (
	defaultTokenBudget         = 2000
	defaultPromptHeadroom      = 400
	defaultSimilarityThreshold = 0.35
	defaultBaseTopK            = 5
	defaultExpandedTopK        = 15
	defaultMaxTables           = 6
	defaultMaxWalkDepth        = 2
)

// Config configures a Retriever.
type Config struct {
	Logger   *slog.Logger
	Embedder Embedder
	Store    VectorStore

	// TokenBudget caps the estimated token size of the assembled context.
	// PromptHeadroom is reserved inside the budget for fixed prompt overhead.
	TokenBudget    int
	PromptHeadroom int

	// SimilarityThreshold drops candidates scoring below it.
	SimilarityThreshold float64

	// BaseTopK is used for simple, history-free queries; ExpandedTopK for
	// multi-clause or join-indicating ones.
	BaseTopK     int
	ExpandedTopK int

	// MaxTables caps relationship-aware table selection; MaxWalkDepth bounds
	// the foreign-key walk.
	MaxTables    int
	MaxWalkDepth int
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Embedder == nil {
		return errors.New("embedder is required")
	}
	if c.Store == nil {
		return errors.New("vector store is required")
	}
	if c.TokenBudget == 0 {
		c.TokenBudget = defaultTokenBudget
	}
	if c.PromptHeadroom == 0 {
		c.PromptHeadroom = defaultPromptHeadroom
	}
	if c.PromptHeadroom >= c.TokenBudget {
		return fmt.Errorf("prompt headroom %d must be below the token budget %d", c.PromptHeadroom, c.TokenBudget)
	}
	if c.SimilarityThreshold == 0 {
		c.SimilarityThreshold = defaultSimilarityThreshold
	}
	if c.BaseTopK == 0 {
		c.BaseTopK = defaultBaseTopK
	}
	if c.ExpandedTopK == 0 {
		c.ExpandedTopK = defaultExpandedTopK
	}
	if c.MaxTables == 0 {
		c.MaxTables = defaultMaxTables
	}
	if c.MaxWalkDepth == 0 {
		c.MaxWalkDepth = defaultMaxWalkDepth
	}
	return nil
}

// Retriever assembles retrieval contexts.
type Retriever struct {
	cfg *Config
	log *slog.Logger
}

// New creates a Retriever.
func New(cfg *Config) (*Retriever, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate retriever config: %w", err)
	}
	return &Retriever{cfg: cfg, log: cfg.Logger}, nil
}

// Retrieve builds the context for one query. If the embedding service or the
// vector store is unavailable it returns an empty context rather than an
// error: generation proceeds degraded instead of failing the request.
func (r *Retriever) Retrieve(ctx context.Context, queryText string, res intent.Result, historyLen int, snap *schema.Snapshot) *Context {
	out := &Context{Query: queryText}

	vector, err := r.cfg.Embedder.Embed(ctx, queryText)
	if err != nil {
		r.log.Warn("retrieval: embedding unavailable, proceeding with empty context", "error", err)
		return out
	}

	topK := r.cfg.BaseTopK
	if historyLen > 0 || joinIndicating(queryText, res) {
		topK = r.cfg.ExpandedTopK
	}

	hits, err := r.cfg.Store.Search(ctx, vector, topK, nil)
	if err != nil {
		r.log.Warn("retrieval: vector store unavailable, proceeding with empty context", "error", err)
		return out
	}

	// Threshold filter, then categorize into typed elements.
	var tables, columns, relationships, examples, rules []Element
	for _, hit := range hits {
		if hit.Score < r.cfg.SimilarityThreshold {
			continue
		}
		el, ok := elementFromHit(hit)
		if !ok {
			continue
		}
		switch el.Kind {
		case KindTable:
			tables = append(tables, el)
		case KindColumn:
			columns = append(columns, el)
		case KindRelationship:
			relationships = append(relationships, el)
		case KindExample:
			examples = append(examples, el)
		case KindRule:
			rules = append(rules, el)
		}
	}

	selected := r.selectTables(tables, snap)
	selectedSet := make(map[string]bool, len(selected))
	for _, t := range selected {
		selectedSet[strings.ToLower(t.Table.Name)] = true
	}

	candidates := make([]Element, 0, len(hits))
	candidates = append(candidates, selected...)
	for _, col := range columns {
		if col.Column != nil && selectedSet[strings.ToLower(col.Column.Table)] {
			candidates = append(candidates, col)
		}
	}
	for _, rel := range relationships {
		if rel.Relationship != nil &&
			selectedSet[strings.ToLower(rel.Relationship.FromTable)] &&
			selectedSet[strings.ToLower(rel.Relationship.ToTable)] {
			candidates = append(candidates, rel)
		}
	}
	for _, ex := range examples {
		if matchesIntent(ex, res.Kind) {
			candidates = append(candidates, ex)
		}
	}
	candidates = append(candidates, rules...)

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	effectiveBudget := r.cfg.TokenBudget - r.cfg.PromptHeadroom
	out.Elements, out.TokenCount = fitBudget(candidates, effectiveBudget)

	r.log.Debug("retrieval: context assembled",
		"candidates", len(candidates),
		"kept", len(out.Elements),
		"tokens", out.TokenCount,
		"topK", topK)
	return out
}

// selectTables performs relationship-aware selection: starting from the
// highest-scoring candidate table, a bounded breadth-first walk over declared
// foreign keys pulls in join-relevant candidates before falling back to pure
// similarity order, capped at MaxTables.
func (r *Retriever) selectTables(tables []Element, snap *schema.Snapshot) []Element {
	if len(tables) == 0 {
		return nil
	}

	sort.SliceStable(tables, func(i, j int) bool {
		return tables[i].Score > tables[j].Score
	})

	byName := make(map[string]Element, len(tables))
	for _, t := range tables {
		if t.Table != nil {
			byName[strings.ToLower(t.Table.Name)] = t
		}
	}

	var selected []Element
	selectedSet := make(map[string]bool)
	take := func(name string) {
		if len(selected) >= r.cfg.MaxTables || selectedSet[name] {
			return
		}
		if el, ok := byName[name]; ok {
			selected = append(selected, el)
			selectedSet[name] = true
		}
	}

	seed := strings.ToLower(tables[0].Table.Name)
	take(seed)

	if snap != nil {
		frontier := []string{seed}
		for depth := 0; depth < r.cfg.MaxWalkDepth && len(frontier) > 0 && len(selected) < r.cfg.MaxTables; depth++ {
			var next []string
			for _, name := range frontier {
				for _, neighbor := range neighborTables(snap, name) {
					if _, candidate := byName[neighbor]; candidate && !selectedSet[neighbor] {
						take(neighbor)
						next = append(next, neighbor)
					}
				}
			}
			frontier = next
		}
	}

	// Fall back to similarity order for any remaining capacity.
	for _, t := range tables {
		if len(selected) >= r.cfg.MaxTables {
			break
		}
		take(strings.ToLower(t.Table.Name))
	}
	return selected
}

// neighborTables returns tables connected to name by a foreign key in either
// direction.
func neighborTables(snap *schema.Snapshot, name string) []string {
	var neighbors []string
	if t := snap.Table(name); t != nil {
		for _, fk := range t.ForeignKeys {
			neighbors = append(neighbors, strings.ToLower(fk.RefTable))
		}
	}
	for other, t := range snap.Tables {
		if other == name {
			continue
		}
		for _, fk := range t.ForeignKeys {
			if strings.ToLower(fk.RefTable) == name {
				neighbors = append(neighbors, other)
				break
			}
		}
	}
	return neighbors
}

func matchesIntent(example Element, kind intent.Kind) bool {
	if example.Example == nil || len(example.Example.Intents) == 0 {
		return true
	}
	for _, tag := range example.Example.Intents {
		if strings.EqualFold(tag, string(kind)) {
			return true
		}
	}
	return false
}

// joinIndicating reports whether the query likely needs joins or spans
// multiple clauses.
func joinIndicating(queryText string, res intent.Result) bool {
	if len(res.Entities[intent.EntityTableHint]) > 1 {
		return true
	}
	if res.Kind == intent.KindComparison {
		return true
	}
	lower := strings.ToLower(queryText)
	for _, cue := range []string{" join ", " with their ", " along with ", " grouped by ", " for each ", " and their ", " broken down by "} {
		if strings.Contains(lower, cue) {
			return true
		}
	}
	return strings.Count(lower, ",") >= 2
}

// elementFromHit converts a raw search hit into a typed element. Unknown or
// malformed kinds are dropped.
func elementFromHit(hit SearchHit) (Element, bool) {
	el := Element{
		ID:      hit.ID,
		Content: hit.Content,
		Score:   hit.Score,
	}
	switch ElementKind(hit.Metadata["kind"]) {
	case KindTable:
		rowEstimate, _ := strconv.ParseInt(hit.Metadata["row_estimate"], 10, 64)
		name := hit.Metadata["table"]
		if name == "" {
			return Element{}, false
		}
		el.Kind = KindTable
		el.Table = &TableMeta{Name: name, RowEstimate: rowEstimate}
	case KindColumn:
		table, column := hit.Metadata["table"], hit.Metadata["column"]
		if table == "" || column == "" {
			return Element{}, false
		}
		el.Kind = KindColumn
		el.Column = &ColumnMeta{Table: table, Name: column, DataType: hit.Metadata["data_type"]}
	case KindRelationship:
		from, to := hit.Metadata["from_table"], hit.Metadata["to_table"]
		if from == "" || to == "" {
			return Element{}, false
		}
		el.Kind = KindRelationship
		el.Relationship = &RelationshipMeta{
			FromTable:  from,
			FromColumn: hit.Metadata["from_column"],
			ToTable:    to,
			ToColumn:   hit.Metadata["to_column"],
		}
	case KindExample:
		el.Kind = KindExample
		meta := &ExampleMeta{Question: hit.Metadata["question"]}
		if tags := hit.Metadata["intents"]; tags != "" {
			meta.Intents = strings.Split(tags, ",")
		}
		el.Example = meta
	case KindRule:
		el.Kind = KindRule
		el.Rule = &RuleMeta{RuleID: hit.Metadata["rule_id"]}
	default:
		return Element{}, false
	}
	return el, true
}
