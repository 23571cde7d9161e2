// Package schema provides a cached snapshot of the target database schema:
// tables, columns, foreign-key relationships and row-count estimates. The
// snapshot feeds the retriever's relationship graph, the validator's
// existence and cost checks, and response-cache invalidation.
package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// Column describes one column of a table.
type Column struct {
	Name        string
	DataType    string
	Nullable    bool
	Description string
}

// ForeignKey declares a relationship from a column of its owning table to a
// column of another table.
type ForeignKey struct {
	Column    string
	RefTable  string
	RefColumn string
}

// Table describes one table, its columns and outgoing foreign keys.
type Table struct {
	Name        string
	Description string
	RowEstimate int64
	Columns     []Column
	ForeignKeys []ForeignKey
}

// Snapshot is an immutable view of the schema at a point in time. Version is
// a content-derived token: two snapshots with equal versions describe the
// same schema.
type Snapshot struct {
	Version string
	Tables  map[string]*Table
}

// NewSnapshot builds a snapshot from tables and computes its version token.
func NewSnapshot(tables []*Table) *Snapshot {
	byName := make(map[string]*Table, len(tables))
	for _, t := range tables {
		byName[strings.ToLower(t.Name)] = t
	}
	return &Snapshot{
		Version: versionToken(tables),
		Tables:  byName,
	}
}

func versionToken(tables []*Table) string {
	parts := make([]string, 0, len(tables))
	for _, t := range tables {
		cols := make([]string, 0, len(t.Columns))
		for _, c := range t.Columns {
			cols = append(cols, c.Name+":"+c.DataType)
		}
		parts = append(parts, fmt.Sprintf("%s(%s)", strings.ToLower(t.Name), strings.Join(cols, ",")))
	}
	sort.Strings(parts)
	sum := sha256.Sum256([]byte(strings.Join(parts, ";")))
	return hex.EncodeToString(sum[:8])
}

// TableExists reports whether the named table is present. Matching is
// case-insensitive, like the target dialect's unquoted identifiers.
func (s *Snapshot) TableExists(name string) bool {
	_, ok := s.Tables[strings.ToLower(name)]
	return ok
}

// ColumnExists reports whether table.column is present.
func (s *Snapshot) ColumnExists(table, column string) bool {
	t, ok := s.Tables[strings.ToLower(table)]
	if !ok {
		return false
	}
	column = strings.ToLower(column)
	for _, c := range t.Columns {
		if strings.ToLower(c.Name) == column {
			return true
		}
	}
	return false
}

// Table returns the named table, or nil.
func (s *Snapshot) Table(name string) *Table {
	return s.Tables[strings.ToLower(name)]
}

// TableNames returns all table names in sorted order.
func (s *Snapshot) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for name := range s.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RowEstimate returns the planner's row-count estimate for a table, or 0 when
// the table is unknown.
func (s *Snapshot) RowEstimate(name string) int64 {
	if t := s.Table(name); t != nil {
		return t.RowEstimate
	}
	return 0
}

// SuggestSimilar returns up to limit known table names ranked by edit
// distance to the unknown name. Names further than a third of their length
// (minimum 2 edits) are not suggested.
func (s *Snapshot) SuggestSimilar(name string, limit int) []string {
	candidates := make([]string, 0, len(s.Tables))
	for candidate := range s.Tables {
		candidates = append(candidates, candidate)
	}
	return rankSimilar(name, candidates, limit)
}

// SuggestSimilarColumn returns up to limit column names of the table ranked
// by edit distance to the unknown column name, with the same cutoff as
// SuggestSimilar. An unknown table yields nothing.
func (s *Snapshot) SuggestSimilarColumn(table, column string, limit int) []string {
	t := s.Table(table)
	if t == nil {
		return nil
	}
	candidates := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		candidates = append(candidates, strings.ToLower(c.Name))
	}
	return rankSimilar(column, candidates, limit)
}

func rankSimilar(name string, candidates []string, limit int) []string {
	name = strings.ToLower(name)

	type ranked struct {
		name string
		dist int
	}
	matches := make([]ranked, 0, len(candidates))
	for _, candidate := range candidates {
		dist := fuzzy.LevenshteinDistance(name, candidate)
		cutoff := max(2, len(candidate)/3)
		if dist <= cutoff {
			matches = append(matches, ranked{candidate, dist})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].dist != matches[j].dist {
			return matches[i].dist < matches[j].dist
		}
		return matches[i].name < matches[j].name
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}
	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = m.name
	}
	return names
}
