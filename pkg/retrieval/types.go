// Package retrieval assembles the ranked, token-bounded set of schema facts
// that grounds statement generation. It combines an external embedding
// service and vector-similarity search with relationship-aware table
// selection over the schema snapshot's foreign keys.
package retrieval

import "strings"

// ElementKind is the closed set of context element kinds.
type ElementKind string

const (
	KindTable        ElementKind = "table"
	KindColumn       ElementKind = "column"
	KindRelationship ElementKind = "relationship"
	KindExample      ElementKind = "example"
	KindRule         ElementKind = "rule"
)

// TableMeta is the payload carried by table elements.
type TableMeta struct {
	Name        string
	RowEstimate int64
}

// ColumnMeta is the payload carried by column elements.
type ColumnMeta struct {
	Table    string
	Name     string
	DataType string
}

// RelationshipMeta is the payload carried by relationship elements.
type RelationshipMeta struct {
	FromTable  string
	FromColumn string
	ToTable    string
	ToColumn   string
}

// ExampleMeta is the payload carried by example elements: a past question and
// the statement that answered it, tagged with the intent kinds it fits.
type ExampleMeta struct {
	Question string
	Intents  []string
}

// RuleMeta is the payload carried by rule elements.
type RuleMeta struct {
	RuleID string
}

// Element is one retrieved schema fact. Kind selects which metadata pointer
// is set; the others are nil.
type Element struct {
	ID      string
	Kind    ElementKind
	Content string
	Score   float64

	Table        *TableMeta
	Column       *ColumnMeta
	Relationship *RelationshipMeta
	Example      *ExampleMeta
	Rule         *RuleMeta
}

// Context is the assembled retrieval context for one query.
type Context struct {
	Query      string
	Elements   []Element
	TokenCount int
}

// TableNames returns the distinct table names present in the context, in
// element order.
func (c *Context) TableNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, el := range c.Elements {
		if el.Kind == KindTable && el.Table != nil {
			name := strings.ToLower(el.Table.Name)
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	return names
}

// MeanScore returns the average similarity score across elements, or 0 for an
// empty context.
func (c *Context) MeanScore() float64 {
	if len(c.Elements) == 0 {
		return 0
	}
	var sum float64
	for _, el := range c.Elements {
		sum += el.Score
	}
	return sum / float64(len(c.Elements))
}

// Empty reports whether retrieval produced no usable facts (degraded mode).
func (c *Context) Empty() bool {
	return len(c.Elements) == 0
}
