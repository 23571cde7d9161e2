// Package generate builds prompts from retrieved context, invokes the
// generative backend, parses the returned statement, and drives the bounded
// retry loop that corrects hallucinated schema references.
package generate

import "context"

// Complexity is the structural tier of a generated statement.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// Statement is one generated, parsed statement.
type Statement struct {
	SQL              string
	Dialect          string
	Complexity       Complexity
	ReferencedTables []string
	Attempt          int
	Confidence       float64
}

// Message is one turn of the conversation window included in the prompt.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// Request carries everything the generative backend needs for one call.
type Request struct {
	Prompt        string
	StopSequences []string
	MaxTokens     int64
	Temperature   float64
}

// Generator is the external generative backend. Implementations must honor
// the context deadline.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}
