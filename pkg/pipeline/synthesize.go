package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/askdb-dev/askdb/pkg/execguard"
	"github.com/askdb-dev/askdb/pkg/generate"
	"github.com/askdb-dev/askdb/pkg/generate/prompts"
)

const (
	// synthesisRowLimit caps the rows shown to the backend; more adds cost
	// without improving the narrative.
	synthesisRowLimit = 20

	defaultSynthesisMaxTokens = 512
)

// Synthesizer turns an execution result into a short natural-language answer.
// It degrades to a fixed template when the generative backend fails, so a
// successful execution never becomes a failed request at this stage.
type Synthesizer struct {
	log       *slog.Logger
	generator generate.Generator
	template  string
	maxTokens int64
}

// NewSynthesizer loads the embedded synthesis prompt.
func NewSynthesizer(log *slog.Logger, generator generate.Generator) (*Synthesizer, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if generator == nil {
		return nil, errors.New("generator is required")
	}
	data, err := prompts.PromptsFS.ReadFile("SYNTHESIZE.md")
	if err != nil {
		return nil, fmt.Errorf("failed to load SYNTHESIZE prompt: %w", err)
	}
	return &Synthesizer{
		log:       log,
		generator: generator,
		template:  strings.TrimSpace(string(data)),
		maxTokens: defaultSynthesisMaxTokens,
	}, nil
}

// Synthesize produces the answer text for a finished execution.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, result *execguard.Result) string {
	prompt := s.buildPrompt(question, result)

	answer, err := s.generator.Generate(ctx, generate.Request{
		Prompt:    prompt,
		MaxTokens: s.maxTokens,
	})
	if err != nil {
		s.log.Warn("synthesize: backend failed, using template answer", "error", err)
		return templateAnswer(result)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return templateAnswer(result)
	}
	return answer
}

func (s *Synthesizer) buildPrompt(question string, result *execguard.Result) string {
	var b strings.Builder
	b.WriteString(s.template)
	b.WriteString("\n\n# Question\n\n")
	b.WriteString(question)
	b.WriteString("\n\n# Results\n\n")
	fmt.Fprintf(&b, "%d rows returned", result.RowCount)
	if !result.Complete {
		b.WriteString(" (partial result set)")
	}
	b.WriteString("\n\n")
	b.WriteString(renderRows(result, synthesisRowLimit))
	for _, w := range result.Warnings {
		b.WriteString("\nWarning: ")
		b.WriteString(w)
	}
	b.WriteString("\n\n# Answer\n")
	return b.String()
}

// renderRows formats up to limit rows as an ASCII table.
func renderRows(result *execguard.Result, limit int) string {
	if len(result.Rows) == 0 {
		return "(no rows)"
	}

	var b strings.Builder
	table := tablewriter.NewWriter(&b)
	table.SetHeader(result.Columns)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)

	for i, row := range result.Rows {
		if i == limit {
			break
		}
		cells := make([]string, len(result.Columns))
		for j, col := range result.Columns {
			cells[j] = fmt.Sprintf("%v", row[col])
		}
		table.Append(cells)
	}
	table.Render()

	if len(result.Rows) > limit {
		fmt.Fprintf(&b, "... and %d more rows\n", len(result.Rows)-limit)
	}
	return b.String()
}

// templateAnswer is the degraded answer used when synthesis is unavailable.
func templateAnswer(result *execguard.Result) string {
	switch {
	case result.RowCount == 0:
		return "The query ran successfully but returned no rows."
	case len(result.Rows) == 0:
		return fmt.Sprintf("The query matched approximately %d rows. The result set was too large to display; add a filter or export it instead.", result.RowCount)
	case result.RowCount == 1 && len(result.Columns) == 1:
		return fmt.Sprintf("Result: %v.", result.Rows[0][result.Columns[0]])
	case result.Complete:
		return fmt.Sprintf("The query returned %d rows.", result.RowCount)
	default:
		return fmt.Sprintf("The query returned %d rows (result may be truncated).", result.RowCount)
	}
}
