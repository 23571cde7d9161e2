package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/askdb-dev/askdb/pkg/generate/prompts"
	"github.com/askdb-dev/askdb/pkg/retrieval"
	"github.com/askdb-dev/askdb/pkg/schema"
)

const (
	defaultMaxAttempts     = 2
	defaultMaxOutputTokens = 1024
	defaultDialect         = "postgresql"
)

// ErrNoStatement is returned when the backend refuses (NO_SQL) or produces no
// parseable statement.
var ErrNoStatement = errors.New("backend produced no statement")

// ErrAttemptsExhausted is returned when the retry budget runs out before a
// statement passes the schema pre-check.
var ErrAttemptsExhausted = errors.New("generation attempts exhausted")

// Config configures a Controller.
type Config struct {
	Logger    *slog.Logger
	Generator Generator

	Dialect         string
	MaxAttempts     int
	MaxOutputTokens int64
	Temperature     float64
	StopSequences   []string
	MaxHistoryTurns int
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Generator == nil {
		return errors.New("generator is required")
	}
	if c.Dialect == "" {
		c.Dialect = defaultDialect
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.MaxOutputTokens == 0 {
		c.MaxOutputTokens = defaultMaxOutputTokens
	}
	if c.MaxHistoryTurns == 0 {
		c.MaxHistoryTurns = 4
	}
	return nil
}

// Input is everything one generation needs.
type Input struct {
	Question string
	Context  *retrieval.Context
	History  []Message
	Snapshot *schema.Snapshot
}

// Controller drives the generation retry loop.
type Controller struct {
	cfg      *Config
	log      *slog.Logger
	template string
}

// New creates a Controller, loading the embedded generation prompt.
func New(cfg *Config) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate generation config: %w", err)
	}
	data, err := prompts.PromptsFS.ReadFile("GENERATE.md")
	if err != nil {
		return nil, fmt.Errorf("failed to load GENERATE prompt: %w", err)
	}
	template := strings.Replace(strings.TrimSpace(string(data)), "{{DIALECT}}", cfg.Dialect, 1)
	return &Controller{cfg: cfg, log: cfg.Logger, template: template}, nil
}

// Generate produces a statement for the question, retrying once with
// corrective context when the cheap schema pre-check finds hallucinated
// tables. The retry state is explicit: attempt counter plus last failure.
func (c *Controller) Generate(ctx context.Context, in Input) (*Statement, error) {
	var lastFeedback string
	var lastErr error

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		stmt, err := c.attempt(ctx, in, attempt, lastFeedback)
		if err != nil {
			lastErr = err
			// A refusal or parse failure is not improved by the same
			// corrective loop; retry once with a nudge if budget remains.
			if errors.Is(err, ErrNoStatement) && attempt < c.cfg.MaxAttempts {
				lastFeedback = "The previous attempt returned no usable statement. Answer with a single read-only SQL query, or NO_SQL only if the schema truly cannot answer the question."
				continue
			}
			return nil, err
		}

		missing := c.missingTables(stmt, in.Snapshot)
		if len(missing) == 0 {
			return stmt, nil
		}

		lastErr = fmt.Errorf("%w: unknown tables %s", ErrAttemptsExhausted, strings.Join(missing, ", "))
		if attempt < c.cfg.MaxAttempts {
			lastFeedback = c.correctionFor(missing, in.Snapshot, stmt.SQL)
			c.log.Info("generate: schema pre-check failed, retrying",
				"attempt", attempt,
				"missing", strings.Join(missing, ","))
		}
	}
	return nil, lastErr
}

// Regenerate performs one corrective attempt driven by validator feedback
// (schema-existence errors). The attempt counter continues from the failed
// statement and never exceeds the configured maximum.
func (c *Controller) Regenerate(ctx context.Context, in Input, failed *Statement, feedback string) (*Statement, error) {
	if failed.Attempt >= c.cfg.MaxAttempts {
		return nil, ErrAttemptsExhausted
	}
	correction := fmt.Sprintf("The previous statement failed validation: %s\n\nPrevious statement:\n%s\n\nGenerate a corrected statement that avoids this problem.", feedback, failed.SQL)
	return c.attempt(ctx, in, failed.Attempt+1, correction)
}

func (c *Controller) attempt(ctx context.Context, in Input, attempt int, correction string) (*Statement, error) {
	prompt := c.buildPrompt(in, correction)

	completion, err := c.cfg.Generator.Generate(ctx, Request{
		Prompt:        prompt,
		StopSequences: c.cfg.StopSequences,
		MaxTokens:     c.cfg.MaxOutputTokens,
		Temperature:   c.cfg.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("generation call failed: %w", err)
	}

	sql, ok := ExtractStatement(completion)
	if !ok {
		return nil, ErrNoStatement
	}

	stmt := &Statement{
		SQL:              sql,
		Dialect:          c.cfg.Dialect,
		Complexity:       Classify(sql),
		ReferencedTables: ReferencedTables(sql),
		Attempt:          attempt,
	}
	stmt.Confidence = c.confidence(stmt, in)
	return stmt, nil
}

// buildPrompt assembles the structured prompt: role instruction, schema
// facts, rules, examples, recent turns, the question, and (on retry) an
// explicit correction section.
func (c *Controller) buildPrompt(in Input, correction string) string {
	var b strings.Builder
	b.WriteString(c.template)

	var facts, rules, examples []string
	if in.Context != nil {
		for _, el := range in.Context.Elements {
			switch el.Kind {
			case retrieval.KindRule:
				rules = append(rules, el.Content)
			case retrieval.KindExample:
				examples = append(examples, el.Content)
			default:
				facts = append(facts, el.Content)
			}
		}
	}

	b.WriteString("\n\n# Schema\n\n")
	if len(facts) == 0 {
		b.WriteString("(no schema context retrieved; rely only on tables the user names explicitly)\n")
	} else {
		for _, f := range facts {
			b.WriteString(f)
			b.WriteString("\n")
		}
	}

	if len(rules) > 0 {
		b.WriteString("\n# Rules\n\n")
		for _, r := range rules {
			b.WriteString("- " + r + "\n")
		}
	}

	if len(examples) > 0 {
		b.WriteString("\n# Examples\n\n")
		for _, ex := range examples {
			b.WriteString(ex)
			b.WriteString("\n\n")
		}
	}

	history := in.History
	if len(history) > c.cfg.MaxHistoryTurns {
		history = history[len(history)-c.cfg.MaxHistoryTurns:]
	}
	if len(history) > 0 {
		b.WriteString("\n# Recent conversation\n\n")
		for _, msg := range history {
			content := msg.Content
			if len(content) > 500 {
				content = content[:500] + "..."
			}
			if msg.Role == "user" {
				b.WriteString("User: " + content + "\n")
			} else {
				b.WriteString("Assistant: " + content + "\n")
			}
		}
	}

	if correction != "" {
		b.WriteString("\n# Correction\n\n")
		b.WriteString(correction)
		b.WriteString("\n")
	}

	b.WriteString("\n# Question\n\n")
	b.WriteString(in.Question)
	b.WriteString("\n\n# SQL\n")
	return b.String()
}

func (c *Controller) missingTables(stmt *Statement, snap *schema.Snapshot) []string {
	if snap == nil {
		return nil
	}
	var missing []string
	for _, table := range stmt.ReferencedTables {
		// Qualified names are checked by their final segment.
		name := table
		if idx := strings.LastIndex(name, "."); idx != -1 {
			name = name[idx+1:]
		}
		if !snap.TableExists(name) {
			missing = append(missing, table)
		}
	}
	return missing
}

func (c *Controller) correctionFor(missing []string, snap *schema.Snapshot, failedSQL string) string {
	var b strings.Builder
	for _, table := range missing {
		b.WriteString(fmt.Sprintf("Table %q does not exist.", table))
		if snap != nil {
			if suggestions := snap.SuggestSimilar(table, 3); len(suggestions) > 0 {
				b.WriteString(" Valid candidates: " + strings.Join(suggestions, ", ") + ".")
			}
		}
		b.WriteString("\n")
	}
	b.WriteString("\nPrevious statement:\n" + failedSQL + "\n\nUse only tables listed in the schema section.")
	return b.String()
}

// confidence combines the schema-match ratio, the mean context similarity,
// and a penalty for structural complexity.
func (c *Controller) confidence(stmt *Statement, in Input) float64 {
	matchRatio := 1.0
	if len(stmt.ReferencedTables) > 0 && in.Snapshot != nil {
		missing := len(c.missingTables(stmt, in.Snapshot))
		matchRatio = float64(len(stmt.ReferencedTables)-missing) / float64(len(stmt.ReferencedTables))
	}

	meanSim := 0.5
	if in.Context != nil && !in.Context.Empty() {
		meanSim = in.Context.MeanScore()
	}

	conf := 0.55*matchRatio + 0.35*meanSim + 0.10
	switch stmt.Complexity {
	case ComplexityModerate:
		conf -= 0.05
	case ComplexityComplex:
		conf -= 0.15
	}
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return conf
}
