package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/askdb-dev/askdb/pkg/execguard"
	"github.com/askdb-dev/askdb/pkg/generate"
	"github.com/askdb-dev/askdb/pkg/intent"
	"github.com/askdb-dev/askdb/pkg/metrics"
	"github.com/askdb-dev/askdb/pkg/respcache"
	"github.com/askdb-dev/askdb/pkg/retrieval"
	"github.com/askdb-dev/askdb/pkg/schema"
	"github.com/askdb-dev/askdb/pkg/session"
	"github.com/askdb-dev/askdb/pkg/validate"
)

const (
	defaultMaxQueryLength = 2000
	defaultRequestTimeout = 2 * time.Minute
)

// Config wires the pipeline's collaborators. All stateful services (breaker,
// caches, sessions) are constructed by the caller and injected; the pipeline
// never owns ambient singletons.
type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock

	Analyzer    *intent.Analyzer
	Retriever   *retrieval.Retriever
	Generator   *generate.Controller
	Validator   *validate.Validator
	Executor    *execguard.Executor
	Synthesizer *Synthesizer
	Schema      *schema.Provider
	Sessions    *session.Store
	Cache       *respcache.Cache

	// Embedder, when set, is warmed concurrently with intent analysis so the
	// retriever's embedding lookup hits the cache.
	Embedder retrieval.Embedder

	MaxQueryLength int
	RequestTimeout time.Duration
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Analyzer == nil {
		return errors.New("intent analyzer is required")
	}
	if c.Retriever == nil {
		return errors.New("retriever is required")
	}
	if c.Generator == nil {
		return errors.New("generation controller is required")
	}
	if c.Validator == nil {
		return errors.New("validator is required")
	}
	if c.Executor == nil {
		return errors.New("executor is required")
	}
	if c.Synthesizer == nil {
		return errors.New("synthesizer is required")
	}
	if c.Schema == nil {
		return errors.New("schema provider is required")
	}
	if c.Sessions == nil {
		return errors.New("session store is required")
	}
	if c.Cache == nil {
		return errors.New("response cache is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.MaxQueryLength == 0 {
		c.MaxQueryLength = defaultMaxQueryLength
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	return nil
}

// Pipeline answers natural-language questions against the datastore. Each
// Process call is an independent task; shared state lives in the injected
// services.
type Pipeline struct {
	cfg *Config
	log *slog.Logger
}

// New creates a Pipeline.
func New(cfg *Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate pipeline config: %w", err)
	}
	return &Pipeline{cfg: cfg, log: cfg.Logger}, nil
}

// History exposes the session history read accessor for display layers.
func (p *Pipeline) History(sessionID string) []session.Turn {
	return p.cfg.Sessions.History(sessionID)
}

// Process runs one question end to end and returns exactly one of a response,
// a clarification request, or an error result.
func (p *Pipeline) Process(ctx context.Context, queryText, sessionID string) Outcome {
	start := p.cfg.Clock.Now()
	queryID := uuid.NewString()
	log := p.log.With("query_id", queryID, "session_id", sessionID)

	out := p.process(ctx, log, queryID, queryText, sessionID, start)

	elapsed := p.cfg.Clock.Since(start)
	metrics.QueryDuration.Observe(elapsed.Seconds())
	switch {
	case out.Response != nil:
		metrics.QueriesTotal.WithLabelValues("answered").Inc()
		log.Info("pipeline: answered",
			"latency", elapsed,
			"rows", out.Response.Result.RowCount,
			"cache_hit", out.Response.CacheHit)
	case out.Clarification != nil:
		metrics.QueriesTotal.WithLabelValues("clarification").Inc()
		log.Info("pipeline: clarification requested", "latency", elapsed)
	default:
		metrics.QueriesTotal.WithLabelValues("error").Inc()
		log.Warn("pipeline: failed",
			"latency", elapsed,
			"kind", out.Error.Kind,
			"trace_id", out.Error.TraceID)
	}
	return out
}

func (p *Pipeline) process(ctx context.Context, log *slog.Logger, queryID, queryText, sessionID string, start time.Time) Outcome {
	queryText = strings.TrimSpace(queryText)
	if queryText == "" {
		return fail(inputError(queryID, "query text is empty"))
	}
	if len(queryText) > p.cfg.MaxQueryLength {
		return fail(inputError(queryID, fmt.Sprintf("query text exceeds %d characters", p.cfg.MaxQueryLength)))
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	snap, err := p.cfg.Schema.Snapshot(ctx)
	if err != nil {
		log.Error("pipeline: schema snapshot unavailable", "error", err)
		return fail(internalError(queryID))
	}

	if entry, ok := p.cfg.Cache.Get(queryText, snap.Version); ok {
		return respond(&Response{
			QueryID:   queryID,
			Question:  queryText,
			Statement: entry.Statement,
			Result:    entry.Result,
			Answer:    entry.Answer,
			Latency:   p.cfg.Clock.Since(start),
			CacheHit:  true,
		})
	}

	history := p.cfg.Sessions.History(sessionID)
	priorQuestions := make([]string, 0, len(history))
	for _, turn := range history {
		priorQuestions = append(priorQuestions, turn.Question)
	}

	// Intent analysis is pure; the embedding is the expensive external call.
	// Warming it here lets the retriever's lookup hit the cache.
	var res intent.Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res = p.cfg.Analyzer.Analyze(queryText, priorQuestions, snap.TableNames())
		return nil
	})
	if p.cfg.Embedder != nil {
		g.Go(func() error {
			if _, err := p.cfg.Embedder.Embed(gctx, queryText); err != nil {
				log.Warn("pipeline: embedding warm-up failed", "error", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Error("pipeline: analysis failed", "error", err)
		return fail(internalError(queryID))
	}

	if res.Ambiguous(p.cfg.Analyzer.MinConfidence()) {
		return clarify(&ClarificationRequest{
			QueryID:    queryID,
			Question:   queryText,
			Intent:     res,
			Questions:  intent.ClarificationQuestions(res),
			Confidence: res.Confidence,
		})
	}

	rctx := p.cfg.Retriever.Retrieve(ctx, queryText, res, len(history), snap)

	in := generate.Input{
		Question: queryText,
		Context:  rctx,
		History:  toMessages(history),
		Snapshot: snap,
	}
	stmt, err := p.cfg.Generator.Generate(ctx, in)
	if err != nil {
		return fail(generationError(queryID, err))
	}

	stmt, vr, errOut := p.validateWithRetry(ctx, log, queryID, in, stmt)
	if errOut != nil {
		return fail(errOut)
	}
	metrics.GenerationAttempts.Observe(float64(stmt.Attempt))

	result, err := p.cfg.Executor.Execute(ctx, vr.Statement)
	if err != nil {
		return fail(executionError(queryID, err))
	}
	for _, issue := range vr.Issues {
		if issue.Severity == validate.SeverityWarning {
			result.Warnings = append(result.Warnings, issue.Message)
		}
	}

	answer := p.cfg.Synthesizer.Synthesize(ctx, queryText, result)

	response := &Response{
		QueryID:   queryID,
		Question:  queryText,
		Statement: vr.Statement,
		Result:    result,
		Answer:    answer,
		Latency:   p.cfg.Clock.Since(start),
	}

	p.cfg.Cache.Set(queryText, snap.Version, respcache.Entry{
		Answer:    answer,
		Statement: vr.Statement,
		Result:    result,
		CachedAt:  p.cfg.Clock.Now(),
	})
	p.cfg.Sessions.Append(sessionID, session.Turn{
		QueryID:   queryID,
		Question:  queryText,
		Answer:    answer,
		Statement: vr.Statement,
		At:        p.cfg.Clock.Now(),
	})

	return respond(response)
}

// validateWithRetry validates the statement and permits exactly one
// corrective regeneration, and only for schema-existence errors. Security
// criticals terminate the request immediately.
func (p *Pipeline) validateWithRetry(ctx context.Context, log *slog.Logger, queryID string, in generate.Input, stmt *generate.Statement) (*generate.Statement, *validate.Result, *ErrorResult) {
	vr := p.cfg.Validator.Validate(ctx, stmt.SQL, in.Snapshot)
	if vr.Passed {
		return stmt, vr, nil
	}
	if vr.SecurityCritical() {
		return nil, nil, validationError(queryID, vr)
	}

	schemaIssues := vr.SchemaErrors()
	if len(schemaIssues) == 0 {
		return nil, nil, validationError(queryID, vr)
	}

	feedback := schemaFeedback(schemaIssues)
	log.Info("pipeline: regenerating after schema validation failure", "feedback", feedback)

	regenerated, err := p.cfg.Generator.Regenerate(ctx, in, stmt, feedback)
	if err != nil {
		return nil, nil, generationError(queryID, err)
	}
	vr = p.cfg.Validator.Validate(ctx, regenerated.SQL, in.Snapshot)
	if !vr.Passed {
		return nil, nil, validationError(queryID, vr)
	}
	return regenerated, vr, nil
}

func schemaFeedback(issues []validate.Issue) string {
	parts := make([]string, 0, len(issues))
	for _, issue := range issues {
		part := issue.Message
		if len(issue.Suggestions) > 0 {
			part += " (did you mean: " + strings.Join(issue.Suggestions, ", ") + "?)"
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, "; ")
}

func toMessages(history []session.Turn) []generate.Message {
	msgs := make([]generate.Message, 0, len(history)*2)
	for _, turn := range history {
		msgs = append(msgs, generate.Message{Role: "user", Content: turn.Question})
		msgs = append(msgs, generate.Message{Role: "assistant", Content: turn.Answer})
	}
	return msgs
}
