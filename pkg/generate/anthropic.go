package generate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"golang.org/x/time/rate"
)

// AnthropicGenerator implements Generator using the Anthropic API. Calls are
// throttled through a token-bucket limiter so a burst of requests cannot
// exhaust the backend quota.
type AnthropicGenerator struct {
	client  anthropic.Client
	model   anthropic.Model
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewAnthropicGenerator creates a generator for the given model. callsPerMin
// caps the request rate; zero disables throttling.
func NewAnthropicGenerator(log *slog.Logger, model anthropic.Model, callsPerMin int) *AnthropicGenerator {
	var limiter *rate.Limiter
	if callsPerMin > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(callsPerMin)/60.0), callsPerMin)
	}
	return &AnthropicGenerator{
		client:  anthropic.NewClient(),
		model:   model,
		limiter: limiter,
		log:     log,
	}
}

// Generate sends the prompt and returns the completion text.
func (g *AnthropicGenerator) Generate(ctx context.Context, req Request) (string, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limit wait canceled: %w", err)
		}
	}

	start := time.Now()
	params := anthropic.MessageNewParams{
		Model:     g.model,
		MaxTokens: req.MaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if len(req.StopSequences) > 0 {
		params.StopSequences = req.StopSequences
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	msg, err := g.client.Messages.New(ctx, params)
	duration := time.Since(start)
	if err != nil {
		g.log.Error("generate: backend call failed", "duration", duration, "error", err)
		return "", fmt.Errorf("generative backend error: %w", err)
	}
	g.log.Debug("generate: backend call completed", "duration", duration, "stopReason", msg.StopReason)

	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("no text content in completion")
}
