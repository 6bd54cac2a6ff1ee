package llm

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/tidewater-labs/quarry/internal/core"
	"github.com/tidewater-labs/quarry/internal/core/token"
)

// CompletionMeta describes one completion call for response metadata and the
// conversation record.
type CompletionMeta struct {
	Provider   string
	Model      string
	TokensUsed int
	Cost       float64
	Latency    time.Duration
}

// CompletionClient wraps an LLM provider with rate limiting and usage
// accounting, mirroring what Gateway does for embeddings.
type CompletionClient struct {
	provider core.LLMProvider
	limiter  *rate.Limiter
	recorder UsageRecorder
	counter  *token.Counter
}

func NewCompletionClient(provider core.LLMProvider, recorder UsageRecorder, counter *token.Counter, requestsPerSec float64) *CompletionClient {
	if requestsPerSec <= 0 {
		requestsPerSec = 5
	}
	return &CompletionClient{
		provider: provider,
		limiter:  rate.NewLimiter(rate.Limit(requestsPerSec), 1),
		recorder: recorder,
		counter:  counter,
	}
}

func (c *CompletionClient) Provider() string { return c.provider.Name() }
func (c *CompletionClient) Model() string    { return c.provider.Model() }

// Complete generates a grounded answer and records the call in the ledger.
// Token usage is counted over prompt plus response text.
func (c *CompletionClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, CompletionMeta, error) {
	meta := CompletionMeta{Provider: c.provider.Name(), Model: c.provider.Model()}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", meta, err
	}

	start := time.Now()
	answer, err := c.provider.Generate(ctx, systemPrompt, userPrompt)
	meta.Latency = time.Since(start)
	if err != nil {
		return "", meta, err
	}

	meta.TokensUsed = c.counter.Count(systemPrompt) + c.counter.Count(userPrompt) + c.counter.Count(answer)
	if c.recorder != nil {
		meta.Cost = c.recorder.Record(ctx, meta.Provider, "completion", meta.TokensUsed, meta.Latency)
	}
	return answer, meta, nil
}
