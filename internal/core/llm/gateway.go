package llm

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/tidewater-labs/quarry/internal/core"
	"github.com/tidewater-labs/quarry/internal/core/token"
)

// UsageRecorder appends one ledger row per provider call and reports the
// computed cost back to the caller.
type UsageRecorder interface {
	Record(ctx context.Context, provider, operation string, tokens int, latency time.Duration) (cost float64)
}

// Gateway wraps an embedding provider with batching, per-provider rate
// limiting, bounded retries and usage accounting. The ingestion pipeline and
// the search engine both embed through it; neither talks to the provider
// directly.
type Gateway struct {
	provider   core.EmbeddingProvider
	limiter    *rate.Limiter
	recorder   UsageRecorder
	counter    *token.Counter
	batchSize  int
	maxRetries int
	retryBase  time.Duration
	logger     *slog.Logger
}

type GatewayConfig struct {
	BatchSize      int
	MaxRetries     int
	RetryBase      time.Duration
	RequestsPerSec float64
}

func NewGateway(provider core.EmbeddingProvider, recorder UsageRecorder, counter *token.Counter, cfg GatewayConfig, logger *slog.Logger) *Gateway {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 16
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RequestsPerSec <= 0 {
		cfg.RequestsPerSec = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		provider:   provider,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), 1),
		recorder:   recorder,
		counter:    counter,
		batchSize:  cfg.BatchSize,
		maxRetries: cfg.MaxRetries,
		retryBase:  cfg.RetryBase,
		logger:     logger,
	}
}

// BatchSize reports how many texts callers should group per EmbedBatch call.
func (g *Gateway) BatchSize() int { return g.batchSize }

// EmbedBatch embeds one batch of texts as a single provider call, retried
// with exponential backoff on transient failure.
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	tokens := 0
	for _, t := range texts {
		tokens += g.counter.Count(t)
	}

	var vecs [][]float32
	start := time.Now()
	err := RetryWithBackoff(ctx, func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
		out, err := g.provider.EmbedTexts(ctx, texts)
		if err != nil {
			return err
		}
		vecs = out
		return nil
	}, g.maxRetries, g.retryBase)
	latency := time.Since(start)

	if err != nil {
		g.logger.Warn("embedding batch failed", "texts", len(texts), "err", err)
		return nil, err
	}

	if g.recorder != nil {
		g.recorder.Record(ctx, g.provider.Name(), "embedding", tokens, latency)
	}
	return vecs, nil
}

// EmbedQuery embeds a single query string.
func (g *Gateway) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, &core.ProviderError{Provider: g.provider.Name(), Err: core.ErrEmbedding}
	}
	return vecs[0], nil
}
