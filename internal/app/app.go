package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tidewater-labs/quarry/internal/config"
	db "github.com/tidewater-labs/quarry/internal/core/database"
	"github.com/tidewater-labs/quarry/internal/core/ingest"
	"github.com/tidewater-labs/quarry/internal/core/llm"
	"github.com/tidewater-labs/quarry/internal/core/objectstore"
	"github.com/tidewater-labs/quarry/internal/core/rag"
	"github.com/tidewater-labs/quarry/internal/core/search"
	"github.com/tidewater-labs/quarry/internal/core/token"
	"github.com/tidewater-labs/quarry/internal/core/usage"
)

// App owns every long-lived component and their shutdown order.
type App struct {
	Store    *db.Store
	Pipeline *ingest.Pipeline
	Cache    *search.Cache
	Server   *Server
	logger   *slog.Logger
}

func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	startCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	store, err := db.NewStore(startCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("database init: %w", err)
	}
	logger.Info("database ready")

	objects, err := objectstore.NewS3Store(startCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("object store init: %w", err)
	}

	embedder, err := llm.NewGeminiEmbedder(startCtx, cfg.AIAPIKey, cfg.EmbedModel)
	if err != nil {
		return nil, fmt.Errorf("embedder init: %w", err)
	}
	provider, err := llm.NewGeminiLLM(startCtx, cfg.AIAPIKey, cfg.GenModel)
	if err != nil {
		return nil, fmt.Errorf("llm init: %w", err)
	}

	counter := token.NewCounter()
	ledger := usage.NewLedger(store, usage.Pricing{
		"embedding":  cfg.EmbedCostPer1K,
		"completion": cfg.CompletionCostPer1K,
	}, logger)

	gateway := llm.NewGateway(embedder, ledger, counter, llm.GatewayConfig{
		BatchSize:      cfg.EmbedBatchSize,
		MaxRetries:     cfg.EmbedMaxRetries,
		RetryBase:      cfg.EmbedRetryBase,
		RequestsPerSec: cfg.EmbedRateLimit,
	}, logger)
	completer := llm.NewCompletionClient(provider, ledger, counter, cfg.CompletionRateLimit)

	chunker := ingest.NewChunker(counter, cfg.ChunkTargetTokens, cfg.ChunkOverlapTokens)
	extractor := ingest.NewDocconvExtractor(false)
	pipeline, err := ingest.NewPipeline(store, objects, gateway, extractor, chunker, ingest.Config{
		Bucket:       cfg.BucketName,
		Workers:      cfg.IngestWorkers,
		ChunkWorkers: cfg.ChunkWorkers,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("pipeline init: %w", err)
	}

	cache := search.NewCache(cfg.CacheTTL)
	engine := search.NewEngine(gateway, store, search.NewRuleUnderstander(), cache, search.Config{
		SemanticWeight: cfg.SemanticWeight,
		KeywordWeight:  cfg.KeywordWeight,
		DefaultTopK:    cfg.DefaultTopK,
	}, logger)

	assembler := rag.NewAssembler(counter, cfg.ContextBudgetTokens)
	chatService := rag.NewService(store, engine, assembler, completer, logger)

	server := NewServer(cfg, serverDeps{
		store:     store,
		objects:   objects,
		pipeline:  pipeline,
		engine:    engine,
		chat:      chatService,
		ledger:    ledger,
		cache:     cache,
		embedder:  embedder,
		provider:  provider,
		logger:    logger,
	})

	return &App{Store: store, Pipeline: pipeline, Cache: cache, Server: server, logger: logger}, nil
}

// Close releases components in reverse dependency order. In-flight ingestion
// jobs finish before the store closes.
func (a *App) Close() {
	if a.Pipeline != nil {
		a.Pipeline.Release()
	}
	if a.Cache != nil {
		a.Cache.Stop()
	}
	if a.Store != nil {
		_ = a.Store.Close()
	}
	a.logger.Info("shutdown complete")
}
