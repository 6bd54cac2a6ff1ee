package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL  string
	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	BucketName   string
	AIAPIKey     string
	EmbedModel   string
	GenModel     string
	Port         string

	// Ingestion tuning.
	ChunkTargetTokens  int
	ChunkOverlapTokens int
	EmbedBatchSize     int
	IngestWorkers      int
	ChunkWorkers       int
	EmbedMaxRetries    int
	EmbedRetryBase     time.Duration

	// Retrieval tuning.
	SemanticWeight float64
	KeywordWeight  float64
	DefaultTopK    int
	CacheTTL       time.Duration
	SearchTimeout  time.Duration

	// Context assembly.
	ContextBudgetTokens int

	// Per-provider rate limits (requests per second).
	EmbedRateLimit      float64
	CompletionRateLimit float64

	// Pricing per 1k tokens, used by the usage ledger.
	EmbedCostPer1K      float64
	CompletionCostPer1K float64
}

// LoadConfig loads the environment variables and returns the service config.
func LoadConfig() *Config {

	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		AwsAccessKey: getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey: getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:    getEnv("AWS_REGION", "us-east-2"),
		BucketName:   getEnv("BUCKET_NAME", "quarry-docs"),
		AIAPIKey:     getEnv("GEMINI_API_KEY", ""),
		EmbedModel:   getEnv("EMBED_MODEL", "text-embedding-004"),
		GenModel:     getEnv("GEN_MODEL", "gemini-1.5-flash"),
		Port:         getEnv("PORT", "8080"),

		ChunkTargetTokens:  getEnvInt("CHUNK_TARGET_TOKENS", 400),
		ChunkOverlapTokens: getEnvInt("CHUNK_OVERLAP_TOKENS", 50),
		EmbedBatchSize:     getEnvInt("EMBED_BATCH_SIZE", 16),
		IngestWorkers:      getEnvInt("INGEST_WORKERS", 4),
		ChunkWorkers:       getEnvInt("CHUNK_WORKERS", 4),
		EmbedMaxRetries:    getEnvInt("EMBED_MAX_RETRIES", 3),
		EmbedRetryBase:     getEnvDuration("EMBED_RETRY_BASE", 500*time.Millisecond),

		SemanticWeight: getEnvFloat("SEMANTIC_WEIGHT", 0.7),
		KeywordWeight:  getEnvFloat("KEYWORD_WEIGHT", 0.3),
		DefaultTopK:    getEnvInt("DEFAULT_TOP_K", 5),
		CacheTTL:       getEnvDuration("CACHE_TTL", 5*time.Minute),
		SearchTimeout:  getEnvDuration("SEARCH_TIMEOUT", 30*time.Second),

		ContextBudgetTokens: getEnvInt("CONTEXT_BUDGET_TOKENS", 2000),

		EmbedRateLimit:      getEnvFloat("EMBED_RATE_LIMIT", 10),
		CompletionRateLimit: getEnvFloat("COMPLETION_RATE_LIMIT", 5),

		EmbedCostPer1K:      getEnvFloat("EMBED_COST_PER_1K", 0.00002),
		CompletionCostPer1K: getEnvFloat("COMPLETION_COST_PER_1K", 0.00035),
	}

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL not set")
	}

	return cfg
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("WARN: %s=%q not an int, using default %d", key, v, def)
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("WARN: %s=%q not a float, using default %g", key, v, def)
		return def
	}
	return f
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("WARN: %s=%q not a duration, using default %s", key, v, def)
		return def
	}
	return d
}
