package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/quarry_test")

	cfg := LoadConfig()

	assert.Equal(t, 400, cfg.ChunkTargetTokens)
	assert.Equal(t, 2000, cfg.ContextBudgetTokens)
	assert.Equal(t, 0.7, cfg.SemanticWeight)
	assert.Equal(t, 0.3, cfg.KeywordWeight)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/quarry_test")
	t.Setenv("CONTEXT_BUDGET_TOKENS", "750")
	t.Setenv("SEMANTIC_WEIGHT", "0.6")

	cfg := LoadConfig()

	assert.Equal(t, 750, cfg.ContextBudgetTokens)
	assert.Equal(t, 0.6, cfg.SemanticWeight)
}

func TestGetEnvIntFallsBackOnGarbage(t *testing.T) {
	t.Setenv("CONTEXT_BUDGET_TOKENS", "not-a-number")
	assert.Equal(t, 2000, getEnvInt("CONTEXT_BUDGET_TOKENS", 2000))
}
