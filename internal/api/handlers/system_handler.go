package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/tidewater-labs/quarry/internal/core"
	"github.com/tidewater-labs/quarry/internal/core/search"
	"github.com/tidewater-labs/quarry/internal/core/usage"
)

type SystemHandler struct {
	store      core.Store
	ledger     *usage.Ledger
	cache      *search.Cache
	embedder   core.EmbeddingProvider
	llm        core.LLMProvider
	startedAt  time.Time
}

func NewSystemHandler(store core.Store, ledger *usage.Ledger, cache *search.Cache, embedder core.EmbeddingProvider, llm core.LLMProvider) *SystemHandler {
	return &SystemHandler{
		store:     store,
		ledger:    ledger,
		cache:     cache,
		embedder:  embedder,
		llm:       llm,
		startedAt: time.Now(),
	}
}

// Status reports component availability. The database is probed live; the
// providers report configured identity, not a billable health call.
func (h *SystemHandler) Status(w http.ResponseWriter, r *http.Request) {
	dbStatus := "ok"
	if err := h.store.Ping(r.Context()); err != nil {
		dbStatus = "unavailable"
	}

	body := envelope{
		"success":        true,
		"status":         dbStatus,
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
		"components": envelope{
			"database": dbStatus,
			"embedding_provider": envelope{
				"name":   h.embedder.Name(),
				"status": "configured",
			},
			"llm_provider": envelope{
				"name":   h.llm.Name(),
				"model":  h.llm.Model(),
				"status": "configured",
			},
			"result_cache": envelope{
				"entries": h.cache.Len(),
			},
		},
	}
	status := http.StatusOK
	if dbStatus != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, body)
}

// UsageStats returns the aggregated ledger view for the last N days
// (default 7).
func (h *SystemHandler) UsageStats(w http.ResponseWriter, r *http.Request) {
	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, core.NewError(core.CodeValidation, "days must be a positive integer", err))
			return
		}
		days = n
	}

	aggs, err := h.ledger.Aggregate(r.Context(), days)
	if err != nil {
		writeError(w, err)
		return
	}

	var totalTokens int
	var totalCost float64
	for _, a := range aggs {
		totalTokens += a.TotalTokens
		totalCost += a.TotalCost
	}
	writeJSON(w, http.StatusOK, envelope{
		"success":      true,
		"days":         days,
		"usage":        aggs,
		"total_tokens": totalTokens,
		"total_cost":   totalCost,
	})
}
