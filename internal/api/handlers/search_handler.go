package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/tidewater-labs/quarry/internal/core"
	"github.com/tidewater-labs/quarry/internal/core/search"
	"github.com/tidewater-labs/quarry/internal/models"
)

type SearchHandler struct {
	engine  *search.Engine
	timeout time.Duration
	logger  *slog.Logger
}

func NewSearchHandler(engine *search.Engine, timeout time.Duration, logger *slog.Logger) *SearchHandler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SearchHandler{engine: engine, timeout: timeout, logger: logger}
}

type searchRequest struct {
	Query      string             `json:"query"`
	SearchType string             `json:"search_type"`
	TopK       int                `json:"top_k"`
	Filters    *core.SearchFilter `json:"filters"`
	UseCache   *bool              `json:"use_cache"`
}

// Search runs one hybrid/semantic/keyword query and returns the fused,
// ranked results with a timing breakdown.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	mode, err := search.ParseMode(req.SearchType)
	if err != nil {
		writeError(w, err)
		return
	}

	useCache := true
	if req.UseCache != nil {
		useCache = *req.UseCache
	}
	var filter core.SearchFilter
	if req.Filters != nil {
		filter = *req.Filters
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp, err := h.engine.Search(ctx, search.Request{
		Query:    req.Query,
		Mode:     mode,
		TopK:     req.TopK,
		Filter:   filter,
		UseCache: useCache,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	if resp.Results == nil {
		resp.Results = []models.SearchResult{}
	}

	metadata := envelope{
		"search_type":        string(mode),
		"search_methods":     resp.Methods,
		"fusion_algorithm":   "weighted_sum",
		"embedding_time":     resp.Timings.Embedding.Seconds(),
		"vector_search_time": resp.Timings.Semantic.Seconds(),
		"semantic_time":      resp.Timings.Semantic.Seconds(),
		"keyword_time":       resp.Timings.Keyword.Seconds(),
		"intent":             resp.Understanding.Intent,
		"intent_confidence":  resp.Understanding.IntentConfidence,
		"corrected_query":    resp.Understanding.Corrected,
	}
	if len(resp.Understanding.Expansions) > 0 {
		metadata["query_expansion"] = resp.Understanding.Expansions
	}

	writeJSON(w, http.StatusOK, envelope{
		"success":       true,
		"results":       resp.Results,
		"total_results": len(resp.Results),
		"search_time":   resp.Timings.Total.Seconds(),
		"cached":        resp.Cached,
		"confidence":    resp.Confidence,
		"metadata":      metadata,
	})
}
