package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tidewater-labs/quarry/internal/core"
	"github.com/tidewater-labs/quarry/internal/models"
)

// Mode selects which retrieval sources a search uses.
type Mode string

const (
	ModeSemantic Mode = "semantic"
	ModeKeyword  Mode = "keyword"
	ModeHybrid   Mode = "hybrid"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return ModeHybrid, nil
	case ModeSemantic:
		return ModeSemantic, nil
	case ModeKeyword:
		return ModeKeyword, nil
	case ModeHybrid:
		return ModeHybrid, nil
	}
	return "", core.NewError(core.CodeValidation, fmt.Sprintf("unknown search_type %q", s), nil)
}

// QueryEmbedder is the slice of the embedding gateway the engine needs.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Index is the slice of the store the engine queries.
type Index interface {
	SemanticSearch(ctx context.Context, embedding []float32, filter core.SearchFilter, limit int) ([]core.ScoredChunk, error)
	KeywordSearch(ctx context.Context, query string, filter core.SearchFilter, limit int) ([]core.ScoredChunk, error)
}

type Request struct {
	Query    string
	Mode     Mode
	TopK     int
	Filter   core.SearchFilter
	UseCache bool
}

type Timings struct {
	Embedding time.Duration
	Semantic  time.Duration
	Keyword   time.Duration
	Total     time.Duration
}

type Response struct {
	Results       []models.SearchResult
	Cached        bool
	Timings       Timings
	Understanding Understanding
	Methods       []string
	Confidence    float64
}

type Config struct {
	SemanticWeight float64
	KeywordWeight  float64
	DefaultTopK    int
}

// Engine fuses semantic and keyword retrieval into one ranked result list.
// The two lookups for a query run concurrently and are joined explicitly;
// losing one source degrades the result set instead of failing the request.
type Engine struct {
	embedder     QueryEmbedder
	index        Index
	understander Understander
	cache        *Cache
	cfg          Config
	logger       *slog.Logger
}

func NewEngine(embedder QueryEmbedder, index Index, understander Understander, cache *Cache, cfg Config, logger *slog.Logger) *Engine {
	if cfg.SemanticWeight <= 0 && cfg.KeywordWeight <= 0 {
		cfg.SemanticWeight, cfg.KeywordWeight = 0.7, 0.3
	}
	if cfg.DefaultTopK < 1 {
		cfg.DefaultTopK = 5
	}
	if understander == nil {
		understander = NoopUnderstander{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{embedder: embedder, index: index, understander: understander, cache: cache, cfg: cfg, logger: logger}
}

// sourceOut is one lookup's outcome; the engine joins two of these rather
// than letting an error on either side abort the other.
type sourceOut struct {
	hits []core.ScoredChunk
	err  error
	dur  time.Duration
}

func (e *Engine) Search(ctx context.Context, req Request) (*Response, error) {
	started := time.Now()

	if strings.TrimSpace(req.Query) == "" {
		return nil, core.NewError(core.CodeValidation, "query must not be empty", nil)
	}
	if req.TopK < 1 {
		req.TopK = e.cfg.DefaultTopK
	}
	if req.Mode == "" {
		req.Mode = ModeHybrid
	}

	understanding := e.understander.Understand(req.Query)

	key := CacheKey(req.Query, req.Filter, req.Mode)
	if req.UseCache && e.cache != nil {
		if cached, ok := e.cache.Get(key); ok {
			return &Response{
				Results:       cached,
				Cached:        true,
				Timings:       Timings{Total: time.Since(started)},
				Understanding: understanding,
				Methods:       methodUnion(cached),
				Confidence:    topConfidence(cached),
			}, nil
		}
	}

	// Candidate pool is wider than top-k so fusion has something to rank.
	fetch := req.TopK * 2
	if fetch < req.TopK {
		fetch = req.TopK
	}

	semanticQuery := understanding.Corrected
	if len(understanding.Expansions) > 0 {
		semanticQuery += " " + strings.Join(understanding.Expansions, " ")
	}

	var (
		wg        sync.WaitGroup
		sem, kw   sourceOut
		embedTime time.Duration
	)

	if req.Mode == ModeSemantic || req.Mode == ModeHybrid {
		wg.Add(1)
		go func() {
			defer wg.Done()
			embedStart := time.Now()
			vec, err := e.embedder.EmbedQuery(ctx, semanticQuery)
			embedTime = time.Since(embedStart)
			if err != nil {
				sem.err = err
				return
			}
			searchStart := time.Now()
			sem.hits, sem.err = e.index.SemanticSearch(ctx, vec, req.Filter, fetch)
			sem.dur = time.Since(searchStart)
		}()
	}

	if req.Mode == ModeKeyword || req.Mode == ModeHybrid {
		wg.Add(1)
		go func() {
			defer wg.Done()
			searchStart := time.Now()
			kw.hits, kw.err = e.index.KeywordSearch(ctx, understanding.Corrected, req.Filter, fetch)
			kw.dur = time.Since(searchStart)
		}()
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, core.NewError(core.CodeTimeout, "search timed out", core.ErrTimeout)
	}

	methods, err := e.survivingMethods(req.Mode, sem.err, kw.err)
	if err != nil {
		return nil, err
	}

	results := e.fuse(req, understanding, methods, sem.hits, kw.hits)

	resp := &Response{
		Results: results,
		Timings: Timings{
			Embedding: embedTime,
			Semantic:  sem.dur,
			Keyword:   kw.dur,
			Total:     time.Since(started),
		},
		Understanding: understanding,
		Methods:       methods,
		Confidence:    topConfidence(results),
	}

	// Only a fully successful fused set is worth caching, and never one
	// produced by a request that has already timed out.
	if req.UseCache && e.cache != nil && sem.err == nil && kw.err == nil && ctx.Err() == nil {
		e.cache.Set(key, results)
	}
	return resp, nil
}

// survivingMethods decides which sources contribute, degrading hybrid mode
// to a single source when the other failed.
func (e *Engine) survivingMethods(mode Mode, semErr, kwErr error) ([]string, error) {
	switch mode {
	case ModeSemantic:
		if semErr != nil {
			return nil, e.sourceError(semErr)
		}
		return []string{"semantic"}, nil
	case ModeKeyword:
		if kwErr != nil {
			return nil, e.sourceError(kwErr)
		}
		return []string{"keyword"}, nil
	}

	if semErr != nil && kwErr != nil {
		e.logger.Error("both search sources failed", "semantic_err", semErr, "keyword_err", kwErr)
		return nil, core.NewError(core.CodeProvider, "all search sources failed",
			errors.Join(core.ErrAllSourcesFailed, semErr, kwErr))
	}
	if semErr != nil {
		e.logger.Warn("semantic source failed, degrading to keyword only", "err", semErr)
		return []string{"keyword"}, nil
	}
	if kwErr != nil {
		e.logger.Warn("keyword source failed, degrading to semantic only", "err", kwErr)
		return []string{"semantic"}, nil
	}
	return []string{"semantic", "keyword"}, nil
}

func (e *Engine) sourceError(err error) error {
	var rl *core.RateLimitError
	if errors.As(err, &rl) {
		return core.NewError(core.CodeRateLimit, rl.Error(), err)
	}
	return core.NewError(core.CodeProvider, "search source failed", err)
}

// fuse normalizes each source's raw scores to [0,1], combines them by
// weighted sum and produces the ranked, deduplicated, highlighted top-k.
func (e *Engine) fuse(req Request, u Understanding, methods []string, semHits, kwHits []core.ScoredChunk) []models.SearchResult {
	useSem := contains(methods, "semantic")
	useKw := contains(methods, "keyword")

	semScores := normalize(dedupMax(semHits))
	kwScores := normalize(dedupMax(kwHits))

	type cand struct {
		chunk  models.Chunk
		sem    float64
		kw     float64
		hasSem bool
		hasKw  bool
	}
	cands := make(map[string]*cand)

	if useSem {
		for _, h := range semHits {
			c, ok := cands[h.Chunk.ID]
			if !ok {
				c = &cand{chunk: h.Chunk}
				cands[h.Chunk.ID] = c
			}
			c.sem, c.hasSem = semScores[h.Chunk.ID], true
		}
	}
	if useKw {
		for _, h := range kwHits {
			c, ok := cands[h.Chunk.ID]
			if !ok {
				c = &cand{chunk: h.Chunk}
				cands[h.Chunk.ID] = c
			}
			c.kw, c.hasKw = kwScores[h.Chunk.ID], true
		}
	}

	wSem, wKw := e.cfg.SemanticWeight, e.cfg.KeywordWeight
	if req.Mode == ModeSemantic {
		wSem, wKw = 1, 0
	}
	if req.Mode == ModeKeyword {
		wSem, wKw = 0, 1
	}

	highlightTerms := append(strings.Fields(u.Corrected), u.Expansions...)

	results := make([]models.SearchResult, 0, len(cands))
	for _, c := range cands {
		r := models.SearchResult{
			ChunkID:       c.chunk.ID,
			DocumentID:    c.chunk.DocumentID,
			Text:          c.chunk.Text,
			SemanticScore: c.sem,
			KeywordScore:  c.kw,
			FusedScore:    wSem*c.sem + wKw*c.kw,
		}
		if c.hasSem {
			r.Methods = append(r.Methods, "semantic")
		}
		if c.hasKw {
			r.Methods = append(r.Methods, "keyword")
		}
		results = append(results, r)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].FusedScore != results[j].FusedScore {
			return results[i].FusedScore > results[j].FusedScore
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	if len(results) > req.TopK {
		results = results[:req.TopK]
	}

	for i := range results {
		results[i].Rank = i + 1
		results[i].Confidence = confidenceBucket(results[i].FusedScore)
		results[i].Highlights = highlightSpans(results[i].Text, highlightTerms)
	}
	return results
}

// dedupMax collapses duplicate chunk ids within one source, keeping the
// highest raw score. Duplicates should not occur with correct dedup keys
// upstream, but fusion must stay deterministic if they do.
func dedupMax(hits []core.ScoredChunk) map[string]float64 {
	out := make(map[string]float64, len(hits))
	for _, h := range hits {
		if cur, ok := out[h.Chunk.ID]; !ok || h.Score > cur {
			out[h.Chunk.ID] = h.Score
		}
	}
	return out
}

// normalize min-max scales one source's raw scores to [0,1]. A single
// candidate, or identical scores, normalize to 1.
func normalize(raw map[string]float64) map[string]float64 {
	if len(raw) == 0 {
		return raw
	}
	lo, hi := 0.0, 0.0
	first := true
	for _, s := range raw {
		if first {
			lo, hi = s, s
			first = false
			continue
		}
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}

	out := make(map[string]float64, len(raw))
	if hi == lo {
		for id := range raw {
			out[id] = 1
		}
		return out
	}
	for id, s := range raw {
		out[id] = (s - lo) / (hi - lo)
	}
	return out
}

// confidenceBucket maps a fused score to a fixed confidence level.
func confidenceBucket(score float64) float64 {
	switch {
	case score >= 0.75:
		return 0.9
	case score >= 0.5:
		return 0.7
	case score >= 0.25:
		return 0.5
	default:
		return 0.3
	}
}

// topConfidence is the overall answer confidence: the normalized gap
// between the best and the worst returned score.
func topConfidence(results []models.SearchResult) float64 {
	if len(results) == 0 {
		return 0
	}
	if len(results) == 1 {
		return confidenceBucket(results[0].FusedScore)
	}
	gap := results[0].FusedScore - results[len(results)-1].FusedScore
	if gap < 0 {
		gap = 0
	}
	if gap > 1 {
		gap = 1
	}
	return gap
}

func methodUnion(results []models.SearchResult) []string {
	hasSem, hasKw := false, false
	for _, r := range results {
		for _, m := range r.Methods {
			if m == "semantic" {
				hasSem = true
			}
			if m == "keyword" {
				hasKw = true
			}
		}
	}
	var out []string
	if hasSem {
		out = append(out, "semantic")
	}
	if hasKw {
		out = append(out, "keyword")
	}
	return out
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
