package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidewater-labs/quarry/internal/core"
	"github.com/tidewater-labs/quarry/internal/models"
)

type stubEmbedder struct {
	vec []float32
	err error
}

func (s *stubEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return s.vec, s.err
}

type stubIndex struct {
	sem    []core.ScoredChunk
	semErr error
	kw     []core.ScoredChunk
	kwErr  error
}

func (s *stubIndex) SemanticSearch(context.Context, []float32, core.SearchFilter, int) ([]core.ScoredChunk, error) {
	return s.sem, s.semErr
}

func (s *stubIndex) KeywordSearch(context.Context, string, core.SearchFilter, int) ([]core.ScoredChunk, error) {
	return s.kw, s.kwErr
}

func hit(id string, score float64) core.ScoredChunk {
	return core.ScoredChunk{Chunk: models.Chunk{ID: id, DocumentID: "doc", Text: "text of " + id}, Score: score}
}

func newTestEngine(index *stubIndex, cache *Cache) *Engine {
	return NewEngine(&stubEmbedder{vec: []float32{1, 0}}, index, NoopUnderstander{}, cache,
		Config{SemanticWeight: 0.7, KeywordWeight: 0.3, DefaultTopK: 5}, nil)
}

func TestEngineHybridFusionAndRanking(t *testing.T) {
	index := &stubIndex{
		sem: []core.ScoredChunk{hit("a", 0.9), hit("b", 0.5), hit("c", 0.1)},
		kw:  []core.ScoredChunk{hit("b", 10), hit("c", 2)},
	}
	e := newTestEngine(index, nil)

	resp, err := e.Search(context.Background(), Request{Query: "anything", Mode: ModeHybrid})
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)
	assert.ElementsMatch(t, []string{"semantic", "keyword"}, resp.Methods)

	// Min-max per source: sem a=1 b=0.5 c=0, kw b=1 c=0.
	byID := map[string]models.SearchResult{}
	for _, r := range resp.Results {
		byID[r.ChunkID] = r
		assert.InDelta(t, 0.7*r.SemanticScore+0.3*r.KeywordScore, r.FusedScore, 1e-9,
			"fused score must equal the weighted sum for %s", r.ChunkID)
	}
	assert.InDelta(t, 0.70, byID["a"].FusedScore, 1e-9)
	assert.InDelta(t, 0.65, byID["b"].FusedScore, 1e-9)
	assert.InDelta(t, 0.00, byID["c"].FusedScore, 1e-9)

	// Sorted descending with dense 1-based ranks.
	assert.Equal(t, []string{"a", "b", "c"}, []string{resp.Results[0].ChunkID, resp.Results[1].ChunkID, resp.Results[2].ChunkID})
	for i, r := range resp.Results {
		assert.Equal(t, i+1, r.Rank)
	}

	// A chunk found by both sources appears once, tagged with both methods.
	assert.ElementsMatch(t, []string{"semantic", "keyword"}, byID["b"].Methods)
	assert.Equal(t, []string{"semantic"}, byID["a"].Methods)
}

func TestEngineTieBreakByChunkID(t *testing.T) {
	index := &stubIndex{sem: []core.ScoredChunk{hit("zeta", 0.5), hit("alpha", 0.5)}}
	e := newTestEngine(index, nil)

	resp, err := e.Search(context.Background(), Request{Query: "q", Mode: ModeSemantic})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, resp.Results[0].FusedScore, resp.Results[1].FusedScore)
	assert.Equal(t, "alpha", resp.Results[0].ChunkID)
	assert.Equal(t, "zeta", resp.Results[1].ChunkID)
}

func TestEngineTopKTruncation(t *testing.T) {
	index := &stubIndex{sem: []core.ScoredChunk{hit("a", 0.9), hit("b", 0.6), hit("c", 0.3), hit("d", 0.1)}}
	e := newTestEngine(index, nil)

	resp, err := e.Search(context.Background(), Request{Query: "q", Mode: ModeSemantic, TopK: 2})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 2)
	assert.Equal(t, "a", resp.Results[0].ChunkID)
}

func TestEngineDegradesWhenSemanticFails(t *testing.T) {
	index := &stubIndex{
		semErr: errors.New("provider down"),
		kw:     []core.ScoredChunk{hit("k1", 3), hit("k2", 1)},
	}
	e := newTestEngine(index, nil)

	resp, err := e.Search(context.Background(), Request{Query: "exact keyword", Mode: ModeHybrid})
	require.NoError(t, err, "losing one source must not fail the request")
	assert.Equal(t, []string{"keyword"}, resp.Methods)
	require.Len(t, resp.Results, 2)
	for _, r := range resp.Results {
		assert.Equal(t, []string{"keyword"}, r.Methods)
	}
}

func TestEngineFailsWhenAllSourcesFail(t *testing.T) {
	index := &stubIndex{semErr: errors.New("down"), kwErr: errors.New("also down")}
	e := newTestEngine(index, nil)

	_, err := e.Search(context.Background(), Request{Query: "q", Mode: ModeHybrid})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrAllSourcesFailed)
	assert.Equal(t, core.CodeProvider, core.CodeOf(err))
}

func TestEngineKeywordModeSkipsEmbedding(t *testing.T) {
	index := &stubIndex{kw: []core.ScoredChunk{hit("k", 1)}}
	e := NewEngine(&stubEmbedder{err: errors.New("must not be called")}, index, NoopUnderstander{}, nil,
		Config{SemanticWeight: 0.7, KeywordWeight: 0.3, DefaultTopK: 5}, nil)

	resp, err := e.Search(context.Background(), Request{Query: "q", Mode: ModeKeyword})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	// Pure keyword mode ranks by the normalized keyword score alone.
	assert.InDelta(t, resp.Results[0].KeywordScore, resp.Results[0].FusedScore, 1e-9)
}

func TestEngineCachesFusedResults(t *testing.T) {
	cache := NewCache(time.Minute)
	defer cache.Stop()
	index := &stubIndex{
		sem: []core.ScoredChunk{hit("a", 0.9), hit("b", 0.2)},
		kw:  []core.ScoredChunk{hit("a", 5)},
	}
	e := newTestEngine(index, cache)

	first, err := e.Search(context.Background(), Request{Query: "Same Query", Mode: ModeHybrid, UseCache: true})
	require.NoError(t, err)
	require.False(t, first.Cached)

	// Second identical call (modulo case/whitespace) hits the cache.
	second, err := e.Search(context.Background(), Request{Query: "same  query", Mode: ModeHybrid, UseCache: true})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Results, second.Results)
}

func TestEngineDegradedResultsAreNotCached(t *testing.T) {
	cache := NewCache(time.Minute)
	defer cache.Stop()
	index := &stubIndex{semErr: errors.New("down"), kw: []core.ScoredChunk{hit("k", 1)}}
	e := newTestEngine(index, cache)

	resp, err := e.Search(context.Background(), Request{Query: "q", Mode: ModeHybrid, UseCache: true})
	require.NoError(t, err)
	require.False(t, resp.Cached)
	assert.Equal(t, 0, cache.Len(), "a degraded result set must not be cached")
}

func TestEngineTimedOutSearchSurfacesTimeoutAndSkipsCache(t *testing.T) {
	cache := NewCache(time.Minute)
	defer cache.Stop()
	index := &stubIndex{
		sem: []core.ScoredChunk{hit("a", 0.9)},
		kw:  []core.ScoredChunk{hit("a", 1)},
	}
	e := newTestEngine(index, cache)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Search(ctx, Request{Query: "q", Mode: ModeHybrid, UseCache: true})
	require.Error(t, err)
	assert.Equal(t, core.CodeTimeout, core.CodeOf(err))
	assert.ErrorIs(t, err, core.ErrTimeout)
	assert.Equal(t, 0, cache.Len(), "a timed-out search must not write to the cache")
}

func TestEngineRejectsEmptyQuery(t *testing.T) {
	e := newTestEngine(&stubIndex{}, nil)
	_, err := e.Search(context.Background(), Request{Query: "   "})
	require.Error(t, err)
	assert.Equal(t, core.CodeValidation, core.CodeOf(err))
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{
		"":         ModeHybrid,
		"hybrid":   ModeHybrid,
		"Semantic": ModeSemantic,
		" keyword": ModeKeyword,
	} {
		got, err := ParseMode(in)
		require.NoError(t, err, "input %q", in)
		assert.Equal(t, want, got)
	}
	_, err := ParseMode("fuzzy")
	require.Error(t, err)
	assert.Equal(t, core.CodeValidation, core.CodeOf(err))
}
