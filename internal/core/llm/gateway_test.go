package llm_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidewater-labs/quarry/internal/core/llm"
	"github.com/tidewater-labs/quarry/internal/core/mock"
	"github.com/tidewater-labs/quarry/internal/core/token"
)

type recordedCall struct {
	provider  string
	operation string
	tokens    int
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []recordedCall
	cost  float64
}

func (f *fakeRecorder) Record(_ context.Context, provider, operation string, tokens int, _ time.Duration) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedCall{provider, operation, tokens})
	return f.cost
}

func (f *fakeRecorder) recorded() []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recordedCall, len(f.calls))
	copy(out, f.calls)
	return out
}

func newGateway(embedder *mock.Embedder, rec llm.UsageRecorder) *llm.Gateway {
	return llm.NewGateway(embedder, rec, token.NewCounter(), llm.GatewayConfig{
		BatchSize:      4,
		MaxRetries:     3,
		RetryBase:      time.Millisecond,
		RequestsPerSec: 1000,
	}, nil)
}

func TestGatewayEmbedBatchRecordsUsage(t *testing.T) {
	rec := &fakeRecorder{}
	g := newGateway(&mock.Embedder{}, rec)

	vecs, err := g.EmbedBatch(context.Background(), []string{"one text", "another text"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)

	calls := rec.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, "mock", calls[0].provider)
	assert.Equal(t, "embedding", calls[0].operation)
	assert.Positive(t, calls[0].tokens)
}

func TestGatewayEmbedBatchRetriesTransientFailure(t *testing.T) {
	embedder := &mock.Embedder{FailFirst: 2}
	g := newGateway(embedder, nil)

	vecs, err := g.EmbedBatch(context.Background(), []string{"needs a retry"})
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	assert.Equal(t, 3, embedder.Calls())
}

func TestGatewayEmbedBatchExhaustsRetries(t *testing.T) {
	rec := &fakeRecorder{}
	embedder := &mock.Embedder{FailFirst: 10}
	g := newGateway(embedder, rec)

	_, err := g.EmbedBatch(context.Background(), []string{"never works"})
	require.Error(t, err)
	assert.Equal(t, 3, embedder.Calls(), "attempt budget is 3")
	assert.Empty(t, rec.recorded(), "failed batches are not billed")
}

func TestGatewayEmbedBatchEmptyInput(t *testing.T) {
	g := newGateway(&mock.Embedder{}, nil)
	vecs, err := g.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
}

func TestGatewayEmbedQuery(t *testing.T) {
	g := newGateway(&mock.Embedder{Dims: 8}, nil)
	vec, err := g.EmbedQuery(context.Background(), "a search query")
	require.NoError(t, err)
	assert.Len(t, vec, 8)
}
