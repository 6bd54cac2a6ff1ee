package rag_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidewater-labs/quarry/internal/core"
	"github.com/tidewater-labs/quarry/internal/core/ingest"
	"github.com/tidewater-labs/quarry/internal/core/llm"
	"github.com/tidewater-labs/quarry/internal/core/mock"
	"github.com/tidewater-labs/quarry/internal/core/rag"
	"github.com/tidewater-labs/quarry/internal/core/search"
	"github.com/tidewater-labs/quarry/internal/core/token"
	"github.com/tidewater-labs/quarry/internal/models"
)

type fixedEmbedder struct{ vec []float32 }

func (f fixedEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return f.vec, nil
}

func seedStore(t *testing.T) *mock.Store {
	t.Helper()
	store := mock.NewStore()
	ctx := context.Background()

	require.NoError(t, store.CreateDocument(ctx, &models.Document{
		ID: "doc-1", FileName: "tides.txt", ContentType: "text/plain",
		Status: string(ingest.StageCompleted),
	}))
	texts := []string{
		"tides rise twice daily in most harbors",
		"mooring lines must be checked at low tide",
		"channel depth varies with the season",
	}
	for i, text := range texts {
		require.NoError(t, store.UpsertChunks(ctx, []models.Chunk{{
			ID: ingest.ChunkID("doc-1", i), DocumentID: "doc-1", Position: i,
			Text: text, TokenCount: 10, Embedding: []float32{1, float32(i)},
		}}))
	}
	return store
}

func newService(store *mock.Store, provider *mock.LLM) *rag.Service {
	counter := token.NewCounter()
	engine := search.NewEngine(fixedEmbedder{vec: []float32{1, 0}}, store, search.NoopUnderstander{}, nil,
		search.Config{SemanticWeight: 0.7, KeywordWeight: 0.3, DefaultTopK: 3}, nil)
	assembler := rag.NewAssembler(counter, 500)
	completer := llm.NewCompletionClient(provider, nil, counter, 1000)
	return rag.NewService(store, engine, assembler, completer, nil)
}

func TestChatGroundedUsesRetrievedContext(t *testing.T) {
	store := seedStore(t)
	provider := &mock.LLM{Reply: "tides rise twice daily [1]"}
	svc := newService(store, provider)

	resp, err := svc.Chat(context.Background(), rag.ChatRequest{
		Message:  "how often do tides rise",
		Grounded: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "tides rise twice daily [1]", resp.Answer)
	assert.NotEmpty(t, resp.ConversationID)
	require.NotEmpty(t, resp.Sources)
	assert.Equal(t, "tides.txt", resp.Sources[0].FileName)
	assert.Positive(t, resp.ContextChunks)
	assert.Positive(t, resp.ContextTokens)

	// The model saw the retrieved chunks, not just the question.
	_, user := provider.LastPrompts()
	assert.Contains(t, user, "tides rise twice daily in most harbors")
	assert.Contains(t, user, "how often do tides rise")

	// Both turns are persisted, assistant with sources and metadata.
	msgs, err := store.GetMessages(context.Background(), resp.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "assistant", msgs[1].Role)
	assert.NotEmpty(t, msgs[1].Sources)
	assert.Equal(t, "mock", msgs[1].Provider)
	assert.Positive(t, msgs[1].TokensUsed)
}

func TestChatUngroundedSkipsRetrieval(t *testing.T) {
	store := seedStore(t)
	provider := &mock.LLM{Reply: "hello there"}
	svc := newService(store, provider)

	resp, err := svc.Chat(context.Background(), rag.ChatRequest{Message: "say hello"})
	require.NoError(t, err)

	assert.Empty(t, resp.Sources)
	assert.Zero(t, resp.ContextChunks)

	_, user := provider.LastPrompts()
	assert.Equal(t, "say hello", user)
}

func TestChatMaxContextTokensCapsAssembly(t *testing.T) {
	store := seedStore(t)
	provider := &mock.LLM{Reply: "short answer"}
	svc := newService(store, provider)

	// Budget sized to roughly one seeded chunk; the assembler must stay
	// within it whatever the counter backend reports.
	budget := token.NewCounter().Count("tides rise twice daily in most harbors")
	resp, err := svc.Chat(context.Background(), rag.ChatRequest{
		Message:          "how often do tides rise",
		Grounded:         true,
		MaxContextTokens: budget,
	})
	require.NoError(t, err)
	assert.Positive(t, resp.ContextChunks)
	assert.LessOrEqual(t, resp.ContextTokens, budget)
	assert.Less(t, resp.ContextChunks, 3)
}

func TestChatContinuesExistingConversation(t *testing.T) {
	store := seedStore(t)
	svc := newService(store, &mock.LLM{})

	first, err := svc.Chat(context.Background(), rag.ChatRequest{Message: "first turn"})
	require.NoError(t, err)

	second, err := svc.Chat(context.Background(), rag.ChatRequest{
		ConversationID: first.ConversationID,
		Message:        "second turn",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ConversationID, second.ConversationID)

	msgs, err := store.GetMessages(context.Background(), first.ConversationID)
	require.NoError(t, err)
	assert.Len(t, msgs, 4)

	convs, err := store.ListConversations(context.Background())
	require.NoError(t, err)
	assert.Len(t, convs, 1)
}

func TestChatUnknownConversation(t *testing.T) {
	svc := newService(seedStore(t), &mock.LLM{})

	_, err := svc.Chat(context.Background(), rag.ChatRequest{
		ConversationID: "missing",
		Message:        "hello",
	})
	require.Error(t, err)
	assert.Equal(t, core.CodeNotFound, core.CodeOf(err))
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	svc := newService(seedStore(t), &mock.LLM{})
	_, err := svc.Chat(context.Background(), rag.ChatRequest{Message: "  "})
	require.Error(t, err)
	assert.Equal(t, core.CodeValidation, core.CodeOf(err))
}
