package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tidewater-labs/quarry/internal/core"
	"github.com/tidewater-labs/quarry/internal/core/llm"
	"github.com/tidewater-labs/quarry/internal/core/search"
	"github.com/tidewater-labs/quarry/internal/models"
)

const systemPromptGrounded = `You are a helpful assistant that answers questions using the provided document context.
Ground every claim in the numbered context excerpts and cite them like [1].
If the context does not contain the answer, say so instead of guessing.`

const systemPromptPlain = `You are a helpful, concise assistant.`

const previewRunes = 160

// ChatRequest is one user turn. A zero ConversationID starts a new
// conversation. Grounded controls whether retrieval runs before the model.
// A nil UseCache means cached retrieval; MaxContextTokens zero means the
// assembler's default budget.
type ChatRequest struct {
	ConversationID   string
	Message          string
	TopK             int
	Filter           core.SearchFilter
	Grounded         bool
	UseCache         *bool
	MaxContextTokens int
}

// ChatResponse is the assistant turn plus the retrieval and provider
// metadata that produced it.
type ChatResponse struct {
	ConversationID string          `json:"conversation_id"`
	Answer         string          `json:"answer"`
	Sources        []models.Source `json:"sources,omitempty"`
	Confidence     float64         `json:"confidence,omitempty"`
	Provider       string          `json:"provider"`
	Model          string          `json:"model"`
	TokensUsed     int             `json:"tokens_used"`
	Cost           float64         `json:"cost"`
	LatencyMs      int64           `json:"latency_ms"`

	// Retrieval accounting, zero for ungrounded chats.
	ContextChunks int           `json:"context_chunks,omitempty"`
	ContextTokens int           `json:"context_tokens,omitempty"`
	RetrievalTime time.Duration `json:"-"`
}

// Service runs the retrieve-assemble-generate loop and persists both turns
// of every exchange.
type Service struct {
	store     core.Store
	engine    *search.Engine
	assembler *Assembler
	completer *llm.CompletionClient
	logger    *slog.Logger
}

func NewService(store core.Store, engine *search.Engine, assembler *Assembler, completer *llm.CompletionClient, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, engine: engine, assembler: assembler, completer: completer, logger: logger}
}

func (s *Service) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, core.NewError(core.CodeValidation, "message must not be empty", nil)
	}

	conv, err := s.ensureConversation(ctx, req.ConversationID, req.Message)
	if err != nil {
		return nil, err
	}

	if err := s.store.AppendMessage(ctx, &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Role:           "user",
		Content:        req.Message,
	}); err != nil {
		return nil, err
	}

	var (
		sources       []models.Source
		confidence    float64
		contextChunks int
		contextTokens int
		retrievalTime time.Duration
		system        = systemPromptPlain
		user          = req.Message
	)

	if req.Grounded {
		useCache := req.UseCache == nil || *req.UseCache
		retrievalStart := time.Now()
		found, err := s.engine.Search(ctx, search.Request{
			Query:    req.Message,
			Mode:     search.ModeHybrid,
			TopK:     req.TopK,
			Filter:   req.Filter,
			UseCache: useCache,
		})
		if err != nil {
			return nil, err
		}
		retrievalTime = time.Since(retrievalStart)
		confidence = found.Confidence

		contextBlock, pieces := s.assembler.AssembleWithin(found.Results, req.MaxContextTokens)
		contextChunks = len(pieces)
		for _, p := range pieces {
			contextTokens += p.Tokens
		}
		sources, err = s.sourcesFor(ctx, pieces)
		if err != nil {
			return nil, err
		}

		system = systemPromptGrounded
		if contextBlock != "" {
			user = fmt.Sprintf("Context:\n%s\n\nQuestion: %s", contextBlock, req.Message)
		} else {
			user = fmt.Sprintf("No relevant context was found.\n\nQuestion: %s", req.Message)
		}
	}

	answer, meta, err := s.completer.Complete(ctx, system, user)
	if err != nil {
		return nil, core.NewError(core.CodeProvider, "completion failed", err)
	}

	assistant := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Role:           "assistant",
		Content:        answer,
		Sources:        sources,
		Provider:       meta.Provider,
		Model:          meta.Model,
		TokensUsed:     meta.TokensUsed,
		Cost:           meta.Cost,
		LatencyMs:      meta.Latency.Milliseconds(),
	}
	if err := s.store.AppendMessage(ctx, assistant); err != nil {
		// The answer was produced and billed; losing the record is worth a
		// log line, not a failed response.
		s.logger.Error("persisting assistant message failed", "conversation", conv.ID, "err", err)
	}

	return &ChatResponse{
		ConversationID: conv.ID,
		Answer:         answer,
		Sources:        sources,
		Confidence:     confidence,
		Provider:       meta.Provider,
		Model:          meta.Model,
		TokensUsed:     meta.TokensUsed,
		Cost:           meta.Cost,
		LatencyMs:      meta.Latency.Milliseconds(),
		ContextChunks:  contextChunks,
		ContextTokens:  contextTokens,
		RetrievalTime:  retrievalTime,
	}, nil
}

func (s *Service) ensureConversation(ctx context.Context, id, firstMessage string) (*models.Conversation, error) {
	if id != "" {
		conv, err := s.store.GetConversation(ctx, id)
		if err != nil {
			return nil, err
		}
		if conv == nil {
			return nil, core.NewError(core.CodeNotFound, "conversation not found", core.ErrNotFound)
		}
		return conv, nil
	}

	conv := &models.Conversation{
		ID:    uuid.NewString(),
		Title: titleFrom(firstMessage),
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// sourcesFor resolves the attribution list for the assembled pieces,
// fetching each referenced document's name once.
func (s *Service) sourcesFor(ctx context.Context, pieces []Piece) ([]models.Source, error) {
	names := make(map[string]string)
	var out []models.Source
	for _, p := range pieces {
		name, ok := names[p.Result.DocumentID]
		if !ok {
			doc, err := s.store.GetDocumentByID(ctx, p.Result.DocumentID)
			if err != nil {
				return nil, err
			}
			if doc != nil {
				name = doc.FileName
			}
			names[p.Result.DocumentID] = name
		}
		out = append(out, models.Source{
			DocumentID: p.Result.DocumentID,
			FileName:   name,
			ChunkID:    p.Result.ChunkID,
			Score:      p.Result.FusedScore,
			Preview:    preview(p.Text),
			Truncated:  p.Truncated,
		})
	}
	return out, nil
}

func titleFrom(message string) string {
	t := strings.Join(strings.Fields(message), " ")
	runes := []rune(t)
	if len(runes) > 60 {
		return string(runes[:57]) + "..."
	}
	if t == "" {
		return "New conversation"
	}
	return t
}

func preview(text string) string {
	runes := []rune(text)
	if len(runes) <= previewRunes {
		return text
	}
	return string(runes[:previewRunes]) + "..."
}
