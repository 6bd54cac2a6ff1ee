package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tidewater-labs/quarry/internal/core"
	"github.com/tidewater-labs/quarry/internal/core/rag"
)

type ChatHandler struct {
	service *rag.Service
	store   core.Store
	logger  *slog.Logger
}

func NewChatHandler(service *rag.Service, store core.Store, logger *slog.Logger) *ChatHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatHandler{service: service, store: store, logger: logger}
}

// chatRequest is the /chat and /rag-chat body. Provider, Model, MaxTokens
// and Temperature are accepted so clients can send them, but the service
// runs one configured provider with fixed sampling; they are not forwarded.
type chatRequest struct {
	Query            string             `json:"query"`
	ConversationID   string             `json:"conversation_id"`
	TopK             int                `json:"top_k"`
	Filters          *core.SearchFilter `json:"filters"`
	UseCache         *bool              `json:"use_cache"`
	MaxContextTokens int                `json:"max_context_tokens"`
	Provider         string             `json:"provider"`
	Model            string             `json:"model"`
	MaxTokens        int                `json:"max_tokens"`
	Temperature      float64            `json:"temperature"`
}

// Chat answers without retrieval; the model sees only the user message.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	h.chat(w, r, false)
}

// RAGChat retrieves and assembles document context before answering.
func (h *ChatHandler) RAGChat(w http.ResponseWriter, r *http.Request) {
	h.chat(w, r, true)
}

func (h *ChatHandler) chat(w http.ResponseWriter, r *http.Request, grounded bool) {
	var req chatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	var filter core.SearchFilter
	if req.Filters != nil {
		filter = *req.Filters
	}

	resp, err := h.service.Chat(r.Context(), rag.ChatRequest{
		ConversationID:   req.ConversationID,
		Message:          req.Query,
		TopK:             req.TopK,
		Filter:           filter,
		Grounded:         grounded,
		UseCache:         req.UseCache,
		MaxContextTokens: req.MaxContextTokens,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	metadata := envelope{
		"provider":      resp.Provider,
		"model":         resp.Model,
		"tokens_used":   resp.TokensUsed,
		"cost":          resp.Cost,
		"response_time": float64(resp.LatencyMs) / 1000,
	}
	if grounded {
		metadata["context_chunks"] = resp.ContextChunks
		metadata["context_tokens"] = resp.ContextTokens
		metadata["retrieval_time"] = resp.RetrievalTime.Seconds()
	}

	body := envelope{
		"success":         true,
		"response":        resp.Answer,
		"conversation_id": resp.ConversationID,
		"metadata":        metadata,
	}
	if len(resp.Sources) > 0 {
		body["sources"] = resp.Sources
		body["confidence"] = resp.Confidence
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *ChatHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := h.store.ListConversations(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"success": true, "conversations": convs, "total": len(convs)})
}

func (h *ChatHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	conv, err := h.store.GetConversation(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if conv == nil {
		writeError(w, core.NewError(core.CodeNotFound, "conversation not found", core.ErrNotFound))
		return
	}
	msgs, err := h.store.GetMessages(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"success": true, "conversation": conv, "messages": msgs})
}

func (h *ChatHandler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.DeleteConversation(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"success": true, "conversation_id": id})
}
