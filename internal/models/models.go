package models

import (
	"time"
)

// Document represents a user-uploaded file tracked through ingestion.
type Document struct {
	ID          string    `db:"id" json:"id"`
	FileName    string    `db:"file_name" json:"file_name"`
	ContentType string    `db:"content_type" json:"content_type"`
	SizeBytes   int64     `db:"size_bytes" json:"size_bytes"`
	StorageURL  string    `db:"storage_url" json:"storage_url"`
	Status      string    `db:"status" json:"status"` // mirrors the latest job stage
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Chunk represents one text span extracted from a document.
// Embedding is nil until the embedding stage writes it; once set it is
// replaced only by re-ingesting the parent document.
type Chunk struct {
	ID          string    `db:"id" json:"id"`
	DocumentID  string    `db:"document_id" json:"document_id"`
	Position    int       `db:"position" json:"position"`
	Text        string    `db:"text" json:"text"`
	StartOffset int       `db:"start_offset" json:"start_offset"`
	EndOffset   int       `db:"end_offset" json:"end_offset"`
	TokenCount  int       `db:"token_count" json:"token_count"`
	Embedding   []float32 `db:"embedding" json:"-"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Job tracks a single ingestion attempt for a document. A new upload always
// creates a new job; failed jobs are never reused.
type Job struct {
	ID         string    `db:"id" json:"job_id"`
	DocumentID string    `db:"document_id" json:"document_id"`
	Stage      string    `db:"stage" json:"status"`
	Progress   int       `db:"progress" json:"progress"` // 0-100, monotonically non-decreasing
	Error      string    `db:"error" json:"error,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// HighlightSpan marks a matched query term inside a result's text.
type HighlightSpan struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Term  string `json:"term"`
}

// SearchResult is one ranked hit from the hybrid engine.
type SearchResult struct {
	ChunkID       string          `json:"chunk_id"`
	DocumentID    string          `json:"document_id"`
	Text          string          `json:"text"`
	SemanticScore float64         `json:"semantic_score"`
	KeywordScore  float64         `json:"keyword_score"`
	FusedScore    float64         `json:"fused_score"`
	Rank          int             `json:"rank"`
	Confidence    float64         `json:"confidence"`
	Highlights    []HighlightSpan `json:"highlights,omitempty"`
	Methods       []string        `json:"search_methods"`
}

// Conversation groups an ordered, append-only message history.
type Conversation struct {
	ID        string    `db:"id" json:"id"`
	Title     string    `db:"title" json:"title"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Source attributes one context chunk used to ground an answer.
type Source struct {
	DocumentID string  `json:"document_id"`
	FileName   string  `json:"file_name"`
	ChunkID    string  `json:"chunk_id"`
	Position   int     `json:"position"`
	Score      float64 `json:"score"`
	Preview    string  `json:"preview"`
	Truncated  bool    `json:"truncated,omitempty"`
}

// Message is a single turn in a conversation. Assistant messages carry the
// sources and provider metadata of the call that produced them.
type Message struct {
	ID             string    `db:"id" json:"id"`
	ConversationID string    `db:"conversation_id" json:"conversation_id"`
	Role           string    `db:"role" json:"role"` // "user" or "assistant"
	Content        string    `db:"content" json:"content"`
	Sources        []Source  `db:"sources" json:"sources,omitempty"`
	Provider       string    `db:"provider" json:"provider,omitempty"`
	Model          string    `db:"model" json:"model,omitempty"`
	TokensUsed     int       `db:"tokens_used" json:"tokens_used,omitempty"`
	Cost           float64   `db:"cost" json:"cost,omitempty"`
	LatencyMs      int64     `db:"latency_ms" json:"latency_ms,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// UsageRecord is one immutable row in the usage ledger, written once per
// provider call. Corrections are additive new records.
type UsageRecord struct {
	ID        string    `db:"id" json:"id"`
	Provider  string    `db:"provider" json:"provider"`
	Operation string    `db:"operation" json:"operation"` // "embedding" or "completion"
	Tokens    int       `db:"tokens" json:"tokens"`
	Cost      float64   `db:"cost" json:"cost"`
	LatencyMs int64     `db:"latency_ms" json:"latency_ms"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// UsageAggregate is one grouped row of the usage-stats view.
type UsageAggregate struct {
	Provider     string  `json:"provider"`
	Operation    string  `json:"operation"`
	Calls        int     `json:"calls"`
	TotalTokens  int     `json:"total_tokens"`
	TotalCost    float64 `json:"total_cost"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}
