package core

import (
	"context"
	"io"
	"time"

	"github.com/tidewater-labs/quarry/internal/models"
)

// SearchFilter narrows retrieval to a subset of the corpus.
type SearchFilter struct {
	DocumentIDs []string `json:"document_ids,omitempty"`
}

// ScoredChunk is a chunk with the raw score assigned by one search source.
type ScoredChunk struct {
	Chunk models.Chunk
	Score float64
}

// Store defines all persistence operations the service needs. It abstracts
// Postgres/pgvector so higher layers never depend on a specific DB.
type Store interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocumentByID(ctx context.Context, id string) (*models.Document, error)
	ListDocuments(ctx context.Context) ([]models.Document, error)
	UpdateDocumentStatus(ctx context.Context, id string, status string) error
	DeleteDocument(ctx context.Context, id string) error

	// UpsertChunks writes chunks keyed by id; re-running ingestion on the
	// same chunk ids must not duplicate rows.
	UpsertChunks(ctx context.Context, chunks []models.Chunk) error
	GetChunksByDocument(ctx context.Context, documentID string) ([]models.Chunk, error)
	// EmbeddedChunkIDs reports which of a document's chunks already carry an
	// embedding, so re-ingestion can skip them.
	EmbeddedChunkIDs(ctx context.Context, documentID string) (map[string]bool, error)

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	// UpdateJob persists stage and progress. Implementations must never let
	// progress decrease or a terminal stage change.
	UpdateJob(ctx context.Context, id string, stage string, progress int, jobErr string) error

	SemanticSearch(ctx context.Context, embedding []float32, filter SearchFilter, limit int) ([]ScoredChunk, error)
	KeywordSearch(ctx context.Context, query string, filter SearchFilter, limit int) ([]ScoredChunk, error)

	CreateConversation(ctx context.Context, conv *models.Conversation) error
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	ListConversations(ctx context.Context) ([]models.Conversation, error)
	AppendMessage(ctx context.Context, msg *models.Message) error
	GetMessages(ctx context.Context, conversationID string) ([]models.Message, error)
	DeleteConversation(ctx context.Context, id string) error

	AppendUsage(ctx context.Context, rec *models.UsageRecord) error
	AggregateUsage(ctx context.Context, since time.Time) ([]models.UsageAggregate, error)

	Ping(ctx context.Context) error
	Close() error
}

// ObjectStore defines interactions with S3 or any compatible object storage.
type ObjectStore interface {
	UploadFile(ctx context.Context, bucket, key string, data io.Reader, contentType string) (url string, err error)
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)
	DeleteFile(ctx context.Context, bucket, key string) error
}

// EmbeddingProvider turns texts into vectors, one vector per input text.
type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	Name() string
}

// LLMProvider produces a grounded completion for a prompt pair.
type LLMProvider interface {
	Generate(ctx context.Context, systemPrompt string, userPrompt string) (string, error)
	Name() string
	Model() string
}

// DocumentExtractor pulls plain text out of a stored file. The contentType
// hint selects the parsing strategy.
type DocumentExtractor interface {
	Extract(ctx context.Context, data []byte, contentType string) (string, error)
}
