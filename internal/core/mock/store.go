// Package mock provides in-memory fakes for tests.
package mock

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tidewater-labs/quarry/internal/core"
	"github.com/tidewater-labs/quarry/internal/models"
)

// Store is an in-memory core.Store. Job updates follow the same rules as the
// real store: progress never decreases and terminal stages never change.
type Store struct {
	mu            sync.Mutex
	documents     map[string]models.Document
	chunks        map[string]models.Chunk
	jobs          map[string]models.Job
	conversations map[string]models.Conversation
	messages      map[string][]models.Message
	usage         []models.UsageRecord

	// Optional failure injection.
	SemanticErr error
	KeywordErr  error
	UpsertErr   error
}

func NewStore() *Store {
	return &Store{
		documents:     make(map[string]models.Document),
		chunks:        make(map[string]models.Chunk),
		jobs:          make(map[string]models.Job),
		conversations: make(map[string]models.Conversation),
		messages:      make(map[string][]models.Message),
	}
}

func (s *Store) CreateDocument(_ context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	doc.UpdatedAt = doc.CreatedAt
	s.documents[doc.ID] = *doc
	return nil
}

func (s *Store) GetDocumentByID(_ context.Context, id string) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok {
		return nil, nil
	}
	return &doc, nil
}

func (s *Store) ListDocuments(_ context.Context) ([]models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Document, 0, len(s.documents))
	for _, d := range s.documents {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpdateDocumentStatus(_ context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok {
		return core.ErrNotFound
	}
	doc.Status = status
	doc.UpdatedAt = time.Now().UTC()
	s.documents[id] = doc
	return nil
}

func (s *Store) DeleteDocument(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[id]; !ok {
		return core.ErrNotFound
	}
	delete(s.documents, id)
	for cid, ch := range s.chunks {
		if ch.DocumentID == id {
			delete(s.chunks, cid)
		}
	}
	return nil
}

func (s *Store) UpsertChunks(_ context.Context, chunks []models.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UpsertErr != nil {
		return s.UpsertErr
	}
	for _, ch := range chunks {
		if prev, ok := s.chunks[ch.ID]; ok && ch.Embedding == nil {
			ch.Embedding = prev.Embedding
		}
		s.chunks[ch.ID] = ch
	}
	return nil
}

func (s *Store) GetChunksByDocument(_ context.Context, documentID string) ([]models.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Chunk
	for _, ch := range s.chunks {
		if ch.DocumentID == documentID {
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (s *Store) EmbeddedChunkIDs(_ context.Context, documentID string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool)
	for _, ch := range s.chunks {
		if ch.DocumentID == documentID && ch.Embedding != nil {
			out[ch.ID] = true
		}
	}
	return out, nil
}

func (s *Store) CreateJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	job.UpdatedAt = job.CreatedAt
	s.jobs[job.ID] = *job
	return nil
}

func (s *Store) GetJob(_ context.Context, id string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	return &job, nil
}

func (s *Store) UpdateJob(_ context.Context, id, stage string, progress int, jobErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return core.ErrNotFound
	}
	if job.Stage == "completed" || job.Stage == "failed" {
		return nil
	}
	job.Stage = stage
	if progress > job.Progress {
		job.Progress = progress
	}
	job.Error = jobErr
	job.UpdatedAt = time.Now().UTC()
	s.jobs[id] = job
	return nil
}

func (s *Store) SemanticSearch(_ context.Context, embedding []float32, filter core.SearchFilter, limit int) ([]core.ScoredChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SemanticErr != nil {
		return nil, s.SemanticErr
	}
	var hits []core.ScoredChunk
	for _, ch := range s.chunks {
		if ch.Embedding == nil || !matchesFilter(ch, filter) {
			continue
		}
		hits = append(hits, core.ScoredChunk{Chunk: ch, Score: cosine(embedding, ch.Embedding)})
	}
	return topHits(hits, limit), nil
}

func (s *Store) KeywordSearch(_ context.Context, query string, filter core.SearchFilter, limit int) ([]core.ScoredChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.KeywordErr != nil {
		return nil, s.KeywordErr
	}
	terms := strings.Fields(strings.ToLower(query))
	var hits []core.ScoredChunk
	for _, ch := range s.chunks {
		if !matchesFilter(ch, filter) {
			continue
		}
		text := strings.ToLower(ch.Text)
		score := 0.0
		for _, t := range terms {
			score += float64(strings.Count(text, t))
		}
		if score > 0 {
			hits = append(hits, core.ScoredChunk{Chunk: ch, Score: score})
		}
	}
	return topHits(hits, limit), nil
}

func (s *Store) CreateConversation(_ context.Context, conv *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}
	conv.UpdatedAt = conv.CreatedAt
	s.conversations[conv.ID] = *conv
	return nil
}

func (s *Store) GetConversation(_ context.Context, id string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, nil
	}
	return &conv, nil
}

func (s *Store) ListConversations(_ context.Context) ([]models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *Store) AppendMessage(_ context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[msg.ConversationID]; !ok {
		return core.ErrNotFound
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], *msg)
	conv := s.conversations[msg.ConversationID]
	conv.UpdatedAt = msg.CreatedAt
	s.conversations[msg.ConversationID] = conv
	return nil
}

func (s *Store) GetMessages(_ context.Context, conversationID string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.messages[conversationID]))
	copy(out, s.messages[conversationID])
	return out, nil
}

func (s *Store) DeleteConversation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[id]; !ok {
		return core.ErrNotFound
	}
	delete(s.conversations, id)
	delete(s.messages, id)
	return nil
}

func (s *Store) AppendUsage(_ context.Context, rec *models.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = append(s.usage, *rec)
	return nil
}

func (s *Store) AggregateUsage(_ context.Context, since time.Time) ([]models.UsageAggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	type key struct{ provider, operation string }
	groups := make(map[key]*models.UsageAggregate)
	latency := make(map[key]int64)
	var keys []key
	for _, rec := range s.usage {
		if rec.CreatedAt.Before(since) {
			continue
		}
		k := key{rec.Provider, rec.Operation}
		agg, ok := groups[k]
		if !ok {
			agg = &models.UsageAggregate{Provider: rec.Provider, Operation: rec.Operation}
			groups[k] = agg
			keys = append(keys, k)
		}
		agg.Calls++
		agg.TotalTokens += rec.Tokens
		agg.TotalCost += rec.Cost
		latency[k] += rec.LatencyMs
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].provider != keys[j].provider {
			return keys[i].provider < keys[j].provider
		}
		return keys[i].operation < keys[j].operation
	})
	out := make([]models.UsageAggregate, 0, len(keys))
	for _, k := range keys {
		agg := *groups[k]
		agg.AvgLatencyMs = float64(latency[k]) / float64(agg.Calls)
		out = append(out, agg)
	}
	return out, nil
}

// UsageRecords returns a copy of every appended record.
func (s *Store) UsageRecords() []models.UsageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.UsageRecord, len(s.usage))
	copy(out, s.usage)
	return out
}

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() error               { return nil }

func matchesFilter(ch models.Chunk, filter core.SearchFilter) bool {
	if len(filter.DocumentIDs) == 0 {
		return true
	}
	for _, id := range filter.DocumentIDs {
		if ch.DocumentID == id {
			return true
		}
	}
	return false
}

func topHits(hits []core.ScoredChunk, limit int) []core.ScoredChunk {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Chunk.ID < hits[j].Chunk.ID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
