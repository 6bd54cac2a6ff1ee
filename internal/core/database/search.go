package db

import (
	"context"

	"github.com/pgvector/pgvector-go"

	"github.com/tidewater-labs/quarry/internal/core"
	"github.com/tidewater-labs/quarry/internal/models"
)

// SemanticSearch returns the nearest embedded chunks by cosine similarity.
// Scores are 1 - cosine distance, so larger is closer.
func (s *Store) SemanticSearch(ctx context.Context, embedding []float32, filter core.SearchFilter, limit int) ([]core.ScoredChunk, error) {
	const q = `
		SELECT id, document_id, position, text, start_offset, end_offset, token_count,
		       1 - (embedding <=> $1) AS score
		FROM document_chunks
		WHERE embedding IS NOT NULL
		  AND ($2::uuid[] IS NULL OR document_id = ANY($2))
		ORDER BY embedding <=> $1
		LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, q, pgvector.NewVector(embedding), docIDsParam(filter), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanScored(rows)
}

// KeywordSearch ranks chunks against the query with the full-text index.
// websearch_to_tsquery tolerates free-form user input without syntax errors.
func (s *Store) KeywordSearch(ctx context.Context, query string, filter core.SearchFilter, limit int) ([]core.ScoredChunk, error) {
	const q = `
		SELECT id, document_id, position, text, start_offset, end_offset, token_count,
		       ts_rank_cd(text_search, websearch_to_tsquery('english', $1)) AS score
		FROM document_chunks
		WHERE text_search @@ websearch_to_tsquery('english', $1)
		  AND ($2::uuid[] IS NULL OR document_id = ANY($2))
		ORDER BY score DESC, id ASC
		LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, q, query, docIDsParam(filter), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanScored(rows)
}

func docIDsParam(filter core.SearchFilter) []string {
	if len(filter.DocumentIDs) == 0 {
		return nil // nil slice binds as SQL NULL, disabling the filter
	}
	return filter.DocumentIDs
}

type scoredRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanScored(rows scoredRows) ([]core.ScoredChunk, error) {
	var out []core.ScoredChunk
	for rows.Next() {
		var (
			ch    models.Chunk
			score float64
		)
		if err := rows.Scan(&ch.ID, &ch.DocumentID, &ch.Position, &ch.Text,
			&ch.StartOffset, &ch.EndOffset, &ch.TokenCount, &score); err != nil {
			return nil, err
		}
		out = append(out, core.ScoredChunk{Chunk: ch, Score: score})
	}
	return out, rows.Err()
}
