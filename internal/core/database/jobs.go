package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tidewater-labs/quarry/internal/models"
)

func (s *Store) CreateJob(ctx context.Context, job *models.Job) error {
	if job == nil {
		return errors.New("nil job")
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}
	const q = `
		INSERT INTO jobs (id, document_id, stage, progress, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, q,
		job.ID, job.DocumentID, job.Stage, job.Progress, job.CreatedAt, job.UpdatedAt)
	return err
}

func (s *Store) GetJob(ctx context.Context, id string) (*models.Job, error) {
	const q = `
		SELECT id, document_id, stage, progress, COALESCE(error, ''), created_at, updated_at
		FROM jobs
		WHERE id = $1
	`
	var j models.Job
	err := s.db.QueryRowContext(ctx, q, id).Scan(
		&j.ID, &j.DocumentID, &j.Stage, &j.Progress, &j.Error, &j.CreatedAt, &j.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// UpdateJob persists the next stage and progress. Terminal rows are never
// touched and progress can only grow, so polling clients always observe a
// monotonic sequence even if stage writers race.
func (s *Store) UpdateJob(ctx context.Context, id string, stage string, progress int, jobErr string) error {
	const q = `
		UPDATE jobs
		SET stage = $2,
		    progress = GREATEST(progress, $3),
		    error = NULLIF($4, ''),
		    updated_at = now()
		WHERE id = $1 AND stage NOT IN ('completed', 'failed')
	`
	res, err := s.db.ExecContext(ctx, q, id, stage, progress, jobErr)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("job %s is terminal or missing", id)
	}
	return nil
}
