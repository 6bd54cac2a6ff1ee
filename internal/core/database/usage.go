package db

import (
	"context"
	"errors"
	"time"

	"github.com/tidewater-labs/quarry/internal/models"
)

// AppendUsage writes one immutable ledger row. There is deliberately no
// update path; corrections are additive new records.
func (s *Store) AppendUsage(ctx context.Context, rec *models.UsageRecord) error {
	if rec == nil {
		return errors.New("nil usage record")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	const q = `
		INSERT INTO usage_records (id, provider, operation, tokens, cost, latency_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, q,
		rec.ID, rec.Provider, rec.Operation, rec.Tokens, rec.Cost, rec.LatencyMs, rec.CreatedAt)
	return err
}

// AggregateUsage groups ledger rows since the given time by provider and
// operation.
func (s *Store) AggregateUsage(ctx context.Context, since time.Time) ([]models.UsageAggregate, error) {
	const q = `
		SELECT provider, operation,
		       COUNT(*) AS calls,
		       COALESCE(SUM(tokens), 0) AS total_tokens,
		       COALESCE(SUM(cost), 0) AS total_cost,
		       COALESCE(AVG(latency_ms), 0) AS avg_latency_ms
		FROM usage_records
		WHERE created_at >= $1
		GROUP BY provider, operation
		ORDER BY provider, operation
	`
	rows, err := s.db.QueryContext(ctx, q, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.UsageAggregate
	for rows.Next() {
		var a models.UsageAggregate
		if err := rows.Scan(&a.Provider, &a.Operation, &a.Calls, &a.TotalTokens, &a.TotalCost, &a.AvgLatencyMs); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
