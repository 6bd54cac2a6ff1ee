// Package usage implements the append-only provider-call ledger.
package usage

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tidewater-labs/quarry/internal/models"
)

// Recorder is the slice of the store the ledger needs.
type Recorder interface {
	AppendUsage(ctx context.Context, rec *models.UsageRecord) error
	AggregateUsage(ctx context.Context, since time.Time) ([]models.UsageAggregate, error)
}

// Pricing maps an operation kind to its cost per 1k tokens.
type Pricing map[string]float64

// Ledger appends one record per provider call and aggregates them by time
// window. Records are never mutated; a correction is a new record. It is
// safe for concurrent use by search and ingestion workers.
type Ledger struct {
	store   Recorder
	pricing Pricing
	logger  *slog.Logger
}

func NewLedger(store Recorder, pricing Pricing, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	if pricing == nil {
		pricing = Pricing{}
	}
	return &Ledger{store: store, pricing: pricing, logger: logger}
}

// Record appends a ledger row and returns the computed cost. A failed append
// is logged, not propagated: accounting must never fail the provider call it
// describes.
func (l *Ledger) Record(ctx context.Context, provider, operation string, tokens int, latency time.Duration) float64 {
	cost := float64(tokens) / 1000 * l.pricing[operation]

	rec := &models.UsageRecord{
		ID:        uuid.NewString(),
		Provider:  provider,
		Operation: operation,
		Tokens:    tokens,
		Cost:      cost,
		LatencyMs: latency.Milliseconds(),
		CreatedAt: time.Now().UTC(),
	}
	if err := l.store.AppendUsage(ctx, rec); err != nil {
		l.logger.Error("usage append failed", "provider", provider, "operation", operation, "err", err)
	}
	return cost
}

// Aggregate returns grouped counts, token and cost sums and average latency
// for the last N days.
func (l *Ledger) Aggregate(ctx context.Context, days int) ([]models.UsageAggregate, error) {
	if days < 1 {
		days = 1
	}
	since := time.Now().UTC().AddDate(0, 0, -days)
	return l.store.AggregateUsage(ctx, since)
}
