package repository

import (
	"context"
	"fmt"
	"time"

	"popndrop/pkg/database"

	"go.uber.org/zap"
)

// ProcessedEventRepository is the idempotency ledger for provider events.
type ProcessedEventRepository interface {
	AlreadyProcessed(ctx context.Context, eventID string) (bool, error)
	// MarkProcessed returns false when the event id was already recorded.
	// Inside a transaction a concurrent insert of the same id blocks until
	// the other transaction finishes.
	MarkProcessed(ctx context.Context, eventID, eventType string, now time.Time) (bool, error)
}

type processedEventRepository struct {
	db  database.Querier
	log *zap.Logger
}

func NewProcessedEventRepository(db database.Querier, log *zap.Logger) ProcessedEventRepository {
	return &processedEventRepository{
		db:  db,
		log: log.With(zap.String("repository", "processed_event")),
	}
}

func (r *processedEventRepository) AlreadyProcessed(ctx context.Context, eventID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM processed_events WHERE event_id = $1)`

	var exists bool
	if err := r.db.QueryRow(ctx, query, eventID).Scan(&exists); err != nil {
		r.log.Error("Failed to check processed event",
			zap.Error(err),
			zap.String("event_id", eventID),
		)
		return false, fmt.Errorf("check processed event %s: %w", eventID, err)
	}

	return exists, nil
}

func (r *processedEventRepository) MarkProcessed(ctx context.Context, eventID, eventType string, now time.Time) (bool, error) {
	query := `
		INSERT INTO processed_events (event_id, event_type, processed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id) DO NOTHING
	`

	result, err := r.db.Exec(ctx, query, eventID, eventType, now)
	if err != nil {
		r.log.Error("Failed to mark event processed",
			zap.Error(err),
			zap.String("event_id", eventID),
			zap.String("event_type", eventType),
		)
		return false, fmt.Errorf("mark event %s processed: %w", eventID, err)
	}

	return result.RowsAffected() == 1, nil
}
