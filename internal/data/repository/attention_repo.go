package repository

import (
	"context"
	"fmt"
	"time"

	"popndrop/internal/data/entity"
	"popndrop/pkg/database"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type RaiseResult int

const (
	// RaiseSkipped: the booking was not in an expected status.
	RaiseSkipped RaiseResult = iota
	RaiseCreated
	// RaiseRefreshed: an open item of the same kind already existed.
	RaiseRefreshed
)

type AttentionRepository interface {
	// Raise opens an item unless one of the same kind is open for the
	// booking. With a non-empty expected list the insert only happens
	// while the booking is in one of those statuses.
	Raise(ctx context.Context, item *entity.AttentionItem, expected []entity.BookingStatus) (RaiseResult, error)
	Resolve(ctx context.Context, id uuid.UUID, now time.Time) (*entity.AttentionItem, error)
	FindOpenByBookingID(ctx context.Context, bookingID uuid.UUID) ([]*entity.AttentionItem, error)
	ListOpen(ctx context.Context, limit, offset int) ([]*entity.AttentionItem, error)
	CountOpen(ctx context.Context) (int64, error)
}

type attentionRepository struct {
	db  database.Querier
	log *zap.Logger
}

func NewAttentionRepository(db database.Querier, log *zap.Logger) AttentionRepository {
	return &attentionRepository{
		db:  db,
		log: log.With(zap.String("repository", "attention")),
	}
}

const attentionColumns = `id, booking_id, kind, reason, created_at, last_seen_at, resolved_at`

func scanAttention(row rowScanner) (*entity.AttentionItem, error) {
	var item entity.AttentionItem
	err := row.Scan(
		&item.ID,
		&item.BookingID,
		&item.Kind,
		&item.Reason,
		&item.CreatedAt,
		&item.LastSeenAt,
		&item.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *attentionRepository) Raise(ctx context.Context, item *entity.AttentionItem, expected []entity.BookingStatus) (RaiseResult, error) {
	query := `
		INSERT INTO attention_items (id, booking_id, kind, reason, created_at, last_seen_at)
		SELECT $1, b.id, $3, $4, $5, $5
		FROM bookings b
		WHERE b.id = $2 AND (cardinality($6::text[]) = 0 OR b.status = ANY($6::text[]))
		ON CONFLICT (booking_id, kind) WHERE resolved_at IS NULL
		DO UPDATE SET last_seen_at = EXCLUDED.last_seen_at, reason = EXCLUDED.reason
		RETURNING (xmax = 0)
	`

	var inserted bool
	err := r.db.QueryRow(ctx, query,
		item.ID,
		item.BookingID,
		item.Kind,
		item.Reason,
		item.CreatedAt,
		statusStrings(expected),
	).Scan(&inserted)

	if err == pgx.ErrNoRows {
		return RaiseSkipped, nil
	}
	if err != nil {
		r.log.Error("Failed to raise attention item",
			zap.Error(err),
			zap.String("booking_id", item.BookingID.String()),
			zap.String("kind", string(item.Kind)),
		)
		return RaiseSkipped, fmt.Errorf("raise attention %s for booking %s: %w", item.Kind, item.BookingID.String(), err)
	}

	if inserted {
		return RaiseCreated, nil
	}
	return RaiseRefreshed, nil
}

func (r *attentionRepository) Resolve(ctx context.Context, id uuid.UUID, now time.Time) (*entity.AttentionItem, error) {
	query := `
		UPDATE attention_items
		SET resolved_at = $2
		WHERE id = $1 AND resolved_at IS NULL
		RETURNING ` + attentionColumns

	item, err := scanAttention(r.db.QueryRow(ctx, query, id, now))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.log.Error("Failed to resolve attention item",
			zap.Error(err),
			zap.String("attention_id", id.String()),
		)
		return nil, fmt.Errorf("resolve attention %s: %w", id.String(), err)
	}

	return item, nil
}

func (r *attentionRepository) FindOpenByBookingID(ctx context.Context, bookingID uuid.UUID) ([]*entity.AttentionItem, error) {
	query := `SELECT ` + attentionColumns + `
		FROM attention_items
		WHERE booking_id = $1 AND resolved_at IS NULL
		ORDER BY created_at
	`
	return r.findMany(ctx, query, bookingID)
}

func (r *attentionRepository) ListOpen(ctx context.Context, limit, offset int) ([]*entity.AttentionItem, error) {
	query := `SELECT ` + attentionColumns + `
		FROM attention_items
		WHERE resolved_at IS NULL
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`
	return r.findMany(ctx, query, limit, offset)
}

func (r *attentionRepository) CountOpen(ctx context.Context) (int64, error) {
	query := `SELECT COUNT(*) FROM attention_items WHERE resolved_at IS NULL`

	var count int64
	if err := r.db.QueryRow(ctx, query).Scan(&count); err != nil {
		r.log.Error("Failed to count open attention items", zap.Error(err))
		return 0, fmt.Errorf("count open attention items: %w", err)
	}

	return count, nil
}

func (r *attentionRepository) findMany(ctx context.Context, query string, args ...any) ([]*entity.AttentionItem, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		r.log.Error("Failed to query attention items", zap.Error(err))
		return nil, fmt.Errorf("find attention items: %w", err)
	}
	defer rows.Close()

	var items []*entity.AttentionItem
	for rows.Next() {
		item, err := scanAttention(rows)
		if err != nil {
			r.log.Error("Failed to scan attention row", zap.Error(err))
			return nil, fmt.Errorf("scan attention item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attention items: %w", err)
	}

	return items, nil
}
