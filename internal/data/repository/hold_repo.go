package repository

import (
	"context"
	"fmt"
	"time"

	"popndrop/internal/data/entity"
	"popndrop/pkg/database"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type HoldRepository interface {
	FindByBookingID(ctx context.Context, bookingID uuid.UUID) ([]*entity.BookingHold, error)
	CountActive(ctx context.Context, bookingID uuid.UUID, now time.Time) (int, error)
	MakeFirm(ctx context.Context, bookingID uuid.UUID, now time.Time) (int64, error)
	ExpireFirm(ctx context.Context, bookingID uuid.UUID, expiresAt time.Time) (int64, error)
	DeleteByBookingID(ctx context.Context, bookingID uuid.UUID) (int64, error)
}

type holdRepository struct {
	db  database.Querier
	log *zap.Logger
}

func NewHoldRepository(db database.Querier, log *zap.Logger) HoldRepository {
	return &holdRepository{
		db:  db,
		log: log.With(zap.String("repository", "hold")),
	}
}

func (r *holdRepository) FindByBookingID(ctx context.Context, bookingID uuid.UUID) ([]*entity.BookingHold, error) {
	query := `
		SELECT id, booking_id, unit_id, starts_at, ends_at, expires_at, created_at
		FROM booking_holds
		WHERE booking_id = $1
		ORDER BY starts_at
	`

	rows, err := r.db.Query(ctx, query, bookingID)
	if err != nil {
		r.log.Error("Failed to find holds",
			zap.Error(err),
			zap.String("booking_id", bookingID.String()),
		)
		return nil, fmt.Errorf("find holds for booking %s: %w", bookingID.String(), err)
	}
	defer rows.Close()

	var holds []*entity.BookingHold
	for rows.Next() {
		var hold entity.BookingHold
		err := rows.Scan(
			&hold.ID,
			&hold.BookingID,
			&hold.UnitID,
			&hold.StartsAt,
			&hold.EndsAt,
			&hold.ExpiresAt,
			&hold.CreatedAt,
		)
		if err != nil {
			r.log.Error("Failed to scan hold row", zap.Error(err))
			return nil, fmt.Errorf("scan hold: %w", err)
		}
		holds = append(holds, &hold)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate holds: %w", err)
	}

	return holds, nil
}

func (r *holdRepository) CountActive(ctx context.Context, bookingID uuid.UUID, now time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM booking_holds
		WHERE booking_id = $1 AND (expires_at IS NULL OR expires_at > $2)
	`

	var count int
	if err := r.db.QueryRow(ctx, query, bookingID, now).Scan(&count); err != nil {
		r.log.Error("Failed to count active holds",
			zap.Error(err),
			zap.String("booking_id", bookingID.String()),
		)
		return 0, fmt.Errorf("count active holds %s: %w", bookingID.String(), err)
	}

	return count, nil
}

// MakeFirm stops active holds from expiring. Already-expired holds are
// left alone so they cannot be resurrected.
func (r *holdRepository) MakeFirm(ctx context.Context, bookingID uuid.UUID, now time.Time) (int64, error) {
	query := `
		UPDATE booking_holds
		SET expires_at = NULL
		WHERE booking_id = $1 AND expires_at > $2
	`

	result, err := r.db.Exec(ctx, query, bookingID, now)
	if err != nil {
		r.log.Error("Failed to make holds firm",
			zap.Error(err),
			zap.String("booking_id", bookingID.String()),
		)
		return 0, fmt.Errorf("make holds firm %s: %w", bookingID.String(), err)
	}

	return result.RowsAffected(), nil
}

// ExpireFirm gives firm holds a deadline again, so the expiry sweep can
// release them if nobody pays.
func (r *holdRepository) ExpireFirm(ctx context.Context, bookingID uuid.UUID, expiresAt time.Time) (int64, error) {
	query := `
		UPDATE booking_holds
		SET expires_at = $2
		WHERE booking_id = $1 AND expires_at IS NULL
	`

	result, err := r.db.Exec(ctx, query, bookingID, expiresAt)
	if err != nil {
		r.log.Error("Failed to put holds back on expiry",
			zap.Error(err),
			zap.String("booking_id", bookingID.String()),
		)
		return 0, fmt.Errorf("expire firm holds %s: %w", bookingID.String(), err)
	}

	return result.RowsAffected(), nil
}

func (r *holdRepository) DeleteByBookingID(ctx context.Context, bookingID uuid.UUID) (int64, error) {
	query := `DELETE FROM booking_holds WHERE booking_id = $1`

	result, err := r.db.Exec(ctx, query, bookingID)
	if err != nil {
		r.log.Error("Failed to release holds",
			zap.Error(err),
			zap.String("booking_id", bookingID.String()),
		)
		return 0, fmt.Errorf("release holds %s: %w", bookingID.String(), err)
	}

	return result.RowsAffected(), nil
}
