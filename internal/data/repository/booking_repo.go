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

// ConfirmParams describes a guarded confirmation. The update only lands
// when the booking is still in one of From and still has an active hold.
type ConfirmParams struct {
	BookingID    uuid.UUID
	From         []entity.BookingStatus
	To           entity.BookingStatus
	DepositPaid  bool
	BalancePaid  bool
	AsyncSettled bool
	Now          time.Time
}

type BookingRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*entity.Booking, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*entity.Booking, error)

	// Conditional transitions; false means the precondition no longer held.
	Confirm(ctx context.Context, params ConfirmParams) (bool, error)
	MarkAsyncPending(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	MarkAsyncFailed(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	Cancel(ctx context.Context, id uuid.UUID, from []entity.BookingStatus, now time.Time) (bool, error)
	DeleteUnpaid(ctx context.Context, id uuid.UUID) (bool, error)
	FlagAttention(ctx context.Context, id uuid.UUID, reason string, now time.Time) error
	ClearAttention(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)

	// Sweep queries
	DeleteExpiredUnpaid(ctx context.Context, now time.Time) (int64, error)
	CancelExpiredWithHistory(ctx context.Context, now time.Time) (int64, error)
	AutoComplete(ctx context.Context, pickupCutoff, now time.Time) ([]uuid.UUID, error)
	FindBalanceOutstanding(ctx context.Context, now time.Time) ([]*entity.Booking, error)
	FindDeliveryUnconfirmed(ctx context.Context, deliveryCutoff time.Time) ([]*entity.Booking, error)
	FindAsyncStale(ctx context.Context, pendingSince time.Time) ([]*entity.Booking, error)
}

type bookingRepository struct {
	db  database.Querier
	log *zap.Logger
}

func NewBookingRepository(db database.Querier, log *zap.Logger) BookingRepository {
	return &bookingRepository{
		db:  db,
		log: log.With(zap.String("repository", "booking")),
	}
}

const bookingColumns = `
	b.id, b.booking_number, b.status, b.customer_name, b.customer_email, b.event_date,
	b.delivery_at, b.pickup_at, b.subtotal_cents, b.deposit_cents, b.balance_due_cents,
	b.deposit_paid, b.balance_paid, b.is_async_payment, b.async_payment_status,
	b.needs_attention, b.attention_reason, b.delivery_confirmed_at, b.pickup_confirmed_at,
	b.cancelled_at, b.completed_at, b.created_at, b.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*entity.Booking, error) {
	var booking entity.Booking
	err := row.Scan(
		&booking.ID,
		&booking.BookingNumber,
		&booking.Status,
		&booking.CustomerName,
		&booking.CustomerEmail,
		&booking.EventDate,
		&booking.DeliveryAt,
		&booking.PickupAt,
		&booking.SubtotalCents,
		&booking.DepositCents,
		&booking.BalanceDueCents,
		&booking.DepositPaid,
		&booking.BalancePaid,
		&booking.IsAsyncPayment,
		&booking.AsyncPaymentStatus,
		&booking.NeedsAttention,
		&booking.AttentionReason,
		&booking.DeliveryConfirmedAt,
		&booking.PickupConfirmedAt,
		&booking.CancelledAt,
		&booking.CompletedAt,
		&booking.CreatedAt,
		&booking.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &booking, nil
}

func statusStrings(statuses []entity.BookingStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func (r *bookingRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings b WHERE b.id = $1`

	booking, err := scanBooking(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.log.Error("Failed to find booking by ID",
			zap.Error(err),
			zap.String("booking_id", id.String()),
		)
		return nil, fmt.Errorf("find booking by ID %s: %w", id.String(), err)
	}

	return booking, nil
}

// FindByIDForUpdate locks the booking row until the surrounding
// transaction ends. Outside a transaction it behaves like FindByID.
func (r *bookingRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*entity.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings b WHERE b.id = $1 FOR UPDATE`

	booking, err := scanBooking(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.log.Error("Failed to lock booking",
			zap.Error(err),
			zap.String("booking_id", id.String()),
		)
		return nil, fmt.Errorf("lock booking %s: %w", id.String(), err)
	}

	return booking, nil
}

func (r *bookingRepository) Confirm(ctx context.Context, params ConfirmParams) (bool, error) {
	query := `
		UPDATE bookings b
		SET status = $3,
			deposit_paid = b.deposit_paid OR $4,
			balance_paid = b.balance_paid OR $5,
			async_payment_status = CASE WHEN $6::boolean THEN 'succeeded' ELSE b.async_payment_status END,
			updated_at = $7
		WHERE b.id = $1
			AND b.status = ANY($2)
			AND EXISTS (
				SELECT 1 FROM booking_holds h
				WHERE h.booking_id = b.id AND (h.expires_at IS NULL OR h.expires_at > $7)
			)
	`

	result, err := r.db.Exec(ctx, query,
		params.BookingID,
		statusStrings(params.From),
		params.To,
		params.DepositPaid,
		params.BalancePaid,
		params.AsyncSettled,
		params.Now,
	)
	if err != nil {
		r.log.Error("Failed to confirm booking",
			zap.Error(err),
			zap.String("booking_id", params.BookingID.String()),
		)
		return false, fmt.Errorf("confirm booking %s: %w", params.BookingID.String(), err)
	}

	return result.RowsAffected() == 1, nil
}

func (r *bookingRepository) MarkAsyncPending(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	query := `
		UPDATE bookings
		SET is_async_payment = TRUE, async_payment_status = 'pending', updated_at = $2
		WHERE id = $1 AND status = 'pending'
	`

	result, err := r.db.Exec(ctx, query, id, now)
	if err != nil {
		r.log.Error("Failed to mark async payment pending",
			zap.Error(err),
			zap.String("booking_id", id.String()),
		)
		return false, fmt.Errorf("mark async pending %s: %w", id.String(), err)
	}

	return result.RowsAffected() == 1, nil
}

func (r *bookingRepository) MarkAsyncFailed(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	query := `
		UPDATE bookings
		SET async_payment_status = 'failed', updated_at = $2
		WHERE id = $1 AND status = 'pending' AND is_async_payment
	`

	result, err := r.db.Exec(ctx, query, id, now)
	if err != nil {
		r.log.Error("Failed to mark async payment failed",
			zap.Error(err),
			zap.String("booking_id", id.String()),
		)
		return false, fmt.Errorf("mark async failed %s: %w", id.String(), err)
	}

	return result.RowsAffected() == 1, nil
}

func (r *bookingRepository) Cancel(ctx context.Context, id uuid.UUID, from []entity.BookingStatus, now time.Time) (bool, error) {
	query := `
		UPDATE bookings
		SET status = 'cancelled', cancelled_at = $3, updated_at = $3
		WHERE id = $1 AND status = ANY($2)
	`

	result, err := r.db.Exec(ctx, query, id, statusStrings(from), now)
	if err != nil {
		r.log.Error("Failed to cancel booking",
			zap.Error(err),
			zap.String("booking_id", id.String()),
		)
		return false, fmt.Errorf("cancel booking %s: %w", id.String(), err)
	}

	return result.RowsAffected() == 1, nil
}

// DeleteUnpaid removes a booking that never progressed past an unpaid
// hold. Holds go with it through the foreign key cascade.
func (r *bookingRepository) DeleteUnpaid(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		DELETE FROM bookings b
		WHERE b.id = $1
			AND b.status = 'pending'
			AND NOT b.is_async_payment
			AND NOT EXISTS (SELECT 1 FROM payments p WHERE p.booking_id = b.id)
	`

	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		r.log.Error("Failed to delete unpaid booking",
			zap.Error(err),
			zap.String("booking_id", id.String()),
		)
		return false, fmt.Errorf("delete unpaid booking %s: %w", id.String(), err)
	}

	return result.RowsAffected() == 1, nil
}

func (r *bookingRepository) FlagAttention(ctx context.Context, id uuid.UUID, reason string, now time.Time) error {
	query := `
		UPDATE bookings
		SET needs_attention = TRUE, attention_reason = $2, updated_at = $3
		WHERE id = $1
	`

	_, err := r.db.Exec(ctx, query, id, reason, now)
	if err != nil {
		r.log.Error("Failed to flag booking for attention",
			zap.Error(err),
			zap.String("booking_id", id.String()),
		)
		return fmt.Errorf("flag attention %s: %w", id.String(), err)
	}

	return nil
}

// ClearAttention drops the flag only when no unresolved item is left.
func (r *bookingRepository) ClearAttention(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	query := `
		UPDATE bookings b
		SET needs_attention = FALSE, attention_reason = NULL, updated_at = $2
		WHERE b.id = $1
			AND NOT EXISTS (
				SELECT 1 FROM attention_items a
				WHERE a.booking_id = b.id AND a.resolved_at IS NULL
			)
	`

	result, err := r.db.Exec(ctx, query, id, now)
	if err != nil {
		r.log.Error("Failed to clear booking attention",
			zap.Error(err),
			zap.String("booking_id", id.String()),
		)
		return false, fmt.Errorf("clear attention %s: %w", id.String(), err)
	}

	return result.RowsAffected() == 1, nil
}

func (r *bookingRepository) DeleteExpiredUnpaid(ctx context.Context, now time.Time) (int64, error) {
	query := `
		DELETE FROM bookings b
		WHERE b.status = 'pending'
			AND NOT b.is_async_payment
			AND NOT EXISTS (
				SELECT 1 FROM booking_holds h
				WHERE h.booking_id = b.id AND (h.expires_at IS NULL OR h.expires_at > $1)
			)
			AND NOT EXISTS (SELECT 1 FROM payments p WHERE p.booking_id = b.id)
	`

	result, err := r.db.Exec(ctx, query, now)
	if err != nil {
		r.log.Error("Failed to delete expired unpaid bookings", zap.Error(err))
		return 0, fmt.Errorf("delete expired unpaid bookings: %w", err)
	}

	return result.RowsAffected(), nil
}

// CancelExpiredWithHistory cancels expired pending bookings that carry
// payment rows (failed or rejected) and therefore cannot be deleted.
func (r *bookingRepository) CancelExpiredWithHistory(ctx context.Context, now time.Time) (int64, error) {
	query := `
		WITH cancelled AS (
			UPDATE bookings b
			SET status = 'cancelled', cancelled_at = $1, updated_at = $1
			WHERE b.status = 'pending'
				AND (NOT b.is_async_payment OR b.async_payment_status IS DISTINCT FROM 'pending')
				AND NOT EXISTS (
					SELECT 1 FROM booking_holds h
					WHERE h.booking_id = b.id AND (h.expires_at IS NULL OR h.expires_at > $1)
				)
				AND EXISTS (SELECT 1 FROM payments p WHERE p.booking_id = b.id)
			RETURNING b.id
		), released AS (
			DELETE FROM booking_holds h USING cancelled c WHERE h.booking_id = c.id
		)
		SELECT count(*) FROM cancelled
	`

	var count int64
	if err := r.db.QueryRow(ctx, query, now).Scan(&count); err != nil {
		r.log.Error("Failed to cancel expired bookings with payment history", zap.Error(err))
		return 0, fmt.Errorf("cancel expired bookings: %w", err)
	}

	return count, nil
}

func (r *bookingRepository) AutoComplete(ctx context.Context, pickupCutoff, now time.Time) ([]uuid.UUID, error) {
	query := `
		UPDATE bookings
		SET status = 'completed', completed_at = $2, updated_at = $2
		WHERE status = 'confirmed' AND deposit_paid AND balance_paid AND pickup_at <= $1
		RETURNING id
	`

	rows, err := r.db.Query(ctx, query, pickupCutoff, now)
	if err != nil {
		r.log.Error("Failed to auto-complete bookings", zap.Error(err))
		return nil, fmt.Errorf("auto-complete bookings: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			r.log.Error("Failed to scan completed booking ID", zap.Error(err))
			return nil, fmt.Errorf("scan completed booking: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate completed bookings: %w", err)
	}

	return ids, nil
}

func (r *bookingRepository) FindBalanceOutstanding(ctx context.Context, now time.Time) ([]*entity.Booking, error) {
	query := `SELECT ` + bookingColumns + `
		FROM bookings b
		WHERE b.status = 'confirmed'
			AND NOT b.balance_paid
			AND b.balance_due_cents > 0
			AND b.pickup_at <= $1
		ORDER BY b.pickup_at
	`
	return r.findMany(ctx, "balance outstanding", query, now)
}

func (r *bookingRepository) FindDeliveryUnconfirmed(ctx context.Context, deliveryCutoff time.Time) ([]*entity.Booking, error) {
	query := `SELECT ` + bookingColumns + `
		FROM bookings b
		WHERE b.status = 'confirmed'
			AND b.delivery_confirmed_at IS NULL
			AND b.delivery_at <= $1
		ORDER BY b.delivery_at
	`
	return r.findMany(ctx, "delivery unconfirmed", query, deliveryCutoff)
}

func (r *bookingRepository) FindAsyncStale(ctx context.Context, pendingSince time.Time) ([]*entity.Booking, error) {
	query := `SELECT ` + bookingColumns + `
		FROM bookings b
		WHERE b.status = 'pending'
			AND b.is_async_payment
			AND b.async_payment_status = 'pending'
			AND EXISTS (
				SELECT 1 FROM payments p
				WHERE p.booking_id = b.id AND p.status = 'pending' AND p.created_at <= $1
			)
		ORDER BY b.created_at
	`
	return r.findMany(ctx, "async stale", query, pendingSince)
}

func (r *bookingRepository) findMany(ctx context.Context, label, query string, args ...any) ([]*entity.Booking, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		r.log.Error("Failed to query bookings", zap.Error(err), zap.String("query", label))
		return nil, fmt.Errorf("find %s bookings: %w", label, err)
	}
	defer rows.Close()

	var bookings []*entity.Booking
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			r.log.Error("Failed to scan booking row", zap.Error(err), zap.String("query", label))
			return nil, fmt.Errorf("scan %s booking: %w", label, err)
		}
		bookings = append(bookings, booking)
	}

	if err := rows.Err(); err != nil {
		r.log.Error("Error iterating booking rows", zap.Error(err), zap.String("query", label))
		return nil, fmt.Errorf("iterate %s bookings: %w", label, err)
	}

	return bookings, nil
}
