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

// SettleParams moves a payment out of From. The update is a no-op when
// another event already moved it.
type SettleParams struct {
	PaymentID      uuid.UUID
	From           entity.PaymentStatus
	To             entity.PaymentStatus
	SettledEventID string
	FailureReason  *string
	Now            time.Time
}

type PaymentRepository interface {
	// Create returns false when a payment for the same provider event exists.
	Create(ctx context.Context, payment *entity.Payment) (bool, error)
	FindByProviderRef(ctx context.Context, ref string) (*entity.Payment, error)
	FindBySessionID(ctx context.Context, sessionID string) (*entity.Payment, error)
	FindByBookingID(ctx context.Context, bookingID uuid.UUID) ([]*entity.Payment, error)
	ExistsForBooking(ctx context.Context, bookingID uuid.UUID) (bool, error)
	Settle(ctx context.Context, params SettleParams) (bool, error)
}

type paymentRepository struct {
	db  database.Querier
	log *zap.Logger
}

func NewPaymentRepository(db database.Querier, log *zap.Logger) PaymentRepository {
	return &paymentRepository{
		db:  db,
		log: log.With(zap.String("repository", "payment")),
	}
}

const paymentColumns = `
	id, booking_id, amount_cents, fee_cents, payment_type, status, rail,
	provider_event_id, provider_session_id, provider_payment_ref,
	settled_event_id, failure_reason, created_at, updated_at`

func scanPayment(row rowScanner) (*entity.Payment, error) {
	var payment entity.Payment
	err := row.Scan(
		&payment.ID,
		&payment.BookingID,
		&payment.AmountCents,
		&payment.FeeCents,
		&payment.Type,
		&payment.Status,
		&payment.Rail,
		&payment.ProviderEventID,
		&payment.ProviderSessionID,
		&payment.ProviderPaymentRef,
		&payment.SettledEventID,
		&payment.FailureReason,
		&payment.CreatedAt,
		&payment.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *paymentRepository) Create(ctx context.Context, payment *entity.Payment) (bool, error) {
	query := `
		INSERT INTO payments (id, booking_id, amount_cents, fee_cents, payment_type, status, rail,
			provider_event_id, provider_session_id, provider_payment_ref, settled_event_id,
			failure_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (provider_event_id) DO NOTHING
	`

	result, err := r.db.Exec(ctx, query,
		payment.ID,
		payment.BookingID,
		payment.AmountCents,
		payment.FeeCents,
		payment.Type,
		payment.Status,
		payment.Rail,
		payment.ProviderEventID,
		payment.ProviderSessionID,
		payment.ProviderPaymentRef,
		payment.SettledEventID,
		payment.FailureReason,
		payment.CreatedAt,
		payment.UpdatedAt,
	)
	if err != nil {
		r.log.Error("Failed to create payment",
			zap.Error(err),
			zap.String("booking_id", payment.BookingID.String()),
			zap.String("provider_event_id", payment.ProviderEventID),
		)
		return false, fmt.Errorf("create payment for booking %s: %w", payment.BookingID.String(), err)
	}

	return result.RowsAffected() == 1, nil
}

func (r *paymentRepository) FindByProviderRef(ctx context.Context, ref string) (*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + `
		FROM payments
		WHERE provider_payment_ref = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	payment, err := scanPayment(r.db.QueryRow(ctx, query, ref))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.log.Error("Failed to find payment by provider reference",
			zap.Error(err),
			zap.String("provider_payment_ref", ref),
		)
		return nil, fmt.Errorf("find payment by ref %s: %w", ref, err)
	}

	return payment, nil
}

func (r *paymentRepository) FindBySessionID(ctx context.Context, sessionID string) (*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + `
		FROM payments
		WHERE provider_session_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	payment, err := scanPayment(r.db.QueryRow(ctx, query, sessionID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.log.Error("Failed to find payment by session",
			zap.Error(err),
			zap.String("session_id", sessionID),
		)
		return nil, fmt.Errorf("find payment by session %s: %w", sessionID, err)
	}

	return payment, nil
}

// FindByBookingID returns payments newest first.
func (r *paymentRepository) FindByBookingID(ctx context.Context, bookingID uuid.UUID) ([]*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + `
		FROM payments
		WHERE booking_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.Query(ctx, query, bookingID)
	if err != nil {
		r.log.Error("Failed to find payments by booking",
			zap.Error(err),
			zap.String("booking_id", bookingID.String()),
		)
		return nil, fmt.Errorf("find payments for booking %s: %w", bookingID.String(), err)
	}
	defer rows.Close()

	var payments []*entity.Payment
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			r.log.Error("Failed to scan payment row", zap.Error(err))
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		payments = append(payments, payment)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payments: %w", err)
	}

	return payments, nil
}

func (r *paymentRepository) ExistsForBooking(ctx context.Context, bookingID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM payments WHERE booking_id = $1)`

	var exists bool
	if err := r.db.QueryRow(ctx, query, bookingID).Scan(&exists); err != nil {
		r.log.Error("Failed to check payment history",
			zap.Error(err),
			zap.String("booking_id", bookingID.String()),
		)
		return false, fmt.Errorf("check payments for booking %s: %w", bookingID.String(), err)
	}

	return exists, nil
}

func (r *paymentRepository) Settle(ctx context.Context, params SettleParams) (bool, error) {
	query := `
		UPDATE payments
		SET status = $3, settled_event_id = $4, failure_reason = $5, updated_at = $6
		WHERE id = $1 AND status = $2
	`

	result, err := r.db.Exec(ctx, query,
		params.PaymentID,
		params.From,
		params.To,
		params.SettledEventID,
		params.FailureReason,
		params.Now,
	)
	if err != nil {
		r.log.Error("Failed to settle payment",
			zap.Error(err),
			zap.String("payment_id", params.PaymentID.String()),
			zap.String("to", string(params.To)),
		)
		return false, fmt.Errorf("settle payment %s: %w", params.PaymentID.String(), err)
	}

	return result.RowsAffected() == 1, nil
}
