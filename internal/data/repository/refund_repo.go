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

// UnissuedRefund is a recorded refund the provider has not confirmed,
// with what is needed to send it again.
type UnissuedRefund struct {
	Refund        *entity.Refund
	PaymentRef    string
	BookingNumber string
}

type RefundRepository interface {
	// Create returns false when a refund for the same payment and amount exists.
	Create(ctx context.Context, refund *entity.Refund) (bool, error)
	FindByPaymentAndAmount(ctx context.Context, paymentID uuid.UUID, amountCents int64) (*entity.Refund, error)
	FindByBookingID(ctx context.Context, bookingID uuid.UUID) ([]*entity.Refund, error)
	SumByPaymentID(ctx context.Context, paymentID uuid.UUID) (int64, error)
	AttachProviderRef(ctx context.Context, id uuid.UUID, ref string) (bool, error)
	// FindUnissued lists refunds without a provider reference created
	// before cutoff. Payments with no provider reference are skipped.
	FindUnissued(ctx context.Context, cutoff time.Time, limit int) ([]UnissuedRefund, error)
}

type refundRepository struct {
	db  database.Querier
	log *zap.Logger
}

func NewRefundRepository(db database.Querier, log *zap.Logger) RefundRepository {
	return &refundRepository{
		db:  db,
		log: log.With(zap.String("repository", "refund")),
	}
}

const refundColumns = `
	id, booking_id, payment_id, amount_cents, refund_type, fee_lost_cents,
	reason_code, provider_refund_ref, created_at`

func scanRefund(row rowScanner) (*entity.Refund, error) {
	var refund entity.Refund
	err := row.Scan(
		&refund.ID,
		&refund.BookingID,
		&refund.PaymentID,
		&refund.AmountCents,
		&refund.Type,
		&refund.FeeLostCents,
		&refund.ReasonCode,
		&refund.ProviderRefundRef,
		&refund.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &refund, nil
}

func (r *refundRepository) Create(ctx context.Context, refund *entity.Refund) (bool, error) {
	query := `
		INSERT INTO refunds (id, booking_id, payment_id, amount_cents, refund_type, fee_lost_cents,
			reason_code, provider_refund_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (payment_id, amount_cents) DO NOTHING
	`

	result, err := r.db.Exec(ctx, query,
		refund.ID,
		refund.BookingID,
		refund.PaymentID,
		refund.AmountCents,
		refund.Type,
		refund.FeeLostCents,
		refund.ReasonCode,
		refund.ProviderRefundRef,
		refund.CreatedAt,
	)
	if err != nil {
		r.log.Error("Failed to create refund",
			zap.Error(err),
			zap.String("payment_id", refund.PaymentID.String()),
			zap.Int64("amount_cents", refund.AmountCents),
		)
		return false, fmt.Errorf("create refund for payment %s: %w", refund.PaymentID.String(), err)
	}

	return result.RowsAffected() == 1, nil
}

func (r *refundRepository) FindByPaymentAndAmount(ctx context.Context, paymentID uuid.UUID, amountCents int64) (*entity.Refund, error) {
	query := `SELECT ` + refundColumns + ` FROM refunds WHERE payment_id = $1 AND amount_cents = $2`

	refund, err := scanRefund(r.db.QueryRow(ctx, query, paymentID, amountCents))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.log.Error("Failed to find refund",
			zap.Error(err),
			zap.String("payment_id", paymentID.String()),
		)
		return nil, fmt.Errorf("find refund for payment %s: %w", paymentID.String(), err)
	}

	return refund, nil
}

func (r *refundRepository) FindByBookingID(ctx context.Context, bookingID uuid.UUID) ([]*entity.Refund, error) {
	query := `SELECT ` + refundColumns + ` FROM refunds WHERE booking_id = $1 ORDER BY created_at`

	rows, err := r.db.Query(ctx, query, bookingID)
	if err != nil {
		r.log.Error("Failed to find refunds by booking",
			zap.Error(err),
			zap.String("booking_id", bookingID.String()),
		)
		return nil, fmt.Errorf("find refunds for booking %s: %w", bookingID.String(), err)
	}
	defer rows.Close()

	var refunds []*entity.Refund
	for rows.Next() {
		refund, err := scanRefund(rows)
		if err != nil {
			r.log.Error("Failed to scan refund row", zap.Error(err))
			return nil, fmt.Errorf("scan refund: %w", err)
		}
		refunds = append(refunds, refund)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate refunds: %w", err)
	}

	return refunds, nil
}

func (r *refundRepository) SumByPaymentID(ctx context.Context, paymentID uuid.UUID) (int64, error) {
	query := `SELECT COALESCE(SUM(amount_cents), 0) FROM refunds WHERE payment_id = $1`

	var total int64
	if err := r.db.QueryRow(ctx, query, paymentID).Scan(&total); err != nil {
		r.log.Error("Failed to sum refunds",
			zap.Error(err),
			zap.String("payment_id", paymentID.String()),
		)
		return 0, fmt.Errorf("sum refunds for payment %s: %w", paymentID.String(), err)
	}

	return total, nil
}

func (r *refundRepository) AttachProviderRef(ctx context.Context, id uuid.UUID, ref string) (bool, error) {
	query := `UPDATE refunds SET provider_refund_ref = $2 WHERE id = $1 AND provider_refund_ref IS NULL`

	result, err := r.db.Exec(ctx, query, id, ref)
	if err != nil {
		r.log.Error("Failed to attach provider refund reference",
			zap.Error(err),
			zap.String("refund_id", id.String()),
		)
		return false, fmt.Errorf("attach refund ref %s: %w", id.String(), err)
	}

	return result.RowsAffected() == 1, nil
}

func (r *refundRepository) FindUnissued(ctx context.Context, cutoff time.Time, limit int) ([]UnissuedRefund, error) {
	query := `
		SELECT r.id, r.booking_id, r.payment_id, r.amount_cents, r.refund_type, r.fee_lost_cents,
			r.reason_code, r.provider_refund_ref, r.created_at,
			p.provider_payment_ref, b.booking_number
		FROM refunds r
		JOIN payments p ON p.id = r.payment_id
		JOIN bookings b ON b.id = r.booking_id
		WHERE r.provider_refund_ref IS NULL
			AND r.created_at < $1
			AND p.provider_payment_ref <> ''
		ORDER BY r.created_at
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, cutoff, limit)
	if err != nil {
		r.log.Error("Failed to find unissued refunds", zap.Error(err))
		return nil, fmt.Errorf("find unissued refunds: %w", err)
	}
	defer rows.Close()

	var out []UnissuedRefund
	for rows.Next() {
		var (
			refund entity.Refund
			item   UnissuedRefund
		)
		err := rows.Scan(
			&refund.ID,
			&refund.BookingID,
			&refund.PaymentID,
			&refund.AmountCents,
			&refund.Type,
			&refund.FeeLostCents,
			&refund.ReasonCode,
			&refund.ProviderRefundRef,
			&refund.CreatedAt,
			&item.PaymentRef,
			&item.BookingNumber,
		)
		if err != nil {
			r.log.Error("Failed to scan unissued refund row", zap.Error(err))
			return nil, fmt.Errorf("scan unissued refund: %w", err)
		}
		item.Refund = &refund
		out = append(out, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unissued refunds: %w", err)
	}

	return out, nil
}
