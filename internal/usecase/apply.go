package usecase

import (
	"context"
	"fmt"
	"time"

	"popndrop/internal/data/repository"
	"popndrop/internal/reconcile"

	"github.com/google/uuid"
)

// applyDecision writes a decision inside tx. Every booking and payment
// write is conditional; a write that matches no row aborts the
// transaction with ErrStaleBooking.
func applyDecision(ctx context.Context, tx *repository.Repository, d reconcile.Decision, eventID string, now time.Time) error {
	if p := d.NewPayment; p != nil {
		created, err := tx.Payment.Create(ctx, p)
		if err != nil {
			return err
		}
		if !created {
			return fmt.Errorf("%w: payment for event %s already recorded", ErrStaleBooking, p.ProviderEventID)
		}
	}

	if s := d.Settle; s != nil {
		ok, err := tx.Payment.Settle(ctx, repository.SettleParams{
			PaymentID:      s.PaymentID,
			From:           s.From,
			To:             s.To,
			SettledEventID: eventID,
			FailureReason:  s.FailureReason,
			Now:            now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: payment %s is no longer %s", ErrStaleBooking, s.PaymentID, s.From)
		}
	}

	if err := applyBookingEffect(ctx, tx, d.BookingID, d.Booking, now); err != nil {
		return err
	}

	for _, r := range d.Refunds {
		created, err := tx.Refund.Create(ctx, r)
		if err != nil {
			return err
		}
		if !created {
			return fmt.Errorf("%w: payment %s amount %d", ErrRefundConflict, r.PaymentID, r.AmountCents)
		}
	}

	if u := d.AttachRefundRef; u != nil {
		if _, err := tx.Refund.AttachProviderRef(ctx, u.RefundID, u.Ref); err != nil {
			return err
		}
	}

	if item := d.Attention; item != nil {
		result, err := tx.Attention.Raise(ctx, item, nil)
		if err != nil {
			return err
		}
		if result != repository.RaiseSkipped {
			if err := tx.Booking.FlagAttention(ctx, item.BookingID, item.Reason, now); err != nil {
				return err
			}
		}
	}

	if e := d.Expense; e != nil {
		// A second event for the same dispute is a no-op.
		if _, err := tx.Expense.Create(ctx, e); err != nil {
			return err
		}
	}

	return nil
}

func applyBookingEffect(ctx context.Context, tx *repository.Repository, bookingID uuid.UUID, e reconcile.BookingEffect, now time.Time) error {
	var (
		ok  bool
		err error
	)

	switch e.Action {
	case reconcile.BookingUnchanged:
		return nil
	case reconcile.BookingConfirm:
		ok, err = tx.Booking.Confirm(ctx, repository.ConfirmParams{
			BookingID:    bookingID,
			From:         e.From,
			To:           e.To,
			DepositPaid:  e.DepositPaid,
			BalancePaid:  e.BalancePaid,
			AsyncSettled: e.AsyncSettled,
			Now:          now,
		})
	case reconcile.BookingMarkAsyncPending:
		ok, err = tx.Booking.MarkAsyncPending(ctx, bookingID, now)
	case reconcile.BookingMarkAsyncFailed:
		ok, err = tx.Booking.MarkAsyncFailed(ctx, bookingID, now)
	case reconcile.BookingCancel:
		ok, err = tx.Booking.Cancel(ctx, bookingID, e.From, now)
	case reconcile.BookingDelete:
		// Holds go first; the rollback restores them if the delete misses.
		if _, err = tx.Hold.DeleteByBookingID(ctx, bookingID); err != nil {
			return err
		}
		ok, err = tx.Booking.DeleteUnpaid(ctx, bookingID)
	default:
		return fmt.Errorf("unknown booking action %q", e.Action)
	}
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s on booking %s", ErrStaleBooking, e.Action, bookingID)
	}

	if e.FirmHolds {
		if _, err := tx.Hold.MakeFirm(ctx, bookingID, now); err != nil {
			return err
		}
	}
	if e.HoldsExpireAt != nil {
		if _, err := tx.Hold.ExpireFirm(ctx, bookingID, *e.HoldsExpireAt); err != nil {
			return err
		}
	}
	if e.ReleaseHolds && e.Action != reconcile.BookingDelete {
		if _, err := tx.Hold.DeleteByBookingID(ctx, bookingID); err != nil {
			return err
		}
	}
	return nil
}
