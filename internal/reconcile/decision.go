// Package reconcile turns verified provider events into booking and
// payment transitions. It never touches storage: callers load a State,
// ask the Machine for a Decision and apply it with conditional writes.
package reconcile

import (
	"errors"
	"time"

	"popndrop/internal/data/entity"

	"github.com/google/uuid"
)

var (
	ErrBookingNotFound = errors.New("booking not found")
	ErrPaymentNotFound = errors.New("payment not found")
	ErrNotCancellable  = errors.New("booking cannot be cancelled in its current status")
)

type Outcome string

const (
	OutcomeConfirmed       Outcome = "confirmed"
	OutcomeRejected        Outcome = "rejected"
	OutcomeAsyncPending    Outcome = "async_pending"
	OutcomeAsyncFailed     Outcome = "async_failed"
	OutcomeReleased        Outcome = "released"
	OutcomeRefundRecorded  Outcome = "refund_recorded"
	OutcomeCancelled       Outcome = "cancelled"
	OutcomeDisputeRecorded Outcome = "dispute_recorded"
	OutcomeNoop            Outcome = "noop"
)

type BookingAction string

const (
	BookingUnchanged        BookingAction = ""
	BookingConfirm          BookingAction = "confirm"
	BookingMarkAsyncPending BookingAction = "mark_async_pending"
	BookingMarkAsyncFailed  BookingAction = "mark_async_failed"
	BookingCancel           BookingAction = "cancel"
	BookingDelete           BookingAction = "delete"
)

// BookingEffect is a guarded booking write. From lists the statuses the
// booking must still be in when the write lands.
type BookingEffect struct {
	Action       BookingAction
	From         []entity.BookingStatus
	To           entity.BookingStatus
	DepositPaid  bool
	BalancePaid  bool
	AsyncSettled bool
	FirmHolds    bool
	ReleaseHolds bool
	// HoldsExpireAt puts firm holds back on a deadline.
	HoldsExpireAt *time.Time
}

// PaymentSettlement moves an existing payment out of From.
type PaymentSettlement struct {
	PaymentID     uuid.UUID
	From          entity.PaymentStatus
	To            entity.PaymentStatus
	FailureReason *string
}

type RefundRefUpdate struct {
	RefundID uuid.UUID
	Ref      string
}

type Decision struct {
	Outcome   Outcome
	Reason    string
	BookingID uuid.UUID

	Booking         BookingEffect
	NewPayment      *entity.Payment
	Settle          *PaymentSettlement
	Refunds         []*entity.Refund
	AttachRefundRef *RefundRefUpdate
	Attention       *entity.AttentionItem
	Expense         *entity.Expense

	Intents []Intent
}

// Changes reports whether applying the decision writes anything.
func (d Decision) Changes() bool {
	return d.Booking.Action != BookingUnchanged ||
		d.NewPayment != nil ||
		d.Settle != nil ||
		len(d.Refunds) > 0 ||
		d.AttachRefundRef != nil ||
		d.Attention != nil ||
		d.Expense != nil
}

// Acknowledge is a decision that records nothing beyond the event itself.
func Acknowledge(bookingID uuid.UUID, reason string) Decision {
	return Decision{Outcome: OutcomeNoop, Reason: reason, BookingID: bookingID}
}

// State is the persisted context an event is judged against. Callers
// fill only what the event kind needs.
type State struct {
	Booking     *entity.Booking
	ActiveHolds int
	HasPayments bool

	// Payment is the existing record for the event's checkout session,
	// or for refunds and disputes the record for the provider reference.
	Payment *entity.Payment

	RecordedRefundCents int64
	ExistingRefund      *entity.Refund
	ExistingExpense     *entity.Expense
}

// CancelState is the context for an operator cancellation.
type CancelState struct {
	Booking *entity.Booking
	// Payments newest first.
	Payments          []*entity.Payment
	RefundedByPayment map[uuid.UUID]int64
}

// PaidToDate is the net amount held for the booking: succeeded payments
// less anything already refunded on them.
func (s CancelState) PaidToDate() int64 {
	var total int64
	for _, p := range s.Payments {
		if p.Status != entity.PaymentStatusSucceeded {
			continue
		}
		total += p.AmountCents - s.RefundedByPayment[p.ID]
	}
	if total < 0 {
		return 0
	}
	return total
}
