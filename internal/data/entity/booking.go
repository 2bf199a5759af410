package entity

import (
	"time"

	"github.com/google/uuid"
)

type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCompleted BookingStatus = "completed"
	BookingStatusCancelled BookingStatus = "cancelled"
)

type AsyncPaymentStatus string

const (
	AsyncPaymentPending   AsyncPaymentStatus = "pending"
	AsyncPaymentSucceeded AsyncPaymentStatus = "succeeded"
	AsyncPaymentFailed    AsyncPaymentStatus = "failed"
)

type Booking struct {
	BaseNoDelete
	BookingNumber       string              `db:"booking_number"`
	Status              BookingStatus       `db:"status"`
	CustomerName        string              `db:"customer_name"`
	CustomerEmail       string              `db:"customer_email"`
	EventDate           time.Time           `db:"event_date"`
	DeliveryAt          time.Time           `db:"delivery_at"`
	PickupAt            time.Time           `db:"pickup_at"`
	SubtotalCents       int64               `db:"subtotal_cents"`
	DepositCents        int64               `db:"deposit_cents"`
	BalanceDueCents     int64               `db:"balance_due_cents"`
	DepositPaid         bool                `db:"deposit_paid"`
	BalancePaid         bool                `db:"balance_paid"`
	IsAsyncPayment      bool                `db:"is_async_payment"`
	AsyncPaymentStatus  *AsyncPaymentStatus `db:"async_payment_status"`
	NeedsAttention      bool                `db:"needs_attention"`
	AttentionReason     *string             `db:"attention_reason"`
	DeliveryConfirmedAt *time.Time          `db:"delivery_confirmed_at"`
	PickupConfirmedAt   *time.Time          `db:"pickup_confirmed_at"`
	CancelledAt         *time.Time          `db:"cancelled_at"`
	CompletedAt         *time.Time          `db:"completed_at"`
}

// FullyPaid reports whether nothing is owed on the booking.
func (b *Booking) FullyPaid() bool {
	return b.DepositPaid && b.BalancePaid
}

// AsyncInFlight reports a bank transfer that has not settled yet.
func (b *Booking) AsyncInFlight() bool {
	return b.IsAsyncPayment && b.AsyncPaymentStatus != nil && *b.AsyncPaymentStatus == AsyncPaymentPending
}

// Open reports whether the booking can still change through payment or cancellation.
func (b *Booking) Open() bool {
	return b.Status == BookingStatusPending || b.Status == BookingStatusConfirmed
}

// BookingHold reserves a unit for a time range. ExpiresAt nil means the
// hold is firm (the booking was paid).
type BookingHold struct {
	BaseSimple
	BookingID uuid.UUID  `db:"booking_id"`
	UnitID    string     `db:"unit_id"`
	StartsAt  time.Time  `db:"starts_at"`
	EndsAt    time.Time  `db:"ends_at"`
	ExpiresAt *time.Time `db:"expires_at"`
}

func (h *BookingHold) Active(now time.Time) bool {
	return h.ExpiresAt == nil || h.ExpiresAt.After(now)
}
