// Package ingress authenticates payment provider webhooks and decodes them
// into a closed set of typed events.
package ingress

import (
	"time"

	"popndrop/internal/data/entity"

	"github.com/google/uuid"
)

// Provider event types handled by the reconciler.
const (
	TypeCheckoutCompleted     = "checkout.session.completed"
	TypeAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
	TypeAsyncPaymentFailed    = "checkout.session.async_payment_failed"
	TypeCheckoutExpired       = "checkout.session.expired"
	TypeChargeRefunded        = "charge.refunded"
	TypeDisputeCreated        = "charge.dispute.created"
	TypePaymentFailed         = "payment_intent.payment_failed"
)

type Meta struct {
	ID      string
	Type    string
	Created time.Time
}

func (m Meta) EventMeta() Meta { return m }

func (Meta) isEvent() {}

// Event is implemented only by the variants in this file.
type Event interface {
	EventMeta() Meta
	isEvent()
}

// Checkout is the normalized view of a checkout session.
type Checkout struct {
	SessionID     string
	PaymentRef    string
	BookingID     uuid.UUID
	PaymentType   entity.PaymentType
	AmountCents   int64
	Paid          bool
	Rail          entity.PaymentRail
	CustomerEmail string
}

type CheckoutCompleted struct {
	Meta
	Checkout
}

type AsyncPaymentSucceeded struct {
	Meta
	Checkout
}

type AsyncPaymentFailed struct {
	Meta
	Checkout
	FailureReason string
}

type CheckoutExpired struct {
	Meta
	SessionID string
	BookingID uuid.UUID
}

type ChargeRefunded struct {
	Meta
	ChargeID      string
	PaymentRef    string
	AmountCents   int64
	RefundedCents int64
	// LatestRefundCents and RefundRef describe the newest refund on the
	// charge when the provider includes it.
	LatestRefundCents int64
	RefundRef         string
}

// RefundAmount is the amount this event refunds. Without a per-refund
// figure it falls back to the cumulative total minus what is recorded.
func (e ChargeRefunded) RefundAmount(alreadyRecorded int64) int64 {
	if e.LatestRefundCents > 0 {
		return e.LatestRefundCents
	}
	return e.RefundedCents - alreadyRecorded
}

type DisputeCreated struct {
	Meta
	DisputeID     string
	ChargeID      string
	PaymentRef    string
	AmountCents   int64
	Reason        string
	EvidenceDueBy *time.Time
}

type PaymentFailed struct {
	Meta
	PaymentRef string
	BookingID  uuid.UUID
	Message    string
}

// Ignored is any event outside the handled set, or a handled type whose
// object could not be decoded.
type Ignored struct {
	Meta
	Reason string
}
