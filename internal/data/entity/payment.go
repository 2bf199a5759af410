package entity

import (
	"github.com/google/uuid"
)

type PaymentType string

const (
	PaymentTypeDeposit PaymentType = "deposit"
	PaymentTypeFull    PaymentType = "full"
	PaymentTypeBalance PaymentType = "balance"
)

type PaymentStatus string

const (
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRejected  PaymentStatus = "rejected"
)

type PaymentRail string

const (
	PaymentRailCard         PaymentRail = "card"
	PaymentRailBankTransfer PaymentRail = "bank_transfer"
)

// Payment is the ledger entry for one provider checkout. Rows are never
// deleted; a settled async payment is updated in place from pending.
type Payment struct {
	BaseNoDelete
	BookingID          uuid.UUID     `db:"booking_id"`
	AmountCents        int64         `db:"amount_cents"`
	FeeCents           int64         `db:"fee_cents"`
	Type               PaymentType   `db:"payment_type"`
	Status             PaymentStatus `db:"status"`
	Rail               PaymentRail   `db:"rail"`
	ProviderEventID    string        `db:"provider_event_id"`
	ProviderSessionID  string        `db:"provider_session_id"`
	ProviderPaymentRef string        `db:"provider_payment_ref"`
	SettledEventID     *string       `db:"settled_event_id"`
	FailureReason      *string       `db:"failure_reason"`
}

type RefundType string

const (
	RefundTypeFull    RefundType = "full"
	RefundTypePartial RefundType = "partial"
)

// Refund is immutable once written, apart from attaching the provider's
// refund reference when the provider reports it.
type Refund struct {
	BaseSimple
	BookingID         uuid.UUID  `db:"booking_id"`
	PaymentID         uuid.UUID  `db:"payment_id"`
	AmountCents       int64      `db:"amount_cents"`
	Type              RefundType `db:"refund_type"`
	FeeLostCents      int64      `db:"fee_lost_cents"`
	ReasonCode        string     `db:"reason_code"`
	ProviderRefundRef *string    `db:"provider_refund_ref"`
}
