package entity

import (
	"time"

	"github.com/google/uuid"
)

type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}

type AttentionKind string

const (
	AttentionAsyncPaymentFailed  AttentionKind = "async_payment_failed"
	AttentionAsyncPaymentStale   AttentionKind = "async_payment_stale"
	AttentionBalanceOutstanding  AttentionKind = "balance_outstanding"
	AttentionDeliveryUnconfirmed AttentionKind = "delivery_unconfirmed"
	// A refund is owed but there is no provider payment reference to send it against.
	AttentionRefundManual AttentionKind = "refund_manual"
	// A recorded refund has not been confirmed by the provider yet.
	AttentionRefundNotIssued AttentionKind = "refund_not_issued"
)

// AttentionItem is an operator to-do. At most one unresolved item exists
// per booking and kind.
type AttentionItem struct {
	BaseSimple
	BookingID  uuid.UUID     `db:"booking_id"`
	Kind       AttentionKind `db:"kind"`
	Reason     string        `db:"reason"`
	LastSeenAt time.Time     `db:"last_seen_at"`
	ResolvedAt *time.Time    `db:"resolved_at"`
}

const ExpenseCategoryDispute = "dispute"

type Expense struct {
	BaseSimple
	BookingID   *uuid.UUID `db:"booking_id"`
	Category    string     `db:"category"`
	AmountCents int64      `db:"amount_cents"`
	Description string     `db:"description"`
	ProviderRef string     `db:"provider_ref"`
}
