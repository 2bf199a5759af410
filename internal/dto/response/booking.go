package response

import (
	"time"

	"popndrop/internal/data/entity"

	"github.com/google/uuid"
)

type BookingResponse struct {
	ID                 uuid.UUID  `json:"id"`
	BookingNumber      string     `json:"booking_number"`
	Status             string     `json:"status"`
	CustomerName       string     `json:"customer_name"`
	CustomerEmail      string     `json:"customer_email"`
	EventDate          string     `json:"event_date"`
	DeliveryAt         time.Time  `json:"delivery_at"`
	PickupAt           time.Time  `json:"pickup_at"`
	SubtotalCents      int64      `json:"subtotal_cents"`
	DepositCents       int64      `json:"deposit_cents"`
	BalanceDueCents    int64      `json:"balance_due_cents"`
	DepositPaid        bool       `json:"deposit_paid"`
	BalancePaid        bool       `json:"balance_paid"`
	IsAsyncPayment     bool       `json:"is_async_payment"`
	AsyncPaymentStatus *string    `json:"async_payment_status,omitempty"`
	NeedsAttention     bool       `json:"needs_attention"`
	AttentionReason    *string    `json:"attention_reason,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

type HoldResponse struct {
	ID        uuid.UUID  `json:"id"`
	UnitID    string     `json:"unit_id"`
	StartsAt  time.Time  `json:"starts_at"`
	EndsAt    time.Time  `json:"ends_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Active    bool       `json:"active"`
}

type PaymentResponse struct {
	ID                 uuid.UUID `json:"id"`
	AmountCents        int64     `json:"amount_cents"`
	FeeCents           int64     `json:"fee_cents"`
	Type               string    `json:"payment_type"`
	Status             string    `json:"status"`
	Rail               string    `json:"rail"`
	ProviderPaymentRef string    `json:"provider_payment_ref"`
	FailureReason      *string   `json:"failure_reason,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

type RefundResponse struct {
	ID                uuid.UUID `json:"id"`
	PaymentID         uuid.UUID `json:"payment_id"`
	AmountCents       int64     `json:"amount_cents"`
	Type              string    `json:"refund_type"`
	FeeLostCents      int64     `json:"fee_lost_cents"`
	ReasonCode        string    `json:"reason_code"`
	ProviderRefundRef *string   `json:"provider_refund_ref,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

type BookingDetailResponse struct {
	Booking        BookingResponse     `json:"booking"`
	Holds          []HoldResponse      `json:"holds"`
	Payments       []PaymentResponse   `json:"payments"`
	Refunds        []RefundResponse    `json:"refunds"`
	Attention      []AttentionResponse `json:"attention"`
	PaidToDate     int64               `json:"paid_to_date_cents"`
	RefundedToDate int64               `json:"refunded_to_date_cents"`
}

type RefundQuoteResponse struct {
	BookingID          uuid.UUID `json:"booking_id"`
	PaidCents          int64     `json:"paid_cents"`
	DepositCents       int64     `json:"deposit_cents"`
	RefundPercent      int       `json:"refund_percent"`
	RefundCents        int64     `json:"refund_cents"`
	RuleLabel          string    `json:"rule_label"`
	HoursUntilDelivery int       `json:"hours_until_delivery"`
}

type CancelBookingResponse struct {
	BookingID   uuid.UUID        `json:"booking_id"`
	Status      string           `json:"status"`
	RefundCents int64            `json:"refund_cents"`
	RuleLabel   string           `json:"rule_label"`
	Refunds     []RefundResponse `json:"refunds"`
}

type PaymentOptionsResponse struct {
	BookingID      uuid.UUID `json:"booking_id"`
	AmountDueCents int64     `json:"amount_due_cents"`
	PaymentType    string    `json:"payment_type,omitempty"`
	Rails          []string  `json:"rails"`
	MinAsyncCents  int64     `json:"min_async_cents"`
}

func NewBookingResponse(b *entity.Booking) BookingResponse {
	resp := BookingResponse{
		ID:              b.ID,
		BookingNumber:   b.BookingNumber,
		Status:          string(b.Status),
		CustomerName:    b.CustomerName,
		CustomerEmail:   b.CustomerEmail,
		EventDate:       b.EventDate.Format("2006-01-02"),
		DeliveryAt:      b.DeliveryAt,
		PickupAt:        b.PickupAt,
		SubtotalCents:   b.SubtotalCents,
		DepositCents:    b.DepositCents,
		BalanceDueCents: b.BalanceDueCents,
		DepositPaid:     b.DepositPaid,
		BalancePaid:     b.BalancePaid,
		IsAsyncPayment:  b.IsAsyncPayment,
		NeedsAttention:  b.NeedsAttention,
		AttentionReason: b.AttentionReason,
		CancelledAt:     b.CancelledAt,
		CompletedAt:     b.CompletedAt,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
	}
	if b.AsyncPaymentStatus != nil {
		s := string(*b.AsyncPaymentStatus)
		resp.AsyncPaymentStatus = &s
	}
	return resp
}

func NewHoldResponse(h *entity.BookingHold, now time.Time) HoldResponse {
	return HoldResponse{
		ID:        h.ID,
		UnitID:    h.UnitID,
		StartsAt:  h.StartsAt,
		EndsAt:    h.EndsAt,
		ExpiresAt: h.ExpiresAt,
		Active:    h.Active(now),
	}
}

func NewPaymentResponse(p *entity.Payment) PaymentResponse {
	return PaymentResponse{
		ID:                 p.ID,
		AmountCents:        p.AmountCents,
		FeeCents:           p.FeeCents,
		Type:               string(p.Type),
		Status:             string(p.Status),
		Rail:               string(p.Rail),
		ProviderPaymentRef: p.ProviderPaymentRef,
		FailureReason:      p.FailureReason,
		CreatedAt:          p.CreatedAt,
	}
}

func NewRefundResponse(r *entity.Refund) RefundResponse {
	return RefundResponse{
		ID:                r.ID,
		PaymentID:         r.PaymentID,
		AmountCents:       r.AmountCents,
		Type:              string(r.Type),
		FeeLostCents:      r.FeeLostCents,
		ReasonCode:        r.ReasonCode,
		ProviderRefundRef: r.ProviderRefundRef,
		CreatedAt:         r.CreatedAt,
	}
}

func NewRefundResponses(refunds []*entity.Refund) []RefundResponse {
	out := make([]RefundResponse, 0, len(refunds))
	for _, r := range refunds {
		out = append(out, NewRefundResponse(r))
	}
	return out
}
