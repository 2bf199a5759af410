package reconcile

import (
	"fmt"
	"time"

	"popndrop/internal/data/entity"
	"popndrop/pkg/utils"

	"github.com/google/uuid"
)

type IntentKind string

const (
	IntentEmailCustomer IntentKind = "email_customer"
	IntentEmailOperator IntentKind = "email_operator"
	IntentPushOperator  IntentKind = "push_operator"
	IntentRefund        IntentKind = "refund"
)

// Notification templates.
const (
	TemplateBookingConfirmed   = "booking_confirmed"
	TemplatePaymentProcessing  = "payment_processing"
	TemplatePaymentRejected    = "payment_rejected"
	TemplateAsyncPaymentFailed = "async_payment_failed"
	TemplateRefundProcessed    = "refund_processed"
	TemplateBookingCancelled   = "booking_cancelled"
	TemplateDisputeOpened      = "dispute_opened"
)

// Refund reason codes sent to the provider and stored on refunds.
const (
	ReasonBookingIneligible    = "booking_ineligible"
	ReasonCustomerCancellation = "customer_cancellation"
	ReasonWeatherEmergency     = "weather_emergency"
	ReasonProviderReported     = "provider_reported"
)

// Intent is a side effect to run once the state change is committed.
// Intents are plain data so they can be queued and retried.
type Intent struct {
	Kind      IntentKind        `json:"kind"`
	BookingID uuid.UUID         `json:"booking_id"`
	Template  string            `json:"template,omitempty"`
	To        string            `json:"to,omitempty"`
	Subject   string            `json:"subject,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
	Urgent    bool              `json:"urgent,omitempty"`
	Refund    *RefundRequest    `json:"refund,omitempty"`
}

// RefundRequest is an outbound provider refund.
type RefundRequest struct {
	RefundID       uuid.UUID         `json:"refund_id"`
	PaymentRef     string            `json:"payment_ref"`
	AmountCents    int64             `json:"amount_cents"`
	ReasonCode     string            `json:"reason_code"`
	IdempotencyKey string            `json:"idempotency_key"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

func customerEmail(b *entity.Booking, template, subject string, data map[string]string) Intent {
	return Intent{
		Kind:      IntentEmailCustomer,
		BookingID: b.ID,
		Template:  template,
		To:        b.CustomerEmail,
		Subject:   subject,
		Data:      data,
	}
}

// operatorEmail leaves To empty; the dispatcher knows the operator address.
func operatorEmail(bookingID uuid.UUID, template, subject string, data map[string]string, urgent bool) Intent {
	return Intent{
		Kind:      IntentEmailOperator,
		BookingID: bookingID,
		Template:  template,
		Subject:   subject,
		Data:      data,
		Urgent:    urgent,
	}
}

func operatorPush(bookingID uuid.UUID, template, title string, data map[string]string, urgent bool) Intent {
	return Intent{
		Kind:      IntentPushOperator,
		BookingID: bookingID,
		Template:  template,
		Subject:   title,
		Data:      data,
		Urgent:    urgent,
	}
}

func refundIntent(b *entity.Booking, refund *entity.Refund, paymentRef, reason string) Intent {
	return newRefundIntent(b.BookingNumber, refund, paymentRef, reason)
}

// ReissueRefund sends a recorded refund to the provider again. The
// idempotency key is derived from the refund id, so a refund the
// provider already made is not made twice.
func ReissueRefund(bookingNumber string, refund *entity.Refund, paymentRef string) Intent {
	return newRefundIntent(bookingNumber, refund, paymentRef, "reissue")
}

func newRefundIntent(bookingNumber string, refund *entity.Refund, paymentRef, reason string) Intent {
	return Intent{
		Kind:      IntentRefund,
		BookingID: refund.BookingID,
		Refund: &RefundRequest{
			RefundID:       refund.ID,
			PaymentRef:     paymentRef,
			AmountCents:    refund.AmountCents,
			ReasonCode:     refund.ReasonCode,
			IdempotencyKey: utils.RefundIdempotencyKey(refund.ID),
			Metadata: map[string]string{
				"booking_id":     refund.BookingID.String(),
				"booking_number": bookingNumber,
				"refund_id":      refund.ID.String(),
				"reason":         reason,
			},
		},
	}
}

// manualRefundItem asks an operator to refund by hand.
func manualRefundItem(bookingID uuid.UUID, amountCents int64, now time.Time) *entity.AttentionItem {
	return &entity.AttentionItem{
		BaseSimple: entity.BaseSimple{ID: utils.GenerateUUID(), CreatedAt: now},
		BookingID:  bookingID,
		Kind:       entity.AttentionRefundManual,
		Reason:     fmt.Sprintf("refund of %s owed but payment has no provider reference", FormatCents(amountCents)),
		LastSeenAt: now,
	}
}
