package ingress

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"popndrop/internal/data/entity"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

var (
	ErrSecretNotConfigured = errors.New("webhook secret not configured")
	ErrInvalidSignature    = errors.New("invalid webhook signature")
	ErrMalformedPayload    = errors.New("malformed webhook payload")
)

const (
	metadataBookingID   = "booking_id"
	metadataPaymentType = "payment_type"
	bankTransferMethod  = "us_bank_account"
)

// Verifier checks the provider signature before anything is decoded.
type Verifier struct {
	secret    string
	tolerance time.Duration
}

func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	return &Verifier{secret: secret, tolerance: tolerance}
}

// Verify authenticates payload against the Stripe-Signature header value
// and decodes it. Unknown or undecodable objects come back as Ignored.
func (v *Verifier) Verify(payload []byte, signature string) (Event, error) {
	if v.secret == "" {
		return nil, ErrSecretNotConfigured
	}

	ev, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		switch {
		case errors.Is(err, webhook.ErrNotSigned),
			errors.Is(err, webhook.ErrInvalidHeader),
			errors.Is(err, webhook.ErrNoValidSignature),
			errors.Is(err, webhook.ErrTooOld):
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		default:
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
	}

	return Decode(ev), nil
}

// Decode maps a verified provider event onto the closed event set.
func Decode(ev stripe.Event) Event {
	meta := Meta{ID: ev.ID, Type: string(ev.Type), Created: time.Unix(ev.Created, 0).UTC()}
	if ev.Data == nil || len(ev.Data.Raw) == 0 {
		return Ignored{Meta: meta, Reason: "event has no data object"}
	}
	raw := ev.Data.Raw

	switch meta.Type {
	case TypeCheckoutCompleted:
		checkout, err := decodeCheckout(raw, false)
		if err != nil {
			return Ignored{Meta: meta, Reason: err.Error()}
		}
		return CheckoutCompleted{Meta: meta, Checkout: checkout}

	case TypeAsyncPaymentSucceeded:
		checkout, err := decodeCheckout(raw, true)
		if err != nil {
			return Ignored{Meta: meta, Reason: err.Error()}
		}
		checkout.Paid = true
		return AsyncPaymentSucceeded{Meta: meta, Checkout: checkout}

	case TypeAsyncPaymentFailed:
		checkout, err := decodeCheckout(raw, true)
		if err != nil {
			return Ignored{Meta: meta, Reason: err.Error()}
		}
		checkout.Paid = false
		return AsyncPaymentFailed{Meta: meta, Checkout: checkout, FailureReason: "bank transfer did not clear"}

	case TypeCheckoutExpired:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(raw, &session); err != nil {
			return Ignored{Meta: meta, Reason: fmt.Sprintf("decode checkout session: %v", err)}
		}
		bookingID, ok := bookingIDFrom(session.Metadata, session.ClientReferenceID)
		if !ok {
			return Ignored{Meta: meta, Reason: "checkout session has no booking_id"}
		}
		return CheckoutExpired{Meta: meta, SessionID: session.ID, BookingID: bookingID}

	case TypeChargeRefunded:
		var charge stripe.Charge
		if err := json.Unmarshal(raw, &charge); err != nil {
			return Ignored{Meta: meta, Reason: fmt.Sprintf("decode charge: %v", err)}
		}
		out := ChargeRefunded{
			Meta:          meta,
			ChargeID:      charge.ID,
			PaymentRef:    paymentIntentID(charge.PaymentIntent),
			AmountCents:   charge.Amount,
			RefundedCents: charge.AmountRefunded,
		}
		if charge.Refunds != nil && len(charge.Refunds.Data) > 0 && charge.Refunds.Data[0] != nil {
			out.LatestRefundCents = charge.Refunds.Data[0].Amount
			out.RefundRef = charge.Refunds.Data[0].ID
		}
		if out.PaymentRef == "" {
			return Ignored{Meta: meta, Reason: "charge has no payment intent"}
		}
		return out

	case TypeDisputeCreated:
		var dispute stripe.Dispute
		if err := json.Unmarshal(raw, &dispute); err != nil {
			return Ignored{Meta: meta, Reason: fmt.Sprintf("decode dispute: %v", err)}
		}
		out := DisputeCreated{
			Meta:        meta,
			DisputeID:   dispute.ID,
			PaymentRef:  paymentIntentID(dispute.PaymentIntent),
			AmountCents: dispute.Amount,
			Reason:      string(dispute.Reason),
		}
		if dispute.Charge != nil {
			out.ChargeID = dispute.Charge.ID
		}
		if dispute.EvidenceDetails != nil && dispute.EvidenceDetails.DueBy > 0 {
			due := time.Unix(dispute.EvidenceDetails.DueBy, 0).UTC()
			out.EvidenceDueBy = &due
		}
		return out

	case TypePaymentFailed:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(raw, &intent); err != nil {
			return Ignored{Meta: meta, Reason: fmt.Sprintf("decode payment intent: %v", err)}
		}
		out := PaymentFailed{Meta: meta, PaymentRef: intent.ID}
		out.BookingID, _ = bookingIDFrom(intent.Metadata, "")
		if intent.LastPaymentError != nil {
			out.Message = intent.LastPaymentError.Msg
		}
		return out
	}

	return Ignored{Meta: meta, Reason: "unhandled event type"}
}

func decodeCheckout(raw json.RawMessage, async bool) (Checkout, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return Checkout{}, fmt.Errorf("decode checkout session: %w", err)
	}

	bookingID, ok := bookingIDFrom(session.Metadata, session.ClientReferenceID)
	if !ok {
		return Checkout{}, errors.New("checkout session has no booking_id")
	}

	paymentType := entity.PaymentType(session.Metadata[metadataPaymentType])
	switch paymentType {
	case entity.PaymentTypeDeposit, entity.PaymentTypeFull, entity.PaymentTypeBalance:
	case "":
		paymentType = entity.PaymentTypeDeposit
	default:
		return Checkout{}, fmt.Errorf("unknown payment_type %q", paymentType)
	}

	paid := session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid
	rail := entity.PaymentRailCard
	if async || (!paid && offersBankTransfer(session.PaymentMethodTypes)) {
		rail = entity.PaymentRailBankTransfer
	}

	return Checkout{
		SessionID:     session.ID,
		PaymentRef:    paymentIntentID(session.PaymentIntent),
		BookingID:     bookingID,
		PaymentType:   paymentType,
		AmountCents:   session.AmountTotal,
		Paid:          paid,
		Rail:          rail,
		CustomerEmail: session.CustomerEmail,
	}, nil
}

func bookingIDFrom(metadata map[string]string, clientReference string) (uuid.UUID, bool) {
	candidate := metadata[metadataBookingID]
	if candidate == "" {
		candidate = clientReference
	}
	if candidate == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(candidate)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func offersBankTransfer(methods []string) bool {
	for _, m := range methods {
		if m == bankTransferMethod {
			return true
		}
	}
	return false
}

func paymentIntentID(pi *stripe.PaymentIntent) string {
	if pi == nil {
		return ""
	}
	return pi.ID
}
