package dispatch

import (
	"context"
	"fmt"

	"popndrop/internal/reconcile"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

type refundCreator interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

// StripeRefunder issues refunds against a payment intent.
type StripeRefunder struct {
	refunds refundCreator
}

// NewStripeRefunder returns nil when no secret key is configured.
func NewStripeRefunder(secretKey string) *StripeRefunder {
	if secretKey == "" {
		return nil
	}
	api := client.New(secretKey, nil)
	return &StripeRefunder{refunds: api.Refunds}
}

func (r *StripeRefunder) Refund(ctx context.Context, req reconcile.RefundRequest) (string, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.PaymentRef),
		Amount:        stripe.Int64(req.AmountCents),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.ReasonCode != "" {
		params.AddMetadata("reason_code", req.ReasonCode)
	}

	refund, err := r.refunds.New(params)
	if err != nil {
		return "", fmt.Errorf("create refund for %s: %w", req.PaymentRef, err)
	}
	return refund.ID, nil
}
