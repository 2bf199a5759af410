package adaptor

import (
	"errors"
	"io"
	"net/http"

	"popndrop/internal/ingress"
	"popndrop/internal/usecase"
	"popndrop/pkg/utils"

	"go.uber.org/zap"
)

// Stripe caps webhook bodies well below this.
const maxWebhookBody = 1 << 16

type WebhookHandler struct {
	service usecase.WebhookService
	log     *zap.Logger
}

func NewWebhookHandler(service usecase.WebhookService, log *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		service: service,
		log:     log.With(zap.String("handler", "webhook")),
	}
}

// Stripe handles POST /api/webhooks/stripe
func (h *WebhookHandler) Stripe(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		h.log.Warn("Failed to read webhook body", zap.Error(err))
		utils.ResponseBadRequest(w, "Invalid request body", nil)
		return
	}

	resp, err := h.service.Receive(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	switch {
	case err == nil:
		utils.ResponseSuccess(w, "received", resp)

	case errors.Is(err, ingress.ErrSecretNotConfigured):
		h.log.Error("Webhook secret is not configured")
		utils.ResponseInternalError(w, "Webhook secret not configured")

	case errors.Is(err, ingress.ErrInvalidSignature):
		utils.ResponseBadRequest(w, "Invalid signature", nil)

	case errors.Is(err, ingress.ErrMalformedPayload):
		utils.ResponseBadRequest(w, "Malformed event payload", nil)

	default:
		// Not acknowledged, so the provider redelivers.
		h.log.Error("Webhook processing failed", zap.Error(err))
		utils.ResponseInternalError(w, "Event processing failed")
	}
}
