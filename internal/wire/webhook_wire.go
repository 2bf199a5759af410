package wire

import (
	"popndrop/internal/adaptor"
	"popndrop/pkg/middleware"
	"popndrop/pkg/utils"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func wireWebhook(r chi.Router, webhookHandler *adaptor.WebhookHandler, config *utils.Config, log *zap.Logger) {
	// Public, authenticated by the Stripe-Signature header
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(config.RateLimit.PerMinute, config.RateLimit.Burst, log))

		r.Post("/api/webhooks/stripe", webhookHandler.Stripe)
	})
}
