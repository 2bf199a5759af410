package adaptor

import (
	"popndrop/internal/usecase"

	"go.uber.org/zap"
)

type Handler struct {
	Webhook    *WebhookHandler
	Booking    *BookingHandler
	Automation *AutomationHandler
	Health     *HealthHandler
}

func NewHandler(service *usecase.Service, checks map[string]Pinger, log *zap.Logger) *Handler {
	return &Handler{
		Webhook:    NewWebhookHandler(service.Webhook, log),
		Booking:    NewBookingHandler(service.Booking, log),
		Automation: NewAutomationHandler(service.Automation, log),
		Health:     NewHealthHandler(checks, log),
	}
}
