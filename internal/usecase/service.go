package usecase

import (
	"errors"
	"time"

	"popndrop/internal/data/repository"
	"popndrop/internal/dispatch"
	"popndrop/internal/ingress"
	"popndrop/internal/policy"
	"popndrop/internal/reconcile"
	"popndrop/pkg/utils"

	"go.uber.org/zap"
)

var (
	ErrBookingNotFound   = errors.New("booking not found")
	ErrAttentionNotFound = errors.New("attention item not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidState      = errors.New("invalid booking state")
	// ErrStaleBooking means a guarded write found the row already moved
	// on. The transaction is rolled back and the event can be redelivered.
	ErrStaleBooking   = errors.New("booking changed concurrently")
	ErrRefundConflict = errors.New("refund already recorded for payment and amount")
)

// Dependencies are the clients built once in main.
type Dependencies struct {
	Verifier   *ingress.Verifier
	Machine    *reconcile.Machine
	Policy     *policy.Policy
	Dispatcher dispatch.Dispatcher
}

type Service struct {
	Webhook    WebhookService
	Booking    BookingService
	Automation AutomationService
}

func NewService(repo *repository.Repository, deps Dependencies, config *utils.Config, log *zap.Logger) *Service {
	return &Service{
		Webhook:    NewWebhookService(repo, deps.Verifier, deps.Machine, deps.Dispatcher, log),
		Booking:    NewBookingService(repo, deps.Machine, deps.Policy, deps.Dispatcher, config.Async, log),
		Automation: NewAutomationService(repo, deps.Dispatcher, config.Automation, config.Async, log),
	}
}

func utcNow() time.Time {
	return time.Now().UTC()
}
