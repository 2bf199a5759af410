package usecase

import (
	"context"
	"fmt"
	"time"

	"popndrop/internal/data/repository"
	"popndrop/internal/dispatch"
	"popndrop/internal/dto/response"
	"popndrop/internal/ingress"
	"popndrop/internal/reconcile"
	"popndrop/pkg/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type WebhookService interface {
	// Receive verifies a raw provider delivery and processes it.
	Receive(ctx context.Context, payload []byte, signature string) (*response.WebhookResponse, error)
	Process(ctx context.Context, ev ingress.Event) (*response.WebhookResponse, error)
}

type webhookService struct {
	repo       *repository.Repository
	verifier   *ingress.Verifier
	machine    *reconcile.Machine
	dispatcher dispatch.Dispatcher
	now        func() time.Time
	log        *zap.Logger
}

func NewWebhookService(
	repo *repository.Repository,
	verifier *ingress.Verifier,
	machine *reconcile.Machine,
	dispatcher dispatch.Dispatcher,
	log *zap.Logger,
) WebhookService {
	return &webhookService{
		repo:       repo,
		verifier:   verifier,
		machine:    machine,
		dispatcher: dispatcher,
		now:        utcNow,
		log:        log.With(zap.String("service", "webhook")),
	}
}

func (s *webhookService) Receive(ctx context.Context, payload []byte, signature string) (*response.WebhookResponse, error) {
	ev, err := s.verifier.Verify(payload, signature)
	if err != nil {
		s.log.Warn("Webhook rejected", zap.Error(err))
		return nil, err
	}
	return s.Process(ctx, ev)
}

func (s *webhookService) Process(ctx context.Context, ev ingress.Event) (*response.WebhookResponse, error) {
	meta := ev.EventMeta()
	ctx = utils.SetEventContext(ctx, meta.ID, meta.Type)
	log := s.log.With(zap.String("event_id", meta.ID), zap.String("event_type", meta.Type))

	resp := &response.WebhookResponse{EventID: meta.ID, EventType: meta.Type}

	done, err := s.repo.ProcessedEvent.AlreadyProcessed(ctx, meta.ID)
	if err != nil {
		log.Error("Failed to check processed events", zap.Error(err))
		return nil, fmt.Errorf("check processed event: %w", err)
	}
	if done {
		log.Info("Duplicate delivery acknowledged")
		return duplicate(resp), nil
	}

	var (
		decision reconcile.Decision
		dup      bool
	)
	err = s.repo.RunInTx(ctx, func(tx *repository.Repository) error {
		now := s.now()

		first, err := tx.ProcessedEvent.MarkProcessed(ctx, meta.ID, meta.Type, now)
		if err != nil {
			return err
		}
		if !first {
			dup = true
			return nil
		}

		d, err := s.decide(ctx, tx, ev)
		if err != nil {
			return err
		}
		if err := applyDecision(ctx, tx, d, meta.ID, now); err != nil {
			return err
		}
		decision = d
		return nil
	})
	if err != nil {
		log.Error("Event processing failed, leaving it for redelivery", zap.Error(err))
		return nil, fmt.Errorf("process event %s: %w", meta.ID, err)
	}
	if dup {
		log.Info("Duplicate delivery acknowledged after race")
		return duplicate(resp), nil
	}

	resp.Outcome = string(decision.Outcome)
	resp.Reason = decision.Reason

	fields := []zap.Field{
		zap.String("outcome", resp.Outcome),
		zap.Int("intents", len(decision.Intents)),
	}
	if decision.BookingID != uuid.Nil {
		fields = append(fields, zap.String("booking_id", decision.BookingID.String()))
	}
	if decision.Reason != "" {
		fields = append(fields, zap.String("reason", decision.Reason))
	}
	if decision.Outcome == reconcile.OutcomeRejected {
		log.Warn("Payment rejected for ineligible booking", fields...)
	} else {
		log.Info("Event processed", fields...)
	}

	if len(decision.Intents) > 0 {
		s.dispatcher.Dispatch(context.WithoutCancel(ctx), decision.Intents)
	}
	return resp, nil
}

// decide loads the state an event needs and asks the machine. Bookings
// are read FOR UPDATE so concurrent events for one booking serialize.
func (s *webhookService) decide(ctx context.Context, tx *repository.Repository, ev ingress.Event) (reconcile.Decision, error) {
	switch e := ev.(type) {
	case ingress.CheckoutCompleted:
		st, err := s.checkoutState(ctx, tx, e.Checkout)
		if err != nil {
			return reconcile.Decision{}, err
		}
		return s.machine.Completed(e.Meta, e.Checkout, st)

	case ingress.AsyncPaymentSucceeded:
		st, err := s.checkoutState(ctx, tx, e.Checkout)
		if err != nil {
			return reconcile.Decision{}, err
		}
		return s.machine.Capture(e.Meta, e.Checkout, st)

	case ingress.AsyncPaymentFailed:
		st, err := s.checkoutState(ctx, tx, e.Checkout)
		if err != nil {
			return reconcile.Decision{}, err
		}
		return s.machine.AsyncFailed(e, st)

	case ingress.CheckoutExpired:
		b, err := tx.Booking.FindByIDForUpdate(ctx, e.BookingID)
		if err != nil {
			return reconcile.Decision{}, err
		}
		st := reconcile.State{Booking: b}
		if b != nil {
			if st.HasPayments, err = tx.Payment.ExistsForBooking(ctx, b.ID); err != nil {
				return reconcile.Decision{}, err
			}
		}
		return s.machine.Expire(e, st), nil

	case ingress.ChargeRefunded:
		st, err := s.refundState(ctx, tx, e)
		if err != nil {
			return reconcile.Decision{}, err
		}
		return s.machine.Refunded(e, st)

	case ingress.DisputeCreated:
		st, err := s.disputeState(ctx, tx, e)
		if err != nil {
			return reconcile.Decision{}, err
		}
		return s.machine.Disputed(e, st), nil

	case ingress.PaymentFailed:
		// The checkout stays open for another attempt; expiry cleans up.
		return reconcile.Acknowledge(e.BookingID, "payment attempt failed: "+e.Message), nil

	case ingress.Ignored:
		return reconcile.Acknowledge(uuid.Nil, e.Reason), nil
	}

	return reconcile.Acknowledge(uuid.Nil, fmt.Sprintf("unhandled event %T", ev)), nil
}

func (s *webhookService) checkoutState(ctx context.Context, tx *repository.Repository, c ingress.Checkout) (reconcile.State, error) {
	var st reconcile.State

	b, err := tx.Booking.FindByIDForUpdate(ctx, c.BookingID)
	if err != nil {
		return st, err
	}
	st.Booking = b
	if b == nil {
		return st, nil
	}

	if st.ActiveHolds, err = tx.Hold.CountActive(ctx, b.ID, s.now()); err != nil {
		return st, err
	}
	if c.SessionID != "" {
		if st.Payment, err = tx.Payment.FindBySessionID(ctx, c.SessionID); err != nil {
			return st, err
		}
	}
	return st, nil
}

func (s *webhookService) refundState(ctx context.Context, tx *repository.Repository, e ingress.ChargeRefunded) (reconcile.State, error) {
	var st reconcile.State

	p, err := tx.Payment.FindByProviderRef(ctx, e.PaymentRef)
	if err != nil || p == nil {
		return st, err
	}
	st.Payment = p

	if st.Booking, err = tx.Booking.FindByIDForUpdate(ctx, p.BookingID); err != nil {
		return st, err
	}
	if st.RecordedRefundCents, err = tx.Refund.SumByPaymentID(ctx, p.ID); err != nil {
		return st, err
	}
	if amount := e.RefundAmount(st.RecordedRefundCents); amount > 0 {
		if st.ExistingRefund, err = tx.Refund.FindByPaymentAndAmount(ctx, p.ID, amount); err != nil {
			return st, err
		}
	}
	return st, nil
}

func (s *webhookService) disputeState(ctx context.Context, tx *repository.Repository, e ingress.DisputeCreated) (reconcile.State, error) {
	var (
		st  reconcile.State
		err error
	)

	if st.ExistingExpense, err = tx.Expense.FindByProviderRef(ctx, e.DisputeID); err != nil {
		return st, err
	}
	if e.PaymentRef == "" {
		return st, nil
	}
	if st.Payment, err = tx.Payment.FindByProviderRef(ctx, e.PaymentRef); err != nil || st.Payment == nil {
		return st, err
	}
	st.Booking, err = tx.Booking.FindByID(ctx, st.Payment.BookingID)
	return st, err
}

func duplicate(resp *response.WebhookResponse) *response.WebhookResponse {
	resp.Outcome = string(reconcile.OutcomeNoop)
	resp.Reason = "duplicate delivery"
	resp.Duplicate = true
	return resp
}
