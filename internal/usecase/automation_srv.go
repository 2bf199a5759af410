package usecase

import (
	"context"
	"fmt"
	"time"

	"popndrop/internal/data/entity"
	"popndrop/internal/data/repository"
	"popndrop/internal/dispatch"
	"popndrop/internal/dto/response"
	"popndrop/internal/reconcile"
	"popndrop/pkg/utils"

	"go.uber.org/zap"
)

type AutomationService interface {
	// Sweep is safe to run concurrently with webhook processing and with
	// itself: every pass is a conditional write on the expected pre-state.
	Sweep(ctx context.Context) (*response.SweepResponse, error)
}

// refundReissueBatch caps how many refunds one sweep sends again.
const refundReissueBatch = 100

type automationService struct {
	repo             *repository.Repository
	dispatcher       dispatch.Dispatcher
	completionGrace  time.Duration
	deliveryGrace    time.Duration
	asyncStaleAfter  time.Duration
	refundRetryAfter time.Duration
	now              func() time.Time
	log              *zap.Logger
}

func NewAutomationService(
	repo *repository.Repository,
	dispatcher dispatch.Dispatcher,
	cfg utils.AutomationConfig,
	async utils.AsyncConfig,
	log *zap.Logger,
) AutomationService {
	return &automationService{
		repo:             repo,
		dispatcher:       dispatcher,
		completionGrace:  time.Duration(cfg.CompletionGraceHours) * time.Hour,
		deliveryGrace:    time.Duration(cfg.DeliveryGraceHours) * time.Hour,
		asyncStaleAfter:  time.Duration(async.StaleDays) * 24 * time.Hour,
		refundRetryAfter: time.Duration(cfg.RefundRetryMinutes) * time.Minute,
		now:              utcNow,
		log:              log.With(zap.String("service", "automation")),
	}
}

func (s *automationService) Sweep(ctx context.Context) (*response.SweepResponse, error) {
	now := s.now()
	resp := &response.SweepResponse{}

	deleted, err := s.repo.Booking.DeleteExpiredUnpaid(ctx, now)
	if err != nil {
		return nil, err
	}
	cancelled, err := s.repo.Booking.CancelExpiredWithHistory(ctx, now)
	if err != nil {
		return nil, err
	}
	resp.ExpiredReleased = int(deleted + cancelled)

	completed, err := s.repo.Booking.AutoComplete(ctx, now.Add(-s.completionGrace), now)
	if err != nil {
		return nil, err
	}
	resp.AutoCompleted = len(completed)

	confirmed := []entity.BookingStatus{entity.BookingStatusConfirmed}
	pending := []entity.BookingStatus{entity.BookingStatusPending}

	outstanding, err := s.repo.Booking.FindBalanceOutstanding(ctx, now)
	if err != nil {
		return nil, err
	}
	for _, b := range outstanding {
		reason := fmt.Sprintf("balance of %s still outstanding after pickup", reconcile.FormatCents(b.BalanceDueCents))
		if err := s.raise(ctx, resp, b, entity.AttentionBalanceOutstanding, reason, confirmed, now); err != nil {
			return nil, err
		}
	}

	undelivered, err := s.repo.Booking.FindDeliveryUnconfirmed(ctx, now.Add(-s.deliveryGrace))
	if err != nil {
		return nil, err
	}
	for _, b := range undelivered {
		if err := s.raise(ctx, resp, b, entity.AttentionDeliveryUnconfirmed, "delivery not confirmed", confirmed, now); err != nil {
			return nil, err
		}
	}

	if s.asyncStaleAfter > 0 {
		stale, err := s.repo.Booking.FindAsyncStale(ctx, now.Add(-s.asyncStaleAfter))
		if err != nil {
			return nil, err
		}
		for _, b := range stale {
			if err := s.raise(ctx, resp, b, entity.AttentionAsyncPaymentStale, "bank transfer has not settled", pending, now); err != nil {
				return nil, err
			}
		}
	}

	if err := s.reissueRefunds(ctx, resp, now); err != nil {
		return nil, err
	}

	s.log.Info("Automation sweep finished",
		zap.Int("attention_created", resp.AttentionCreated),
		zap.Int("auto_completed", resp.AutoCompleted),
		zap.Int("expired_released", resp.ExpiredReleased),
		zap.Int("refunds_reissued", resp.RefundsReissued))

	return resp, nil
}

// reissueRefunds sends refunds the provider never confirmed once more.
// The refund id doubles as the idempotency key, so one that did go
// through is returned by the provider instead of being made again.
func (s *automationService) reissueRefunds(ctx context.Context, resp *response.SweepResponse, now time.Time) error {
	if s.refundRetryAfter <= 0 || s.dispatcher == nil {
		return nil
	}

	unissued, err := s.repo.Refund.FindUnissued(ctx, now.Add(-s.refundRetryAfter), refundReissueBatch)
	if err != nil {
		return err
	}
	if len(unissued) == 0 {
		return nil
	}

	intents := make([]reconcile.Intent, 0, len(unissued))
	for _, u := range unissued {
		intents = append(intents, reconcile.ReissueRefund(u.BookingNumber, u.Refund, u.PaymentRef))

		reason := fmt.Sprintf("refund of %s not confirmed by provider since %s",
			reconcile.FormatCents(u.Refund.AmountCents), u.Refund.CreatedAt.Format(time.RFC3339))
		b := &entity.Booking{BaseNoDelete: entity.BaseNoDelete{ID: u.Refund.BookingID}}
		if err := s.raise(ctx, resp, b, entity.AttentionRefundNotIssued, reason, nil, now); err != nil {
			return err
		}
	}

	s.log.Warn("Reissuing refunds without provider confirmation", zap.Int("count", len(intents)))
	s.dispatcher.Dispatch(context.WithoutCancel(ctx), intents)
	resp.RefundsReissued = len(intents)
	return nil
}

// raise opens or refreshes an attention item and flags the booking, but
// only while the booking is still in one of expected.
func (s *automationService) raise(
	ctx context.Context,
	resp *response.SweepResponse,
	b *entity.Booking,
	kind entity.AttentionKind,
	reason string,
	expected []entity.BookingStatus,
	now time.Time,
) error {
	item := &entity.AttentionItem{
		BaseSimple: entity.BaseSimple{ID: utils.GenerateUUID(), CreatedAt: now},
		BookingID:  b.ID,
		Kind:       kind,
		Reason:     reason,
		LastSeenAt: now,
	}

	return s.repo.RunInTx(ctx, func(tx *repository.Repository) error {
		result, err := tx.Attention.Raise(ctx, item, expected)
		if err != nil {
			return err
		}

		switch result {
		case repository.RaiseSkipped:
			s.log.Debug("Booking moved on before attention was raised",
				zap.String("booking_id", b.ID.String()),
				zap.String("kind", string(kind)))
			return nil
		case repository.RaiseCreated:
			resp.AttentionCreated++
		}

		return tx.Booking.FlagAttention(ctx, b.ID, reason, now)
	})
}
