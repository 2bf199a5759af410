package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"popndrop/internal/data/entity"
	"popndrop/internal/data/repository"
	"popndrop/internal/dispatch"
	"popndrop/internal/dto/request"
	"popndrop/internal/dto/response"
	"popndrop/internal/policy"
	"popndrop/internal/reconcile"
	"popndrop/pkg/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type BookingService interface {
	GetBooking(ctx context.Context, bookingID string) (*response.BookingDetailResponse, error)
	QuoteRefund(ctx context.Context, bookingID string, req *request.RefundQuoteRequest) (*response.RefundQuoteResponse, error)
	CancelBooking(ctx context.Context, bookingID string, req *request.CancelBookingRequest) (*response.CancelBookingResponse, error)
	PaymentOptions(ctx context.Context, bookingID string) (*response.PaymentOptionsResponse, error)

	ListAttention(ctx context.Context, req *request.PaginatedRequest) (*response.PaginatedResponse[response.AttentionResponse], error)
	ResolveAttention(ctx context.Context, itemID string) (*response.AttentionResponse, error)
}

type bookingService struct {
	repo          *repository.Repository
	machine       *reconcile.Machine
	policy        *policy.Policy
	dispatcher    dispatch.Dispatcher
	minAsyncCents int64
	now           func() time.Time
	log           *zap.Logger
}

func NewBookingService(
	repo *repository.Repository,
	machine *reconcile.Machine,
	pol *policy.Policy,
	dispatcher dispatch.Dispatcher,
	async utils.AsyncConfig,
	log *zap.Logger,
) BookingService {
	return &bookingService{
		repo:          repo,
		machine:       machine,
		policy:        pol,
		dispatcher:    dispatcher,
		minAsyncCents: async.MinAmountCents,
		now:           utcNow,
		log:           log.With(zap.String("service", "booking")),
	}
}

func (s *bookingService) GetBooking(ctx context.Context, bookingID string) (*response.BookingDetailResponse, error) {
	id, err := parseID("booking", bookingID)
	if err != nil {
		return nil, err
	}

	b, err := s.repo.Booking.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	if b == nil {
		return nil, fmt.Errorf("%w: %s", ErrBookingNotFound, bookingID)
	}

	holds, err := s.repo.Hold.FindByBookingID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get holds: %w", err)
	}
	st, refunds, err := s.cancelState(ctx, s.repo, b)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.Attention.FindOpenByBookingID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get attention items: %w", err)
	}

	now := s.now()
	resp := &response.BookingDetailResponse{
		Booking:    response.NewBookingResponse(b),
		Holds:      make([]response.HoldResponse, 0, len(holds)),
		Payments:   make([]response.PaymentResponse, 0, len(st.Payments)),
		Refunds:    response.NewRefundResponses(refunds),
		Attention:  make([]response.AttentionResponse, 0, len(items)),
		PaidToDate: st.PaidToDate(),
	}
	for _, h := range holds {
		resp.Holds = append(resp.Holds, response.NewHoldResponse(h, now))
	}
	for _, p := range st.Payments {
		resp.Payments = append(resp.Payments, response.NewPaymentResponse(p))
	}
	for _, r := range refunds {
		resp.RefundedToDate += r.AmountCents
	}
	for _, a := range items {
		resp.Attention = append(resp.Attention, response.NewAttentionResponse(a))
	}

	return resp, nil
}

func (s *bookingService) QuoteRefund(ctx context.Context, bookingID string, req *request.RefundQuoteRequest) (*response.RefundQuoteResponse, error) {
	if errs := utils.ValidateStruct(req); len(errs) > 0 {
		return nil, fmt.Errorf("%w: validation failed: %s", ErrInvalidInput, utils.FormatValidationErrors(errs))
	}

	id, err := parseID("booking", bookingID)
	if err != nil {
		return nil, err
	}

	cancelAt := s.now()
	if req.CancelAt != "" {
		// validated above
		cancelAt, _ = time.Parse(time.RFC3339, req.CancelAt)
	}

	b, err := s.repo.Booking.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	if b == nil {
		return nil, fmt.Errorf("%w: %s", ErrBookingNotFound, bookingID)
	}

	st, _, err := s.cancelState(ctx, s.repo, b)
	if err != nil {
		return nil, err
	}

	pol := s.policy.ForDeposit(b.DepositCents)
	paid := st.PaidToDate()
	result := pol.Calculate(paid, b.DeliveryAt, cancelAt, req.WeatherOrEmergency)

	return &response.RefundQuoteResponse{
		BookingID:          b.ID,
		PaidCents:          paid,
		DepositCents:       pol.DepositCents,
		RefundPercent:      result.RefundPercent,
		RefundCents:        result.RefundCents,
		RuleLabel:          result.RuleLabel,
		HoursUntilDelivery: result.HoursUntilDelivery,
	}, nil
}

func (s *bookingService) CancelBooking(ctx context.Context, bookingID string, req *request.CancelBookingRequest) (*response.CancelBookingResponse, error) {
	if errs := utils.ValidateStruct(req); len(errs) > 0 {
		return nil, fmt.Errorf("%w: validation failed: %s", ErrInvalidInput, utils.FormatValidationErrors(errs))
	}

	id, err := parseID("booking", bookingID)
	if err != nil {
		return nil, err
	}

	var (
		decision reconcile.Decision
		result   policy.Result
	)
	err = s.repo.RunInTx(ctx, func(tx *repository.Repository) error {
		b, err := tx.Booking.FindByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if b == nil {
			return fmt.Errorf("%w: %s", ErrBookingNotFound, bookingID)
		}

		st, _, err := s.cancelState(ctx, tx, b)
		if err != nil {
			return err
		}

		now := s.now()
		result = s.policy.ForDeposit(b.DepositCents).Calculate(st.PaidToDate(), b.DeliveryAt, now, req.WeatherOrEmergency)

		d, err := s.machine.Cancel(st, result.RefundCents, result.RuleLabel, req.WeatherOrEmergency)
		if errors.Is(err, reconcile.ErrNotCancellable) {
			return fmt.Errorf("%w: %v", ErrInvalidState, err)
		}
		if err != nil {
			return err
		}

		if err := applyDecision(ctx, tx, d, "", now); err != nil {
			return err
		}
		decision = d
		return nil
	})
	if err != nil {
		s.log.Warn("Cancel booking failed", zap.Error(err), zap.String("booking_id", bookingID))
		return nil, err
	}

	var refunded int64
	for _, r := range decision.Refunds {
		refunded += r.AmountCents
	}

	s.log.Info("Booking cancelled",
		zap.String("booking_id", bookingID),
		zap.String("rule", result.RuleLabel),
		zap.Int64("refund_cents", refunded),
		zap.Bool("weather_or_emergency", req.WeatherOrEmergency),
		zap.String("reason", req.Reason))

	s.dispatcher.Dispatch(context.WithoutCancel(ctx), decision.Intents)

	return &response.CancelBookingResponse{
		BookingID:   id,
		Status:      string(entity.BookingStatusCancelled),
		RefundCents: refunded,
		RuleLabel:   result.RuleLabel,
		Refunds:     response.NewRefundResponses(decision.Refunds),
	}, nil
}

func (s *bookingService) PaymentOptions(ctx context.Context, bookingID string) (*response.PaymentOptionsResponse, error) {
	id, err := parseID("booking", bookingID)
	if err != nil {
		return nil, err
	}

	b, err := s.repo.Booking.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	if b == nil {
		return nil, fmt.Errorf("%w: %s", ErrBookingNotFound, bookingID)
	}
	if b.Status == entity.BookingStatusCancelled {
		return nil, fmt.Errorf("%w: booking is cancelled", ErrInvalidState)
	}

	resp := &response.PaymentOptionsResponse{
		BookingID:     b.ID,
		MinAsyncCents: s.minAsyncCents,
		Rails:         []string{},
	}
	switch {
	case !b.DepositPaid:
		resp.AmountDueCents = b.DepositCents
		resp.PaymentType = string(entity.PaymentTypeDeposit)
	case !b.BalancePaid:
		resp.AmountDueCents = b.BalanceDueCents
		resp.PaymentType = string(entity.PaymentTypeBalance)
	}
	if resp.AmountDueCents > 0 {
		for _, rail := range reconcile.AvailableRails(resp.AmountDueCents, s.minAsyncCents) {
			resp.Rails = append(resp.Rails, string(rail))
		}
	}

	return resp, nil
}

func (s *bookingService) ListAttention(ctx context.Context, req *request.PaginatedRequest) (*response.PaginatedResponse[response.AttentionResponse], error) {
	total, err := s.repo.Attention.CountOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("count attention items: %w", err)
	}

	items, err := s.repo.Attention.ListOpen(ctx, req.Limit(), req.Offset())
	if err != nil {
		return nil, fmt.Errorf("list attention items: %w", err)
	}

	data := make([]response.AttentionResponse, 0, len(items))
	for _, a := range items {
		data = append(data, response.NewAttentionResponse(a))
	}

	return response.NewPaginatedResponse(data, req.Page, req.Limit(), total), nil
}

func (s *bookingService) ResolveAttention(ctx context.Context, itemID string) (*response.AttentionResponse, error) {
	id, err := parseID("attention item", itemID)
	if err != nil {
		return nil, err
	}

	var item *entity.AttentionItem
	err = s.repo.RunInTx(ctx, func(tx *repository.Repository) error {
		now := s.now()

		resolved, err := tx.Attention.Resolve(ctx, id, now)
		if err != nil {
			return err
		}
		if resolved == nil {
			return fmt.Errorf("%w: %s", ErrAttentionNotFound, itemID)
		}

		if _, err := tx.Booking.ClearAttention(ctx, resolved.BookingID, now); err != nil {
			return err
		}
		item = resolved
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Attention item resolved",
		zap.String("item_id", itemID),
		zap.String("booking_id", item.BookingID.String()),
		zap.String("kind", string(item.Kind)))

	resp := response.NewAttentionResponse(item)
	return &resp, nil
}

// cancelState loads payments (newest first) and refunds for b through repo.
func (s *bookingService) cancelState(ctx context.Context, repo *repository.Repository, b *entity.Booking) (reconcile.CancelState, []*entity.Refund, error) {
	st := reconcile.CancelState{Booking: b, RefundedByPayment: map[uuid.UUID]int64{}}

	payments, err := repo.Payment.FindByBookingID(ctx, b.ID)
	if err != nil {
		return st, nil, fmt.Errorf("get payments: %w", err)
	}
	st.Payments = payments

	refunds, err := repo.Refund.FindByBookingID(ctx, b.ID)
	if err != nil {
		return st, nil, fmt.Errorf("get refunds: %w", err)
	}
	for _, r := range refunds {
		st.RefundedByPayment[r.PaymentID] += r.AmountCents
	}

	return st, refunds, nil
}

func parseID(kind, raw string) (uuid.UUID, error) {
	id, err := utils.ParseUUID(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s id %q", ErrInvalidInput, kind, raw)
	}
	return id, nil
}
