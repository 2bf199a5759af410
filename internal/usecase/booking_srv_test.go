package usecase

import (
	"context"
	"testing"
	"time"

	"popndrop/internal/data/entity"
	"popndrop/internal/dto/request"
	"popndrop/internal/policy"
	"popndrop/internal/reconcile"
	"popndrop/pkg/utils"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type bookingFixture struct {
	store *memStore
	disp  *recordingDispatcher
	svc   *bookingService
}

func newBookingFixture(t *testing.T) *bookingFixture {
	t.Helper()
	pol, err := policy.New(5000, policy.DefaultBands)
	require.NoError(t, err)

	store := newMemStore()
	disp := &recordingDispatcher{}
	svc := NewBookingService(store.repo(), testMachine(), pol, disp, utils.AsyncConfig{MinAmountCents: 100}, zap.NewNop()).(*bookingService)
	svc.now = func() time.Time { return testNow }
	return &bookingFixture{store: store, disp: disp, svc: svc}
}

func addPayment(store *memStore, b *entity.Booking, amount int64, status entity.PaymentStatus, age time.Duration) *entity.Payment {
	p := &entity.Payment{
		BaseNoDelete:       entity.BaseNoDelete{ID: uuid.New(), CreatedAt: testNow.Add(-age)},
		BookingID:          b.ID,
		AmountCents:        amount,
		FeeCents:           testFees.Fee(entity.PaymentRailCard, amount),
		Type:               entity.PaymentTypeDeposit,
		Status:             status,
		Rail:               entity.PaymentRailCard,
		ProviderEventID:    "evt_" + uuid.NewString(),
		ProviderPaymentRef: "pi_" + uuid.NewString(),
	}
	store.payments = append(store.payments, p)
	return p
}

func TestCancelBooking_SpreadsPolicyRefundNewestFirst(t *testing.T) {
	f := newBookingFixture(t)
	b := seedBooking(f.store, entity.BookingStatusConfirmed, nil)
	b.DepositPaid, b.BalancePaid = true, true
	deposit := addPayment(f.store, b, 5000, entity.PaymentStatusSucceeded, 48*time.Hour)
	balance := addPayment(f.store, b, 15000, entity.PaymentStatusSucceeded, time.Hour)

	// 72h out: 100% of (20000 - 5000 deposit).
	resp, err := f.svc.CancelBooking(context.Background(), b.ID.String(), &request.CancelBookingRequest{Reason: "rain date moved"})
	require.NoError(t, err)
	assert.Equal(t, int64(15000), resp.RefundCents)
	assert.Equal(t, "48h+", resp.RuleLabel)
	assert.Equal(t, string(entity.BookingStatusCancelled), resp.Status)

	require.Len(t, f.store.refunds, 1)
	assert.Equal(t, balance.ID, f.store.refunds[0].PaymentID)
	assert.Equal(t, entity.RefundTypeFull, f.store.refunds[0].Type)
	assert.Equal(t, reconcile.ReasonCustomerCancellation, f.store.refunds[0].ReasonCode)
	assert.NotEqual(t, deposit.ID, f.store.refunds[0].PaymentID)

	assert.Equal(t, entity.BookingStatusCancelled, f.store.booking(b.ID).Status)
	assert.Empty(t, f.store.holds)

	intents := f.disp.all()
	require.Len(t, intents, 3)
	assert.Equal(t, reconcile.IntentRefund, intents[0].Kind)
	assert.Equal(t, balance.ProviderPaymentRef, intents[0].Refund.PaymentRef)
}

func TestCancelBooking_WeatherRefundsEverything(t *testing.T) {
	f := newBookingFixture(t)
	b := seedBooking(f.store, entity.BookingStatusConfirmed, nil)
	b.DeliveryAt = testNow.Add(5 * time.Hour)
	addPayment(f.store, b, 5000, entity.PaymentStatusSucceeded, 48*time.Hour)
	addPayment(f.store, b, 15000, entity.PaymentStatusSucceeded, time.Hour)

	resp, err := f.svc.CancelBooking(context.Background(), b.ID.String(), &request.CancelBookingRequest{WeatherOrEmergency: true})
	require.NoError(t, err)
	assert.Equal(t, int64(20000), resp.RefundCents)
	assert.Equal(t, policy.LabelWeatherEmergency, resp.RuleLabel)
	assert.Len(t, f.store.refunds, 2)
}

func TestCancelBooking_Rejections(t *testing.T) {
	f := newBookingFixture(t)
	done := seedBooking(f.store, entity.BookingStatusCompleted, nil)

	_, err := f.svc.CancelBooking(context.Background(), done.ID.String(), &request.CancelBookingRequest{})
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = f.svc.CancelBooking(context.Background(), uuid.NewString(), &request.CancelBookingRequest{})
	assert.ErrorIs(t, err, ErrBookingNotFound)

	_, err = f.svc.CancelBooking(context.Background(), "nope", &request.CancelBookingRequest{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	assert.Empty(t, f.disp.batches)
}

func TestCancelBooking_ConflictRollsBack(t *testing.T) {
	f := newBookingFixture(t)
	b := seedBooking(f.store, entity.BookingStatusConfirmed, nil)
	p := addPayment(f.store, b, 20000, entity.PaymentStatusSucceeded, time.Hour)

	// A refund row for the same payment and amount that is not counted
	// against the payment, so the cancellation tries to write it again.
	f.store.refunds = append(f.store.refunds, &entity.Refund{
		BaseSimple:  entity.BaseSimple{ID: uuid.New()},
		BookingID:   uuid.New(),
		PaymentID:   p.ID,
		AmountCents: 15000,
	})

	_, err := f.svc.CancelBooking(context.Background(), b.ID.String(), &request.CancelBookingRequest{})
	assert.ErrorIs(t, err, ErrRefundConflict)
	assert.Equal(t, entity.BookingStatusConfirmed, f.store.booking(b.ID).Status)
	assert.Len(t, f.store.holds, 1)
	assert.Empty(t, f.disp.batches)
}

func TestQuoteRefund(t *testing.T) {
	f := newBookingFixture(t)
	b := seedBooking(f.store, entity.BookingStatusConfirmed, nil)
	addPayment(f.store, b, 20000, entity.PaymentStatusSucceeded, time.Hour)
	addPayment(f.store, b, 9999, entity.PaymentStatusFailed, 2*time.Hour)

	tests := []struct {
		name    string
		req     request.RefundQuoteRequest
		percent int
		refund  int64
		label   string
	}{
		{"72h out", request.RefundQuoteRequest{}, 100, 15000, "48h+"},
		{"30h out", request.RefundQuoteRequest{CancelAt: testNow.Add(42 * time.Hour).Format(time.RFC3339)}, 50, 7500, "24-47h"},
		{"10h out", request.RefundQuoteRequest{CancelAt: testNow.Add(62 * time.Hour).Format(time.RFC3339)}, 0, 0, "0-23h"},
		{"weather", request.RefundQuoteRequest{WeatherOrEmergency: true, CancelAt: testNow.Add(67 * time.Hour).Format(time.RFC3339)}, 100, 20000, policy.LabelWeatherEmergency},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			q, err := f.svc.QuoteRefund(context.Background(), b.ID.String(), &req)
			require.NoError(t, err)
			assert.Equal(t, int64(20000), q.PaidCents)
			assert.Equal(t, tt.percent, q.RefundPercent)
			assert.Equal(t, tt.refund, q.RefundCents)
			assert.Equal(t, tt.label, q.RuleLabel)
		})
	}

	_, err := f.svc.QuoteRefund(context.Background(), b.ID.String(), &request.RefundQuoteRequest{CancelAt: "tomorrow"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestQuoteAndCancel_UseBookingDeposit(t *testing.T) {
	f := newBookingFixture(t)
	b := seedBooking(f.store, entity.BookingStatusConfirmed, nil)
	b.DepositCents = 8000
	b.DepositPaid, b.BalancePaid = true, true
	addPayment(f.store, b, 20000, entity.PaymentStatusSucceeded, time.Hour)

	q, err := f.svc.QuoteRefund(context.Background(), b.ID.String(), &request.RefundQuoteRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(8000), q.DepositCents)
	assert.Equal(t, int64(12000), q.RefundCents)

	resp, err := f.svc.CancelBooking(context.Background(), b.ID.String(), &request.CancelBookingRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(12000), resp.RefundCents)
	require.Len(t, f.store.refunds, 1)
	assert.Equal(t, int64(12000), f.store.refunds[0].AmountCents)
}

func TestPaymentOptions(t *testing.T) {
	f := newBookingFixture(t)
	b := seedBooking(f.store, entity.BookingStatusPending, inFuture())

	opts, err := f.svc.PaymentOptions(context.Background(), b.ID.String())
	require.NoError(t, err)
	assert.Equal(t, int64(5000), opts.AmountDueCents)
	assert.Equal(t, "deposit", opts.PaymentType)
	assert.Equal(t, []string{"card", "bank_transfer"}, opts.Rails)

	b.DepositPaid = true
	b.BalanceDueCents = 50
	opts, err = f.svc.PaymentOptions(context.Background(), b.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "balance", opts.PaymentType)
	assert.Equal(t, []string{"card"}, opts.Rails, "below the async minimum only card is offered")

	b.Status = entity.BookingStatusCancelled
	_, err = f.svc.PaymentOptions(context.Background(), b.ID.String())
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestGetBooking(t *testing.T) {
	f := newBookingFixture(t)
	b := seedBooking(f.store, entity.BookingStatusConfirmed, nil)
	p := addPayment(f.store, b, 20000, entity.PaymentStatusSucceeded, time.Hour)
	f.store.refunds = append(f.store.refunds, &entity.Refund{
		BaseSimple:  entity.BaseSimple{ID: uuid.New()},
		BookingID:   b.ID,
		PaymentID:   p.ID,
		AmountCents: 5000,
		Type:        entity.RefundTypePartial,
	})

	detail, err := f.svc.GetBooking(context.Background(), b.ID.String())
	require.NoError(t, err)
	assert.Equal(t, b.BookingNumber, detail.Booking.BookingNumber)
	assert.Len(t, detail.Holds, 1)
	assert.True(t, detail.Holds[0].Active)
	assert.Len(t, detail.Payments, 1)
	assert.Equal(t, int64(15000), detail.PaidToDate)
	assert.Equal(t, int64(5000), detail.RefundedToDate)

	_, err = f.svc.GetBooking(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, ErrBookingNotFound)
}

func TestAttentionLifecycle(t *testing.T) {
	f := newBookingFixture(t)
	b := seedBooking(f.store, entity.BookingStatusConfirmed, nil)
	reason := "delivery not confirmed"
	b.NeedsAttention = true
	b.AttentionReason = &reason

	first := &entity.AttentionItem{BaseSimple: entity.BaseSimple{ID: uuid.New(), CreatedAt: testNow.Add(-time.Hour)}, BookingID: b.ID, Kind: entity.AttentionDeliveryUnconfirmed, Reason: reason}
	second := &entity.AttentionItem{BaseSimple: entity.BaseSimple{ID: uuid.New(), CreatedAt: testNow}, BookingID: b.ID, Kind: entity.AttentionBalanceOutstanding, Reason: "balance"}
	f.store.attention = append(f.store.attention, first, second)

	page, err := f.svc.ListAttention(context.Background(), &request.PaginatedRequest{Page: 1, PerPage: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Pagination.Total)
	assert.Equal(t, 2, page.Pagination.TotalPages)
	require.Len(t, page.Data, 1)
	assert.Equal(t, second.ID, page.Data[0].ID)

	_, err = f.svc.ResolveAttention(context.Background(), first.ID.String())
	require.NoError(t, err)
	assert.True(t, f.store.booking(b.ID).NeedsAttention, "one item still open")

	resolved, err := f.svc.ResolveAttention(context.Background(), second.ID.String())
	require.NoError(t, err)
	assert.NotNil(t, resolved.ResolvedAt)
	assert.False(t, f.store.booking(b.ID).NeedsAttention)

	_, err = f.svc.ResolveAttention(context.Background(), second.ID.String())
	assert.ErrorIs(t, err, ErrAttentionNotFound)
}
