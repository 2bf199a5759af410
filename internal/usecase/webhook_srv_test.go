package usecase

import (
	"context"
	"testing"
	"time"

	"popndrop/internal/data/entity"
	"popndrop/internal/ingress"
	"popndrop/internal/reconcile"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

var testFees = reconcile.Fees{CardPercentBps: 290, CardFixedCents: 30, BankPercentBps: 80, BankCapCents: 500}

func testMachine() *reconcile.Machine {
	m := reconcile.NewMachine(testFees)
	m.Now = func() time.Time { return testNow }
	return m
}

type webhookFixture struct {
	store *memStore
	disp  *recordingDispatcher
	svc   *webhookService
}

func newWebhookFixture() *webhookFixture {
	store := newMemStore()
	disp := &recordingDispatcher{}
	svc := NewWebhookService(store.repo(), ingress.NewVerifier("whsec_test", 5*time.Minute), testMachine(), disp, zap.NewNop()).(*webhookService)
	svc.now = func() time.Time { return testNow }
	return &webhookFixture{store: store, disp: disp, svc: svc}
}

// seedBooking adds a booking with one hold expiring at holdExpiry (nil
// for a firm hold).
func (f *webhookFixture) seedBooking(status entity.BookingStatus, holdExpiry *time.Time) *entity.Booking {
	return seedBooking(f.store, status, holdExpiry)
}

func seedBooking(store *memStore, status entity.BookingStatus, holdExpiry *time.Time) *entity.Booking {
	b := &entity.Booking{
		BaseNoDelete:    entity.BaseNoDelete{ID: uuid.New(), CreatedAt: testNow.Add(-time.Hour)},
		BookingNumber:   "PD-" + uuid.NewString()[:6],
		Status:          status,
		CustomerName:    "Ada",
		CustomerEmail:   "ada@example.com",
		DeliveryAt:      testNow.Add(72 * time.Hour),
		PickupAt:        testNow.Add(80 * time.Hour),
		SubtotalCents:   20000,
		DepositCents:    5000,
		BalanceDueCents: 15000,
	}
	store.bookings = append(store.bookings, b)
	store.holds = append(store.holds, &entity.BookingHold{
		BaseSimple: entity.BaseSimple{ID: uuid.New(), CreatedAt: b.CreatedAt},
		BookingID:  b.ID,
		UnitID:     "castle-1",
		StartsAt:   b.DeliveryAt,
		EndsAt:     b.PickupAt,
		ExpiresAt:  holdExpiry,
	})
	return b
}

func inFuture() *time.Time {
	t := testNow.Add(30 * time.Minute)
	return &t
}

func inPast() *time.Time {
	t := testNow.Add(-30 * time.Minute)
	return &t
}

func meta(id, eventType string) ingress.Meta {
	return ingress.Meta{ID: id, Type: eventType, Created: testNow}
}

func cardCheckout(b *entity.Booking, amount int64, paymentType entity.PaymentType) ingress.Checkout {
	return ingress.Checkout{
		SessionID:   "cs_" + b.BookingNumber,
		PaymentRef:  "pi_" + b.BookingNumber,
		BookingID:   b.ID,
		PaymentType: paymentType,
		AmountCents: amount,
		Paid:        true,
		Rail:        entity.PaymentRailCard,
	}
}

func bankCheckout(b *entity.Booking, amount int64, paid bool) ingress.Checkout {
	c := cardCheckout(b, amount, entity.PaymentTypeFull)
	c.Rail = entity.PaymentRailBankTransfer
	c.Paid = paid
	return c
}

func TestProcess_CardCaptureConfirmsBooking(t *testing.T) {
	f := newWebhookFixture()
	b := f.seedBooking(entity.BookingStatusPending, inFuture())

	resp, err := f.svc.Process(context.Background(), ingress.CheckoutCompleted{
		Meta:     meta("evt_1", ingress.TypeCheckoutCompleted),
		Checkout: cardCheckout(b, 5000, entity.PaymentTypeDeposit),
	})
	require.NoError(t, err)
	assert.Equal(t, string(reconcile.OutcomeConfirmed), resp.Outcome)
	assert.False(t, resp.Duplicate)

	got := f.store.booking(b.ID)
	assert.Equal(t, entity.BookingStatusConfirmed, got.Status)
	assert.True(t, got.DepositPaid)
	assert.False(t, got.BalancePaid)
	assert.Nil(t, f.store.holds[0].ExpiresAt, "holds become firm on confirmation")

	require.Len(t, f.store.payments, 1)
	assert.Equal(t, entity.PaymentStatusSucceeded, f.store.payments[0].Status)
	assert.Equal(t, int64(175), f.store.payments[0].FeeCents)
	assert.Equal(t, "evt_1", f.store.payments[0].ProviderEventID)

	require.Len(t, f.disp.batches, 1)
	assert.Len(t, f.disp.batches[0], 3)
	assert.Len(t, f.store.events, 1)
}

func TestProcess_DuplicateDeliveryIsNoop(t *testing.T) {
	f := newWebhookFixture()
	b := f.seedBooking(entity.BookingStatusPending, inFuture())
	ev := ingress.CheckoutCompleted{
		Meta:     meta("evt_dup", ingress.TypeCheckoutCompleted),
		Checkout: cardCheckout(b, 20000, entity.PaymentTypeFull),
	}

	_, err := f.svc.Process(context.Background(), ev)
	require.NoError(t, err)

	resp, err := f.svc.Process(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, resp.Duplicate)
	assert.Equal(t, string(reconcile.OutcomeNoop), resp.Outcome)

	assert.Len(t, f.store.payments, 1)
	assert.Len(t, f.disp.batches, 1, "side effects are dispatched once")
	assert.Len(t, f.store.events, 1)
}

func TestProcess_CaptureOnCancelledBookingRejectsAndRefunds(t *testing.T) {
	f := newWebhookFixture()
	b := f.seedBooking(entity.BookingStatusCancelled, inFuture())

	resp, err := f.svc.Process(context.Background(), ingress.CheckoutCompleted{
		Meta:     meta("evt_race", ingress.TypeCheckoutCompleted),
		Checkout: cardCheckout(b, 20000, entity.PaymentTypeFull),
	})
	require.NoError(t, err)
	assert.Equal(t, string(reconcile.OutcomeRejected), resp.Outcome)

	assert.Equal(t, entity.BookingStatusCancelled, f.store.booking(b.ID).Status)
	require.Len(t, f.store.payments, 1)
	assert.Equal(t, entity.PaymentStatusRejected, f.store.payments[0].Status)

	require.Len(t, f.store.refunds, 1)
	refund := f.store.refunds[0]
	assert.Equal(t, int64(20000), refund.AmountCents)
	assert.Equal(t, entity.RefundTypeFull, refund.Type)
	assert.Equal(t, f.store.payments[0].ID, refund.PaymentID)

	var refundIntents []reconcile.Intent
	for _, in := range f.disp.all() {
		if in.Kind == reconcile.IntentRefund {
			refundIntents = append(refundIntents, in)
		}
	}
	require.Len(t, refundIntents, 1)
	assert.Equal(t, int64(20000), refundIntents[0].Refund.AmountCents)
	assert.Equal(t, "refund-"+refund.ID.String(), refundIntents[0].Refund.IdempotencyKey)
}

func TestProcess_CaptureAfterHoldsExpiredRejects(t *testing.T) {
	f := newWebhookFixture()
	b := f.seedBooking(entity.BookingStatusPending, inPast())

	resp, err := f.svc.Process(context.Background(), ingress.CheckoutCompleted{
		Meta:     meta("evt_late", ingress.TypeCheckoutCompleted),
		Checkout: cardCheckout(b, 5000, entity.PaymentTypeDeposit),
	})
	require.NoError(t, err)
	assert.Equal(t, string(reconcile.OutcomeRejected), resp.Outcome)
	assert.Equal(t, entity.BookingStatusPending, f.store.booking(b.ID).Status)
	require.Len(t, f.store.refunds, 1)
	assert.Equal(t, int64(5000), f.store.refunds[0].AmountCents)
}

func TestProcess_ExpiredAfterConfirmationIsNoop(t *testing.T) {
	f := newWebhookFixture()
	b := f.seedBooking(entity.BookingStatusPending, inFuture())

	_, err := f.svc.Process(context.Background(), ingress.CheckoutCompleted{
		Meta:     meta("evt_paid", ingress.TypeCheckoutCompleted),
		Checkout: cardCheckout(b, 5000, entity.PaymentTypeDeposit),
	})
	require.NoError(t, err)

	resp, err := f.svc.Process(context.Background(), ingress.CheckoutExpired{
		Meta:      meta("evt_expired", ingress.TypeCheckoutExpired),
		SessionID: "cs_" + b.BookingNumber,
		BookingID: b.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, string(reconcile.OutcomeNoop), resp.Outcome)
	assert.Equal(t, entity.BookingStatusConfirmed, f.store.booking(b.ID).Status)
	assert.Len(t, f.store.holds, 1)
}

func TestProcess_ExpiredUnpaidBookingIsDeleted(t *testing.T) {
	f := newWebhookFixture()
	b := f.seedBooking(entity.BookingStatusPending, inPast())

	resp, err := f.svc.Process(context.Background(), ingress.CheckoutExpired{
		Meta:      meta("evt_expired", ingress.TypeCheckoutExpired),
		BookingID: b.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, string(reconcile.OutcomeReleased), resp.Outcome)
	assert.Nil(t, f.store.booking(b.ID))
	assert.Empty(t, f.store.holds)
}

func TestProcess_ExpiredForMissingBookingIsAcknowledged(t *testing.T) {
	f := newWebhookFixture()

	resp, err := f.svc.Process(context.Background(), ingress.CheckoutExpired{
		Meta:      meta("evt_gone", ingress.TypeCheckoutExpired),
		BookingID: uuid.New(),
	})
	require.NoError(t, err)
	assert.Equal(t, string(reconcile.OutcomeNoop), resp.Outcome)
	assert.Len(t, f.store.events, 1)
}

func TestProcess_AsyncSettlementFlow(t *testing.T) {
	f := newWebhookFixture()
	b := f.seedBooking(entity.BookingStatusPending, inFuture())

	resp, err := f.svc.Process(context.Background(), ingress.CheckoutCompleted{
		Meta:     meta("evt_started", ingress.TypeCheckoutCompleted),
		Checkout: bankCheckout(b, 20000, false),
	})
	require.NoError(t, err)
	assert.Equal(t, string(reconcile.OutcomeAsyncPending), resp.Outcome)

	got := f.store.booking(b.ID)
	assert.Equal(t, entity.BookingStatusPending, got.Status)
	assert.True(t, got.AsyncInFlight())
	assert.Nil(t, f.store.holds[0].ExpiresAt)
	require.Len(t, f.store.payments, 1)
	assert.Equal(t, entity.PaymentStatusPending, f.store.payments[0].Status)
	assert.Equal(t, int64(160), f.store.payments[0].FeeCents)

	resp, err = f.svc.Process(context.Background(), ingress.AsyncPaymentSucceeded{
		Meta:     meta("evt_cleared", ingress.TypeAsyncPaymentSucceeded),
		Checkout: bankCheckout(b, 20000, true),
	})
	require.NoError(t, err)
	assert.Equal(t, string(reconcile.OutcomeConfirmed), resp.Outcome)

	got = f.store.booking(b.ID)
	assert.Equal(t, entity.BookingStatusConfirmed, got.Status)
	assert.True(t, got.FullyPaid())
	require.NotNil(t, got.AsyncPaymentStatus)
	assert.Equal(t, entity.AsyncPaymentSucceeded, *got.AsyncPaymentStatus)

	require.Len(t, f.store.payments, 1, "the pending record is settled in place")
	assert.Equal(t, entity.PaymentStatusSucceeded, f.store.payments[0].Status)
	require.NotNil(t, f.store.payments[0].SettledEventID)
	assert.Equal(t, "evt_cleared", *f.store.payments[0].SettledEventID)
}

func TestProcess_AsyncFailureFlagsBooking(t *testing.T) {
	f := newWebhookFixture()
	b := f.seedBooking(entity.BookingStatusPending, inFuture())

	_, err := f.svc.Process(context.Background(), ingress.CheckoutCompleted{
		Meta:     meta("evt_started", ingress.TypeCheckoutCompleted),
		Checkout: bankCheckout(b, 20000, false),
	})
	require.NoError(t, err)

	resp, err := f.svc.Process(context.Background(), ingress.AsyncPaymentFailed{
		Meta:          meta("evt_failed", ingress.TypeAsyncPaymentFailed),
		Checkout:      bankCheckout(b, 20000, false),
		FailureReason: "insufficient funds",
	})
	require.NoError(t, err)
	assert.Equal(t, string(reconcile.OutcomeAsyncFailed), resp.Outcome)

	got := f.store.booking(b.ID)
	assert.Equal(t, entity.BookingStatusPending, got.Status)
	assert.True(t, got.NeedsAttention)
	require.NotNil(t, got.AsyncPaymentStatus)
	assert.Equal(t, entity.AsyncPaymentFailed, *got.AsyncPaymentStatus)

	assert.Equal(t, entity.PaymentStatusFailed, f.store.payments[0].Status)
	require.Len(t, f.store.attention, 1)
	assert.Equal(t, entity.AttentionAsyncPaymentFailed, f.store.attention[0].Kind)
}

func confirmedWithPayment(t *testing.T, f *webhookFixture, amount int64) *entity.Booking {
	t.Helper()
	b := f.seedBooking(entity.BookingStatusPending, inFuture())
	_, err := f.svc.Process(context.Background(), ingress.CheckoutCompleted{
		Meta:     meta("evt_paid_"+b.BookingNumber, ingress.TypeCheckoutCompleted),
		Checkout: cardCheckout(b, amount, entity.PaymentTypeFull),
	})
	require.NoError(t, err)
	return b
}

func TestProcess_FullRefundCancelsBooking(t *testing.T) {
	f := newWebhookFixture()
	b := confirmedWithPayment(t, f, 20000)

	ev := ingress.ChargeRefunded{
		Meta:              meta("evt_refund_1", ingress.TypeChargeRefunded),
		ChargeID:          "ch_1",
		PaymentRef:        "pi_" + b.BookingNumber,
		AmountCents:       20000,
		RefundedCents:     20000,
		LatestRefundCents: 20000,
	}
	resp, err := f.svc.Process(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, string(reconcile.OutcomeCancelled), resp.Outcome)

	assert.Equal(t, entity.BookingStatusCancelled, f.store.booking(b.ID).Status)
	assert.Empty(t, f.store.holds)
	require.Len(t, f.store.refunds, 1)
	assert.Equal(t, int64(610), f.store.refunds[0].FeeLostCents)

	// A second provider event for the same logical refund.
	ev.Meta = meta("evt_refund_2", "charge.refund.updated")
	ev.RefundRef = "re_1"
	resp, err = f.svc.Process(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, string(reconcile.OutcomeNoop), resp.Outcome)
	require.Len(t, f.store.refunds, 1)
}

func TestProcess_PartialRefundKeepsBooking(t *testing.T) {
	f := newWebhookFixture()
	b := confirmedWithPayment(t, f, 20000)

	_, err := f.svc.Process(context.Background(), ingress.ChargeRefunded{
		Meta:              meta("evt_refund", ingress.TypeChargeRefunded),
		PaymentRef:        "pi_" + b.BookingNumber,
		AmountCents:       20000,
		RefundedCents:     5000,
		LatestRefundCents: 5000,
		RefundRef:         "re_part",
	})
	require.NoError(t, err)

	assert.Equal(t, entity.BookingStatusConfirmed, f.store.booking(b.ID).Status)
	require.Len(t, f.store.refunds, 1)
	assert.Equal(t, entity.RefundTypePartial, f.store.refunds[0].Type)
	assert.Equal(t, int64(153), f.store.refunds[0].FeeLostCents)
}

func TestProcess_DisputeRecordedOnce(t *testing.T) {
	f := newWebhookFixture()
	b := confirmedWithPayment(t, f, 20000)
	due := testNow.Add(7 * 24 * time.Hour)

	ev := ingress.DisputeCreated{
		Meta:          meta("evt_dispute_1", ingress.TypeDisputeCreated),
		DisputeID:     "dp_1",
		ChargeID:      "ch_1",
		PaymentRef:    "pi_" + b.BookingNumber,
		AmountCents:   20000,
		Reason:        "fraudulent",
		EvidenceDueBy: &due,
	}
	resp, err := f.svc.Process(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, string(reconcile.OutcomeDisputeRecorded), resp.Outcome)
	require.Len(t, f.store.expenses, 1)
	require.NotNil(t, f.store.expenses[0].BookingID)
	assert.Equal(t, b.ID, *f.store.expenses[0].BookingID)
	assert.Equal(t, entity.BookingStatusConfirmed, f.store.booking(b.ID).Status)

	ev.Meta = meta("evt_dispute_2", ingress.TypeDisputeCreated)
	_, err = f.svc.Process(context.Background(), ev)
	require.NoError(t, err)
	assert.Len(t, f.store.expenses, 1)
}

func TestProcess_LookupFailureLeavesEventUnprocessed(t *testing.T) {
	f := newWebhookFixture()
	b := f.seedBooking(entity.BookingStatusPending, inFuture())
	f.store.failBookingFind = true

	ev := ingress.CheckoutCompleted{
		Meta:     meta("evt_retry", ingress.TypeCheckoutCompleted),
		Checkout: cardCheckout(b, 5000, entity.PaymentTypeDeposit),
	}
	_, err := f.svc.Process(context.Background(), ev)
	require.Error(t, err)
	assert.Empty(t, f.store.events, "the ledger write rolls back")
	assert.Empty(t, f.store.payments)
	assert.Empty(t, f.disp.batches)

	// Redelivery after recovery succeeds.
	f.store.failBookingFind = false
	resp, err := f.svc.Process(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, string(reconcile.OutcomeConfirmed), resp.Outcome)
}

func TestProcess_MissingBookingIsRetried(t *testing.T) {
	f := newWebhookFixture()
	ghost := &entity.Booking{BaseNoDelete: entity.BaseNoDelete{ID: uuid.New()}, BookingNumber: "PD-X"}

	_, err := f.svc.Process(context.Background(), ingress.CheckoutCompleted{
		Meta:     meta("evt_orphan", ingress.TypeCheckoutCompleted),
		Checkout: cardCheckout(ghost, 5000, entity.PaymentTypeDeposit),
	})
	assert.ErrorIs(t, err, reconcile.ErrBookingNotFound)
	assert.Empty(t, f.store.events)
}

func TestProcess_IgnoredAndFailedPaymentsAreAcknowledged(t *testing.T) {
	f := newWebhookFixture()

	resp, err := f.svc.Process(context.Background(), ingress.Ignored{
		Meta:   meta("evt_other", "customer.created"),
		Reason: "unhandled event type",
	})
	require.NoError(t, err)
	assert.Equal(t, string(reconcile.OutcomeNoop), resp.Outcome)

	resp, err = f.svc.Process(context.Background(), ingress.PaymentFailed{
		Meta:       meta("evt_declined", ingress.TypePaymentFailed),
		PaymentRef: "pi_x",
		Message:    "card declined",
	})
	require.NoError(t, err)
	assert.Equal(t, string(reconcile.OutcomeNoop), resp.Outcome)
	assert.Len(t, f.store.events, 2)
	assert.Empty(t, f.disp.batches)
}

func TestReceive_RejectsBadSignature(t *testing.T) {
	f := newWebhookFixture()

	_, err := f.svc.Receive(context.Background(), []byte(`{"id":"evt_1"}`), "t=1,v1=bad")
	assert.ErrorIs(t, err, ingress.ErrInvalidSignature)
	assert.Empty(t, f.store.events)
}
