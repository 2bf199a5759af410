package reconcile

import (
	"fmt"
	"time"

	"popndrop/internal/data/entity"
	"popndrop/internal/ingress"
	"popndrop/pkg/utils"

	"github.com/google/uuid"
)

const asyncFailedReason = "async payment failed, customer must retry"

var openStatuses = []entity.BookingStatus{entity.BookingStatusPending, entity.BookingStatusConfirmed}

// DefaultAsyncRetryWindow is how long a booking keeps its holds after a
// bank transfer fails.
const DefaultAsyncRetryWindow = 48 * time.Hour

// Machine decides booking transitions. It holds no state of its own.
type Machine struct {
	Fees Fees
	Now  func() time.Time
	// AsyncRetryWindow bounds how long holds survive a failed transfer.
	AsyncRetryWindow time.Duration
}

func NewMachine(fees Fees) *Machine {
	return &Machine{Fees: fees, Now: time.Now, AsyncRetryWindow: DefaultAsyncRetryWindow}
}

func (m *Machine) now() time.Time {
	if m.Now == nil {
		return time.Now().UTC()
	}
	return m.Now().UTC()
}

// Completed handles a finished checkout session. Captured funds go
// through the confirmation guard; an unpaid bank transfer session only
// opens async settlement.
func (m *Machine) Completed(meta ingress.Meta, c ingress.Checkout, st State) (Decision, error) {
	if c.Paid {
		return m.Capture(meta, c, st)
	}
	if c.Rail == entity.PaymentRailBankTransfer {
		return m.AsyncPending(meta, c, st)
	}
	return Acknowledge(c.BookingID, "checkout completed without payment"), nil
}

// Capture confirms the booking for money that has actually moved, or
// rejects and refunds it when the booking is no longer eligible. It
// serves both card captures and cleared bank transfers.
func (m *Machine) Capture(meta ingress.Meta, c ingress.Checkout, st State) (Decision, error) {
	b := st.Booking
	if b == nil {
		return Decision{}, fmt.Errorf("%w: %s", ErrBookingNotFound, c.BookingID)
	}
	if p := st.Payment; p != nil && p.Status != entity.PaymentStatusPending {
		return Acknowledge(b.ID, fmt.Sprintf("payment already %s for session", p.Status)), nil
	}

	fee := m.Fees.Fee(c.Rail, c.AmountCents)
	if ok, why := eligible(b, st.ActiveHolds); !ok {
		return m.reject(meta, c, st, fee, why), nil
	}

	now := m.now()
	d := Decision{Outcome: OutcomeConfirmed, BookingID: b.ID}

	effect := BookingEffect{
		Action:       BookingConfirm,
		From:         openStatuses,
		To:           entity.BookingStatusConfirmed,
		DepositPaid:  c.PaymentType == entity.PaymentTypeDeposit || c.PaymentType == entity.PaymentTypeFull,
		BalancePaid:  c.PaymentType == entity.PaymentTypeFull || c.PaymentType == entity.PaymentTypeBalance,
		AsyncSettled: c.Rail == entity.PaymentRailBankTransfer && b.IsAsyncPayment,
		FirmHolds:    true,
	}
	if b.Status == entity.BookingStatusCompleted {
		effect.From = []entity.BookingStatus{entity.BookingStatusCompleted}
		effect.To = entity.BookingStatusCompleted
	}
	d.Booking = effect

	if p := st.Payment; p != nil {
		d.Settle = &PaymentSettlement{PaymentID: p.ID, From: entity.PaymentStatusPending, To: entity.PaymentStatusSucceeded}
	} else {
		d.NewPayment = m.newPayment(meta, c, fee, entity.PaymentStatusSucceeded, now)
	}

	data := m.bookingData(b, c)
	d.Intents = []Intent{
		customerEmail(b, TemplateBookingConfirmed, "Your booking is confirmed", data),
		operatorEmail(b.ID, TemplateBookingConfirmed, fmt.Sprintf("Booking %s confirmed", b.BookingNumber), data, false),
		operatorPush(b.ID, TemplateBookingConfirmed, fmt.Sprintf("Booking %s confirmed", b.BookingNumber), data, false),
	}
	return d, nil
}

// reject records captured money against an ineligible booking and
// refunds all of it.
func (m *Machine) reject(meta ingress.Meta, c ingress.Checkout, st State, fee int64, why string) Decision {
	b := st.Booking
	now := m.now()
	d := Decision{Outcome: OutcomeRejected, Reason: why, BookingID: b.ID}

	paymentID := utils.GenerateUUID()
	if p := st.Payment; p != nil {
		paymentID = p.ID
		reason := why
		d.Settle = &PaymentSettlement{
			PaymentID:     p.ID,
			From:          entity.PaymentStatusPending,
			To:            entity.PaymentStatusRejected,
			FailureReason: &reason,
		}
	} else {
		d.NewPayment = m.newPayment(meta, c, fee, entity.PaymentStatusRejected, now)
		d.NewPayment.ID = paymentID
		reason := why
		d.NewPayment.FailureReason = &reason
	}

	data := m.bookingData(b, c)
	data["reason"] = why

	if c.AmountCents > 0 {
		refund := &entity.Refund{
			BaseSimple:   entity.BaseSimple{ID: utils.GenerateUUID(), CreatedAt: now},
			BookingID:    b.ID,
			PaymentID:    paymentID,
			AmountCents:  c.AmountCents,
			Type:         entity.RefundTypeFull,
			FeeLostCents: FeeLost(fee, c.AmountCents, c.AmountCents),
			ReasonCode:   ReasonBookingIneligible,
		}
		d.Refunds = []*entity.Refund{refund}
		data["refund_amount"] = FormatCents(refund.AmountCents)

		if c.PaymentRef != "" {
			d.Intents = append(d.Intents, refundIntent(b, refund, c.PaymentRef, why))
		} else {
			// Nothing to refund against at the provider; an operator must.
			d.Attention = manualRefundItem(b.ID, refund.AmountCents, now)
			data["refund_status"] = "manual refund required, provider payment reference missing"
		}
	}

	subject := fmt.Sprintf("Payment rejected for booking %s", b.BookingNumber)
	d.Intents = append(d.Intents,
		customerEmail(b, TemplatePaymentRejected, "We could not confirm your booking", data),
		operatorEmail(b.ID, TemplatePaymentRejected, subject, data, true),
		operatorPush(b.ID, TemplatePaymentRejected, subject, data, true),
	)
	return d
}

// AsyncPending records a bank transfer that has been initiated but not
// cleared. No funds have moved, so eligibility is not checked yet.
func (m *Machine) AsyncPending(meta ingress.Meta, c ingress.Checkout, st State) (Decision, error) {
	b := st.Booking
	if b == nil {
		return Decision{}, fmt.Errorf("%w: %s", ErrBookingNotFound, c.BookingID)
	}
	if st.Payment != nil {
		return Acknowledge(b.ID, "payment already recorded for session"), nil
	}

	d := Decision{Outcome: OutcomeAsyncPending, BookingID: b.ID}
	d.NewPayment = m.newPayment(meta, c, m.Fees.Fee(c.Rail, c.AmountCents), entity.PaymentStatusPending, m.now())

	// Holds stay put while the transfer clears.
	if b.Status == entity.BookingStatusPending {
		d.Booking = BookingEffect{
			Action:    BookingMarkAsyncPending,
			From:      []entity.BookingStatus{entity.BookingStatusPending},
			FirmHolds: true,
		}
	}

	d.Intents = []Intent{
		customerEmail(b, TemplatePaymentProcessing, "Your bank payment is processing", m.bookingData(b, c)),
	}
	return d, nil
}

// AsyncFailed records a bank transfer that did not clear. The booking is
// flagged for an operator and keeps its holds for the retry window.
func (m *Machine) AsyncFailed(ev ingress.AsyncPaymentFailed, st State) (Decision, error) {
	b := st.Booking
	if b == nil {
		return Decision{}, fmt.Errorf("%w: %s", ErrBookingNotFound, ev.BookingID)
	}

	now := m.now()
	reason := ev.FailureReason
	if reason == "" {
		reason = asyncFailedReason
	}

	d := Decision{Outcome: OutcomeAsyncFailed, Reason: reason, BookingID: b.ID}

	switch p := st.Payment; {
	case p == nil:
		d.NewPayment = m.newPayment(ev.Meta, ev.Checkout, 0, entity.PaymentStatusFailed, now)
		d.NewPayment.FailureReason = &reason
	case p.Status == entity.PaymentStatusPending:
		d.Settle = &PaymentSettlement{
			PaymentID:     p.ID,
			From:          entity.PaymentStatusPending,
			To:            entity.PaymentStatusFailed,
			FailureReason: &reason,
		}
	default:
		// A settled payment is never overwritten by a failure.
		return Acknowledge(b.ID, fmt.Sprintf("payment already %s for session", p.Status)), nil
	}

	if b.Status == entity.BookingStatusPending && b.IsAsyncPayment {
		// Holds made firm while the transfer cleared get a deadline again;
		// the expiry sweep cancels the booking if the customer never retries.
		window := m.AsyncRetryWindow
		if window <= 0 {
			window = DefaultAsyncRetryWindow
		}
		retryUntil := now.Add(window)
		d.Booking = BookingEffect{
			Action:        BookingMarkAsyncFailed,
			From:          []entity.BookingStatus{entity.BookingStatusPending},
			HoldsExpireAt: &retryUntil,
		}
	}

	d.Attention = &entity.AttentionItem{
		BaseSimple: entity.BaseSimple{ID: utils.GenerateUUID(), CreatedAt: now},
		BookingID:  b.ID,
		Kind:       entity.AttentionAsyncPaymentFailed,
		Reason:     asyncFailedReason,
		LastSeenAt: now,
	}

	data := m.bookingData(b, ev.Checkout)
	data["reason"] = reason
	if t := d.Booking.HoldsExpireAt; t != nil {
		data["retry_until"] = t.Format(time.RFC3339)
	}
	subject := fmt.Sprintf("Bank payment failed for booking %s", b.BookingNumber)
	d.Intents = []Intent{
		customerEmail(b, TemplateAsyncPaymentFailed, "Your bank payment did not go through", data),
		operatorEmail(b.ID, TemplateAsyncPaymentFailed, subject, data, false),
		operatorPush(b.ID, TemplateAsyncPaymentFailed, subject, data, false),
	}
	return d, nil
}

// Expire releases a booking whose checkout session lapsed unpaid. Only
// a booking still pending is touched; anything else means payment won
// the race and the event is stale.
func (m *Machine) Expire(ev ingress.CheckoutExpired, st State) Decision {
	b := st.Booking
	switch {
	case b == nil:
		return Acknowledge(ev.BookingID, "booking already removed")
	case b.Status != entity.BookingStatusPending:
		return Acknowledge(b.ID, fmt.Sprintf("booking is %s", b.Status))
	case b.AsyncInFlight():
		return Acknowledge(b.ID, "bank transfer still settling")
	}

	d := Decision{Outcome: OutcomeReleased, BookingID: b.ID}
	if st.HasPayments {
		// Payment rows are kept for audit, so the booking cannot be deleted.
		d.Reason = "checkout expired; booking kept for payment history"
		d.Booking = BookingEffect{
			Action:       BookingCancel,
			From:         []entity.BookingStatus{entity.BookingStatusPending},
			To:           entity.BookingStatusCancelled,
			ReleaseHolds: true,
		}
		return d
	}

	d.Reason = "checkout expired"
	d.Booking = BookingEffect{
		Action:       BookingDelete,
		From:         []entity.BookingStatus{entity.BookingStatusPending},
		ReleaseHolds: true,
	}
	return d
}

// Refunded records a refund reported by the provider. Refunds are
// deduplicated per payment and amount because one logical refund can
// produce several provider events.
func (m *Machine) Refunded(ev ingress.ChargeRefunded, st State) (Decision, error) {
	p := st.Payment
	if p == nil {
		return Decision{}, fmt.Errorf("%w: %s", ErrPaymentNotFound, ev.PaymentRef)
	}

	amount := ev.RefundAmount(st.RecordedRefundCents)
	if amount <= 0 {
		return Acknowledge(p.BookingID, "no new refund amount"), nil
	}
	if existing := st.ExistingRefund; existing != nil {
		d := Acknowledge(p.BookingID, "refund already recorded")
		if existing.ProviderRefundRef == nil && ev.RefundRef != "" {
			d.AttachRefundRef = &RefundRefUpdate{RefundID: existing.ID, Ref: ev.RefundRef}
		}
		return d, nil
	}

	now := m.now()
	refund := &entity.Refund{
		BaseSimple:   entity.BaseSimple{ID: utils.GenerateUUID(), CreatedAt: now},
		BookingID:    p.BookingID,
		PaymentID:    p.ID,
		AmountCents:  amount,
		Type:         entity.RefundTypePartial,
		FeeLostCents: FeeLost(p.FeeCents, p.AmountCents, amount),
		ReasonCode:   ReasonProviderReported,
	}
	if amount >= p.AmountCents {
		refund.Type = entity.RefundTypeFull
	}
	if ev.RefundRef != "" {
		ref := ev.RefundRef
		refund.ProviderRefundRef = &ref
	}

	d := Decision{Outcome: OutcomeRefundRecorded, BookingID: p.BookingID, Refunds: []*entity.Refund{refund}}

	b := st.Booking
	fullyRefunded := amount >= p.AmountCents || st.RecordedRefundCents+amount >= p.AmountCents
	if fullyRefunded && p.Status == entity.PaymentStatusSucceeded && b != nil && b.Open() {
		d.Outcome = OutcomeCancelled
		d.Reason = "payment fully refunded"
		d.Booking = BookingEffect{
			Action:       BookingCancel,
			From:         openStatuses,
			To:           entity.BookingStatusCancelled,
			ReleaseHolds: true,
		}
	}

	data := map[string]string{
		"refund_amount": FormatCents(amount),
		"fee_lost":      FormatCents(refund.FeeLostCents),
		"payment_ref":   p.ProviderPaymentRef,
	}
	if b != nil {
		data["booking_number"] = b.BookingNumber
		d.Intents = append(d.Intents, customerEmail(b, TemplateRefundProcessed, "Your refund has been processed", data))
	}
	d.Intents = append(d.Intents,
		operatorEmail(p.BookingID, TemplateRefundProcessed, fmt.Sprintf("Refund of %s recorded", FormatCents(amount)), data, false),
	)
	return d, nil
}

// Disputed records a chargeback for audit and alerts the operator. The
// booking is left alone; the outcome is decided by the card network.
func (m *Machine) Disputed(ev ingress.DisputeCreated, st State) Decision {
	if st.ExistingExpense != nil {
		return Acknowledge(derefBookingID(st.ExistingExpense), "dispute already recorded")
	}

	now := m.now()
	expense := &entity.Expense{
		BaseSimple:  entity.BaseSimple{ID: utils.GenerateUUID(), CreatedAt: now},
		Category:    entity.ExpenseCategoryDispute,
		AmountCents: ev.AmountCents,
		Description: fmt.Sprintf("Dispute %s on charge %s: %s", ev.DisputeID, ev.ChargeID, ev.Reason),
		ProviderRef: ev.DisputeID,
	}

	data := map[string]string{
		"dispute_id": ev.DisputeID,
		"amount":     FormatCents(ev.AmountCents),
		"reason":     ev.Reason,
	}
	if ev.EvidenceDueBy != nil {
		data["evidence_due_by"] = ev.EvidenceDueBy.Format(time.RFC3339)
	}

	d := Decision{Outcome: OutcomeDisputeRecorded, Expense: expense}
	if p := st.Payment; p != nil {
		bookingID := p.BookingID
		expense.BookingID = &bookingID
		d.BookingID = bookingID
	}
	if b := st.Booking; b != nil {
		data["booking_number"] = b.BookingNumber
	}

	subject := fmt.Sprintf("URGENT: dispute opened for %s", FormatCents(ev.AmountCents))
	d.Intents = []Intent{
		operatorEmail(d.BookingID, TemplateDisputeOpened, subject, data, true),
		operatorPush(d.BookingID, TemplateDisputeOpened, subject, data, true),
	}
	return d
}

// Cancel cancels an open booking on operator request and spreads the
// policy refund across its payments, newest first.
func (m *Machine) Cancel(st CancelState, refundCents int64, ruleLabel string, weatherOrEmergency bool) (Decision, error) {
	b := st.Booking
	if b == nil {
		return Decision{}, ErrBookingNotFound
	}
	if !b.Open() {
		return Decision{}, fmt.Errorf("%w: %s", ErrNotCancellable, b.Status)
	}

	reasonCode := ReasonCustomerCancellation
	if weatherOrEmergency {
		reasonCode = ReasonWeatherEmergency
	}

	now := m.now()
	d := Decision{
		Outcome:   OutcomeCancelled,
		Reason:    reasonCode,
		BookingID: b.ID,
		Booking: BookingEffect{
			Action:       BookingCancel,
			From:         openStatuses,
			To:           entity.BookingStatusCancelled,
			ReleaseHolds: true,
		},
	}

	remaining := refundCents
	var manual int64
	for _, p := range st.Payments {
		if remaining <= 0 {
			break
		}
		if p.Status != entity.PaymentStatusSucceeded {
			continue
		}
		refundable := p.AmountCents - st.RefundedByPayment[p.ID]
		take := min(remaining, refundable)
		if take <= 0 {
			continue
		}

		refund := &entity.Refund{
			BaseSimple:   entity.BaseSimple{ID: utils.GenerateUUID(), CreatedAt: now},
			BookingID:    b.ID,
			PaymentID:    p.ID,
			AmountCents:  take,
			Type:         entity.RefundTypePartial,
			FeeLostCents: FeeLost(p.FeeCents, p.AmountCents, take),
			ReasonCode:   reasonCode,
		}
		if take >= p.AmountCents {
			refund.Type = entity.RefundTypeFull
		}
		d.Refunds = append(d.Refunds, refund)
		if p.ProviderPaymentRef != "" {
			d.Intents = append(d.Intents, refundIntent(b, refund, p.ProviderPaymentRef, reasonCode))
		} else {
			manual += take
		}
		remaining -= take
	}
	if manual > 0 {
		d.Attention = manualRefundItem(b.ID, manual, now)
	}

	data := map[string]string{
		"booking_number": b.BookingNumber,
		"refund_amount":  FormatCents(refundCents - remaining),
		"rule":           ruleLabel,
	}
	d.Intents = append(d.Intents,
		customerEmail(b, TemplateBookingCancelled, "Your booking has been cancelled", data),
		operatorEmail(b.ID, TemplateBookingCancelled, fmt.Sprintf("Booking %s cancelled", b.BookingNumber), data, false),
	)
	return d, nil
}

func (m *Machine) newPayment(meta ingress.Meta, c ingress.Checkout, fee int64, status entity.PaymentStatus, now time.Time) *entity.Payment {
	p := &entity.Payment{
		BaseNoDelete:       entity.BaseNoDelete{ID: utils.GenerateUUID(), CreatedAt: now, UpdatedAt: now},
		BookingID:          c.BookingID,
		AmountCents:        c.AmountCents,
		FeeCents:           fee,
		Type:               c.PaymentType,
		Status:             status,
		Rail:               c.Rail,
		ProviderEventID:    meta.ID,
		ProviderSessionID:  c.SessionID,
		ProviderPaymentRef: c.PaymentRef,
	}
	if status != entity.PaymentStatusPending {
		id := meta.ID
		p.SettledEventID = &id
	}
	return p
}

func (m *Machine) bookingData(b *entity.Booking, c ingress.Checkout) map[string]string {
	return map[string]string{
		"booking_number": b.BookingNumber,
		"customer_name":  b.CustomerName,
		"amount":         FormatCents(c.AmountCents),
		"payment_type":   string(c.PaymentType),
		"rail":           string(c.Rail),
		"delivery_at":    b.DeliveryAt.Format(time.RFC3339),
	}
}

func eligible(b *entity.Booking, activeHolds int) (bool, string) {
	if b.Status == entity.BookingStatusCancelled {
		return false, "booking is cancelled"
	}
	if activeHolds == 0 {
		return false, "booking holds expired"
	}
	return true, ""
}

func derefBookingID(e *entity.Expense) uuid.UUID {
	if e.BookingID != nil {
		return *e.BookingID
	}
	return uuid.Nil
}

// FormatCents renders minor units as dollars, 15000 -> "$150.00".
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}
