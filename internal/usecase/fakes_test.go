package usecase

import (
	"context"
	"errors"
	"slices"
	"sort"
	"time"

	"popndrop/internal/data/entity"
	"popndrop/internal/data/repository"
	"popndrop/internal/reconcile"

	"github.com/google/uuid"
)

var errInjected = errors.New("injected store failure")

// memStore is an in-memory stand-in for Postgres. RunInTx snapshots it
// and restores the snapshot when fn fails.
type memStore struct {
	bookings  []*entity.Booking
	holds     []*entity.BookingHold
	payments  []*entity.Payment
	refunds   []*entity.Refund
	events    []entity.ProcessedEvent
	attention []*entity.AttentionItem
	expenses  []*entity.Expense

	// failBookingFind makes booking lookups fail, like a lost connection.
	failBookingFind bool
}

func newMemStore() *memStore {
	return &memStore{}
}

func (s *memStore) repo() *repository.Repository {
	r := s.bind()
	r.Tx = memTx{s: s}
	return r
}

func (s *memStore) bind() *repository.Repository {
	return &repository.Repository{
		Booking:        memBookings{s},
		Hold:           memHolds{s},
		Payment:        memPayments{s},
		Refund:         memRefunds{s},
		ProcessedEvent: memEvents{s},
		Attention:      memAttention{s},
		Expense:        memExpenses{s},
	}
}

func (s *memStore) snapshot() memStore {
	cp := memStore{failBookingFind: s.failBookingFind}
	cp.bookings = cloneAll(s.bookings)
	cp.holds = cloneAll(s.holds)
	cp.payments = cloneAll(s.payments)
	cp.refunds = cloneAll(s.refunds)
	cp.events = slices.Clone(s.events)
	cp.attention = cloneAll(s.attention)
	cp.expenses = cloneAll(s.expenses)
	return cp
}

func cloneAll[T any](in []*T) []*T {
	out := make([]*T, 0, len(in))
	for _, v := range in {
		c := *v
		out = append(out, &c)
	}
	return out
}

type memTx struct{ s *memStore }

func (t memTx) RunInTx(ctx context.Context, fn func(tx *repository.Repository) error) error {
	snap := t.s.snapshot()
	if err := fn(t.s.bind()); err != nil {
		*t.s = snap
		return err
	}
	return nil
}

func (s *memStore) booking(id uuid.UUID) *entity.Booking {
	for _, b := range s.bookings {
		if b.ID == id {
			return b
		}
	}
	return nil
}

func (s *memStore) activeHolds(bookingID uuid.UUID, now time.Time) int {
	n := 0
	for _, h := range s.holds {
		if h.BookingID == bookingID && h.Active(now) {
			n++
		}
	}
	return n
}

func (s *memStore) hasPayments(bookingID uuid.UUID) bool {
	for _, p := range s.payments {
		if p.BookingID == bookingID {
			return true
		}
	}
	return false
}

func (s *memStore) deleteHolds(bookingID uuid.UUID) int64 {
	before := len(s.holds)
	s.holds = slices.DeleteFunc(s.holds, func(h *entity.BookingHold) bool { return h.BookingID == bookingID })
	return int64(before - len(s.holds))
}

func (s *memStore) paymentsFor(bookingID uuid.UUID) []*entity.Payment {
	var out []*entity.Payment
	for _, p := range s.payments {
		if p.BookingID == bookingID {
			out = append(out, p)
		}
	}
	return out
}

func (s *memStore) refundsFor(bookingID uuid.UUID) []*entity.Refund {
	var out []*entity.Refund
	for _, r := range s.refunds {
		if r.BookingID == bookingID {
			out = append(out, r)
		}
	}
	return out
}

func (s *memStore) openItems(bookingID uuid.UUID) []*entity.AttentionItem {
	var out []*entity.AttentionItem
	for _, a := range s.attention {
		if a.BookingID == bookingID && a.ResolvedAt == nil {
			out = append(out, a)
		}
	}
	return out
}

func copyOf[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// ---------------- bookings ----------------

type memBookings struct{ s *memStore }

func (m memBookings) FindByID(ctx context.Context, id uuid.UUID) (*entity.Booking, error) {
	if m.s.failBookingFind {
		return nil, errInjected
	}
	return copyOf(m.s.booking(id)), nil
}

func (m memBookings) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*entity.Booking, error) {
	return m.FindByID(ctx, id)
}

func (m memBookings) Confirm(ctx context.Context, p repository.ConfirmParams) (bool, error) {
	b := m.s.booking(p.BookingID)
	if b == nil || !slices.Contains(p.From, b.Status) || m.s.activeHolds(b.ID, p.Now) == 0 {
		return false, nil
	}
	b.Status = p.To
	b.DepositPaid = b.DepositPaid || p.DepositPaid
	b.BalancePaid = b.BalancePaid || p.BalancePaid
	if p.AsyncSettled {
		st := entity.AsyncPaymentSucceeded
		b.AsyncPaymentStatus = &st
	}
	b.UpdatedAt = p.Now
	return true, nil
}

func (m memBookings) MarkAsyncPending(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	b := m.s.booking(id)
	if b == nil || b.Status != entity.BookingStatusPending {
		return false, nil
	}
	st := entity.AsyncPaymentPending
	b.IsAsyncPayment = true
	b.AsyncPaymentStatus = &st
	return true, nil
}

func (m memBookings) MarkAsyncFailed(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	b := m.s.booking(id)
	if b == nil || b.Status != entity.BookingStatusPending || !b.IsAsyncPayment {
		return false, nil
	}
	st := entity.AsyncPaymentFailed
	b.AsyncPaymentStatus = &st
	return true, nil
}

func (m memBookings) Cancel(ctx context.Context, id uuid.UUID, from []entity.BookingStatus, now time.Time) (bool, error) {
	b := m.s.booking(id)
	if b == nil || !slices.Contains(from, b.Status) {
		return false, nil
	}
	b.Status = entity.BookingStatusCancelled
	b.CancelledAt = &now
	return true, nil
}

func (m memBookings) DeleteUnpaid(ctx context.Context, id uuid.UUID) (bool, error) {
	b := m.s.booking(id)
	if b == nil || b.Status != entity.BookingStatusPending || b.IsAsyncPayment || m.s.hasPayments(id) {
		return false, nil
	}
	m.s.bookings = slices.DeleteFunc(m.s.bookings, func(x *entity.Booking) bool { return x.ID == id })
	m.s.deleteHolds(id)
	return true, nil
}

func (m memBookings) FlagAttention(ctx context.Context, id uuid.UUID, reason string, now time.Time) error {
	if b := m.s.booking(id); b != nil {
		b.NeedsAttention = true
		b.AttentionReason = &reason
	}
	return nil
}

func (m memBookings) ClearAttention(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	b := m.s.booking(id)
	if b == nil || len(m.s.openItems(id)) > 0 {
		return false, nil
	}
	b.NeedsAttention = false
	b.AttentionReason = nil
	return true, nil
}

func (m memBookings) DeleteExpiredUnpaid(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	for _, b := range slices.Clone(m.s.bookings) {
		if b.Status == entity.BookingStatusPending && !b.IsAsyncPayment &&
			m.s.activeHolds(b.ID, now) == 0 && !m.s.hasPayments(b.ID) {
			m.s.bookings = slices.DeleteFunc(m.s.bookings, func(x *entity.Booking) bool { return x.ID == b.ID })
			m.s.deleteHolds(b.ID)
			n++
		}
	}
	return n, nil
}

func (m memBookings) CancelExpiredWithHistory(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	for _, b := range m.s.bookings {
		if b.Status != entity.BookingStatusPending || b.AsyncInFlight() {
			continue
		}
		if m.s.activeHolds(b.ID, now) > 0 || !m.s.hasPayments(b.ID) {
			continue
		}
		b.Status = entity.BookingStatusCancelled
		b.CancelledAt = &now
		m.s.deleteHolds(b.ID)
		n++
	}
	return n, nil
}

func (m memBookings) AutoComplete(ctx context.Context, pickupCutoff, now time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for _, b := range m.s.bookings {
		if b.Status == entity.BookingStatusConfirmed && b.FullyPaid() && !b.PickupAt.After(pickupCutoff) {
			b.Status = entity.BookingStatusCompleted
			b.CompletedAt = &now
			ids = append(ids, b.ID)
		}
	}
	return ids, nil
}

func (m memBookings) FindBalanceOutstanding(ctx context.Context, now time.Time) ([]*entity.Booking, error) {
	return m.filter(func(b *entity.Booking) bool {
		return b.Status == entity.BookingStatusConfirmed && !b.BalancePaid && b.BalanceDueCents > 0 && !b.PickupAt.After(now)
	}), nil
}

func (m memBookings) FindDeliveryUnconfirmed(ctx context.Context, cutoff time.Time) ([]*entity.Booking, error) {
	return m.filter(func(b *entity.Booking) bool {
		return b.Status == entity.BookingStatusConfirmed && b.DeliveryConfirmedAt == nil && !b.DeliveryAt.After(cutoff)
	}), nil
}

func (m memBookings) FindAsyncStale(ctx context.Context, since time.Time) ([]*entity.Booking, error) {
	return m.filter(func(b *entity.Booking) bool {
		if b.Status != entity.BookingStatusPending || !b.AsyncInFlight() {
			return false
		}
		for _, p := range m.s.paymentsFor(b.ID) {
			if p.Status == entity.PaymentStatusPending && !p.CreatedAt.After(since) {
				return true
			}
		}
		return false
	}), nil
}

func (m memBookings) filter(keep func(*entity.Booking) bool) []*entity.Booking {
	var out []*entity.Booking
	for _, b := range m.s.bookings {
		if keep(b) {
			out = append(out, copyOf(b))
		}
	}
	return out
}

// ---------------- holds ----------------

type memHolds struct{ s *memStore }

func (m memHolds) FindByBookingID(ctx context.Context, bookingID uuid.UUID) ([]*entity.BookingHold, error) {
	var out []*entity.BookingHold
	for _, h := range m.s.holds {
		if h.BookingID == bookingID {
			out = append(out, copyOf(h))
		}
	}
	return out, nil
}

func (m memHolds) CountActive(ctx context.Context, bookingID uuid.UUID, now time.Time) (int, error) {
	return m.s.activeHolds(bookingID, now), nil
}

func (m memHolds) MakeFirm(ctx context.Context, bookingID uuid.UUID, now time.Time) (int64, error) {
	var n int64
	for _, h := range m.s.holds {
		if h.BookingID == bookingID && h.ExpiresAt != nil && h.ExpiresAt.After(now) {
			h.ExpiresAt = nil
			n++
		}
	}
	return n, nil
}

func (m memHolds) ExpireFirm(ctx context.Context, bookingID uuid.UUID, expiresAt time.Time) (int64, error) {
	var n int64
	for _, h := range m.s.holds {
		if h.BookingID == bookingID && h.ExpiresAt == nil {
			at := expiresAt
			h.ExpiresAt = &at
			n++
		}
	}
	return n, nil
}

func (m memHolds) DeleteByBookingID(ctx context.Context, bookingID uuid.UUID) (int64, error) {
	return m.s.deleteHolds(bookingID), nil
}

// ---------------- payments ----------------

type memPayments struct{ s *memStore }

func (m memPayments) Create(ctx context.Context, p *entity.Payment) (bool, error) {
	for _, x := range m.s.payments {
		if x.ProviderEventID == p.ProviderEventID {
			return false, nil
		}
	}
	m.s.payments = append(m.s.payments, copyOf(p))
	return true, nil
}

func (m memPayments) newest(match func(*entity.Payment) bool) *entity.Payment {
	for i := len(m.s.payments) - 1; i >= 0; i-- {
		if match(m.s.payments[i]) {
			return copyOf(m.s.payments[i])
		}
	}
	return nil
}

func (m memPayments) FindByProviderRef(ctx context.Context, ref string) (*entity.Payment, error) {
	return m.newest(func(p *entity.Payment) bool { return p.ProviderPaymentRef == ref }), nil
}

func (m memPayments) FindBySessionID(ctx context.Context, sessionID string) (*entity.Payment, error) {
	return m.newest(func(p *entity.Payment) bool { return p.ProviderSessionID == sessionID }), nil
}

func (m memPayments) FindByBookingID(ctx context.Context, bookingID uuid.UUID) ([]*entity.Payment, error) {
	var out []*entity.Payment
	for _, p := range m.s.paymentsFor(bookingID) {
		out = append(out, copyOf(p))
	}
	slices.Reverse(out)
	return out, nil
}

func (m memPayments) ExistsForBooking(ctx context.Context, bookingID uuid.UUID) (bool, error) {
	return m.s.hasPayments(bookingID), nil
}

func (m memPayments) Settle(ctx context.Context, p repository.SettleParams) (bool, error) {
	for _, x := range m.s.payments {
		if x.ID == p.PaymentID && x.Status == p.From {
			x.Status = p.To
			id := p.SettledEventID
			x.SettledEventID = &id
			x.FailureReason = p.FailureReason
			x.UpdatedAt = p.Now
			return true, nil
		}
	}
	return false, nil
}

// ---------------- refunds ----------------

type memRefunds struct{ s *memStore }

func (m memRefunds) Create(ctx context.Context, r *entity.Refund) (bool, error) {
	for _, x := range m.s.refunds {
		if x.PaymentID == r.PaymentID && x.AmountCents == r.AmountCents {
			return false, nil
		}
	}
	m.s.refunds = append(m.s.refunds, copyOf(r))
	return true, nil
}

func (m memRefunds) FindByPaymentAndAmount(ctx context.Context, paymentID uuid.UUID, amount int64) (*entity.Refund, error) {
	for _, x := range m.s.refunds {
		if x.PaymentID == paymentID && x.AmountCents == amount {
			return copyOf(x), nil
		}
	}
	return nil, nil
}

func (m memRefunds) FindByBookingID(ctx context.Context, bookingID uuid.UUID) ([]*entity.Refund, error) {
	return cloneAll(m.s.refundsFor(bookingID)), nil
}

func (m memRefunds) SumByPaymentID(ctx context.Context, paymentID uuid.UUID) (int64, error) {
	var sum int64
	for _, x := range m.s.refunds {
		if x.PaymentID == paymentID {
			sum += x.AmountCents
		}
	}
	return sum, nil
}

func (m memRefunds) AttachProviderRef(ctx context.Context, id uuid.UUID, ref string) (bool, error) {
	for _, x := range m.s.refunds {
		if x.ID == id && x.ProviderRefundRef == nil {
			x.ProviderRefundRef = &ref
			return true, nil
		}
	}
	return false, nil
}

func (m memRefunds) FindUnissued(ctx context.Context, cutoff time.Time, limit int) ([]repository.UnissuedRefund, error) {
	var out []repository.UnissuedRefund
	for _, x := range m.s.refunds {
		if x.ProviderRefundRef != nil || !x.CreatedAt.Before(cutoff) {
			continue
		}
		var payment *entity.Payment
		for _, p := range m.s.payments {
			if p.ID == x.PaymentID {
				payment = p
			}
		}
		if payment == nil || payment.ProviderPaymentRef == "" {
			continue
		}
		var number string
		for _, b := range m.s.bookings {
			if b.ID == x.BookingID {
				number = b.BookingNumber
			}
		}
		out = append(out, repository.UnissuedRefund{
			Refund:        copyOf(x),
			PaymentRef:    payment.ProviderPaymentRef,
			BookingNumber: number,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Refund.CreatedAt.Before(out[j].Refund.CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---------------- ledger ----------------

type memEvents struct{ s *memStore }

func (m memEvents) AlreadyProcessed(ctx context.Context, eventID string) (bool, error) {
	return slices.ContainsFunc(m.s.events, func(e entity.ProcessedEvent) bool { return e.EventID == eventID }), nil
}

func (m memEvents) MarkProcessed(ctx context.Context, eventID, eventType string, now time.Time) (bool, error) {
	if done, _ := m.AlreadyProcessed(ctx, eventID); done {
		return false, nil
	}
	m.s.events = append(m.s.events, entity.ProcessedEvent{EventID: eventID, EventType: eventType, ProcessedAt: now})
	return true, nil
}

type memAttention struct{ s *memStore }

func (m memAttention) Raise(ctx context.Context, item *entity.AttentionItem, expected []entity.BookingStatus) (repository.RaiseResult, error) {
	b := m.s.booking(item.BookingID)
	if b == nil || (len(expected) > 0 && !slices.Contains(expected, b.Status)) {
		return repository.RaiseSkipped, nil
	}
	for _, a := range m.s.openItems(item.BookingID) {
		if a.Kind == item.Kind {
			a.LastSeenAt = item.LastSeenAt
			a.Reason = item.Reason
			return repository.RaiseRefreshed, nil
		}
	}
	m.s.attention = append(m.s.attention, copyOf(item))
	return repository.RaiseCreated, nil
}

func (m memAttention) Resolve(ctx context.Context, id uuid.UUID, now time.Time) (*entity.AttentionItem, error) {
	for _, a := range m.s.attention {
		if a.ID == id && a.ResolvedAt == nil {
			a.ResolvedAt = &now
			return copyOf(a), nil
		}
	}
	return nil, nil
}

func (m memAttention) FindOpenByBookingID(ctx context.Context, bookingID uuid.UUID) ([]*entity.AttentionItem, error) {
	return cloneAll(m.s.openItems(bookingID)), nil
}

func (m memAttention) ListOpen(ctx context.Context, limit, offset int) ([]*entity.AttentionItem, error) {
	var open []*entity.AttentionItem
	for _, a := range m.s.attention {
		if a.ResolvedAt == nil {
			open = append(open, copyOf(a))
		}
	}
	sort.SliceStable(open, func(i, j int) bool { return open[i].CreatedAt.After(open[j].CreatedAt) })
	if offset >= len(open) {
		return nil, nil
	}
	return open[offset:min(offset+limit, len(open))], nil
}

func (m memAttention) CountOpen(ctx context.Context) (int64, error) {
	var n int64
	for _, a := range m.s.attention {
		if a.ResolvedAt == nil {
			n++
		}
	}
	return n, nil
}

type memExpenses struct{ s *memStore }

func (m memExpenses) Create(ctx context.Context, e *entity.Expense) (bool, error) {
	for _, x := range m.s.expenses {
		if x.ProviderRef == e.ProviderRef {
			return false, nil
		}
	}
	m.s.expenses = append(m.s.expenses, copyOf(e))
	return true, nil
}

func (m memExpenses) FindByProviderRef(ctx context.Context, ref string) (*entity.Expense, error) {
	for _, x := range m.s.expenses {
		if x.ProviderRef == ref {
			return copyOf(x), nil
		}
	}
	return nil, nil
}

// recordingDispatcher captures every dispatched batch.
type recordingDispatcher struct {
	batches [][]reconcile.Intent
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, intents []reconcile.Intent) {
	d.batches = append(d.batches, intents)
}

func (d *recordingDispatcher) all() []reconcile.Intent {
	var out []reconcile.Intent
	for _, b := range d.batches {
		out = append(out, b...)
	}
	return out
}
