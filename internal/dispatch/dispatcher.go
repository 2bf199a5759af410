// Package dispatch runs side-effect intents after the state change that
// produced them has been committed. Failures are logged and retried,
// never reported back to the caller.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"popndrop/internal/reconcile"
	"popndrop/pkg/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrPushNotConfigured   = errors.New("push notifications not configured")
	ErrRefundNotConfigured = errors.New("provider refunds not configured")
	ErrUnknownIntent       = errors.New("unknown intent kind")
)

type Dispatcher interface {
	Dispatch(ctx context.Context, intents []reconcile.Intent)
}

type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

type PushSender interface {
	Push(ctx context.Context, title, body string, data map[string]string, urgent bool) error
}

type Refunder interface {
	// Refund issues a provider refund and returns the provider's refund id.
	Refund(ctx context.Context, req reconcile.RefundRequest) (string, error)
}

// RefundLedger stores the provider's refund id on the refund row. A row
// without one is picked up again by the automation sweep.
type RefundLedger interface {
	AttachProviderRef(ctx context.Context, id uuid.UUID, ref string) (bool, error)
}

// Executor performs a single intent.
type Executor struct {
	mailer        Mailer
	push          PushSender
	refunder      Refunder
	ledger        RefundLedger
	operatorEmail string
	log           *zap.Logger
}

// NewExecutor wires the collaborators. push and refunder may be nil when
// the corresponding provider is not configured.
func NewExecutor(mailer Mailer, push PushSender, refunder Refunder, operatorEmail string, log *zap.Logger) *Executor {
	return &Executor{
		mailer:        mailer,
		push:          push,
		refunder:      refunder,
		operatorEmail: operatorEmail,
		log:           log.With(zap.String("component", "executor")),
	}
}

// WithRefundLedger records issued refunds in ledger.
func (e *Executor) WithRefundLedger(ledger RefundLedger) *Executor {
	e.ledger = ledger
	return e
}

func (e *Executor) Execute(ctx context.Context, in reconcile.Intent) error {
	switch in.Kind {
	case reconcile.IntentEmailCustomer:
		if in.To == "" {
			return fmt.Errorf("customer email for booking %s has no recipient", in.BookingID)
		}
		return e.mailer.Send(ctx, in.To, in.Subject, renderBody(in))

	case reconcile.IntentEmailOperator:
		if e.operatorEmail == "" {
			e.log.Warn("Operator email not configured, dropping alert",
				zap.String("template", in.Template),
				zap.String("booking_id", in.BookingID.String()))
			return nil
		}
		subject := in.Subject
		if in.Urgent && !strings.HasPrefix(subject, "URGENT") {
			subject = "URGENT: " + subject
		}
		return e.mailer.Send(ctx, e.operatorEmail, subject, renderBody(in))

	case reconcile.IntentPushOperator:
		if e.push == nil {
			return ErrPushNotConfigured
		}
		return e.push.Push(ctx, in.Subject, renderSummary(in), in.Data, in.Urgent)

	case reconcile.IntentRefund:
		if e.refunder == nil {
			return ErrRefundNotConfigured
		}
		if in.Refund == nil {
			return fmt.Errorf("refund intent for booking %s has no request", in.BookingID)
		}
		ref, err := e.refunder.Refund(ctx, *in.Refund)
		if err != nil {
			return err
		}
		e.log.Info("Provider refund issued",
			zap.String("booking_id", in.BookingID.String()),
			zap.String("refund_id", in.Refund.RefundID.String()),
			zap.String("provider_refund_ref", ref),
			zap.Int64("amount_cents", in.Refund.AmountCents))
		e.recordRefund(ctx, in.Refund.RefundID, ref)
		return nil
	}

	return fmt.Errorf("%w: %s", ErrUnknownIntent, in.Kind)
}

// recordRefund never fails the intent: the refund has been made, and a
// retry under the same idempotency key would only return it again.
func (e *Executor) recordRefund(ctx context.Context, refundID uuid.UUID, ref string) {
	if e.ledger == nil || ref == "" {
		return
	}
	if _, err := e.ledger.AttachProviderRef(ctx, refundID, ref); err != nil {
		e.log.Warn("Failed to record provider refund reference",
			zap.Error(err),
			zap.String("refund_id", refundID.String()),
			zap.String("provider_refund_ref", ref))
	}
}

// Inline runs intents in order in the calling goroutine. One failing
// intent does not stop the rest.
type Inline struct {
	exec *Executor
	log  *zap.Logger
}

func NewInline(exec *Executor, log *zap.Logger) *Inline {
	return &Inline{exec: exec, log: log.With(zap.String("dispatcher", "inline"))}
}

func (d *Inline) Dispatch(ctx context.Context, intents []reconcile.Intent) {
	for _, in := range intents {
		d.run(ctx, in)
	}
}

func (d *Inline) run(ctx context.Context, in reconcile.Intent) {
	if err := d.exec.Execute(ctx, in); err != nil {
		fields := []zap.Field{
			zap.Error(err),
			zap.String("kind", string(in.Kind)),
			zap.String("template", in.Template),
			zap.String("booking_id", in.BookingID.String()),
		}
		d.log.Error("Side effect failed", append(fields, eventFields(ctx)...)...)
	}
}

// eventFields tags logs with the webhook event that produced the intent.
func eventFields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if id, ok := utils.GetEventIDFromContext(ctx); ok {
		fields = append(fields, zap.String("event_id", id))
	}
	if typ, ok := utils.GetEventTypeFromContext(ctx); ok {
		fields = append(fields, zap.String("event_type", typ))
	}
	return fields
}

// renderBody is a plain key/value rendering; templates live with the mailer.
func renderBody(in reconcile.Intent) string {
	var b strings.Builder
	if in.Template != "" {
		fmt.Fprintf(&b, "[%s]\n\n", in.Template)
	}
	keys := make([]string, 0, len(in.Data))
	for k := range in.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, in.Data[k])
	}
	return b.String()
}

func renderSummary(in reconcile.Intent) string {
	parts := make([]string, 0, 3)
	for _, k := range []string{"booking_number", "amount", "reason"} {
		if v := in.Data[k]; v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " | ")
}

// Background runs each batch on its own goroutine so callers return
// before slow providers answer. Wait blocks until in-flight batches end.
type Background struct {
	next Dispatcher
	wg   sync.WaitGroup
}

func NewBackground(next Dispatcher) *Background {
	return &Background{next: next}
}

func (d *Background) Dispatch(ctx context.Context, intents []reconcile.Intent) {
	if len(intents) == 0 {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.next.Dispatch(ctx, intents)
	}()
}

func (d *Background) Wait() {
	d.wg.Wait()
}
