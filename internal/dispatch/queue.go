package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"popndrop/internal/reconcile"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const (
	TaskEmail  = "intent:email"
	TaskPush   = "intent:push"
	TaskRefund = "intent:refund"

	QueueCritical = "critical"
	QueueDefault  = "default"
)

// Enqueuer is the part of *asynq.Client the queue dispatcher needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Queue hands intents to asynq so they are retried with backoff. When
// enqueueing fails the intent runs inline instead of being dropped.
type Queue struct {
	client   Enqueuer
	fallback *Inline
	maxRetry int
	log      *zap.Logger
}

func NewQueue(client Enqueuer, fallback *Inline, maxRetry int, log *zap.Logger) *Queue {
	return &Queue{
		client:   client,
		fallback: fallback,
		maxRetry: maxRetry,
		log:      log.With(zap.String("dispatcher", "queue")),
	}
}

func (q *Queue) Dispatch(ctx context.Context, intents []reconcile.Intent) {
	for _, in := range intents {
		task, opts, err := q.newTask(in)
		if err == nil {
			_, err = q.client.EnqueueContext(ctx, task, opts...)
		}
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			q.log.Debug("Intent already queued",
				zap.String("kind", string(in.Kind)),
				zap.String("booking_id", in.BookingID.String()))
			continue
		}
		if err != nil {
			q.log.Warn("Enqueue failed, running inline",
				zap.Error(err),
				zap.String("kind", string(in.Kind)),
				zap.String("booking_id", in.BookingID.String()))
			q.fallback.run(ctx, in)
		}
	}
}

func (q *Queue) newTask(in reconcile.Intent) (*asynq.Task, []asynq.Option, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal intent: %w", err)
	}

	opts := []asynq.Option{asynq.MaxRetry(q.maxRetry)}

	switch in.Kind {
	case reconcile.IntentEmailCustomer, reconcile.IntentEmailOperator:
		opts = append(opts, asynq.Queue(QueueDefault))
		return asynq.NewTask(TaskEmail, payload), opts, nil
	case reconcile.IntentPushOperator:
		opts = append(opts, asynq.Queue(QueueDefault))
		return asynq.NewTask(TaskPush, payload), opts, nil
	case reconcile.IntentRefund:
		opts = append(opts, asynq.Queue(QueueCritical))
		if in.Refund != nil && in.Refund.IdempotencyKey != "" {
			opts = append(opts, asynq.TaskID(in.Refund.IdempotencyKey))
		}
		return asynq.NewTask(TaskRefund, payload), opts, nil
	}

	return nil, nil, fmt.Errorf("%w: %s", ErrUnknownIntent, in.Kind)
}
