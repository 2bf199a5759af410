package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"popndrop/internal/reconcile"
	"popndrop/pkg/utils"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Worker consumes queued intents.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	log    *zap.Logger
}

func NewWorker(redisCfg utils.RedisConfig, concurrency int, exec *Executor, log *zap.Logger) *Worker {
	log = log.With(zap.String("component", "worker"))

	server := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     redisCfg.Addr,
			Password: redisCfg.Password,
			DB:       redisCfg.DB,
		},
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				QueueCritical: 6,
				QueueDefault:  3,
			},
			Logger: log.Sugar(),
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Error("Task failed",
					zap.Error(err),
					zap.String("type", task.Type()))
			}),
		},
	)

	return &Worker{
		server: server,
		mux:    NewServeMux(exec),
		log:    log,
	}
}

// NewServeMux routes every intent task type to the executor.
func NewServeMux(exec *Executor) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	handler := HandleIntentTask(exec)
	mux.HandleFunc(TaskEmail, handler)
	mux.HandleFunc(TaskPush, handler)
	mux.HandleFunc(TaskRefund, handler)
	return mux
}

// HandleIntentTask decodes and runs one intent. Payloads that cannot be
// decoded and providers that are not configured are not retried.
func HandleIntentTask(exec *Executor) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, task *asynq.Task) error {
		var in reconcile.Intent
		if err := json.Unmarshal(task.Payload(), &in); err != nil {
			return fmt.Errorf("decode %s payload: %v: %w", task.Type(), err, asynq.SkipRetry)
		}

		err := exec.Execute(ctx, in)
		if errors.Is(err, ErrPushNotConfigured) || errors.Is(err, ErrRefundNotConfigured) || errors.Is(err, ErrUnknownIntent) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}
}

func (w *Worker) Start() error {
	w.log.Info("Starting intent worker")
	return w.server.Start(w.mux)
}

func (w *Worker) Shutdown() {
	w.server.Shutdown()
	w.log.Info("Intent worker stopped")
}
