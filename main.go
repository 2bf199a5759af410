// main.go
package main

import (
	"context"
	"log"
	"time"

	"popndrop/cmd"
	"popndrop/internal/adaptor"
	"popndrop/internal/data/repository"
	"popndrop/internal/dispatch"
	"popndrop/internal/ingress"
	"popndrop/internal/policy"
	"popndrop/internal/reconcile"
	"popndrop/internal/usecase"
	"popndrop/internal/wire"
	"popndrop/pkg/database"
	"popndrop/pkg/utils"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

func main() {
	// Load config
	config, err := utils.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logger, err := utils.InitLogger(config.App)
	if err != nil {
		log.Printf("Failed to init logger: %v. Using standard log.", err)
		logger, _ = zap.NewProduction()
	}
	defer logger.Sync()

	logger.Info("Starting application",
		zap.String("app", config.App.Name),
		zap.String("port", config.App.Port),
		zap.Bool("debug", config.App.Debug),
	)

	// Connect to database
	db, err := database.InitDB(config.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	logger.Info("Database connected successfully")

	// Redis backs the intent queue; optional
	rdb, err := database.InitRedis(config.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to redis", zap.Error(err))
	}
	if rdb != nil {
		defer rdb.Close()
	}

	pol, err := policy.New(config.Policy.DepositCents, config.Policy.Bands)
	if err != nil {
		logger.Fatal("Invalid cancellation policy", zap.Error(err))
	}

	if config.Automation.Token == "" && config.Automation.TokenHash == "" {
		logger.Warn("AUTOMATION_TOKEN is empty; admin and automation endpoints will refuse every request")
	}

	if config.Stripe.WebhookSecret == "" {
		logger.Warn("STRIPE_WEBHOOK_SECRET is empty; webhooks will be refused")
	}

	// Side-effect collaborators
	mailer := dispatch.NewMailer(config.Email, logger)

	var push dispatch.PushSender
	fcm, err := dispatch.NewFCMPush(context.Background(), config.Firebase.CredentialsFile, config.Firebase.OperatorTopic)
	if err != nil {
		logger.Error("Firebase unavailable, operator push disabled", zap.Error(err))
	} else if fcm != nil {
		push = fcm
	}

	var refunder dispatch.Refunder
	if r := dispatch.NewStripeRefunder(config.Stripe.SecretKey); r != nil {
		refunder = r
	} else {
		logger.Warn("STRIPE_SECRET_KEY is empty; refunds are recorded but not issued")
	}

	// Initialize all repositories
	repos := repository.NewRepository(db, logger)

	executor := dispatch.NewExecutor(mailer, push, refunder, config.Email.OperatorEmail, logger).
		WithRefundLedger(repos.Refund)
	inline := dispatch.NewInline(executor, logger)

	var dispatcher dispatch.Dispatcher
	var shutdownHooks []func()

	if config.Queue.Enabled && config.Redis.Addr != "" {
		redisOpt := asynq.RedisClientOpt{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
		}
		queueClient := asynq.NewClient(redisOpt)
		dispatcher = dispatch.NewQueue(queueClient, inline, config.Queue.MaxRetry, logger)

		worker := dispatch.NewWorker(config.Redis, config.Queue.Concurrency, executor, logger)
		if err := worker.Start(); err != nil {
			logger.Fatal("Failed to start intent worker", zap.Error(err))
		}

		shutdownHooks = append(shutdownHooks, worker.Shutdown, func() { _ = queueClient.Close() })
		logger.Info("Intent queue enabled", zap.Int("concurrency", config.Queue.Concurrency))
	} else {
		background := dispatch.NewBackground(inline)
		dispatcher = background
		shutdownHooks = append(shutdownHooks, background.Wait)
	}

	machine := reconcile.NewMachine(reconcile.Fees{
		CardPercentBps: config.Fees.CardPercentBps,
		CardFixedCents: config.Fees.CardFixedCents,
		BankPercentBps: config.Fees.BankPercentBps,
		BankCapCents:   config.Fees.BankCapCents,
	})
	if config.Async.RetryHours > 0 {
		machine.AsyncRetryWindow = time.Duration(config.Async.RetryHours) * time.Hour
	}

	deps := usecase.Dependencies{
		Verifier:   ingress.NewVerifier(config.Stripe.WebhookSecret, config.Stripe.WebhookTolerance),
		Machine:    machine,
		Policy:     pol,
		Dispatcher: dispatcher,
	}

	checks := map[string]adaptor.Pinger{"postgres": db}
	if rdb != nil {
		checks["redis"] = adaptor.PingFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}

	// Wire all dependencies
	app := wire.Wiring(repos, deps, checks, config, logger)

	// Start server
	logger.Info("Starting HTTP server", zap.String("port", config.App.Port))

	cmd.APIServer(app.Router, config.App.Port, config.App.ShutdownTimeout, logger, func() {
		for _, hook := range shutdownHooks {
			hook()
		}
	})
}
