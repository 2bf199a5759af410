package utils

import (
	"errors"
	"io/fs"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App        AppConfig
	Database   DatabaseConfig
	Stripe     StripeConfig
	Email      EmailConfig
	Firebase   FirebaseConfig
	Redis      RedisConfig
	Queue      QueueConfig
	Policy     PolicyConfig
	Fees       FeeConfig
	Async      AsyncConfig
	Automation AutomationConfig
	RateLimit  RateLimitConfig
}

type AppConfig struct {
	Name            string
	Port            string
	Debug           bool
	LogPath         string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	SSLMode  string
	MaxConns int32
}

type StripeConfig struct {
	SecretKey        string
	WebhookSecret    string
	WebhookTolerance time.Duration
}

type EmailConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	From          string
	OperatorEmail string
}

type FirebaseConfig struct {
	CredentialsFile string
	OperatorTopic   string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type QueueConfig struct {
	Enabled     bool
	Concurrency int
	MaxRetry    int
}

// PolicyConfig holds the cancellation policy. Bands use the
// "min-max:percent" list format, e.g. "48-:100,24-47:50,0-23:0".
type PolicyConfig struct {
	DepositCents int64
	Bands        string
}

type FeeConfig struct {
	CardPercentBps int64
	CardFixedCents int64
	BankPercentBps int64
	BankCapCents   int64
}

// AsyncConfig covers bank transfers. After a transfer fails the booking's
// holds are kept for RetryHours so the customer can pay again.
type AsyncConfig struct {
	MinAmountCents int64
	StaleDays      int
	RetryHours     int
}

type AutomationConfig struct {
	Token                string
	TokenHash            string
	CompletionGraceHours int
	DeliveryGraceHours   int
	RefundRetryMinutes   int
}

type RateLimitConfig struct {
	PerMinute int
	Burst     int
}

func LoadConfig() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.SetConfigType("env")

	viper.SetDefault("APP_NAME", "popndrop")
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("DEBUG", false)
	viper.SetDefault("LOG_PATH", "logs/")
	viper.SetDefault("SHUTDOWN_TIMEOUT", "15s")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("DB_MAX_CONNS", 10)
	viper.SetDefault("STRIPE_WEBHOOK_TOLERANCE", "5m")
	viper.SetDefault("SMTP_PORT", 587)
	viper.SetDefault("FIREBASE_OPERATOR_TOPIC", "operators")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("QUEUE_ENABLED", false)
	viper.SetDefault("QUEUE_CONCURRENCY", 5)
	viper.SetDefault("QUEUE_MAX_RETRY", 8)
	viper.SetDefault("POLICY_DEPOSIT_CENTS", 5000)
	viper.SetDefault("POLICY_BANDS", "48-:100,24-47:50,0-23:0")
	viper.SetDefault("FEE_CARD_BPS", 290)
	viper.SetDefault("FEE_CARD_FIXED_CENTS", 30)
	viper.SetDefault("FEE_BANK_BPS", 80)
	viper.SetDefault("FEE_BANK_CAP_CENTS", 500)
	viper.SetDefault("ASYNC_MIN_AMOUNT_CENTS", 100)
	viper.SetDefault("ASYNC_STALE_DAYS", 7)
	viper.SetDefault("ASYNC_RETRY_HOURS", 48)
	viper.SetDefault("AUTOMATION_COMPLETION_GRACE_HOURS", 2)
	viper.SetDefault("AUTOMATION_DELIVERY_GRACE_HOURS", 2)
	viper.SetDefault("AUTOMATION_REFUND_RETRY_MINUTES", 30)
	viper.SetDefault("RATE_LIMIT_PER_MINUTE", 300)
	viper.SetDefault("RATE_LIMIT_BURST", 50)

	// .env is optional, the environment wins either way
	if err := viper.ReadInConfig(); err != nil {
		var pathErr *fs.PathError
		if !errors.As(err, &pathErr) {
			return nil, err
		}
	}

	viper.AutomaticEnv()

	config := &Config{
		App: AppConfig{
			Name:            viper.GetString("APP_NAME"),
			Port:            viper.GetString("PORT"),
			Debug:           viper.GetBool("DEBUG"),
			LogPath:         viper.GetString("LOG_PATH"),
			ShutdownTimeout: viper.GetDuration("SHUTDOWN_TIMEOUT"),
		},
		Database: DatabaseConfig{
			Host:     viper.GetString("DB_HOST"),
			Port:     viper.GetString("DB_PORT"),
			Name:     viper.GetString("DB_NAME"),
			User:     viper.GetString("DB_USER"),
			Password: viper.GetString("DB_PASS"),
			SSLMode:  viper.GetString("DB_SSLMODE"),
			MaxConns: viper.GetInt32("DB_MAX_CONNS"),
		},
		Stripe: StripeConfig{
			SecretKey:        viper.GetString("STRIPE_SECRET_KEY"),
			WebhookSecret:    viper.GetString("STRIPE_WEBHOOK_SECRET"),
			WebhookTolerance: viper.GetDuration("STRIPE_WEBHOOK_TOLERANCE"),
		},
		Email: EmailConfig{
			Host:          viper.GetString("SMTP_HOST"),
			Port:          viper.GetInt("SMTP_PORT"),
			User:          viper.GetString("SMTP_USER"),
			Password:      viper.GetString("SMTP_PASS"),
			From:          viper.GetString("EMAIL_FROM"),
			OperatorEmail: viper.GetString("OPERATOR_EMAIL"),
		},
		Firebase: FirebaseConfig{
			CredentialsFile: viper.GetString("FIREBASE_CREDENTIALS_FILE"),
			OperatorTopic:   viper.GetString("FIREBASE_OPERATOR_TOPIC"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("REDIS_ADDR"),
			Password: viper.GetString("REDIS_PASSWORD"),
			DB:       viper.GetInt("REDIS_DB"),
		},
		Queue: QueueConfig{
			Enabled:     viper.GetBool("QUEUE_ENABLED"),
			Concurrency: viper.GetInt("QUEUE_CONCURRENCY"),
			MaxRetry:    viper.GetInt("QUEUE_MAX_RETRY"),
		},
		Policy: PolicyConfig{
			DepositCents: viper.GetInt64("POLICY_DEPOSIT_CENTS"),
			Bands:        viper.GetString("POLICY_BANDS"),
		},
		Fees: FeeConfig{
			CardPercentBps: viper.GetInt64("FEE_CARD_BPS"),
			CardFixedCents: viper.GetInt64("FEE_CARD_FIXED_CENTS"),
			BankPercentBps: viper.GetInt64("FEE_BANK_BPS"),
			BankCapCents:   viper.GetInt64("FEE_BANK_CAP_CENTS"),
		},
		Async: AsyncConfig{
			MinAmountCents: viper.GetInt64("ASYNC_MIN_AMOUNT_CENTS"),
			StaleDays:      viper.GetInt("ASYNC_STALE_DAYS"),
			RetryHours:     viper.GetInt("ASYNC_RETRY_HOURS"),
		},
		Automation: AutomationConfig{
			Token:                viper.GetString("AUTOMATION_TOKEN"),
			TokenHash:            viper.GetString("AUTOMATION_TOKEN_HASH"),
			CompletionGraceHours: viper.GetInt("AUTOMATION_COMPLETION_GRACE_HOURS"),
			DeliveryGraceHours:   viper.GetInt("AUTOMATION_DELIVERY_GRACE_HOURS"),
			RefundRetryMinutes:   viper.GetInt("AUTOMATION_REFUND_RETRY_MINUTES"),
		},
		RateLimit: RateLimitConfig{
			PerMinute: viper.GetInt("RATE_LIMIT_PER_MINUTE"),
			Burst:     viper.GetInt("RATE_LIMIT_BURST"),
		},
	}

	return config, nil
}
