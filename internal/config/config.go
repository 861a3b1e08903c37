package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var (
	ErrMissingStripeSecretKey     = errors.New("missing_stripe_secret_key")
	ErrMissingStripeWebhookSecret = errors.New("missing_stripe_webhook_secret")
	ErrMissingSweepTriggerSecret  = errors.New("missing_sweep_trigger_secret")
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RateLimit RateLimitConfig
	Processor ProcessorConfig
	Email     EmailConfig
	Auth      AuthConfig

	Scheduler SchedulerConfig

	SweepTriggerSecret string
	BillingConfigPath  string
}

// SchedulerConfig controls the in-process sweep loop. Jobs lists the sweeps
// to run; empty means all of them.
type SchedulerConfig struct {
	Enabled   bool
	Interval  time.Duration
	BatchSize int
	Jobs      []string
}

// RateLimitConfig throttles money-moving endpoints per payer. It needs redis.
type RateLimitConfig struct {
	Enabled     bool
	ChargeRate  float64
	ChargeBurst int
}

type ProcessorConfig struct {
	Provider      string
	SecretKey     string
	WebhookSecret string
	Timeout       time.Duration
	BackendURL    string
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
}

// AuthConfig maps roles to bcrypt hashes of bearer tokens.
type AuthConfig struct {
	TokenHashes map[string][]string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "dojopay"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", ""),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "dojopay"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 5)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 20)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 300)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 60)),
		RedisAddr:         strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword:     getenv("REDIS_PASSWORD", ""),
		RedisDB:           int(getenvInt64("REDIS_DB", 0)),
		RateLimit: RateLimitConfig{
			Enabled:     getenvBool("RATE_LIMIT_ENABLED", false),
			ChargeRate:  getenvFloat("RATE_LIMIT_CHARGE_RATE", 0.2),
			ChargeBurst: int(getenvInt64("RATE_LIMIT_CHARGE_BURST", 5)),
		},
		Processor: ProcessorConfig{
			Provider:      strings.ToLower(getenv("PAYMENT_PROCESSOR", "stripe")),
			SecretKey:     strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
			WebhookSecret: strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
			Timeout:       time.Duration(getenvInt64("STRIPE_TIMEOUT_SECONDS", 20)) * time.Second,
			BackendURL:    strings.TrimSpace(getenv("STRIPE_API_BASE", "")),
		},
		Email: EmailConfig{
			SMTPHost:     getenv("SMTP_HOST", ""),
			SMTPPort:     int(getenvInt64("SMTP_PORT", 587)),
			SMTPUsername: getenv("SMTP_USERNAME", ""),
			SMTPPassword: getenv("SMTP_PASSWORD", ""),
			SMTPFrom:     getenv("SMTP_FROM", "billing@dojopay.local"),
		},
		Auth: AuthConfig{
			TokenHashes: parseTokenHashes(os.Getenv("API_TOKEN_HASHES")),
		},
		Scheduler: SchedulerConfig{
			Enabled:   getenvBool("SCHEDULER_ENABLED", false),
			Interval:  time.Duration(getenvInt64("SCHEDULER_INTERVAL_SECONDS", 3600)) * time.Second,
			BatchSize: int(getenvInt64("SCHEDULER_BATCH_SIZE", 50)),
			Jobs:      splitList(getenv("SCHEDULER_JOBS", "")),
		},
		SweepTriggerSecret: strings.TrimSpace(getenv("SWEEP_TRIGGER_SECRET", "")),
		BillingConfigPath:  strings.TrimSpace(getenv("BILLING_CONFIG_PATH", "")),
	}

	return cfg
}

// Validate reports the secrets that are required before money can move.
func (c Config) Validate() error {
	var err error
	if c.Processor.SecretKey == "" {
		err = errors.Join(err, ErrMissingStripeSecretKey)
	}
	if c.Processor.WebhookSecret == "" {
		err = errors.Join(err, ErrMissingStripeWebhookSecret)
	}
	if c.SweepTriggerSecret == "" {
		err = errors.Join(err, ErrMissingSweepTriggerSecret)
	}
	return err
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

// parseTokenHashes reads "role:hash;role:hash" pairs.
func parseTokenHashes(raw string) map[string][]string {
	out := map[string][]string{}
	for _, pair := range strings.Split(raw, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		role, hash, ok := strings.Cut(pair, ":")
		if !ok {
			continue
		}
		role = strings.ToLower(strings.TrimSpace(role))
		hash = strings.TrimSpace(hash)
		if role == "" || hash == "" {
			continue
		}
		out[role] = append(out[role], hash)
	}
	return out
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvBool(key string, def bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
