package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"payment-orchestrator/internal/models"
)

// Config holds all configuration for the payment orchestrator
type Config struct {
	// Server
	Port        string
	Environment string

	// Database
	DatabaseURL string

	// Redis, used for rate limiting
	RedisURL string

	// NATS, used by the outbox dispatcher
	NatsURL string

	// Order service, the read-only order collaborator
	OrderServiceURL string

	// Stripe
	StripeSecretKey     string
	StripeWebhookSecret string

	// Razorpay
	RazorpayKeyID         string
	RazorpayKeySecret     string
	RazorpayWebhookSecret string

	// Provider routing
	DefaultProvider models.ProviderName
	CurrencyRouting map[string]models.ProviderName

	// Background workers
	OutboxInterval        time.Duration
	OutboxBatchSize       int
	WebhookRetryInterval  time.Duration
	WebhookMaxRetries     int
	EscrowReleaseInterval time.Duration

	// CORS
	AllowedOrigins []string
}

// Load loads configuration from environment variables
func Load() *Config {
	config := &Config{
		Port:        getEnv("PORT", "8092"),
		Environment: getEnv("ENVIRONMENT", "development"),

		DatabaseURL: buildDatabaseURL(),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379/0"),
		NatsURL:     getEnv("NATS_URL", "nats://localhost:4222"),

		OrderServiceURL: getEnv("ORDER_SERVICE_URL", "http://order-service:8080"),

		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),

		RazorpayKeyID:         getEnv("RAZORPAY_KEY_ID", ""),
		RazorpayKeySecret:     getEnv("RAZORPAY_KEY_SECRET", ""),
		RazorpayWebhookSecret: getEnv("RAZORPAY_WEBHOOK_SECRET", ""),

		DefaultProvider: models.ProviderName(getEnv("DEFAULT_PROVIDER", string(models.ProviderStripe))),
		CurrencyRouting: parseCurrencyRouting(getEnv("CURRENCY_ROUTING", "INR=RAZORPAY")),

		OutboxInterval:        getEnvDuration("OUTBOX_INTERVAL", 2*time.Second),
		OutboxBatchSize:       getEnvInt("OUTBOX_BATCH_SIZE", 100),
		WebhookRetryInterval:  getEnvDuration("WEBHOOK_RETRY_INTERVAL", time.Minute),
		WebhookMaxRetries:     getEnvInt("WEBHOOK_MAX_RETRIES", 5),
		EscrowReleaseInterval: getEnvDuration("ESCROW_RELEASE_INTERVAL", time.Minute),

		AllowedOrigins: splitNonEmpty(getEnv("ALLOWED_ORIGINS", "")),
	}

	if config.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	return config
}

// buildDatabaseURL constructs the database URL from individual components
func buildDatabaseURL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}

	host := getEnv("DB_HOST", "localhost")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "postgres")
	password := getEnv("DB_PASSWORD", "password")
	dbname := getEnv("DB_NAME", "payment_orchestrator")
	sslmode := getEnv("DB_SSLMODE", "disable")

	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		user, password, host, port, dbname, sslmode)
}

// parseCurrencyRouting parses "USD=STRIPE,INR=RAZORPAY" into a routing map.
// Malformed entries are skipped, not fatal; unmapped currencies fall back to
// the default provider anyway.
func parseCurrencyRouting(raw string) map[string]models.ProviderName {
	routing := make(map[string]models.ProviderName)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			log.Printf("Warning: skipping malformed CURRENCY_ROUTING entry %q", pair)
			continue
		}
		currency := strings.ToUpper(strings.TrimSpace(parts[0]))
		provider := models.ProviderName(strings.ToUpper(strings.TrimSpace(parts[1])))
		routing[currency] = provider
	}
	return routing
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Warning: invalid %s=%q, using default %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("Warning: invalid %s=%q, using default %s", key, value, defaultValue)
		return defaultValue
	}
	return d
}

func splitNonEmpty(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
