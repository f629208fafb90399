package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Env      string
	HTTPPort string
	LogLevel string

	DatabaseURL string

	RedisEnabled bool
	RedisAddr    string
	RedisDB      int

	JWTIssuer       string
	JWTAudience     string
	JWTAccessSecret string

	// Provider credentials and webhook signing secrets. A disabled provider
	// needs none of them; an enabled one fails Validate without them.
	PayPalEnabled       bool
	PayPalBaseURL       string
	PayPalClientID      string
	PayPalClientSecret  string
	PayPalWebhookSecret string

	ExchangeRateBaseURL string

	WebhookLockLiveness  time.Duration
	WebhookDedupeEnabled bool

	WithdrawalFeeBps        int
	WithdrawalMinMinorUnits int64

	APIRateLimitPerMin     int
	PaymentRateLimitPerMin int

	RetryMaxRetries         int
	RetryBaseDelay          time.Duration
	RetryMaxDelay           time.Duration
	BreakerFailureThreshold int
	BreakerResetTimeout     time.Duration
	BreakerHalfOpenMax      int
	BudgetMaxTokens         float64
	BudgetRefillPerSec      float64
}

func Load() (*Config, error) {
	cfg := &Config{
		Env:         getEnv("APP_ENV", "development"),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		RedisEnabled: getEnvBool("REDIS_ENABLED", false),
		RedisAddr:    getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:      getEnvInt("REDIS_DB", 0),

		JWTIssuer:       getEnv("JWT_ISSUER", "contest-platform"),
		JWTAudience:     getEnv("JWT_AUDIENCE", "contest-platform-api"),
		JWTAccessSecret: os.Getenv("JWT_ACCESS_SECRET"),

		PayPalEnabled:       getEnvBool("PAYPAL_ENABLED", false),
		PayPalBaseURL:       getEnv("PAYPAL_BASE_URL", "https://api-m.sandbox.paypal.com"),
		PayPalClientID:      os.Getenv("PAYPAL_CLIENT_ID"),
		PayPalClientSecret:  os.Getenv("PAYPAL_CLIENT_SECRET"),
		PayPalWebhookSecret: os.Getenv("PAYPAL_WEBHOOK_SECRET"),

		ExchangeRateBaseURL: getEnv("EXCHANGE_RATE_BASE_URL", ""),

		WebhookDedupeEnabled: getEnvBool("WEBHOOK_DEDUPE_REDIS_ENABLED", false),

		WithdrawalFeeBps:        getEnvInt("WITHDRAWAL_FEE_BPS", 100),
		WithdrawalMinMinorUnits: int64(getEnvInt("WITHDRAWAL_MIN_MINOR_UNITS", 500)),

		APIRateLimitPerMin:     getEnvInt("API_RATE_LIMIT_PER_MIN", 120),
		PaymentRateLimitPerMin: getEnvInt("PAYMENT_RATE_LIMIT_PER_MIN", 30),

		RetryMaxRetries:         getEnvInt("RETRY_MAX_RETRIES", 3),
		BreakerFailureThreshold: getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerHalfOpenMax:      getEnvInt("BREAKER_HALF_OPEN_MAX_ATTEMPTS", 2),
		BudgetMaxTokens:         float64(getEnvInt("RETRY_BUDGET_MAX_TOKENS", 10)),
	}

	var err error
	if cfg.WebhookLockLiveness, err = parseDurationEnv("WEBHOOK_LOCK_LIVENESS", "60s"); err != nil {
		return nil, err
	}
	if cfg.RetryBaseDelay, err = parseDurationEnv("RETRY_BASE_DELAY", "100ms"); err != nil {
		return nil, err
	}
	if cfg.RetryMaxDelay, err = parseDurationEnv("RETRY_MAX_DELAY", "5s"); err != nil {
		return nil, err
	}
	if cfg.BreakerResetTimeout, err = parseDurationEnv("BREAKER_RESET_TIMEOUT", "30s"); err != nil {
		return nil, err
	}
	refill, err := parseFloatEnv("RETRY_BUDGET_REFILL_PER_SEC", 0.5)
	if err != nil {
		return nil, err
	}
	cfg.BudgetRefillPerSec = refill

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []string
	if c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}
	if len(c.JWTAccessSecret) < 32 {
		errs = append(errs, "JWT_ACCESS_SECRET must be at least 32 chars")
	}
	if c.PayPalEnabled {
		if c.PayPalClientID == "" {
			errs = append(errs, "PAYPAL_CLIENT_ID is required when PAYPAL_ENABLED")
		}
		if c.PayPalClientSecret == "" {
			errs = append(errs, "PAYPAL_CLIENT_SECRET is required when PAYPAL_ENABLED")
		}
		if len(c.PayPalWebhookSecret) < 16 {
			errs = append(errs, "PAYPAL_WEBHOOK_SECRET must be at least 16 chars when PAYPAL_ENABLED")
		}
	}
	if c.WebhookDedupeEnabled && !c.RedisEnabled {
		errs = append(errs, "WEBHOOK_DEDUPE_REDIS_ENABLED requires REDIS_ENABLED")
	}
	if c.WebhookLockLiveness <= 0 || c.WebhookLockLiveness > 15*time.Minute {
		errs = append(errs, "WEBHOOK_LOCK_LIVENESS must be between 1s and 15m")
	}
	if c.WithdrawalFeeBps < 0 || c.WithdrawalFeeBps > 2500 {
		errs = append(errs, "WITHDRAWAL_FEE_BPS must be between 0 and 2500")
	}
	if c.WithdrawalMinMinorUnits < 0 {
		errs = append(errs, "WITHDRAWAL_MIN_MINOR_UNITS must be >= 0")
	}
	if c.APIRateLimitPerMin <= 0 {
		errs = append(errs, "API_RATE_LIMIT_PER_MIN must be > 0")
	}
	if c.PaymentRateLimitPerMin <= 0 {
		errs = append(errs, "PAYMENT_RATE_LIMIT_PER_MIN must be > 0")
	}
	if c.BudgetRefillPerSec <= 0 {
		errs = append(errs, "RETRY_BUDGET_REFILL_PER_SEC must be > 0")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func getEnv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func parseDurationEnv(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getEnv(key, def))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func parseFloatEnv(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return f, nil
}
