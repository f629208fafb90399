package di

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/draftpulse/contest-payments/internal/app"
	"github.com/draftpulse/contest-payments/internal/config"
	"github.com/draftpulse/contest-payments/internal/database"
	"github.com/draftpulse/contest-payments/internal/http/handler"
	"github.com/draftpulse/contest-payments/internal/http/middleware"
	"github.com/draftpulse/contest-payments/internal/http/router"
	"github.com/draftpulse/contest-payments/internal/observability"
	"github.com/draftpulse/contest-payments/internal/provider/paypal"
	"github.com/draftpulse/contest-payments/internal/repository"
	"github.com/draftpulse/contest-payments/internal/resilience"
	"github.com/draftpulse/contest-payments/internal/security"
	"github.com/draftpulse/contest-payments/internal/service"
)

var ConfigSet = wire.NewSet(config.Load)

var ObservabilitySet = wire.NewSet(provideLogger)

var RuntimeInfraSet = wire.NewSet(provideOpenDB, provideRedis)

var RepositorySet = wire.NewSet(repository.NewStore)

var SecuritySet = wire.NewSet(provideJWTManager)

var ServiceSet = wire.NewSet(
	provideRegistry,
	provideDedupe,
	provideLockService,
	provideProcessor,
	provideLedgerService,
	providePayPalClient,
	provideOrderClient,
	providePayoutClient,
	provideExchangeRates,
	provideIdempotencyStore,
	provideSwitchService,
	provideWithdrawalService,
	provideDepositService,
)

var HTTPSet = wire.NewSet(
	providePaymentHandler,
	provideWebhookHandler,
	provideSwitchHandler,
	provideHealthHandler,
	provideRouterDependencies,
	router.New,
	provideHTTPServer,
)

var AppSet = wire.NewSet(app.New)

func provideLogger(cfg *config.Config) *slog.Logger {
	return observability.NewLogger(cfg.Env, cfg.LogLevel)
}

func provideOpenDB(cfg *config.Config) (*gorm.DB, error) {
	return database.Open(cfg)
}

func provideRedis(cfg *config.Config) redis.UniversalClient {
	if !cfg.RedisEnabled {
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
}

func provideJWTManager(cfg *config.Config) *security.JWTManager {
	return security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTAccessSecret)
}

func provideRegistry(cfg *config.Config, logger *slog.Logger) *resilience.Registry {
	return resilience.NewRegistry(logger, resilience.Options{
		Retry: resilience.RetryPolicy{
			MaxRetries: cfg.RetryMaxRetries,
			BaseDelay:  cfg.RetryBaseDelay,
			MaxDelay:   cfg.RetryMaxDelay,
		},
		Breaker: resilience.BreakerConfig{
			FailureThreshold:    cfg.BreakerFailureThreshold,
			ResetTimeout:        cfg.BreakerResetTimeout,
			HalfOpenMaxAttempts: cfg.BreakerHalfOpenMax,
		},
		Budget: resilience.BudgetConfig{
			MaxTokens:  cfg.BudgetMaxTokens,
			RefillRate: cfg.BudgetRefillPerSec,
		},
	})
}

func provideDedupe(cfg *config.Config, client redis.UniversalClient) service.WebhookDedupe {
	if !cfg.WebhookDedupeEnabled || client == nil {
		return nil
	}
	return service.NewRedisWebhookDedupe(client, "whk")
}

func provideLockService(store *repository.Store, registry *resilience.Registry, dedupe service.WebhookDedupe, cfg *config.Config, logger *slog.Logger) *service.WebhookLockService {
	return service.NewWebhookLockService(store.WebhookLocks, registry, dedupe, cfg.WebhookLockLiveness, logger)
}

func provideProcessor(store *repository.Store, registry *resilience.Registry, logger *slog.Logger) *service.Processor {
	return service.NewProcessor(store, registry, logger)
}

func provideLedgerService(store *repository.Store, registry *resilience.Registry, logger *slog.Logger) *service.LedgerService {
	return service.NewLedgerService(store.Ledger, registry, logger)
}

func providePayPalClient(cfg *config.Config, logger *slog.Logger) (*paypal.Client, error) {
	if !cfg.PayPalEnabled {
		return nil, nil
	}
	client, err := paypal.NewClient(paypal.Config{
		BaseURL:      cfg.PayPalBaseURL,
		ClientID:     cfg.PayPalClientID,
		ClientSecret: cfg.PayPalClientSecret,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("configure paypal client: %w", err)
	}
	return client, nil
}

// The services take nil clients when the provider is disabled and answer
// with a configuration error at call time.
func provideOrderClient(client *paypal.Client) service.OrderClient {
	if client == nil {
		return nil
	}
	return client
}

func providePayoutClient(client *paypal.Client) service.PayoutClient {
	if client == nil {
		return nil
	}
	return client
}

func provideExchangeRates(cfg *config.Config) service.ExchangeRateSource {
	if cfg.ExchangeRateBaseURL == "" {
		return service.StaticExchangeRateSource{}
	}
	return service.NewHTTPExchangeRateSource(cfg.ExchangeRateBaseURL)
}

func provideIdempotencyStore(client redis.UniversalClient, db *gorm.DB) service.IdempotencyStore {
	if client != nil {
		return service.NewRedisIdempotencyStore(client, "idem")
	}
	return service.NewDBIdempotencyStore(db)
}

func provideSwitchService(
	store *repository.Store,
	client redis.UniversalClient,
	registry *resilience.Registry,
	logger *slog.Logger,
) *service.SwitchService {
	var cache service.SwitchCacheStore
	if client != nil {
		cache = service.NewRedisSwitchCacheStore(client, "switch_cache")
	}
	return service.NewSwitchService(store.Switches, cache, registry, 30*time.Second, logger)
}

func provideWithdrawalService(
	store *repository.Store,
	ledger *service.LedgerService,
	rates service.ExchangeRateSource,
	payouts service.PayoutClient,
	registry *resilience.Registry,
	switches *service.SwitchService,
	cfg *config.Config,
	logger *slog.Logger,
) *service.WithdrawalService {
	return service.NewWithdrawalService(store, ledger, rates, payouts, registry, switches, service.WithdrawalConfig{
		Provider:      "paypal",
		FeeBps:        int64(cfg.WithdrawalFeeBps),
		MinMinorUnits: cfg.WithdrawalMinMinorUnits,
	}, logger)
}

func provideDepositService(
	store *repository.Store,
	orders service.OrderClient,
	registry *resilience.Registry,
	switches *service.SwitchService,
	logger *slog.Logger,
) *service.DepositService {
	return service.NewDepositService(store, orders, registry, switches, service.DepositConfig{
		Provider:      "paypal",
		MinMinorUnits: 100,
	}, logger)
}

func providePaymentHandler(withdrawals *service.WithdrawalService, deposits *service.DepositService, ledger *service.LedgerService) *handler.PaymentHandler {
	return handler.NewPaymentHandler(withdrawals, deposits, ledger)
}

func provideWebhookHandler(locks *service.WebhookLockService, processor *service.Processor, cfg *config.Config, logger *slog.Logger) *handler.WebhookHandler {
	secrets := map[string]string{}
	if cfg.PayPalEnabled {
		secrets["paypal"] = cfg.PayPalWebhookSecret
	}
	return handler.NewWebhookHandler(locks, processor, secrets, logger)
}

func provideSwitchHandler(switches *service.SwitchService, logger *slog.Logger) *handler.SwitchHandler {
	return handler.NewSwitchHandler(switches, logger)
}

func provideHealthHandler(db *gorm.DB, client redis.UniversalClient) *handler.HealthHandler {
	return handler.NewHealthHandler(db, client)
}

func provideRouterDependencies(
	logger *slog.Logger,
	jwtMgr *security.JWTManager,
	payments *handler.PaymentHandler,
	webhooks *handler.WebhookHandler,
	switches *handler.SwitchHandler,
	health *handler.HealthHandler,
	client redis.UniversalClient,
	idem service.IdempotencyStore,
	cfg *config.Config,
) router.Dependencies {
	var limiter middleware.Limiter
	if client != nil {
		limiter = middleware.NewRedisFixedWindowLimiter(client, "rl")
	}
	return router.Dependencies{
		Logger:              logger,
		JWT:                 jwtMgr,
		Payments:            payments,
		Webhooks:            webhooks,
		Switches:            switches,
		Health:              health,
		APIRateLimitRPM:     cfg.PaymentRateLimitPerMin,
		WebhookRateLimitRPM: cfg.APIRateLimitPerMin,
		Limiter:             limiter,
		Idempotency:         idem,
		Bypass: middleware.NewRequestBypassEvaluator(middleware.RequestBypassConfig{
			EnableInternalProbeBypass: true,
		}, jwtMgr),
	}
}

func provideHTTPServer(cfg *config.Config, h chi.Router) *http.Server {
	return &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      h,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

// MigrationRunner applies schema migrations and development seeds.
type MigrationRunner struct {
	db  *gorm.DB
	cfg *config.Config
}

func NewMigrationRunner(db *gorm.DB, cfg *config.Config) *MigrationRunner {
	return &MigrationRunner{db: db, cfg: cfg}
}

func (m *MigrationRunner) Run() error {
	if err := database.Migrate(m.db); err != nil {
		return err
	}
	_, err := database.SeedSync(m.db, m.cfg.Env)
	return err
}
