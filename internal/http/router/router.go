package router

import (
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/draftpulse/contest-payments/internal/http/handler"
	"github.com/draftpulse/contest-payments/internal/http/middleware"
	"github.com/draftpulse/contest-payments/internal/observability"
	"github.com/draftpulse/contest-payments/internal/security"
	"github.com/draftpulse/contest-payments/internal/service"
)

type Dependencies struct {
	Logger   *slog.Logger
	JWT      *security.JWTManager
	Payments *handler.PaymentHandler
	Webhooks *handler.WebhookHandler
	Switches *handler.SwitchHandler
	Health   *handler.HealthHandler

	// APIRateLimitRPM applies per authenticated subject (or client IP).
	// WebhookRateLimitRPM applies per client IP on the provider intake.
	APIRateLimitRPM     int
	WebhookRateLimitRPM int

	// Limiter backs both rate limits; nil falls back to the in-process
	// fixed window, which is fine for a single replica.
	Limiter middleware.Limiter

	Bypass middleware.BypassEvaluator

	// Idempotency caches POST responses per Idempotency-Key; nil disables
	// the HTTP-level replay (the services still dedupe on their own keys).
	Idempotency service.IdempotencyStore
}

func New(dep Dependencies) chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	limiter := dep.Limiter
	if limiter == nil {
		limiter = middleware.NewLocalFixedWindowLimiter()
	}

	r.Group(func(r chi.Router) {
		r.Use(observability.HTTPMetrics("health"))
		r.Get("/health/live", dep.Health.Live)
		r.Get("/health/ready", dep.Health.Ready)
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(observability.HTTPMetrics("webhooks"))
		webhookLimit := middleware.NewDistributedRateLimiter(
			limiter, dep.WebhookRateLimitRPM, time.Minute, middleware.FailOpen, "webhooks")
		r.Use(middleware.BypassOr(dep.Bypass, webhookLimit.Middleware()))
		r.Post("/webhooks/{provider}", dep.Webhooks.Receive)
	})

	r.Route("/api/v1/payments", func(r chi.Router) {
		r.Use(observability.HTTPMetrics("payments"))
		apiLimit := middleware.NewDistributedRateLimiterWithKey(
			limiter, dep.APIRateLimitRPM, time.Minute, middleware.FailClosed, "payments",
			middleware.SubjectOrIPKeyFunc(dep.JWT))
		r.Use(middleware.BypassOr(dep.Bypass, apiLimit.Middleware()))
		r.Use(middleware.RequireAuth(dep.JWT))
		r.Use(middleware.Idempotency(dep.Idempotency, "payments", 24*time.Hour))

		r.Post("/withdrawals", dep.Payments.Withdraw)
		r.Post("/deposits", dep.Payments.Deposit)
		r.Post("/deposits/confirm", dep.Payments.ConfirmDeposit)
		r.Get("/balance", dep.Payments.Balance)
		r.Get("/entries", dep.Payments.Entries)
	})

	r.Route("/api/v1/admin/switches", func(r chi.Router) {
		r.Use(observability.HTTPMetrics("admin"))
		r.Use(middleware.RequireAuth(dep.JWT))
		r.Use(middleware.RequireScope("payments:admin"))

		r.Get("/", dep.Switches.List)
		r.Put("/{key}", dep.Switches.Put)
		r.Delete("/{key}", dep.Switches.Delete)
	})

	return r
}
