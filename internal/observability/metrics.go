package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payments_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"method", "route"})

	retryAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_retry_attempts_total",
		Help: "Retry attempts issued by the protection layer",
	}, []string{"key"})

	breakerTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_breaker_transitions_total",
		Help: "Circuit breaker state transitions",
	}, []string{"key", "from", "to"})

	budgetExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_retry_budget_exhausted_total",
		Help: "Logical operations rejected by an empty retry budget",
	}, []string{"key"})

	protectedOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_protected_operations_total",
		Help: "Protected operation outcomes by classification",
	}, []string{"key", "class", "outcome"})

	webhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_webhook_events_total",
		Help: "Inbound provider webhook events by outcome",
	}, []string{"provider", "event_type", "outcome"})

	repositoryOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_repository_operations_total",
		Help: "Repository operations by outcome",
	}, []string{"entity", "operation", "outcome"})

	compensationFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_compensation_failures_total",
		Help: "Compensating credits that failed and require manual intervention",
	}, []string{"provider"})
)

func RecordRetryAttempt(key string, _ error) {
	retryAttemptsTotal.WithLabelValues(key).Inc()
}

func RecordBreakerTransition(key, from, to string) {
	breakerTransitionsTotal.WithLabelValues(key, from, to).Inc()
}

func RecordBudgetExhausted(key string) {
	budgetExhaustedTotal.WithLabelValues(key).Inc()
}

func RecordProtectedOperation(key, class, outcome string) {
	protectedOperationsTotal.WithLabelValues(key, class, outcome).Inc()
}

func RecordWebhookEvent(provider, eventType, outcome string) {
	webhookEventsTotal.WithLabelValues(provider, eventType, outcome).Inc()
}

func RecordRepositoryOperation(_ context.Context, entity, operation, outcome string) {
	repositoryOperationsTotal.WithLabelValues(entity, operation, outcome).Inc()
}

func RecordCompensationFailure(provider string) {
	compensationFailuresTotal.WithLabelValues(provider).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// HTTPMetrics records request totals and latency per route pattern.
func HTTPMetrics(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
			httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}
