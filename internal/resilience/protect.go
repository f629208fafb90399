package resilience

import (
	"context"
	"log/slog"
	"time"

	"github.com/draftpulse/contest-payments/internal/observability"
)

// OperationClass separates budget-gated writes from reads, which never
// consume budget tokens.
type OperationClass int

const (
	OpRead OperationClass = iota
	OpWrite
)

func (c OperationClass) String() string {
	if c == OpWrite {
		return "write"
	}
	return "read"
}

// Options bundles the three protection configs for one call site.
type Options struct {
	Retry   RetryPolicy
	Breaker BreakerConfig
	Budget  BudgetConfig
}

// Registry composes the retry executor, circuit breakers, and retry budgets
// for one process. It is constructed once and passed by reference to call
// sites rather than living in package-level singletons.
type Registry struct {
	executor *Executor
	breakers *BreakerSet
	budgets  *BudgetSet
	defaults Options
	logger   *slog.Logger
}

func NewRegistry(logger *slog.Logger, defaults Options) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		executor: NewExecutor(logger),
		breakers: NewBreakerSet(logger),
		budgets:  NewBudgetSet(logger),
		defaults: defaults,
		logger:   logger,
	}
}

// Protect wraps op with the registry defaults for key.
func (r *Registry) Protect(ctx context.Context, key string, class OperationClass, op func(ctx context.Context) error) error {
	return r.ProtectWith(ctx, key, class, r.defaults, op)
}

// ProtectWith is the full composition contract: the budget is consulted once
// per logical write before the breaker or executor run at all, then the
// breaker guards the whole retry loop. A budget failure raises
// ErrBudgetExhausted without invoking anything downstream.
func (r *Registry) ProtectWith(ctx context.Context, key string, class OperationClass, opts Options, op func(ctx context.Context) error) error {
	if class == OpWrite && !r.budgets.Consume(key, opts.Budget) {
		return ErrBudgetExhausted
	}

	err := r.breakers.Guard(ctx, key, opts.Breaker, func(ctx context.Context) error {
		return r.executor.Execute(ctx, opts.Retry, op, func(attempt int, attemptErr error, delay time.Duration) {
			observability.RecordRetryAttempt(key, attemptErr)
		})
	})
	observability.RecordProtectedOperation(key, class.String(), outcomeLabel(err))
	return err
}

func outcomeLabel(err error) string {
	if err == nil {
		return "success"
	}
	return Classify(err).String()
}
