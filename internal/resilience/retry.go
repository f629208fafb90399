package resilience

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// AttemptObserver is invoked before each retry sleep with the 0-based attempt
// that just failed, its error, and the computed delay.
type AttemptObserver func(attempt int, err error, delay time.Duration)

// Executor re-invokes operations according to a RetryPolicy. It holds no
// per-call mutable state, so a single Executor is shared by all callers;
// concurrent calls run independent retry loops.
type Executor struct {
	logger    *slog.Logger
	randFloat func() float64
	sleep     func(ctx context.Context, d time.Duration) error
}

func NewExecutor(logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	src := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Executor{
		logger:    logger,
		randFloat: src.Float64,
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Execute runs op until it succeeds, a permanent or unknown error is
// returned, or attempt > MaxRetries. Exhaustion re-returns the last error
// unchanged so the caller still sees the original error code.
func (e *Executor) Execute(ctx context.Context, policy RetryPolicy, op func(ctx context.Context) error, obs AttemptObserver) error {
	policy = policy.withDefaults()

	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		class := ClassifyWith(lastErr, policy.RetryableCodes)
		if class != ClassRetryable {
			// Permanent errors must never be retried; unknown errors
			// fail closed.
			return lastErr
		}
		if attempt >= policy.MaxRetries {
			return lastErr
		}

		delay := Backoff(attempt, policy, e.randFloat)
		if obs != nil {
			obs(attempt, lastErr, delay)
		}
		e.logger.WarnContext(ctx, "retrying operation",
			"attempt", attempt+1,
			"max_retries", policy.MaxRetries,
			"delay", delay,
			"error", lastErr.Error(),
		)
		if err := e.sleep(ctx, delay); err != nil {
			return lastErr
		}
	}
}
