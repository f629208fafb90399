package resilience

import "time"

// RetryPolicy is an immutable per-call-site description of how an operation
// may be retried. Zero values are filled in from DefaultRetryPolicy by the
// executor, so callers only override what they care about.
type RetryPolicy struct {
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64

	// RetryableCodes adds call-site specific error codes to the classifier's
	// builtin retryable set. Permanent codes always win over entries here.
	RetryableCodes []string
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		JitterFactor: 0.2,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.JitterFactor < 0 {
		p.JitterFactor = 0
	}
	if p.JitterFactor > 1 {
		p.JitterFactor = 1
	}
	return p
}

// BreakerConfig controls the per-key circuit breaker state machine.
type BreakerConfig struct {
	FailureThreshold    int
	ResetTimeout        time.Duration
	HalfOpenMaxAttempts int
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:    5,
		ResetTimeout:        30 * time.Second,
		HalfOpenMaxAttempts: 2,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	def := DefaultBreakerConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = def.ResetTimeout
	}
	if c.HalfOpenMaxAttempts <= 0 {
		c.HalfOpenMaxAttempts = def.HalfOpenMaxAttempts
	}
	return c
}

// BudgetConfig controls the per-key retry budget token bucket. RefillRate is
// tokens per second.
type BudgetConfig struct {
	MaxTokens  float64
	RefillRate float64
}

func DefaultBudgetConfig() BudgetConfig {
	return BudgetConfig{
		MaxTokens:  10,
		RefillRate: 0.5,
	}
}

func (c BudgetConfig) withDefaults() BudgetConfig {
	def := DefaultBudgetConfig()
	if c.MaxTokens <= 0 {
		c.MaxTokens = def.MaxTokens
	}
	if c.RefillRate <= 0 {
		c.RefillRate = def.RefillRate
	}
	return c
}
