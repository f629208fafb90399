package resilience

import "time"

// Backoff computes the delay before retrying attempt (0-based):
// min(base*2^attempt, maxDelay) perturbed by a symmetric jitter of
// ±(JitterFactor*cappedDelay), floored at zero. randFloat must return a value
// in [0,1); tests inject a fixed source to make the result deterministic.
func Backoff(attempt int, policy RetryPolicy, randFloat func() float64) time.Duration {
	policy = policy.withDefaults()

	capped := policy.MaxDelay
	// Shifting past 62 bits overflows time.Duration, so saturate early.
	if attempt < 63 {
		d := policy.BaseDelay << uint(attempt)
		if d > 0 && d < policy.MaxDelay {
			capped = d
		}
	}

	if policy.JitterFactor > 0 && randFloat != nil {
		jitter := (randFloat()*2 - 1) * policy.JitterFactor * float64(capped)
		capped += time.Duration(jitter)
	}
	if capped < 0 {
		return 0
	}
	return capped
}
