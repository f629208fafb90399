package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
)

// ErrorClass is the classifier's verdict for a failure.
type ErrorClass int

const (
	// ClassUnknown means the failure could not be categorized. Unknown is
	// treated as non-retryable by the executor (fail closed).
	ClassUnknown ErrorClass = iota
	ClassRetryable
	ClassPermanent
)

func (c ErrorClass) String() string {
	switch c {
	case ClassRetryable:
		return "retryable"
	case ClassPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

var permanentCodes = map[string]struct{}{
	"permission-denied":   {},
	"permission_denied":   {},
	"unauthenticated":     {},
	"not-found":           {},
	"not_found":           {},
	"already-exists":      {},
	"already_exists":      {},
	"invalid-argument":    {},
	"invalid_argument":    {},
	"failed-precondition": {},
	"failed_precondition": {},
	"out-of-range":        {},
	"breaker_open":        {},
	"budget_exhausted":    {},
	"auth_failed":         {},
	"provider_rejected":   {},
}

var retryableCodes = map[string]struct{}{
	"unavailable":          {},
	"aborted":              {},
	"internal":             {},
	"deadline-exceeded":    {},
	"deadline_exceeded":    {},
	"resource-exhausted":   {},
	"resource_exhausted":   {},
	"cancelled":            {},
	"rate_limited":         {},
	"provider_unavailable": {},
}

// Message-substring heuristics are a fallback for errors with no structured
// code attached. Permanent patterns are checked before retryable ones; a
// permanent match wins even when a retryable pattern also matches.
var permanentMessagePatterns = []string{
	"record not found",
	"duplicate key",
	"unique constraint",
	"permission denied",
	"violates check constraint",
	"invalid input syntax",
}

var retryableMessagePatterns = []string{
	"timeout",
	"timed out",
	"socket",
	"dns",
	"connection refused",
	"connection reset",
	"broken pipe",
	"unavailable",
	"too many connections",
	"too many clients",
	"i/o error",
	"temporarily",
	"try again",
}

// Classify categorizes err as retryable, permanent, or unknown. The permanent
// check always takes priority so permanent errors are never retried even when
// they also match a retryable pattern.
func Classify(err error) ErrorClass {
	return ClassifyWith(err, nil)
}

// ClassifyWith is Classify extended with call-site retryable codes from a
// RetryPolicy. Builtin permanent codes still win over extra entries.
func ClassifyWith(err error, extraRetryable []string) ErrorClass {
	if err == nil {
		return ClassUnknown
	}

	var coded CodedError
	if errors.As(err, &coded) {
		code := strings.ToLower(strings.TrimSpace(coded.Code()))
		if _, ok := permanentCodes[code]; ok {
			return ClassPermanent
		}
		if _, ok := retryableCodes[code]; ok {
			return ClassRetryable
		}
		for _, extra := range extraRetryable {
			if strings.EqualFold(strings.TrimSpace(extra), code) {
				return ClassRetryable
			}
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassRetryable
	}
	if errors.Is(err, context.Canceled) {
		return ClassPermanent
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassRetryable
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range permanentMessagePatterns {
		if strings.Contains(msg, pattern) {
			return ClassPermanent
		}
	}
	for _, pattern := range retryableMessagePatterns {
		if strings.Contains(msg, pattern) {
			return ClassRetryable
		}
	}
	return ClassUnknown
}
