package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type codedTestError struct {
	code string
	msg  string
}

func (e *codedTestError) Error() string { return e.msg }
func (e *codedTestError) Code() string  { return e.code }

type timeoutTestError struct{}

func (timeoutTestError) Error() string   { return "operation stalled" }
func (timeoutTestError) Timeout() bool   { return true }
func (timeoutTestError) Temporary() bool { return true }

func TestClassifyCodedErrors(t *testing.T) {
	cases := []struct {
		code string
		want ErrorClass
	}{
		{"unavailable", ClassRetryable},
		{"aborted", ClassRetryable},
		{"deadline-exceeded", ClassRetryable},
		{"rate_limited", ClassRetryable},
		{"provider_unavailable", ClassRetryable},
		{"permission-denied", ClassPermanent},
		{"unauthenticated", ClassPermanent},
		{"invalid-argument", ClassPermanent},
		{"already_exists", ClassPermanent},
		{"auth_failed", ClassPermanent},
		{"provider_rejected", ClassPermanent},
		{"breaker_open", ClassPermanent},
		{"budget_exhausted", ClassPermanent},
		{"something-else", ClassUnknown},
	}
	for _, tc := range cases {
		err := &codedTestError{code: tc.code, msg: "coded failure"}
		if got := Classify(err); got != tc.want {
			t.Fatalf("code %q: expected %v, got %v", tc.code, tc.want, got)
		}
	}
}

func TestClassifyWithExtraRetryableCodes(t *testing.T) {
	err := &codedTestError{code: "custom_flake", msg: "flaky dependency"}
	if got := Classify(err); got != ClassUnknown {
		t.Fatalf("expected unknown without extras, got %v", got)
	}
	if got := ClassifyWith(err, []string{"Custom_Flake"}); got != ClassRetryable {
		t.Fatalf("expected extras to match case-insensitively, got %v", got)
	}

	// Builtin permanent codes cannot be overridden by call-site extras.
	perm := &codedTestError{code: "provider_rejected", msg: "rejected"}
	if got := ClassifyWith(perm, []string{"provider_rejected"}); got != ClassPermanent {
		t.Fatalf("expected permanent to win over extras, got %v", got)
	}
}

func TestClassifyContextErrors(t *testing.T) {
	if got := Classify(context.DeadlineExceeded); got != ClassRetryable {
		t.Fatalf("expected deadline exceeded retryable, got %v", got)
	}
	if got := Classify(context.Canceled); got != ClassPermanent {
		t.Fatalf("expected canceled permanent, got %v", got)
	}
	wrapped := fmt.Errorf("query: %w", context.DeadlineExceeded)
	if got := Classify(wrapped); got != ClassRetryable {
		t.Fatalf("expected wrapped deadline retryable, got %v", got)
	}
}

func TestClassifyNetTimeout(t *testing.T) {
	if got := Classify(timeoutTestError{}); got != ClassRetryable {
		t.Fatalf("expected net timeout retryable, got %v", got)
	}
}

func TestClassifyMessagePatterns(t *testing.T) {
	cases := []struct {
		msg  string
		want ErrorClass
	}{
		{"dial tcp: connection refused", ClassRetryable},
		{"read: connection reset by peer", ClassRetryable},
		{"pq: too many connections", ClassRetryable},
		{"duplicate key value violates unique constraint", ClassPermanent},
		{"record not found", ClassPermanent},
		{"pq: permission denied for table accounts", ClassPermanent},
		{"some opaque failure", ClassUnknown},
	}
	for _, tc := range cases {
		if got := Classify(errors.New(tc.msg)); got != tc.want {
			t.Fatalf("message %q: expected %v, got %v", tc.msg, tc.want, got)
		}
	}
}

func TestClassifyPermanentPatternWinsOverRetryable(t *testing.T) {
	// Matches both "unique constraint" and "timeout"; permanent must win.
	err := errors.New("unique constraint violated after lock timeout")
	if got := Classify(err); got != ClassPermanent {
		t.Fatalf("expected permanent priority, got %v", got)
	}
}

func TestClassifyNil(t *testing.T) {
	if got := Classify(nil); got != ClassUnknown {
		t.Fatalf("expected unknown for nil, got %v", got)
	}
}
