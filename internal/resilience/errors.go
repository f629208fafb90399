package resilience

import "fmt"

// CodedError is implemented by errors that carry a stable machine-readable
// code. The classifier prefers codes over message heuristics.
type CodedError interface {
	error
	Code() string
}

// Error is the synthetic error type raised by the protection layer itself.
// Both codes below classify as permanent so the retry executor never loops
// inside an open breaker or an exhausted budget.
type Error struct {
	ErrCode string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.ErrCode, e.Message)
}

func (e *Error) Code() string { return e.ErrCode }

var (
	// ErrBreakerOpen is returned by Guard while a breaker is open.
	ErrBreakerOpen = &Error{ErrCode: "breaker_open", Message: "circuit breaker is open"}

	// ErrBudgetExhausted is returned by Protect before the breaker or
	// executor are invoked at all.
	ErrBudgetExhausted = &Error{ErrCode: "budget_exhausted", Message: "retry budget exhausted"}
)
