package executor

import (
	"errors"
	"fmt"
)

// Sentinel errors for typed error checking. Everything inside the retry loop
// is retryable up to the budget; only ErrInvalidInput is fatal, checked once
// before the first attempt.
var (
	ErrInvalidInput       = errors.New("invalid script input")
	ErrNoEntryPoint       = errors.New("no scene class found in script")
	ErrRuntimeUnavailable = errors.New("render container unavailable")
	ErrExecutionFailed    = errors.New("script execution failed")
	ErrRemediationFailed  = errors.New("remediation failed")
	ErrExhausted          = errors.New("attempt budget exhausted")
)

// RunError wraps errors with run context.
type RunError struct {
	RunID string
	Op    string // the operation that failed
	Err   error
}

func (e *RunError) Error() string {
	if e.RunID != "" {
		return fmt.Sprintf("run %s: %s: %s", e.RunID, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// IsExhausted reports whether the error is an exhausted attempt budget.
func IsExhausted(err error) bool {
	return errors.Is(err, ErrExhausted)
}

// IsInvalidInput reports whether the error is a malformed caller request.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}
