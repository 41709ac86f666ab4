package schemas

import (
	"errors"
	"fmt"
)

// TransientProviderError marks a failure worth retrying: rate limits,
// overload, network timeouts.
type TransientProviderError struct {
	Err error
}

func (e *TransientProviderError) Error() string {
	return fmt.Sprintf("transient provider error: %v", e.Err)
}

func (e *TransientProviderError) Unwrap() error { return e.Err }

// PermanentProviderError marks a failure that must not be retried: malformed
// requests, auth failures, safety blocks.
type PermanentProviderError struct {
	Err error
}

func (e *PermanentProviderError) Error() string {
	return fmt.Sprintf("permanent provider error: %v", e.Err)
}

func (e *PermanentProviderError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientProviderError{Err: err}
}

// Permanent wraps err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentProviderError{Err: err}
}

// IsTransient reports whether err is classified as retryable. Unclassified
// errors are treated as transient so that plain network failures from
// provider SDKs still get the retry policy.
func IsTransient(err error) bool {
	var perm *PermanentProviderError
	return err != nil && !errors.As(err, &perm)
}

// ConfigurationError reports an invalid configuration detected at startup,
// before any provider call is made.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// InsufficientOutputError is raised when a phase's surviving output falls
// below the configured minimum. It is fatal to the run.
type InsufficientOutputError struct {
	Phase             Phase
	Surviving         int
	Required          int
	DirectionFailures map[int]int
}

func (e *InsufficientOutputError) Error() string {
	return fmt.Sprintf("phase %s produced %d surviving outputs, need at least %d (per-direction failures: %v)",
		e.Phase, e.Surviving, e.Required, e.DirectionFailures)
}
