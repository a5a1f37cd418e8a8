package engine

import (
	"errors"
	"fmt"
	"time"
)

// ErrorClass represents the classification of an error for retry and recovery logic.
type ErrorClass string

const (
	// ClassTransient indicates a driver hiccup that may succeed on the next tick.
	// Examples: stale element references, detached frames, dropped CDP messages.
	ClassTransient ErrorClass = "transient"

	// ClassConfiguration indicates a caller mistake that no amount of waiting fixes.
	// Examples: missing MFA secret, malformed base32 secret, empty locator.
	ClassConfiguration ErrorClass = "configuration"

	// ClassElementNotFound indicates a hard wait timed out before its condition held.
	ClassElementNotFound ErrorClass = "element_not_found"

	// ClassVerificationTimeout indicates an action was repeated until its attempt
	// budget ran out and the expected value never materialized.
	ClassVerificationTimeout ErrorClass = "verification_timeout"

	// ClassAuthenticationFailure indicates the login protocol reached a negative outcome.
	ClassAuthenticationFailure ErrorClass = "authentication_failure"
)

// Redacted replaces sensitive values in errors and failure reports.
const Redacted = "[redacted]"

// Error represents a classified error with context.
type Error struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Locator is the element query involved, if any.
	Locator *Locator `json:"locator,omitempty"`

	// Condition is the condition that was awaited for element_not_found errors.
	Condition Condition `json:"condition,omitempty"`

	// Timeout is the wait budget that elapsed.
	Timeout time.Duration `json:"timeout,omitempty"`

	// Expected and Observed describe a verification mismatch.
	Expected string `json:"expected,omitempty"`
	Observed string `json:"observed,omitempty"`

	// Rounds is how many action rounds were consumed.
	Rounds int `json:"rounds,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Operation != "" {
		msg += fmt.Sprintf(" (operation=%s)", e.Operation)
	}
	switch e.Class {
	case ClassElementNotFound:
		if e.Locator != nil {
			msg += fmt.Sprintf(": %s was not %s within %s", e.Locator, e.Condition, e.Timeout)
		}
	case ClassVerificationTimeout:
		msg += fmt.Sprintf(": expected %q, observed %q after %d round(s)", e.Expected, e.Observed, e.Rounds)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *Error {
	return &Error{
		Class:   ClassTransient,
		Message: message,
		Err:     err,
	}
}

// NewConfigurationError creates a new configuration error.
func NewConfigurationError(message string, err error) *Error {
	return &Error{
		Class:   ClassConfiguration,
		Message: message,
		Code:    ErrCodeInvalidConfig,
		Err:     err,
	}
}

// NewElementNotFoundError reports that loc never satisfied cond within timeout.
func NewElementNotFoundError(loc Locator, cond Condition, timeout time.Duration, lastErr error) *Error {
	l := loc
	return &Error{
		Class:     ClassElementNotFound,
		Message:   "element not found",
		Code:      ErrCodeNotFound,
		Locator:   &l,
		Condition: cond,
		Timeout:   timeout,
		Err:       lastErr,
	}
}

// NewVerificationTimeoutError reports an exhausted retry-with-verification loop.
func NewVerificationTimeoutError(f VerificationFailure) *Error {
	return &Error{
		Class:     ClassVerificationTimeout,
		Message:   "verification timed out",
		Code:      ErrCodeTimeout,
		Operation: f.Name,
		Expected:  f.Expected,
		Observed:  f.Observed,
		Rounds:    f.Rounds,
		Err:       f.LastErr,
	}
}

// NewAuthenticationError creates a new authentication failure.
func NewAuthenticationError(message string, err error) *Error {
	return &Error{
		Class:   ClassAuthenticationFailure,
		Message: message,
		Code:    ErrCodeAuthFailed,
		Err:     err,
	}
}

// WithOperation adds operation context to an error.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func classOf(err error) (ErrorClass, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Class, true
	}
	return "", false
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	c, ok := classOf(err)
	return ok && c == ClassTransient
}

// IsConfiguration returns true if the error is classified as a configuration error.
func IsConfiguration(err error) bool {
	c, ok := classOf(err)
	return ok && c == ClassConfiguration
}

// IsElementNotFound returns true if a hard wait timed out.
func IsElementNotFound(err error) bool {
	c, ok := classOf(err)
	return ok && c == ClassElementNotFound
}

// IsVerificationTimeout returns true if a retry-with-verification loop was exhausted.
func IsVerificationTimeout(err error) bool {
	c, ok := classOf(err)
	return ok && c == ClassVerificationTimeout
}

// IsAuthenticationFailure returns true if the error is an explicit login failure.
func IsAuthenticationFailure(err error) bool {
	c, ok := classOf(err)
	return ok && c == ClassAuthenticationFailure
}

// IsRetryable returns true if the error can be retried.
// Unclassified errors are treated as retryable; driver implementations rarely
// classify their own failures.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	c, ok := classOf(err)
	if !ok {
		return true
	}
	return c == ClassTransient
}

// Common error codes.
const (
	ErrCodeInvalidConfig = "INVALID_CONFIG"
	ErrCodeMissingSecret = "MISSING_SECRET"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeTimeout       = "TIMEOUT"
	ErrCodeAuthFailed    = "AUTH_FAILED"
	ErrCodeLoginPage     = "LOGIN_PAGE_NOT_FOUND"
	ErrCodeMFARejected   = "MFA_REJECTED"
	ErrCodeDriver        = "DRIVER_ERROR"
)
