package decision

import "fmt"

// Code classifies engine failures with stable identifiers. Transports map
// codes to their own error shapes (HTTP status, JSON-RPC code).
type Code string

const (
	// CodeValidation marks a malformed request.
	CodeValidation Code = "VALIDATION"

	// CodeRuleEval marks a predicate that raised at evaluation time.
	// The engine fails closed and logs the cause.
	CodeRuleEval Code = "RULE_EVAL"

	// CodeAdvisorUnavailable marks advisor timeouts, open breaker, and
	// exhausted retries. Triggers the configured sample failure mode.
	CodeAdvisorUnavailable Code = "ADVISOR_UNAVAILABLE"

	// CodeConfig marks an invalid rule file or configuration.
	CodeConfig Code = "CONFIG"

	// CodeInternal marks unexpected failures. Reasons are redacted before
	// reaching callers.
	CodeInternal Code = "INTERNAL"
)

// Error carries a taxonomy code and a caller-safe message. The wrapped
// cause is for logs only and never leaks to callers.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a taxonomy error with a caller-safe message.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError attaches a cause to a taxonomy error.
func WrapError(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// AdvisorError wraps a provider failure and records whether retrying can
// help. Transport-level failures (connection resets, 5xx, timeouts) are
// transient; malformed payloads and rejected requests are not.
type AdvisorError struct {
	Transient bool
	Err       error
}

// Error implements the error interface.
func (e *AdvisorError) Error() string {
	if e.Transient {
		return fmt.Sprintf("advisor transport error: %v", e.Err)
	}
	return fmt.Sprintf("advisor error: %v", e.Err)
}

// Unwrap exposes the underlying provider error.
func (e *AdvisorError) Unwrap() error {
	return e.Err
}

// NewAdvisorError wraps err, marking it transient or terminal.
func NewAdvisorError(err error, transient bool) *AdvisorError {
	return &AdvisorError{Transient: transient, Err: err}
}
