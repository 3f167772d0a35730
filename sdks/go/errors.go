package superego

import (
	"errors"
	"fmt"
)

// Sentinel errors for use with errors.Is().
var (
	// ErrDenied is returned when an evaluation results in a deny decision.
	ErrDenied = errors.New("denied by policy")

	// ErrServerUnreachable is returned when the Superego server cannot be
	// contacted and the client is configured to fail closed.
	ErrServerUnreachable = errors.New("server unreachable")
)

// APIError is returned when the server answers with an error envelope.
type APIError struct {
	// Code is the stable machine-readable code (VALIDATION,
	// ADVISOR_UNAVAILABLE, INTERNAL, or HTTP_<status> when the body
	// carried no envelope).
	Code string

	// Message is the server's description of the failure.
	Message string

	// Status is the HTTP status code.
	Status int
}

// Error returns the error message.
func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("superego [%s]: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("superego [%s]: HTTP %d", e.Code, e.Status)
}

// DeniedError is returned when an evaluation results in a deny decision.
// It carries the full decision so callers can surface the reason.
type DeniedError struct {
	// RuleID names the rule that denied the call; empty when the
	// server's fail-closed default applied.
	RuleID string

	// Reason explains why the call was denied.
	Reason string

	// Confidence is the decision confidence in [0,1].
	Confidence float64

	// Decision is the full verdict as returned by the server.
	Decision *Decision
}

// Error returns a human-readable description of the denial.
func (e *DeniedError) Error() string {
	if e.RuleID != "" {
		return fmt.Sprintf("denied by rule %q: %s", e.RuleID, e.Reason)
	}
	return fmt.Sprintf("denied: %s", e.Reason)
}

// Is reports whether this error matches the target error.
// It supports errors.Is(err, ErrDenied).
func (e *DeniedError) Is(target error) bool {
	return target == ErrDenied
}

// UnreachableError is returned when the Superego server cannot be
// contacted and the client is configured to fail closed.
type UnreachableError struct {
	// Cause is the underlying transport error.
	Cause error
}

// Error returns a human-readable description of the failure.
func (e *UnreachableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("server unreachable: %v", e.Cause)
	}
	return "server unreachable"
}

// Unwrap returns the underlying error cause.
func (e *UnreachableError) Unwrap() error {
	return e.Cause
}

// Is reports whether this error matches the target error.
// It supports errors.Is(err, ErrServerUnreachable).
func (e *UnreachableError) Is(target error) bool {
	return target == ErrServerUnreachable
}
