// Package domainerrors provides coded errors for the trust core.
//
// Services attach a Code to every error they surface so callers (and any
// transport layer bolted on later) can branch on the failure class without
// string matching. Stores return pkg/platform/sentinel errors; services
// translate them into coded errors at the boundary.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error.
type Code string

const (
	// CodeValidation marks malformed or missing input. Not retryable.
	CodeValidation Code = "validation"
	// CodeConflict marks an invariant violation such as a duplicate pending
	// request or a duplicate family member email. Not retried automatically.
	CodeConflict Code = "conflict"
	// CodeNotFound marks a missing entity.
	CodeNotFound Code = "not_found"
	// CodeForbidden marks a role or ownership mismatch.
	CodeForbidden Code = "forbidden"
	// CodeInvalidState marks a transition attempted from a terminal or
	// wrong state.
	CodeInvalidState Code = "invalid_state"
	// CodeUnavailable marks a store or sink timeout. Safe to retry with
	// backoff since every mutation is idempotent.
	CodeUnavailable Code = "unavailable"
	// CodeInternal marks unexpected failures.
	CodeInternal Code = "internal"
	// CodeInvariantViolation marks a broken aggregate invariant detected at
	// the model layer.
	CodeInvariantViolation Code = "invariant_violation"
)

// Error is a coded domain error. It wraps an optional cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New constructs a coded error.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an existing error, preserving the
// cause for errors.Is / errors.As chains.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code Code) bool {
	var domainErr *Error
	for {
		if !errors.As(err, &domainErr) {
			return false
		}
		if domainErr.Code == code {
			return true
		}
		err = domainErr.cause
	}
}

// CodeOf returns the code of the outermost coded error in the chain, or
// CodeInternal when the error carries no code.
func CodeOf(err error) Code {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return CodeInternal
}
