// Package fault defines the structured error taxonomy surfaced to callers.
// Every operation that rejects a request classifies the rejection with one of
// the codes below; anything unclassified is reported as CodeInternal without
// leaking the underlying cause.
package fault

import (
	"errors"
	"fmt"
)

// Code identifies the class of failure in a machine-readable form. The string
// values are part of the wire contract (HTTP bodies and WebSocket error
// messages carry them verbatim).
type Code string

const (
	CodeNotFound       Code = "not_found"
	CodeInvalidRequest Code = "invalid_request"
	CodeConflict       Code = "conflict"
	CodeForbidden      Code = "forbidden"
	CodeUnauthorized   Code = "unauthorized"
	CodeInternal       Code = "internal"
)

// Error is a classified failure with a caller-facing message.
type Error struct {
	Code    Code
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NotFound reports an absent entity.
func NotFound(msg string) *Error {
	return &Error{Code: CodeNotFound, Message: msg}
}

// InvalidRequest reports malformed or out-of-range input.
func InvalidRequest(msg string) *Error {
	return &Error{Code: CodeInvalidRequest, Message: msg}
}

// Conflict reports a state-machine violation (duplicate active match,
// non-pending approval, expired match).
func Conflict(msg string) *Error {
	return &Error{Code: CodeConflict, Message: msg}
}

// Forbidden reports an authorization failure by an authenticated caller.
func Forbidden(msg string) *Error {
	return &Error{Code: CodeForbidden, Message: msg}
}

// Unauthorized reports a missing or invalid caller identity.
func Unauthorized(msg string) *Error {
	return &Error{Code: CodeUnauthorized, Message: msg}
}

// CodeOf extracts the failure code from err. Errors that are not a *Error
// (storage failures, encoding bugs) classify as CodeInternal.
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return CodeInternal
}

// MessageOf returns the caller-facing message for err. Unclassified errors
// yield a generic message so internals are never exposed.
func MessageOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Message
	}
	return "internal error"
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
