// Package apperr defines the error kinds the service reports to callers.
package apperr

import (
	"errors"
	"net/http"
)

// Code identifies an error kind
type Code string

const (
	CodeInvalidRequest Code = "INVALID_REQUEST"
	CodeNotFound       Code = "NOT_FOUND"
	CodeUnauthorized   Code = "UNAUTHORIZED"
	CodeIOFailure      Code = "IO_FAILURE"
	CodeRateLimit      Code = "RATE_LIMIT"
	CodeCanceled       Code = "CANCELED"
	CodeInternal       Code = "INTERNAL_ERROR"
)

// StatusClientClosedRequest is the non-standard status for a caller that went away
const StatusClientClosedRequest = 499

// Error carries a code, a caller-safe message and an optional cause
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return string(e.Code) + ": " + e.Message + ": " + e.Cause.Error()
	}
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an error of the given kind
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates an error of the given kind around cause
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// NotFound reports a missing category, listing, token or file
func NotFound(message string) *Error {
	return New(CodeNotFound, message)
}

// Unauthorized reports a missing or wrong key
func Unauthorized(message string) *Error {
	return New(CodeUnauthorized, message)
}

// IOFailure reports an unexpected read error
func IOFailure(message string, cause error) *Error {
	return Wrap(CodeIOFailure, message, cause)
}

// Canceled reports a request abandoned by its caller
func Canceled(cause error) *Error {
	return Wrap(CodeCanceled, "request canceled", cause)
}

// CodeOf returns the code of the first *Error in err's chain, or CodeInternal
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// Is reports whether err carries code
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// HTTPStatus maps an error kind to a response status
func HTTPStatus(code Code) int {
	switch code {
	case CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeRateLimit:
		return http.StatusTooManyRequests
	case CodeCanceled:
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}
