// Package apperr defines the coded error taxonomy shared by the store,
// query engines, server and dispatcher.
//
// Every error that crosses a component boundary carries a Code so the
// dispatcher can surface it to clients as {code, message} without
// string matching.
package apperr

import (
	"errors"
	"fmt"
)

// Code categorizes an error.
type Code string

const (
	// CodeInvalidArgument covers bad filter values, unknown enum values,
	// malformed property paths and unparsable timestamps.
	CodeInvalidArgument Code = "InvalidArgument"

	// CodeNotFound indicates a referenced run, event or file does not exist.
	CodeNotFound Code = "NotFound"

	// CodeDatabaseUnavailable is returned while the server is reconnecting
	// or has not reached Running yet. Clients are expected to retry.
	CodeDatabaseUnavailable Code = "DatabaseUnavailable"

	// CodeDuplicateKey is returned by appends when the id already exists.
	CodeDuplicateKey Code = "DuplicateKey"

	// CodeLockedFile is returned when log cleanup exhausts its retries.
	CodeLockedFile Code = "LockedFile"

	// CodeInternal wraps unexpected faults caught at a boundary.
	CodeInternal Code = "Internal"
)

// Error is a coded error with an optional underlying cause.
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

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether a client may retry the same request.
func (e *Error) Retryable() bool {
	return e.Code == CodeDatabaseUnavailable
}

// New creates an Error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error around an existing cause.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// InvalidArgument is shorthand for New(CodeInvalidArgument, ...).
func InvalidArgument(format string, args ...any) *Error {
	return New(CodeInvalidArgument, format, args...)
}

// NotFound is shorthand for New(CodeNotFound, ...).
func NotFound(format string, args ...any) *Error {
	return New(CodeNotFound, format, args...)
}

// ErrDatabaseUnavailable is the sentinel used by the server while no
// store handle is usable.
var ErrDatabaseUnavailable = &Error{
	Code:    CodeDatabaseUnavailable,
	Message: "database is reconnecting or not yet open; retry shortly",
}

// CodeOf extracts the Code from err. Errors outside the taxonomy map to
// CodeInternal; nil maps to "".
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
