// Package domainerrors provides coded domain errors. Every failure surfaced to
// a caller carries a stable code plus a human-readable message; infrastructure
// detail stays wrapped underneath for logs, never in the message itself.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code is a stable, caller-facing error code. The numbering follows the
// platform-wide taxonomy: 92xx business rules, 93xx data access, 95xx approval
// workflow, 99xx system.
type Code string

const (
	CodeInvalidInput      Code = "9201"
	CodeUsernameExists    Code = "9203"
	CodeEmailExists       Code = "9202"
	CodeUserCodeExists    Code = "9204"
	CodePendingApproval   Code = "9207"
	CodeInvalidStatus     Code = "9208"
	CodeNotFound          Code = "9301"
	CodeAlreadyDeleted    Code = "9302"
	CodeInvalidToken      Code = "9304"
	CodeConcurrentUpdate  Code = "9306"
	CodeRequestNotFound   Code = "9501"
	CodeRequestProcessed  Code = "9502"
	CodeInvalidDecision   Code = "9503"
	CodeNotRequestOwner   Code = "9504"
	CodeFatalClock        Code = "9905"
	CodeConfiguration     Code = "9997"
	CodeInternal          Code = "9999"
)

// Error is a coded domain error. It satisfies errors.Unwrap so callers can
// still reach wrapped sentinel or driver errors with errors.Is.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error with no underlying cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// CodeOf extracts the code from an error chain. Uncoded errors report
// CodeInternal so transports always have something stable to emit.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// HasCode reports whether the error chain carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	return errors.As(err, &de) && de.Code == code
}
