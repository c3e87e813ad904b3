// Package toolerr defines the error kinds every tool reports to the user.
//
// A tool never retries on its own. Failures are wrapped once with a Code and
// rendered to the chat with UserText.
package toolerr

import (
	"errors"
	"strings"
)

// Code is a machine-readable error kind.
type Code string

const (
	// PermissionDenied: the platform refused access (bot blocked, file not
	// reachable, chat not allowed).
	PermissionDenied Code = "permission_denied"
	// StorageQuotaExceeded: a persistence write was refused. Prior state is kept.
	StorageQuotaExceeded Code = "storage_quota_exceeded"
	// DecodeFailure: media, QR or OpenPGP input could not be decoded.
	DecodeFailure Code = "decode_failure"
	// ValidationFailure: required input is empty or malformed.
	ValidationFailure Code = "validation_failure"
	// Internal covers everything else.
	Internal Code = "internal"
)

func (c Code) label() string {
	switch c {
	case PermissionDenied:
		return "Permission denied"
	case StorageQuotaExceeded:
		return "Storage full"
	case DecodeFailure:
		return "Could not decode"
	case ValidationFailure:
		return "Invalid input"
	default:
		return "Error"
	}
}

// Error is the structured error type shared by stores and tools.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Cause.Error()
	}
	return e.Message + ": " + e.Cause.Error()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Validation is shorthand for New(ValidationFailure, message).
func Validation(message string) *Error { return New(ValidationFailure, message) }

// Decode is shorthand for Wrap(DecodeFailure, message, cause).
func Decode(message string, cause error) *Error { return Wrap(DecodeFailure, message, cause) }

// Permission is shorthand for Wrap(PermissionDenied, message, cause).
func Permission(message string, cause error) *Error { return Wrap(PermissionDenied, message, cause) }

// CodeOf returns the code of the first *Error in err's chain, or Internal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}
	return Internal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return errors.Is(err, &Error{Code: code})
}

// UserText renders err as a one-line status message.
func UserText(err error) string {
	if err == nil {
		return ""
	}
	var te *Error
	if !errors.As(err, &te) {
		return "Error: " + oneLine(err.Error())
	}
	msg := te.Message
	if te.Cause != nil && te.Code != ValidationFailure {
		if msg == "" {
			msg = te.Cause.Error()
		} else {
			msg += " (" + te.Cause.Error() + ")"
		}
	}
	if msg == "" {
		return te.Code.label()
	}
	return te.Code.label() + ": " + oneLine(msg)
}

func oneLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
