// Package domainerrors provides coded errors shared by services and transports.
//
// Services return these so the HTTP layer can translate them into status codes
// without inspecting error strings. Data problems found while validating a record
// or document are never returned as errors; they travel in conformance reports.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error.
type Code string

const (
	CodeBadRequest         Code = "bad_request"
	CodeValidation         Code = "validation_error"
	CodeInvalidInput       Code = "invalid_input"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeConfiguration      Code = "configuration_error"
	CodeInvariantViolation Code = "invariant_violation"
	CodeTimeout            Code = "timeout"
	CodeInternal           Code = "internal_error"
)

// Error is a domain error carrying a stable code.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a domain error with the given code.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// CodeOf returns the outermost domain code in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// HasCode reports whether any error in err's chain carries code.
func HasCode(err error, code Code) bool {
	for err != nil {
		var de *Error
		if !errors.As(err, &de) {
			return false
		}
		if de.Code == code {
			return true
		}
		err = de.Err
	}
	return false
}

// Is reports whether err's outermost domain code equals code.
func Is(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}
