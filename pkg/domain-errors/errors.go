// Package domainerrors carries business-rule failures across layers with a
// stable code. Transport adapters map codes to status codes; services never
// return raw store errors to callers.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error.
type Code string

const (
	// CodeValidation is malformed caller input.
	CodeValidation Code = "validation_error"
	// CodeBadRequest is an undecodable or structurally invalid request.
	CodeBadRequest Code = "bad_request"
	// CodeNotFound is an absent entity, or one scoped away from the caller.
	CodeNotFound Code = "not_found"
	// CodePreconditionFailed is a state-machine guard violation.
	CodePreconditionFailed Code = "precondition_failed"
	// CodeConflict is a uniqueness violation or a lost compare-and-set race.
	CodeConflict Code = "conflict"
	// CodeUpstream is a failure of the verification provider or token ledger.
	CodeUpstream Code = "upstream_integration_error"
	// CodeInvariantViolation is returned by model constructors; services
	// translate it to CodeValidation before it reaches a caller.
	CodeInvariantViolation Code = "invariant_violation"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeTimeout            Code = "timeout"
	CodeInternal           Code = "internal_error"
)

// Error is a coded domain error.
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

// New builds a coded error without a cause.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches a code and message to an underlying cause.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// HasCode reports whether any error in the chain carries code.
func HasCode(err error, code Code) bool {
	var de *Error
	for err != nil {
		if errors.As(err, &de) {
			if de.Code == code {
				return true
			}
			err = de.Err
			continue
		}
		return false
	}
	return false
}

// Is is an alias of HasCode kept for handler readability.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// CodeOf returns the outermost code in the chain, or CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// MessageOf returns the outermost domain message, or a generic one.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return "internal error"
}
