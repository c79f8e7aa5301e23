package apperr

import (
	"errors"
)

// Code is a stable, client-visible error classification.
type Code string

const (
	TenantInvalid           Code = "TENANT_INVALID"
	TenantSchemaNotFound    Code = "TENANT_SCHEMA_NOT_FOUND"
	TenantTableNotFound     Code = "TENANT_TABLE_NOT_FOUND"
	NoTenantBound           Code = "NO_TENANT_BOUND"
	InvalidChallenge        Code = "INVALID_CHALLENGE"
	LoginFailure            Code = "LOGIN_FAILURE"
	TenantSelectionRequired Code = "TENANT_SELECTION_REQUIRED"
	AccountNotFound         Code = "ACCOUNT_NOT_FOUND"
	AccountNotEnabled       Code = "ACCOUNT_NOT_ENABLED"
	AccountConflict         Code = "ACCOUNT_CONFLICT"
	InvalidStatusTransition Code = "INVALID_STATUS_TRANSITION"
	TenantUserNotFound      Code = "TENANT_USER_NOT_FOUND"
	TenantUserConflict      Code = "TENANT_USER_CONFLICT"
	ValidationFailed        Code = "VALIDATION_FAILED"
	InvalidToken            Code = "INVALID_TOKEN"
)

// Error carries a Code alongside a human readable message and an optional cause.
// The message is safe to show to clients; the cause is for logs only.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Code) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same code, so sentinel values declared with
// New can be used with errors.Is.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

// New builds an Error without an underlying cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an Error around a cause.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf returns the first Code found in the error chain, or "" when none is present.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
