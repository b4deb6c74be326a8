// Package errors defines the application error type and the translation of
// Postgres driver errors into it. Repositories map driver errors at the
// boundary so callers branch on codes instead of pgconn internals.
package errors

import (
	"errors"
	"fmt"
)

// Code classifies an application error.
type Code string

const (
	CodeNotFound   Code = "not_found"
	CodeConflict   Code = "conflict"
	CodeValidation Code = "validation"
	CodeForeignKey Code = "foreign_key"
	CodeTimeout    Code = "timeout"
	CodeCanceled   Code = "canceled"
	CodeInternal   Code = "internal"
)

// AppError carries a classification code alongside the underlying cause.
// Field names the offending column for validation and conflict errors when
// the database reported one.
type AppError struct {
	Code    Code
	Message string
	Field   string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// CodeOf returns the classification of err, or "" when err carries no
// AppError in its chain.
func CodeOf(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// FieldOf returns the offending field name, or "" when none was recorded.
func FieldOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Field
	}
	return ""
}

// HasCode reports whether err's chain contains an AppError with the given code.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}

func IsNotFound(err error) bool   { return HasCode(err, CodeNotFound) }
func IsConflict(err error) bool   { return HasCode(err, CodeConflict) }
func IsValidation(err error) bool { return HasCode(err, CodeValidation) }
