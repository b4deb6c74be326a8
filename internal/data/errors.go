package data

import "errors"

// Sentinel errors surfaced by the repositories.
var (
	// ErrOperationIDRequired is returned when an operation id is missing.
	ErrOperationIDRequired = errors.New("operation id is required")
	// ErrMessageIDRequired is returned when an outbox message id is missing.
	ErrMessageIDRequired = errors.New("outbox message id is required")
)
