package service

import "errors"

// Sentinel kinds for manager errors. The HTTP layer maps these to statuses.
var (
	// ErrValidation marks malformed experiment configuration or event input.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks operations referencing an unknown experiment.
	ErrNotFound = errors.New("experiment not found")
	// ErrAlreadyEnded marks a second end call for a completed experiment.
	ErrAlreadyEnded = errors.New("experiment already ended")
	// ErrUnknownVariant marks events referencing an undeclared variant.
	ErrUnknownVariant = errors.New("unknown variant")
	// ErrBackpressure marks a full ingestion queue.
	ErrBackpressure = errors.New("ingestion backpressure")
	// ErrStoreUnavailable wraps underlying store failures; retryable by the
	// caller, never retried here since a blind append retry could
	// double-count events.
	ErrStoreUnavailable = errors.New("store unavailable")
)
