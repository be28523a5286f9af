package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound         = errors.New("experiment not found")
	ErrExperimentExists = errors.New("experiment already exists")
	ErrAlreadyEnded     = errors.New("experiment already ended")
	ErrUnknownVariant   = errors.New("unknown variant")
)
