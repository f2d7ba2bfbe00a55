package storage

import "errors"

// Storage errors shared by all backends.
var (
	// ErrNotFound is returned when a requested record or document does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnavailable is returned when an external store cannot be reached.
	// Callers treat it as a soft failure.
	ErrUnavailable = errors.New("store unavailable")
)
