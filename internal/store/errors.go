package store

import "errors"

// Store error types.
var (
	// ErrTooLarge is returned when a streamed object exceeds the configured
	// maximum size. The partial file has already been handed to background
	// deletion when this is returned.
	ErrTooLarge = errors.New("object exceeds maximum size")
)
