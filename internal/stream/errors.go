package stream

import "errors"

// Errors returned by the stream manager.
var (
	// ErrLimitExceeded is returned when opening a session would exceed the
	// configured concurrent stream limit.
	ErrLimitExceeded = errors.New("concurrent stream limit exceeded")

	// ErrDecodeFailed is returned when the decode task cannot produce the
	// first ring fill.
	ErrDecodeFailed = errors.New("stream decode failed")

	// ErrSessionNotFound is returned for unknown or already reclaimed
	// session ids.
	ErrSessionNotFound = errors.New("stream session not found")
)
