package engine

import (
	"errors"
	"fmt"
)

// Common engine errors
var (
	// ErrAssetNotFound indicates the requested key is not resident in the cache
	ErrAssetNotFound = errors.New("asset not found in cache")

	// ErrDecodeFailed indicates the asset file could not be decoded
	ErrDecodeFailed = errors.New("asset decode failed")

	// ErrCacheExhausted indicates the asset cannot fit within the memory budget
	ErrCacheExhausted = errors.New("cache memory budget exhausted")

	// ErrStreamLimitExceeded indicates the concurrent stream limit is reached
	ErrStreamLimitExceeded = errors.New("concurrent stream limit exceeded")

	// ErrVoiceLimitExceeded indicates every voice slot is in use
	ErrVoiceLimitExceeded = errors.New("voice limit exceeded")

	// ErrVoiceNotFound indicates the voice id no longer names a live voice
	ErrVoiceNotFound = errors.New("voice not found")

	// ErrBusNotFound indicates an unknown bus name
	ErrBusNotFound = errors.New("bus not found")

	// ErrStreamNotFound indicates the stream id no longer names an open session
	ErrStreamNotFound = errors.New("stream not found")

	// ErrMailboxFull indicates the render loop's command mailbox was
	// full; the command was dropped rather than blocking the caller
	ErrMailboxFull = errors.New("command mailbox full")

	// ErrEngineClosed indicates the engine has been stopped
	ErrEngineClosed = errors.New("engine is closed")

	// ErrEngineRunning indicates an operation that requires a stopped engine
	ErrEngineRunning = errors.New("engine is already running")
)

// EngineError carries a classified error with its originating context.
type EngineError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface
func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// ErrorCode identifies specific error types
type ErrorCode string

const (
	// Cache errors
	ErrorCodeCacheExhausted ErrorCode = "CACHE_EXHAUSTED"
	ErrorCodeCacheMiss      ErrorCode = "CACHE_MISS"

	// Decode errors
	ErrorCodeDecodeFailure ErrorCode = "DECODE_FAILURE"
	ErrorCodeUnknownFormat ErrorCode = "UNKNOWN_FORMAT"

	// Stream errors
	ErrorCodeStreamLimit   ErrorCode = "STREAM_LIMIT"
	ErrorCodeStreamClosed  ErrorCode = "STREAM_CLOSED"
	ErrorCodeStreamMissing ErrorCode = "STREAM_MISSING"

	// Mixer errors
	ErrorCodeVoiceLimit   ErrorCode = "VOICE_LIMIT"
	ErrorCodeVoiceMissing ErrorCode = "VOICE_MISSING"
	ErrorCodeBusMissing   ErrorCode = "BUS_MISSING"

	// Device errors
	ErrorCodeAudioDevice ErrorCode = "AUDIO_DEVICE"

	// Lifecycle errors
	ErrorCodeLifecycle ErrorCode = "LIFECYCLE"
)

// NewEngineError creates an EngineError with the given code and message.
func NewEngineError(code ErrorCode, message string, cause error) *EngineError {
	return &EngineError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WithContext adds a key-value pair to the error context.
func (e *EngineError) WithContext(key string, value interface{}) *EngineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// IsRecoverable reports whether the caller can retry after the error.
// Budget and limit errors clear on their own as assets are evicted and
// voices finish; decode and device errors do not.
func IsRecoverable(err error) bool {
	switch {
	case errors.Is(err, ErrCacheExhausted),
		errors.Is(err, ErrStreamLimitExceeded),
		errors.Is(err, ErrVoiceLimitExceeded),
		errors.Is(err, ErrMailboxFull):
		return true
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		switch ee.Code {
		case ErrorCodeCacheExhausted, ErrorCodeStreamLimit, ErrorCodeVoiceLimit:
			return true
		}
	}
	return false
}
