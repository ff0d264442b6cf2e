package engine

import (
	"errors"
	"strings"
	"testing"
)

func TestEngineErrorFormat(t *testing.T) {
	e := NewEngineError(ErrorCodeDecodeFailure, "asset load failed", nil)
	if got := e.Error(); got != "DECODE_FAILURE: asset load failed" {
		t.Errorf("Error() = %q", got)
	}

	cause := errors.New("bad header")
	e = NewEngineError(ErrorCodeDecodeFailure, "asset load failed", cause)
	if got := e.Error(); !strings.Contains(got, "bad header") {
		t.Errorf("Error() = %q, want cause included", got)
	}
}

func TestEngineErrorUnwrap(t *testing.T) {
	e := NewEngineError(ErrorCodeCacheExhausted, "budget", ErrCacheExhausted)
	if !errors.Is(e, ErrCacheExhausted) {
		t.Error("wrapped sentinel should be reachable via errors.Is")
	}

	var ee *EngineError
	if !errors.As(error(e), &ee) || ee.Code != ErrorCodeCacheExhausted {
		t.Error("errors.As should recover the EngineError")
	}
}

func TestEngineErrorWithContext(t *testing.T) {
	e := NewEngineError(ErrorCodeBusMissing, "unknown bus", ErrBusNotFound).
		WithContext("bus", "reverb").
		WithContext("op", "play")
	if e.Context["bus"] != "reverb" || e.Context["op"] != "play" {
		t.Errorf("context = %v", e.Context)
	}
}

func TestIsRecoverable(t *testing.T) {
	recoverable := []error{
		ErrCacheExhausted,
		ErrStreamLimitExceeded,
		ErrVoiceLimitExceeded,
		ErrMailboxFull,
		NewEngineError(ErrorCodeCacheExhausted, "budget", nil),
	}
	for _, err := range recoverable {
		if !IsRecoverable(err) {
			t.Errorf("%v should be recoverable", err)
		}
	}

	fatal := []error{
		ErrDecodeFailed,
		ErrAssetNotFound,
		ErrBusNotFound,
		NewEngineError(ErrorCodeAudioDevice, "device gone", nil),
		errors.New("random"),
	}
	for _, err := range fatal {
		if IsRecoverable(err) {
			t.Errorf("%v should not be recoverable", err)
		}
	}
}
