package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ─── Sentinel Errors ────────────────────────────────────────────────────────

var (
	// Transport errors
	ErrWorkerUnavailable = errors.New("worker not available")
	ErrWorkerCrashed     = errors.New("worker crashed")
	ErrTimeout           = errors.New("request timed out")

	// Protocol errors
	ErrInvalidPayload = errors.New("invalid message payload")

	// Resource errors
	ErrResourceUnavailable = errors.New("VRAM state unavailable")
	ErrOutOfMemory         = errors.New("model memory is full")

	// Model lifecycle errors
	ErrModelNotFound  = errors.New("model not found")
	ErrModelNotLoaded = errors.New("model not loaded in memory")

	// Input errors
	ErrNoUserMessage  = errors.New("no user message found in conversation")
	ErrInvalidOptions = errors.New("invalid generation options")

	// Generation errors
	ErrAborted = errors.New("generation aborted")
	ErrBackend = errors.New("inference backend error")
)

// abortPrefix is the stable prefix UI layers key on to detect a user abort.
const abortPrefix = "AbortError: "

// AbortError wraps msg with the stable abort prefix.
func AbortError(msg string) error {
	return fmt.Errorf("%s%s%w", abortPrefix, msg, errSentinelAbort{})
}

// errSentinelAbort lets AbortError strings remain stable while still
// matching errors.Is(err, ErrAborted).
type errSentinelAbort struct{}

func (errSentinelAbort) Error() string        { return "" }
func (errSentinelAbort) Is(target error) bool { return target == ErrAborted }

// IsAbort reports whether err represents a user abort, either by sentinel
// or by the stable string prefix (which survives a process boundary).
func IsAbort(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAborted) {
		return true
	}
	return strings.HasPrefix(err.Error(), abortPrefix)
}

// IsMemoryFull reports whether err indicates the backend ran out of KV cache
// space. The "KV slot" substring is a stable contract with the native engine.
func IsMemoryFull(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrOutOfMemory) {
		return true
	}
	return strings.Contains(err.Error(), "KV slot")
}

// MemoryFullHint is the user-facing translation of a KV-slot failure on
// streaming paths.
const MemoryFullHint = "Model memory is full — unload the model or reduce the context size, then try again."
