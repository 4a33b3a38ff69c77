package engine

import (
	"errors"
	"fmt"
)

// RuntimeError represents an error detected while dispatching an event.
//
// Runtime errors include:
//   - Unknown event: the envelope names an event the engine cannot dispatch
//   - Invalid envelope: the envelope carries no record
//   - Engine stopped: the loop no longer accepts work
//
// Remote update failures are NOT runtime errors; they are reported on the
// Result.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Event is the host event name, if known.
	Event string

	// Details contains additional context.
	Details map[string]string
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeUnknownEvent indicates the event kind is not dispatchable.
	ErrCodeUnknownEvent RuntimeErrorCode = "UNKNOWN_EVENT"

	// ErrCodeInvalidEnvelope indicates the envelope is missing required data.
	ErrCodeInvalidEnvelope RuntimeErrorCode = "INVALID_ENVELOPE"

	// ErrCodeEngineStopped indicates the engine loop has shut down.
	ErrCodeEngineStopped RuntimeErrorCode = "ENGINE_STOPPED"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.Event != "" {
		return fmt.Sprintf("%s: %s (event=%s)", e.Code, e.Message, e.Event)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsStopped returns true if the error reports a stopped engine.
// Uses errors.As to handle wrapped errors.
func IsStopped(err error) bool {
	return hasCode(err, ErrCodeEngineStopped)
}

// IsInvalidInput returns true if the error was caused by the envelope itself
// (unknown event or missing data), i.e. retrying the same input cannot succeed.
func IsInvalidInput(err error) bool {
	return hasCode(err, ErrCodeUnknownEvent) || hasCode(err, ErrCodeInvalidEnvelope)
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// NewUnknownEventError creates a RuntimeError for an undispatchable event.
func NewUnknownEventError(event string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeUnknownEvent,
		Message: "event is not dispatchable",
		Event:   event,
	}
}

// NewInvalidEnvelopeError creates a RuntimeError for a malformed envelope.
func NewInvalidEnvelopeError(event, reason string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeInvalidEnvelope,
		Message: reason,
		Event:   event,
	}
}

func errStopped() *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeEngineStopped,
		Message: "engine is not accepting events",
	}
}
