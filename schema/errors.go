package schema

import "errors"

var (
	// ErrInvalidRequest indicates a malformed request payload.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidTrigger indicates a trigger that does not match the trigger pattern.
	ErrInvalidTrigger = errors.New("invalid trigger")
	// ErrNotFound indicates a trigger that stayed unresolved after the full cascade.
	ErrNotFound = errors.New("shortcut not found")
	// ErrNetwork indicates a transient remote failure.
	ErrNetwork = errors.New("network error")
	// ErrAuth indicates a missing or rejected credential.
	ErrAuth = errors.New("not authenticated")
	// ErrValidation indicates malformed variable input.
	ErrValidation = errors.New("invalid variable input")
	// ErrChannelTimeout indicates the background context did not answer in time.
	ErrChannelTimeout = errors.New("channel timeout")
	// ErrChannelInvalidated indicates the background context is gone for good.
	ErrChannelInvalidated = errors.New("channel invalidated")
	// ErrPromptCanceled indicates the user dismissed the variable prompt.
	ErrPromptCanceled = errors.New("prompt canceled")
	// ErrExpansionFailed indicates a remote render failed and nothing was inserted.
	ErrExpansionFailed = errors.New("expansion failed")
	// ErrDisabled indicates expansion is switched off.
	ErrDisabled = errors.New("expansion disabled")
	// ErrUnknownAction indicates an action tag outside the closed action set.
	ErrUnknownAction = errors.New("unknown action")
)

// ErrorKind is the wire name of an error class carried across the channel.
type ErrorKind string

const (
	ErrorKindUnknown     ErrorKind = "unknown"
	ErrorKindInvalid     ErrorKind = "invalid_request"
	ErrorKindNotFound    ErrorKind = "not_found"
	ErrorKindNetwork     ErrorKind = "network"
	ErrorKindAuth        ErrorKind = "auth"
	ErrorKindValidation  ErrorKind = "validation"
	ErrorKindExpansion   ErrorKind = "expansion_failed"
	ErrorKindBadAction   ErrorKind = "unknown_action"
	ErrorKindUnavailable ErrorKind = "unavailable"
)

// KindOf classifies err into a wire error kind.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuth):
		return ErrorKindAuth
	case errors.Is(err, ErrNotFound):
		return ErrorKindNotFound
	case errors.Is(err, ErrNetwork):
		return ErrorKindNetwork
	case errors.Is(err, ErrValidation):
		return ErrorKindValidation
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrInvalidTrigger):
		return ErrorKindInvalid
	case errors.Is(err, ErrExpansionFailed):
		return ErrorKindExpansion
	case errors.Is(err, ErrUnknownAction):
		return ErrorKindBadAction
	default:
		return ErrorKindUnknown
	}
}

// SentinelFor maps a wire error kind back to its sentinel error.
func SentinelFor(kind ErrorKind) error {
	switch kind {
	case ErrorKindAuth:
		return ErrAuth
	case ErrorKindNotFound:
		return ErrNotFound
	case ErrorKindNetwork, ErrorKindUnavailable:
		return ErrNetwork
	case ErrorKindValidation:
		return ErrValidation
	case ErrorKindInvalid:
		return ErrInvalidRequest
	case ErrorKindExpansion:
		return ErrExpansionFailed
	case ErrorKindBadAction:
		return ErrUnknownAction
	default:
		return nil
	}
}
