package channel

import (
	"context"
	"errors"
	"fmt"

	"pkt.systems/snipline/schema"
)

// ErrPeerGone is returned by transports when the background context is gone
// for good and will not answer again.
var ErrPeerGone = errors.New("channel peer gone")

// ErrorKind classifies channel failures.
type ErrorKind string

const (
	// KindTimeout is a transient failure: no answer within the deadline.
	KindTimeout ErrorKind = "timeout"
	// KindInvalidated is fatal: the background context was torn down.
	KindInvalidated ErrorKind = "invalidated"
	// KindTransport is a transient delivery failure.
	KindTransport ErrorKind = "transport"
	// KindRemote is a failure reported by the background context itself.
	KindRemote ErrorKind = "remote"
	// KindCanceled means the caller gave up.
	KindCanceled ErrorKind = "canceled"
)

// Error wraps channel failures with a stable classification. It unwraps to
// the matching schema sentinel so callers can use errors.Is.
type Error struct {
	Kind   ErrorKind
	Action schema.ActionTag
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return "channel error"
	}
	if e.Err != nil {
		return fmt.Sprintf("channel %s: %v", e.Action, e.Err)
	}
	return fmt.Sprintf("channel %s failed (%s)", e.Action, e.Kind)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Transient reports whether the caller may retry or fall through.
func (e *Error) Transient() bool {
	return e != nil && (e.Kind == KindTimeout || e.Kind == KindTransport)
}

// IsInvalidated reports whether err is the fatal invalidation condition.
func IsInvalidated(err error) bool {
	return errors.Is(err, schema.ErrChannelInvalidated)
}

func timeoutError(action schema.ActionTag) error {
	return &Error{Kind: KindTimeout, Action: action, Err: schema.ErrChannelTimeout}
}

func invalidatedError(action schema.ActionTag) error {
	return &Error{Kind: KindInvalidated, Action: action, Err: schema.ErrChannelInvalidated}
}

func wrapTransportError(action schema.ActionTag, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindCanceled, Action: action, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return timeoutError(action)
	case errors.Is(err, ErrPeerGone):
		return invalidatedError(action)
	case errors.Is(err, schema.ErrAuth):
		return &Error{Kind: KindRemote, Action: action, Err: err}
	default:
		return &Error{Kind: KindTransport, Action: action, Err: fmt.Errorf("%w: %v", schema.ErrNetwork, err)}
	}
}
