package backend

import (
	"fmt"
	"net/http"

	"pkt.systems/snipline/schema"
)

// Error wraps a failed backend call with its HTTP status. It unwraps to the
// schema sentinel matching the status.
type Error struct {
	Status int
	Op     string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return "backend error"
	}
	if e.Status > 0 {
		return fmt.Sprintf("backend %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("backend %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// statusError classifies a non-2xx response.
func statusError(op string, status int, message string) error {
	var sentinel error
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		sentinel = schema.ErrAuth
	case status == http.StatusNotFound:
		sentinel = schema.ErrNotFound
	case status == http.StatusUnprocessableEntity:
		sentinel = schema.ErrValidation
	case status == http.StatusBadRequest:
		sentinel = schema.ErrInvalidRequest
	default:
		sentinel = schema.ErrNetwork
	}
	if message == "" {
		message = http.StatusText(status)
	}
	return &Error{Status: status, Op: op, Err: fmt.Errorf("%w: %s", sentinel, message)}
}

func transportError(op string, err error) error {
	return &Error{Op: op, Err: fmt.Errorf("%w: %v", schema.ErrNetwork, err)}
}
