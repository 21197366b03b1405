package swarm

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Common errors returned by the dispatcher.
var (
	// ErrNoEndpoints is returned when a dispatcher is constructed with an
	// empty endpoint list. There is no way to make progress without at
	// least one egress path.
	ErrNoEndpoints = errors.New("no proxy endpoints configured")
)

// ErrorClass classifies a per-item failure for observability.
type ErrorClass string

const (
	// ErrorClassNetwork covers DNS, connect, and transport failures.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassTimeout covers requests aborted by the per-item deadline.
	ErrorClassTimeout ErrorClass = "timeout"

	// ErrorClassHandler covers errors returned by the caller's success
	// handler.
	ErrorClassHandler ErrorClass = "handler"
)

// HandlerError wraps an error returned by the caller-supplied handler so it
// can be told apart from transport failures.
type HandlerError struct {
	Item string
	Err  error
}

// Error implements the error interface.
func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler failed for %s: %v", e.Item, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *HandlerError) Unwrap() error {
	return e.Err
}

// classifyError buckets a per-item error for the outcome metric.
func classifyError(err error) ErrorClass {
	var handlerErr *HandlerError
	if errors.As(err, &handlerErr) {
		return ErrorClassHandler
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorClassTimeout
	}
	return ErrorClassNetwork
}
