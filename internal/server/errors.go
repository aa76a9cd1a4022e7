package server

import (
	"errors"
	"fmt"
)

// ErrPoolClosed is returned by Submit after the worker pool has shut down.
var ErrPoolClosed = errors.New("worker pool closed")

// HandlerError describes an unexpected handler fault that the connection
// driver turned into a 500 response.
type HandlerError struct {
	Method    string
	Path      string
	RequestID string
	Panic     bool
	Err       error
}

func (e *HandlerError) Error() string {
	kind := "error"
	if e.Panic {
		kind = "panic"
	}
	return fmt.Sprintf("handler %s for %s %s [%s]: %v", kind, e.Method, e.Path, e.RequestID, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}
