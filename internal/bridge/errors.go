package bridge

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrSpawn matches any *SpawnError.
	ErrSpawn = errors.New("worker spawn failed")
	// ErrTransport matches any *TransportError.
	ErrTransport = errors.New("worker transport failed")
	// ErrTimeout matches any *TimeoutError.
	ErrTimeout = errors.New("worker request timed out")
	// ErrWorkerExited is returned for calls that were pending when the
	// worker's output closed, and for calls issued afterwards.
	ErrWorkerExited = errors.New("worker process exited")
	// ErrClosed is returned for calls issued after Shutdown.
	ErrClosed = errors.New("bridge is shut down")
)

// SpawnError reports a worker that could not be located or launched.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawning worker %q: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

func (e *SpawnError) Is(target error) bool { return target == ErrSpawn }

// TransportError reports a failed write or flush on the worker's stdin.
type TransportError struct {
	Method string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("writing %s request to worker: %v", e.Method, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// WorkerError carries the error text of a response frame. Error returns the
// worker's text unchanged.
type WorkerError struct {
	Method  string
	Message string
}

func (e *WorkerError) Error() string { return e.Message }

// TimeoutError reports a call whose response did not arrive in time.
type TimeoutError struct {
	Method  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("worker request %s timed out (%s)", e.Method, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }
