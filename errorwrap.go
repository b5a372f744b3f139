package rorchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ExecError wraps an internal execution failure — a misconfigured gate
// or an unavailable config snapshot — with the node path it occurred on
// and timing/cancellation flags. Module panics do not produce an
// ExecError; they become MODULE_EXCEPTION outcomes (stage.go). It mirrors the teacher's Error[T] (error.go) but is not generic
// over a payload type, since internal errors here never need to carry
// the in-flight request value back to the caller.
type ExecError struct {
	Code      string
	Path      []string
	Err       error
	Timestamp time.Time
	Duration  time.Duration
	Timeout   bool
	Canceled  bool
}

// Error implements the error interface.
func (e *ExecError) Error() string {
	if e == nil {
		return "<nil>"
	}
	path := titleJoin(e.Path)
	switch {
	case e.Timeout:
		return fmt.Sprintf("%s [%s] timed out after %v: %v", path, e.Code, e.Duration, e.Err)
	case e.Canceled:
		return fmt.Sprintf("%s [%s] canceled after %v: %v", path, e.Code, e.Duration, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s [%s] failed after %v: %v", path, e.Code, e.Duration, e.Err)
	default:
		return fmt.Sprintf("%s [%s]", path, e.Code)
	}
}

// Unwrap exposes the wrapped error for errors.Is/errors.As.
func (e *ExecError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsTimeout reports whether the failure was caused by a deadline.
func (e *ExecError) IsTimeout() bool {
	if e == nil {
		return false
	}
	return e.Timeout || errors.Is(e.Err, context.DeadlineExceeded)
}

// IsCanceled reports whether the failure was caused by cancellation.
func (e *ExecError) IsCanceled() bool {
	if e == nil {
		return false
	}
	return e.Canceled || errors.Is(e.Err, context.Canceled)
}

// withPath returns a copy of e with node prepended to its path.
func (e *ExecError) withPath(node string) *ExecError {
	cp := *e
	cp.Path = append([]string{node}, e.Path...)
	return &cp
}
