package tasks

import (
	"context"
	"errors"
	"fmt"
)

// Status classifies the outcome of a task.
type Status int

const (
	// StatusSuccess means the task produced a value.
	StatusSuccess Status = iota
	// StatusEmpty means the task completed but had nothing to produce.
	StatusEmpty
	// StatusRejected means the task failed with a domain error, see Reject.
	StatusRejected
	// StatusCanceled means the task context was canceled or timed out.
	StatusCanceled
	// StatusUnknown means the task failed for any other reason, including panics.
	StatusUnknown
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusEmpty:
		return "empty"
	case StatusRejected:
		return "rejected"
	case StatusCanceled:
		return "canceled"
	case StatusUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// ErrEmpty is returned by tasks that completed without producing anything.
var ErrEmpty = errors.New("nothing produced")

type rejectedError struct {
	err error
}

func (e *rejectedError) Error() string { return e.err.Error() }
func (e *rejectedError) Unwrap() error { return e.err }

// Reject marks err as a domain error: the request was understood and refused.
func Reject(err error) error {
	if err == nil {
		return nil
	}

	return &rejectedError{err}
}

// Result is delivered to the completion callback of every task.
type Result[T any] struct {
	Status Status
	Value  T
	Err    error
}

func (r Result[T]) Ok() bool {
	return r.Status == StatusSuccess || r.Status == StatusEmpty
}

func newResult[T any](val T, err error) Result[T] {
	var rejected *rejectedError
	switch {
	case err == nil:
		return Result[T]{Status: StatusSuccess, Value: val}
	case errors.Is(err, ErrEmpty):
		return Result[T]{Status: StatusEmpty, Value: val}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Result[T]{Status: StatusCanceled, Err: err}
	case errors.As(err, &rejected):
		return Result[T]{Status: StatusRejected, Err: err}
	default:
		return Result[T]{Status: StatusUnknown, Err: err}
	}
}
