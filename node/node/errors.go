package node

import (
	"errors"
	"fmt"
)

var (
	// ErrDevice covers capture and histogram collaborator failures and
	// artifact read failures.
	ErrDevice = errors.New("device error")
	// ErrLink covers serial write and read failures.
	ErrLink = errors.New("link error")
	// ErrContention is returned when the capture device and link stay held
	// by another task for longer than the lock timeout.
	ErrContention = errors.New("resource contention")
)

// TaskError records which state a capture task failed in.
type TaskError struct {
	Kind  error
	State State
	Err   error
}

func (e *TaskError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v in %s", e.Kind, e.State)
	}
	return fmt.Sprintf("%v in %s: %v", e.Kind, e.State, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// Is matches the error kind so callers can test errors.Is(err, ErrLink).
func (e *TaskError) Is(target error) bool { return target == e.Kind }
