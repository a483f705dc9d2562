package session

import (
	"errors"
	"fmt"
)

// PreconditionError is returned when an operation is attempted before the
// engine is initialized or before a variant has been selected.
type PreconditionError struct {
	Op     string
	Reason string
	Err    error
}

func (e *PreconditionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session: %s: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("session: %s: %s", e.Op, e.Reason)
}

func (e *PreconditionError) Unwrap() error { return e.Err }

// RuntimeError reports an engine failure. The loop has been torn down and
// the session forced to Ended by the time it is surfaced.
type RuntimeError struct {
	Op  string
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("session: engine %s failed: %v", e.Op, e.Err)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// IsPrecondition reports whether err is a *PreconditionError.
func IsPrecondition(err error) bool {
	var pe *PreconditionError
	return errors.As(err, &pe)
}

// IsRuntime reports whether err is a *RuntimeError.
func IsRuntime(err error) bool {
	var re *RuntimeError
	return errors.As(err, &re)
}
