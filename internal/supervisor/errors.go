package supervisor

import (
	"errors"
	"fmt"
	"time"
)

// Failure kinds. Every error returned by Execute wraps exactly one of these.
var (
	ErrSpawnFailed   = errors.New("spawn failed")
	ErrWriteFailed   = errors.New("input write failed")
	ErrPollFailed    = errors.New("status poll failed")
	ErrTimedOut      = errors.New("timed out")
	ErrCancelled     = errors.New("cancelled")
	ErrProcessFailed = errors.New("process failed")
	ErrEmptyOutput   = errors.New("empty output")
)

// Error describes a failed request.
type Error struct {
	Kind error
	Mode Mode
	// Budget is set for ErrTimedOut.
	Budget time.Duration
	// Tail is the end of the child's diagnostic output, set for ErrProcessFailed.
	Tail string
	// ExitCode is set for ErrProcessFailed; -1 when the child was signaled.
	ExitCode int
	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Mode, e.Kind)
	switch {
	case errors.Is(e.Kind, ErrTimedOut):
		msg = fmt.Sprintf("%s after %dms", msg, e.Budget.Milliseconds())
	case errors.Is(e.Kind, ErrProcessFailed) && e.Tail != "":
		msg = fmt.Sprintf("%s: %s", msg, e.Tail)
	case errors.Is(e.Kind, ErrProcessFailed):
		msg = fmt.Sprintf("%s with exit code %d", msg, e.ExitCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
