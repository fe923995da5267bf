package lifecycle

import (
	"fmt"
	"runtime/debug"
)

// Result is the outcome of a guarded lifecycle call. The state machine
// transition is chosen from the result, never from a raised error.
type Result struct {
	failed bool
	reason string
	cause  error
}

// OK is a successful result.
func OK() Result { return Result{} }

// Fail builds a failed result.
func Fail(reason string, cause error) Result {
	if reason == "" && cause != nil {
		reason = cause.Error()
	}
	return Result{failed: true, reason: reason, cause: cause}
}

// Failed reports whether the call failed.
func (r Result) Failed() bool { return r.failed }

// Reason is a short human-readable failure reason.
func (r Result) Reason() string { return r.reason }

// Err returns the failure cause, or nil on success.
func (r Result) Err() error {
	if !r.failed {
		return nil
	}
	if r.cause != nil {
		return r.cause
	}
	return fmt.Errorf("%s", r.reason)
}

func (r Result) String() string {
	if !r.failed {
		return "ok"
	}
	return "failed: " + r.reason
}

// PanicError carries a panic recovered from hosted code.
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("%v: %v", ErrPanic, e.Value) }

func (e *PanicError) Unwrap() error { return ErrPanic }

// capture runs fn and converts a panic into a *PanicError.
func capture(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &PanicError{Value: p, Stack: debug.Stack()}
		}
	}()
	return fn()
}
