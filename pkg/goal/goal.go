package goal

import "errors"

// Status is the outcome of one transition step.
type Status int

const (
	// Working means no terminal outcome yet; call Transition again later.
	Working Status = iota
	// Done means the goal was reached.
	Done
	// Error means the goal cannot be reached from the observed state.
	Error
)

// String returns a lower-case name.
func (s Status) String() string {
	switch s {
	case Working:
		return "working"
	case Done:
		return "done"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether s ends the transitioner's life.
func (s Status) Terminal() bool {
	return s == Done || s == Error
}

// Transitioner drives one entity toward one goal. Transition must not
// block on network I/O: it either completes a local step or returns
// Working so that it is called again later.
type Transitioner[S any] interface {
	Transition(observed S) Status
}

// Failure is implemented by transitioners that can explain an Error.
type Failure interface {
	Err() error
}

// Func adapts a function to Transitioner.
type Func[S any] func(observed S) Status

// Transition calls f.
func (f Func[S]) Transition(observed S) Status { return f(observed) }

var (
	// ErrGoalTimeout is returned when a goal stays Working past its policy ceiling.
	ErrGoalTimeout = errors.New("goal not reached before timeout")

	// ErrTooManyAttempts is returned when a goal stays Working past its attempt limit.
	ErrTooManyAttempts = errors.New("goal not reached within attempt limit")

	// ErrStepFailed is returned when an applied step ends in its failure state.
	ErrStepFailed = errors.New("step failed")

	// ErrIllegalTransition is returned when a step cannot run from the observed state.
	ErrIllegalTransition = errors.New("illegal transition from observed state")
)

// ErrOf returns the error carried by t, if any.
func ErrOf(t any) error {
	if f, ok := t.(Failure); ok {
		return f.Err()
	}
	return nil
}
