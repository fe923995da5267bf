package goal

import (
	"fmt"
	"strings"
	"sync"
)

// StepResult is a step's verdict on the observed state.
type StepResult int

const (
	// StepOK means the step can be applied now.
	StepOK StepResult = iota
	// StepWait means the entity is busy; check again later.
	StepWait
	// StepNoop means the step's target is already reached.
	StepNoop
	// StepIllegal means the step cannot be applied from this state.
	StepIllegal
)

// String returns the upper-case result name.
func (r StepResult) String() string {
	switch r {
	case StepOK:
		return "OK"
	case StepWait:
		return "WAIT"
	case StepNoop:
		return "NOOP"
	case StepIllegal:
		return "ILLEGAL"
	default:
		return "UNKNOWN"
	}
}

// Step is one transition in a Sequence, applied to a control of type C.
type Step[S any, C any] interface {
	CanTransition(observed S) StepResult
	Apply(control C) error
}

// FailureCheck is implemented by steps that can recognise their own
// failure in an observed state.
type FailureCheck[S any] interface {
	FailedAt(observed S) bool
}

// Attempt checks step against observed and applies it when allowed.
func Attempt[S any, C any](step Step[S, C], observed S, control C) (StepResult, error) {
	r := step.CanTransition(observed)
	if r != StepOK {
		return r, nil
	}
	return r, step.Apply(control)
}

// Sequence walks a list of steps toward a goal. Each step is applied at
// most once; after applying it the sequence waits until the step reports
// Noop (its target reached) before moving on. A step that implements
// FailureCheck ends the sequence with an Error once its failure is observed.
type Sequence[S comparable, C any] struct {
	mu      sync.Mutex
	control C
	steps   []Step[S, C]
	idx     int
	pending bool
	from    S
	moved   bool
	err     error
}

// NewSequence creates a sequence applying steps, in order, to control.
func NewSequence[S comparable, C any](control C, steps ...Step[S, C]) *Sequence[S, C] {
	return &Sequence[S, C]{control: control, steps: steps}
}

// Transition advances the sequence as far as observed allows.
func (q *Sequence[S, C]) Transition(observed S) Status {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.idx < len(q.steps) {
		step := q.steps[q.idx]
		if q.pending && q.failed(step, observed) {
			q.err = fmt.Errorf("%v ended in %v: %w", step, observed, ErrStepFailed)
			return Error
		}
		switch r := step.CanTransition(observed); r {
		case StepNoop:
			q.idx++
			q.pending, q.moved = false, false
			continue
		case StepWait:
			q.moved = q.moved || q.pending
			return Working
		case StepOK:
			if q.pending {
				return Working
			}
			if err := step.Apply(q.control); err != nil {
				q.err = fmt.Errorf("%v: %w", step, err)
				return Error
			}
			q.pending, q.from, q.moved = true, observed, false
			return Working
		default:
			q.err = fmt.Errorf("%v from %v: %w", step, observed, ErrIllegalTransition)
			return Error
		}
	}
	return Done
}

// failed reports whether an applied step has visibly failed. A failure
// state equal to the one the step was applied from only counts once the
// step has been seen in progress.
func (q *Sequence[S, C]) failed(step Step[S, C], observed S) bool {
	fc, ok := step.(FailureCheck[S])
	if !ok || !fc.FailedAt(observed) {
		return false
	}
	return q.moved || observed != q.from
}

// Err returns the reason for the last Error.
func (q *Sequence[S, C]) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

// Remaining returns the number of steps not yet confirmed.
func (q *Sequence[S, C]) Remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.steps) - q.idx
}

// String lists the steps, e.g. "[STARTUP ACTIVATE]".
func (q *Sequence[S, C]) String() string {
	names := make([]string, len(q.steps))
	for i, s := range q.steps {
		names[i] = fmt.Sprint(s)
	}
	return "[" + strings.Join(names, " ") + "]"
}
