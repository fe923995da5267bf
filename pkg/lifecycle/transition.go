package lifecycle

import (
	"fmt"

	"github.com/bft-labs/livespace/pkg/goal"
)

// TransitionResult is a transition's verdict on the current state.
type TransitionResult = goal.StepResult

const (
	ResultOK      = goal.StepOK
	ResultWait    = goal.StepWait
	ResultNoop    = goal.StepNoop
	ResultIllegal = goal.StepIllegal
)

// Control receives lifecycle requests from transitions. Implementations
// start the call and return without waiting for it to finish.
type Control interface {
	RequestStartup() error
	RequestActivate() error
	RequestDeactivate() error
	RequestShutdown() error
}

// Transition is one externally requested lifecycle step.
type Transition int

const (
	TransitionStartup Transition = iota
	TransitionActivate
	TransitionDeactivate
	TransitionShutdown
)

// String returns the upper-case transition name.
func (t Transition) String() string {
	switch t {
	case TransitionStartup:
		return "STARTUP"
	case TransitionActivate:
		return "ACTIVATE"
	case TransitionDeactivate:
		return "DEACTIVATE"
	case TransitionShutdown:
		return "SHUTDOWN"
	default:
		return fmt.Sprintf("Transition(%d)", int(t))
	}
}

// CanTransition reports whether t may run from s. A call already in
// flight yields Wait; a target already reached yields Noop.
func (t Transition) CanTransition(s ActivityState) TransitionResult {
	if s.IsTransitional() {
		return ResultWait
	}
	switch t {
	case TransitionStartup:
		if s.IsRunning() {
			return ResultNoop
		}
		switch s {
		case StateReady, StateStartupFailure, StateShutdownFailure, StateCrashed:
			return ResultOK
		}
		return ResultIllegal

	case TransitionActivate:
		switch s {
		case StateRunning, StateActivateFailure:
			return ResultOK
		case StateActive:
			return ResultNoop
		}
		return ResultIllegal

	case TransitionDeactivate:
		switch s {
		case StateActive, StateActivateFailure, StateDeactivateFailure:
			return ResultOK
		case StateRunning:
			return ResultNoop
		}
		return ResultIllegal

	case TransitionShutdown:
		switch s {
		case StateReady:
			return ResultNoop
		case StateDeployFailure, StateDoesntExist, StateUnknown:
			return ResultIllegal
		}
		return ResultOK
	}
	return ResultIllegal
}

// FailedAt reports whether s is the failure outcome of t.
func (t Transition) FailedAt(s ActivityState) bool {
	switch t {
	case TransitionStartup:
		return s == StateStartupFailure || s == StateCrashed
	case TransitionActivate:
		return s == StateActivateFailure || s == StateCrashed
	case TransitionDeactivate:
		return s == StateDeactivateFailure || s == StateCrashed
	case TransitionShutdown:
		return s == StateShutdownFailure
	}
	return false
}

// Apply sends the matching request to c.
func (t Transition) Apply(c Control) error {
	switch t {
	case TransitionStartup:
		return c.RequestStartup()
	case TransitionActivate:
		return c.RequestActivate()
	case TransitionDeactivate:
		return c.RequestDeactivate()
	case TransitionShutdown:
		return c.RequestShutdown()
	}
	return fmt.Errorf("unsupported transition %v", t)
}

// PlanFor returns the transitions that move an activity to goal.
// Supported goals are READY, RUNNING and ACTIVE.
func PlanFor(target ActivityState) ([]Transition, error) {
	switch target {
	case StateReady:
		return []Transition{TransitionShutdown}, nil
	case StateRunning:
		return []Transition{TransitionStartup, TransitionDeactivate}, nil
	case StateActive:
		return []Transition{TransitionStartup, TransitionActivate}, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrUnsupportedGoal, target)
}

// RestartPlan shuts an activity down and starts it again.
func RestartPlan() []Transition {
	return []Transition{TransitionShutdown, TransitionStartup}
}

// NewTransitioner builds a goal transitioner walking plan against c.
func NewTransitioner(c Control, plan ...Transition) *goal.Sequence[ActivityState, Control] {
	steps := make([]goal.Step[ActivityState, Control], len(plan))
	for i, t := range plan {
		steps[i] = t
	}
	return goal.NewSequence[ActivityState, Control](c, steps...)
}
