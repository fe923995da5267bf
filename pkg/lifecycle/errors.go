package lifecycle

import "errors"

var (
	// ErrInvocationInFlight is returned by a fail-fast guard while another call runs.
	ErrInvocationInFlight = errors.New("lifecycle call already in flight")

	// ErrUnknownInvocation is returned when exiting with a token that is not current.
	ErrUnknownInvocation = errors.New("unknown invocation token")

	// ErrIllegalState is returned when a lifecycle call is not allowed from the current state.
	ErrIllegalState = errors.New("lifecycle call not allowed in current state")

	// ErrUnsupportedGoal is returned for goals that have no transition plan.
	ErrUnsupportedGoal = errors.New("unsupported goal state")

	// ErrPanic wraps a panic raised by hosted code.
	ErrPanic = errors.New("hosted code panicked")

	// ErrHealthTimeout is returned when a health check does not answer in time.
	ErrHealthTimeout = errors.New("health check did not respond")

	// ErrUnhealthy is returned when hosted code reports itself unhealthy.
	ErrUnhealthy = errors.New("hosted code reported unhealthy")
)
