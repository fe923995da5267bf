package lifecycle

import (
	"fmt"
	"strings"
)

// ActivityState is the lifecycle state of one live activity.
type ActivityState int

const (
	StateUnknown ActivityState = iota
	StateReady
	StateStartupAttempt
	StateRunning
	StateActivateAttempt
	StateActive
	StateDeactivateAttempt
	StateShutdownAttempt
	StateStartupFailure
	StateActivateFailure
	StateDeactivateFailure
	StateShutdownFailure
	StateCrashed
	StateDeployFailure
	StateDoesntExist
)

var stateNames = [...]string{
	StateUnknown:           "UNKNOWN",
	StateReady:             "READY",
	StateStartupAttempt:    "STARTUP_ATTEMPT",
	StateRunning:           "RUNNING",
	StateActivateAttempt:   "ACTIVATE_ATTEMPT",
	StateActive:            "ACTIVE",
	StateDeactivateAttempt: "DEACTIVATE_ATTEMPT",
	StateShutdownAttempt:   "SHUTDOWN_ATTEMPT",
	StateStartupFailure:    "STARTUP_FAILURE",
	StateActivateFailure:   "ACTIVATE_FAILURE",
	StateDeactivateFailure: "DEACTIVATE_FAILURE",
	StateShutdownFailure:   "SHUTDOWN_FAILURE",
	StateCrashed:           "CRASHED",
	StateDeployFailure:     "DEPLOY_FAILURE",
	StateDoesntExist:       "DOESNT_EXIST",
}

// AllStates lists every state in declaration order.
func AllStates() []ActivityState {
	out := make([]ActivityState, len(stateNames))
	for i := range stateNames {
		out[i] = ActivityState(i)
	}
	return out
}

// String returns the upper-case state name.
func (s ActivityState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("ActivityState(%d)", int(s))
	}
	return stateNames[s]
}

// ParseActivityState parses a state name, case-insensitively.
func ParseActivityState(name string) (ActivityState, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for i, n := range stateNames {
		if n == upper {
			return ActivityState(i), nil
		}
	}
	return StateUnknown, fmt.Errorf("unknown activity state %q", name)
}

// MarshalText encodes the state as its name.
func (s ActivityState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *ActivityState) UnmarshalText(b []byte) error {
	parsed, err := ParseActivityState(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// IsRunning reports whether the hosted code is up, whether or not it is
// currently active.
func (s ActivityState) IsRunning() bool {
	switch s {
	case StateRunning, StateActive,
		StateActivateAttempt, StateActivateFailure,
		StateDeactivateAttempt, StateDeactivateFailure:
		return true
	}
	return false
}

// IsError reports whether s is a failure state that needs operator action.
func (s ActivityState) IsError() bool {
	switch s {
	case StateStartupFailure, StateActivateFailure, StateDeactivateFailure,
		StateShutdownFailure, StateCrashed, StateDeployFailure:
		return true
	}
	return false
}

// IsTransitional reports whether a lifecycle call is in progress.
func (s ActivityState) IsTransitional() bool {
	switch s {
	case StateStartupAttempt, StateActivateAttempt, StateDeactivateAttempt, StateShutdownAttempt:
		return true
	}
	return false
}
