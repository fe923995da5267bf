package mastersync

import (
	"github.com/bft-labs/livespace/internal/domain"
	"github.com/bft-labs/livespace/pkg/lifecycle"
)

var toStatus = map[lifecycle.ActivityState]domain.ActivityStatus{
	lifecycle.StateUnknown:           domain.StatusUnknown,
	lifecycle.StateReady:             domain.StatusReady,
	lifecycle.StateStartupAttempt:    domain.StatusStartupAttempt,
	lifecycle.StateRunning:           domain.StatusRunning,
	lifecycle.StateActivateAttempt:   domain.StatusActivateAttempt,
	lifecycle.StateActive:            domain.StatusActive,
	lifecycle.StateDeactivateAttempt: domain.StatusDeactivateAttempt,
	lifecycle.StateShutdownAttempt:   domain.StatusShutdownAttempt,
	lifecycle.StateStartupFailure:    domain.StatusStartupFailure,
	lifecycle.StateActivateFailure:   domain.StatusActivateFailure,
	lifecycle.StateDeactivateFailure: domain.StatusDeactivateFailure,
	lifecycle.StateShutdownFailure:   domain.StatusShutdownFailure,
	lifecycle.StateCrashed:           domain.StatusCrash,
	lifecycle.StateDeployFailure:     domain.StatusDeployFailure,
	lifecycle.StateDoesntExist:       domain.StatusDoesntExist,
}

var fromStatus = func() map[domain.ActivityStatus]lifecycle.ActivityState {
	m := make(map[domain.ActivityStatus]lifecycle.ActivityState, len(toStatus))
	for s, st := range toStatus {
		m[st] = s
	}
	return m
}()

// ToStatus maps a lifecycle state to its transport value.
func ToStatus(s lifecycle.ActivityState) domain.ActivityStatus {
	if st, ok := toStatus[s]; ok {
		return st
	}
	return domain.StatusUnknown
}

// FromStatus maps a transport value back to a lifecycle state. Values it
// does not recognise map to UNKNOWN.
func FromStatus(st domain.ActivityStatus) lifecycle.ActivityState {
	if s, ok := fromStatus[st]; ok {
		return s
	}
	return lifecycle.StateUnknown
}
