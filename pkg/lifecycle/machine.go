package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/looplab/fsm"

	"github.com/bft-labs/livespace/pkg/log"
	"github.com/bft-labs/livespace/pkg/metrics"
)

// Event drives the state machine.
type Event string

const (
	EventConfigure        Event = "configure"
	EventDeployFailed     Event = "deploy_failed"
	EventStartup          Event = "startup"
	EventStartupDone      Event = "startup_done"
	EventStartupFailed    Event = "startup_failed"
	EventActivate         Event = "activate"
	EventActivateDone     Event = "activate_done"
	EventActivateFailed   Event = "activate_failed"
	EventDeactivate       Event = "deactivate"
	EventDeactivateDone   Event = "deactivate_done"
	EventDeactivateFailed Event = "deactivate_failed"
	EventShutdown         Event = "shutdown"
	EventShutdownDone     Event = "shutdown_done"
	EventShutdownFailed   Event = "shutdown_failed"
	EventCrash            Event = "crash"
	EventRemove           Event = "remove"
)

// EventEmitter is told about every confirmed transition, in order. It is
// called with the machine's transition lock held and must not fire
// events on the same machine.
type EventEmitter interface {
	OnStateChange(uuid string, previous, current ActivityState, reason string)
}

// EmitterFunc adapts a function to EventEmitter.
type EmitterFunc func(uuid string, previous, current ActivityState, reason string)

// OnStateChange calls f.
func (f EmitterFunc) OnStateChange(uuid string, previous, current ActivityState, reason string) {
	f(uuid, previous, current, reason)
}

func names(states ...ActivityState) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = s.String()
	}
	return out
}

// everyStateExcept lists all states other than the given ones.
func everyStateExcept(skip ...ActivityState) []ActivityState {
	var out []ActivityState
next:
	for _, s := range AllStates() {
		for _, k := range skip {
			if s == k {
				continue next
			}
		}
		out = append(out, s)
	}
	return out
}

func transitions() fsm.Events {
	ev := func(e Event, dst ActivityState, src ...ActivityState) fsm.EventDesc {
		return fsm.EventDesc{Name: string(e), Src: names(src...), Dst: dst.String()}
	}
	return fsm.Events{
		ev(EventConfigure, StateReady, StateUnknown, StateReady, StateDeployFailure),
		ev(EventDeployFailed, StateDeployFailure, StateUnknown, StateReady),

		ev(EventStartup, StateStartupAttempt, StateReady, StateStartupFailure, StateCrashed),
		ev(EventStartupDone, StateRunning, StateStartupAttempt),
		ev(EventStartupFailed, StateStartupFailure, StateStartupAttempt),

		ev(EventActivate, StateActivateAttempt, StateRunning, StateActivateFailure),
		ev(EventActivateDone, StateActive, StateActivateAttempt),
		ev(EventActivateFailed, StateActivateFailure, StateActivateAttempt),

		ev(EventDeactivate, StateDeactivateAttempt, StateActive, StateActivateFailure, StateDeactivateFailure),
		ev(EventDeactivateDone, StateRunning, StateDeactivateAttempt),
		ev(EventDeactivateFailed, StateDeactivateFailure, StateDeactivateAttempt),

		ev(EventShutdown, StateShutdownAttempt,
			StateRunning, StateActive, StateStartupFailure, StateActivateFailure,
			StateDeactivateFailure, StateShutdownFailure, StateCrashed),
		ev(EventShutdownDone, StateReady, StateShutdownAttempt),
		ev(EventShutdownFailed, StateShutdownFailure, StateShutdownAttempt),

		ev(EventCrash, StateCrashed, everyStateExcept(StateCrashed, StateDoesntExist)...),
		ev(EventRemove, StateDoesntExist, StateUnknown, StateReady, StateDeployFailure),
	}
}

// Machine is the lifecycle state machine of one activity.
type Machine struct {
	uuid    string
	fsm     *fsm.FSM
	emitter EventEmitter
	logger  log.Logger
	metrics *metrics.Metrics

	// mu orders transitions and their emission.
	mu sync.Mutex
}

// MachineOption configures a Machine.
type MachineOption func(*Machine)

// WithEmitter sets the transition listener.
func WithEmitter(e EventEmitter) MachineOption {
	return func(m *Machine) { m.emitter = e }
}

// WithMachineLogger sets the logger.
func WithMachineLogger(l log.Logger) MachineOption {
	return func(m *Machine) { m.logger = log.OrNoop(l) }
}

// WithMachineMetrics counts confirmed transitions.
func WithMachineMetrics(mt *metrics.Metrics) MachineOption {
	return func(m *Machine) { m.metrics = mt }
}

// NewMachine creates a machine for uuid starting in initial.
func NewMachine(uuid string, initial ActivityState, opts ...MachineOption) *Machine {
	m := &Machine{
		uuid:   uuid,
		logger: log.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.fsm = fsm.NewFSM(initial.String(), transitions(), fsm.Callbacks{})
	return m
}

// UUID returns the activity uuid.
func (m *Machine) UUID() string { return m.uuid }

// State returns the current state. It does not take the transition lock,
// so emitters may call it.
func (m *Machine) State() ActivityState {
	s, err := ParseActivityState(m.fsm.Current())
	if err != nil {
		return StateUnknown
	}
	return s
}

// Can reports whether e is allowed from the current state.
func (m *Machine) Can(e Event) bool {
	return m.fsm.Can(string(e))
}

// Fire applies e. Firing an event that leaves the state unchanged is not
// an error and emits nothing. An event not allowed from the current
// state returns an error wrapping ErrIllegalState.
func (m *Machine) Fire(ctx context.Context, e Event, reason string) (ActivityState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.State()
	if err := m.fsm.Event(ctx, string(e)); err != nil {
		var noTransition fsm.NoTransitionError
		if errors.As(err, &noTransition) {
			return prev, nil
		}
		return prev, fmt.Errorf("%w: %s from %v", ErrIllegalState, e, prev)
	}
	cur := m.State()
	m.confirm(prev, cur, reason)
	return cur, nil
}

// Reset forces the machine into state, bypassing the transition graph.
// It is used when restoring a persisted state.
func (m *Machine) Reset(state ActivityState, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.State()
	if prev == state {
		return
	}
	m.fsm.SetState(state.String())
	m.confirm(prev, state, reason)
}

func (m *Machine) confirm(prev, cur ActivityState, reason string) {
	m.metrics.Transition(cur.String())
	m.logger.Info("activity state changed",
		log.Activity(m.uuid),
		log.String("from", prev.String()),
		log.String("to", cur.String()),
		log.String("reason", reason),
	)
	if m.emitter != nil {
		m.emitter.OnStateChange(m.uuid, prev, cur, reason)
	}
}
