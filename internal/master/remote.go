package master

import (
	"fmt"
	"sync"
	"time"

	"github.com/bft-labs/livespace/internal/domain"
	"github.com/bft-labs/livespace/pkg/goal"
	"github.com/bft-labs/livespace/pkg/lifecycle"
)

// RemoteGoal drives an activity on a node toward a target state. The
// first Transition sends its command; later calls wait for the node's
// status reports to show the target or a failure. It never blocks.
type RemoteGoal struct {
	target lifecycle.ActivityState
	cmd    domain.Command
	// force sends the command even when the target is already observed.
	force    bool
	dispatch func(domain.Command)
	failed   func(since time.Time) error
	now      func() time.Time

	mu     sync.Mutex
	sent   bool
	sentAt time.Time
	from   lifecycle.ActivityState
	moved  bool
	err    error
}

// Transition implements goal.Transitioner.
func (g *RemoteGoal) Transition(observed lifecycle.ActivityState) goal.Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.sent {
		if observed == g.target && !g.force {
			return goal.Done
		}
		g.from = observed
		g.sentAt = g.now()
		g.sent = true
		g.dispatch(g.cmd)
		return goal.Working
	}

	if observed != g.from {
		g.moved = true
	}
	// A forced goal only counts the target once the node has left the
	// state it was in when the command went out.
	if observed == g.target && (g.moved || !g.force) {
		return goal.Done
	}
	if err := g.failed(g.sentAt); err != nil {
		g.err = err
		return goal.Error
	}
	if g.moved && (observed.IsError() || observed == lifecycle.StateDoesntExist) {
		g.err = fmt.Errorf("%w: %s reached %v", goal.ErrStepFailed, g.cmd, observed)
		return goal.Error
	}
	return goal.Working
}

// Err returns the reason for an Error outcome.
func (g *RemoteGoal) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}

func (g *RemoteGoal) String() string {
	return fmt.Sprintf("%s -> %v", g.cmd, g.target)
}

// commandFor picks the command that moves an activity observed in state
// toward target.
func commandFor(target, observed lifecycle.ActivityState) (domain.CommandKind, error) {
	switch target {
	case lifecycle.StateReady:
		return domain.CommandShutdown, nil
	case lifecycle.StateRunning:
		if observed == lifecycle.StateActive || observed == lifecycle.StateActivateFailure || observed == lifecycle.StateDeactivateFailure {
			return domain.CommandDeactivate, nil
		}
		return domain.CommandStartup, nil
	case lifecycle.StateActive:
		return domain.CommandActivate, nil
	case lifecycle.StateDoesntExist:
		return domain.CommandDelete, nil
	}
	return "", fmt.Errorf("%w: %v", lifecycle.ErrUnsupportedGoal, target)
}

// reachable rejects a goal the activity cannot get to from observed
// without operator action, such as READY after a failed deploy.
func reachable(target, observed lifecycle.ActivityState) error {
	plan, err := lifecycle.PlanFor(target)
	if err != nil {
		return nil
	}
	for _, t := range plan {
		switch t.CanTransition(observed) {
		case lifecycle.ResultNoop:
			continue
		case lifecycle.ResultIllegal:
			return fmt.Errorf("%w: %v from %v", lifecycle.ErrIllegalState, target, observed)
		}
		return nil
	}
	return nil
}
