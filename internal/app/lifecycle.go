package app

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/bft-labs/livespace/internal/domain"
	"github.com/bft-labs/livespace/pkg/log"
)

// ShutdownTimeout bounds how long Stop waits for the serve loop.
const ShutdownTimeout = 30 * time.Second

// State is the process-level state of a master or node service. It is
// unrelated to the activity states in pkg/lifecycle.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateCrashed
)

var stateNames = [...]string{
	StateStopped:  "Stopped",
	StateStarting: "Starting",
	StateRunning:  "Running",
	StateStopping: "Stopping",
	StateCrashed:  "Crashed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}

// next lists the states each state may move to.
var next = map[State][]State{
	StateStopped:  {StateStarting},
	StateStarting: {StateRunning, StateStopping, StateCrashed},
	StateRunning:  {StateStopping, StateCrashed},
	StateStopping: {StateStopped, StateCrashed},
	StateCrashed:  {StateStarting},
}

// EventEmitter observes process state changes.
type EventEmitter interface {
	OnStateChange(previous, current State, reason string)
}

// Lifecycle holds a service's process state, the cancel func of its Run
// context and the goroutines Stop has to wait for.
type Lifecycle struct {
	mu      sync.RWMutex
	state   State
	cancel  context.CancelFunc
	workers sync.WaitGroup
	logger  log.Logger
	emitter EventEmitter
}

func NewLifecycle(logger log.Logger, emitter EventEmitter) *Lifecycle {
	return &Lifecycle{logger: log.OrNoop(logger), emitter: emitter}
}

func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// TransitionTo moves to to. A move outside the graph changes nothing and
// returns ErrNotRunning from an idle state, ErrAlreadyRunning otherwise.
func (l *Lifecycle) TransitionTo(to State, reason string) error {
	l.mu.Lock()
	from := l.state
	if !slices.Contains(next[from], to) {
		l.mu.Unlock()
		if idle(from) {
			return domain.ErrNotRunning
		}
		return domain.ErrAlreadyRunning
	}
	l.state = to
	l.mu.Unlock()

	if l.emitter != nil {
		l.emitter.OnStateChange(from, to, reason)
	}
	l.logger.Info("service state changed",
		log.String("from", from.String()),
		log.String("to", to.String()),
		log.String("reason", reason),
	)
	return nil
}

func idle(s State) bool { return s == StateStopped || s == StateCrashed }

func (l *Lifecycle) CanStart() bool { return idle(l.State()) }

func (l *Lifecycle) CanStop() bool {
	s := l.State()
	return s == StateStarting || s == StateRunning
}

// SetCancel records the func Cancel calls.
func (l *Lifecycle) SetCancel(cancel context.CancelFunc) {
	l.mu.Lock()
	l.cancel = cancel
	l.mu.Unlock()
}

// Cancel ends a pending Run. It is a no-op before SetCancel.
func (l *Lifecycle) Cancel() {
	l.mu.RLock()
	cancel := l.cancel
	l.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// Go runs fn on a tracked goroutine.
func (l *Lifecycle) Go(fn func()) {
	l.workers.Add(1)
	go func() {
		defer l.workers.Done()
		fn()
	}()
}

// WaitWithTimeout waits for every goroutine started with Go.
func (l *Lifecycle) WaitWithTimeout(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		l.workers.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		l.logger.Warn("workers still running after shutdown timeout", log.Duration("timeout", timeout))
		return domain.ErrShutdownTimeout
	}
}
