package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bft-labs/livespace/internal/domain"
)

type recorder struct {
	mu     sync.Mutex
	events [][2]State
}

func (r *recorder) OnStateChange(previous, current State, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, [2]State{previous, current})
}

func (r *recorder) list() [][2]State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][2]State(nil), r.events...)
}

var allStates = []State{StateStopped, StateStarting, StateRunning, StateStopping, StateCrashed}

func TestState_String(t *testing.T) {
	for s, want := range map[State]string{
		StateStopped:  "Stopped",
		StateRunning:  "Running",
		StateCrashed:  "Crashed",
		State(-1):     "Unknown",
		State(42):     "Unknown",
		StateStopping: "Stopping",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}

// Every (from, to) pair is either in the graph or rejected without a
// state change.
func TestLifecycle_TransitionGraph(t *testing.T) {
	allowed := map[[2]State]bool{
		{StateStopped, StateStarting}:  true,
		{StateStarting, StateRunning}:  true,
		{StateStarting, StateStopping}: true,
		{StateStarting, StateCrashed}:  true,
		{StateRunning, StateStopping}:  true,
		{StateRunning, StateCrashed}:   true,
		{StateStopping, StateStopped}:  true,
		{StateStopping, StateCrashed}:  true,
		{StateCrashed, StateStarting}:  true,
	}

	for _, from := range allStates {
		for _, to := range allStates {
			t.Run(fmt.Sprintf("%s->%s", from, to), func(t *testing.T) {
				l := NewLifecycle(nil, nil)
				l.state = from

				err := l.TransitionTo(to, "test")

				if allowed[[2]State{from, to}] {
					if err != nil {
						t.Fatalf("TransitionTo() = %v, want nil", err)
					}
					if l.State() != to {
						t.Errorf("state = %v, want %v", l.State(), to)
					}
					return
				}
				want := domain.ErrAlreadyRunning
				if from == StateStopped || from == StateCrashed {
					want = domain.ErrNotRunning
				}
				if !errors.Is(err, want) {
					t.Errorf("TransitionTo() = %v, want %v", err, want)
				}
				if l.State() != from {
					t.Errorf("state moved to %v on a rejected transition", l.State())
				}
			})
		}
	}
}

func TestLifecycle_EmitsOnlyAcceptedChanges(t *testing.T) {
	rec := &recorder{}
	l := NewLifecycle(nil, rec)

	_ = l.TransitionTo(StateStarting, "start")
	_ = l.TransitionTo(StateRunning, "up")
	_ = l.TransitionTo(StateStopped, "skips stopping")

	got := rec.list()
	want := [][2]State{{StateStopped, StateStarting}, {StateStarting, StateRunning}}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestLifecycle_CanStartCanStop(t *testing.T) {
	for _, s := range allStates {
		l := NewLifecycle(nil, nil)
		l.state = s

		wantStart := s == StateStopped || s == StateCrashed
		wantStop := s == StateStarting || s == StateRunning
		if l.CanStart() != wantStart {
			t.Errorf("%v: CanStart() = %v", s, l.CanStart())
		}
		if l.CanStop() != wantStop {
			t.Errorf("%v: CanStop() = %v", s, l.CanStop())
		}
	}
}

func TestLifecycle_Cancel(t *testing.T) {
	l := NewLifecycle(nil, nil)
	l.Cancel()

	ctx, cancel := context.WithCancel(context.Background())
	l.SetCancel(cancel)
	if ctx.Err() != nil {
		t.Fatal("canceled before Cancel()")
	}
	l.Cancel()
	if ctx.Err() == nil {
		t.Error("Cancel() did not cancel the context")
	}
}

func TestLifecycle_WaitWithTimeout(t *testing.T) {
	t.Run("workers finish", func(t *testing.T) {
		l := NewLifecycle(nil, nil)
		l.Go(func() { time.Sleep(10 * time.Millisecond) })

		if err := l.WaitWithTimeout(time.Second); err != nil {
			t.Errorf("WaitWithTimeout() = %v, want nil", err)
		}
	})

	t.Run("worker stuck", func(t *testing.T) {
		l := NewLifecycle(nil, nil)
		release := make(chan struct{})
		l.Go(func() { <-release })
		defer close(release)

		if err := l.WaitWithTimeout(10 * time.Millisecond); !errors.Is(err, domain.ErrShutdownTimeout) {
			t.Errorf("WaitWithTimeout() = %v, want ErrShutdownTimeout", err)
		}
	})
}

func TestLifecycle_ConcurrentUse(t *testing.T) {
	l := NewLifecycle(nil, &recorder{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = l.State()
				_ = l.CanStart()
				_ = l.CanStop()
			}
		}()
		go func() {
			defer wg.Done()
			_ = l.TransitionTo(StateStarting, "race")
			_ = l.TransitionTo(StateRunning, "race")
		}()
	}
	wg.Wait()

	if l.State() != StateRunning {
		t.Errorf("state = %v, want Running", l.State())
	}
}
