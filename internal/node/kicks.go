package node

import (
	"context"
	"sync"

	"github.com/bft-labs/livespace/pkg/goal"
	"github.com/bft-labs/livespace/pkg/lifecycle"
)

type kick struct {
	uuid  string
	state lifecycle.ActivityState
}

// kickQueue feeds confirmed states to the goal collection from a single
// goroutine. State changes are emitted with a runner's machine locked, and
// a transitioner may call back into that runner, so the emitter must not
// call the collection directly.
type kickQueue struct {
	goals *goal.Collection[lifecycle.ActivityState]

	mu    sync.Mutex
	items []kick
	wake  chan struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

func newKickQueue(goals *goal.Collection[lifecycle.ActivityState]) *kickQueue {
	return &kickQueue{goals: goals, wake: make(chan struct{}, 1)}
}

func (q *kickQueue) Name() string { return "goal-kicks" }

func (q *kickQueue) push(uuid string, state lifecycle.ActivityState) {
	q.mu.Lock()
	q.items = append(q.items, kick{uuid: uuid, state: state})
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *kickQueue) take() []kick {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

func (q *kickQueue) Startup(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.done = make(chan struct{})
	go func() {
		defer close(q.done)
		for {
			for _, k := range q.take() {
				q.goals.Transition(k.uuid, k.state)
			}
			select {
			case <-runCtx.Done():
				return
			case <-q.wake:
			}
		}
	}()
	return nil
}

func (q *kickQueue) Shutdown(ctx context.Context) error {
	if q.cancel == nil {
		return nil
	}
	q.cancel()
	select {
	case <-q.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
