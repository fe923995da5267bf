package goal

import (
	"context"
	"sync"
	"time"

	"github.com/bft-labs/livespace/pkg/log"
)

// Observe returns the current observed state of an entity. ok is false
// when the entity is unknown; the driver then skips it.
type Observe[S any] func(id string) (state S, ok bool)

// Driver periodically re-invokes Transition for every outstanding goal.
// It implements resource.Managed.
type Driver[S any] struct {
	coll     *Collection[S]
	observe  Observe[S]
	interval time.Duration
	logger   log.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDriver creates a driver ticking every interval.
func NewDriver[S any](coll *Collection[S], observe Observe[S], interval time.Duration, logger log.Logger) *Driver[S] {
	if interval <= 0 {
		interval = time.Second
	}
	return &Driver[S]{
		coll:     coll,
		observe:  observe,
		interval: interval,
		logger:   log.OrNoop(logger).With(log.Component("goal-driver")),
	}
}

// Name identifies the driver in resource logs.
func (d *Driver[S]) Name() string { return "goal-driver" }

// Tick runs one reconciliation pass over a snapshot of the outstanding ids.
func (d *Driver[S]) Tick() {
	for _, id := range d.coll.IDs() {
		state, ok := d.observe(id)
		if !ok {
			continue
		}
		d.coll.Transition(id, state)
	}
}

// Startup starts the background loop.
func (d *Driver[S]) Startup(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				d.Tick()
			}
		}
	}()
	d.logger.Debug("goal driver started", log.Duration("interval", d.interval))
	return nil
}

// Shutdown stops the loop and waits for an in-progress tick.
func (d *Driver[S]) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
