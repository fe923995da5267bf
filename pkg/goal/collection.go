package goal

import (
	"sort"
	"sync"

	"github.com/bft-labs/livespace/pkg/alert"
	"github.com/bft-labs/livespace/pkg/log"
	"github.com/bft-labs/livespace/pkg/metrics"
)

// Observer is told about every terminal outcome, after the transitioner
// has been removed from the collection.
type Observer func(id string, status Status, err error)

type config struct {
	logger   log.Logger
	alerts   alert.Sink
	metrics  *metrics.Metrics
	observer Observer
}

// Option configures a Collection.
type Option func(*config)

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(c *config) { c.logger = log.OrNoop(l) }
}

// WithAlerts sets the sink that receives every Error outcome.
func WithAlerts(a alert.Sink) Option {
	return func(c *config) { c.alerts = alert.OrNop(a) }
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *config) { c.metrics = m }
}

// WithObserver sets a callback for terminal outcomes.
func WithObserver(o Observer) Option {
	return func(c *config) { c.observer = o }
}

// slot holds one transitioner. Its mutex serializes Transition calls for
// the same id without holding the collection lock.
type slot[S any] struct {
	mu   sync.Mutex
	t    Transitioner[S]
	done bool
}

// Collection owns the in-flight transitioners keyed by entity id. A
// transitioner is present exactly until it returns Done or Error.
type Collection[S any] struct {
	mu    sync.Mutex
	slots map[string]*slot[S]
	cfg   config
}

// NewCollection creates an empty collection.
func NewCollection[S any](opts ...Option) *Collection[S] {
	cfg := config{
		logger: log.NewNoopLogger(),
		alerts: alert.Nop{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Collection[S]{
		slots: make(map[string]*slot[S]),
		cfg:   cfg,
	}
}

// Add registers t for id, discarding any transitioner already there.
func (c *Collection[S]) Add(id string, t Transitioner[S]) {
	c.mu.Lock()
	_, replaced := c.slots[id]
	c.slots[id] = &slot[S]{t: t}
	c.mu.Unlock()

	if replaced {
		c.cfg.logger.Info("goal superseded", log.Activity(id))
	}
}

// Contains reports whether a transitioner is registered for id.
func (c *Collection[S]) Contains(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.slots[id]
	return ok
}

// Transition runs one step of the transitioner for id. It is a no-op
// returning (Working, false) when nothing is registered. A Done or Error
// result removes the transitioner, unless it was superseded meanwhile.
func (c *Collection[S]) Transition(id string, observed S) (Status, bool) {
	c.mu.Lock()
	s, ok := c.slots[id]
	c.mu.Unlock()
	if !ok {
		return Working, false
	}

	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return Working, false
	}
	status := s.t.Transition(observed)
	if status.Terminal() {
		s.done = true
	}
	s.mu.Unlock()

	if !status.Terminal() {
		return status, true
	}

	c.mu.Lock()
	if c.slots[id] == s {
		delete(c.slots, id)
	}
	c.mu.Unlock()

	c.finish(id, status, ErrOf(s.t))
	return status, true
}

func (c *Collection[S]) finish(id string, status Status, err error) {
	c.cfg.metrics.GoalOutcome(status.String())
	if status == Error {
		c.cfg.logger.Error("goal unreachable", log.Activity(id), log.Err(err))
		c.cfg.alerts.Report(alert.SeverityError, id, "goal unreachable", err)
	} else {
		c.cfg.logger.Debug("goal reached", log.Activity(id))
	}
	if c.cfg.observer != nil {
		c.cfg.observer(id, status, err)
	}
}

// Remove drops the transitioner for id without running it.
func (c *Collection[S]) Remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.slots[id]
	delete(c.slots, id)
	return ok
}

// IDs returns a sorted point-in-time copy of the registered ids.
func (c *Collection[S]) IDs() []string {
	c.mu.Lock()
	ids := make([]string, 0, len(c.slots))
	for id := range c.slots {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered transitioners.
func (c *Collection[S]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.slots)
}

// Clear drops every transitioner.
func (c *Collection[S]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slots = make(map[string]*slot[S])
}
