package resource

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bft-labs/livespace/pkg/alert"
	"github.com/bft-labs/livespace/pkg/log"
	"github.com/bft-labs/livespace/pkg/metrics"
)

// Managed is anything with paired startup and shutdown.
type Managed interface {
	Startup(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Named is implemented by resources that want a readable name in logs
// and alerts. Others are identified by their Go type.
type Named interface {
	Name() string
}

// NameOf returns the display name of a resource.
func NameOf(r Managed) string {
	if n, ok := r.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", r)
}

// StartupError is returned when a resource fails to start. Resources
// started before it have already been shut down.
type StartupError struct {
	Resource string
	Index    int
	Err      error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("resource %s (#%d) failed to start: %v", e.Resource, e.Index+1, e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }

// Supervisor owns an ordered set of resources. Startup runs in insertion
// order and is all-or-nothing; shutdown runs in reverse and always visits
// every started resource.
type Supervisor struct {
	mu      sync.Mutex
	entries []*entry

	logger  log.Logger
	alerts  alert.Sink
	metrics *metrics.Metrics
	owner   string
}

type entry struct {
	r       Managed
	started bool
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(s *Supervisor) { s.logger = log.OrNoop(l) }
}

// WithAlerts sets the alert sink used for rollback and shutdown failures.
func WithAlerts(a alert.Sink) Option {
	return func(s *Supervisor) { s.alerts = alert.OrNop(a) }
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Supervisor) { s.metrics = m }
}

// WithOwner names the owner (usually an activity uuid) attached to alerts.
func WithOwner(id string) Option {
	return func(s *Supervisor) { s.owner = id }
}

// NewSupervisor creates an empty supervisor.
func NewSupervisor(opts ...Option) *Supervisor {
	s := &Supervisor{
		logger: log.NewNoopLogger(),
		alerts: alert.Nop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add appends a resource that has not been started yet.
func (s *Supervisor) Add(r Managed) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, &entry{r: r})
}

// AddStarted appends a resource that the caller has already started.
// It will be shut down with the rest.
func (s *Supervisor) AddStarted(r Managed) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, &entry{r: r, started: true})
}

// Resources returns a point-in-time copy of the resources in insertion order.
func (s *Supervisor) Resources() []Managed {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Managed, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.r
	}
	return out
}

// Len returns the number of resources.
func (s *Supervisor) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Clear drops all resources without shutting them down.
func (s *Supervisor) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
}

// StartupResources starts every resource not yet started, in insertion
// order. On the first failure the resources started by this call are shut
// down in reverse order and the original error is returned as a
// *StartupError. Rollback failures are logged and alerted only.
//
// The sequence runs on the calling goroutine.
func (s *Supervisor) StartupResources(ctx context.Context) error {
	s.mu.Lock()
	var (
		pending []*entry
		pos     []int
	)
	for i, e := range s.entries {
		if !e.started {
			pending = append(pending, e)
			pos = append(pos, i)
		}
	}
	s.mu.Unlock()

	var done []*entry
	for i, e := range pending {
		if err := guarded(ctx, e.r.Startup); err != nil {
			name := NameOf(e.r)
			s.logger.Error("resource startup failed, rolling back",
				log.String("resource", name),
				log.Int("index", pos[i]),
				log.Int("rollback", len(done)),
				log.Err(err),
			)
			s.metrics.Rollback()
			for j := len(done) - 1; j >= 0; j-- {
				if serr := guarded(ctx, done[j].r.Shutdown); serr != nil {
					s.shutdownFailed(done[j].r, serr, "rollback")
				}
			}
			return &StartupError{Resource: name, Index: pos[i], Err: err}
		}
		done = append(done, e)
	}

	s.mu.Lock()
	for _, e := range done {
		e.started = true
	}
	s.mu.Unlock()
	return nil
}

// ShutdownResources shuts down every started resource in reverse
// insertion order. Individual failures are logged and alerted, and
// shutdown continues with the next resource.
func (s *Supervisor) ShutdownResources(ctx context.Context) {
	s.mu.Lock()
	var started []*entry
	for _, e := range s.entries {
		if e.started {
			started = append(started, e)
			e.started = false
		}
	}
	s.mu.Unlock()

	for i := len(started) - 1; i >= 0; i-- {
		if err := guarded(ctx, started[i].r.Shutdown); err != nil {
			s.shutdownFailed(started[i].r, err, "shutdown")
		}
	}
}

// ErrPanic wraps a panic raised by a resource's Startup or Shutdown.
var ErrPanic = errors.New("resource panicked")

func guarded(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, p)
		}
	}()
	return fn(ctx)
}

func (s *Supervisor) shutdownFailed(r Managed, err error, phase string) {
	name := NameOf(r)
	s.logger.Error("resource shutdown failed",
		log.String("resource", name),
		log.String("phase", phase),
		log.Err(err),
	)
	s.metrics.ShutdownFailure()
	s.alerts.Report(alert.SeverityError, s.owner,
		fmt.Sprintf("resource %s failed to shut down during %s", name, phase), err)
}

// Funcs adapts a pair of functions to Managed. Nil functions are no-ops.
type Funcs struct {
	Label        string
	StartupFunc  func(ctx context.Context) error
	ShutdownFunc func(ctx context.Context) error
}

// Name returns the label.
func (f *Funcs) Name() string { return f.Label }

// Startup calls StartupFunc.
func (f *Funcs) Startup(ctx context.Context) error {
	if f.StartupFunc == nil {
		return nil
	}
	return f.StartupFunc(ctx)
}

// Shutdown calls ShutdownFunc.
func (f *Funcs) Shutdown(ctx context.Context) error {
	if f.ShutdownFunc == nil {
		return nil
	}
	return f.ShutdownFunc(ctx)
}
