package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/bft-labs/livespace/pkg/log"
	"github.com/bft-labs/livespace/pkg/metrics"
)

// GuardPolicy selects what Enter does while another call is in flight.
type GuardPolicy int

const (
	// PolicyBlock waits until the in-flight call exits.
	PolicyBlock GuardPolicy = iota
	// PolicyFailFast returns ErrInvocationInFlight immediately.
	PolicyFailFast
)

// Invocation identifies one in-flight lifecycle call. It is returned by
// Enter and must be passed back to Exit.
type Invocation struct {
	id      uint64
	method  string
	started time.Time
	ctx     context.Context
	cancel  context.CancelFunc
}

// Method returns the lifecycle method name.
func (i *Invocation) Method() string { return i.method }

// Started returns when the call entered the guard.
func (i *Invocation) Started() time.Time { return i.started }

// Context is cancelled when the call exits or CancelCurrent is called.
func (i *Invocation) Context() context.Context { return i.ctx }

// InFlight describes the current call for diagnostics.
type InFlight struct {
	Method  string
	Started time.Time
	Elapsed time.Duration
}

// Guard serializes lifecycle calls on one activity. At most one
// Invocation is outstanding at any time.
type Guard struct {
	sem     chan struct{}
	policy  GuardPolicy
	now     func() time.Time
	logger  log.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	current *Invocation
	nextID  uint64
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithPolicy sets the contention policy.
func WithPolicy(p GuardPolicy) GuardOption {
	return func(g *Guard) { g.policy = p }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) GuardOption {
	return func(g *Guard) { g.now = now }
}

// WithGuardLogger sets the logger.
func WithGuardLogger(l log.Logger) GuardOption {
	return func(g *Guard) { g.logger = log.OrNoop(l) }
}

// WithGuardMetrics records call durations.
func WithGuardMetrics(m *metrics.Metrics) GuardOption {
	return func(g *Guard) { g.metrics = m }
}

// NewGuard creates a guard. The default policy blocks.
func NewGuard(opts ...GuardOption) *Guard {
	g := &Guard{
		sem:    make(chan struct{}, 1),
		now:    time.Now,
		logger: log.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Enter waits for the guard according to its policy and returns a new
// token. A blocking Enter gives up when ctx is done.
func (g *Guard) Enter(ctx context.Context, method string) (*Invocation, error) {
	if g.policy == PolicyFailFast {
		return g.TryEnter(ctx, method)
	}
	select {
	case g.sem <- struct{}{}:
		return g.issue(ctx, method), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryEnter returns ErrInvocationInFlight instead of waiting, whatever
// the policy.
func (g *Guard) TryEnter(ctx context.Context, method string) (*Invocation, error) {
	select {
	case g.sem <- struct{}{}:
		return g.issue(ctx, method), nil
	default:
		return nil, ErrInvocationInFlight
	}
}

func (g *Guard) issue(ctx context.Context, method string) *Invocation {
	callCtx, cancel := context.WithCancel(ctx)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	inv := &Invocation{
		id:      g.nextID,
		method:  method,
		started: g.now(),
		ctx:     callCtx,
		cancel:  cancel,
	}
	g.current = inv
	return inv
}

// Exit clears the outstanding token and returns the call's duration.
func (g *Guard) Exit(inv *Invocation) (time.Duration, error) {
	g.mu.Lock()
	if inv == nil || g.current != inv {
		g.mu.Unlock()
		return 0, ErrUnknownInvocation
	}
	g.current = nil
	g.mu.Unlock()

	inv.cancel()
	elapsed := g.now().Sub(inv.started)
	<-g.sem

	g.metrics.LifecycleCall(inv.method, elapsed)
	g.logger.Debug("lifecycle call finished",
		log.String("method", inv.method),
		log.Duration("elapsed", elapsed),
	)
	return elapsed, nil
}

// Current describes the in-flight call, if any.
func (g *Guard) Current() (InFlight, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current == nil {
		return InFlight{}, false
	}
	return InFlight{
		Method:  g.current.method,
		Started: g.current.started,
		Elapsed: g.now().Sub(g.current.started),
	}, true
}

// CancelCurrent cancels the in-flight call's context. Hosted code that
// ignores its context keeps running; the guard stays held until Exit.
func (g *Guard) CancelCurrent() bool {
	g.mu.Lock()
	inv := g.current
	g.mu.Unlock()
	if inv == nil {
		return false
	}
	inv.cancel()
	return true
}

// Call runs fn with the invocation's context, converting an error or a
// panic into a failed Result.
func (g *Guard) Call(inv *Invocation, fn func(ctx context.Context) error) Result {
	err := capture(func() error { return fn(inv.ctx) })
	if err == nil {
		return OK()
	}
	if pe, ok := err.(*PanicError); ok {
		g.logger.Error("hosted code panicked",
			log.String("method", inv.method),
			log.Any("panic", pe.Value),
			log.String("stack", string(pe.Stack)),
		)
	}
	return Fail(inv.method+": "+err.Error(), err)
}

// Run enters the guard, calls fn and exits.
func (g *Guard) Run(ctx context.Context, method string, fn func(ctx context.Context) error) Result {
	inv, err := g.Enter(ctx, method)
	if err != nil {
		return Fail(method+": "+err.Error(), err)
	}
	defer g.Exit(inv)
	return g.Call(inv, fn)
}
