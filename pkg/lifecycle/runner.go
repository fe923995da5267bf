package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bft-labs/livespace/pkg/alert"
	"github.com/bft-labs/livespace/pkg/log"
	"github.com/bft-labs/livespace/pkg/metrics"
	"github.com/bft-labs/livespace/pkg/resource"
)

// DefaultHealthTimeout bounds a health check.
const DefaultHealthTimeout = 5 * time.Second

// RunnerConfig holds the collaborators of a Runner.
type RunnerConfig struct {
	UUID          string
	Initial       ActivityState
	Emitter       EventEmitter
	Logger        log.Logger
	Alerts        alert.Sink
	Metrics       *metrics.Metrics
	GuardPolicy   GuardPolicy
	HealthTimeout time.Duration
}

// Runner executes the lifecycle of one hosted activity. Every lifecycle
// call goes through its Guard, and each outcome drives its Machine.
type Runner struct {
	uuid          string
	hosted        Hosted
	guard         *Guard
	machine       *Machine
	logger        log.Logger
	alerts        alert.Sink
	metrics       *metrics.Metrics
	healthTimeout time.Duration

	// async tracks requests started through Control.
	async sync.WaitGroup
	base  context.Context
	stop  context.CancelFunc

	mu        sync.Mutex
	resources *resource.Supervisor
}

// NewRunner wires hosted code to a fresh guard and state machine.
func NewRunner(hosted Hosted, cfg RunnerConfig) *Runner {
	logger := log.OrNoop(cfg.Logger).With(log.Component("runner"), log.Activity(cfg.UUID))
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = DefaultHealthTimeout
	}
	base, stop := context.WithCancel(context.Background())
	r := &Runner{
		uuid:   cfg.UUID,
		hosted: hosted,
		guard: NewGuard(
			WithPolicy(cfg.GuardPolicy),
			WithGuardLogger(logger),
			WithGuardMetrics(cfg.Metrics),
		),
		machine: NewMachine(cfg.UUID, cfg.Initial,
			WithEmitter(cfg.Emitter),
			WithMachineLogger(logger),
			WithMachineMetrics(cfg.Metrics),
		),
		logger:        logger,
		alerts:        alert.OrNop(cfg.Alerts),
		metrics:       cfg.Metrics,
		healthTimeout: cfg.HealthTimeout,
		base:          base,
		stop:          stop,
	}
	if fr, ok := hosted.(FailureReporter); ok {
		fr.SetFailureListener(r.ReportFailure)
	}
	return r
}

// UUID returns the activity uuid.
func (r *Runner) UUID() string { return r.uuid }

// State returns the current lifecycle state.
func (r *Runner) State() ActivityState { return r.machine.State() }

// Guard returns the runner's execution guard.
func (r *Runner) Guard() *Guard { return r.guard }

// Machine returns the runner's state machine.
func (r *Runner) Machine() *Machine { return r.machine }

type call struct {
	method  string
	attempt Event
	done    Event
	failed  Event
	body    func(ctx context.Context) error
}

// invoke runs one lifecycle call: enter the guard, fire the attempt
// event, run the body and fire done or failed from the result.
func (r *Runner) invoke(ctx context.Context, c call) Result {
	inv, err := r.guard.Enter(ctx, c.method)
	if err != nil {
		return Fail(c.method+": "+err.Error(), err)
	}
	defer r.guard.Exit(inv)

	if _, err := r.machine.Fire(inv.Context(), c.attempt, c.method); err != nil {
		r.logger.Warn("lifecycle call rejected", log.String("method", c.method), log.Err(err))
		return Fail(err.Error(), err)
	}

	res := r.guard.Call(inv, c.body)
	next := c.done
	if res.Failed() {
		next = c.failed
		r.logger.Error("lifecycle call failed", log.String("method", c.method), log.String("reason", res.Reason()))
		r.alerts.Report(alert.SeverityError, r.uuid, c.method+" failed", res.Err())
	}
	if _, err := r.machine.Fire(context.Background(), next, res.Reason()); err != nil {
		// A crash reported while the call ran wins over its outcome.
		r.logger.Warn("lifecycle outcome not applied", log.String("method", c.method), log.Err(err))
	}
	return res
}

// Configure applies configuration. Before startup it moves the activity
// to READY, or to DEPLOY_FAILURE when the hosted code rejects it. A
// running activity is reconfigured in place.
func (r *Runner) Configure(ctx context.Context, config map[string]string) Result {
	inv, err := r.guard.Enter(ctx, "configure")
	if err != nil {
		return Fail("configure: "+err.Error(), err)
	}
	defer r.guard.Exit(inv)

	running := r.machine.State().IsRunning()
	if !running && !r.machine.Can(EventConfigure) {
		err := fmt.Errorf("%w: configure from %v", ErrIllegalState, r.machine.State())
		return Fail(err.Error(), err)
	}

	res := r.guard.Call(inv, func(ctx context.Context) error {
		return r.hosted.Configure(ctx, config)
	})
	if res.Failed() {
		r.alerts.Report(alert.SeverityError, r.uuid, "configure failed", res.Err())
	}
	if running {
		return res
	}

	next := EventConfigure
	if res.Failed() {
		next = EventDeployFailed
	}
	if _, err := r.machine.Fire(context.Background(), next, res.Reason()); err != nil {
		r.logger.Warn("configure outcome not applied", log.Err(err))
	}
	return res
}

// Startup starts the activity's resources and then the hosted code. If
// the hosted code fails, the resources are rolled back.
func (r *Runner) Startup(ctx context.Context) Result {
	return r.invoke(ctx, call{
		method:  "startup",
		attempt: EventStartup,
		done:    EventStartupDone,
		failed:  EventStartupFailed,
		body:    r.startup,
	})
}

func (r *Runner) startup(ctx context.Context) error {
	if err := r.release(ctx); err != nil {
		r.logger.Warn("previous run did not shut down cleanly", log.Err(err))
	}

	sup := resource.NewSupervisor(
		resource.WithLogger(r.logger),
		resource.WithAlerts(r.alerts),
		resource.WithMetrics(r.metrics),
		resource.WithOwner(r.uuid),
	)
	if rp, ok := r.hosted.(ResourceProvider); ok {
		for _, m := range rp.Resources() {
			sup.Add(m)
		}
	}
	if err := sup.StartupResources(ctx); err != nil {
		return err
	}
	if err := capture(func() error { return r.hosted.Startup(ctx) }); err != nil {
		sup.ShutdownResources(ctx)
		return err
	}

	r.mu.Lock()
	r.resources = sup
	r.mu.Unlock()
	return nil
}

// Activate activates a running activity.
func (r *Runner) Activate(ctx context.Context) Result {
	return r.invoke(ctx, call{
		method:  "activate",
		attempt: EventActivate,
		done:    EventActivateDone,
		failed:  EventActivateFailed,
		body:    r.hosted.Activate,
	})
}

// Deactivate deactivates an active activity.
func (r *Runner) Deactivate(ctx context.Context) Result {
	return r.invoke(ctx, call{
		method:  "deactivate",
		attempt: EventDeactivate,
		done:    EventDeactivateDone,
		failed:  EventDeactivateFailed,
		body:    r.hosted.Deactivate,
	})
}

// Shutdown shuts the hosted code down and then its resources. Resources
// are shut down even when the hosted code fails.
func (r *Runner) Shutdown(ctx context.Context) Result {
	return r.invoke(ctx, call{
		method:  "shutdown",
		attempt: EventShutdown,
		done:    EventShutdownDone,
		failed:  EventShutdownFailed,
		body:    r.shutdown,
	})
}

func (r *Runner) shutdown(ctx context.Context) error {
	err := capture(func() error { return r.hosted.Shutdown(ctx) })

	r.mu.Lock()
	sup := r.resources
	r.resources = nil
	r.mu.Unlock()
	if sup != nil {
		sup.ShutdownResources(ctx)
	}
	return err
}

// release shuts down hosted code and resources still held from a run
// that ended without a shutdown call, such as a crash. It is a no-op when
// nothing is held.
func (r *Runner) release(ctx context.Context) error {
	r.mu.Lock()
	sup := r.resources
	r.resources = nil
	r.mu.Unlock()
	if sup == nil {
		return nil
	}
	err := capture(func() error { return r.hosted.Shutdown(ctx) })
	sup.ShutdownResources(ctx)
	return err
}

// Release shuts down whatever a crashed or failed run left behind
// without changing the lifecycle state.
func (r *Runner) Release(ctx context.Context) error {
	inv, err := r.guard.Enter(ctx, "release")
	if err != nil {
		return err
	}
	defer r.guard.Exit(inv)
	return r.release(inv.Context())
}

// CheckState samples the health of a running activity. An unhealthy or
// unresponsive activity is moved to CRASHED. The check is skipped while
// another lifecycle call holds the guard.
func (r *Runner) CheckState(ctx context.Context) ActivityState {
	state := r.machine.State()
	hc, ok := r.hosted.(HealthChecker)
	if !ok || (state != StateRunning && state != StateActive) {
		return state
	}

	inv, err := r.guard.TryEnter(ctx, "checkState")
	if err != nil {
		return state
	}
	defer r.guard.Exit(inv)

	hctx, cancel := context.WithTimeout(inv.Context(), r.healthTimeout)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		errc <- capture(func() error { return hc.CheckHealth(hctx) })
	}()

	select {
	case err = <-errc:
		if err != nil {
			err = fmt.Errorf("%w: %v", ErrUnhealthy, err)
		}
	case <-hctx.Done():
		err = ErrHealthTimeout
	}
	if err == nil {
		return state
	}

	r.crash(err)
	return r.machine.State()
}

// ReportFailure is the asynchronous failure callback handed to hosted code.
func (r *Runner) ReportFailure(err error) {
	if err == nil {
		err = ErrUnhealthy
	}
	r.crash(err)
}

func (r *Runner) crash(err error) {
	if !r.machine.Can(EventCrash) {
		return
	}
	if _, ferr := r.machine.Fire(context.Background(), EventCrash, err.Error()); ferr != nil {
		return
	}
	r.logger.Error("activity crashed", log.Err(err))
	r.alerts.Report(alert.SeverityCritical, r.uuid, "activity crashed", err)
}

// Remove moves the activity to DOESNT_EXIST. It must not be running.
func (r *Runner) Remove(ctx context.Context) error {
	inv, err := r.guard.Enter(ctx, "remove")
	if err != nil {
		return err
	}
	defer r.guard.Exit(inv)
	_, err = r.machine.Fire(inv.Context(), EventRemove, "removed")
	return err
}

// RequestStartup starts Startup in the background. A runner in
// SHUTDOWN_FAILURE gets one more shutdown attempt first.
func (r *Runner) RequestStartup() error {
	return r.background("startup", func(ctx context.Context) {
		if r.machine.State() == StateShutdownFailure {
			if res := r.Shutdown(ctx); res.Failed() {
				return
			}
		}
		r.Startup(ctx)
	})
}

// RequestActivate starts Activate in the background.
func (r *Runner) RequestActivate() error {
	return r.background("activate", func(ctx context.Context) { r.Activate(ctx) })
}

// RequestDeactivate starts Deactivate in the background.
func (r *Runner) RequestDeactivate() error {
	return r.background("deactivate", func(ctx context.Context) { r.Deactivate(ctx) })
}

// RequestShutdown starts Shutdown in the background.
func (r *Runner) RequestShutdown() error {
	return r.background("shutdown", func(ctx context.Context) { r.Shutdown(ctx) })
}

func (r *Runner) background(method string, fn func(ctx context.Context)) error {
	if err := r.base.Err(); err != nil {
		return fmt.Errorf("runner closed: %w", err)
	}
	r.async.Add(1)
	go func() {
		defer r.async.Done()
		fn(r.base)
	}()
	r.logger.Debug("lifecycle request queued", log.String("method", method))
	return nil
}

// Close cancels pending background requests and waits for running ones.
func (r *Runner) Close() {
	r.stop()
	r.async.Wait()
}
