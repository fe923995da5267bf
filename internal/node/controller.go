package node

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/bft-labs/livespace/internal/domain"
	"github.com/bft-labs/livespace/internal/mastersync"
	"github.com/bft-labs/livespace/internal/ports"
	"github.com/bft-labs/livespace/pkg/alert"
	"github.com/bft-labs/livespace/pkg/goal"
	"github.com/bft-labs/livespace/pkg/install"
	"github.com/bft-labs/livespace/pkg/lifecycle"
	"github.com/bft-labs/livespace/pkg/log"
	"github.com/bft-labs/livespace/pkg/metrics"
	"github.com/bft-labs/livespace/pkg/resource"
	"github.com/bft-labs/livespace/pkg/roster"
)

// Default intervals.
const (
	DefaultDriverInterval = time.Second
	DefaultSampleInterval = 10 * time.Second
)

// Config holds the collaborators and settings of a Controller.
type Config struct {
	Identity   domain.NodeIdentity
	Installer  *install.Manager
	Repository roster.Repository
	Hosted     ports.HostedFactory
	Master     ports.MasterLink

	Logger  log.Logger
	Alerts  alert.Sink
	Metrics *metrics.Metrics

	GoalPolicy     goal.Policy
	DriverInterval time.Duration
	// SampleInterval is the health sampling period. Negative disables sampling.
	SampleInterval time.Duration
	// HeartbeatInterval is the heartbeat period. Zero disables heartbeats.
	HeartbeatInterval time.Duration
	// Schedules are "<activity uuid> <command> <cron spec>" entries.
	Schedules     []string
	GuardPolicy   lifecycle.GuardPolicy
	HealthTimeout time.Duration

	// ReporterBackOff overrides the status reporter retry schedule.
	ReporterBackOff func() backoff.BackOff
	Now             func() time.Time
}

// Controller is the node runtime. It owns one lifecycle.Runner per
// installed activity and drives them toward the goals requested by the
// master, local schedules or file control.
type Controller struct {
	cfg     Config
	logger  log.Logger
	alerts  alert.Sink
	metrics *metrics.Metrics

	reporter  *mastersync.Reporter
	goals     *goal.Collection[lifecycle.ActivityState]
	driver    *goal.Driver[lifecycle.ActivityState]
	kicks     *kickQueue
	resources *resource.Supervisor

	mu      sync.RWMutex
	runners map[string]*lifecycle.Runner
}

// New validates cfg and assembles a Controller. Nothing runs until Startup.
func New(cfg Config) (*Controller, error) {
	switch {
	case cfg.Installer == nil:
		return nil, fmt.Errorf("%w: node needs an installer", domain.ErrInvalidConfig)
	case cfg.Repository == nil:
		return nil, fmt.Errorf("%w: node needs a roster repository", domain.ErrInvalidConfig)
	case cfg.Hosted == nil:
		return nil, fmt.Errorf("%w: node needs a hosted activity factory", domain.ErrInvalidConfig)
	case cfg.Master == nil:
		return nil, fmt.Errorf("%w: node needs a master link", domain.ErrInvalidConfig)
	}
	if err := cfg.Identity.Validate(); err != nil {
		return nil, err
	}
	if cfg.GoalPolicy == (goal.Policy{}) {
		cfg.GoalPolicy = goal.DefaultPolicy
	}
	if cfg.DriverInterval <= 0 {
		cfg.DriverInterval = DefaultDriverInterval
	}
	if cfg.SampleInterval == 0 {
		cfg.SampleInterval = DefaultSampleInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	logger := log.OrNoop(cfg.Logger).With(log.Component("node"))
	c := &Controller{
		cfg:     cfg,
		logger:  logger,
		alerts:  alert.OrNop(cfg.Alerts),
		metrics: cfg.Metrics,
		runners: make(map[string]*lifecycle.Runner),
	}

	reporterOpts := []mastersync.ReporterOption{
		mastersync.WithLogger(cfg.Logger),
		mastersync.WithAlerts(cfg.Alerts),
		mastersync.WithMetrics(cfg.Metrics),
		mastersync.WithClock(cfg.Now),
	}
	if cfg.ReporterBackOff != nil {
		reporterOpts = append(reporterOpts, mastersync.WithBackOff(cfg.ReporterBackOff))
	}
	c.reporter = mastersync.NewReporter(cfg.Master, cfg.Identity, reporterOpts...)

	c.goals = goal.NewCollection[lifecycle.ActivityState](
		goal.WithLogger(logger),
		goal.WithAlerts(cfg.Alerts),
		goal.WithMetrics(cfg.Metrics),
		goal.WithObserver(c.goalFinished),
	)
	c.driver = goal.NewDriver(c.goals, c.observe, cfg.DriverInterval, cfg.Logger)
	c.kicks = newKickQueue(c.goals)

	sched, err := newScheduler(c, cfg.Schedules, cfg.HeartbeatInterval, logger)
	if err != nil {
		return nil, err
	}

	c.resources = resource.NewSupervisor(
		resource.WithLogger(cfg.Logger),
		resource.WithAlerts(cfg.Alerts),
		resource.WithMetrics(cfg.Metrics),
		resource.WithOwner("node"),
	)
	if m, ok := cfg.Repository.(resource.Managed); ok {
		c.resources.Add(m)
	}
	c.resources.Add(cfg.Installer)
	c.resources.Add(c.reporter)
	c.resources.Add(c.kicks)
	c.resources.Add(c.driver)
	if cfg.SampleInterval > 0 {
		c.resources.Add(newSampler(c, cfg.SampleInterval))
	}
	c.resources.Add(sched)
	return c, nil
}

// Name implements resource.Named.
func (c *Controller) Name() string { return "node-controller" }

// Identity returns the node identity.
func (c *Controller) Identity() domain.NodeIdentity { return c.cfg.Identity }

// Reporter returns the status reporter.
func (c *Controller) Reporter() *mastersync.Reporter { return c.reporter }

// Startup starts the node's components, restores installed activities
// from the roster and applies their startup policies.
func (c *Controller) Startup(ctx context.Context) error {
	if err := c.resources.StartupResources(ctx); err != nil {
		return err
	}
	if err := c.restore(ctx); err != nil {
		c.resources.ShutdownResources(ctx)
		return err
	}
	c.logger.Info("node started",
		log.Node(c.cfg.Identity.UUID),
		log.String("name", c.cfg.Identity.Name),
		log.Int("activities", c.count()))
	return nil
}

// Shutdown shuts every activity down, then stops the node's components
// in reverse order.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.ShutdownAll(ctx)

	c.mu.Lock()
	runners := c.runners
	c.runners = make(map[string]*lifecycle.Runner)
	c.mu.Unlock()
	for _, r := range runners {
		r.Close()
	}

	c.resources.ShutdownResources(ctx)
	c.logger.Info("node stopped")
	return nil
}

func (c *Controller) restore(ctx context.Context) error {
	records, err := c.cfg.Repository.List(ctx)
	if err != nil {
		return fmt.Errorf("load roster: %w", err)
	}

	var configure []*lifecycle.Runner
	var recs []roster.InstalledLiveActivity
	for _, rec := range records {
		initial := lifecycle.StateUnknown
		if rec.InstallStatus == roster.StatusDeployFailed {
			initial = lifecycle.StateDeployFailure
		}
		r, err := c.newRunner(rec, initial)
		if err != nil {
			c.logger.Error("cannot host installed activity", log.Activity(rec.UUID), log.Err(err))
			c.alerts.Report(alert.SeverityError, rec.UUID, "cannot host installed activity", err)
			continue
		}
		c.put(r)
		if initial == lifecycle.StateUnknown {
			configure = append(configure, r)
			recs = append(recs, rec)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range configure {
		r, rec := configure[i], recs[i]
		g.Go(func() error {
			if res := r.Configure(gctx, rec.Configuration); res.Failed() {
				c.logger.Warn("restored activity failed to configure", log.Activity(rec.UUID), log.String("reason", res.Reason()))
				return nil
			}
			if target := rec.StartupPolicy.Goal(); target != lifecycle.StateReady {
				return c.RequestGoal(gctx, rec.UUID, target)
			}
			return nil
		})
	}
	return g.Wait()
}

func (c *Controller) newRunner(rec roster.InstalledLiveActivity, initial lifecycle.ActivityState) (*lifecycle.Runner, error) {
	hosted, err := c.cfg.Hosted.New(rec)
	if err != nil {
		return nil, err
	}
	return lifecycle.NewRunner(hosted, lifecycle.RunnerConfig{
		UUID:          rec.UUID,
		Initial:       initial,
		Emitter:       lifecycle.EmitterFunc(c.onStateChange),
		Logger:        c.cfg.Logger,
		Alerts:        c.cfg.Alerts,
		Metrics:       c.cfg.Metrics,
		GuardPolicy:   c.cfg.GuardPolicy,
		HealthTimeout: c.cfg.HealthTimeout,
	}), nil
}

// onStateChange is the emitter of every runner. It runs with the
// runner's state machine locked, so it only records and queues.
func (c *Controller) onStateChange(uuid string, previous, current lifecycle.ActivityState, reason string) {
	now := c.cfg.Now()
	_, err := c.cfg.Repository.Update(context.Background(), uuid, func(rec *roster.InstalledLiveActivity) error {
		rec.LastActivityState = current
		rec.LastStateAt = now
		return nil
	})
	if err != nil && !errors.Is(err, roster.ErrNotFound) {
		c.logger.Error("failed to record activity state", log.Activity(uuid), log.String("state", current.String()), log.Err(err))
	}

	c.reporter.OnStateChange(uuid, previous, current, reason)
	c.kicks.push(uuid, current)
}

func (c *Controller) goalFinished(id string, status goal.Status, err error) {
	if status == goal.Error {
		c.logger.Warn("goal abandoned", log.Activity(id), log.Err(err))
		return
	}
	c.logger.Info("goal reached", log.Activity(id))
}

func (c *Controller) observe(id string) (lifecycle.ActivityState, bool) {
	r, ok := c.runner(id)
	if !ok {
		return lifecycle.StateUnknown, false
	}
	return r.State(), true
}

// RequestGoal asks for activity uuid to be driven to target. Any goal
// already in progress for it is discarded.
func (c *Controller) RequestGoal(ctx context.Context, uuid string, target lifecycle.ActivityState) error {
	plan, err := lifecycle.PlanFor(target)
	if err != nil {
		return err
	}
	return c.pursue(uuid, plan)
}

func (c *Controller) pursue(uuid string, plan []lifecycle.Transition) error {
	r, ok := c.runner(uuid)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownActivity, uuid)
	}
	t := lifecycle.NewTransitioner(r, plan...)
	c.goals.Add(uuid, goal.Bound[lifecycle.ActivityState](t, c.cfg.GoalPolicy, c.cfg.Now))
	c.kicks.push(uuid, r.State())
	c.logger.Info("goal requested", log.Activity(uuid), log.String("plan", t.String()))
	return nil
}

// HasGoal reports whether a goal is still being pursued for uuid.
func (c *Controller) HasGoal(uuid string) bool { return c.goals.Contains(uuid) }

// State returns the lifecycle state of an activity.
func (c *Controller) State(uuid string) (lifecycle.ActivityState, bool) {
	return c.observe(uuid)
}

// Activity pairs a roster record with the live state of its runner.
type Activity struct {
	Record roster.InstalledLiveActivity `json:"record"`
	State  lifecycle.ActivityState      `json:"state"`
}

// Activities lists installed activities sorted by uuid.
func (c *Controller) Activities(ctx context.Context) ([]Activity, error) {
	records, err := c.cfg.Repository.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Activity, 0, len(records))
	for _, rec := range records {
		state := rec.LastActivityState
		if r, ok := c.runner(rec.UUID); ok {
			state = r.State()
		}
		out = append(out, Activity{Record: rec, State: state})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Record.UUID < out[j].Record.UUID })
	return out, nil
}

// ShutdownAll shuts down every running activity and releases what
// crashed ones still hold, in parallel. Failures are logged and alerted
// by the runners.
func (c *Controller) ShutdownAll(ctx context.Context) {
	var g errgroup.Group
	for _, r := range c.snapshot() {
		r := r
		if !r.State().IsRunning() {
			g.Go(func() error {
				if err := r.Release(ctx); err != nil {
					c.logger.Warn("activity did not release cleanly", log.Activity(r.UUID()), log.Err(err))
				}
				return nil
			})
			continue
		}
		c.goals.Remove(r.UUID())
		g.Go(func() error {
			r.Shutdown(ctx)
			return nil
		})
	}
	_ = g.Wait()
}

// StartupAll requests RUNNING for every activity that is not running.
func (c *Controller) StartupAll(ctx context.Context) {
	for _, r := range c.snapshot() {
		if r.State().IsRunning() || r.State() == lifecycle.StateDeployFailure {
			continue
		}
		if err := c.pursue(r.UUID(), []lifecycle.Transition{lifecycle.TransitionStartup}); err != nil {
			c.logger.Warn("startup request failed", log.Activity(r.UUID()), log.Err(err))
		}
	}
}

// ReportStatus queues the current state of every activity for the master.
func (c *Controller) ReportStatus() {
	for _, r := range c.snapshot() {
		c.reporter.Enqueue(domain.StatusReport{
			Kind:         domain.ReportFull,
			ActivityUUID: r.UUID(),
			Status:       mastersync.ToStatus(r.State()),
		})
	}
}

func (c *Controller) runner(uuid string) (*lifecycle.Runner, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.runners[uuid]
	return r, ok
}

func (c *Controller) put(r *lifecycle.Runner) {
	c.mu.Lock()
	c.runners[r.UUID()] = r
	c.mu.Unlock()
}

func (c *Controller) drop(uuid string) *lifecycle.Runner {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.runners[uuid]
	delete(c.runners, uuid)
	return r
}

// snapshot returns the runners sorted by uuid.
func (c *Controller) snapshot() []*lifecycle.Runner {
	c.mu.RLock()
	out := make([]*lifecycle.Runner, 0, len(c.runners))
	for _, r := range c.runners {
		out = append(out, r)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UUID() < out[j].UUID() })
	return out
}

func (c *Controller) count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.runners)
}
