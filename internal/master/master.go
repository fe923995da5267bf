package master

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

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

// ErrPlacementConflict is returned when an activity is deployed to a
// node other than the one already hosting it.
var ErrPlacementConflict = errors.New("activity is hosted by another node")

// DefaultDriverInterval is how often outstanding goals are re-evaluated.
const DefaultDriverInterval = time.Second

// Config holds the collaborators and settings of a Master.
type Config struct {
	// Repository holds one record per activity, keyed by activity uuid.
	Repository roster.Repository
	Nodes      ports.NodeLink

	Logger  log.Logger
	Alerts  alert.Sink
	Metrics *metrics.Metrics

	GoalPolicy      goal.Policy
	DriverInterval  time.Duration
	DispatchBackOff func() backoff.BackOff
	Now             func() time.Time
}

type placement struct {
	node   string
	deploy *domain.DeploySpec
}

type failure struct {
	at  time.Time
	err error
}

// Master tracks the fleet and the activities it hosts, and drives
// activities toward operator goals by sending commands to nodes. It
// implements ports.StatusHandler.
type Master struct {
	cfg     Config
	logger  log.Logger
	alerts  alert.Sink
	metrics *metrics.Metrics

	fleet      *Fleet
	dispatcher *Dispatcher
	goals      *goal.Collection[lifecycle.ActivityState]
	driver     *goal.Driver[lifecycle.ActivityState]
	resources  *resource.Supervisor

	mu         sync.Mutex
	placements map[string]placement
	failures   map[string]failure
}

// New assembles a Master. Nothing runs until Startup.
func New(cfg Config) (*Master, error) {
	switch {
	case cfg.Repository == nil:
		return nil, fmt.Errorf("%w: master needs a roster repository", domain.ErrInvalidConfig)
	case cfg.Nodes == nil:
		return nil, fmt.Errorf("%w: master needs a node link", domain.ErrInvalidConfig)
	}
	if cfg.GoalPolicy == (goal.Policy{}) {
		cfg.GoalPolicy = goal.DefaultPolicy
	}
	if cfg.DriverInterval <= 0 {
		cfg.DriverInterval = DefaultDriverInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	logger := log.OrNoop(cfg.Logger).With(log.Component("master"))
	m := &Master{
		cfg:        cfg,
		logger:     logger,
		alerts:     alert.OrNop(cfg.Alerts),
		metrics:    cfg.Metrics,
		placements: make(map[string]placement),
		failures:   make(map[string]failure),
	}
	m.fleet = NewFleet(cfg.Now, logger, cfg.Metrics)
	m.dispatcher = NewDispatcher(cfg.Nodes, m.fleet, cfg.DispatchBackOff, cfg.Logger, m.dispatchFailed)
	m.goals = goal.NewCollection[lifecycle.ActivityState](
		goal.WithLogger(logger),
		goal.WithAlerts(cfg.Alerts),
		goal.WithMetrics(cfg.Metrics),
		goal.WithObserver(m.goalFinished),
	)
	m.driver = goal.NewDriver(m.goals, m.observe, cfg.DriverInterval, cfg.Logger)

	m.resources = resource.NewSupervisor(
		resource.WithLogger(cfg.Logger),
		resource.WithAlerts(cfg.Alerts),
		resource.WithMetrics(cfg.Metrics),
		resource.WithOwner("master"),
	)
	if r, ok := cfg.Repository.(resource.Managed); ok {
		m.resources.Add(r)
	}
	m.resources.Add(m.dispatcher)
	m.resources.Add(m.driver)
	return m, nil
}

// Name implements resource.Named.
func (m *Master) Name() string { return "master" }

// Startup starts the dispatcher and the goal driver.
func (m *Master) Startup(ctx context.Context) error {
	if err := m.resources.StartupResources(ctx); err != nil {
		return err
	}
	m.logger.Info("master started")
	return nil
}

// Shutdown abandons outstanding goals and stops the master's components.
func (m *Master) Shutdown(ctx context.Context) error {
	m.goals.Clear()
	m.resources.ShutdownResources(ctx)
	m.logger.Info("master stopped")
	return nil
}

// Fleet returns the node roster.
func (m *Master) Fleet() *Fleet { return m.fleet }

// Nodes lists the registered nodes.
func (m *Master) Nodes() []NodeEntry { return m.fleet.List() }

// Register accepts a node into the fleet and asks it for the state of
// every activity it hosts.
func (m *Master) Register(ctx context.Context, identity domain.NodeIdentity) error {
	if err := m.fleet.Register(identity); err != nil {
		return err
	}
	m.dispatcher.Enqueue(identity.UUID, domain.Command{ID: uuid.NewString(), Kind: domain.CommandStatus})
	return nil
}

// HandleStatus applies one status report from a node. Reports from
// unregistered nodes fail with domain.ErrNodeNotRegistered; repeated
// reports are ignored.
func (m *Master) HandleStatus(ctx context.Context, report domain.StatusReport) error {
	fresh, err := m.fleet.Accept(report)
	if err != nil {
		return err
	}
	if !fresh {
		m.logger.Debug("duplicate status report ignored",
			log.Node(report.NodeUUID),
			log.Any("seq", report.Seq))
		return nil
	}
	at := report.Timestamp
	if at.IsZero() {
		at = m.cfg.Now()
	}

	switch report.Kind {
	case domain.ReportHeartbeat:
		return nil
	case domain.ReportActivity, domain.ReportFull:
		return m.observeState(ctx, report.NodeUUID, report.ActivityUUID, mastersync.FromStatus(report.Status), at)
	case domain.ReportDeploy:
		return m.deployOutcome(ctx, report, at)
	case domain.ReportDelete:
		switch report.Outcome {
		case domain.OutcomeSuccess, domain.OutcomeDoesntExist:
			return m.observeState(ctx, report.NodeUUID, report.ActivityUUID, lifecycle.StateDoesntExist, at)
		}
		m.recordFailure(report.ActivityUUID, fmt.Errorf("delete failed on node %s: %s", report.NodeUUID, report.Detail))
		m.kick(report.ActivityUUID)
		return nil
	}
	m.logger.Warn("unknown status report kind", log.Node(report.NodeUUID), log.String("kind", string(report.Kind)))
	return nil
}

// observeState records a state confirmed by a node and advances the
// activity's goal. It is the only writer of LastActivityState.
func (m *Master) observeState(ctx context.Context, nodeUUID, activityUUID string, state lifecycle.ActivityState, at time.Time) error {
	if activityUUID == "" {
		return nil
	}
	if host, ok := m.hostOf(ctx, activityUUID); ok && host != nodeUUID {
		m.logger.Warn("status for activity from a node that does not host it",
			log.Activity(activityUUID),
			log.Node(nodeUUID),
			log.String("host", host))
		return nil
	}

	if state == lifecycle.StateDoesntExist {
		m.goals.Transition(activityUUID, state)
		if _, err := m.cfg.Repository.Delete(ctx, activityUUID); err != nil {
			return err
		}
		m.mu.Lock()
		delete(m.placements, activityUUID)
		m.mu.Unlock()
		m.logger.Info("activity removed", log.Activity(activityUUID), log.Node(nodeUUID))
		return nil
	}

	_, err := m.cfg.Repository.Update(ctx, activityUUID, func(rec *roster.InstalledLiveActivity) error {
		rec.LastActivityState = state
		rec.LastStateAt = at
		return nil
	})
	if errors.Is(err, roster.ErrNotFound) {
		rec := m.newRecord(activityUUID, nodeUUID)
		rec.LastActivityState = state
		rec.LastStateAt = at
		err = m.cfg.Repository.Put(ctx, rec)
	}
	if err != nil {
		return err
	}

	m.logger.Debug("activity state observed",
		log.Activity(activityUUID),
		log.Node(nodeUUID),
		log.String("state", state.String()))
	m.goals.Transition(activityUUID, state)
	return nil
}

func (m *Master) deployOutcome(ctx context.Context, report domain.StatusReport, at time.Time) error {
	id := report.ActivityUUID
	if report.Outcome != domain.OutcomeSuccess {
		m.recordFailure(id, fmt.Errorf("deploy failed on node %s: %s", report.NodeUUID, report.Detail))
		if err := m.upsert(ctx, id, report.NodeUUID, func(rec *roster.InstalledLiveActivity) {
			rec.InstallStatus = roster.StatusDeployFailed
			rec.LastActivityState = lifecycle.StateDeployFailure
			rec.LastStateAt = at
		}); err != nil {
			return err
		}
		m.goals.Transition(id, lifecycle.StateDeployFailure)
		return nil
	}

	// The node now holds a fresh, unconfigured instance.
	if err := m.upsert(ctx, id, report.NodeUUID, func(rec *roster.InstalledLiveActivity) {
		if report.Detail != "" {
			rec.Version = report.Detail
		}
		rec.InstallStatus = roster.StatusInstalled
		rec.LastDeployed = at
		rec.LastActivityState = lifecycle.StateUnknown
		rec.LastStateAt = at
	}); err != nil {
		return err
	}
	m.mu.Lock()
	if p, ok := m.placements[id]; ok {
		m.placements[id] = placement{node: p.node}
	}
	m.mu.Unlock()
	m.logger.Info("activity deployed", log.Activity(id), log.Node(report.NodeUUID))
	m.goals.Transition(id, lifecycle.StateUnknown)
	return nil
}

// upsert applies fn to the record for id, creating it from the pending
// placement when there is none.
func (m *Master) upsert(ctx context.Context, id, nodeUUID string, fn func(*roster.InstalledLiveActivity)) error {
	_, err := m.cfg.Repository.Update(ctx, id, func(rec *roster.InstalledLiveActivity) error {
		m.applyPlacement(rec)
		fn(rec)
		return nil
	})
	if !errors.Is(err, roster.ErrNotFound) {
		return err
	}
	rec := m.newRecord(id, nodeUUID)
	fn(&rec)
	return m.cfg.Repository.Put(ctx, rec)
}

func (m *Master) newRecord(id, nodeUUID string) roster.InstalledLiveActivity {
	rec := roster.InstalledLiveActivity{UUID: id, NodeUUID: nodeUUID, InstallStatus: roster.StatusInstalled}
	m.applyPlacement(&rec)
	return rec
}

// applyPlacement copies the pending deploy spec for rec into it.
func (m *Master) applyPlacement(rec *roster.InstalledLiveActivity) {
	m.mu.Lock()
	p, ok := m.placements[rec.UUID]
	m.mu.Unlock()
	if !ok || p.deploy == nil {
		return
	}
	spec := p.deploy
	rec.NodeUUID = p.node
	rec.IdentifyingName = spec.IdentifyingName
	rec.Version = spec.Version
	rec.ArtifactURI = spec.ArtifactURI
	rec.Digest = spec.Digest
	rec.StartupPolicy = roster.StartupPolicy(spec.StartupPolicy)
	rec.Type = spec.Type
	if spec.Configuration != nil {
		rec.Configuration = make(map[string]string, len(spec.Configuration))
		for k, v := range spec.Configuration {
			rec.Configuration[k] = v
		}
	}
}

// Deploy asks node nodeUUID to install an activity and drives it to
// READY. An empty activityUUID deploys a new activity under a fresh uuid.
// It returns the activity uuid.
func (m *Master) Deploy(ctx context.Context, nodeUUID, activityUUID string, spec domain.DeploySpec) (string, error) {
	if _, ok := m.fleet.Get(nodeUUID); !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrUnknownNode, nodeUUID)
	}
	if activityUUID == "" {
		activityUUID = uuid.NewString()
	}
	if err := validateDeploy(activityUUID, spec); err != nil {
		return "", err
	}
	if host, ok := m.hostOf(ctx, activityUUID); ok && host != nodeUUID {
		return "", fmt.Errorf("%w: %s is on node %s", ErrPlacementConflict, activityUUID, host)
	}

	spec.Configuration = cloneConfig(spec.Configuration)
	m.mu.Lock()
	m.placements[activityUUID] = placement{node: nodeUUID, deploy: &spec}
	m.mu.Unlock()

	cmd := domain.Command{ID: uuid.NewString(), Kind: domain.CommandDeploy, ActivityUUID: activityUUID, Deploy: &spec}
	m.pursue(nodeUUID, activityUUID, lifecycle.StateReady, cmd, true)
	return activityUUID, nil
}

func validateDeploy(activityUUID string, spec domain.DeploySpec) error {
	if err := install.ValidateUUID(activityUUID); err != nil {
		return err
	}
	if err := install.ValidateIdentifyingName(spec.IdentifyingName); err != nil {
		return err
	}
	if _, err := install.ValidateVersion(spec.Version); err != nil {
		return err
	}
	if spec.ArtifactURI == "" {
		return &install.ValidationError{Field: "artifact_uri", Reason: "must not be empty"}
	}
	if !roster.StartupPolicy(spec.StartupPolicy).Valid() {
		return &install.ValidationError{Field: "startup_policy", Reason: fmt.Sprintf("unknown policy %q", spec.StartupPolicy)}
	}
	return nil
}

// RequestGoal drives an activity toward target, one of READY, RUNNING,
// ACTIVE or DOESNT_EXIST. Any goal in progress for it is discarded.
func (m *Master) RequestGoal(ctx context.Context, activityUUID string, target lifecycle.ActivityState) error {
	node, ok := m.hostOf(ctx, activityUUID)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownActivity, activityUUID)
	}
	observed, known := m.observe(activityUUID)
	kind, err := commandFor(target, observed)
	if err != nil {
		return err
	}
	// A pending deploy reports DOESNT_EXIST; the goal waits behind it.
	if known && observed != lifecycle.StateDoesntExist {
		if err := reachable(target, observed); err != nil {
			return err
		}
	}
	cmd := domain.Command{ID: uuid.NewString(), Kind: kind, ActivityUUID: activityUUID}
	m.pursue(node, activityUUID, target, cmd, false)
	return nil
}

// Delete removes an activity from its node.
func (m *Master) Delete(ctx context.Context, activityUUID string) error {
	return m.RequestGoal(ctx, activityUUID, lifecycle.StateDoesntExist)
}

// Restart shuts an activity down and starts it again.
func (m *Master) Restart(ctx context.Context, activityUUID string) error {
	node, ok := m.hostOf(ctx, activityUUID)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownActivity, activityUUID)
	}
	cmd := domain.Command{ID: uuid.NewString(), Kind: domain.CommandRestart, ActivityUUID: activityUUID}
	m.pursue(node, activityUUID, lifecycle.StateRunning, cmd, true)
	return nil
}

// Configure sends new configuration values to an activity. The record is
// updated once the command has been queued; the node merges the values
// into its own copy.
func (m *Master) Configure(ctx context.Context, activityUUID string, config map[string]string) error {
	node, ok := m.hostOf(ctx, activityUUID)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownActivity, activityUUID)
	}
	config = cloneConfig(config)
	m.dispatcher.Enqueue(node, domain.Command{ID: uuid.NewString(), Kind: domain.CommandConfigure, ActivityUUID: activityUUID, Config: config})
	_, err := m.cfg.Repository.Update(ctx, activityUUID, func(rec *roster.InstalledLiveActivity) error {
		if rec.Configuration == nil {
			rec.Configuration = make(map[string]string, len(config))
		}
		for k, v := range config {
			rec.Configuration[k] = v
		}
		return nil
	})
	if errors.Is(err, roster.ErrNotFound) {
		return nil
	}
	return err
}

// RefreshStatus asks nodeUUID, or every node when it is empty, to report
// the state of all its activities.
func (m *Master) RefreshStatus(nodeUUID string) error {
	return m.broadcast(nodeUUID, domain.CommandStatus)
}

// ShutdownAll asks nodeUUID, or every node when it is empty, to shut all
// of its activities down.
func (m *Master) ShutdownAll(nodeUUID string) error {
	return m.broadcast(nodeUUID, domain.CommandShutdownAll)
}

func (m *Master) broadcast(nodeUUID string, kind domain.CommandKind) error {
	if nodeUUID != "" {
		if _, ok := m.fleet.Get(nodeUUID); !ok {
			return fmt.Errorf("%w: %s", domain.ErrUnknownNode, nodeUUID)
		}
		m.dispatcher.Enqueue(nodeUUID, domain.Command{ID: uuid.NewString(), Kind: kind})
		return nil
	}
	for _, n := range m.fleet.List() {
		m.dispatcher.Enqueue(n.Identity.UUID, domain.Command{ID: uuid.NewString(), Kind: kind})
	}
	return nil
}

// pursue replaces the activity's goal and runs its first step, which
// queues cmd for the node.
func (m *Master) pursue(nodeUUID, activityUUID string, target lifecycle.ActivityState, cmd domain.Command, force bool) {
	m.mu.Lock()
	delete(m.failures, activityUUID)
	m.mu.Unlock()

	g := &RemoteGoal{
		target:   target,
		cmd:      cmd,
		force:    force,
		dispatch: func(c domain.Command) { m.dispatcher.Enqueue(nodeUUID, c) },
		failed:   func(since time.Time) error { return m.failedSince(activityUUID, since) },
		now:      m.cfg.Now,
	}
	m.goals.Add(activityUUID, goal.Bound[lifecycle.ActivityState](g, m.cfg.GoalPolicy, m.cfg.Now))
	m.logger.Info("goal requested",
		log.Activity(activityUUID),
		log.Node(nodeUUID),
		log.String("goal", g.String()))
	m.kick(activityUUID)
}

func (m *Master) kick(activityUUID string) {
	if state, ok := m.observe(activityUUID); ok {
		m.goals.Transition(activityUUID, state)
	}
}

// HasGoal reports whether a goal is still being pursued for the activity.
func (m *Master) HasGoal(activityUUID string) bool { return m.goals.Contains(activityUUID) }

// Activity returns the record of one activity.
func (m *Master) Activity(ctx context.Context, activityUUID string) (roster.InstalledLiveActivity, error) {
	rec, err := m.cfg.Repository.Get(ctx, activityUUID)
	if errors.Is(err, roster.ErrNotFound) {
		return rec, fmt.Errorf("%w: %s", domain.ErrUnknownActivity, activityUUID)
	}
	return rec, err
}

// Activities lists every activity the master knows a state for.
func (m *Master) Activities(ctx context.Context) ([]roster.InstalledLiveActivity, error) {
	return m.cfg.Repository.List(ctx)
}

// observe returns the last confirmed state of an activity. An activity
// that is being deployed but has no record yet does not exist.
func (m *Master) observe(activityUUID string) (lifecycle.ActivityState, bool) {
	rec, err := m.cfg.Repository.Get(context.Background(), activityUUID)
	if err == nil {
		return rec.LastActivityState, true
	}
	m.mu.Lock()
	_, pending := m.placements[activityUUID]
	m.mu.Unlock()
	if pending {
		return lifecycle.StateDoesntExist, true
	}
	return lifecycle.StateUnknown, false
}

// hostOf returns the node hosting an activity.
func (m *Master) hostOf(ctx context.Context, activityUUID string) (string, bool) {
	m.mu.Lock()
	p, ok := m.placements[activityUUID]
	m.mu.Unlock()
	if ok {
		return p.node, true
	}
	rec, err := m.cfg.Repository.Get(ctx, activityUUID)
	if err != nil || rec.NodeUUID == "" {
		return "", false
	}
	return rec.NodeUUID, true
}

func (m *Master) recordFailure(activityUUID string, err error) {
	if activityUUID == "" {
		return
	}
	m.mu.Lock()
	m.failures[activityUUID] = failure{at: m.cfg.Now(), err: err}
	m.mu.Unlock()
}

func (m *Master) failedSince(activityUUID string, since time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.failures[activityUUID]
	if !ok || f.at.Before(since) {
		return nil
	}
	return f.err
}

func (m *Master) dispatchFailed(nodeUUID string, cmd domain.Command, err error) {
	m.alerts.Report(alert.SeverityError, cmd.ActivityUUID,
		fmt.Sprintf("command %s not delivered to node %s", cmd.Kind, nodeUUID), err)
	if cmd.ActivityUUID == "" {
		return
	}
	m.recordFailure(cmd.ActivityUUID, err)
	m.kick(cmd.ActivityUUID)
}

func (m *Master) goalFinished(id string, status goal.Status, err error) {
	if status == goal.Error {
		m.logger.Warn("goal abandoned", log.Activity(id), log.Err(err))
		return
	}
	m.logger.Info("goal reached", log.Activity(id))
}

func cloneConfig(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

var _ ports.StatusHandler = (*Master)(nil)
