package node

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/livespace/internal/domain"
	"github.com/bft-labs/livespace/internal/ports"
	"github.com/bft-labs/livespace/pkg/alert"
	"github.com/bft-labs/livespace/pkg/install"
	"github.com/bft-labs/livespace/pkg/lifecycle"
	"github.com/bft-labs/livespace/pkg/roster"
)

type stubHosted struct {
	mu         sync.Mutex
	calls      []string
	startupErr error
	healthErr  error
}

func (s *stubHosted) record(name string) {
	s.mu.Lock()
	s.calls = append(s.calls, name)
	s.mu.Unlock()
}

func (s *stubHosted) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *stubHosted) Configure(ctx context.Context, cfg map[string]string) error {
	s.record("configure")
	return nil
}

func (s *stubHosted) Startup(ctx context.Context) error {
	s.record("startup")
	return s.startupErr
}

func (s *stubHosted) Activate(ctx context.Context) error   { s.record("activate"); return nil }
func (s *stubHosted) Deactivate(ctx context.Context) error { s.record("deactivate"); return nil }
func (s *stubHosted) Shutdown(ctx context.Context) error   { s.record("shutdown"); return nil }

func (s *stubHosted) CheckHealth(ctx context.Context) error { return s.healthErr }

type stubFactory struct {
	mu     sync.Mutex
	hosted map[string]*stubHosted
	// prepare customises new hosted code before it is returned.
	prepare func(uuid string, h *stubHosted)
}

func (f *stubFactory) New(rec roster.InstalledLiveActivity) (lifecycle.Hosted, error) {
	if rec.Type == "unsupported" {
		return nil, domain.ErrUnknownActivityType
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	h := &stubHosted{}
	if f.prepare != nil {
		f.prepare(rec.UUID, h)
	}
	if f.hosted == nil {
		f.hosted = make(map[string]*stubHosted)
	}
	f.hosted[rec.UUID] = h
	return h, nil
}

func (f *stubFactory) get(uuid string) *stubHosted {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hosted[uuid]
}

type recordingMaster struct {
	mu      sync.Mutex
	reports []domain.StatusReport
}

func (m *recordingMaster) Register(ctx context.Context, id domain.NodeIdentity) error { return nil }

func (m *recordingMaster) Report(ctx context.Context, r domain.StatusReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, r)
	return nil
}

func (m *recordingMaster) find(kind domain.ReportKind, uuid string) []domain.StatusReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.StatusReport
	for _, r := range m.reports {
		if r.Kind == kind && r.ActivityUUID == uuid {
			out = append(out, r)
		}
	}
	return out
}

func (m *recordingMaster) statuses(uuid string) []domain.ActivityStatus {
	var out []domain.ActivityStatus
	for _, r := range m.find(domain.ReportActivity, uuid) {
		out = append(out, r.Status)
	}
	return out
}

var _ ports.MasterLink = (*recordingMaster)(nil)

type harness struct {
	ctrl      *Controller
	repo      *roster.MemoryRepository
	factory   *stubFactory
	master    *recordingMaster
	alerts    *alert.Recorder
	artifacts string
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	root := t.TempDir()
	artifacts := filepath.Join(root, "artifacts")
	require.NoError(t, os.MkdirAll(artifacts, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(artifacts, "demo.tar"), tarball(t), 0o644))

	repo := roster.NewMemoryRepository()
	h := &harness{
		repo:      repo,
		factory:   &stubFactory{},
		master:    &recordingMaster{},
		alerts:    &alert.Recorder{},
		artifacts: artifacts,
	}
	cfg := Config{
		Identity: domain.NodeIdentity{
			UUID:   "3f1b2c4d-5e6f-4a7b-8c9d-0e1f2a3b4c5d",
			Name:   "test-node",
			HostID: "host-1",
		},
		Installer: install.NewManager(install.Config{
			StagingDir:   filepath.Join(root, "staging"),
			InstalledDir: filepath.Join(root, "installed"),
			Source:       install.FileSource{Root: artifacts},
			Repository:   repo,
		}),
		Repository:      repo,
		Hosted:          h.factory,
		Master:          h.master,
		Alerts:          h.alerts,
		DriverInterval:  20 * time.Millisecond,
		SampleInterval:  -1,
		ReporterBackOff: func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) },
	}
	if mutate != nil {
		mutate(&cfg)
	}
	ctrl, err := New(cfg)
	require.NoError(t, err)
	h.ctrl = ctrl
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.ctrl.Startup(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.ctrl.Shutdown(ctx)
	})
}

func tarball(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	body := []byte("#!/bin/sh\n")
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "run.sh", Mode: 0o755, Size: int64(len(body)), Typeflag: tar.TypeReg}))
	_, err := tw.Write(body)
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func deployCommand(uuid string) domain.Command {
	return domain.Command{
		Kind:         domain.CommandDeploy,
		ActivityUUID: uuid,
		Deploy: &domain.DeploySpec{
			IdentifyingName: "demo",
			Version:         "1.0",
			ArtifactURI:     "demo.tar",
		},
	}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 3*time.Second, 5*time.Millisecond, msg)
}

func (h *harness) state(uuid string) lifecycle.ActivityState {
	s, _ := h.ctrl.State(uuid)
	return s
}

func TestController_DeployThenStartup(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	ctx := context.Background()

	require.NoError(t, h.ctrl.HandleCommand(ctx, deployCommand("A1")))
	assert.Equal(t, lifecycle.StateReady, h.state("A1"))

	rec, err := h.repo.Get(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateReady, rec.LastActivityState)

	require.NoError(t, h.ctrl.HandleCommand(ctx, domain.Command{Kind: domain.CommandStartup, ActivityUUID: "A1"}))
	eventually(t, func() bool { return !h.ctrl.HasGoal("A1") }, "startup goal never finished")
	assert.Equal(t, lifecycle.StateRunning, h.state("A1"))

	rec, err = h.repo.Get(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateRunning, rec.LastActivityState)

	eventually(t, func() bool { return len(h.master.statuses("A1")) == 3 }, "status reports missing")
	assert.Equal(t, []domain.ActivityStatus{domain.StatusReady, domain.StatusStartupAttempt, domain.StatusRunning}, h.master.statuses("A1"))
	deploys := h.master.find(domain.ReportDeploy, "A1")
	require.Len(t, deploys, 1)
	assert.Equal(t, domain.OutcomeSuccess, deploys[0].Outcome)
	assert.Equal(t, []string{"configure", "startup"}, h.factory.get("A1").Calls())
}

func TestController_ActivateAndShutdown(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.HandleCommand(ctx, deployCommand("A1")))

	require.NoError(t, h.ctrl.HandleCommand(ctx, domain.Command{Kind: domain.CommandActivate, ActivityUUID: "A1"}))
	eventually(t, func() bool { return h.state("A1") == lifecycle.StateActive && !h.ctrl.HasGoal("A1") }, "never became active")

	require.NoError(t, h.ctrl.HandleCommand(ctx, domain.Command{Kind: domain.CommandShutdown, ActivityUUID: "A1"}))
	eventually(t, func() bool { return h.state("A1") == lifecycle.StateReady && !h.ctrl.HasGoal("A1") }, "never shut down")
	assert.Equal(t, []string{"configure", "startup", "activate", "shutdown"}, h.factory.get("A1").Calls())
}

func TestController_StartupFailureEndsGoalWithError(t *testing.T) {
	h := newHarness(t, nil)
	h.factory.prepare = func(uuid string, s *stubHosted) { s.startupErr = errors.New("no display") }
	h.start(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.HandleCommand(ctx, deployCommand("A1")))

	require.NoError(t, h.ctrl.RequestGoal(ctx, "A1", lifecycle.StateRunning))
	eventually(t, func() bool { return !h.ctrl.HasGoal("A1") }, "goal never ended")
	assert.Equal(t, lifecycle.StateStartupFailure, h.state("A1"))

	rec, err := h.repo.Get(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateStartupFailure, rec.LastActivityState)

	var goalAlerts int
	for _, a := range h.alerts.Alerts() {
		if a.ActivityID == "A1" && a.Severity == alert.SeverityError {
			goalAlerts++
		}
	}
	assert.GreaterOrEqual(t, goalAlerts, 2, "expected both the lifecycle failure and the goal error to be alerted")
}

func TestController_DeleteRunningActivity(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.HandleCommand(ctx, deployCommand("A1")))
	require.NoError(t, h.ctrl.RequestGoal(ctx, "A1", lifecycle.StateRunning))
	eventually(t, func() bool { return h.state("A1") == lifecycle.StateRunning }, "never started")

	require.NoError(t, h.ctrl.HandleCommand(ctx, domain.Command{Kind: domain.CommandDelete, ActivityUUID: "A1"}))

	_, ok := h.ctrl.State("A1")
	assert.False(t, ok)
	_, err := h.repo.Get(ctx, "A1")
	assert.ErrorIs(t, err, roster.ErrNotFound)

	eventually(t, func() bool { return len(h.master.find(domain.ReportDelete, "A1")) == 1 }, "delete not reported")
	assert.Equal(t, domain.OutcomeSuccess, h.master.find(domain.ReportDelete, "A1")[0].Outcome)
	eventually(t, func() bool {
		st := h.master.statuses("A1")
		return len(st) > 0 && st[len(st)-1] == domain.StatusDoesntExist
	}, "DOESNT_EXIST not reported")

	require.NoError(t, h.ctrl.HandleCommand(ctx, domain.Command{Kind: domain.CommandDelete, ActivityUUID: "B2"}))
	eventually(t, func() bool { return len(h.master.find(domain.ReportDelete, "B2")) == 1 }, "second delete not reported")
	assert.Equal(t, domain.OutcomeDoesntExist, h.master.find(domain.ReportDelete, "B2")[0].Outcome)
}

func TestController_DeployFailureReported(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	cmd := deployCommand("A1")
	cmd.Deploy.ArtifactURI = "missing.tar"

	err := h.ctrl.HandleCommand(context.Background(), cmd)
	require.Error(t, err)
	_, ok := h.ctrl.State("A1")
	assert.False(t, ok)
	eventually(t, func() bool { return len(h.master.find(domain.ReportDeploy, "A1")) == 1 }, "deploy failure not reported")
	assert.Equal(t, domain.OutcomeFailure, h.master.find(domain.ReportDeploy, "A1")[0].Outcome)
}

func TestController_RestoresAndAppliesStartupPolicy(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.repo.Put(ctx, roster.InstalledLiveActivity{
		UUID: "A1", IdentifyingName: "demo", Version: "1.0",
		InstallStatus: roster.StatusInstalled, StartupPolicy: roster.PolicyActive,
		LastActivityState: lifecycle.StateActive,
	}))
	require.NoError(t, h.repo.Put(ctx, roster.InstalledLiveActivity{
		UUID: "B2", IdentifyingName: "idle", Version: "1.0",
		InstallStatus: roster.StatusInstalled,
	}))
	require.NoError(t, h.repo.Put(ctx, roster.InstalledLiveActivity{
		UUID: "C3", IdentifyingName: "broken", Version: "1.0",
		InstallStatus: roster.StatusDeployFailed,
	}))
	h.start(t)

	eventually(t, func() bool { return h.state("A1") == lifecycle.StateActive }, "policy not applied")
	assert.Equal(t, lifecycle.StateReady, h.state("B2"))
	assert.Equal(t, lifecycle.StateDeployFailure, h.state("C3"))

	acts, err := h.ctrl.Activities(ctx)
	require.NoError(t, err)
	require.Len(t, acts, 3)
	assert.Equal(t, "A1", acts[0].Record.UUID)
}

func TestController_SampleCrashesUnhealthyActivity(t *testing.T) {
	h := newHarness(t, nil)
	h.factory.prepare = func(uuid string, s *stubHosted) { s.healthErr = errors.New("frozen") }
	h.start(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.HandleCommand(ctx, deployCommand("A1")))
	require.NoError(t, h.ctrl.RequestGoal(ctx, "A1", lifecycle.StateRunning))
	eventually(t, func() bool { return h.state("A1") == lifecycle.StateRunning }, "never started")

	h.ctrl.Sample(ctx)
	assert.Equal(t, lifecycle.StateCrashed, h.state("A1"))
}

func TestController_DeleteCrashedActivityShutsHostedCodeDown(t *testing.T) {
	h := newHarness(t, nil)
	h.factory.prepare = func(uuid string, s *stubHosted) { s.healthErr = errors.New("frozen") }
	h.start(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.HandleCommand(ctx, deployCommand("A1")))
	require.NoError(t, h.ctrl.RequestGoal(ctx, "A1", lifecycle.StateRunning))
	eventually(t, func() bool { return h.state("A1") == lifecycle.StateRunning }, "never started")
	h.ctrl.Sample(ctx)
	require.Equal(t, lifecycle.StateCrashed, h.state("A1"))

	require.NoError(t, h.ctrl.HandleCommand(ctx, domain.Command{Kind: domain.CommandDelete, ActivityUUID: "A1"}))
	assert.Equal(t, []string{"configure", "startup", "shutdown"}, h.factory.get("A1").Calls())
}

func TestController_ShutdownAllAndStartupAll(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	ctx := context.Background()
	for _, id := range []string{"A1", "B2"} {
		require.NoError(t, h.ctrl.HandleCommand(ctx, deployCommand(id)))
	}

	h.ctrl.StartupAll(ctx)
	eventually(t, func() bool {
		return h.state("A1") == lifecycle.StateRunning && h.state("B2") == lifecycle.StateRunning
	}, "startup all did not start everything")

	require.NoError(t, h.ctrl.HandleCommand(ctx, domain.Command{Kind: domain.CommandShutdownAll}))
	assert.Equal(t, lifecycle.StateReady, h.state("A1"))
	assert.Equal(t, lifecycle.StateReady, h.state("B2"))
}

func TestController_StatusCommandSendsFullReports(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.HandleCommand(ctx, deployCommand("A1")))
	require.NoError(t, h.ctrl.HandleCommand(ctx, domain.Command{Kind: domain.CommandStatus}))

	eventually(t, func() bool { return len(h.master.find(domain.ReportFull, "A1")) == 1 }, "no full status")
	assert.Equal(t, domain.StatusReady, h.master.find(domain.ReportFull, "A1")[0].Status)
}

func TestController_UnknownActivity(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	err := h.ctrl.HandleCommand(context.Background(), domain.Command{Kind: domain.CommandStartup, ActivityUUID: "nope"})
	assert.ErrorIs(t, err, domain.ErrUnknownActivity)
}

func TestNew_RejectsIncompleteConfig(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}
