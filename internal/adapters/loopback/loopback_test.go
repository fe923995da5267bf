package loopback_test

import (
	"archive/tar"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/livespace/internal/adapters/loopback"
	"github.com/bft-labs/livespace/internal/domain"
	"github.com/bft-labs/livespace/internal/master"
	"github.com/bft-labs/livespace/internal/node"
	"github.com/bft-labs/livespace/internal/ports"
	"github.com/bft-labs/livespace/pkg/alert"
	"github.com/bft-labs/livespace/pkg/install"
	"github.com/bft-labs/livespace/pkg/lifecycle"
	"github.com/bft-labs/livespace/pkg/roster"
)

// gatedHosted blocks Startup until release is closed.
type gatedHosted struct {
	release chan struct{}
}

func (g *gatedHosted) Configure(ctx context.Context, cfg map[string]string) error { return nil }
func (g *gatedHosted) Startup(ctx context.Context) error {
	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
func (g *gatedHosted) Activate(ctx context.Context) error   { return nil }
func (g *gatedHosted) Deactivate(ctx context.Context) error { return nil }
func (g *gatedHosted) Shutdown(ctx context.Context) error   { return nil }

func demoArchive(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	body := []byte("demo")
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "demo.txt", Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}))
	_, err := tw.Write(body)
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

type cluster struct {
	master  *master.Master
	node    *node.Controller
	records *roster.MemoryRepository
	alerts  *alert.Recorder
	release chan struct{}
}

func newCluster(t *testing.T) *cluster {
	t.Helper()
	root := t.TempDir()
	artifacts := filepath.Join(root, "artifacts")
	require.NoError(t, os.MkdirAll(artifacts, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(artifacts, "demo.tar"), demoArchive(t), 0o644))

	c := &cluster{
		records: roster.NewMemoryRepository(),
		alerts:  &alert.Recorder{},
		release: make(chan struct{}),
	}
	hub := loopback.NewHub()
	fast := func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }

	m, err := master.New(master.Config{
		Repository:      c.records,
		Nodes:           hub,
		Alerts:          c.alerts,
		DriverInterval:  10 * time.Millisecond,
		DispatchBackOff: func() backoff.BackOff { return backoff.WithMaxRetries(fast(), 50) },
	})
	require.NoError(t, err)
	c.master = m

	nodeRepo := roster.NewMemoryRepository()
	n, err := node.New(node.Config{
		Identity: domain.NodeIdentity{UUID: "0c7e5a52-3d4b-4f7a-9e21-6b8d9c0a1f2e", Name: "node-1", HostID: "host-1"},
		Installer: install.NewManager(install.Config{
			StagingDir:   filepath.Join(root, "staging"),
			InstalledDir: filepath.Join(root, "installed"),
			Source:       install.FileSource{Root: artifacts},
			Repository:   nodeRepo,
		}),
		Repository: nodeRepo,
		Hosted: ports.HostedFactoryFunc(func(rec roster.InstalledLiveActivity) (lifecycle.Hosted, error) {
			return &gatedHosted{release: c.release}, nil
		}),
		Master:          loopback.NewMasterLink(m),
		Alerts:          c.alerts,
		DriverInterval:  10 * time.Millisecond,
		SampleInterval:  -1,
		ReporterBackOff: fast,
	})
	require.NoError(t, err)
	c.node = n
	detach := hub.Attach(n.Identity().UUID, n)

	ctx := context.Background()
	require.NoError(t, m.Startup(ctx))
	require.NoError(t, n.Startup(ctx))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		select {
		case <-c.release:
		default:
			close(c.release)
		}
		_ = n.Shutdown(ctx)
		detach()
		_ = m.Shutdown(ctx)
	})
	require.Eventually(t, func() bool { return m.Fleet().Len() == 1 }, 2*time.Second, 2*time.Millisecond)
	return c
}

func (c *cluster) lastState(t *testing.T, uuid string) lifecycle.ActivityState {
	t.Helper()
	rec, err := c.master.Activity(context.Background(), uuid)
	if err != nil {
		return lifecycle.StateDoesntExist
	}
	return rec.LastActivityState
}

func TestInstallThenRunningConfirmedByNode(t *testing.T) {
	c := newCluster(t)
	ctx := context.Background()
	nodeUUID := c.node.Identity().UUID

	_, err := c.master.Deploy(ctx, nodeUUID, "A1", domain.DeploySpec{
		IdentifyingName: "demo",
		Version:         "1.0",
		ArtifactURI:     "demo.tar",
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return !c.master.HasGoal("A1") }, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, lifecycle.StateReady, c.lastState(t, "A1"))

	rec, err := c.master.Activity(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, "demo", rec.IdentifyingName)
	assert.Equal(t, "1.0", rec.Version)

	require.NoError(t, c.master.RequestGoal(ctx, "A1", lifecycle.StateRunning))

	// Startup is held open on the node: the goal keeps working and the
	// master has not seen RUNNING.
	require.Eventually(t, func() bool { return c.lastState(t, "A1") == lifecycle.StateStartupAttempt }, 3*time.Second, 5*time.Millisecond)
	assert.True(t, c.master.HasGoal("A1"))
	time.Sleep(30 * time.Millisecond)
	assert.True(t, c.master.HasGoal("A1"))
	assert.Equal(t, lifecycle.StateStartupAttempt, c.lastState(t, "A1"))

	close(c.release)
	require.Eventually(t, func() bool { return !c.master.HasGoal("A1") }, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, lifecycle.StateRunning, c.lastState(t, "A1"))
	state, _ := c.node.State("A1")
	assert.Equal(t, lifecycle.StateRunning, state)
	assert.Equal(t, 0, c.alerts.Len())
}

func TestDeleteThroughMaster(t *testing.T) {
	c := newCluster(t)
	ctx := context.Background()
	close(c.release)

	_, err := c.master.Deploy(ctx, c.node.Identity().UUID, "A1", domain.DeploySpec{
		IdentifyingName: "demo",
		Version:         "1.0",
		ArtifactURI:     "demo.tar",
		StartupPolicy:   "running",
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return !c.master.HasGoal("A1") }, 3*time.Second, 5*time.Millisecond)

	require.NoError(t, c.master.RequestGoal(ctx, "A1", lifecycle.StateRunning))
	require.Eventually(t, func() bool { return c.lastState(t, "A1") == lifecycle.StateRunning && !c.master.HasGoal("A1") }, 3*time.Second, 5*time.Millisecond)

	require.NoError(t, c.master.Delete(ctx, "A1"))
	require.Eventually(t, func() bool { return !c.master.HasGoal("A1") }, 3*time.Second, 5*time.Millisecond)
	_, err = c.master.Activity(ctx, "A1")
	assert.ErrorIs(t, err, domain.ErrUnknownActivity)
	_, ok := c.node.State("A1")
	assert.False(t, ok)
}

func TestHubRejectsRefusedCommands(t *testing.T) {
	hub := loopback.NewHub()
	target := domain.NodeIdentity{UUID: "n1"}
	cmd := domain.Command{Kind: domain.CommandStartup, ActivityUUID: "A1"}

	err := hub.Send(context.Background(), target, cmd)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrRejected)

	detach := hub.Attach("n1", handlerFunc(func(ctx context.Context, cmd domain.Command) error {
		return domain.ErrUnknownActivity
	}))
	err = hub.Send(context.Background(), target, cmd)
	assert.ErrorIs(t, err, domain.ErrRejected)
	assert.ErrorIs(t, err, domain.ErrUnknownActivity)

	detach()
	assert.NotErrorIs(t, hub.Send(context.Background(), target, cmd), domain.ErrRejected)
}

func TestHubStaleDetachKeepsNewerHandler(t *testing.T) {
	hub := loopback.NewHub()
	target := domain.NodeIdentity{UUID: "n1"}
	cmd := domain.Command{Kind: domain.CommandStatus}
	var hits []string

	detachOld := hub.Attach("n1", handlerFunc(func(ctx context.Context, cmd domain.Command) error {
		hits = append(hits, "old")
		return nil
	}))
	detachNew := hub.Attach("n1", handlerFunc(func(ctx context.Context, cmd domain.Command) error {
		hits = append(hits, "new")
		return nil
	}))

	detachOld()
	require.NoError(t, hub.Send(context.Background(), target, cmd))
	detachNew()
	require.Error(t, hub.Send(context.Background(), target, cmd))

	assert.Equal(t, []string{"new"}, hits)
}

type handlerFunc func(ctx context.Context, cmd domain.Command) error

func (f handlerFunc) HandleCommand(ctx context.Context, cmd domain.Command) error { return f(ctx, cmd) }
