package livespace

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/livespace/internal/domain"
)

type recordingPlugin struct {
	mu      sync.Mutex
	calls   []string
	cfg     PluginConfig
	initErr error
}

func (p *recordingPlugin) Name() string { return "recording" }

func (p *recordingPlugin) Initialize(ctx context.Context, cfg PluginConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "init")
	p.cfg = cfg
	return p.initErr
}

func (p *recordingPlugin) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "shutdown")
	return nil
}

func (p *recordingPlugin) log() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

type stateLog struct {
	mu     sync.Mutex
	events []StateChangeEvent
}

func (s *stateLog) OnStateChange(e StateChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

var testNode = NodeIdentity{
	UUID:   "0b8e7f2a-3c4d-4e5f-8a9b-7c6d5e4f3a2b",
	Name:   "edge-1",
	HostID: "host-1",
}

func TestMasterAndNodeRegister(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	states := &stateLog{}
	m, err := NewMaster(MasterConfig{
		DataDir:        t.TempDir(),
		Listen:         "127.0.0.1:0",
		DriverInterval: 50 * time.Millisecond,
	}, WithEventHandler(states))
	require.NoError(t, err)
	require.NoError(t, m.Start(ctx))
	defer func() { _ = m.Stop(context.Background()) }()

	plugin := &recordingPlugin{}
	n, err := NewNode(NodeConfig{
		Identity:       testNode,
		DataDir:        t.TempDir(),
		MasterURL:      "http://" + m.Addr(),
		Listen:         "127.0.0.1:0",
		SampleInterval: -1,
		DriverInterval: 50 * time.Millisecond,
	}, WithPlugin(plugin), WithRegistry(prometheus.NewRegistry()))
	require.NoError(t, err)
	require.NoError(t, n.Start(ctx))
	assert.Equal(t, StateRunning, n.Status())
	assert.NotEmpty(t, n.Addr())

	require.Eventually(t, func() bool {
		for _, e := range m.Nodes() {
			if e.Identity.UUID == testNode.UUID {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond, "node never registered")

	require.NoError(t, n.Stop(ctx))
	assert.Equal(t, StateStopped, n.Status())
	assert.Equal(t, []string{"init", "shutdown"}, plugin.log())
	assert.Same(t, n, plugin.cfg.Node)

	require.NoError(t, m.Stop(ctx))
	states.mu.Lock()
	defer states.mu.Unlock()
	require.Len(t, states.events, 4)
	assert.Equal(t, StateStopped, states.events[0].Previous)
	assert.Equal(t, StateStopped, states.events[3].Current)
}

func TestNodeRequestShutdownEndsRun(t *testing.T) {
	n, err := NewNode(NodeConfig{
		Identity:       testNode,
		DataDir:        t.TempDir(),
		MasterURL:      "http://127.0.0.1:1",
		SampleInterval: -1,
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- n.Run(context.Background()) }()
	require.Eventually(t, func() bool { return n.Status() == StateRunning }, 2*time.Second, 5*time.Millisecond)

	n.RequestShutdown()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return")
	}
}

func TestPluginFailureCrashesNode(t *testing.T) {
	boom := errors.New("boom")
	n, err := NewNode(NodeConfig{
		Identity:       testNode,
		DataDir:        t.TempDir(),
		MasterURL:      "http://127.0.0.1:1",
		SampleInterval: -1,
	}, WithPlugin(&recordingPlugin{initErr: boom}))
	require.NoError(t, err)

	err = n.Start(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, StateCrashed, n.Status())
}

func TestNewRejectsIncompleteConfig(t *testing.T) {
	_, err := NewNode(NodeConfig{Identity: testNode, MasterURL: "http://m"})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	_, err = NewNode(NodeConfig{Identity: NodeIdentity{Name: "x"}, DataDir: t.TempDir(), MasterURL: "http://m"})
	assert.Error(t, err)

	_, err = NewMaster(MasterConfig{DataDir: t.TempDir()})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestIsVersionCompatible(t *testing.T) {
	tests := []struct {
		version, min string
		want         bool
		wantErr      bool
	}{
		{"1.0.0", "1.0.0", true, false},
		{"1.2.0", "1.1.9", true, false},
		{"1.0.0", "1.1.0", false, false},
		{"2.0.0", "1.9.9", true, false},
		{"junk", "1.0.0", false, true},
	}
	for _, tt := range tests {
		got, err := isVersionCompatible(tt.version, tt.min)
		if (err != nil) != tt.wantErr {
			t.Errorf("isVersionCompatible(%q, %q) error = %v", tt.version, tt.min, err)
			continue
		}
		if got != tt.want {
			t.Errorf("isVersionCompatible(%q, %q) = %v, want %v", tt.version, tt.min, got, tt.want)
		}
	}
	assert.NoError(t, validateModuleVersions())
}
