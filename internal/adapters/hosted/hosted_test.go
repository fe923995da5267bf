package hosted

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/livespace/internal/domain"
	"github.com/bft-labs/livespace/pkg/lifecycle"
	"github.com/bft-labs/livespace/pkg/roster"
)

func TestRegistry_SelectsByType(t *testing.T) {
	lib := NewLibrary()
	lib.Add("demo", func(rec roster.InstalledLiveActivity) lifecycle.Hosted { return &Funcs{} })
	r := NewDefaultRegistry(NativeConfig{}, lib)
	assert.Equal(t, []string{TypeInProcess, TypeNative}, r.Types())

	tests := []struct {
		name    string
		rec     roster.InstalledLiveActivity
		want    interface{}
		wantErr error
	}{
		{"in-process", roster.InstalledLiveActivity{UUID: "A1", Type: TypeInProcess, IdentifyingName: "demo"}, &Funcs{}, nil},
		{"untyped is native", roster.InstalledLiveActivity{UUID: "A2", Executable: "run.sh", BaseInstallPath: "/opt/a2"}, &Native{}, nil},
		{"unknown type", roster.InstalledLiveActivity{UUID: "A3", Type: "python"}, nil, domain.ErrUnknownActivityType},
		{"unknown in-process name", roster.InstalledLiveActivity{UUID: "A4", Type: TypeInProcess, IdentifyingName: "other"}, nil, domain.ErrUnknownActivityType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := r.New(tt.rec)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, h)
		})
	}

	_, err := r.New(roster.InstalledLiveActivity{UUID: "A5"})
	assert.Error(t, err, "native activity without an executable")
}

func TestFuncs_NilIsNoop(t *testing.T) {
	var started bool
	f := &Funcs{OnStartup: func(ctx context.Context) error { started = true; return nil }}
	ctx := context.Background()
	assert.NoError(t, f.Configure(ctx, nil))
	assert.NoError(t, f.Startup(ctx))
	assert.True(t, started)
	assert.NoError(t, f.Activate(ctx))
	assert.NoError(t, f.CheckHealth(ctx))

	boom := errors.New("boom")
	f.OnShutdown = func(ctx context.Context) error { return boom }
	assert.ErrorIs(t, f.Shutdown(ctx), boom)
}

func TestConfigEnv(t *testing.T) {
	got := configEnv(map[string]string{"port": "80", "log.level": "debug", "max-conn": "5"})
	assert.Equal(t, []string{
		"LIVESPACE_CONFIG_LOG_LEVEL=debug",
		"LIVESPACE_CONFIG_MAX_CONN=5",
		"LIVESPACE_CONFIG_PORT=80",
	}, got)
}

func script(t *testing.T, body string) roster.InstalledLiveActivity {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts")
	}
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "run.sh"), []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return roster.InstalledLiveActivity{UUID: "A1", BaseInstallPath: dir, Executable: "run.sh"}
}

func TestNative_StartupAndShutdown(t *testing.T) {
	h, err := NativeBuilder(NativeConfig{StopTimeout: 2 * time.Second})(script(t, "exec sleep 30"))
	require.NoError(t, err)
	n := h.(*Native)
	ctx := context.Background()

	failed := make(chan error, 1)
	n.SetFailureListener(func(err error) { failed <- err })

	assert.ErrorIs(t, n.CheckHealth(ctx), ErrNotStarted)
	require.NoError(t, n.Configure(ctx, map[string]string{"port": "80"}))
	require.NoError(t, n.Startup(ctx))
	assert.NoError(t, n.CheckHealth(ctx))
	assert.Error(t, n.Startup(ctx), "second startup while running")

	require.NoError(t, n.Activate(ctx))
	assert.True(t, n.Active())
	require.NoError(t, n.Shutdown(ctx))
	assert.False(t, n.Active())
	assert.Error(t, n.CheckHealth(ctx))

	select {
	case err := <-failed:
		t.Fatalf("requested shutdown reported as failure: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNative_UnexpectedExitReportsFailure(t *testing.T) {
	h, err := NativeBuilder(NativeConfig{})(script(t, "exit 3"))
	require.NoError(t, err)
	n := h.(*Native)

	failed := make(chan error, 1)
	n.SetFailureListener(func(err error) { failed <- err })
	require.NoError(t, n.Configure(context.Background(), nil))
	require.NoError(t, n.Startup(context.Background()))

	select {
	case err := <-failed:
		assert.Error(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("exit not reported")
	}
	assert.ErrorIs(t, n.CheckHealth(context.Background()), ErrNotStarted)
}

func TestNative_ConfigureNeedsExecutable(t *testing.T) {
	h, err := NativeBuilder(NativeConfig{})(roster.InstalledLiveActivity{UUID: "A1", BaseInstallPath: t.TempDir(), Executable: "missing"})
	require.NoError(t, err)
	assert.ErrorIs(t, h.Configure(context.Background(), nil), os.ErrNotExist)
}
