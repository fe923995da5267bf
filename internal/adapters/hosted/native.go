package hosted

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bft-labs/livespace/pkg/lifecycle"
	"github.com/bft-labs/livespace/pkg/log"
	"github.com/bft-labs/livespace/pkg/roster"
)

// ErrNotStarted is returned by health checks on a process that is not running.
var ErrNotStarted = errors.New("process not running")

// NativeConfig configures native process activities.
type NativeConfig struct {
	// StopTimeout is how long a process gets to exit after an interrupt
	// before it is killed.
	StopTimeout time.Duration
	// Env is added to every process environment.
	Env    []string
	Logger log.Logger
}

// NativeBuilder returns a Builder for activities that run their package
// executable as a child process.
func NativeBuilder(cfg NativeConfig) Builder {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}
	return func(rec roster.InstalledLiveActivity) (lifecycle.Hosted, error) {
		if rec.Executable == "" {
			return nil, fmt.Errorf("native activity %s declares no executable", rec.UUID)
		}
		path := rec.Executable
		if !filepath.IsAbs(path) {
			path = filepath.Join(rec.BaseInstallPath, path)
		}
		return &Native{
			uuid:   rec.UUID,
			path:   path,
			dir:    rec.BaseInstallPath,
			cfg:    cfg,
			logger: log.OrNoop(cfg.Logger).With(log.Component("native"), log.Activity(rec.UUID)),
		}, nil
	}
}

// Native runs an activity as a child process. Startup starts the
// process; an exit outside Shutdown is reported as a failure. The
// configuration is passed as LIVESPACE_CONFIG_<KEY> environment
// variables.
type Native struct {
	uuid   string
	path   string
	dir    string
	cfg    NativeConfig
	logger log.Logger

	mu       sync.Mutex
	config   map[string]string
	cmd      *exec.Cmd
	exited   chan struct{}
	exitErr  error
	stopping bool
	active   bool
	onFail   func(error)
}

func (n *Native) Configure(ctx context.Context, config map[string]string) error {
	if _, err := os.Stat(n.path); err != nil {
		return fmt.Errorf("executable: %w", err)
	}
	n.mu.Lock()
	n.config = make(map[string]string, len(config))
	for k, v := range config {
		n.config[k] = v
	}
	n.mu.Unlock()
	return nil
}

func (n *Native) Startup(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cmd != nil {
		return fmt.Errorf("process already running (pid %d)", n.cmd.Process.Pid)
	}

	cmd := exec.Command(n.path)
	cmd.Dir = n.dir
	cmd.Env = append(os.Environ(), n.cfg.Env...)
	cmd.Env = append(cmd.Env, "LIVESPACE_ACTIVITY_UUID="+n.uuid)
	cmd.Env = append(cmd.Env, configEnv(n.config)...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", n.path, err)
	}

	n.cmd = cmd
	n.exited = make(chan struct{})
	n.exitErr = nil
	n.stopping = false
	go n.wait(cmd, n.exited)
	n.logger.Info("process started", log.Int("pid", cmd.Process.Pid))
	return nil
}

func (n *Native) wait(cmd *exec.Cmd, exited chan struct{}) {
	err := cmd.Wait()

	n.mu.Lock()
	n.exitErr = err
	expected := n.stopping
	if n.cmd == cmd {
		n.cmd = nil
	}
	onFail := n.onFail
	n.mu.Unlock()
	close(exited)

	if expected {
		return
	}
	if err == nil {
		err = errors.New("process exited")
	}
	n.logger.Warn("process exited unexpectedly", log.Err(err))
	if onFail != nil {
		onFail(err)
	}
}

func (n *Native) Activate(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.active = true
	return nil
}

func (n *Native) Deactivate(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.active = false
	return nil
}

// Shutdown interrupts the process and kills it if it has not exited
// after StopTimeout or when ctx ends.
func (n *Native) Shutdown(ctx context.Context) error {
	n.mu.Lock()
	cmd, exited := n.cmd, n.exited
	n.stopping = true
	n.active = false
	n.mu.Unlock()
	if cmd == nil {
		return nil
	}

	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		_ = cmd.Process.Kill()
	}
	timer := time.NewTimer(n.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case <-exited:
	case <-timer.C:
		n.logger.Warn("process ignored interrupt, killing")
		_ = cmd.Process.Kill()
		<-exited
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-exited
		return ctx.Err()
	}
	n.logger.Info("process stopped")
	return nil
}

// CheckHealth fails once the process has gone.
func (n *Native) CheckHealth(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cmd == nil {
		if n.exitErr != nil {
			return fmt.Errorf("%w: %v", ErrNotStarted, n.exitErr)
		}
		return ErrNotStarted
	}
	return nil
}

// SetFailureListener implements lifecycle.FailureReporter.
func (n *Native) SetFailureListener(fn func(err error)) {
	n.mu.Lock()
	n.onFail = fn
	n.mu.Unlock()
}

// Active reports whether the activity was activated.
func (n *Native) Active() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.active
}

func configEnv(config map[string]string) []string {
	keys := make([]string, 0, len(config))
	for k := range config {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		name := strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(k))
		env = append(env, "LIVESPACE_CONFIG_"+name+"="+config[k])
	}
	return env
}

var (
	_ lifecycle.HealthChecker   = (*Native)(nil)
	_ lifecycle.FailureReporter = (*Native)(nil)
)
