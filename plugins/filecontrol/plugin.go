// Package filecontrol lets local tooling control a livespace node by
// dropping files into <data>/run/control. Each recognized file triggers
// its action once and is removed.
package filecontrol

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bft-labs/livespace/pkg/livespace"
	"github.com/bft-labs/livespace/pkg/log"
)

// Control file names.
const (
	FileShutdown              = "shutdown"
	FileShutdownAllActivities = "shutdown-all-activities"
	FileStartupAllActivities  = "startup-all-activities"

	runDirName     = "run"
	controlDirName = "control"
)

// Plugin watches the control directory of a node.
type Plugin struct {
	mu sync.Mutex

	debounceDelay time.Duration
	actionTimeout time.Duration

	dir    string
	node   livespace.NodeControl
	logger log.Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup
	timers map[string]*time.Timer
}

// Config holds options for the plugin.
type Config struct {
	// DebounceDelay is how long a control file must stay quiet before it
	// is acted on. Default: 100ms.
	DebounceDelay time.Duration
	// ActionTimeout bounds a startup-all or shutdown-all action.
	// Default: 2m.
	ActionTimeout time.Duration
}

// DefaultConfig returns the default settings.
func DefaultConfig() Config {
	return Config{
		DebounceDelay: 100 * time.Millisecond,
		ActionTimeout: 2 * time.Minute,
	}
}

// New creates the plugin.
func New(cfg Config) *Plugin {
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = 100 * time.Millisecond
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = 2 * time.Minute
	}
	return &Plugin{
		debounceDelay: cfg.DebounceDelay,
		actionTimeout: cfg.ActionTimeout,
		timers:        make(map[string]*time.Timer),
	}
}

// Dir returns the control directory for a node data dir.
func Dir(dataDir string) string {
	return filepath.Join(dataDir, runDirName, controlDirName)
}

func (p *Plugin) Name() string { return "filecontrol" }

// Initialize creates the control directory, acts on files already in it
// and starts watching.
func (p *Plugin) Initialize(ctx context.Context, cfg livespace.PluginConfig) error {
	p.dir = Dir(cfg.DataDir)
	p.node = cfg.Node
	p.logger = log.OrNoop(cfg.Logger).With(log.Component("filecontrol"))

	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(p.dir); err != nil {
		watcher.Close()
		return err
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	entries, err := os.ReadDir(p.dir)
	if err != nil {
		p.logger.Warn("cannot list control directory", log.Err(err))
	}
	for _, e := range entries {
		p.schedule(watchCtx, e.Name())
	}

	p.wg.Add(1)
	go p.watchLoop(watchCtx, watcher)

	p.logger.Info("watching control directory", log.String("dir", p.dir))
	return nil
}

// Shutdown stops watching and drops pending actions.
func (p *Plugin) Shutdown(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Lock()
	for name, t := range p.timers {
		t.Stop()
		delete(p.timers, name)
	}
	p.mu.Unlock()
	p.wg.Wait()
	return nil
}

func (p *Plugin) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer p.wg.Done()
	defer watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			p.schedule(ctx, filepath.Base(event.Name))

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("control directory watch failed", log.Err(err))
		}
	}
}

// schedule acts on name after the debounce delay. Unknown names are left
// alone.
func (p *Plugin) schedule(ctx context.Context, name string) {
	if !known(name) {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if t, ok := p.timers[name]; ok {
		t.Stop()
	}
	p.timers[name] = time.AfterFunc(p.debounceDelay, func() {
		p.mu.Lock()
		delete(p.timers, name)
		p.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		p.handle(ctx, name)
	})
}

func (p *Plugin) handle(ctx context.Context, name string) {
	path := filepath.Join(p.dir, name)
	if err := os.Remove(path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			p.logger.Error("cannot remove control file", log.String("file", name), log.Err(err))
		}
		return
	}
	p.logger.Info("control file received", log.String("file", name))

	actx, cancel := context.WithTimeout(ctx, p.actionTimeout)
	defer cancel()
	switch name {
	case FileShutdown:
		p.node.RequestShutdown()
	case FileShutdownAllActivities:
		p.node.ShutdownAll(actx)
	case FileStartupAllActivities:
		p.node.StartupAll(actx)
	}
}

func known(name string) bool {
	switch name {
	case FileShutdown, FileShutdownAllActivities, FileStartupAllActivities:
		return true
	}
	return false
}

var _ livespace.Plugin = (*Plugin)(nil)
