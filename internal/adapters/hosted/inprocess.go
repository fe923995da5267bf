package hosted

import (
	"context"
	"fmt"
	"sync"

	"github.com/bft-labs/livespace/internal/domain"
	"github.com/bft-labs/livespace/pkg/lifecycle"
	"github.com/bft-labs/livespace/pkg/roster"
)

// Funcs is in-process activity code built from optional functions. A
// nil function is a successful no-op.
type Funcs struct {
	OnConfigure  func(ctx context.Context, config map[string]string) error
	OnStartup    func(ctx context.Context) error
	OnActivate   func(ctx context.Context) error
	OnDeactivate func(ctx context.Context) error
	OnShutdown   func(ctx context.Context) error
	OnHealth     func(ctx context.Context) error
}

func (f *Funcs) Configure(ctx context.Context, config map[string]string) error {
	if f.OnConfigure == nil {
		return nil
	}
	return f.OnConfigure(ctx, config)
}

func (f *Funcs) Startup(ctx context.Context) error { return call(ctx, f.OnStartup) }

func (f *Funcs) Activate(ctx context.Context) error { return call(ctx, f.OnActivate) }

func (f *Funcs) Deactivate(ctx context.Context) error { return call(ctx, f.OnDeactivate) }

func (f *Funcs) Shutdown(ctx context.Context) error { return call(ctx, f.OnShutdown) }

func (f *Funcs) CheckHealth(ctx context.Context) error { return call(ctx, f.OnHealth) }

func call(ctx context.Context, fn func(context.Context) error) error {
	if fn == nil {
		return nil
	}
	return fn(ctx)
}

// Library holds in-process activity implementations keyed by
// identifying name.
type Library struct {
	mu    sync.RWMutex
	ctors map[string]func(rec roster.InstalledLiveActivity) lifecycle.Hosted
}

// NewLibrary returns an empty library.
func NewLibrary() *Library {
	return &Library{ctors: make(map[string]func(roster.InstalledLiveActivity) lifecycle.Hosted)}
}

// Add registers the constructor for activities named name.
func (l *Library) Add(name string, ctor func(rec roster.InstalledLiveActivity) lifecycle.Hosted) {
	l.mu.Lock()
	l.ctors[name] = ctor
	l.mu.Unlock()
}

// Build is a Builder that looks the activity up by identifying name.
func (l *Library) Build(rec roster.InstalledLiveActivity) (lifecycle.Hosted, error) {
	l.mu.RLock()
	ctor, ok := l.ctors[rec.IdentifyingName]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no in-process implementation named %q", domain.ErrUnknownActivityType, rec.IdentifyingName)
	}
	return ctor(rec), nil
}
