// Package hosted provides the hosting variants for activity code and a
// registry that picks one by an activity's type tag.
package hosted

import (
	"fmt"
	"sort"
	"sync"

	"github.com/bft-labs/livespace/internal/domain"
	"github.com/bft-labs/livespace/internal/ports"
	"github.com/bft-labs/livespace/pkg/lifecycle"
	"github.com/bft-labs/livespace/pkg/roster"
)

// Type tags understood by NewDefaultRegistry.
const (
	TypeNative    = "native"
	TypeInProcess = "inprocess"
)

// Builder creates hosted code for one installed activity.
type Builder func(rec roster.InstalledLiveActivity) (lifecycle.Hosted, error)

// Registry maps type tags to builders. It implements ports.HostedFactory.
type Registry struct {
	mu          sync.RWMutex
	builders    map[string]Builder
	defaultType string
}

// NewRegistry returns an empty registry. Records without a type tag use
// defaultType.
func NewRegistry(defaultType string) *Registry {
	return &Registry{builders: make(map[string]Builder), defaultType: defaultType}
}

// NewDefaultRegistry registers the native process variant and an
// in-process variant backed by lib. Untyped activities are native.
func NewDefaultRegistry(native NativeConfig, lib *Library) *Registry {
	r := NewRegistry(TypeNative)
	r.Register(TypeNative, NativeBuilder(native))
	if lib != nil {
		r.Register(TypeInProcess, lib.Build)
	}
	return r
}

// Register adds or replaces the builder for tag.
func (r *Registry) Register(tag string, b Builder) {
	r.mu.Lock()
	r.builders[tag] = b
	r.mu.Unlock()
}

// Types lists the registered tags.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.builders))
	for t := range r.builders {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// New builds hosted code for rec.
func (r *Registry) New(rec roster.InstalledLiveActivity) (lifecycle.Hosted, error) {
	tag := rec.Type
	if tag == "" {
		tag = r.defaultType
	}
	r.mu.RLock()
	b, ok := r.builders[tag]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q for activity %s", domain.ErrUnknownActivityType, tag, rec.UUID)
	}
	return b(rec)
}

var _ ports.HostedFactory = (*Registry)(nil)
