package lifecycle

import (
	"context"

	"github.com/bft-labs/livespace/pkg/resource"
)

// Hosted is the code of one live activity. Every variant (native
// process, in-process Go code, bridged transport) implements these entry
// points; the runtime never branches on the concrete type.
type Hosted interface {
	Configure(ctx context.Context, config map[string]string) error
	Startup(ctx context.Context) error
	Activate(ctx context.Context) error
	Deactivate(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// HealthChecker is implemented by hosted code that can report its health.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// FailureReporter is implemented by hosted code that can fail on its own,
// outside any lifecycle call.
type FailureReporter interface {
	SetFailureListener(func(err error))
}

// ResourceProvider is implemented by hosted code that depends on managed
// resources. They are started before Startup and shut down after Shutdown.
type ResourceProvider interface {
	Resources() []resource.Managed
}
