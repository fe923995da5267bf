package livespace

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bft-labs/livespace/internal/adapters/hosted"
	"github.com/bft-labs/livespace/internal/app"
	"github.com/bft-labs/livespace/internal/ports"
	"github.com/bft-labs/livespace/pkg/alert"
	"github.com/bft-labs/livespace/pkg/lifecycle"
	"github.com/bft-labs/livespace/pkg/log"
	"github.com/bft-labs/livespace/pkg/roster"
)

// HTTPClient is satisfied by *http.Client.
type HTTPClient = ports.HTTPClient

// State is the process-level state of a Node or Master.
type State = app.State

const (
	StateStopped  = app.StateStopped
	StateStarting = app.StateStarting
	StateRunning  = app.StateRunning
	StateStopping = app.StateStopping
	StateCrashed  = app.StateCrashed
)

// StateChangeEvent describes one process state change.
type StateChangeEvent struct {
	Previous State
	Current  State
	Reason   string
}

// EventHandler receives process state changes. Calls are synchronous.
type EventHandler interface {
	OnStateChange(event StateChangeEvent)
}

// Plugin extends a node. Plugins are initialized in registration order
// after the node runtime has started, and shut down in reverse order
// before it stops.
type Plugin interface {
	Name() string
	Initialize(ctx context.Context, cfg PluginConfig) error
	Shutdown(ctx context.Context) error
}

// PluginConfig is handed to plugins at initialization.
type PluginConfig struct {
	// DataDir is the node's working directory.
	DataDir string
	Logger  log.Logger
	Node    NodeControl
}

// NodeControl is what a plugin may do to the running node.
type NodeControl interface {
	ShutdownAll(ctx context.Context)
	StartupAll(ctx context.Context)
	// RequestShutdown asks the node process to stop.
	RequestShutdown()
}

// Option configures a Node or Master.
type Option func(*options)

type options struct {
	httpClient   ports.HTTPClient
	logger       log.Logger
	alerts       alert.Sink
	registry     *prometheus.Registry
	eventHandler EventHandler
	plugins      []Plugin
	library      *hosted.Library
}

func defaultOptions() options {
	return options{
		logger:  log.NewNoopLogger(),
		library: hosted.NewLibrary(),
	}
}

// WithHTTPClient sets the client used to reach the master, the nodes and
// artifact URLs.
func WithHTTPClient(client HTTPClient) Option {
	return func(o *options) { o.httpClient = client }
}

// WithLogger sets the logger. Without it nothing is logged.
func WithLogger(logger log.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithAlerts adds an alert sink. Alerts are always logged as well.
func WithAlerts(sink alert.Sink) Option {
	return func(o *options) { o.alerts = sink }
}

// WithRegistry registers metrics on reg and serves it at /metrics.
// A private registry is used otherwise.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithEventHandler sets a handler for process state changes.
func WithEventHandler(handler EventHandler) Option {
	return func(o *options) { o.eventHandler = handler }
}

// WithPlugin registers a node plugin. Masters ignore plugins.
func WithPlugin(plugin Plugin) Option {
	return func(o *options) { o.plugins = append(o.plugins, plugin) }
}

// WithActivity makes an in-process activity constructor available to
// packages whose manifest declares type "inprocess" and the given name.
func WithActivity(name string, ctor func(rec roster.InstalledLiveActivity) lifecycle.Hosted) Option {
	return func(o *options) { o.library.Add(name, ctor) }
}

type emitter struct {
	handler EventHandler
}

func (e emitter) OnStateChange(previous, current app.State, reason string) {
	if e.handler == nil {
		return
	}
	e.handler.OnStateChange(StateChangeEvent{Previous: previous, Current: current, Reason: reason})
}
