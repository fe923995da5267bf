package livespace

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bft-labs/livespace/internal/adapters/api"
	"github.com/bft-labs/livespace/internal/adapters/artifact"
	"github.com/bft-labs/livespace/internal/adapters/hosted"
	transport "github.com/bft-labs/livespace/internal/adapters/http"
	"github.com/bft-labs/livespace/internal/app"
	"github.com/bft-labs/livespace/internal/domain"
	"github.com/bft-labs/livespace/internal/node"
	"github.com/bft-labs/livespace/pkg/alert"
	"github.com/bft-labs/livespace/pkg/goal"
	"github.com/bft-labs/livespace/pkg/install"
	"github.com/bft-labs/livespace/pkg/log"
	"github.com/bft-labs/livespace/pkg/metrics"
	"github.com/bft-labs/livespace/pkg/resource"
	"github.com/bft-labs/livespace/pkg/roster"
)

// NodeIdentity is what a node registers with.
type NodeIdentity = domain.NodeIdentity

// NodeConfig configures a Node.
type NodeConfig struct {
	Identity NodeIdentity
	// DataDir holds the roster, staged artifacts and installed packages.
	DataDir   string
	MasterURL string
	// Listen is the command API address. Empty disables the API, which
	// leaves the node reachable only through plugins and schedules.
	Listen string

	SampleInterval    time.Duration
	HeartbeatInterval time.Duration
	DriverInterval    time.Duration
	HTTPTimeout       time.Duration
	GoalTimeout       time.Duration
	Schedules         []string
}

// Node is an embeddable livespace node.
type Node struct {
	cfg        NodeConfig
	controller *node.Controller
	service    *app.Service
	logger     log.Logger
}

// NewNode assembles a node. Nothing runs until Start or Run.
func NewNode(cfg NodeConfig, opts ...Option) (*Node, error) {
	if err := validateModuleVersions(); err != nil {
		return nil, err
	}
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("%w: node needs a data dir", domain.ErrInvalidConfig)
	}
	if cfg.MasterURL == "" {
		return nil, fmt.Errorf("%w: node needs a master url", domain.ErrInvalidConfig)
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 15 * time.Second
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	logger := log.OrNoop(o.logger)
	client := o.httpClient
	if client == nil {
		client = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	reg := o.registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := metrics.New(reg)
	sink := alertSink(logger, o.alerts)

	repo := roster.NewFileRepository(filepath.Join(cfg.DataDir, "roster"))
	installer := install.NewManager(install.Config{
		StagingDir:   filepath.Join(cfg.DataDir, "staging"),
		InstalledDir: filepath.Join(cfg.DataDir, "installed"),
		Source:       artifact.NewSchemes(cfg.DataDir, artifact.NewHTTPSource(client, nil, logger)),
		Repository:   repo,
		Logger:       logger,
		Metrics:      m,
	})

	controller, err := node.New(node.Config{
		Identity:          cfg.Identity,
		Installer:         installer,
		Repository:        repo,
		Hosted:            hosted.NewDefaultRegistry(hosted.NativeConfig{Logger: logger}, o.library),
		Master:            transport.NewMasterClient(cfg.MasterURL, client, logger),
		Logger:            logger,
		Alerts:            sink,
		Metrics:           m,
		GoalPolicy:        goal.Policy{Timeout: cfg.GoalTimeout},
		DriverInterval:    cfg.DriverInterval,
		SampleInterval:    cfg.SampleInterval,
		HeartbeatInterval: cfg.HeartbeatInterval,
		Schedules:         cfg.Schedules,
	})
	if err != nil {
		return nil, err
	}

	n := &Node{cfg: cfg, controller: controller, logger: logger}

	runtime := resource.NewSupervisor(
		resource.WithLogger(logger),
		resource.WithAlerts(sink),
		resource.WithMetrics(m),
		resource.WithOwner("livespace-node"),
	)
	runtime.Add(controller)
	pcfg := PluginConfig{DataDir: cfg.DataDir, Logger: logger, Node: n}
	for _, p := range o.plugins {
		runtime.Add(&pluginResource{plugin: p, cfg: pcfg})
	}

	var server *http.Server
	if cfg.Listen != "" {
		server = &http.Server{
			Addr:              cfg.Listen,
			Handler:           api.NewNodeRouter(controller, reg, logger),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}
	n.service = app.NewService("node", supervised{runtime}, server, logger, emitter{o.eventHandler})
	return n, nil
}

// Start starts the node and returns once it is running.
func (n *Node) Start(ctx context.Context) error { return n.service.Start(ctx) }

// Stop shuts every activity down and stops the node.
func (n *Node) Stop(ctx context.Context) error { return n.service.Stop(ctx) }

// Run starts the node and blocks until ctx is done or a shutdown is
// requested.
func (n *Node) Run(ctx context.Context) error { return n.service.Run(ctx) }

// Status returns the process state.
func (n *Node) Status() State { return n.service.State() }

// Addr returns the bound command API address.
func (n *Node) Addr() string { return n.service.Addr() }

// Identity returns the identity the node registers with.
func (n *Node) Identity() NodeIdentity { return n.controller.Identity() }

// ShutdownAll shuts every activity down.
func (n *Node) ShutdownAll(ctx context.Context) { n.controller.ShutdownAll(ctx) }

// StartupAll starts every activity per its startup policy.
func (n *Node) StartupAll(ctx context.Context) { n.controller.StartupAll(ctx) }

// RequestShutdown makes a pending Run return.
func (n *Node) RequestShutdown() {
	n.logger.Info("node shutdown requested")
	n.service.Cancel()
}

// supervised runs a resource.Supervisor as one resource.
type supervised struct {
	*resource.Supervisor
}

func (s supervised) Startup(ctx context.Context) error { return s.StartupResources(ctx) }

func (s supervised) Shutdown(ctx context.Context) error {
	s.ShutdownResources(ctx)
	return nil
}

type pluginResource struct {
	plugin Plugin
	cfg    PluginConfig
}

func (p *pluginResource) Name() string { return "plugin/" + p.plugin.Name() }

func (p *pluginResource) Startup(ctx context.Context) error {
	return p.plugin.Initialize(ctx, p.cfg)
}

func (p *pluginResource) Shutdown(ctx context.Context) error {
	return p.plugin.Shutdown(ctx)
}

func alertSink(logger log.Logger, extra alert.Sink) alert.Sink {
	if extra == nil {
		return alert.NewLogSink(logger)
	}
	return alert.Multi{alert.NewLogSink(logger), extra}
}

var _ NodeControl = (*Node)(nil)
