package livespace

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bft-labs/livespace/internal/adapters/api"
	transport "github.com/bft-labs/livespace/internal/adapters/http"
	"github.com/bft-labs/livespace/internal/app"
	"github.com/bft-labs/livespace/internal/domain"
	"github.com/bft-labs/livespace/internal/master"
	"github.com/bft-labs/livespace/pkg/goal"
	"github.com/bft-labs/livespace/pkg/log"
	"github.com/bft-labs/livespace/pkg/metrics"
	"github.com/bft-labs/livespace/pkg/roster"
)

// MasterConfig configures a Master.
type MasterConfig struct {
	// DataDir holds the master's activity roster.
	DataDir        string
	Listen         string
	DriverInterval time.Duration
	HTTPTimeout    time.Duration
	GoalTimeout    time.Duration
}

// Master is an embeddable livespace master.
type Master struct {
	master  *master.Master
	service *app.Service
}

// NewMaster assembles a master. Nothing runs until Start or Run.
func NewMaster(cfg MasterConfig, opts ...Option) (*Master, error) {
	if err := validateModuleVersions(); err != nil {
		return nil, err
	}
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("%w: master needs a data dir", domain.ErrInvalidConfig)
	}
	if cfg.Listen == "" {
		return nil, fmt.Errorf("%w: master needs a listen address", domain.ErrInvalidConfig)
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

	m, err := master.New(master.Config{
		Repository:     roster.NewFileRepository(filepath.Join(cfg.DataDir, "roster")),
		Nodes:          transport.NewNodeClient(client, logger),
		Logger:         logger,
		Alerts:         alertSink(logger, o.alerts),
		Metrics:        metrics.New(reg),
		GoalPolicy:     goal.Policy{Timeout: cfg.GoalTimeout},
		DriverInterval: cfg.DriverInterval,
	})
	if err != nil {
		return nil, err
	}

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.NewMasterRouter(m, reg, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return &Master{
		master:  m,
		service: app.NewService("master", m, server, logger, emitter{o.eventHandler}),
	}, nil
}

// Start starts the master and returns once it is serving.
func (m *Master) Start(ctx context.Context) error { return m.service.Start(ctx) }

// Stop stops serving and shuts the master down.
func (m *Master) Stop(ctx context.Context) error { return m.service.Stop(ctx) }

// Run starts the master and blocks until ctx is done.
func (m *Master) Run(ctx context.Context) error { return m.service.Run(ctx) }

// Status returns the process state.
func (m *Master) Status() State { return m.service.State() }

// Addr returns the bound API address.
func (m *Master) Addr() string { return m.service.Addr() }

// Nodes lists the registered nodes.
func (m *Master) Nodes() []master.NodeEntry { return m.master.Nodes() }
