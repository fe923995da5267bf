package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/bft-labs/livespace/internal/domain"
	"github.com/bft-labs/livespace/pkg/log"
	"github.com/bft-labs/livespace/pkg/resource"
)

// Service runs a master or node runtime together with its HTTP API.
// Startup order is runtime first, then the listener; shutdown reverses it.
type Service struct {
	name      string
	runtime   resource.Managed
	server    *http.Server
	lifecycle *Lifecycle
	logger    log.Logger

	mu       sync.Mutex
	listener net.Listener
	serveErr chan error
}

// NewService creates a stopped service. server may be nil.
func NewService(name string, runtime resource.Managed, server *http.Server, logger log.Logger, emitter EventEmitter) *Service {
	logger = log.OrNoop(logger).With(log.Component(name))
	return &Service{
		name:      name,
		runtime:   runtime,
		server:    server,
		lifecycle: NewLifecycle(logger, emitter),
		logger:    logger,
		serveErr:  make(chan error, 1),
	}
}

// State returns the service state.
func (s *Service) State() State { return s.lifecycle.State() }

// Addr returns the bound listen address, or "" before Start.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start brings up the runtime and begins serving. A failure leaves the
// service Crashed with everything already started shut down again.
func (s *Service) Start(ctx context.Context) error {
	if !s.lifecycle.CanStart() {
		return domain.ErrAlreadyRunning
	}
	if err := s.lifecycle.TransitionTo(StateStarting, "start requested"); err != nil {
		return err
	}

	if err := s.runtime.Startup(ctx); err != nil {
		_ = s.lifecycle.TransitionTo(StateCrashed, err.Error())
		return err
	}

	if s.server != nil {
		ln, err := net.Listen("tcp", s.server.Addr)
		if err != nil {
			_ = s.runtime.Shutdown(ctx)
			_ = s.lifecycle.TransitionTo(StateCrashed, err.Error())
			return err
		}
		s.mu.Lock()
		s.listener = ln
		s.mu.Unlock()

		s.lifecycle.Go(func() {
			err := s.server.Serve(ln)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("http server stopped", log.Err(err))
				s.serveErr <- err
			}
		})
		s.logger.Info("listening", log.String("addr", ln.Addr().String()))
	}

	return s.lifecycle.TransitionTo(StateRunning, "started")
}

// Stop shuts the listener and then the runtime down, waiting at most
// ShutdownTimeout for in-flight requests.
func (s *Service) Stop(ctx context.Context) error {
	if !s.lifecycle.CanStop() {
		return domain.ErrNotRunning
	}
	if err := s.lifecycle.TransitionTo(StateStopping, "stop requested"); err != nil {
		return err
	}

	var errs []error
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.runtime.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.lifecycle.WaitWithTimeout(ShutdownTimeout); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		_ = s.lifecycle.TransitionTo(StateCrashed, err.Error())
		return err
	}
	return s.lifecycle.TransitionTo(StateStopped, "stopped")
}

// Cancel makes a pending Run return.
func (s *Service) Cancel() { s.lifecycle.Cancel() }

// Run starts the service and blocks until ctx is done, Cancel is called
// or the HTTP server fails, then stops it.
func (s *Service) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.lifecycle.SetCancel(cancel)

	if err := s.Start(ctx); err != nil {
		return err
	}

	var cause error
	select {
	case <-ctx.Done():
	case cause = <-s.serveErr:
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := s.Stop(stopCtx); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}
