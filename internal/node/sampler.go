package node

import (
	"context"
	"sync"
	"time"
)

// sampler runs each activity's health check on a fixed period.
type sampler struct {
	c        *Controller
	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newSampler(c *Controller, interval time.Duration) *sampler {
	return &sampler{c: c, interval: interval}
}

func (s *sampler) Name() string { return "health-sampler" }

func (s *sampler) Startup(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.c.Sample(runCtx)
			}
		}
	}()
	return nil
}

func (s *sampler) Shutdown(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	return nil
}

// Sample runs one health check pass over every activity.
func (c *Controller) Sample(ctx context.Context) {
	for _, r := range c.snapshot() {
		if ctx.Err() != nil {
			return
		}
		r.CheckState(ctx)
	}
}
