package master

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/bft-labs/livespace/internal/domain"
	"github.com/bft-labs/livespace/internal/ports"
	"github.com/bft-labs/livespace/pkg/log"
)

// DefaultDispatchBackOff retries a command for up to a minute.
func DefaultDispatchBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = time.Minute
	return b
}

// Dispatcher sends commands to nodes. Each node has its own FIFO queue
// and goroutine, so a slow node does not hold up the others and
// commands to one node arrive in the order they were queued.
type Dispatcher struct {
	link       ports.NodeLink
	fleet      *Fleet
	newBackOff func() backoff.BackOff
	logger     log.Logger
	onFailure  func(nodeUUID string, cmd domain.Command, err error)

	mu     sync.Mutex
	queues map[string]*nodeQueue
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type nodeQueue struct {
	mu    sync.Mutex
	items []domain.Command
	wake  chan struct{}
}

// NewDispatcher creates a dispatcher. onFailure is called from the
// node's queue goroutine for every command that could not be delivered.
func NewDispatcher(link ports.NodeLink, fleet *Fleet, newBackOff func() backoff.BackOff, logger log.Logger,
	onFailure func(nodeUUID string, cmd domain.Command, err error)) *Dispatcher {
	if newBackOff == nil {
		newBackOff = DefaultDispatchBackOff
	}
	if onFailure == nil {
		onFailure = func(string, domain.Command, error) {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		link:       link,
		fleet:      fleet,
		newBackOff: newBackOff,
		logger:     log.OrNoop(logger).With(log.Component("dispatcher")),
		onFailure:  onFailure,
		queues:     make(map[string]*nodeQueue),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (d *Dispatcher) Name() string { return "command-dispatcher" }

func (d *Dispatcher) Startup(ctx context.Context) error { return nil }

// Shutdown abandons queued commands and waits for in-flight sends.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.cancel()
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue queues cmd for the node. It never blocks. Commands queued
// after Shutdown are dropped.
func (d *Dispatcher) Enqueue(nodeUUID string, cmd domain.Command) {
	d.mu.Lock()
	if d.ctx.Err() != nil {
		d.mu.Unlock()
		d.logger.Warn("dispatcher stopped, command dropped", log.Node(nodeUUID), log.String("command", cmd.String()))
		return
	}
	q, ok := d.queues[nodeUUID]
	if !ok {
		q = &nodeQueue{wake: make(chan struct{}, 1)}
		d.queues[nodeUUID] = q
		d.wg.Add(1)
		go d.run(nodeUUID, q)
	}
	d.mu.Unlock()

	q.mu.Lock()
	q.items = append(q.items, cmd)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) run(nodeUUID string, q *nodeQueue) {
	defer d.wg.Done()
	for {
		q.mu.Lock()
		items := q.items
		q.items = nil
		q.mu.Unlock()

		for _, cmd := range items {
			if err := d.send(nodeUUID, cmd); err != nil {
				d.logger.Error("command not delivered",
					log.Node(nodeUUID),
					log.String("command", cmd.String()),
					log.Err(err))
				d.onFailure(nodeUUID, cmd, err)
			}
		}

		select {
		case <-d.ctx.Done():
			return
		case <-q.wake:
		}
	}
}

func (d *Dispatcher) send(nodeUUID string, cmd domain.Command) error {
	node, ok := d.fleet.Get(nodeUUID)
	if !ok {
		return domain.ErrUnknownNode
	}
	op := func() error {
		err := d.link.Send(d.ctx, node.Identity, cmd)
		if errors.Is(err, domain.ErrRejected) || errors.Is(err, domain.ErrUnknownActivity) || errors.Is(err, domain.ErrUnknownCommand) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		d.logger.Warn("command send failed, retrying",
			log.Node(nodeUUID),
			log.String("command", cmd.String()),
			log.Err(err),
			log.Duration("wait", wait))
	}
	return backoff.RetryNotify(op, backoff.WithContext(d.newBackOff(), d.ctx), notify)
}
