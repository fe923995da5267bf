package mastersync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/bft-labs/livespace/internal/domain"
	"github.com/bft-labs/livespace/internal/ports"
	"github.com/bft-labs/livespace/pkg/alert"
	"github.com/bft-labs/livespace/pkg/lifecycle"
	"github.com/bft-labs/livespace/pkg/log"
	"github.com/bft-labs/livespace/pkg/metrics"
)

// ReporterOption configures a Reporter.
type ReporterOption func(*Reporter)

// WithLogger sets the reporter's logger.
func WithLogger(l log.Logger) ReporterOption {
	return func(r *Reporter) { r.logger = l }
}

// WithAlerts sets where rejected registrations are reported.
func WithAlerts(s alert.Sink) ReporterOption {
	return func(r *Reporter) { r.alerts = s }
}

// WithMetrics records delivery outcomes.
func WithMetrics(m *metrics.Metrics) ReporterOption {
	return func(r *Reporter) { r.metrics = m }
}

// WithBackOff replaces the retry schedule. The factory is called once per
// report and once per registration attempt.
func WithBackOff(f func() backoff.BackOff) ReporterOption {
	return func(r *Reporter) { r.newBackOff = f }
}

// WithClock sets the timestamp source.
func WithClock(now func() time.Time) ReporterOption {
	return func(r *Reporter) { r.now = now }
}

// DefaultBackOff retries forever, backing off to 10s between attempts.
func DefaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Reporter delivers status reports to the master in the order they were
// queued. It implements lifecycle.EventEmitter.
type Reporter struct {
	link       ports.MasterLink
	identity   domain.NodeIdentity
	logger     log.Logger
	alerts     alert.Sink
	metrics    *metrics.Metrics
	newBackOff func() backoff.BackOff
	now        func() time.Time

	mu         sync.Mutex
	queue      []domain.StatusReport
	seq        uint64
	registered bool

	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// NewReporter creates a Reporter for the node described by identity.
func NewReporter(link ports.MasterLink, identity domain.NodeIdentity, opts ...ReporterOption) *Reporter {
	r := &Reporter{
		link:       link,
		identity:   identity,
		newBackOff: DefaultBackOff,
		now:        time.Now,
		wake:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = log.OrNoop(r.logger).With(log.Component("status-reporter"))
	r.alerts = alert.OrNop(r.alerts)
	return r
}

// Name implements resource.Named.
func (r *Reporter) Name() string { return "status-reporter" }

// OnStateChange queues a report for a confirmed lifecycle transition.
func (r *Reporter) OnStateChange(uuid string, previous, current lifecycle.ActivityState, reason string) {
	r.Enqueue(domain.StatusReport{
		Kind:         domain.ReportActivity,
		ActivityUUID: uuid,
		Status:       ToStatus(current),
		Detail:       reason,
	})
}

// Enqueue stamps a report with the node uuid, the next sequence number
// and a timestamp, then queues it.
func (r *Reporter) Enqueue(report domain.StatusReport) {
	r.mu.Lock()
	r.seq++
	report.NodeUUID = r.identity.UUID
	report.Seq = r.seq
	if report.Timestamp.IsZero() {
		report.Timestamp = r.now()
	}
	r.queue = append(r.queue, report)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of reports not yet accepted by the master.
func (r *Reporter) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Registered reports whether the master has accepted this node.
func (r *Reporter) Registered() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registered
}

// Startup starts the delivery goroutine. Registration happens there, so
// Startup does not wait for the master.
func (r *Reporter) Startup(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.run(runCtx)
	return nil
}

// Shutdown gives queued reports until ctx is done to drain, then stops
// the delivery goroutine.
func (r *Reporter) Shutdown(ctx context.Context) error {
	if r.cancel == nil {
		return nil
	}
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for r.Pending() > 0 && r.Registered() {
		select {
		case <-ctx.Done():
			r.logger.Warn("shutting down with undelivered reports", log.Int("pending", r.Pending()))
			r.cancel()
			<-r.done
			return nil
		case <-ticker.C:
		}
	}
	r.cancel()
	<-r.done
	return nil
}

func (r *Reporter) run(ctx context.Context) {
	defer close(r.done)

	if err := r.register(ctx); err != nil {
		return
	}

	for {
		report, ok := r.head()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-r.wake:
				continue
			}
		}
		err := r.deliver(ctx, report)
		switch {
		case err == nil:
			r.pop()
		case ctx.Err() != nil:
			return
		case isPermanent(err):
			r.metrics.StatusReport("rejected")
			r.logger.Error("master rejected status report, dropping it",
				log.Activity(report.ActivityUUID),
				log.String("kind", string(report.Kind)),
				log.String("status", string(report.Status)),
				log.Err(err))
			r.alerts.Report(alert.SeverityError, report.ActivityUUID, "status report rejected by master", err)
			r.pop()
		default:
			// Retries ran out; keep the report at the head and start over.
			r.logger.Error("status report undeliverable, still retrying", log.Activity(report.ActivityUUID), log.Err(err))
			r.alerts.Report(alert.SeverityWarning, report.ActivityUUID, "status report undeliverable", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
}

func isPermanent(err error) bool {
	var perm *backoff.PermanentError
	return errors.As(err, &perm) || errors.Is(err, domain.ErrRejected)
}

func (r *Reporter) register(ctx context.Context) error {
	op := func() error {
		err := r.link.Register(ctx, r.identity)
		if errors.Is(err, domain.ErrInvalidIdentity) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		r.logger.Warn("registration failed, retrying", log.Err(err), log.Duration("wait", wait))
	}

	err := backoff.RetryNotify(op, backoff.WithContext(r.newBackOff(), ctx), notify)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Error("master rejected registration", log.Err(err))
			r.alerts.Report(alert.SeverityCritical, "", "node registration rejected", err)
		}
		return err
	}

	r.mu.Lock()
	r.registered = true
	r.mu.Unlock()
	r.logger.Info("registered with master", log.Node(r.identity.UUID))
	return nil
}

func (r *Reporter) deliver(ctx context.Context, report domain.StatusReport) error {
	op := func() error {
		err := r.link.Report(ctx, report)
		if errors.Is(err, domain.ErrNodeNotRegistered) {
			// The master lost track of us, usually because it restarted.
			r.logger.Warn("master does not know this node, registering again")
			if rerr := r.link.Register(ctx, r.identity); rerr != nil {
				return rerr
			}
		}
		if errors.Is(err, domain.ErrRejected) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		r.metrics.StatusReport("retried")
		r.logger.Warn("status report failed, retrying",
			log.Activity(report.ActivityUUID),
			log.String("status", string(report.Status)),
			log.Err(err),
			log.Duration("wait", wait))
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(r.newBackOff(), ctx), notify); err != nil {
		return err
	}
	r.metrics.StatusReport("delivered")
	r.logger.Debug("status report delivered",
		log.Activity(report.ActivityUUID),
		log.String("kind", string(report.Kind)),
		log.String("status", string(report.Status)),
		log.Any("seq", report.Seq))
	return nil
}

func (r *Reporter) head() (domain.StatusReport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		return domain.StatusReport{}, false
	}
	return r.queue[0], true
}

func (r *Reporter) pop() {
	r.mu.Lock()
	r.queue[0] = domain.StatusReport{}
	r.queue = r.queue[1:]
	r.mu.Unlock()
}
