package node

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bft-labs/livespace/internal/domain"
	"github.com/bft-labs/livespace/pkg/log"
)

// ErrInvalidSchedule is returned for a schedule entry that cannot be parsed.
var ErrInvalidSchedule = errors.New("invalid schedule")

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Schedule is one parsed "<activity uuid> <command> <cron spec>" entry.
type Schedule struct {
	ActivityUUID string
	Command      domain.CommandKind
	Spec         string
	schedule     cron.Schedule
}

// Next returns the first firing after t.
func (s Schedule) Next(t time.Time) time.Time { return s.schedule.Next(t) }

// ParseSchedule parses a schedule entry. Only lifecycle commands may be
// scheduled.
func ParseSchedule(entry string) (Schedule, error) {
	fields := strings.Fields(entry)
	if len(fields) < 3 {
		return Schedule{}, fmt.Errorf("%w: %q: want \"<uuid> <command> <cron spec>\"", ErrInvalidSchedule, entry)
	}
	kind := domain.CommandKind(fields[1])
	if _, ok := commandPlans[kind]; !ok {
		return Schedule{}, fmt.Errorf("%w: %q: %s is not a lifecycle command", ErrInvalidSchedule, entry, kind)
	}
	spec := strings.Join(fields[2:], " ")
	sched, err := scheduleParser.Parse(spec)
	if err != nil {
		return Schedule{}, errors.Join(ErrInvalidSchedule, err)
	}
	return Schedule{ActivityUUID: fields[0], Command: kind, Spec: spec, schedule: sched}, nil
}

// scheduler fires scheduled lifecycle commands and heartbeats.
type scheduler struct {
	cron   *cron.Cron
	logger log.Logger
}

func newScheduler(c *Controller, entries []string, heartbeat time.Duration, logger log.Logger) (*scheduler, error) {
	logger = logger.With(log.Component("scheduler"))
	cr := cron.New(cron.WithParser(scheduleParser), cron.WithLogger(cronLogger{logger}))

	for _, entry := range entries {
		s, err := ParseSchedule(entry)
		if err != nil {
			return nil, err
		}
		cmd := domain.Command{ID: "schedule:" + s.Spec, Kind: s.Command, ActivityUUID: s.ActivityUUID}
		cr.Schedule(s.schedule, cron.FuncJob(func() {
			if err := c.HandleCommand(context.Background(), cmd); err != nil {
				logger.Warn("scheduled command failed", log.String("command", cmd.String()), log.Err(err))
			}
		}))
		logger.Info("schedule registered", log.String("command", cmd.String()), log.String("spec", s.Spec))
	}

	if heartbeat > 0 {
		cr.Schedule(cron.Every(heartbeat), cron.FuncJob(func() {
			c.reporter.Enqueue(domain.StatusReport{Kind: domain.ReportHeartbeat})
		}))
	}
	return &scheduler{cron: cr, logger: logger}, nil
}

func (s *scheduler) Name() string { return "scheduler" }

func (s *scheduler) Startup(ctx context.Context) error {
	s.cron.Start()
	return nil
}

// Shutdown stops the scheduler and waits for running jobs.
func (s *scheduler) Shutdown(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts log.Logger to cron.Logger.
type cronLogger struct {
	l log.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, kv(keysAndValues)...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(kv(keysAndValues), log.Err(err))...)
}

func kv(keysAndValues []interface{}) []log.Field {
	fields := make([]log.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		fields = append(fields, log.Any(key, keysAndValues[i+1]))
	}
	return fields
}
