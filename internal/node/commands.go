package node

import (
	"context"
	"fmt"

	"github.com/bft-labs/livespace/internal/domain"
	"github.com/bft-labs/livespace/pkg/install"
	"github.com/bft-labs/livespace/pkg/lifecycle"
	"github.com/bft-labs/livespace/pkg/log"
	"github.com/bft-labs/livespace/pkg/roster"
)

var commandPlans = map[domain.CommandKind][]lifecycle.Transition{
	domain.CommandStartup:    {lifecycle.TransitionStartup},
	domain.CommandActivate:   {lifecycle.TransitionStartup, lifecycle.TransitionActivate},
	domain.CommandDeactivate: {lifecycle.TransitionDeactivate},
	domain.CommandShutdown:   {lifecycle.TransitionShutdown},
	domain.CommandRestart:    lifecycle.RestartPlan(),
}

// HandleCommand executes one command from the master. Lifecycle commands
// only register a goal and return; deploy, delete and configure complete
// before returning.
func (c *Controller) HandleCommand(ctx context.Context, cmd domain.Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	c.logger.Info("command received", log.String("command", cmd.String()), log.String("id", cmd.ID))

	if plan, ok := commandPlans[cmd.Kind]; ok {
		return c.pursue(cmd.ActivityUUID, plan)
	}

	switch cmd.Kind {
	case domain.CommandDeploy:
		return c.deploy(ctx, cmd.ActivityUUID, *cmd.Deploy)
	case domain.CommandDelete:
		return c.delete(ctx, cmd.ActivityUUID)
	case domain.CommandConfigure:
		return c.configure(ctx, cmd.ActivityUUID, cmd.Config)
	case domain.CommandStatus:
		c.ReportStatus()
		return nil
	case domain.CommandShutdownAll:
		c.ShutdownAll(ctx)
		return nil
	}
	return fmt.Errorf("%w: %q", domain.ErrUnknownCommand, cmd.Kind)
}

func (c *Controller) deploy(ctx context.Context, uuid string, spec domain.DeploySpec) error {
	res := c.cfg.Installer.Deploy(ctx, install.Request{
		UUID:            uuid,
		IdentifyingName: spec.IdentifyingName,
		Version:         spec.Version,
		ArtifactURI:     spec.ArtifactURI,
		Digest:          spec.Digest,
		StartupPolicy:   roster.StartupPolicy(spec.StartupPolicy),
		Type:            spec.Type,
		NodeUUID:        c.cfg.Identity.UUID,
		Configuration:   spec.Configuration,
	})
	if res.Err != nil {
		c.logger.Error("deploy failed", log.Activity(uuid), log.String("status", res.Status.String()), log.Err(res.Err))
		c.reportOutcome(domain.ReportDeploy, uuid, domain.OutcomeFailure, res.Err.Error())
		return res.Err
	}

	c.retire(ctx, uuid)

	r, err := c.newRunner(res.Record, lifecycle.StateUnknown)
	if err != nil {
		_, _ = c.cfg.Repository.Update(ctx, uuid, func(rec *roster.InstalledLiveActivity) error {
			rec.InstallStatus = roster.StatusDeployFailed
			rec.LastActivityState = lifecycle.StateDeployFailure
			rec.LastStateAt = c.cfg.Now()
			return nil
		})
		c.reportOutcome(domain.ReportDeploy, uuid, domain.OutcomeFailure, err.Error())
		return err
	}
	c.put(r)
	c.reportOutcome(domain.ReportDeploy, uuid, domain.OutcomeSuccess, res.Record.Version)

	if result := r.Configure(ctx, res.Record.Configuration); result.Failed() {
		return result.Err()
	}
	return nil
}

// retire shuts down and discards the runner for uuid, if there is one.
func (c *Controller) retire(ctx context.Context, uuid string) {
	c.goals.Remove(uuid)
	old := c.drop(uuid)
	if old == nil {
		return
	}
	if old.State().IsRunning() {
		if res := old.Shutdown(ctx); res.Failed() {
			c.logger.Warn("replaced activity did not shut down cleanly", log.Activity(uuid), log.String("reason", res.Reason()))
		}
	} else if err := old.Release(ctx); err != nil {
		c.logger.Warn("replaced activity did not release cleanly", log.Activity(uuid), log.Err(err))
	}
	old.Close()
}

func (c *Controller) delete(ctx context.Context, uuid string) error {
	c.goals.Remove(uuid)
	r, hasRunner := c.runner(uuid)
	if hasRunner && r.State().IsRunning() {
		if res := r.Shutdown(ctx); res.Failed() {
			c.reportOutcome(domain.ReportDelete, uuid, domain.OutcomeFailure, res.Reason())
			return res.Err()
		}
	} else if hasRunner {
		if err := r.Release(ctx); err != nil {
			c.logger.Warn("crashed activity did not release cleanly", log.Activity(uuid), log.Err(err))
		}
	}

	result, err := c.cfg.Installer.RemoveActivity(ctx, uuid)
	switch result {
	case install.RemoveDoesntExist:
		c.reportOutcome(domain.ReportDelete, uuid, domain.OutcomeDoesntExist, "")
		return nil
	case install.RemoveFailure:
		c.reportOutcome(domain.ReportDelete, uuid, domain.OutcomeFailure, err.Error())
		return err
	}

	if hasRunner {
		if err := r.Remove(ctx); err != nil {
			r.Machine().Reset(lifecycle.StateDoesntExist, "removed")
		}
		c.drop(uuid)
		r.Close()
	}
	c.reportOutcome(domain.ReportDelete, uuid, domain.OutcomeSuccess, "")
	return nil
}

func (c *Controller) configure(ctx context.Context, uuid string, config map[string]string) error {
	r, ok := c.runner(uuid)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownActivity, uuid)
	}
	rec, err := c.cfg.Repository.Update(ctx, uuid, func(rec *roster.InstalledLiveActivity) error {
		if rec.Configuration == nil {
			rec.Configuration = make(map[string]string, len(config))
		}
		for k, v := range config {
			rec.Configuration[k] = v
		}
		return nil
	})
	if err != nil {
		return err
	}
	if res := r.Configure(ctx, rec.Configuration); res.Failed() {
		return res.Err()
	}
	return nil
}

func (c *Controller) reportOutcome(kind domain.ReportKind, uuid, outcome, detail string) {
	c.reporter.Enqueue(domain.StatusReport{
		Kind:         kind,
		ActivityUUID: uuid,
		Outcome:      outcome,
		Detail:       detail,
	})
}
