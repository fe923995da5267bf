// Package livespace runs a livespace master or node from CLI-style
// configuration.
//
// Example usage:
//
//	cfg := livespace.DefaultConfig()
//	cfg.DataDir = "/var/lib/livespace"
//	cfg.Node.MasterURL = "http://master:7700"
//	if err := livespace.RunNode(ctx, cfg); err != nil {
//	    log.Fatal(err)
//	}
//
// Programs that want finer control embed pkg/livespace directly.
package livespace

import (
	"context"

	"github.com/bft-labs/livespace/internal/cliconfig"
	embed "github.com/bft-labs/livespace/pkg/livespace"
	"github.com/bft-labs/livespace/plugins/filecontrol"
)

// Config holds master and node settings.
type Config = cliconfig.Config

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return cliconfig.DefaultConfig()
}

// NewNode validates cfg, resolves the node identity and assembles a node
// with the control directory enabled.
func NewNode(cfg Config, opts ...embed.Option) (*embed.Node, error) {
	if err := cfg.ValidateNode(); err != nil {
		return nil, err
	}
	identity, err := cliconfig.LoadNodeIdentity(&cfg)
	if err != nil {
		return nil, err
	}
	n := cfg.Node
	opts = append(opts, filecontrol.WithFileControl(filecontrol.DefaultConfig()))
	return embed.NewNode(embed.NodeConfig{
		Identity:          identity,
		DataDir:           cfg.NodeDir(),
		MasterURL:         n.MasterURL,
		Listen:            n.Listen,
		SampleInterval:    n.SampleInterval,
		HeartbeatInterval: n.HeartbeatInterval,
		DriverInterval:    n.DriverInterval,
		HTTPTimeout:       n.HTTPTimeout,
		GoalTimeout:       n.GoalTimeout,
		Schedules:         n.Schedules,
	}, opts...)
}

// NewMaster validates cfg and assembles a master.
func NewMaster(cfg Config, opts ...embed.Option) (*embed.Master, error) {
	if err := cfg.ValidateMaster(); err != nil {
		return nil, err
	}
	return embed.NewMaster(embed.MasterConfig{
		DataDir:        cfg.MasterDir(),
		Listen:         cfg.Master.Listen,
		DriverInterval: cfg.Master.DriverInterval,
		HTTPTimeout:    cfg.Master.HTTPTimeout,
		GoalTimeout:    cfg.Master.GoalTimeout,
	}, opts...)
}

// RunNode runs a node until ctx is done.
func RunNode(ctx context.Context, cfg Config, opts ...embed.Option) error {
	n, err := NewNode(cfg, opts...)
	if err != nil {
		return err
	}
	return n.Run(ctx)
}

// RunMaster runs a master until ctx is done.
func RunMaster(ctx context.Context, cfg Config, opts ...embed.Option) error {
	m, err := NewMaster(cfg, opts...)
	if err != nil {
		return err
	}
	return m.Run(ctx)
}
