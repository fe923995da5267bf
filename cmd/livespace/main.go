package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/bft-labs/livespace"
	"github.com/bft-labs/livespace/internal/cliconfig"
	"github.com/bft-labs/livespace/pkg/alert"
	embed "github.com/bft-labs/livespace/pkg/livespace"
	"github.com/bft-labs/livespace/pkg/log"
)

const longHelp = `
livespace runs live activities across a fleet of machines.

A master keeps the roster of activities and drives each one toward the
state an operator asked for. Nodes install activity packages, host them
and report every confirmed state change back to the master.

Configure via $HOME/.livespace/config.toml, LIVESPACE_* environment
variables or flags. Flags win over the environment, which wins over the
file.
`

var exampleUsage = strings.TrimSpace(`
  livespace master --listen :7700
  livespace node --master-url http://master:7700 --node-name edge-1
  livespace node --config /etc/livespace/config.toml
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return embed.Version
}

func main() {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string

	root := &cobra.Command{
		Use:           "livespace",
		Short:         "Run live activities across a fleet of machines",
		Long:          strings.TrimSpace(longHelp),
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.livespace/config.toml)")
	pf.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "data directory (default: $HOME/.livespace/data)")
	pf.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	pf.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: console or json")
	pf.StringVar(&cfg.SentryDSN, "sentry-dsn", cfg.SentryDSN, "report alerts to this Sentry DSN")

	nodeCmd := &cobra.Command{
		Use:   "node",
		Short: "Run a node that hosts live activities",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd, &cfg, cfgPath); err != nil {
				return err
			}
			return run(cfg, "node", func(ctx context.Context, opts []embed.Option) error {
				return livespace.RunNode(ctx, cfg, opts...)
			})
		},
	}
	nf := nodeCmd.Flags()
	nf.StringVar(&cfg.Node.MasterURL, "master-url", cfg.Node.MasterURL, "master API URL")
	nf.StringVar(&cfg.Node.UUID, "node-uuid", cfg.Node.UUID, "node uuid (default: generated and kept in <data-dir>/node/node.id)")
	nf.StringVar(&cfg.Node.Name, "node-name", cfg.Node.Name, "node name (default: hostname)")
	nf.StringVar(&cfg.Node.Description, "node-description", cfg.Node.Description, "node description")
	nf.StringVar(&cfg.Node.HostID, "host-id", cfg.Node.HostID, "host id (default: machine id)")
	nf.StringVar(&cfg.Node.Listen, "node-listen", cfg.Node.Listen, "command API listen address")
	nf.StringVar(&cfg.Node.Endpoint, "node-endpoint", cfg.Node.Endpoint, "command API URL advertised to the master")
	nf.DurationVar(&cfg.Node.SampleInterval, "sample-interval", cfg.Node.SampleInterval, "activity health sampling period (negative disables)")
	nf.DurationVar(&cfg.Node.HeartbeatInterval, "heartbeat-interval", cfg.Node.HeartbeatInterval, "heartbeat period (0 disables)")
	nf.DurationVar(&cfg.Node.DriverInterval, "driver-interval", cfg.Node.DriverInterval, "goal reconciliation period")
	nf.DurationVar(&cfg.Node.HTTPTimeout, "http-timeout", cfg.Node.HTTPTimeout, "HTTP timeout")
	nf.DurationVar(&cfg.Node.GoalTimeout, "goal-timeout", cfg.Node.GoalTimeout, "give up on a goal after this long")
	nf.StringArrayVar(&cfg.Node.Schedules, "schedule", cfg.Node.Schedules, `scheduled command "<uuid> <command> <cron spec>" (repeatable)`)

	masterCmd := &cobra.Command{
		Use:   "master",
		Short: "Run the master that coordinates the nodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd, &cfg, cfgPath); err != nil {
				return err
			}
			return run(cfg, "master", func(ctx context.Context, opts []embed.Option) error {
				return livespace.RunMaster(ctx, cfg, opts...)
			})
		},
	}
	mf := masterCmd.Flags()
	mf.StringVar(&cfg.Master.Listen, "listen", cfg.Master.Listen, "API listen address")
	mf.DurationVar(&cfg.Master.DriverInterval, "driver-interval", cfg.Master.DriverInterval, "goal reconciliation period")
	mf.DurationVar(&cfg.Master.HTTPTimeout, "http-timeout", cfg.Master.HTTPTimeout, "HTTP timeout")
	mf.DurationVar(&cfg.Master.GoalTimeout, "goal-timeout", cfg.Master.GoalTimeout, "give up on a goal after this long")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), root.Version)
		},
	}

	root.AddCommand(nodeCmd, masterCmd, versionCmd)
	if err := root.Execute(); err != nil {
		log.New(os.Stderr, cfg.LogLevel, cfg.LogFormat).Error("livespace", log.Err(err))
		os.Exit(1)
	}
}

// loadConfig applies the file and environment layers under the flags.
func loadConfig(cmd *cobra.Command, cfg *cliconfig.Config, cfgPath string) error {
	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	cfgFile := cfgPath
	if cfgFile == "" {
		cfgFile = cliconfig.DefaultConfigPath()
	}
	if cfgFile != "" && cliconfig.FileExists(cfgFile) {
		fc, err := cliconfig.LoadFileConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := cliconfig.ApplyFileConfig(cfg, fc, changed); err != nil {
			return err
		}
	} else if cfgPath != "" {
		return fmt.Errorf("config file %s not found", cfgPath)
	}
	return cliconfig.ApplyEnvConfig(cfg, changed)
}

// run wires logging, alerts and metrics, then runs until SIGINT or SIGTERM.
func run(cfg cliconfig.Config, role string, body func(ctx context.Context, opts []embed.Option) error) error {
	logger := log.New(os.Stderr, cfg.LogLevel, cfg.LogFormat).With(log.String("role", role))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []embed.Option{
		embed.WithLogger(logger),
		embed.WithRegistry(reg),
	}

	if cfg.SentryDSN != "" {
		sink, err := alert.NewSentrySink(sentry.ClientOptions{
			Dsn:     cfg.SentryDSN,
			Release: "livespace@" + getVersion(),
		}, alert.SeverityError)
		if err != nil {
			return fmt.Errorf("sentry: %w", err)
		}
		defer sink.Flush(2 * time.Second)
		opts = append(opts, embed.WithAlerts(sink))
		logger.Info("alerts forwarded to sentry")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting", log.String("version", getVersion()), log.String("data_dir", cfg.DataDir))
	if err := body(ctx, opts); err != nil {
		return fmt.Errorf("%s: %w", role, err)
	}
	logger.Info("stopped")
	return nil
}
