package cliconfig

import (
	"os"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment variable read by ApplyEnvConfig.
const EnvPrefix = "LIVESPACE_"

// ApplyEnvConfig applies LIVESPACE_* variables. Explicitly set flags win.
// LIVESPACE_NODE_SCHEDULES separates entries with ';'.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)
	env := func(name string) string { return os.Getenv(EnvPrefix + name) }

	s.setString("data-dir", env("DATA_DIR"), &cfg.DataDir)
	s.setString("log-level", env("LOG_LEVEL"), &cfg.LogLevel)
	s.setString("log-format", env("LOG_FORMAT"), &cfg.LogFormat)
	s.setString("sentry-dsn", env("SENTRY_DSN"), &cfg.SentryDSN)

	s.setString("node-uuid", env("NODE_UUID"), &cfg.Node.UUID)
	s.setString("node-name", env("NODE_NAME"), &cfg.Node.Name)
	s.setString("node-description", env("NODE_DESCRIPTION"), &cfg.Node.Description)
	s.setString("host-id", env("NODE_HOST_ID"), &cfg.Node.HostID)
	s.setString("master-url", env("MASTER_URL"), &cfg.Node.MasterURL)
	s.setString("node-listen", env("NODE_LISTEN"), &cfg.Node.Listen)
	s.setString("node-endpoint", env("NODE_ENDPOINT"), &cfg.Node.Endpoint)
	if v := env("NODE_SCHEDULES"); v != "" {
		s.setStrings("schedule", splitSchedules(v), &cfg.Node.Schedules)
	}

	if err := s.setSecondsFromString("sample-interval", env("NODE_SAMPLE_INTERVAL"), &cfg.Node.SampleInterval); err != nil {
		return err
	}
	if err := s.setSecondsFromString("heartbeat-interval", env("NODE_HEARTBEAT_INTERVAL"), &cfg.Node.HeartbeatInterval); err != nil {
		return err
	}

	s.setString("master-listen", env("MASTER_LISTEN"), &cfg.Master.Listen)

	// Shared flags feed both sections; only one runs per process.
	shared := []struct {
		flag, env    string
		node, master *time.Duration
	}{
		{"driver-interval", "DRIVER_INTERVAL", &cfg.Node.DriverInterval, &cfg.Master.DriverInterval},
		{"http-timeout", "HTTP_TIMEOUT", &cfg.Node.HTTPTimeout, &cfg.Master.HTTPTimeout},
		{"goal-timeout", "GOAL_TIMEOUT", &cfg.Node.GoalTimeout, &cfg.Master.GoalTimeout},
	}
	for _, d := range shared {
		if err := s.setDuration(d.flag, env(d.env), d.node); err != nil {
			return err
		}
		if err := s.setDuration(d.flag, env(d.env), d.master); err != nil {
			return err
		}
	}
	return nil
}

func splitSchedules(v string) []string {
	var out []string
	for _, entry := range strings.Split(v, ";") {
		if entry = strings.TrimSpace(entry); entry != "" {
			out = append(out, entry)
		}
	}
	return out
}
