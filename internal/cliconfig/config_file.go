package cliconfig

import (
	"os"
	"path/filepath"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig is the TOML form of Config. Durations are strings.
type FileConfig struct {
	DataDir   string `toml:"data_dir"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	SentryDSN string `toml:"sentry_dsn"`

	Node   NodeFileConfig   `toml:"node"`
	Master MasterFileConfig `toml:"master"`
}

// NodeFileConfig is the [node] table.
type NodeFileConfig struct {
	UUID              string   `toml:"uuid"`
	Name              string   `toml:"name"`
	Description       string   `toml:"description"`
	HostID            string   `toml:"host_id"`
	MasterURL         string   `toml:"master_url"`
	Listen            string   `toml:"listen"`
	Endpoint          string   `toml:"endpoint"`
	SampleInterval    string   `toml:"sample_interval"`
	HeartbeatInterval string   `toml:"heartbeat_interval"`
	DriverInterval    string   `toml:"driver_interval"`
	HTTPTimeout       string   `toml:"http_timeout"`
	GoalTimeout       string   `toml:"goal_timeout"`
	Schedules         []string `toml:"schedules"`
}

// MasterFileConfig is the [master] table.
type MasterFileConfig struct {
	Listen         string `toml:"listen"`
	DriverInterval string `toml:"driver_interval"`
	HTTPTimeout    string `toml:"http_timeout"`
	GoalTimeout    string `toml:"goal_timeout"`
}

// LoadFileConfig reads and parses a TOML config file.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns ~/.livespace/config.toml, or "" without a
// home directory.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".livespace", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies fc to cfg, skipping explicitly set flags.
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("data-dir", fc.DataDir, &cfg.DataDir)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setString("log-format", fc.LogFormat, &cfg.LogFormat)
	s.setString("sentry-dsn", fc.SentryDSN, &cfg.SentryDSN)

	n := fc.Node
	s.setString("node-uuid", n.UUID, &cfg.Node.UUID)
	s.setString("node-name", n.Name, &cfg.Node.Name)
	s.setString("node-description", n.Description, &cfg.Node.Description)
	s.setString("host-id", n.HostID, &cfg.Node.HostID)
	s.setString("master-url", n.MasterURL, &cfg.Node.MasterURL)
	s.setString("node-listen", n.Listen, &cfg.Node.Listen)
	s.setString("node-endpoint", n.Endpoint, &cfg.Node.Endpoint)
	s.setStrings("schedule", n.Schedules, &cfg.Node.Schedules)

	durations := []struct {
		flag  string
		value string
		dst   *time.Duration
	}{
		{"sample-interval", n.SampleInterval, &cfg.Node.SampleInterval},
		{"heartbeat-interval", n.HeartbeatInterval, &cfg.Node.HeartbeatInterval},
		{"driver-interval", n.DriverInterval, &cfg.Node.DriverInterval},
		{"http-timeout", n.HTTPTimeout, &cfg.Node.HTTPTimeout},
		{"goal-timeout", n.GoalTimeout, &cfg.Node.GoalTimeout},
		{"driver-interval", fc.Master.DriverInterval, &cfg.Master.DriverInterval},
		{"http-timeout", fc.Master.HTTPTimeout, &cfg.Master.HTTPTimeout},
		{"goal-timeout", fc.Master.GoalTimeout, &cfg.Master.GoalTimeout},
	}
	for _, d := range durations {
		if err := s.setDuration(d.flag, d.value, d.dst); err != nil {
			return err
		}
	}

	s.setString("master-listen", fc.Master.Listen, &cfg.Master.Listen)
	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
