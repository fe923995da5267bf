package cliconfig

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultMasterListen is the master API address when none is configured.
const DefaultMasterListen = ":7700"

// DefaultNodeListen is the node command API address when none is configured.
const DefaultNodeListen = ":7701"

// Config holds CLI configuration shared by the master and node commands.
type Config struct {
	DataDir   string
	LogLevel  string
	LogFormat string
	SentryDSN string

	Node   NodeConfig
	Master MasterConfig
}

// NodeConfig configures `livespace node`.
type NodeConfig struct {
	UUID        string
	Name        string
	Description string
	HostID      string

	MasterURL string
	Listen    string
	// Endpoint is the command API URL advertised to the master. Derived
	// from Listen when empty.
	Endpoint string

	SampleInterval    time.Duration
	HeartbeatInterval time.Duration
	DriverInterval    time.Duration
	HTTPTimeout       time.Duration
	GoalTimeout       time.Duration

	Schedules []string
}

// MasterConfig configures `livespace master`.
type MasterConfig struct {
	Listen         string
	DriverInterval time.Duration
	HTTPTimeout    time.Duration
	GoalTimeout    time.Duration
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		LogLevel:  "info",
		LogFormat: "console",
		SentryDSN: os.Getenv("LIVESPACE_SENTRY_DSN"),
		Node: NodeConfig{
			Listen:            DefaultNodeListen,
			SampleInterval:    30 * time.Second,
			HeartbeatInterval: time.Minute,
			DriverInterval:    time.Second,
			HTTPTimeout:       15 * time.Second,
			GoalTimeout:       2 * time.Minute,
		},
		Master: MasterConfig{
			Listen:         DefaultMasterListen,
			DriverInterval: time.Second,
			HTTPTimeout:    15 * time.Second,
			GoalTimeout:    2 * time.Minute,
		},
	}
}

// DefaultDataDir returns ~/.livespace/data, or "" if the home directory
// cannot be resolved.
func DefaultDataDir() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".livespace", "data")
	}
	return ""
}

func (c *Config) validateCommon() error {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir()
	}
	if c.DataDir == "" {
		return fmt.Errorf("data-dir is required")
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("log-format must be console or json, got %q", c.LogFormat)
	}
	return nil
}

// ValidateNode checks the node section and derives its defaults.
func (c *Config) ValidateNode() error {
	if err := c.validateCommon(); err != nil {
		return err
	}
	n := &c.Node

	if n.MasterURL == "" {
		return fmt.Errorf("master-url is required")
	}
	n.MasterURL = strings.TrimRight(n.MasterURL, "/")

	if n.Listen == "" {
		n.Listen = DefaultNodeListen
	}
	if n.Endpoint == "" {
		endpoint, err := endpointFor(n.Listen)
		if err != nil {
			return err
		}
		n.Endpoint = endpoint
	}
	n.Endpoint = strings.TrimRight(n.Endpoint, "/")

	if n.DriverInterval <= 0 {
		return fmt.Errorf("driver interval must be positive")
	}
	if n.HeartbeatInterval < 0 {
		return fmt.Errorf("heartbeat interval must not be negative")
	}
	if n.GoalTimeout <= 0 {
		return fmt.Errorf("goal timeout must be positive")
	}
	return nil
}

// ValidateMaster checks the master section and derives its defaults.
func (c *Config) ValidateMaster() error {
	if err := c.validateCommon(); err != nil {
		return err
	}
	if c.Master.Listen == "" {
		c.Master.Listen = DefaultMasterListen
	}
	if c.Master.DriverInterval <= 0 {
		return fmt.Errorf("driver interval must be positive")
	}
	if c.Master.GoalTimeout <= 0 {
		return fmt.Errorf("goal timeout must be positive")
	}
	return nil
}

// endpointFor turns a listen address into a URL the master can dial.
// Wildcard hosts become localhost.
func endpointFor(listen string) (string, error) {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "", fmt.Errorf("listen address %q: %w", listen, err)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port), nil
}

// NodeDir is the node's working directory under the data dir.
func (c Config) NodeDir() string { return filepath.Join(c.DataDir, "node") }

// MasterDir is the master's working directory under the data dir.
func (c Config) MasterDir() string { return filepath.Join(c.DataDir, "master") }

// configSetter applies values unless the matching flag was set explicitly.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

func (s *configSetter) setStrings(flag string, value []string, dst *[]string) {
	if len(value) == 0 || s.changed[flag] {
		return
	}
	*dst = append([]string(nil), value...)
}

func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setSecondsFromString accepts either a Go duration or a bare number of
// seconds, as found in older env files.
func (s *configSetter) setSecondsFromString(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	if n, err := strconv.Atoi(value); err == nil {
		*dst = time.Duration(n) * time.Second
		return nil
	}
	return s.setDuration(flag, value, dst)
}
