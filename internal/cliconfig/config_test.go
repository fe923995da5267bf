package cliconfig

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Node.Listen != DefaultNodeListen {
		t.Errorf("Node.Listen = %v, want %v", cfg.Node.Listen, DefaultNodeListen)
	}
	if cfg.Master.Listen != DefaultMasterListen {
		t.Errorf("Master.Listen = %v, want %v", cfg.Master.Listen, DefaultMasterListen)
	}
	if cfg.Node.GoalTimeout != 2*time.Minute {
		t.Errorf("Node.GoalTimeout = %v, want 2m", cfg.Node.GoalTimeout)
	}
	if cfg.LogFormat != "console" {
		t.Errorf("LogFormat = %v", cfg.LogFormat)
	}
}

func TestConfig_ValidateNode(t *testing.T) {
	tests := []struct {
		name         string
		mutate       func(*Config)
		wantErr      string
		wantEndpoint string
		wantMaster   string
	}{
		{
			name:         "derives endpoint from wildcard listen",
			mutate:       func(c *Config) { c.Node.MasterURL = "http://master:7700/" },
			wantEndpoint: "http://localhost:7701",
			wantMaster:   "http://master:7700",
		},
		{
			name: "keeps explicit endpoint",
			mutate: func(c *Config) {
				c.Node.MasterURL = "http://master:7700"
				c.Node.Endpoint = "http://10.0.0.5:9000/"
			},
			wantEndpoint: "http://10.0.0.5:9000",
			wantMaster:   "http://master:7700",
		},
		{
			name: "uses listen host when set",
			mutate: func(c *Config) {
				c.Node.MasterURL = "http://master:7700"
				c.Node.Listen = "192.168.1.4:8000"
			},
			wantEndpoint: "http://192.168.1.4:8000",
			wantMaster:   "http://master:7700",
		},
		{
			name:    "master url required",
			mutate:  func(c *Config) {},
			wantErr: "master-url",
		},
		{
			name: "bad listen address",
			mutate: func(c *Config) {
				c.Node.MasterURL = "http://master:7700"
				c.Node.Listen = "nonsense"
			},
			wantErr: "listen address",
		},
		{
			name: "bad log format",
			mutate: func(c *Config) {
				c.Node.MasterURL = "http://master:7700"
				c.LogFormat = "xml"
			},
			wantErr: "log-format",
		},
		{
			name: "non-positive driver interval",
			mutate: func(c *Config) {
				c.Node.MasterURL = "http://master:7700"
				c.Node.DriverInterval = 0
			},
			wantErr: "driver interval",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.DataDir = t.TempDir()
			tt.mutate(&cfg)

			err := cfg.ValidateNode()
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("ValidateNode() = %v, want error containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateNode() = %v", err)
			}
			if cfg.Node.Endpoint != tt.wantEndpoint {
				t.Errorf("Endpoint = %q, want %q", cfg.Node.Endpoint, tt.wantEndpoint)
			}
			if cfg.Node.MasterURL != tt.wantMaster {
				t.Errorf("MasterURL = %q, want %q", cfg.Node.MasterURL, tt.wantMaster)
			}
		})
	}
}

func TestConfig_ValidateMaster(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/srv/livespace"
	cfg.Master.Listen = ""
	if err := cfg.ValidateMaster(); err != nil {
		t.Fatalf("ValidateMaster() = %v", err)
	}
	if cfg.Master.Listen != DefaultMasterListen {
		t.Errorf("Listen = %q", cfg.Master.Listen)
	}
	if got := cfg.MasterDir(); got != filepath.Join("/srv/livespace", "master") {
		t.Errorf("MasterDir() = %q", got)
	}

	cfg.Master.GoalTimeout = 0
	if err := cfg.ValidateMaster(); err == nil {
		t.Error("ValidateMaster() accepted a zero goal timeout")
	}
}

func TestApplyEnvConfig(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		changed map[string]bool
		check   func(t *testing.T, c Config)
		wantErr bool
	}{
		{
			name: "applies node and shared values",
			env: map[string]string{
				"LIVESPACE_DATA_DIR":                "/env/data",
				"LIVESPACE_MASTER_URL":              "http://m:7700",
				"LIVESPACE_NODE_NAME":               "edge-1",
				"LIVESPACE_NODE_HEARTBEAT_INTERVAL": "45",
				"LIVESPACE_GOAL_TIMEOUT":            "5m",
				"LIVESPACE_NODE_SCHEDULES":          "a startup @daily; b shutdown @hourly ;",
			},
			check: func(t *testing.T, c Config) {
				if c.DataDir != "/env/data" || c.Node.MasterURL != "http://m:7700" || c.Node.Name != "edge-1" {
					t.Errorf("strings not applied: %+v", c)
				}
				if c.Node.HeartbeatInterval != 45*time.Second {
					t.Errorf("HeartbeatInterval = %v", c.Node.HeartbeatInterval)
				}
				if c.Node.GoalTimeout != 5*time.Minute || c.Master.GoalTimeout != 5*time.Minute {
					t.Errorf("goal timeouts = %v/%v", c.Node.GoalTimeout, c.Master.GoalTimeout)
				}
				want := []string{"a startup @daily", "b shutdown @hourly"}
				if !reflect.DeepEqual(c.Node.Schedules, want) {
					t.Errorf("Schedules = %q", c.Node.Schedules)
				}
			},
		},
		{
			name:    "respects changed flags",
			env:     map[string]string{"LIVESPACE_DATA_DIR": "/env/data", "LIVESPACE_NODE_NAME": "edge-1"},
			changed: map[string]bool{"data-dir": true},
			check: func(t *testing.T, c Config) {
				if c.DataDir != "" {
					t.Errorf("DataDir = %q, flag should win", c.DataDir)
				}
				if c.Node.Name != "edge-1" {
					t.Errorf("Name = %q", c.Node.Name)
				}
			},
		},
		{
			name:    "invalid duration",
			env:     map[string]string{"LIVESPACE_DRIVER_INTERVAL": "soon"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			var cfg Config
			err := ApplyEnvConfig(&cfg, tt.changed)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ApplyEnvConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestLoadAndApplyFileConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
data_dir = "/file/data"
log_level = "debug"

[node]
master_url = "http://master:7700"
name = "file-node"
heartbeat_interval = "10s"
schedules = ["a1 restart 0 3 * * *"]

[master]
listen = ":9000"
driver_interval = "2s"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if !FileExists(path) {
		t.Fatal("FileExists() = false")
	}

	fc, err := LoadFileConfig(path)
	if err != nil {
		t.Fatalf("LoadFileConfig() = %v", err)
	}

	cfg := DefaultConfig()
	cfg.Node.Name = "flag-node"
	if err := ApplyFileConfig(&cfg, fc, map[string]bool{"node-name": true}); err != nil {
		t.Fatalf("ApplyFileConfig() = %v", err)
	}

	if cfg.DataDir != "/file/data" || cfg.LogLevel != "debug" {
		t.Errorf("top level = %q %q", cfg.DataDir, cfg.LogLevel)
	}
	if cfg.Node.Name != "flag-node" {
		t.Errorf("Node.Name = %q, flag should win", cfg.Node.Name)
	}
	if cfg.Node.HeartbeatInterval != 10*time.Second {
		t.Errorf("HeartbeatInterval = %v", cfg.Node.HeartbeatInterval)
	}
	if len(cfg.Node.Schedules) != 1 || cfg.Node.Schedules[0] != "a1 restart 0 3 * * *" {
		t.Errorf("Schedules = %q", cfg.Node.Schedules)
	}
	if cfg.Master.Listen != ":9000" || cfg.Master.DriverInterval != 2*time.Second {
		t.Errorf("master = %+v", cfg.Master)
	}
	if cfg.Node.DriverInterval != time.Second {
		t.Errorf("master table leaked into node: %v", cfg.Node.DriverInterval)
	}
}

func TestApplyFileConfig_InvalidDuration(t *testing.T) {
	cfg := DefaultConfig()
	fc := FileConfig{Node: NodeFileConfig{SampleInterval: "often"}}
	if err := ApplyFileConfig(&cfg, fc, nil); err == nil {
		t.Error("ApplyFileConfig() accepted an invalid duration")
	}
}

func TestDefaultConfigPath(t *testing.T) {
	if p := DefaultConfigPath(); p != "" && !strings.HasSuffix(p, filepath.Join(".livespace", "config.toml")) {
		t.Errorf("DefaultConfigPath() = %q", p)
	}
}
