package cliconfig

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/bft-labs/livespace/internal/domain"
)

func stubHost(t *testing.T, id string, idErr error, name string) {
	t.Helper()
	oldID, oldName := hostID, hostname
	hostID = func() (string, error) { return id, idErr }
	hostname = func() (string, error) { return name, nil }
	t.Cleanup(func() { hostID, hostname = oldID, oldName })
}

func TestLoadNodeIdentity_GeneratesAndPersistsUUID(t *testing.T) {
	stubHost(t, "b5c1-host", nil, "edge.local")
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()

	first, err := LoadNodeIdentity(&cfg)
	if err != nil {
		t.Fatalf("LoadNodeIdentity() = %v", err)
	}
	if _, err := uuid.Parse(first.UUID); err != nil {
		t.Fatalf("UUID %q: %v", first.UUID, err)
	}
	if first.HostID != "b5c1-host" || first.Name != "edge.local" {
		t.Errorf("identity = %+v", first)
	}

	b, err := os.ReadFile(filepath.Join(cfg.NodeDir(), NodeIDFile))
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(b)) != first.UUID {
		t.Errorf("persisted %q, want %q", b, first.UUID)
	}

	again := DefaultConfig()
	again.DataDir = cfg.DataDir
	second, err := LoadNodeIdentity(&again)
	if err != nil {
		t.Fatal(err)
	}
	if second.UUID != first.UUID {
		t.Errorf("uuid changed across loads: %q then %q", first.UUID, second.UUID)
	}
}

func TestLoadNodeIdentity_HostIDFallsBackToHostname(t *testing.T) {
	stubHost(t, "", errors.New("no machine id"), "box-7")
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()

	id, err := LoadNodeIdentity(&cfg)
	if err != nil {
		t.Fatal(err)
	}
	if id.HostID != "box-7" {
		t.Errorf("HostID = %q, want hostname", id.HostID)
	}
}

func TestLoadNodeIdentity_SanitizesHostnameAsName(t *testing.T) {
	stubHost(t, "h1", nil, "(edge)#1")
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()

	id, err := LoadNodeIdentity(&cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := domain.ValidateNodeName(id.Name); err != nil {
		t.Errorf("derived name %q invalid: %v", id.Name, err)
	}
}

func TestLoadNodeIdentity_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		file   string
	}{
		{"invalid configured uuid", func(c *Config) { c.Node.UUID = "not-a-uuid" }, ""},
		{"invalid configured name", func(c *Config) { c.Node.Name = "   " }, ""},
		{"corrupt node.id", func(c *Config) {}, "garbage"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stubHost(t, "h1", nil, "edge")
			cfg := DefaultConfig()
			cfg.DataDir = t.TempDir()
			tt.mutate(&cfg)
			if tt.file != "" {
				if err := os.MkdirAll(cfg.NodeDir(), 0o755); err != nil {
					t.Fatal(err)
				}
				if err := os.WriteFile(filepath.Join(cfg.NodeDir(), NodeIDFile), []byte(tt.file), 0o644); err != nil {
					t.Fatal(err)
				}
			}
			if _, err := LoadNodeIdentity(&cfg); err == nil {
				t.Error("LoadNodeIdentity() succeeded")
			}
		})
	}
}
