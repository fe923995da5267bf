package cliconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/host"

	"github.com/bft-labs/livespace/internal/domain"
)

// NodeIDFile holds the node uuid generated on first start.
const NodeIDFile = "node.id"

// hostID and hostname are swapped in tests.
var (
	hostID   = host.HostID
	hostname = os.Hostname
)

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9 ._-]+`)

// LoadNodeIdentity fills the identity fields of cfg.Node that are unset
// and returns the resulting identity. A generated uuid is persisted in
// <data>/node/node.id so the node keeps it across restarts.
func LoadNodeIdentity(cfg *Config) (domain.NodeIdentity, error) {
	n := &cfg.Node

	if n.UUID == "" {
		id, err := loadOrCreateNodeID(cfg.NodeDir())
		if err != nil {
			return domain.NodeIdentity{}, fmt.Errorf("node id: %w", err)
		}
		n.UUID = id
	}

	if n.HostID == "" {
		id, err := hostID()
		if err != nil || id == "" {
			if id, err = hostname(); err != nil {
				return domain.NodeIdentity{}, fmt.Errorf("host id: %w", err)
			}
		}
		n.HostID = id
	}

	if n.Name == "" {
		h, err := hostname()
		if err != nil {
			return domain.NodeIdentity{}, fmt.Errorf("node name: %w", err)
		}
		n.Name = strings.Trim(unsafeNameChars.ReplaceAllString(h, "-"), "-")
	}

	id := domain.NodeIdentity{
		UUID:        n.UUID,
		Name:        n.Name,
		Description: n.Description,
		HostID:      n.HostID,
		Endpoint:    n.Endpoint,
	}
	if err := id.Validate(); err != nil {
		return domain.NodeIdentity{}, err
	}
	return id, nil
}

func loadOrCreateNodeID(dir string) (string, error) {
	path := filepath.Join(dir, NodeIDFile)
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		id := strings.TrimSpace(string(b))
		if _, perr := uuid.Parse(id); perr != nil {
			return "", fmt.Errorf("%s: %w", path, perr)
		}
		return id, nil
	case !errors.Is(err, os.ErrNotExist):
		return "", err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id+"\n"), 0o644); err != nil {
		return "", err
	}
	return id, nil
}
