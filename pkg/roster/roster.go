package roster

import (
	"context"
	"errors"
	"time"

	"github.com/bft-labs/livespace/pkg/lifecycle"
)

// ErrNotFound is returned when no record exists for a uuid.
var ErrNotFound = errors.New("activity not in roster")

// InstallStatus tracks where a package is in deployment.
type InstallStatus string

const (
	StatusInstalled    InstallStatus = "installed"
	StatusDeployFailed InstallStatus = "deploy_failed"
)

// StartupPolicy says what a node does with an activity when it boots.
type StartupPolicy string

const (
	// PolicyReady leaves the activity in READY.
	PolicyReady StartupPolicy = "ready"
	// PolicyRunning starts the activity.
	PolicyRunning StartupPolicy = "running"
	// PolicyActive starts and activates the activity.
	PolicyActive StartupPolicy = "active"
)

// Goal returns the state the policy asks for at boot.
func (p StartupPolicy) Goal() lifecycle.ActivityState {
	switch p {
	case PolicyRunning:
		return lifecycle.StateRunning
	case PolicyActive:
		return lifecycle.StateActive
	default:
		return lifecycle.StateReady
	}
}

// Valid reports whether p is a known policy. Empty means ready.
func (p StartupPolicy) Valid() bool {
	switch p {
	case "", PolicyReady, PolicyRunning, PolicyActive:
		return true
	}
	return false
}

// InstalledLiveActivity is the persisted record of one installed activity.
// LastActivityState only ever holds a state confirmed by the lifecycle
// state machine.
type InstalledLiveActivity struct {
	UUID              string                  `json:"uuid"`
	IdentifyingName   string                  `json:"identifying_name"`
	Version           string                  `json:"version"`
	BaseInstallPath   string                  `json:"base_install_path"`
	LastDeployed      time.Time               `json:"last_deployed"`
	LastActivityState lifecycle.ActivityState `json:"last_activity_state"`
	LastStateAt       time.Time               `json:"last_state_at,omitempty"`
	InstallStatus     InstallStatus           `json:"install_status"`
	StartupPolicy     StartupPolicy           `json:"startup_policy,omitempty"`
	NodeUUID          string                  `json:"node_uuid,omitempty"`
	ArtifactURI       string                  `json:"artifact_uri,omitempty"`
	Digest            string                  `json:"digest,omitempty"`
	Type              string                  `json:"type,omitempty"`
	Executable        string                  `json:"executable,omitempty"`
	Configuration     map[string]string       `json:"configuration,omitempty"`
}

// Clone returns a deep copy.
func (r InstalledLiveActivity) Clone() InstalledLiveActivity {
	if r.Configuration != nil {
		cfg := make(map[string]string, len(r.Configuration))
		for k, v := range r.Configuration {
			cfg[k] = v
		}
		r.Configuration = cfg
	}
	return r
}

// Repository is a keyed-by-uuid record store. Implementations return
// copies; callers never hold a reference into the live store.
type Repository interface {
	Get(ctx context.Context, uuid string) (InstalledLiveActivity, error)
	List(ctx context.Context) ([]InstalledLiveActivity, error)
	Put(ctx context.Context, rec InstalledLiveActivity) error
	Delete(ctx context.Context, uuid string) (bool, error)

	// Update applies fn to the stored record as one read-modify-write.
	// It returns ErrNotFound if there is no record.
	Update(ctx context.Context, uuid string, fn func(*InstalledLiveActivity) error) (InstalledLiveActivity, error)
}
