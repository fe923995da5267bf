package domain

import "fmt"

// CommandKind names what a Command asks a node to do.
type CommandKind string

const (
	CommandDeploy      CommandKind = "deploy"
	CommandDelete      CommandKind = "delete"
	CommandConfigure   CommandKind = "configure"
	CommandStartup     CommandKind = "startup"
	CommandActivate    CommandKind = "activate"
	CommandDeactivate  CommandKind = "deactivate"
	CommandShutdown    CommandKind = "shutdown"
	CommandRestart     CommandKind = "restart"
	CommandStatus      CommandKind = "status"
	CommandShutdownAll CommandKind = "shutdown-all"
)

// Targeted reports whether the kind acts on a single activity.
func (k CommandKind) Targeted() bool {
	switch k {
	case CommandStatus, CommandShutdownAll:
		return false
	}
	return true
}

// DeploySpec carries what a node needs to install an activity.
type DeploySpec struct {
	IdentifyingName string            `json:"identifying_name"`
	Version         string            `json:"version"`
	ArtifactURI     string            `json:"artifact_uri"`
	Digest          string            `json:"digest,omitempty"`
	StartupPolicy   string            `json:"startup_policy,omitempty"`
	Type            string            `json:"type,omitempty"`
	Configuration   map[string]string `json:"configuration,omitempty"`
}

// Command is one request from the master to a node.
type Command struct {
	ID           string            `json:"id"`
	Kind         CommandKind       `json:"kind"`
	ActivityUUID string            `json:"activity_uuid,omitempty"`
	Deploy       *DeploySpec       `json:"deploy,omitempty"`
	Config       map[string]string `json:"configuration,omitempty"`
}

// Validate checks that the fields the kind needs are present.
func (c Command) Validate() error {
	switch c.Kind {
	case CommandDeploy, CommandDelete, CommandConfigure, CommandStartup,
		CommandActivate, CommandDeactivate, CommandShutdown, CommandRestart,
		CommandStatus, CommandShutdownAll:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, c.Kind)
	}
	if c.Kind.Targeted() && c.ActivityUUID == "" {
		return fmt.Errorf("%s command needs an activity uuid", c.Kind)
	}
	if c.Kind == CommandDeploy && c.Deploy == nil {
		return fmt.Errorf("deploy command needs a deploy spec")
	}
	return nil
}

func (c Command) String() string {
	if c.ActivityUUID == "" {
		return string(c.Kind)
	}
	return fmt.Sprintf("%s(%s)", c.Kind, c.ActivityUUID)
}
