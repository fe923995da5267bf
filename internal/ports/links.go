package ports

import (
	"context"

	"github.com/bft-labs/livespace/internal/domain"
)

// MasterLink carries node traffic to the master.
type MasterLink interface {
	// Register announces the node. The master rejects identities that
	// break the naming rules.
	Register(ctx context.Context, identity domain.NodeIdentity) error

	// Report delivers one status report. A nil error means the master
	// accepted it.
	Report(ctx context.Context, report domain.StatusReport) error
}

// NodeLink carries master commands to a node.
type NodeLink interface {
	Send(ctx context.Context, node domain.NodeIdentity, cmd domain.Command) error
}

// CommandHandler receives commands on a node.
type CommandHandler interface {
	HandleCommand(ctx context.Context, cmd domain.Command) error
}

// StatusHandler receives node traffic on the master.
type StatusHandler interface {
	Register(ctx context.Context, identity domain.NodeIdentity) error
	HandleStatus(ctx context.Context, report domain.StatusReport) error
}
