// Package loopback connects a master and its nodes inside one process.
// It is used by single-host deployments and by tests.
package loopback

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bft-labs/livespace/internal/domain"
	"github.com/bft-labs/livespace/internal/ports"
)

// MasterLink delivers node traffic straight to a StatusHandler.
type MasterLink struct {
	master ports.StatusHandler
}

// NewMasterLink returns a link to master.
func NewMasterLink(master ports.StatusHandler) *MasterLink {
	return &MasterLink{master: master}
}

func (l *MasterLink) Register(ctx context.Context, identity domain.NodeIdentity) error {
	return l.master.Register(ctx, identity)
}

func (l *MasterLink) Report(ctx context.Context, report domain.StatusReport) error {
	return l.master.HandleStatus(ctx, report)
}

// Hub routes master commands to in-process nodes by node uuid.
type Hub struct {
	mu    sync.RWMutex
	nodes map[string]*attachment
}

// attachment identifies one Attach call, so a stale detach cannot remove
// a newer handler for the same node.
type attachment struct {
	handler ports.CommandHandler
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{nodes: make(map[string]*attachment)}
}

// Attach routes commands for nodeUUID to h and returns a func that
// detaches it again.
func (h *Hub) Attach(nodeUUID string, handler ports.CommandHandler) func() {
	a := &attachment{handler: handler}
	h.mu.Lock()
	h.nodes[nodeUUID] = a
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		if h.nodes[nodeUUID] == a {
			delete(h.nodes, nodeUUID)
		}
		h.mu.Unlock()
	}
}

// Send runs cmd on the node. Errors returned by the node mean it
// refused the command and are wrapped with domain.ErrRejected; a node
// that is not attached is unreachable and may come back.
func (h *Hub) Send(ctx context.Context, node domain.NodeIdentity, cmd domain.Command) error {
	h.mu.RLock()
	a, ok := h.nodes[node.UUID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("node %s is not attached", node.UUID)
	}
	if err := a.handler.HandleCommand(ctx, cmd); err != nil {
		if errors.Is(err, domain.ErrRejected) {
			return err
		}
		return fmt.Errorf("%w: %w", domain.ErrRejected, err)
	}
	return nil
}

var (
	_ ports.MasterLink = (*MasterLink)(nil)
	_ ports.NodeLink   = (*Hub)(nil)
)
