package master

import (
	"sort"
	"sync"
	"time"

	"github.com/bft-labs/livespace/internal/domain"
	"github.com/bft-labs/livespace/pkg/log"
	"github.com/bft-labs/livespace/pkg/metrics"
)

// NodeEntry is the master's record of a registered node.
type NodeEntry struct {
	Identity     domain.NodeIdentity `json:"identity"`
	RegisteredAt time.Time           `json:"registered_at"`
	LastSeen     time.Time           `json:"last_seen"`
	// LastSeq is the highest report sequence number accepted since registration.
	LastSeq uint64 `json:"last_seq"`
}

// Fleet is the roster of registered nodes.
type Fleet struct {
	now     func() time.Time
	logger  log.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	nodes map[string]*NodeEntry
}

// NewFleet creates an empty fleet.
func NewFleet(now func() time.Time, logger log.Logger, m *metrics.Metrics) *Fleet {
	if now == nil {
		now = time.Now
	}
	return &Fleet{
		now:     now,
		logger:  log.OrNoop(logger),
		metrics: m,
		nodes:   make(map[string]*NodeEntry),
	}
}

// Register validates identity and adds or refreshes the node. An invalid
// identity is rejected and leaves the fleet unchanged. A node that
// registers again starts a new report sequence.
func (f *Fleet) Register(identity domain.NodeIdentity) error {
	if err := identity.Validate(); err != nil {
		f.logger.Warn("node registration rejected",
			log.Node(identity.UUID),
			log.String("name", identity.Name),
			log.String("host_id", identity.HostID),
			log.Err(err))
		return err
	}

	now := f.now()
	f.mu.Lock()
	_, known := f.nodes[identity.UUID]
	f.nodes[identity.UUID] = &NodeEntry{Identity: identity, RegisteredAt: now, LastSeen: now}
	n := len(f.nodes)
	f.mu.Unlock()

	f.metrics.SetFleetNodes(n)
	f.logger.Info("node registered",
		log.Node(identity.UUID),
		log.String("name", identity.Name),
		log.String("host_id", identity.HostID),
		log.Bool("reregistered", known))
	return nil
}

// Accept checks a report against the fleet. It fails with
// ErrNodeNotRegistered for unknown nodes and returns false for a report
// whose sequence number was already accepted.
func (f *Fleet) Accept(report domain.StatusReport) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[report.NodeUUID]
	if !ok {
		return false, domain.ErrNodeNotRegistered
	}
	n.LastSeen = f.now()
	if report.Seq != 0 {
		if report.Seq <= n.LastSeq {
			return false, nil
		}
		n.LastSeq = report.Seq
	}
	return true, nil
}

// Get returns a copy of the entry for uuid.
func (f *Fleet) Get(uuid string) (NodeEntry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[uuid]
	if !ok {
		return NodeEntry{}, false
	}
	return *n, true
}

// Remove drops a node from the fleet.
func (f *Fleet) Remove(uuid string) bool {
	f.mu.Lock()
	_, ok := f.nodes[uuid]
	delete(f.nodes, uuid)
	n := len(f.nodes)
	f.mu.Unlock()
	if ok {
		f.metrics.SetFleetNodes(n)
	}
	return ok
}

// List returns a snapshot of the fleet sorted by node name, then uuid.
func (f *Fleet) List() []NodeEntry {
	f.mu.Lock()
	out := make([]NodeEntry, 0, len(f.nodes))
	for _, n := range f.nodes {
		out = append(out, *n)
	}
	f.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Identity.Name != out[j].Identity.Name {
			return out[i].Identity.Name < out[j].Identity.Name
		}
		return out[i].Identity.UUID < out[j].Identity.UUID
	})
	return out
}

// Len returns the number of registered nodes.
func (f *Fleet) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.nodes)
}
