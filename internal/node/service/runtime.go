package service

import (
	"context"
	"sync"
	"time"

	"github.com/anthanhphan/gosdk/logger"

	"github.com/anthanhphan/go-replicated-kv/internal/node/domain"
	"github.com/anthanhphan/go-replicated-kv/internal/node/port"
	"github.com/anthanhphan/go-replicated-kv/internal/node/protocol"
	"github.com/anthanhphan/go-replicated-kv/pkg/idgen"
	"github.com/anthanhphan/go-replicated-kv/pkg/ring"
)

// LivenessState is a node's externally injected availability. Failure is a
// fail-stop liveness fault: the node's ring positions and store content are
// retained, it just stops processing and replying.
type LivenessState string

const (
	LivenessActive LivenessState = "active"
	LivenessFailed LivenessState = "failed"
)

// Settings carries the replication parameters fixed at startup.
type Settings struct {
	ReplicationFactor int
	WriteTimeout      time.Duration
	ReadTimeout       time.Duration
	StabilizeTimeout  time.Duration

	// IDClock overrides the time source for correlation ids. Nil means the
	// system clock.
	IDClock idgen.Clock
}

func (s Settings) withDefaults() Settings {
	if s.ReplicationFactor <= 0 {
		s.ReplicationFactor = 3
	}
	if s.WriteTimeout <= 0 {
		s.WriteTimeout = 2 * time.Second
	}
	if s.ReadTimeout <= 0 {
		s.ReadTimeout = 2 * time.Second
	}
	if s.StabilizeTimeout <= 0 {
		s.StabilizeTimeout = 5 * time.Second
	}
	return s
}

// NodeRuntime is the per-process state machine: one ring view, one local
// store, and the dispatch loop turning broker messages into store
// operations, replica fan-out, and replies. It is a facade over the
// per-concern services, the same composition used across our services.
type NodeRuntime struct {
	nodeID    string
	settings  Settings
	ring      *ring.Ring
	store     port.StoreRepository
	transport port.Transport
	ids       *idgen.Snowflake

	mu         sync.RWMutex
	self       LivenessState
	recovering bool
	liveness   map[string]LivenessState

	pend *pendingTable

	writer *writeService
	reader *readService
	lives  *livenessService
	stab   *stabilizeService
}

// Ensure NodeRuntime implements port.NodeService.
var _ port.NodeService = (*NodeRuntime)(nil)

// NewNodeRuntime builds the runtime and admits the local node into the ring.
func NewNodeRuntime(nodeID string, rg *ring.Ring, store port.StoreRepository, transport port.Transport, settings Settings) *NodeRuntime {
	r := &NodeRuntime{
		nodeID:    nodeID,
		settings:  settings.withDefaults(),
		ring:      rg,
		store:     store,
		transport: transport,
		ids:       idgen.NewForNode(nodeID, settings.IDClock),
		self:      LivenessActive,
		liveness:  make(map[string]LivenessState),
		pend:      newPendingTable(),
	}

	r.writer = &writeService{core: r}
	r.reader = &readService{core: r}
	r.lives = &livenessService{core: r}
	r.stab = &stabilizeService{core: r}

	r.AdmitNode(ring.Node{ID: nodeID})
	return r
}

// Start runs the dispatch loop until the context is canceled or the
// transport's inbound channel closes.
func (r *NodeRuntime) Start(ctx context.Context) {
	go r.dispatchLoop(ctx)
}

// Announce broadcasts this node's membership to the cluster.
func (r *NodeRuntime) Announce(ctx context.Context) error {
	return r.transport.Broadcast(ctx, protocol.Envelope{
		Kind: protocol.KindStartNode,
		Node: r.nodeID,
	})
}

func (r *NodeRuntime) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-r.transport.Inbound():
			if !ok {
				return
			}
			r.Dispatch(ctx, env)
		}
	}
}

// Dispatch handles a single inbound envelope to completion. One message at
// a time; a malformed message aborts its own handling only.
func (r *NodeRuntime) Dispatch(ctx context.Context, env protocol.Envelope) {
	if !env.Kind.Valid() {
		logger.Warnw("dropping message with unknown kind",
			"node", r.nodeID, "kind", string(env.Kind), "source", env.Source)
		return
	}
	if !r.admits(env.Kind) {
		return
	}

	switch env.Kind {
	case protocol.KindStartNode:
		r.lives.handleStartNode(env)
	case protocol.KindFailNode:
		r.lives.handleFailNode(env)
	case protocol.KindRecoverNode:
		r.lives.handleRecoverNode(ctx, env)
	case protocol.KindSet:
		r.writer.handleSet(ctx, env)
	case protocol.KindReplicate:
		r.writer.handleReplicate(ctx, env)
	case protocol.KindReplicateAck:
		r.writer.handleReplicateAck(ctx, env)
	case protocol.KindGet:
		r.reader.handleGet(ctx, env)
	case protocol.KindReadReplica:
		r.reader.handleReadReplica(ctx, env)
	case protocol.KindReadReplicaAck:
		r.reader.handleReadReplicaAck(ctx, env)
	case protocol.KindPullRange:
		r.stab.handlePullRange(ctx, env)
	case protocol.KindPullRangeReply:
		r.stab.handlePullReply(env)
	case protocol.KindSetResponse, protocol.KindGetResponse:
		// Client-facing responses are consumed by whoever issued the
		// request (harness, admin surface); a serving node ignores them.
		logger.Debugw("ignoring client response frame",
			"node", r.nodeID, "kind", string(env.Kind), "source", env.Source)
	}
}

// admits is the liveness gate at the top of every handler entry point.
// A Failed node takes no data-plane action; control messages are always
// applied so every node keeps an identical membership and liveness view,
// and so a failed node can observe its own recovery trigger. A recovering
// node only consumes replies to its own stabilization pulls.
func (r *NodeRuntime) admits(kind protocol.Kind) bool {
	if kind.Control() {
		return true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.self != LivenessActive {
		return false
	}
	if r.recovering {
		return kind == protocol.KindPullRangeReply
	}
	return true
}

// Set coordinates a quorum write on behalf of a local caller.
func (r *NodeRuntime) Set(ctx context.Context, key, value string) error {
	if !r.serving() {
		return port.ErrNodeUnavailable
	}

	done := make(chan result, 1)
	r.writer.startSet(ctx, key, value, "", 0, done)

	select {
	case res := <-done:
		if res.status != protocol.StatusOK {
			return port.ErrQuorumNotMet
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get coordinates a quorum read on behalf of a local caller.
func (r *NodeRuntime) Get(ctx context.Context, key string) (domain.ReadResult, error) {
	if !r.serving() {
		return domain.ReadResult{}, port.ErrNodeUnavailable
	}

	done := make(chan result, 1)
	r.reader.startGet(ctx, key, "", 0, done)

	select {
	case res := <-done:
		if res.status == protocol.StatusFailed {
			return domain.ReadResult{}, port.ErrQuorumNotMet
		}
		rr := domain.ReadResult{Degraded: res.status == protocol.StatusDegraded}
		if res.entry != nil {
			rr.Found = true
			rr.Value = res.entry.Value
		}
		return rr, nil
	case <-ctx.Done():
		return domain.ReadResult{}, ctx.Err()
	}
}

// Owners returns the ordered replica list for a key.
func (r *NodeRuntime) Owners(key string) []ring.Node {
	return r.ring.Replicas(key, r.settings.ReplicationFactor)
}

// AdmitNode appends a node to the membership view. Idempotent; membership
// only ever grows.
func (r *NodeRuntime) AdmitNode(node ring.Node) {
	r.ring.AddNode(node)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.liveness[node.ID]; !ok {
		r.liveness[node.ID] = LivenessActive
	}
}

// Status returns an inspection snapshot.
func (r *NodeRuntime) Status() domain.NodeStatus {
	members := r.ring.Nodes()
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ID)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return domain.NodeStatus{
		NodeID:     r.nodeID,
		State:      string(r.self),
		Recovering: r.recovering,
		Members:    ids,
		Keys:       r.store.Len(),
	}
}

// Entries returns the local store content, replicated or not. Inspection
// only; a quorum-consistent view goes through Get.
func (r *NodeRuntime) Entries() []domain.Entry {
	return r.store.List()
}

func (r *NodeRuntime) serving() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.self == LivenessActive && !r.recovering
}

func (r *NodeRuntime) isActive(nodeID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.liveness[nodeID] != LivenessFailed
}

// filterActive drops owners currently believed Failed and reports whether
// the local node is among the remaining owners. A node we have never heard
// a liveness verdict about is believed Active.
func (r *NodeRuntime) filterActive(owners []ring.Node) (active []ring.Node, selfOwner bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, n := range owners {
		if r.liveness[n.ID] == LivenessFailed {
			continue
		}
		if n.ID == r.nodeID {
			if r.self != LivenessActive || r.recovering {
				continue
			}
			selfOwner = true
		}
		active = append(active, n)
	}
	return active, selfOwner
}

// nextID returns a fresh correlation id.
func (r *NodeRuntime) nextID() int64 {
	id, err := r.ids.Next()
	if err != nil {
		// Clock skew: fall back to wall time, uniqueness per node still
		// overwhelmingly likely at our request rates.
		logger.Warnw("correlation id generation failed, using wall clock",
			"node", r.nodeID, "error", err.Error())
		return time.Now().UnixNano()
	}
	return id
}
