package service

import (
	"context"

	"github.com/anthanhphan/gosdk/logger"

	"github.com/anthanhphan/go-replicated-kv/internal/node/protocol"
	"github.com/anthanhphan/go-replicated-kv/pkg/ring"
)

// livenessService applies membership and liveness control messages.
type livenessService struct {
	core *NodeRuntime
}

// handleStartNode appends a node to the membership view. Start events are
// delivered to every node, so all views converge on the same ring.
func (l *livenessService) handleStartNode(env protocol.Envelope) {
	if env.Node == "" {
		logger.Warnw("startNode without node id", "source", env.Source)
		return
	}

	l.core.AdmitNode(ring.Node{ID: env.Node})
	logger.Infow("node joined ring",
		"node", l.core.nodeID, "joined", env.Node, "members", l.core.ring.Size())
}

// handleFailNode flips the target to Failed. For the local node this is a
// freeze: store content is retained, in-flight coordinations are silently
// destroyed (a Failed node sends no replies), and all data-plane traffic is
// ignored until recovery.
func (l *livenessService) handleFailNode(env protocol.Envelope) {
	target := env.Node
	if target == "" {
		logger.Warnw("failNode without node id", "source", env.Source)
		return
	}

	core := l.core
	core.mu.Lock()
	core.liveness[target] = LivenessFailed
	if target == core.nodeID {
		core.self = LivenessFailed
	}
	core.mu.Unlock()

	if target == core.nodeID {
		core.pend.dropAll()
		logger.Infow("liveness fault injected, node frozen", "node", core.nodeID)
		return
	}
	logger.Infow("peer marked failed", "node", core.nodeID, "peer", target)
}

// handleRecoverNode flips the target back to Active. The local node first
// runs stabilization; until it completes the node stays observably
// unavailable to clients.
func (l *livenessService) handleRecoverNode(ctx context.Context, env protocol.Envelope) {
	target := env.Node
	if target == "" {
		logger.Warnw("recoverNode without node id", "source", env.Source)
		return
	}

	core := l.core
	if target != core.nodeID {
		core.mu.Lock()
		core.liveness[target] = LivenessActive
		core.mu.Unlock()
		logger.Infow("peer marked recovered", "node", core.nodeID, "peer", target)
		return
	}

	core.mu.Lock()
	if core.self == LivenessActive {
		core.mu.Unlock()
		return // duplicate recovery trigger
	}
	core.self = LivenessActive
	core.recovering = true
	core.liveness[core.nodeID] = LivenessActive
	core.mu.Unlock()

	logger.Infow("recovery triggered, stabilizing", "node", core.nodeID)
	go core.stab.run(ctx)
}
