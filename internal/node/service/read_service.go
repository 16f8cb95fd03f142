package service

import (
	"context"

	"github.com/anthanhphan/gosdk/logger"

	"github.com/anthanhphan/go-replicated-kv/internal/node/protocol"
	"github.com/anthanhphan/go-replicated-kv/pkg/ring"
)

// readService runs the coordinator read path: query Active owners, gather a
// majority, resolve conflicts by highest version. A timeout with at least
// one response degrades instead of failing outright.
type readService struct {
	core *NodeRuntime
}

func (r *readService) handleGet(ctx context.Context, env protocol.Envelope) {
	if env.Key == "" {
		logger.Warnw("get without key", "node", r.core.nodeID, "source", env.Source)
		return
	}
	r.startGet(ctx, env.Key, env.Source, env.CorrelationID, nil)
}

func (r *readService) startGet(ctx context.Context, key, replyTo string, replyCorr int64, done chan result) {
	core := r.core
	owners := core.ring.Replicas(key, core.settings.ReplicationFactor)
	active, selfOwner := core.filterActive(owners)
	if len(active) == 0 {
		logger.Warnw("read rejected, no active owner", "node", core.nodeID, "key", key)
		r.finish(ctx, &pendingRequest{key: key, replyTo: replyTo, replyCorr: replyCorr, done: done}, protocol.StatusFailed)
		return
	}
	needed := len(active)/2 + 1

	p := &pendingRequest{
		id:        core.nextID(),
		kind:      pendingGet,
		key:       key,
		needed:    needed,
		replyTo:   replyTo,
		replyCorr: replyCorr,
		done:      done,
	}
	if selfOwner {
		p.responses = 1
		if entry, ok := core.store.Get(key); ok {
			p.best = &entry
		}
	}

	if p.responses >= needed {
		// Self is the only active owner.
		r.finish(ctx, p, protocol.StatusOK)
		return
	}

	remotes := make([]ring.Node, 0, len(active))
	for _, n := range active {
		if n.ID != core.nodeID {
			remotes = append(remotes, n)
		}
	}

	core.pend.add(p, core.settings.ReadTimeout, func(expired *pendingRequest) {
		status := protocol.StatusFailed
		if expired.responses > 0 {
			status = protocol.StatusDegraded
		}
		logger.Warnw("read quorum timeout",
			"node", core.nodeID, "key", expired.key,
			"responses", expired.responses, "needed", expired.needed,
			"status", string(status))
		r.finish(context.Background(), expired, status)
	})
	for _, n := range remotes {
		err := core.transport.Send(ctx, n.ID, protocol.Envelope{
			Kind:          protocol.KindReadReplica,
			CorrelationID: p.id,
			Key:           key,
		})
		if err != nil {
			logger.Warnw("read replica send failed",
				"node", core.nodeID, "dest", n.ID, "key", key, "error", err.Error())
		}
	}
}

// handleReadReplica answers a sibling coordinator's replica query from the
// local store. Absence is a normal answer, not an error.
func (r *readService) handleReadReplica(ctx context.Context, env protocol.Envelope) {
	reply := protocol.Envelope{
		Kind:          protocol.KindReadReplicaAck,
		CorrelationID: env.CorrelationID,
		Key:           env.Key,
	}
	if entry, ok := r.core.store.Get(env.Key); ok {
		reply.Found = true
		reply.Entry = &entry
	}

	if err := r.core.transport.Send(ctx, env.Source, reply); err != nil {
		logger.Warnw("read replica ack send failed",
			"node", r.core.nodeID, "dest", env.Source, "error", err.Error())
	}
}

func (r *readService) handleReadReplicaAck(ctx context.Context, env protocol.Envelope) {
	var entry = env.Entry
	if !env.Found {
		entry = nil
	}
	p, quorum := r.core.pend.addReadReply(env.CorrelationID, entry)
	if !quorum {
		return
	}
	r.finish(ctx, p, protocol.StatusOK)
}

func (r *readService) finish(ctx context.Context, p *pendingRequest, status protocol.Status) {
	if p.timer != nil {
		p.timer.Stop()
	}
	if p.done != nil {
		p.done <- result{status: status, entry: p.best}
	}
	if p.replyTo != "" {
		reply := protocol.Envelope{
			Kind:          protocol.KindGetResponse,
			CorrelationID: p.replyCorr,
			Key:           p.key,
			Status:        status,
		}
		if p.best != nil {
			reply.Found = true
			reply.Value = p.best.Value
		}
		if err := r.core.transport.Send(ctx, p.replyTo, reply); err != nil {
			logger.Warnw("get response send failed",
				"node", r.core.nodeID, "dest", p.replyTo, "error", err.Error())
		}
	}
}
