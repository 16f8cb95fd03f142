package service

import (
	"context"

	"github.com/anthanhphan/gosdk/logger"

	"github.com/anthanhphan/go-replicated-kv/internal/node/domain"
	"github.com/anthanhphan/go-replicated-kv/internal/node/protocol"
)

// writeService runs the coordinator write path: replica fan-out with an
// ACK threshold of W = majority of Active owners (minimum 1). Owners that
// are Failed are skipped; they catch up through stabilization on recovery.
type writeService struct {
	core *NodeRuntime
}

func (w *writeService) handleSet(ctx context.Context, env protocol.Envelope) {
	if env.Key == "" {
		logger.Warnw("set without key", "node", w.core.nodeID, "source", env.Source)
		return
	}
	w.startSet(ctx, env.Key, env.Value, env.Source, env.CorrelationID, nil)
}

// startSet coordinates one write. It never blocks on replica replies: the
// request is parked in the pending table and resolved by incoming acks or
// by its expiry timer, keeping the dispatch loop free for other traffic.
func (w *writeService) startSet(ctx context.Context, key, value, replyTo string, replyCorr int64, done chan result) {
	core := w.core
	owners := core.ring.Replicas(key, core.settings.ReplicationFactor)
	active, selfOwner := core.filterActive(owners)
	if len(active) == 0 {
		logger.Warnw("write rejected, no active owner", "node", core.nodeID, "key", key)
		w.finish(ctx, &pendingRequest{key: key, replyTo: replyTo, replyCorr: replyCorr, done: done}, protocol.StatusFailed)
		return
	}
	needed := len(active)/2 + 1

	// The coordinator stamps the entry. An owner coordinator writes it
	// locally in the same step; a non-owner only advances its version clock.
	ackers := make(map[string]bool, needed)
	var entry domain.Entry
	if selfOwner {
		entry = core.store.Put(key, value)
		ackers[core.nodeID] = true
	} else {
		entry = domain.Entry{
			Key:     key,
			Value:   value,
			Version: core.store.NextVersion(key),
			Origin:  core.nodeID,
		}
	}

	remotes := make([]string, 0, len(active))
	for _, n := range active {
		if n.ID != core.nodeID {
			remotes = append(remotes, n.ID)
		}
	}

	id := core.nextID()
	p := &pendingRequest{
		id:        id,
		kind:      pendingSet,
		key:       key,
		value:     value,
		needed:    needed,
		ackers:    ackers,
		selfOwner: selfOwner,
		remotes:   remotes,
		replyTo:   replyTo,
		replyCorr: replyCorr,
		done:      done,
	}

	if len(ackers) >= needed {
		// Quorum satisfied locally; remaining replicas still get the entry.
		for _, dest := range remotes {
			w.replicate(ctx, dest, id, entry)
		}
		w.finish(ctx, p, protocol.StatusOK)
		return
	}

	core.pend.add(p, core.settings.WriteTimeout, func(expired *pendingRequest) {
		logger.Warnw("write quorum timeout",
			"node", core.nodeID, "key", expired.key,
			"acks", len(expired.ackers), "needed", expired.needed)
		w.finish(context.Background(), expired, protocol.StatusFailed)
	})
	for _, dest := range remotes {
		w.replicate(ctx, dest, id, entry)
	}
}

func (w *writeService) replicate(ctx context.Context, dest string, id int64, entry domain.Entry) {
	err := w.core.transport.Send(ctx, dest, protocol.Envelope{
		Kind:          protocol.KindReplicate,
		CorrelationID: id,
		Key:           entry.Key,
		Entry:         &entry,
	})
	if err != nil {
		logger.Warnw("replicate send failed",
			"node", w.core.nodeID, "dest", dest, "key", entry.Key, "error", err.Error())
	}
}

// handleReplicate is the replica side of the fan-out: merge and ack. The ack
// reports whether the entry won the merge and the version this replica now
// stores for the key, so a losing coordinator can catch its clock up.
func (w *writeService) handleReplicate(ctx context.Context, env protocol.Envelope) {
	if env.Entry == nil {
		logger.Warnw("replicate without entry", "node", w.core.nodeID, "source", env.Source)
		return
	}

	applied := w.core.store.Merge(*env.Entry)
	current, _ := w.core.store.Get(env.Entry.Key)
	err := w.core.transport.Send(ctx, env.Source, protocol.Envelope{
		Kind:          protocol.KindReplicateAck,
		CorrelationID: env.CorrelationID,
		Key:           env.Entry.Key,
		Applied:       applied,
		Version:       current.Version,
	})
	if err != nil {
		logger.Warnw("replicate ack send failed",
			"node", w.core.nodeID, "dest", env.Source, "error", err.Error())
	}
}

// handleReplicateAck counts applied acks toward the quorum. A rejection means
// the replica kept a superseding entry the coordinator's clock has never
// observed, which would otherwise make the write vanish while still reporting
// success; those acks feed the restamp path instead.
func (w *writeService) handleReplicateAck(ctx context.Context, env protocol.Envelope) {
	if !env.Applied {
		w.restampRejected(ctx, env)
		return
	}
	p, quorum := w.core.pend.ackWrite(env.CorrelationID, env.Source)
	if !quorum {
		return // late or unknown ack: the request already resolved
	}
	w.finish(ctx, p, protocol.StatusOK)
}

// restampRejected advances the local version clock past the rejecting
// replica's copy and re-issues the write once with a stamp that supersedes
// it everywhere. A write still unresolved after the retry fails by timeout
// rather than claiming a quorum it never had.
func (w *writeService) restampRejected(ctx context.Context, env protocol.Envelope) {
	core := w.core
	if env.Version > 0 {
		core.store.Observe(env.Key, env.Version)
	}
	p, ok := core.pend.retryWrite(env.CorrelationID)
	if !ok {
		return
	}

	var entry domain.Entry
	if p.selfOwner {
		entry = core.store.Put(p.key, p.value)
	} else {
		entry = domain.Entry{
			Key:     p.key,
			Value:   p.value,
			Version: core.store.NextVersion(p.key),
			Origin:  core.nodeID,
		}
	}
	logger.Warnw("write restamped after replica rejection",
		"node", core.nodeID, "key", p.key, "version", entry.Version, "rejectedBy", env.Source)
	for _, dest := range p.remotes {
		w.replicate(ctx, dest, p.id, entry)
	}
}

// finish resolves a write request exactly once: stops the timer, unblocks a
// local waiter, and replies over the broker when the request came from one.
func (w *writeService) finish(ctx context.Context, p *pendingRequest, status protocol.Status) {
	if p.timer != nil {
		p.timer.Stop()
	}
	if p.done != nil {
		p.done <- result{status: status}
	}
	if p.replyTo != "" {
		err := w.core.transport.Send(ctx, p.replyTo, protocol.Envelope{
			Kind:          protocol.KindSetResponse,
			CorrelationID: p.replyCorr,
			Key:           p.key,
			Status:        status,
		})
		if err != nil {
			logger.Warnw("set response send failed",
				"node", w.core.nodeID, "dest", p.replyTo, "error", err.Error())
		}
	}
}
