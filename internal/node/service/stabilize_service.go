package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anthanhphan/gosdk/logger"

	"github.com/anthanhphan/go-replicated-kv/internal/node/domain"
	"github.com/anthanhphan/go-replicated-kv/internal/node/protocol"
	"github.com/anthanhphan/go-replicated-kv/pkg/ring"
)

// stabilizeService repairs a recovering node's data: it pulls authoritative
// replica state for every key range this node owns and merges it locally.
// A one-shot pull on recovery, not continuous background reconciliation;
// liveness transitions are explicit, rare events here.
type stabilizeService struct {
	core *NodeRuntime
}

// run executes one stabilization pass, then re-opens the node for data-plane
// traffic. Version-ordered merge makes the pass safe however stale or
// duplicated the sibling answers are.
func (s *stabilizeService) run(ctx context.Context) {
	core := s.core
	start := time.Now()
	defer func() {
		core.mu.Lock()
		core.recovering = false
		core.mu.Unlock()
		logger.Infow("stabilization complete",
			"node", core.nodeID, "took", time.Since(start).String())
	}()

	ranges := core.ring.RangesFor(core.nodeID, core.settings.ReplicationFactor)
	if len(ranges) == 0 {
		return
	}

	// One pull per active sibling, carrying every shared range. Each range
	// has a single owner set, so its end token names all of its siblings.
	pulls := make(map[string][]ring.TokenRange)
	for _, rng := range ranges {
		for _, owner := range core.ring.ReplicasForToken(rng.To, core.settings.ReplicationFactor) {
			if owner.ID == core.nodeID || !core.isActive(owner.ID) {
				continue
			}
			pulls[owner.ID] = append(pulls[owner.ID], rng)
		}
	}
	if len(pulls) == 0 {
		// No active sibling anywhere: keep the local copy, best achievable.
		logger.Warnw("no active sibling to stabilize from", "node", core.nodeID)
		return
	}

	var wg sync.WaitGroup
	var merged int64
	for sibling, shared := range pulls {
		id := core.nextID()
		ch := make(chan []domain.Entry, 1)
		core.pend.add(&pendingRequest{id: id, kind: pendingPull, entriesCh: ch},
			core.settings.StabilizeTimeout, func(expired *pendingRequest) {
				// Non-respondent sibling: proceed with what we have.
				expired.entriesCh <- nil
			})

		err := core.transport.Send(ctx, sibling, protocol.Envelope{
			Kind:          protocol.KindPullRange,
			CorrelationID: id,
			Ranges:        shared,
		})
		if err != nil {
			logger.Warnw("pull range send failed",
				"node", core.nodeID, "sibling", sibling, "error", err.Error())
		}

		wg.Add(1)
		go func(ch chan []domain.Entry) {
			defer wg.Done()
			for _, entry := range <-ch {
				if core.store.Merge(entry) {
					atomic.AddInt64(&merged, 1)
				}
			}
		}(ch)
	}
	wg.Wait()

	logger.Infow("replica state pulled",
		"node", core.nodeID, "siblings", len(pulls), "merged", atomic.LoadInt64(&merged))
}

// handlePullRange answers a recovering sibling with every local entry whose
// key falls inside one of the requested ranges.
func (s *stabilizeService) handlePullRange(ctx context.Context, env protocol.Envelope) {
	if len(env.Ranges) == 0 {
		logger.Warnw("pullRange without ranges", "node", s.core.nodeID, "source", env.Source)
		return
	}

	var entries []domain.Entry
	for _, entry := range s.core.store.List() {
		token := ring.HashKey(entry.Key)
		for _, rng := range env.Ranges {
			if rng.Contains(token) {
				entries = append(entries, entry)
				break
			}
		}
	}

	err := s.core.transport.Send(ctx, env.Source, protocol.Envelope{
		Kind:          protocol.KindPullRangeReply,
		CorrelationID: env.CorrelationID,
		Entries:       entries,
	})
	if err != nil {
		logger.Warnw("pull range reply send failed",
			"node", s.core.nodeID, "dest", env.Source, "error", err.Error())
	}
}

func (s *stabilizeService) handlePullReply(env protocol.Envelope) {
	p := s.core.pend.take(env.CorrelationID)
	if p == nil || p.kind != pendingPull {
		return // late reply after the pull timed out
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	p.entriesCh <- env.Entries
}
