package service

import (
	"sync"
	"time"

	"github.com/anthanhphan/go-replicated-kv/internal/node/domain"
	"github.com/anthanhphan/go-replicated-kv/internal/node/protocol"
)

type pendingKind int

const (
	pendingSet pendingKind = iota
	pendingGet
	pendingPull
)

// result is the terminal outcome of a coordinated request, delivered to a
// local waiter through pendingRequest.done.
type result struct {
	status protocol.Status
	entry  *domain.Entry
}

// pendingRequest correlates an in-flight coordinated request with the
// replica acknowledgements it is waiting for. Destroyed on quorum
// satisfaction or timer expiry, whichever comes first.
type pendingRequest struct {
	id        int64
	kind      pendingKind
	key       string
	value     string
	needed    int
	ackers    map[string]bool
	responses int
	best      *domain.Entry

	// restamp state for writes rejected by a replica holding a superseding
	// version: the coordinator gets exactly one re-issue with a higher stamp.
	selfOwner bool
	remotes   []string
	retried   bool

	// reply routing: replyTo/replyCorr for broker clients, done for local
	// callers (admin HTTP, simulation harness).
	replyTo   string
	replyCorr int64
	done      chan result

	// stabilization pulls deliver their entry batch here.
	entriesCh chan []domain.Entry

	timer *time.Timer
}

type pendingTable struct {
	mu   sync.Mutex
	reqs map[int64]*pendingRequest
}

func newPendingTable() *pendingTable {
	return &pendingTable{reqs: make(map[int64]*pendingRequest)}
}

// add registers the request and arms its expiry timer under the same lock,
// so the expiry callback can never observe a half-registered request.
func (t *pendingTable) add(p *pendingRequest, timeout time.Duration, onExpire func(*pendingRequest)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.reqs[p.id] = p
	p.timer = time.AfterFunc(timeout, func() {
		if expired := t.take(p.id); expired != nil {
			onExpire(expired)
		}
	})
}

// take removes and returns a request, or nil if it already completed.
func (t *pendingTable) take(id int64) *pendingRequest {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.reqs[id]
	if !ok {
		return nil
	}
	delete(t.reqs, id)
	return p
}

// ackWrite records one replica's applied acknowledgement. Acks are counted
// per source node, so a duplicated delivery or a restamp re-ack never counts
// the same replica twice toward the quorum. When the quorum is reached the
// request is removed and returned with true; late acks find nothing.
func (t *pendingTable) ackWrite(id int64, from string) (*pendingRequest, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.reqs[id]
	if !ok || p.kind != pendingSet {
		return nil, false
	}
	if p.ackers == nil {
		p.ackers = make(map[string]bool)
	}
	p.ackers[from] = true
	if len(p.ackers) < p.needed {
		return nil, false
	}
	delete(t.reqs, id)
	return p, true
}

// retryWrite claims the single restamp attempt for a write. Returns false
// when the request already resolved or was already retried.
func (t *pendingTable) retryWrite(id int64) (*pendingRequest, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.reqs[id]
	if !ok || p.kind != pendingSet || p.retried {
		return nil, false
	}
	p.retried = true
	return p, true
}

// addReadReply records one replica read response, keeping the
// highest-version entry seen so far.
func (t *pendingTable) addReadReply(id int64, entry *domain.Entry) (*pendingRequest, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.reqs[id]
	if !ok || p.kind != pendingGet {
		return nil, false
	}
	p.responses++
	if entry != nil && (p.best == nil || entry.Supersedes(*p.best)) {
		p.best = entry
	}
	if p.responses < p.needed {
		return nil, false
	}
	delete(t.reqs, id)
	return p, true
}

// dropAll silently destroys every in-flight request. Used when this node is
// frozen by a liveness fault: a Failed node sends no replies.
func (t *pendingTable) dropAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, p := range t.reqs {
		if p.timer != nil {
			p.timer.Stop()
		}
		delete(t.reqs, id)
	}
}
