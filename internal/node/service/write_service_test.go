package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	"github.com/anthanhphan/go-replicated-kv/internal/node/adapter/outbound/memstore"
	"github.com/anthanhphan/go-replicated-kv/internal/node/domain"
	"github.com/anthanhphan/go-replicated-kv/internal/node/protocol"
	"github.com/anthanhphan/go-replicated-kv/internal/node/service/mocks"
	"github.com/anthanhphan/go-replicated-kv/pkg/ring"
)

// sendRecorder collects every envelope pushed through the mock transport.
type sendRecorder struct {
	mu    sync.Mutex
	sends []protocol.Envelope
	dests []string
}

func (r *sendRecorder) record(dest string, env protocol.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sends = append(r.sends, env)
	r.dests = append(r.dests, dest)
}

func (r *sendRecorder) byKind(kind protocol.Kind) []protocol.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []protocol.Envelope
	for _, env := range r.sends {
		if env.Kind == kind {
			out = append(out, env)
		}
	}
	return out
}

func (r *sendRecorder) destinations(kind protocol.Kind) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for i, env := range r.sends {
		if env.Kind == kind {
			out = append(out, r.dests[i])
		}
	}
	return out
}

func entryOf(key, value string, version int64, origin string) *domain.Entry {
	return &domain.Entry{Key: key, Value: value, Version: version, Origin: origin}
}

func newTestRuntime(t *testing.T, nodeID string, peers []string, settings Settings) (*NodeRuntime, *sendRecorder) {
	t.Helper()
	ctrl := gomock.NewController(t)

	rec := &sendRecorder{}
	tr := mocks.NewMockTransport(ctrl)
	tr.EXPECT().
		Send(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, dest string, env protocol.Envelope) error {
			rec.record(dest, env)
			return nil
		}).
		AnyTimes()

	rt := NewNodeRuntime(nodeID, ring.New(16), memstore.New(nodeID), tr, settings)
	for _, p := range peers {
		rt.AdmitNode(ring.Node{ID: p})
	}
	return rt, rec
}

func TestWriteService_QuorumCommit(t *testing.T) {
	rt, rec := newTestRuntime(t, "node-1", []string{"node-2", "node-3"},
		Settings{ReplicationFactor: 3, WriteTimeout: time.Minute})

	ctx := context.Background()
	done := make(chan result, 1)
	rt.writer.startSet(ctx, "user:7", "alice", "", 0, done)

	// Three members, rf 3: every node owns every key, so the coordinator
	// fans out to both peers and its own write is the first ack.
	replicates := rec.byKind(protocol.KindReplicate)
	if len(replicates) != 2 {
		t.Fatalf("expected 2 replicate sends, got %d", len(replicates))
	}
	if replicates[0].Entry == nil || replicates[0].Entry.Version != 1 {
		t.Fatalf("expected replicated entry version 1, got %+v", replicates[0].Entry)
	}

	select {
	case <-done:
		t.Fatal("write resolved before quorum")
	case <-time.After(20 * time.Millisecond):
	}

	rt.Dispatch(ctx, protocol.Envelope{
		Kind:          protocol.KindReplicateAck,
		Source:        "node-2",
		CorrelationID: replicates[0].CorrelationID,
		Applied:       true,
	})

	select {
	case res := <-done:
		if res.status != protocol.StatusOK {
			t.Errorf("expected ok, got %s", res.status)
		}
	case <-time.After(time.Second):
		t.Fatal("write never resolved after quorum ack")
	}

	if entry, ok := rt.store.Get("user:7"); !ok || entry.Value != "alice" {
		t.Errorf("coordinator must hold its own write, got %+v found=%v", entry, ok)
	}
}

func TestWriteService_TimeoutFails(t *testing.T) {
	rt, _ := newTestRuntime(t, "node-1", []string{"node-2", "node-3"},
		Settings{ReplicationFactor: 3, WriteTimeout: 50 * time.Millisecond})

	done := make(chan result, 1)
	rt.writer.startSet(context.Background(), "user:7", "alice", "", 0, done)

	select {
	case res := <-done:
		if res.status != protocol.StatusFailed {
			t.Errorf("expected failed, got %s", res.status)
		}
	case <-time.After(time.Second):
		t.Fatal("write never timed out")
	}
}

func TestWriteService_SkipsFailedOwners(t *testing.T) {
	rt, rec := newTestRuntime(t, "node-1", []string{"node-2", "node-3"},
		Settings{ReplicationFactor: 3, WriteTimeout: time.Minute})

	ctx := context.Background()
	rt.Dispatch(ctx, protocol.Envelope{Kind: protocol.KindFailNode, Node: "node-2"})

	// Active owners: node-1 (self) and node-3. W = 2.
	done := make(chan result, 1)
	rt.writer.startSet(ctx, "user:7", "alice", "", 0, done)

	dests := rec.destinations(protocol.KindReplicate)
	if len(dests) != 1 || dests[0] != "node-3" {
		t.Fatalf("expected replicate to node-3 only, got %v", dests)
	}

	replicates := rec.byKind(protocol.KindReplicate)
	rt.Dispatch(ctx, protocol.Envelope{
		Kind:          protocol.KindReplicateAck,
		Source:        "node-3",
		CorrelationID: replicates[0].CorrelationID,
		Applied:       true,
	})

	select {
	case res := <-done:
		if res.status != protocol.StatusOK {
			t.Errorf("expected ok, got %s", res.status)
		}
	case <-time.After(time.Second):
		t.Fatal("write never resolved")
	}
}

func TestWriteService_ReplicaMergesAndAcks(t *testing.T) {
	rt, rec := newTestRuntime(t, "node-2", []string{"node-1", "node-3"},
		Settings{ReplicationFactor: 3})

	ctx := context.Background()
	rt.Dispatch(ctx, protocol.Envelope{
		Kind:          protocol.KindReplicate,
		Source:        "node-1",
		CorrelationID: 99,
		Key:           "user:7",
		Entry:         entryOf("user:7", "alice", 1, "node-1"),
	})

	acks := rec.byKind(protocol.KindReplicateAck)
	if len(acks) != 1 || acks[0].CorrelationID != 99 || !acks[0].Applied {
		t.Fatalf("expected applied ack with correlation 99, got %+v", acks)
	}
	if acks[0].Version != 1 {
		t.Errorf("ack must report the stored version, got %d", acks[0].Version)
	}
	if entry, ok := rt.store.Get("user:7"); !ok || entry.Value != "alice" {
		t.Errorf("replica must hold the merged entry, got %+v found=%v", entry, ok)
	}

	// Re-delivery: merge is a no-op but the ack still goes out.
	rt.Dispatch(ctx, protocol.Envelope{
		Kind:          protocol.KindReplicate,
		Source:        "node-1",
		CorrelationID: 99,
		Key:           "user:7",
		Entry:         entryOf("user:7", "alice", 1, "node-1"),
	})
	acks = rec.byKind(protocol.KindReplicateAck)
	if len(acks) != 2 {
		t.Fatalf("expected 2 acks after duplicate delivery, got %d", len(acks))
	}
	if acks[1].Applied {
		t.Error("duplicate replicate must report not applied")
	}
	if acks[1].Version != 1 {
		t.Errorf("rejection ack must still report the stored version, got %d", acks[1].Version)
	}
}

// keyNotOwnedBy finds a key whose owner set excludes the given node, so the
// node coordinates the write without holding a replica itself.
func keyNotOwnedBy(t *testing.T, rt *NodeRuntime, nodeID string) string {
	t.Helper()
	for i := 0; i < 500; i++ {
		key := fmt.Sprintf("key-%d", i)
		owned := false
		for _, o := range rt.Owners(key) {
			if o.ID == nodeID {
				owned = true
				break
			}
		}
		if !owned {
			return key
		}
	}
	t.Fatal("no key found outside the node's ownership")
	return ""
}

// A non-owner coordinator stamps from a clock that never saw the replicas'
// versions. When every replica rejects the stamp, the write must not count
// those rejections as a quorum; instead the coordinator observes the
// superseding version and re-issues the write with a stamp that wins.
func TestWriteService_RestampAfterRejection(t *testing.T) {
	rt, rec := newTestRuntime(t, "node-1", []string{"node-2", "node-3", "node-4"},
		Settings{ReplicationFactor: 3, WriteTimeout: time.Minute})
	key := keyNotOwnedBy(t, rt, "node-1")

	ctx := context.Background()
	done := make(chan result, 1)
	rt.writer.startSet(ctx, key, "second", "", 0, done)

	replicates := rec.byKind(protocol.KindReplicate)
	if len(replicates) != 3 {
		t.Fatalf("expected fan-out to 3 owners, got %d", len(replicates))
	}
	if replicates[0].Entry == nil || replicates[0].Entry.Version != 1 {
		t.Fatalf("expected first stamp at version 1, got %+v", replicates[0].Entry)
	}
	id := replicates[0].CorrelationID
	dests := rec.destinations(protocol.KindReplicate)

	// One owner rejects: it already holds version 1 from an origin that wins
	// the tiebreak.
	rt.Dispatch(ctx, protocol.Envelope{
		Kind:          protocol.KindReplicateAck,
		Source:        dests[0],
		CorrelationID: id,
		Key:           key,
		Applied:       false,
		Version:       1,
	})

	select {
	case <-done:
		t.Fatal("rejections must never resolve a write as committed")
	case <-time.After(20 * time.Millisecond):
	}

	replicates = rec.byKind(protocol.KindReplicate)
	if len(replicates) != 6 {
		t.Fatalf("expected a re-issue to all 3 owners, got %d replicates", len(replicates))
	}
	restamped := replicates[len(replicates)-1].Entry
	if restamped == nil || restamped.Version != 2 {
		t.Fatalf("re-issued entry must carry a superseding version, got %+v", restamped)
	}
	if restamped.Value != "second" {
		t.Errorf("re-issued entry must keep the written value, got %q", restamped.Value)
	}

	// Two owners apply the new stamp: quorum.
	for _, src := range []string{dests[0], dests[1]} {
		rt.Dispatch(ctx, protocol.Envelope{
			Kind:          protocol.KindReplicateAck,
			Source:        src,
			CorrelationID: id,
			Key:           key,
			Applied:       true,
			Version:       2,
		})
	}

	select {
	case res := <-done:
		if res.status != protocol.StatusOK {
			t.Errorf("expected ok after restamped quorum, got %s", res.status)
		}
	case <-time.After(time.Second):
		t.Fatal("write never resolved after restamped quorum")
	}
}

func TestRuntime_SetRejectedWhileFailed(t *testing.T) {
	rt, _ := newTestRuntime(t, "node-1", []string{"node-2", "node-3"},
		Settings{ReplicationFactor: 3})

	ctx := context.Background()
	rt.Dispatch(ctx, protocol.Envelope{Kind: protocol.KindFailNode, Node: "node-1"})

	if err := rt.Set(ctx, "k", "v"); err == nil {
		t.Error("expected a failed node to reject local writes")
	}
}
