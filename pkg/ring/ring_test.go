package ring

import (
	"fmt"
	"reflect"
	"testing"
)

func TestRing_AddNode(t *testing.T) {
	r := New(10)

	r.AddNode(Node{ID: "node-1", Addr: "127.0.0.1:8081"})
	if r.Size() != 1 {
		t.Errorf("expected 1 node, got %d", r.Size())
	}
	if len(r.vnodes) != 10 {
		t.Errorf("expected 10 vnodes, got %d", len(r.vnodes))
	}

	r.AddNode(Node{ID: "node-2", Addr: "127.0.0.1:8082"})
	if r.Size() != 2 {
		t.Errorf("expected 2 nodes, got %d", r.Size())
	}
	if len(r.vnodes) != 20 {
		t.Errorf("expected 20 vnodes, got %d", len(r.vnodes))
	}

	// Re-adding is idempotent: placement stays stable.
	r.AddNode(Node{ID: "node-1", Addr: "127.0.0.1:8081"})
	if r.Size() != 2 || len(r.vnodes) != 20 {
		t.Errorf("re-add changed the ring: %d nodes, %d vnodes", r.Size(), len(r.vnodes))
	}
}

func TestRing_ConvergesAcrossJoinOrder(t *testing.T) {
	nodes := []Node{{ID: "node-1"}, {ID: "node-2"}, {ID: "node-3"}, {ID: "node-4"}}

	a := New(32)
	for i := 0; i < len(nodes); i++ {
		a.AddNode(nodes[i])
	}
	b := New(32)
	for i := len(nodes) - 1; i >= 0; i-- {
		b.AddNode(nodes[i])
	}

	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("key-%d", i)
		ra := a.Replicas(key, 3)
		rb := b.Replicas(key, 3)
		if !reflect.DeepEqual(ra, rb) {
			t.Fatalf("owner list for %q differs by join order: %v vs %v", key, ra, rb)
		}
	}
}

func TestRing_Replicas(t *testing.T) {
	r := New(32)
	r.AddNode(Node{ID: "node-1"})
	r.AddNode(Node{ID: "node-2"})
	r.AddNode(Node{ID: "node-3"})
	r.AddNode(Node{ID: "node-4"})

	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("key-%d", i)
		owners := r.Replicas(key, 3)
		if len(owners) != 3 {
			t.Fatalf("expected 3 owners for %q, got %d", key, len(owners))
		}
		seen := make(map[string]bool)
		for _, n := range owners {
			if seen[n.ID] {
				t.Fatalf("duplicate owner %s for %q", n.ID, key)
			}
			seen[n.ID] = true
		}
	}
}

func TestRing_Replicas_FewerNodesThanRF(t *testing.T) {
	r := New(32)
	r.AddNode(Node{ID: "node-1"})
	r.AddNode(Node{ID: "node-2"})

	owners := r.Replicas("some-key", 3)
	if len(owners) != 2 {
		t.Fatalf("expected all 2 nodes as owners, got %d", len(owners))
	}
}

func TestRing_Replicas_Empty(t *testing.T) {
	r := New(32)
	if owners := r.Replicas("some-key", 3); owners != nil {
		t.Errorf("expected nil owners on empty ring, got %v", owners)
	}
}

func TestTokenRange_Contains(t *testing.T) {
	tests := []struct {
		name  string
		rng   TokenRange
		token uint64
		want  bool
	}{
		{"inside", TokenRange{From: 10, To: 20}, 15, true},
		{"at upper bound", TokenRange{From: 10, To: 20}, 20, true},
		{"at lower bound excluded", TokenRange{From: 10, To: 20}, 10, false},
		{"outside", TokenRange{From: 10, To: 20}, 25, false},
		{"wrapped low side", TokenRange{From: 100, To: 20}, 15, true},
		{"wrapped high side", TokenRange{From: 100, To: 20}, 150, true},
		{"wrapped middle excluded", TokenRange{From: 100, To: 20}, 50, false},
		{"full ring", TokenRange{From: 42, To: 42}, 7, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rng.Contains(tt.token); got != tt.want {
				t.Errorf("Contains(%d) = %v, want %v", tt.token, got, tt.want)
			}
		})
	}
}

func TestRing_RangesFor_FullRing(t *testing.T) {
	r := New(32)
	r.AddNode(Node{ID: "node-1"})
	r.AddNode(Node{ID: "node-2"})

	// rf >= member count: every node owns everything.
	ranges := r.RangesFor("node-1", 3)
	if len(ranges) != 1 {
		t.Fatalf("expected a single full-ring range, got %v", ranges)
	}
	if ranges[0].From != ranges[0].To {
		t.Errorf("expected full-ring range, got %v", ranges[0])
	}
}

func TestRing_RangesFor_UnknownNode(t *testing.T) {
	r := New(32)
	r.AddNode(Node{ID: "node-1"})
	if ranges := r.RangesFor("ghost", 3); ranges != nil {
		t.Errorf("expected nil ranges for unknown node, got %v", ranges)
	}
}

// Every range must carry a single owner set. A recovering node picks the
// siblings to pull a range from by looking at the owners of the range's end
// token; if segments with different owner sets were coalesced, keys in the
// earlier segments would be pulled from nodes that never held them.
func TestRing_RangesFor_SingleOwnerSetPerRange(t *testing.T) {
	const rf = 2
	r := New(16)
	for i := 1; i <= 5; i++ {
		r.AddNode(Node{ID: fmt.Sprintf("node-%d", i)})
	}

	ownerSet := func(nodes []Node) map[string]bool {
		set := make(map[string]bool, len(nodes))
		for _, n := range nodes {
			set[n.ID] = true
		}
		return set
	}

	for _, n := range r.Nodes() {
		for _, rng := range r.RangesFor(n.ID, rf) {
			atEnd := ownerSet(r.ReplicasForToken(rng.To, rf))
			if !atEnd[n.ID] {
				t.Fatalf("node %s not an owner of its own range %v", n.ID, rng)
			}
			// Every vnode token inside the range must see the same owners
			// as the end token.
			for _, vn := range r.vnodes {
				if !rng.Contains(vn.Token) {
					continue
				}
				got := ownerSet(r.ReplicasForToken(vn.Token, rf))
				if !reflect.DeepEqual(got, atEnd) {
					t.Fatalf("node %s range %v: owners at token %d are %v, at end %v",
						n.ID, rng, vn.Token, got, atEnd)
				}
			}
		}
	}
}

// Ranges and Replicas must agree: a key hashes into one of a node's ranges
// exactly when that node is among the key's owners.
func TestRing_RangesMatchReplicas(t *testing.T) {
	const rf = 2
	r := New(16)
	r.AddNode(Node{ID: "node-1"})
	r.AddNode(Node{ID: "node-2"})
	r.AddNode(Node{ID: "node-3"})
	r.AddNode(Node{ID: "node-4"})

	ranges := make(map[string][]TokenRange)
	for _, n := range r.Nodes() {
		ranges[n.ID] = r.RangesFor(n.ID, rf)
	}

	for i := 0; i < 200; i++ {
		key := fmt.Sprintf("key-%d", i)
		token := HashKey(key)

		owned := make(map[string]bool)
		for _, n := range r.Replicas(key, rf) {
			owned[n.ID] = true
		}

		for nodeID, rngs := range ranges {
			inRange := false
			for _, rng := range rngs {
				if rng.Contains(token) {
					inRange = true
					break
				}
			}
			if inRange != owned[nodeID] {
				t.Fatalf("key %q: node %s range ownership %v disagrees with replica list %v",
					key, nodeID, inRange, owned[nodeID])
			}
		}
	}
}
