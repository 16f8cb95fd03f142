package ring

import (
	"fmt"
	"sort"
	"sync"
)

const (
	// DefaultVNodesPerNode is the default number of virtual nodes per
	// physical node. A higher number improves distribution balance but
	// increases ring size and stabilization range count.
	DefaultVNodesPerNode = 64
)

// Ring manages the consistent hashing ring. Membership is append-only:
// a node that stops responding keeps its positions and its ownership
// responsibilities; liveness is tracked by the runtime, not the ring.
type Ring struct {
	mu            sync.RWMutex
	vnodes        []VNode // sorted by (token, node ID)
	nodes         map[string]Node
	vnodesPerNode int
}

// New creates a new consistent hashing ring.
func New(vnodesPerNode int) *Ring {
	if vnodesPerNode <= 0 {
		vnodesPerNode = DefaultVNodesPerNode
	}
	return &Ring{
		vnodes:        make([]VNode, 0),
		nodes:         make(map[string]Node),
		vnodesPerNode: vnodesPerNode,
	}
}

// AddNode adds a physical node to the ring. Adding the same node ID again
// only refreshes metadata; vnode placement stays stable so every caller
// converges on an identical ring regardless of delivery order.
func (r *Ring) AddNode(node Node) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, exists := r.nodes[node.ID]; exists {
		if node.Addr != "" && existing.Addr != node.Addr {
			r.nodes[node.ID] = node
		}
		return
	}

	r.nodes[node.ID] = node

	for i := 0; i < r.vnodesPerNode; i++ {
		token := HashKey(fmt.Sprintf("%s-%d", node.ID, i))
		r.vnodes = append(r.vnodes, VNode{
			Token:  token,
			NodeID: node.ID,
		})
	}

	// Ties on token are broken by node ID so all nodes compute the same
	// ordering independent of join order.
	sort.Slice(r.vnodes, func(i, j int) bool {
		if r.vnodes[i].Token != r.vnodes[j].Token {
			return r.vnodes[i].Token < r.vnodes[j].Token
		}
		return r.vnodes[i].NodeID < r.vnodes[j].NodeID
	})
}

// Node returns a member by ID.
func (r *Ring) Node(id string) (Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[id]
	return n, ok
}

// Nodes returns all physical nodes, sorted by ID.
func (r *Ring) Nodes() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	nodes := make([]Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes
}

// Size returns the number of physical nodes.
func (r *Ring) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// Replicas returns the ordered owner list for a key: the node owning the
// first vnode at or after the key's token, followed by the next distinct
// nodes walking clockwise, up to rf. With fewer than rf members it returns
// all of them, still in ring-walk order.
func (r *Ring) Replicas(key string, rf int) []Node {
	return r.ReplicasForToken(HashKey(key), rf)
}

// ReplicasForToken is Replicas for a pre-hashed token.
func (r *Ring) ReplicasForToken(token uint64, rf int) []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.replicasForTokenLocked(token, rf)
}

func (r *Ring) replicasForTokenLocked(token uint64, rf int) []Node {
	if len(r.vnodes) == 0 || rf <= 0 {
		return nil
	}

	want := rf
	if want > len(r.nodes) {
		want = len(r.nodes)
	}

	idx := sort.Search(len(r.vnodes), func(i int) bool {
		return r.vnodes[i].Token >= token
	})
	if idx == len(r.vnodes) {
		idx = 0
	}

	replicas := make([]Node, 0, want)
	seen := make(map[string]struct{}, want)
	for step := 0; step < len(r.vnodes) && len(replicas) < want; step++ {
		vn := r.vnodes[(idx+step)%len(r.vnodes)]
		if _, ok := seen[vn.NodeID]; ok {
			continue
		}
		seen[vn.NodeID] = struct{}{}
		replicas = append(replicas, r.nodes[vn.NodeID])
	}
	return replicas
}
