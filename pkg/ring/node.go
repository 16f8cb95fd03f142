package ring

import (
	"fmt"

	"github.com/spaolacci/murmur3"
)

// Node represents a physical node placed on the ring. Addr is optional
// metadata (admin/HTTP endpoint); placement depends on ID only.
type Node struct {
	ID   string `json:"id"`
	Addr string `json:"addr,omitempty"`
}

func (n Node) String() string {
	if n.Addr == "" {
		return n.ID
	}
	return fmt.Sprintf("%s@%s", n.ID, n.Addr)
}

// VNode represents a virtual node on the ring pointing to a physical Node.
type VNode struct {
	Token  uint64
	NodeID string
}

// TokenRange is a half-open wrapping interval (From, To] in token space.
// From == To denotes the full ring.
type TokenRange struct {
	From uint64 `json:"from"`
	To   uint64 `json:"to"`
}

// Contains reports whether token falls inside the range, wrap-aware.
func (r TokenRange) Contains(token uint64) bool {
	switch {
	case r.From == r.To:
		return true
	case r.From < r.To:
		return token > r.From && token <= r.To
	default:
		return token > r.From || token <= r.To
	}
}

// HashKey maps a key into the ring's token space.
// Murmur3 for distribution quality, same as vnode placement.
func HashKey(key string) uint64 {
	return murmur3.Sum64([]byte(key))
}
