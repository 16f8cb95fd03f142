package port

import (
	"github.com/anthanhphan/go-replicated-kv/pkg/ring"
)

// MembershipPort defines cluster membership discovery. Discovery only ever
// admits nodes; a peer that stops responding is a liveness fault handled by
// the control plane, never a membership change.
type MembershipPort interface {
	// Join joins an existing cluster using a list of seed nodes.
	Join(seeds []string) error

	// Leave gracefully leaves the cluster.
	Leave() error

	// Members returns the list of currently known members.
	Members() []ring.Node

	// LocalNode returns the local node information.
	LocalNode() ring.Node
}
