package port

import (
	"context"
	"errors"

	"github.com/anthanhphan/go-replicated-kv/internal/node/domain"
	"github.com/anthanhphan/go-replicated-kv/pkg/ring"
)

var (
	// ErrQuorumNotMet is returned when a coordinated write or read could not
	// gather enough replica acknowledgements within its timeout.
	ErrQuorumNotMet = errors.New("quorum not met")

	// ErrNodeUnavailable is returned when this node is Failed or recovering
	// and cannot coordinate requests.
	ErrNodeUnavailable = errors.New("node unavailable")
)

// NodeService is the coordinator-facing surface of a node, used by the
// admin HTTP adapter and the simulation harness.
type NodeService interface {
	// Set coordinates a quorum write for the key.
	Set(ctx context.Context, key, value string) error

	// Get coordinates a quorum read for the key.
	Get(ctx context.Context, key string) (domain.ReadResult, error)

	// Owners returns the ordered replica list for a key.
	Owners(key string) []ring.Node

	// AdmitNode appends a node to the membership view. Idempotent.
	AdmitNode(node ring.Node)

	// Status returns an inspection snapshot.
	Status() domain.NodeStatus

	// Entries returns a snapshot of the locally held entries.
	Entries() []domain.Entry
}
