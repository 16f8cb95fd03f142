package port

import (
	"github.com/anthanhphan/go-replicated-kv/internal/node/domain"
)

// StoreRepository is the per-node in-memory key-value table with per-entry
// versioning. Implementations must serialize access; it is the only shared
// mutable resource inside a node.
type StoreRepository interface {
	// Put creates or overwrites an entry, assigning a version strictly
	// greater than any version previously seen for that key here.
	Put(key, value string) domain.Entry

	// Get looks an entry up. Absence is the false return, not an error.
	Get(key string) (domain.Entry, bool)

	// Merge applies the incoming entry only if it strictly supersedes the
	// local one (or the key is absent). Idempotent and commutative; returns
	// whether local state changed.
	Merge(entry domain.Entry) bool

	// NextVersion advances and returns the per-key version counter without
	// writing an entry. Used by a coordinator that is not itself an owner.
	NextVersion(key string) int64

	// Observe raises the per-key version counter to at least the given
	// version. Used by a coordinator whose write was rejected by a replica
	// holding a superseding version, so its next stamp wins.
	Observe(key string, version int64)

	// List returns a snapshot of all entries.
	List() []domain.Entry

	// Len returns the number of entries held.
	Len() int
}
