package domain

// Entry is a single versioned key-value record held by a replica.
// Replicas hold independent copies, reconciled only through messages.
type Entry struct {
	Key     string `json:"key"`
	Value   string `json:"value"`
	Version int64  `json:"version"`
	Origin  string `json:"origin"`
}

// Supersedes reports whether e wins a conflict against other. Higher version
// wins; equal versions are broken by the lexicographically greater origin
// node ID so the outcome is identical on every replica.
func (e Entry) Supersedes(other Entry) bool {
	if e.Version != other.Version {
		return e.Version > other.Version
	}
	return e.Origin > other.Origin
}
