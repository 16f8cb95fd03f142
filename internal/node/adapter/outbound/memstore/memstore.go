package memstore

import (
	"sync"

	"github.com/anthanhphan/go-replicated-kv/internal/node/domain"
	"github.com/anthanhphan/go-replicated-kv/internal/node/port"
)

// MemStore implements port.StoreRepository as an in-memory table.
// All state lives for the lifetime of the simulation; there is no
// on-disk durability. A single mutex serializes every mutation so
// concurrent handlers never interleave put/merge on the same key.
type MemStore struct {
	mu       sync.RWMutex
	nodeID   string
	entries  map[string]domain.Entry
	versions map[string]int64 // highest version ever observed per key
}

// Ensure MemStore implements port.StoreRepository.
var _ port.StoreRepository = (*MemStore)(nil)

// New creates an empty store owned by the given node.
func New(nodeID string) *MemStore {
	return &MemStore{
		nodeID:   nodeID,
		entries:  make(map[string]domain.Entry),
		versions: make(map[string]int64),
	}
}

// Put creates or overwrites an entry with a version strictly greater than
// any version previously seen for the key at this node.
func (s *MemStore) Put(key, value string) domain.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	version := s.versions[key] + 1
	s.versions[key] = version

	entry := domain.Entry{
		Key:     key,
		Value:   value,
		Version: version,
		Origin:  s.nodeID,
	}
	s.entries[key] = entry
	return entry
}

// Get returns the entry for a key. A key never set (or not yet replicated
// here) is absent, not a fault.
func (s *MemStore) Get(key string) (domain.Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[key]
	return entry, ok
}

// Merge applies the incoming entry only if it supersedes the local copy.
// The version clock advances on every observation, applied or not, so a
// later Put here can never be shadowed by data this node has already seen.
func (s *MemStore) Merge(entry domain.Entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.Version > s.versions[entry.Key] {
		s.versions[entry.Key] = entry.Version
	}

	current, ok := s.entries[entry.Key]
	if ok && !entry.Supersedes(current) {
		return false
	}
	s.entries[entry.Key] = entry
	return true
}

// NextVersion advances and returns the per-key counter without storing an
// entry. Lets a non-owner coordinator stamp a replicated write.
func (s *MemStore) NextVersion(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	version := s.versions[key] + 1
	s.versions[key] = version
	return version
}

// Observe raises the per-key clock to at least version. Never moves it back.
func (s *MemStore) Observe(key string, version int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if version > s.versions[key] {
		s.versions[key] = version
	}
}

// List returns a snapshot of all entries.
func (s *MemStore) List() []domain.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]domain.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	return entries
}

// Len returns the number of entries held.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
