package store

import (
	"sync"

	"github.com/bifrostlabs/bifrost/model"
)

// Compile-time checks that MemoryStore satisfies both store contracts.
var (
	_ DataDestination = (*MemoryStore)(nil)
	_ DataReader      = (*MemoryStore)(nil)
)

// MemoryStore is a thread-safe versioned map of flag and segment
// descriptors. All mutation is serialized through a single RWMutex; reads
// return descriptor values whose items are treated as immutable once
// stored, so a concurrent Init or Upsert can never invalidate data a
// reader already holds.
//
// Deleted items are kept as tombstones carrying only a version. They are
// removed only by a subsequent Init, which prevents an out-of-order stale
// update from resurrecting a deleted item.
type MemoryStore struct {
	mu          sync.RWMutex
	flags       map[string]model.FlagDescriptor
	segments    map[string]model.SegmentDescriptor
	initialized bool
}

// NewMemoryStore creates an empty, uninitialized store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		flags:    make(map[string]model.FlagDescriptor),
		segments: make(map[string]model.SegmentDescriptor),
	}
}

// Init replaces the entire store contents under the write lock and marks
// the store initialized. Versions of previously stored items are not
// consulted; a full dataset is authoritative.
func (s *MemoryStore) Init(set model.DataSet) {
	flags := make(map[string]model.FlagDescriptor, len(set.Flags))
	for key, flag := range set.Flags {
		flags[key] = model.FlagDescriptor{Version: flag.Version, Flag: flag}
	}
	segments := make(map[string]model.SegmentDescriptor, len(set.Segments))
	for key, segment := range set.Segments {
		segments[key] = model.SegmentDescriptor{Version: segment.Version, Segment: segment}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags = flags
	s.segments = segments
	s.initialized = true
}

// UpsertFlag applies the descriptor if the key is absent or the stored
// version is strictly lower. Last writer wins by version number, not by
// arrival order.
func (s *MemoryStore) UpsertFlag(key string, item model.FlagDescriptor) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.flags[key]; ok && existing.Version >= item.Version {
		return false
	}
	s.flags[key] = item
	return true
}

// UpsertSegment applies the descriptor under the same version rule as
// UpsertFlag.
func (s *MemoryStore) UpsertSegment(key string, item model.SegmentDescriptor) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.segments[key]; ok && existing.Version >= item.Version {
		return false
	}
	s.segments[key] = item
	return true
}

// GetFlag returns the descriptor for key, including tombstones.
func (s *MemoryStore) GetFlag(key string) (model.FlagDescriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.flags[key]
	return item, ok
}

// GetSegment returns the descriptor for key, including tombstones.
func (s *MemoryStore) GetSegment(key string) (model.SegmentDescriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.segments[key]
	return item, ok
}

// AllFlags returns a copy of the flag map. Tombstones are included.
func (s *MemoryStore) AllFlags() map[string]model.FlagDescriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]model.FlagDescriptor, len(s.flags))
	for key, item := range s.flags {
		out[key] = item
	}
	return out
}

// AllSegments returns a copy of the segment map. Tombstones are included.
func (s *MemoryStore) AllSegments() map[string]model.SegmentDescriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]model.SegmentDescriptor, len(s.segments))
	for key, item := range s.segments {
		out[key] = item
	}
	return out
}

// Initialized reports whether Init has been called at least once. Reads
// during an interruption still return the last successfully applied data.
func (s *MemoryStore) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}
