package persistence

import (
	"time"

	"github.com/maypok86/otter"
)

// Compile-time check to verify that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-process Store backed by the high-performance,
// contention-free S3-FIFO cache provided by the 'otter' library. It is the
// default persistence for processes that do not need to survive restarts.
type MemoryStore struct {
	store otter.Cache[string, string]
}

// NewMemoryStore initializes the in-memory store with strict limits.
// capacity: Max number of entries (Hard Cap to prevent OOM).
// ttl: Time-To-Live for entries; zero keeps them until capacity pressure.
func NewMemoryStore(capacity int, ttl time.Duration) (*MemoryStore, error) {
	builder := otter.MustBuilder[string, string](capacity)

	var (
		cache otter.Cache[string, string]
		err   error
	)
	if ttl > 0 {
		cache, err = builder.WithTTL(ttl).Build()
	} else {
		cache, err = builder.Build()
	}
	if err != nil {
		return nil, err
	}

	return &MemoryStore{store: cache}, nil
}

func storageKey(namespace, key string) string {
	return namespace + "/" + key
}

// Read retrieves a value. This operation is virtually lock-free.
func (s *MemoryStore) Read(namespace, key string) (string, bool) {
	return s.store.Get(storageKey(namespace, key))
}

// Write adds or replaces a value.
func (s *MemoryStore) Write(namespace, key, value string) error {
	s.store.Set(storageKey(namespace, key), value)
	return nil
}

// Remove deletes a value.
func (s *MemoryStore) Remove(namespace, key string) error {
	s.store.Delete(storageKey(namespace, key))
	return nil
}

// Close gracefully shuts down the cache and its background cleanup
// goroutines.
func (s *MemoryStore) Close() error {
	s.store.Close()
	return nil
}
