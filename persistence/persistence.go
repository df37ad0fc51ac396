// Package persistence stores opaque serialized strings under namespaced
// keys. Clients use it to keep the last known flag payload across restarts
// so evaluations can begin before the first fresh dataset arrives.
package persistence

// Store is a namespaced string key-value store. Values are opaque
// serialized strings; implementations impose no format beyond "string in,
// string out".
type Store interface {
	// Read returns the value stored under namespace/key.
	Read(namespace, key string) (string, bool)

	// Write stores value under namespace/key, replacing any previous value.
	Write(namespace, key, value string) error

	// Remove deletes namespace/key. Removing an absent key is not an error.
	Remove(namespace, key string) error

	// Close releases any resources held by the store.
	Close() error
}
