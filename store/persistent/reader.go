// Package persistent connects the data store to external databases. A
// SerializedDataReader adapts one database; LazyLoadStore layers a TTL cache
// on top of any reader so evaluations stay in-process fast.
package persistent

import (
	"context"

	"github.com/bifrostlabs/bifrost/model"
)

// SerializedDataReader reads flag data from an external database in its
// serialized form. Implementations own their connection lifecycle and must
// be safe for concurrent use.
type SerializedDataReader interface {
	// Get returns the serialized item for key, or nil when the database has
	// no entry. Tombstones are returned with Deleted set.
	Get(ctx context.Context, kind model.DataKind, key string) (*model.SerializedItemDescriptor, error)

	// All returns every serialized item of the kind, tombstones included.
	All(ctx context.Context, kind model.DataKind) (map[string]model.SerializedItemDescriptor, error)

	// Identity describes the backing database for logs and health output.
	Identity() string

	// Initialized reports whether the database ever received a complete
	// dataset. This is the database's own state and is never cached.
	Initialized(ctx context.Context) bool

	// Close releases the underlying connections.
	Close() error
}
