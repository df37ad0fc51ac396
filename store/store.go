// Package store defines the data destination and reader contracts shared by
// the data sources and the evaluator, and provides the in-memory
// implementation used by streaming and polling modes.
package store

import "github.com/bifrostlabs/bifrost/model"

// DataDestination receives updates from a data source. Implemented by
// MemoryStore; the put/patch/delete event handler is its only writer.
type DataDestination interface {
	// Init atomically replaces the entire contents with a full dataset.
	Init(set model.DataSet)

	// UpsertFlag applies a single flag update. It reports whether the update
	// was applied; a descriptor whose version is not strictly greater than
	// the stored one is a no-op, regardless of arrival order.
	UpsertFlag(key string, item model.FlagDescriptor) bool

	// UpsertSegment is UpsertFlag for segments.
	UpsertSegment(key string, item model.SegmentDescriptor) bool
}

// DataReader is the read side used by the evaluator. Reads never block on
// network I/O and may run concurrently with each other and with writes.
//
// Tombstones (deleted placeholders) are returned, not filtered out: the
// caller distinguishes "present but deleted" from "never seen" via the
// descriptor's Deleted method and the ok result.
type DataReader interface {
	GetFlag(key string) (model.FlagDescriptor, bool)
	GetSegment(key string) (model.SegmentDescriptor, bool)
	AllFlags() map[string]model.FlagDescriptor
	AllSegments() map[string]model.SegmentDescriptor

	// Initialized reports whether a full dataset has ever been applied.
	Initialized() bool
}
