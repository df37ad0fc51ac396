package model

// DataKind distinguishes the flag and segment namespaces in stores and
// persistent readers.
type DataKind string

const (
	// KindFlag is the feature flag namespace ("features" on the wire and in
	// persistent store key prefixes).
	KindFlag DataKind = "features"
	// KindSegment is the segment namespace.
	KindSegment DataKind = "segments"
)

// FlagDescriptor is a versioned flag entry. A nil Flag denotes a tombstone:
// a placeholder for a deleted flag that retains its version so a stale
// update arriving later can be detected and ignored.
type FlagDescriptor struct {
	Version int
	Flag    *Flag
}

// Deleted reports whether the descriptor is a tombstone.
func (d FlagDescriptor) Deleted() bool { return d.Flag == nil }

// SegmentDescriptor is a versioned segment entry; nil Segment is a tombstone.
type SegmentDescriptor struct {
	Version int
	Segment *Segment
}

// Deleted reports whether the descriptor is a tombstone.
func (d SegmentDescriptor) Deleted() bool { return d.Segment == nil }

// SerializedItemDescriptor is the persistent-store representation of a
// descriptor: the item remains an opaque serialized string so the reader
// does not depend on the data model.
type SerializedItemDescriptor struct {
	Version int

	// Deleted marks a tombstone; SerializedItem is ignored when set.
	Deleted bool

	SerializedItem string
}

// DataSet is a full flag/segment payload, as carried by a streaming "put"
// event or a polling response.
type DataSet struct {
	Flags    map[string]*Flag    `json:"flags"`
	Segments map[string]*Segment `json:"segments"`
}
