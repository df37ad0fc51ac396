package model

// Segment is a named, reusable set of context-matching rules usable inside
// flag clauses via the segmentMatch operator.
type Segment struct {
	Key     string `json:"key"`
	Version int    `json:"version"`

	// Included and Excluded are legacy user-key lists. Inclusion always wins
	// over exclusion, and both win over rules.
	Included []string `json:"included,omitempty"`
	Excluded []string `json:"excluded,omitempty"`

	// IncludedContexts and ExcludedContexts are the per-kind equivalents of
	// Included and Excluded.
	IncludedContexts []SegmentTarget `json:"includedContexts,omitempty"`
	ExcludedContexts []SegmentTarget `json:"excludedContexts,omitempty"`

	Rules []SegmentRule `json:"rules,omitempty"`
	Salt  string        `json:"salt"`

	// Unbounded marks a big segment whose membership list lives in an
	// external store. In-memory evaluation treats membership as unknown.
	Unbounded            bool   `json:"unbounded,omitempty"`
	UnboundedContextKind string `json:"unboundedContextKind,omitempty"`
	Generation           *int   `json:"generation,omitempty"`
}

// SegmentTarget lists context keys of one kind that are included in or
// excluded from a segment.
type SegmentTarget struct {
	ContextKind string   `json:"contextKind,omitempty"`
	Values      []string `json:"values"`
}

// SegmentRule matches contexts by clauses, optionally restricted to a
// percentage of matching contexts via Weight.
type SegmentRule struct {
	ID      string   `json:"id,omitempty"`
	Clauses []Clause `json:"clauses"`

	// Weight, when present, is a value in [0, 100000]; only contexts whose
	// bucket value falls below Weight/100000 match the rule.
	Weight *int `json:"weight,omitempty"`

	BucketBy           string `json:"bucketBy,omitempty"`
	RolloutContextKind string `json:"rolloutContextKind,omitempty"`
}
