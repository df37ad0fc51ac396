// Package model defines the flag and segment data model shared by the data
// sources, the store and the evaluator. The JSON field names follow the
// streaming wire protocol, so the types in this package can be deserialized
// directly from "put"/"patch" payloads or from a persistent store.
package model

// RolloutKind distinguishes a plain percentage rollout from an experiment.
type RolloutKind string

const (
	// RolloutKindRollout is a gradual percentage rollout.
	RolloutKindRollout RolloutKind = "rollout"
	// RolloutKindExperiment is an experiment; variations that are not marked
	// untracked report inExperiment in their evaluation reason.
	RolloutKindExperiment RolloutKind = "experiment"
)

// Flag is a feature flag configuration.
//
// Invariant: Variations must be indexable by every variation index referenced
// elsewhere in the flag (targets, rules, fallthrough, offVariation). The
// evaluator treats an out-of-range index as a malformed flag, never as a
// panic.
type Flag struct {
	Key     string `json:"key"`
	Version int    `json:"version"`
	On      bool   `json:"on"`

	// Variations holds the possible values of the flag. Values are opaque
	// JSON: bool, float64, string, []any or map[string]any.
	Variations []any `json:"variations"`

	Fallthrough    VariationOrRollout `json:"fallthrough"`
	OffVariation   *int               `json:"offVariation,omitempty"`
	Prerequisites  []Prerequisite     `json:"prerequisites,omitempty"`
	Targets        []Target           `json:"targets,omitempty"`
	ContextTargets []Target           `json:"contextTargets,omitempty"`
	Rules          []FlagRule         `json:"rules,omitempty"`

	// Salt feeds the bucketing hash so that rollouts of different flags are
	// statistically independent.
	Salt string `json:"salt"`

	ClientSideAvailability *ClientSideAvailability `json:"clientSideAvailability,omitempty"`

	TrackEvents            bool   `json:"trackEvents,omitempty"`
	TrackEventsFallthrough bool   `json:"trackEventsFallthrough,omitempty"`
	DebugEventsUntilDate   *int64 `json:"debugEventsUntilDate,omitempty"`
}

// Prerequisite names another flag that must evaluate to a specific variation
// before this flag is considered on.
type Prerequisite struct {
	Key       string `json:"key"`
	Variation int    `json:"variation"`
}

// Target is an explicit context-key to variation override. ContextKind is
// empty for legacy user targets.
type Target struct {
	ContextKind string   `json:"contextKind,omitempty"`
	Values      []string `json:"values"`
	Variation   int      `json:"variation"`
}

// FlagRule is an ordered targeting rule. All clauses must match (AND
// semantics) for the rule to select its variation or rollout.
type FlagRule struct {
	ID      string   `json:"id,omitempty"`
	Clauses []Clause `json:"clauses"`
	VariationOrRollout
	TrackEvents bool `json:"trackEvents,omitempty"`
}

// VariationOrRollout selects either a fixed variation index or a weighted
// rollout. Exactly one of the fields is expected to be set; a fixed variation
// takes precedence when both are present.
type VariationOrRollout struct {
	Variation *int     `json:"variation,omitempty"`
	Rollout   *Rollout `json:"rollout,omitempty"`
}

// Rollout distributes traffic across variations by weighted percentage.
type Rollout struct {
	Kind       RolloutKind         `json:"kind,omitempty"`
	Variations []WeightedVariation `json:"variations"`

	// Seed, when present, replaces the flag key and salt as the bucketing
	// hash prefix so that distinct flags can share bucket assignments.
	Seed *int64 `json:"seed,omitempty"`

	// BucketBy is the attribute reference used to select the bucketing value.
	// Empty means "key".
	BucketBy string `json:"bucketBy,omitempty"`

	// ContextKind is the context kind the bucketing value is read from.
	// Empty means "user".
	ContextKind string `json:"contextKind,omitempty"`
}

// WeightedVariation assigns a slice of the bucket space [0, 100000) to a
// variation. Weights need not sum to exactly 100000; the bucketing walk
// assigns any remainder to the last variation.
type WeightedVariation struct {
	Variation int  `json:"variation"`
	Weight    int  `json:"weight"`
	Untracked bool `json:"untracked,omitempty"`
}

// ClientSideAvailability controls which client-side SDK credential types may
// receive this flag.
type ClientSideAvailability struct {
	UsingEnvironmentID bool `json:"usingEnvironmentId"`
	UsingMobileKey     bool `json:"usingMobileKey"`
}

// Operator identifies a clause comparison operation. Unrecognized operators
// are preserved as-is and never match.
type Operator string

const (
	OperatorIn                 Operator = "in"
	OperatorStartsWith         Operator = "startsWith"
	OperatorEndsWith           Operator = "endsWith"
	OperatorContains           Operator = "contains"
	OperatorMatches            Operator = "matches"
	OperatorLessThan           Operator = "lessThan"
	OperatorLessThanOrEqual    Operator = "lessThanOrEqual"
	OperatorGreaterThan        Operator = "greaterThan"
	OperatorGreaterThanOrEqual Operator = "greaterThanOrEqual"
	OperatorBefore             Operator = "before"
	OperatorAfter              Operator = "after"
	OperatorSemVerEqual        Operator = "semVerEqual"
	OperatorSemVerLessThan     Operator = "semVerLessThan"
	OperatorSemVerGreaterThan  Operator = "semVerGreaterThan"
	OperatorSegmentMatch       Operator = "segmentMatch"
)

// Clause is a single condition inside a rule. A clause with Negate set
// inverts its own match result only, not the whole rule.
type Clause struct {
	// Attribute is an attribute reference ("name" or "/path/0~1components").
	// It is ignored for segmentMatch clauses.
	Attribute string `json:"attribute"`

	Op     Operator `json:"op"`
	Values []any    `json:"values"`
	Negate bool     `json:"negate,omitempty"`

	// ContextKind is the kind the attribute is read from. Empty means "user".
	ContextKind string `json:"contextKind,omitempty"`
}
