package model

// ReasonKind classifies how an evaluation result was decided.
type ReasonKind string

const (
	// ReasonOff means the flag was off; the off variation (if any) was used.
	ReasonOff ReasonKind = "OFF"
	// ReasonFallthrough means no target or rule matched.
	ReasonFallthrough ReasonKind = "FALLTHROUGH"
	// ReasonTargetMatch means the context key matched an explicit target.
	ReasonTargetMatch ReasonKind = "TARGET_MATCH"
	// ReasonRuleMatch means a rule's clauses all matched.
	ReasonRuleMatch ReasonKind = "RULE_MATCH"
	// ReasonPrerequisiteFailed means a prerequisite flag was off, missing or
	// produced a different variation than required.
	ReasonPrerequisiteFailed ReasonKind = "PREREQUISITE_FAILED"
	// ReasonError means the evaluation could not complete; the caller's
	// default value was returned.
	ReasonError ReasonKind = "ERROR"
)

// ErrorKind refines ReasonError.
type ErrorKind string

const (
	ErrorFlagNotFound     ErrorKind = "FLAG_NOT_FOUND"
	ErrorMalformedFlag    ErrorKind = "MALFORMED_FLAG"
	ErrorClientNotReady   ErrorKind = "CLIENT_NOT_READY"
	ErrorUserNotSpecified ErrorKind = "USER_NOT_SPECIFIED"
	ErrorWrongType        ErrorKind = "WRONG_TYPE"
	ErrorException        ErrorKind = "EXCEPTION"
)

// BigSegmentsStatus describes the state of any big segment lookup performed
// during an evaluation.
type BigSegmentsStatus string

const (
	// BigSegmentsNotConfigured means a big segment was referenced but no big
	// segment store is configured, so membership is unknown.
	BigSegmentsNotConfigured BigSegmentsStatus = "NOT_CONFIGURED"
)

// EvaluationReason explains an evaluation result. Only the fields relevant
// to Kind are populated.
type EvaluationReason struct {
	Kind ReasonKind `json:"kind"`

	ErrorKind ErrorKind `json:"errorKind,omitempty"`

	// RuleIndex and RuleID are set for RULE_MATCH.
	RuleIndex *int   `json:"ruleIndex,omitempty"`
	RuleID    string `json:"ruleId,omitempty"`

	// PrerequisiteKey is the direct failing prerequisite for
	// PREREQUISITE_FAILED, not the transitive root cause.
	PrerequisiteKey string `json:"prerequisiteKey,omitempty"`

	// InExperiment is set for RULE_MATCH and FALLTHROUGH when the decision
	// came from an experiment rollout and the variation is tracked.
	InExperiment bool `json:"inExperiment,omitempty"`

	BigSegmentsStatus BigSegmentsStatus `json:"bigSegmentsStatus,omitempty"`
}

// NewReasonOff returns an Off reason.
func NewReasonOff() EvaluationReason { return EvaluationReason{Kind: ReasonOff} }

// NewReasonFallthrough returns a Fallthrough reason.
func NewReasonFallthrough(inExperiment bool) EvaluationReason {
	return EvaluationReason{Kind: ReasonFallthrough, InExperiment: inExperiment}
}

// NewReasonTargetMatch returns a TargetMatch reason.
func NewReasonTargetMatch() EvaluationReason {
	return EvaluationReason{Kind: ReasonTargetMatch}
}

// NewReasonRuleMatch returns a RuleMatch reason for the rule at the given
// index.
func NewReasonRuleMatch(index int, id string, inExperiment bool) EvaluationReason {
	return EvaluationReason{Kind: ReasonRuleMatch, RuleIndex: &index, RuleID: id, InExperiment: inExperiment}
}

// NewReasonPrerequisiteFailed returns a PrerequisiteFailed reason naming the
// directly failing prerequisite.
func NewReasonPrerequisiteFailed(key string) EvaluationReason {
	return EvaluationReason{Kind: ReasonPrerequisiteFailed, PrerequisiteKey: key}
}

// NewReasonError returns an Error reason.
func NewReasonError(kind ErrorKind) EvaluationReason {
	return EvaluationReason{Kind: ReasonError, ErrorKind: kind}
}

// EvaluationDetail is the full result of an evaluation: the value served,
// the variation index it came from (nil when no variation applied, e.g. off
// with no off variation, or an error), and the reason.
type EvaluationDetail struct {
	Value          any              `json:"value"`
	VariationIndex *int             `json:"variationIndex,omitempty"`
	Reason         EvaluationReason `json:"reason"`
}

// IsError reports whether the detail carries an Error reason.
func (d EvaluationDetail) IsError() bool { return d.Reason.Kind == ReasonError }

// NewEvaluationError returns a detail carrying the given default value and
// an Error reason. Evaluation never fails harder than this: the caller
// always receives a usable value.
func NewEvaluationError(kind ErrorKind, defaultValue any) EvaluationDetail {
	return EvaluationDetail{Value: defaultValue, Reason: NewReasonError(kind)}
}
