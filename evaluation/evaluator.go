// Package evaluation implements the flag evaluation engine: prerequisite
// resolution, target and rule matching, segment membership, and the
// deterministic bucketing used by percentage rollouts.
//
// Evaluation is a pure function of the flag data, the segment data and the
// context: it reads from a store.DataReader and never mutates it, so
// variation calls may run concurrently from any number of goroutines.
package evaluation

import (
	"errors"
	"log/slog"

	"github.com/bifrostlabs/bifrost/internal/logger"
	"github.com/bifrostlabs/bifrost/model"
	"github.com/bifrostlabs/bifrost/store"
)

var errInvalidAttributeReference = errors.New("evaluation: invalid attribute reference in clause")

// Evaluator computes evaluation results against the data visible through a
// store.DataReader.
type Evaluator struct {
	reader store.DataReader
	logger *slog.Logger
}

// New creates an Evaluator. If logger is nil, slog.Default() is used.
func New(reader store.DataReader, log *slog.Logger) *Evaluator {
	if reader == nil {
		panic("evaluation: data reader cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Evaluator{reader: reader, logger: log}
}

// evalScope is the per-call state threaded through the recursion: the cycle
// guard and any big-segment status encountered along the way.
type evalScope struct {
	stack       *evaluationStack
	bigSegments model.BigSegmentsStatus
}

// Evaluate computes the result for one flag. Errors never escape as Go
// errors: every failure mode produces a detail with an Error reason and a
// nil value, which the caller replaces with its default.
func (e *Evaluator) Evaluate(flag *model.Flag, ctx model.Context) model.EvaluationDetail {
	if !ctx.Valid() {
		return model.NewEvaluationError(model.ErrorUserNotSpecified, nil)
	}
	scope := evalScope{stack: newEvaluationStack()}
	detail := e.evaluate(flag, ctx, &scope)
	if scope.bigSegments != "" {
		detail.Reason.BigSegmentsStatus = scope.bigSegments
	}
	return detail
}

// AllFlagsOptions modifies EvaluateAll behavior.
type AllFlagsOptions struct {
	// ClientSideOnly restricts the result to flags available to client-side
	// SDKs using an environment ID.
	ClientSideOnly bool
}

// EvaluateAll evaluates every non-deleted flag in the store against the
// context. Each flag's evaluation is independent; one malformed flag yields
// an Error detail for its own key without affecting the others.
func (e *Evaluator) EvaluateAll(ctx model.Context, opts AllFlagsOptions) map[string]model.EvaluationDetail {
	all := e.reader.AllFlags()
	results := make(map[string]model.EvaluationDetail, len(all))
	for key, desc := range all {
		if desc.Deleted() {
			continue
		}
		flag := desc.Flag
		if opts.ClientSideOnly &&
			(flag.ClientSideAvailability == nil || !flag.ClientSideAvailability.UsingEnvironmentID) {
			continue
		}
		results[key] = e.Evaluate(flag, ctx)
	}
	return results
}

func (e *Evaluator) evaluate(flag *model.Flag, ctx model.Context, scope *evalScope) model.EvaluationDetail {
	if !flag.On {
		return offValue(flag, model.NewReasonOff())
	}

	forget := scope.stack.noticePrerequisite(flag.Key)
	defer forget()

	for _, prereq := range flag.Prerequisites {
		if scope.stack.seenPrerequisite(prereq.Key) {
			// A circular prerequisite chain; usually a temporary condition
			// caused by an incomplete update. The cycle fails the
			// prerequisite rather than recursing.
			e.logger.Warn("circular prerequisite reference",
				logger.FlagKey(flag.Key),
				slog.String("prerequisite", prereq.Key),
			)
			return offValue(flag, model.NewReasonPrerequisiteFailed(prereq.Key))
		}

		desc, ok := e.reader.GetFlag(prereq.Key)
		if !ok || desc.Deleted() {
			return offValue(flag, model.NewReasonPrerequisiteFailed(prereq.Key))
		}
		prereqFlag := desc.Flag

		result := e.evaluate(prereqFlag, ctx, scope)
		if result.IsError() {
			return model.NewEvaluationError(model.ErrorMalformedFlag, nil)
		}
		if !prereqFlag.On || result.VariationIndex == nil || *result.VariationIndex != prereq.Variation {
			// The reason names the direct failing prerequisite, not the
			// transitive root cause.
			return offValue(flag, model.NewReasonPrerequisiteFailed(prereq.Key))
		}
	}

	// Targets take priority over rules.
	if index := anyTargetMatchVariation(ctx, flag); index != nil {
		return flagVariation(flag, *index, model.NewReasonTargetMatch())
	}

	for i, rule := range flag.Rules {
		matched, err := e.matchRuleClauses(rule.Clauses, ctx, scope)
		if err != nil {
			e.logger.Warn("malformed flag rule",
				logger.FlagKey(flag.Key),
				slog.Int("rule_index", i),
				logger.Err(err),
			)
			return model.NewEvaluationError(model.ErrorMalformedFlag, nil)
		}
		if !matched {
			continue
		}
		index, inExperiment, err := resolveVariationOrRollout(flag, rule.VariationOrRollout, ctx)
		if err != nil {
			return model.NewEvaluationError(model.ErrorMalformedFlag, nil)
		}
		return flagVariation(flag, index, model.NewReasonRuleMatch(i, rule.ID, inExperiment))
	}

	index, inExperiment, err := resolveVariationOrRollout(flag, flag.Fallthrough, ctx)
	if err != nil {
		return model.NewEvaluationError(model.ErrorMalformedFlag, nil)
	}
	return flagVariation(flag, index, model.NewReasonFallthrough(inExperiment))
}

// flagVariation returns the variation at index, or a malformed-flag error if
// the index is out of range for the flag's variation list.
func flagVariation(flag *model.Flag, index int, reason model.EvaluationReason) model.EvaluationDetail {
	if index < 0 || index >= len(flag.Variations) {
		return model.NewEvaluationError(model.ErrorMalformedFlag, nil)
	}
	return model.EvaluationDetail{
		Value:          flag.Variations[index],
		VariationIndex: &index,
		Reason:         reason,
	}
}

// offValue returns the off variation with the given reason, or an empty
// detail when the flag has no off variation.
func offValue(flag *model.Flag, reason model.EvaluationReason) model.EvaluationDetail {
	if flag.OffVariation == nil {
		return model.EvaluationDetail{Reason: reason}
	}
	return flagVariation(flag, *flag.OffVariation, reason)
}

// anyTargetMatchVariation checks contextTargets, falling back to the legacy
// user targets for entries that reference them, and returns the variation
// index of the first match.
func anyTargetMatchVariation(ctx model.Context, flag *model.Flag) *int {
	if len(flag.ContextTargets) == 0 {
		for _, target := range flag.Targets {
			if index := targetMatchVariation(ctx, target); index != nil {
				return index
			}
		}
		return nil
	}
	for _, contextTarget := range flag.ContextTargets {
		kind := contextTarget.ContextKind
		if (kind == "" || kind == model.DefaultKind) && len(contextTarget.Values) == 0 {
			// A user context target with no values delegates to the legacy
			// target list for the same variation.
			for _, target := range flag.Targets {
				if target.Variation != contextTarget.Variation {
					continue
				}
				if index := targetMatchVariation(ctx, target); index != nil {
					return index
				}
			}
			continue
		}
		if index := targetMatchVariation(ctx, contextTarget); index != nil {
			return index
		}
	}
	return nil
}

func targetMatchVariation(ctx model.Context, target model.Target) *int {
	kind := target.ContextKind
	if kind == "" {
		kind = model.DefaultKind
	}
	key, ok := ctx.Key(kind)
	if !ok {
		return nil
	}
	for _, value := range target.Values {
		if value == key {
			variation := target.Variation
			return &variation
		}
	}
	return nil
}

// resolveVariationOrRollout determines the variation index selected by a
// fixed variation or by bucketing the context into a rollout.
func resolveVariationOrRollout(flag *model.Flag, vr model.VariationOrRollout, ctx model.Context) (int, bool, error) {
	if vr.Variation != nil {
		return *vr.Variation, false, nil
	}
	rollout := vr.Rollout
	if rollout == nil {
		return 0, false, errors.New("evaluation: rule has neither variation nor rollout")
	}
	if len(rollout.Variations) == 0 {
		return 0, false, errors.New("evaluation: rollout with no variations")
	}

	isExperiment := rollout.Kind == model.RolloutKindExperiment

	var prefix bucketPrefix
	if rollout.Seed != nil {
		prefix = newSeededPrefix(*rollout.Seed)
	} else {
		prefix = newKeyedPrefix(flag.Key, flag.Salt)
	}

	bucket, contextMissing, err := bucketContext(ctx, rollout.BucketBy, prefix, isExperiment, rollout.ContextKind)
	if err != nil {
		return 0, false, err
	}

	wv := variationForBucket(bucket, rollout.Variations)
	return wv.Variation, isExperiment && !wv.Untracked && !contextMissing, nil
}

// variationForBucket walks the cumulative weight bands and returns the one
// owning the bucket value. Each band is half-open: a bucket equal to a
// cumulative weight falls into the next band. Weights summing below 100%
// leave a remainder that belongs to the last variation.
func variationForBucket(bucket float64, variations []model.WeightedVariation) model.WeightedVariation {
	sum := 0.0
	for _, wv := range variations {
		sum += float64(wv.Weight) / 100000.0
		if bucket < sum {
			return wv
		}
	}
	return variations[len(variations)-1]
}
