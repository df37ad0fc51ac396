package evaluation

import (
	"log/slog"

	"github.com/bifrostlabs/bifrost/model"
)

// maybeNegate applies the clause's negate flag to its own match result. The
// negation is scoped to the single clause, never to the rule.
func maybeNegate(clause model.Clause, matched bool) bool {
	if clause.Negate {
		return !matched
	}
	return matched
}

// matchRuleClauses reports whether every clause matches (AND semantics).
func (e *Evaluator) matchRuleClauses(clauses []model.Clause, ctx model.Context, scope *evalScope) (bool, error) {
	for _, clause := range clauses {
		matched, err := e.matchClause(clause, ctx, scope)
		if err != nil {
			return false, err
		}
		if !matched {
			return false, nil
		}
	}
	return true, nil
}

func (e *Evaluator) matchClause(clause model.Clause, ctx model.Context, scope *evalScope) (bool, error) {
	if clause.Op == model.OperatorSegmentMatch {
		return e.matchSegmentClause(clause, ctx, scope)
	}
	return matchNonSegmentClause(clause, ctx)
}

func matchNonSegmentClause(clause model.Clause, ctx model.Context) (bool, error) {
	ref := model.NewAttrRef(clause.Attribute)
	if !ref.Valid() {
		return false, errInvalidAttributeReference
	}

	if ref.IsKind() {
		// The "kind" attribute matches against every kind in the context.
		for _, clauseValue := range clause.Values {
			for _, kind := range ctx.Kinds() {
				if matchOperator(clause.Op, kind, clauseValue) {
					return maybeNegate(clause, true), nil
				}
			}
		}
		return maybeNegate(clause, false), nil
	}

	value := ctx.Attribute(clause.ContextKind, ref)
	if value == nil {
		// An absent attribute is a non-match even for negated clauses.
		return false, nil
	}

	if values, ok := value.([]any); ok {
		for _, clauseValue := range clause.Values {
			for _, contextValue := range values {
				if matchOperator(clause.Op, contextValue, clauseValue) {
					return maybeNegate(clause, true), nil
				}
			}
		}
		return maybeNegate(clause, false), nil
	}

	for _, clauseValue := range clause.Values {
		if matchOperator(clause.Op, value, clauseValue) {
			return maybeNegate(clause, true), nil
		}
	}
	return maybeNegate(clause, false), nil
}

// matchSegmentClause evaluates segment membership for each segment key in
// the clause values. Unknown or deleted segments are skipped, not errors.
func (e *Evaluator) matchSegmentClause(clause model.Clause, ctx model.Context, scope *evalScope) (bool, error) {
	for _, value := range clause.Values {
		segmentKey, ok := value.(string)
		if !ok {
			continue
		}
		desc, ok := e.reader.GetSegment(segmentKey)
		if !ok || desc.Deleted() {
			continue
		}
		contains, err := e.segmentContains(desc.Segment, ctx, scope)
		if err != nil {
			return false, err
		}
		if contains {
			return maybeNegate(clause, true), nil
		}
	}
	return maybeNegate(clause, false), nil
}

// segmentContains checks inclusion lists, then exclusion lists, then rules.
// A circular segment reference completes as a non-match rather than an
// error so one bad segment cannot take down unrelated evaluations.
func (e *Evaluator) segmentContains(segment *model.Segment, ctx model.Context, scope *evalScope) (bool, error) {
	if scope.stack.seenSegment(segment.Key) {
		e.logger.Warn("circular segment reference",
			slog.String("segment", segment.Key),
		)
		return false, nil
	}
	forget := scope.stack.noticeSegment(segment.Key)
	defer forget()

	if segment.Unbounded {
		// Big segment membership lives in an external store; without one,
		// membership is unknown and reported through the reason's
		// bigSegmentsStatus.
		scope.bigSegments = model.BigSegmentsNotConfigured
		return false, nil
	}

	if isTargeted(ctx, segment.Included, segment.IncludedContexts) {
		return true, nil
	}
	if isTargeted(ctx, segment.Excluded, segment.ExcludedContexts) {
		return false, nil
	}
	for _, rule := range segment.Rules {
		matched, err := e.matchSegmentRule(rule, ctx, segment.Key, segment.Salt, scope)
		if err != nil {
			return false, err
		}
		if matched {
			return true, nil
		}
	}
	return false, nil
}

func (e *Evaluator) matchSegmentRule(
	rule model.SegmentRule,
	ctx model.Context,
	segmentKey, salt string,
	scope *evalScope,
) (bool, error) {
	matched, err := e.matchRuleClauses(rule.Clauses, ctx, scope)
	if err != nil || !matched {
		return false, err
	}

	if rule.Weight == nil {
		return true, nil
	}
	bucket, _, err := bucketContext(ctx, rule.BucketBy, newKeyedPrefix(segmentKey, salt), false, rule.RolloutContextKind)
	if err != nil {
		return false, err
	}
	return bucket < float64(*rule.Weight)/100000.0, nil
}

// isTargeted checks the legacy key list (for plain user contexts with no
// per-kind targets) or the per-kind target lists.
func isTargeted(ctx model.Context, keys []string, targets []model.SegmentTarget) bool {
	if ctx.IsOnlyUser() && len(targets) == 0 {
		key, _ := ctx.Key(model.DefaultKind)
		for _, k := range keys {
			if k == key {
				return true
			}
		}
		return false
	}

	for _, target := range targets {
		kind := target.ContextKind
		if kind == "" {
			kind = model.DefaultKind
		}
		key, ok := ctx.Key(kind)
		if !ok {
			continue
		}
		for _, value := range target.Values {
			if value == key {
				return true
			}
		}
	}
	return false
}
