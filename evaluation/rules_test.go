package evaluation

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bifrostlabs/bifrost/model"
)

// clauseFlag returns an on flag whose single rule carries the given clauses
// and serves variation 1, with fallthrough serving variation 0.
func clauseFlag(clauses ...model.Clause) *model.Flag {
	return &model.Flag{
		Key:         "f",
		On:          true,
		Variations:  []any{false, true},
		Fallthrough: model.VariationOrRollout{Variation: intPtr(0)},
		Rules: []model.FlagRule{
			{
				ID:                 "rule-0",
				Clauses:            clauses,
				VariationOrRollout: model.VariationOrRollout{Variation: intPtr(1)},
			},
		},
		Salt: "salt",
	}
}

func TestEvaluator_ClauseMatching(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		clauses []model.Clause
		ctx     model.Context
		want    bool
	}{
		{
			name: "Should match an in clause on a custom attribute",
			clauses: []model.Clause{
				{Attribute: "tier", Op: model.OperatorIn, Values: []any{"gold", "silver"}},
			},
			ctx:  model.NewContextBuilder("u").SetString("tier", "gold").Build(),
			want: true,
		},
		{
			name: "Should match when any element of a list attribute matches",
			clauses: []model.Clause{
				{Attribute: "groups", Op: model.OperatorIn, Values: []any{"admins"}},
			},
			ctx:  model.NewContextBuilder("u").Set("groups", []any{"users", "admins"}).Build(),
			want: true,
		},
		{
			name: "Should negate a matching clause",
			clauses: []model.Clause{
				{Attribute: "tier", Op: model.OperatorIn, Values: []any{"gold"}, Negate: true},
			},
			ctx:  model.NewContextBuilder("u").SetString("tier", "gold").Build(),
			want: false,
		},
		{
			name: "Should not match an absent attribute even when negated",
			clauses: []model.Clause{
				{Attribute: "tier", Op: model.OperatorIn, Values: []any{"gold"}, Negate: true},
			},
			ctx:  model.NewContext("u"),
			want: false,
		},
		{
			name: "Should match the kind attribute against every context kind",
			clauses: []model.Clause{
				{Attribute: "kind", Op: model.OperatorIn, Values: []any{"org"}},
			},
			ctx: model.NewMultiContext(
				model.NewContext("u"),
				model.NewContextOfKind("org", "acme"),
			),
			want: true,
		},
		{
			name: "Should read the attribute from the clause's context kind",
			clauses: []model.Clause{
				{Attribute: "name", Op: model.OperatorIn, Values: []any{"Acme"}, ContextKind: "org"},
			},
			ctx: model.NewMultiContext(
				model.NewContext("u"),
				model.NewContextBuilder("acme").Kind("org").SetString("name", "Acme").Build(),
			),
			want: true,
		},
		{
			name: "Should require every clause to match",
			clauses: []model.Clause{
				{Attribute: "tier", Op: model.OperatorIn, Values: []any{"gold"}},
				{Attribute: "region", Op: model.OperatorIn, Values: []any{"eu"}},
			},
			ctx:  model.NewContextBuilder("u").SetString("tier", "gold").SetString("region", "us").Build(),
			want: false,
		},
		{
			name: "Should not match an unrecognized operator",
			clauses: []model.Clause{
				{Attribute: "tier", Op: "someFutureOp", Values: []any{"gold"}},
			},
			ctx:  model.NewContextBuilder("u").SetString("tier", "gold").Build(),
			want: false,
		},
		{
			name: "Should negate an unrecognized operator to a match",
			clauses: []model.Clause{
				{Attribute: "tier", Op: "someFutureOp", Values: []any{"gold"}, Negate: true},
			},
			ctx:  model.NewContextBuilder("u").SetString("tier", "gold").Build(),
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			flag := clauseFlag(tt.clauses...)
			e := New(newTestStore(t, []*model.Flag{flag}, nil), slog.Default())

			detail := e.Evaluate(flag, tt.ctx)

			require.False(t, detail.IsError())
			if tt.want {
				assert.Equal(t, model.ReasonRuleMatch, detail.Reason.Kind)
				assert.Equal(t, "rule-0", detail.Reason.RuleID)
			} else {
				assert.Equal(t, model.ReasonFallthrough, detail.Reason.Kind)
			}
		})
	}
}

func TestEvaluator_ClauseMatching_InvalidReference(t *testing.T) {
	t.Parallel()

	flag := clauseFlag(model.Clause{Attribute: "//", Op: model.OperatorIn, Values: []any{"x"}})
	e := New(newTestStore(t, []*model.Flag{flag}, nil), slog.Default())

	detail := e.Evaluate(flag, model.NewContext("u"))

	require.True(t, detail.IsError())
	assert.Equal(t, model.ErrorMalformedFlag, detail.Reason.ErrorKind)
}

func segmentMatchFlag(segmentKeys ...any) *model.Flag {
	return clauseFlag(model.Clause{Op: model.OperatorSegmentMatch, Values: segmentKeys})
}

func TestEvaluator_SegmentMatching(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		segment *model.Segment
		ctx     model.Context
		want    bool
	}{
		{
			name: "Should match a context in the included list",
			segment: &model.Segment{
				Key:      "seg",
				Included: []string{"alice"},
			},
			ctx:  model.NewContext("alice"),
			want: true,
		},
		{
			name: "Should not match a context absent from all lists and rules",
			segment: &model.Segment{
				Key:      "seg",
				Included: []string{"alice"},
			},
			ctx:  model.NewContext("bob"),
			want: false,
		},
		{
			name: "Should exclude before evaluating rules",
			segment: &model.Segment{
				Key:      "seg",
				Excluded: []string{"alice"},
				Rules: []model.SegmentRule{
					{Clauses: []model.Clause{{Attribute: "key", Op: model.OperatorIn, Values: []any{"alice"}}}},
				},
			},
			ctx:  model.NewContext("alice"),
			want: false,
		},
		{
			name: "Should prefer inclusion over exclusion",
			segment: &model.Segment{
				Key:      "seg",
				Included: []string{"alice"},
				Excluded: []string{"alice"},
			},
			ctx:  model.NewContext("alice"),
			want: true,
		},
		{
			name: "Should match per-kind included targets",
			segment: &model.Segment{
				Key: "seg",
				IncludedContexts: []model.SegmentTarget{
					{ContextKind: "org", Values: []string{"acme"}},
				},
			},
			ctx:  model.NewContextOfKind("org", "acme"),
			want: true,
		},
		{
			name: "Should ignore the legacy key list for non-user contexts with per-kind targets",
			segment: &model.Segment{
				Key:      "seg",
				Included: []string{"acme"},
				IncludedContexts: []model.SegmentTarget{
					{ContextKind: "device", Values: []string{"tablet"}},
				},
			},
			ctx:  model.NewContextOfKind("org", "acme"),
			want: false,
		},
		{
			name: "Should match a segment rule by clauses",
			segment: &model.Segment{
				Key: "seg",
				Rules: []model.SegmentRule{
					{Clauses: []model.Clause{{Attribute: "tier", Op: model.OperatorIn, Values: []any{"gold"}}}},
				},
			},
			ctx:  model.NewContextBuilder("u").SetString("tier", "gold").Build(),
			want: true,
		},
		{
			name: "Should apply a rule weight of zero as never matching",
			segment: &model.Segment{
				Key:  "seg",
				Salt: "salt",
				Rules: []model.SegmentRule{
					{
						Clauses: []model.Clause{{Attribute: "key", Op: model.OperatorIn, Values: []any{"alice"}}},
						Weight:  intPtr(0),
					},
				},
			},
			ctx:  model.NewContext("alice"),
			want: false,
		},
		{
			name: "Should apply a full rule weight as always matching",
			segment: &model.Segment{
				Key:  "seg",
				Salt: "salt",
				Rules: []model.SegmentRule{
					{
						Clauses: []model.Clause{{Attribute: "key", Op: model.OperatorIn, Values: []any{"alice"}}},
						Weight:  intPtr(100000),
					},
				},
			},
			ctx:  model.NewContext("alice"),
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			flag := segmentMatchFlag(tt.segment.Key)
			e := New(newTestStore(t, []*model.Flag{flag}, []*model.Segment{tt.segment}), slog.Default())

			detail := e.Evaluate(flag, tt.ctx)

			require.False(t, detail.IsError())
			if tt.want {
				assert.Equal(t, model.ReasonRuleMatch, detail.Reason.Kind)
			} else {
				assert.Equal(t, model.ReasonFallthrough, detail.Reason.Kind)
			}
		})
	}
}

func TestEvaluator_SegmentMatching_UnknownSegment(t *testing.T) {
	t.Parallel()

	flag := segmentMatchFlag("no-such-segment")
	e := New(newTestStore(t, []*model.Flag{flag}, nil), slog.Default())

	detail := e.Evaluate(flag, model.NewContext("u"))

	require.False(t, detail.IsError())
	assert.Equal(t, model.ReasonFallthrough, detail.Reason.Kind)
}

func TestEvaluator_SegmentMatching_Cycle(t *testing.T) {
	t.Parallel()

	// seg-a references seg-b which references seg-a again; the cycle
	// completes as a non-match instead of recursing.
	segA := &model.Segment{
		Key: "seg-a",
		Rules: []model.SegmentRule{
			{Clauses: []model.Clause{{Op: model.OperatorSegmentMatch, Values: []any{"seg-b"}}}},
		},
	}
	segB := &model.Segment{
		Key: "seg-b",
		Rules: []model.SegmentRule{
			{Clauses: []model.Clause{{Op: model.OperatorSegmentMatch, Values: []any{"seg-a"}}}},
		},
	}
	flag := segmentMatchFlag("seg-a")

	var logBuffer bytes.Buffer
	localLogger := slog.New(slog.NewTextHandler(&logBuffer, nil))

	e := New(newTestStore(t, []*model.Flag{flag}, []*model.Segment{segA, segB}), localLogger)
	detail := e.Evaluate(flag, model.NewContext("u"))

	require.False(t, detail.IsError())
	assert.Equal(t, model.ReasonFallthrough, detail.Reason.Kind)
	assert.Contains(t, logBuffer.String(), "circular segment reference")
}

func TestEvaluator_SegmentMatching_Unbounded(t *testing.T) {
	t.Parallel()

	segment := &model.Segment{
		Key:       "big-seg",
		Unbounded: true,
		Included:  []string{"alice"},
	}
	flag := segmentMatchFlag("big-seg")

	e := New(newTestStore(t, []*model.Flag{flag}, []*model.Segment{segment}), slog.Default())
	detail := e.Evaluate(flag, model.NewContext("alice"))

	// Without a big segment store the membership is unknown: the clause does
	// not match and the reason carries the status.
	require.False(t, detail.IsError())
	assert.Equal(t, model.ReasonFallthrough, detail.Reason.Kind)
	assert.Equal(t, model.BigSegmentsNotConfigured, detail.Reason.BigSegmentsStatus)
}
