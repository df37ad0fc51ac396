package evaluation

import (
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/bifrostlabs/bifrost/model"
)

// matchOperator applies a clause operator to one context value and one
// clause value. A failed type coercion is a non-match, never an error: a
// numeric comparison against a string simply does not match, and a
// malformed regex or semantic version matches nothing.
func matchOperator(op model.Operator, contextValue, clauseValue any) bool {
	switch op {
	case model.OperatorIn:
		return valuesEqual(contextValue, clauseValue)
	case model.OperatorStartsWith:
		return stringOp(contextValue, clauseValue, strings.HasPrefix)
	case model.OperatorEndsWith:
		return stringOp(contextValue, clauseValue, strings.HasSuffix)
	case model.OperatorContains:
		return stringOp(contextValue, clauseValue, strings.Contains)
	case model.OperatorMatches:
		return stringOp(contextValue, clauseValue, regexMatch)
	case model.OperatorLessThan:
		return numericOp(contextValue, clauseValue, func(a, b float64) bool { return a < b })
	case model.OperatorLessThanOrEqual:
		return numericOp(contextValue, clauseValue, func(a, b float64) bool { return a <= b })
	case model.OperatorGreaterThan:
		return numericOp(contextValue, clauseValue, func(a, b float64) bool { return a > b })
	case model.OperatorGreaterThanOrEqual:
		return numericOp(contextValue, clauseValue, func(a, b float64) bool { return a >= b })
	case model.OperatorBefore:
		return timeOp(contextValue, clauseValue, time.Time.Before)
	case model.OperatorAfter:
		return timeOp(contextValue, clauseValue, time.Time.After)
	case model.OperatorSemVerEqual:
		return semVerOp(contextValue, clauseValue, func(c int) bool { return c == 0 })
	case model.OperatorSemVerLessThan:
		return semVerOp(contextValue, clauseValue, func(c int) bool { return c < 0 })
	case model.OperatorSemVerGreaterThan:
		return semVerOp(contextValue, clauseValue, func(c int) bool { return c > 0 })
	default:
		// Unspecified and unrecognized operators never match. The clause is
		// skipped quietly so newer operators degrade gracefully on older
		// SDKs.
		return false
	}
}

// valuesEqual is deep equality over JSON-shaped values. Scalars compare by
// value; arrays and objects compare structurally.
func valuesEqual(a, b any) bool {
	switch a.(type) {
	case []any, map[string]any:
		return reflect.DeepEqual(a, b)
	default:
		return a == b
	}
}

func stringOp(contextValue, clauseValue any, op func(string, string) bool) bool {
	cv, ok := contextValue.(string)
	if !ok {
		return false
	}
	mv, ok := clauseValue.(string)
	if !ok {
		return false
	}
	return op(cv, mv)
}

func regexMatch(contextValue, pattern string) bool {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(contextValue)
}

func numericOp(contextValue, clauseValue any, op func(float64, float64) bool) bool {
	cv, ok := contextValue.(float64)
	if !ok {
		return false
	}
	mv, ok := clauseValue.(float64)
	if !ok {
		return false
	}
	return op(cv, mv)
}

// timeOp compares date values: RFC3339 strings, or numbers holding
// milliseconds since the Unix epoch.
func timeOp(contextValue, clauseValue any, op func(time.Time, time.Time) bool) bool {
	ct, ok := parseTime(contextValue)
	if !ok {
		return false
	}
	mt, ok := parseTime(clauseValue)
	if !ok {
		return false
	}
	return op(ct, mt)
}

func parseTime(value any) (time.Time, bool) {
	switch v := value.(type) {
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	case float64:
		return time.UnixMilli(int64(v)), true
	default:
		return time.Time{}, false
	}
}

// semVerOp compares semantic versions. Partial versions such as "2" or
// "2.1" are completed with zeros, matching the cross-SDK semVer contract.
func semVerOp(contextValue, clauseValue any, op func(int) bool) bool {
	cv, ok := parseSemVer(contextValue)
	if !ok {
		return false
	}
	mv, ok := parseSemVer(clauseValue)
	if !ok {
		return false
	}
	return op(cv.Compare(mv))
}

func parseSemVer(value any) (*semver.Version, bool) {
	s, ok := value.(string)
	if !ok {
		return nil, false
	}
	// semver.NewVersion coerces partial versions but also accepts a leading
	// "v", which the flag data format does not allow.
	if strings.HasPrefix(s, "v") {
		return nil, false
	}
	v, err := semver.NewVersion(s)
	if err != nil {
		return nil, false
	}
	return v, true
}
