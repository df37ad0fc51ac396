package evaluation

import (
	"crypto/sha1"
	"encoding/hex"
	"math"
	"strconv"

	"github.com/bifrostlabs/bifrost/model"
)

// bucketScale is the largest value representable by the first 15 hex digits
// of a SHA1 hash. Dividing by it maps a hash onto [0, 1). The constant and
// the 15-digit truncation are fixed by the cross-SDK bucketing contract;
// changing either would silently reassign every context to new buckets.
const bucketScale = float64(0xFFFFFFFFFFFFFFF)

// bucketPrefix is the leading portion of the bucketing hash input: either
// "<flagKey>.<salt>", or the decimal seed when the rollout carries one.
type bucketPrefix struct {
	keyAndSalt string
	seed       *int64
}

func newKeyedPrefix(flagKey, salt string) bucketPrefix {
	return bucketPrefix{keyAndSalt: flagKey + "." + salt}
}

func newSeededPrefix(seed int64) bucketPrefix {
	return bucketPrefix{seed: &seed}
}

func (p bucketPrefix) String() string {
	if p.seed != nil {
		return strconv.FormatInt(*p.seed, 10)
	}
	return p.keyAndSalt
}

// bucketContext computes the [0, 1) bucket value for a context.
//
// The second result reports that the bucketing attribute (or the whole
// context kind) was missing; the bucket is then 0 and experiment tracking is
// suppressed. An invalid bucketBy reference is the only error case.
func bucketContext(
	ctx model.Context,
	bucketBy string,
	prefix bucketPrefix,
	isExperiment bool,
	contextKind string,
) (float64, bool, error) {
	refSource := bucketBy
	if refSource == "" || isExperiment {
		// Experiments always bucket by key, ignoring bucketBy.
		refSource = "key"
	}
	ref := model.NewAttrRef(refSource)
	if !ref.Valid() {
		return 0, false, errInvalidAttributeReference
	}

	value := ctx.Attribute(contextKind, ref)
	switch value.(type) {
	case string, float64:
	default:
		// Absent attribute or a non-bucketable type: the context cannot be
		// bucketed, and experiment tracking is suppressed.
		return 0, true, nil
	}

	id, ok := bucketableStringValue(value)
	if !ok {
		// A non-integral number is present but has no hash representation;
		// it buckets to 0 without suppressing experiment tracking.
		return 0, false, nil
	}

	input := prefix.String() + "." + id
	sum := sha1.Sum([]byte(input))
	hexed := hex.EncodeToString(sum[:])[:15]
	n, err := strconv.ParseUint(hexed, 16, 64)
	if err != nil {
		// Unreachable for hex input of this length; treat as missing.
		return 0, true, nil
	}
	return float64(n) / bucketScale, false, nil
}

// bucketableStringValue converts an attribute value to its hash
// representation: strings as-is, integral numbers in decimal. Anything else
// cannot be bucketed.
func bucketableStringValue(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case float64:
		if math.Trunc(v) == v {
			return strconv.FormatInt(int64(v), 10), true
		}
		return "", false
	default:
		return "", false
	}
}
