package bifrost

import (
	"encoding/json"
	"time"

	"github.com/bifrostlabs/bifrost/evaluation"
	"github.com/bifrostlabs/bifrost/model"
)

// FlagsStateOption modifies the behavior of AllFlagsState.
type FlagsStateOption int

const (
	// OptionClientSideOnly restricts the result to flags visible to
	// client-side SDKs using an environment ID.
	OptionClientSideOnly FlagsStateOption = iota
	// OptionWithReasons includes the evaluation reason for every flag.
	OptionWithReasons
	// OptionDetailsOnlyForTrackedFlags omits variation index and reason for
	// flags that do not require event tracking, shrinking the payload.
	OptionDetailsOnlyForTrackedFlags
)

// flagMetadata is the per-flag bookkeeping section of the state payload.
type flagMetadata struct {
	Variation            *int                    `json:"variation,omitempty"`
	Version              int                     `json:"version"`
	Reason               *model.EvaluationReason `json:"reason,omitempty"`
	TrackEvents          bool                    `json:"trackEvents,omitempty"`
	DebugEventsUntilDate *int64                  `json:"debugEventsUntilDate,omitempty"`
}

// FlagsState is a snapshot of every flag's value for one context, in the
// shape client-side SDKs bootstrap from.
type FlagsState struct {
	valid    bool
	values   map[string]any
	metadata map[string]flagMetadata
}

// Valid reports whether the snapshot came from an initialized client. An
// invalid state has no flags.
func (s FlagsState) Valid() bool { return s.valid }

// Values returns the flag values by key.
func (s FlagsState) Values() map[string]any {
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// GetValue returns the value for one flag, or nil if absent.
func (s FlagsState) GetValue(key string) any { return s.values[key] }

// MarshalJSON renders the bootstrap payload: each flag's value keyed
// directly, plus "$flagsState" metadata and a "$valid" marker.
func (s FlagsState) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.values)+2)
	for k, v := range s.values {
		out[k] = v
	}
	out["$flagsState"] = s.metadata
	out["$valid"] = s.valid
	return json.Marshal(out)
}

// AllFlagsState evaluates every flag for the context and returns the
// snapshot. If the client is not initialized and has no cached data, the
// result is marked invalid and contains no flags.
func (c *Client) AllFlagsState(ctx model.Context, options ...FlagsStateOption) FlagsState {
	var clientSideOnly, withReasons, detailsOnlyForTracked bool
	for _, opt := range options {
		switch opt {
		case OptionClientSideOnly:
			clientSideOnly = true
		case OptionWithReasons:
			withReasons = true
		case OptionDetailsOnlyForTrackedFlags:
			detailsOnlyForTracked = true
		}
	}

	if !c.store.Initialized() {
		c.logger.Warn("AllFlagsState requested before client initialization")
		return FlagsState{}
	}

	results := c.evaluator.EvaluateAll(ctx, evaluation.AllFlagsOptions{ClientSideOnly: clientSideOnly})
	flags := c.store.AllFlags()
	now := time.Now().UnixMilli()

	state := FlagsState{
		valid:    true,
		values:   make(map[string]any, len(results)),
		metadata: make(map[string]flagMetadata, len(results)),
	}
	for key, detail := range results {
		state.values[key] = detail.Value

		meta := flagMetadata{Variation: detail.VariationIndex}
		flag := flags[key].Flag
		if flag != nil {
			meta.Version = flag.Version
			meta.TrackEvents = flag.TrackEvents
			meta.DebugEventsUntilDate = flag.DebugEventsUntilDate
		}

		tracked := meta.TrackEvents ||
			(meta.DebugEventsUntilDate != nil && *meta.DebugEventsUntilDate > now)
		if detailsOnlyForTracked && !tracked {
			meta.Variation = nil
		} else if withReasons {
			reason := detail.Reason
			meta.Reason = &reason
		}
		state.metadata[key] = meta
	}
	return state
}
