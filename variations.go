package bifrost

import (
	"encoding/json"

	"github.com/bifrostlabs/bifrost/internal/logger"
	"github.com/bifrostlabs/bifrost/model"
)

// BoolVariation returns the flag's value for the context, or defaultValue
// if the flag is missing, the wrong type, or cannot be evaluated.
func (c *Client) BoolVariation(ctx model.Context, key string, defaultValue bool) bool {
	value, _ := c.BoolVariationDetail(ctx, key, defaultValue)
	return value
}

// BoolVariationDetail is BoolVariation plus the evaluation reason.
func (c *Client) BoolVariationDetail(ctx model.Context, key string, defaultValue bool) (bool, model.EvaluationDetail) {
	detail := c.variationDetail(ctx, key, defaultValue)
	value, ok := detail.Value.(bool)
	if !ok {
		return defaultValue, c.wrongType(key, detail, defaultValue)
	}
	return value, detail
}

// IntVariation returns the flag's value for the context as an int. JSON
// numbers are accepted whether or not they arrived as floats, as long as
// they are integral.
func (c *Client) IntVariation(ctx model.Context, key string, defaultValue int) int {
	value, _ := c.IntVariationDetail(ctx, key, defaultValue)
	return value
}

// IntVariationDetail is IntVariation plus the evaluation reason.
func (c *Client) IntVariationDetail(ctx model.Context, key string, defaultValue int) (int, model.EvaluationDetail) {
	detail := c.variationDetail(ctx, key, defaultValue)
	switch n := detail.Value.(type) {
	case int:
		return n, detail
	case float64:
		if n == float64(int(n)) {
			return int(n), detail
		}
	}
	return defaultValue, c.wrongType(key, detail, defaultValue)
}

// Float64Variation returns the flag's value for the context as a float64.
func (c *Client) Float64Variation(ctx model.Context, key string, defaultValue float64) float64 {
	value, _ := c.Float64VariationDetail(ctx, key, defaultValue)
	return value
}

// Float64VariationDetail is Float64Variation plus the evaluation reason.
func (c *Client) Float64VariationDetail(ctx model.Context, key string, defaultValue float64) (float64, model.EvaluationDetail) {
	detail := c.variationDetail(ctx, key, defaultValue)
	switch n := detail.Value.(type) {
	case float64:
		return n, detail
	case int:
		return float64(n), detail
	}
	return defaultValue, c.wrongType(key, detail, defaultValue)
}

// StringVariation returns the flag's value for the context as a string.
func (c *Client) StringVariation(ctx model.Context, key string, defaultValue string) string {
	value, _ := c.StringVariationDetail(ctx, key, defaultValue)
	return value
}

// StringVariationDetail is StringVariation plus the evaluation reason.
func (c *Client) StringVariationDetail(ctx model.Context, key string, defaultValue string) (string, model.EvaluationDetail) {
	detail := c.variationDetail(ctx, key, defaultValue)
	value, ok := detail.Value.(string)
	if !ok {
		return defaultValue, c.wrongType(key, detail, defaultValue)
	}
	return value, detail
}

// JSONVariation returns the flag's value for the context as raw JSON. Any
// variation type is accepted.
func (c *Client) JSONVariation(ctx model.Context, key string, defaultValue json.RawMessage) json.RawMessage {
	value, _ := c.JSONVariationDetail(ctx, key, defaultValue)
	return value
}

// JSONVariationDetail is JSONVariation plus the evaluation reason.
func (c *Client) JSONVariationDetail(ctx model.Context, key string, defaultValue json.RawMessage) (json.RawMessage, model.EvaluationDetail) {
	detail := c.variationDetail(ctx, key, json.RawMessage(nil))
	if detail.IsError() && detail.Value == nil {
		detail.Value = defaultValue
		return defaultValue, detail
	}
	raw, err := json.Marshal(detail.Value)
	if err != nil {
		return defaultValue, c.wrongType(key, detail, defaultValue)
	}
	detail.Value = json.RawMessage(raw)
	return raw, detail
}

// variationDetail is the shared evaluation path. It never returns a nil
// value: every error path substitutes the caller's default.
func (c *Client) variationDetail(ctx model.Context, key string, defaultValue any) model.EvaluationDetail {
	if !c.store.Initialized() {
		c.logger.Warn("evaluation requested before client initialization",
			logger.FlagKey(key),
		)
		return model.NewEvaluationError(model.ErrorClientNotReady, defaultValue)
	}

	desc, ok := c.store.GetFlag(key)
	if !ok || desc.Deleted() {
		c.logger.Warn("unknown feature flag", logger.FlagKey(key))
		return model.NewEvaluationError(model.ErrorFlagNotFound, defaultValue)
	}

	detail := c.evaluator.Evaluate(desc.Flag, ctx)
	if detail.Value == nil {
		detail.Value = defaultValue
		detail.VariationIndex = nil
	}
	return detail
}

// wrongType degrades a detail whose value had an unexpected Go type.
// Evaluation errors pass through unchanged so the original error kind is
// not masked.
func (c *Client) wrongType(key string, detail model.EvaluationDetail, defaultValue any) model.EvaluationDetail {
	if detail.IsError() {
		detail.Value = defaultValue
		return detail
	}
	c.logger.Warn("flag value has unexpected type", logger.FlagKey(key))
	return model.NewEvaluationError(model.ErrorWrongType, defaultValue)
}
