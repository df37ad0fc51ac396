package relay

import (
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/bifrostlabs/bifrost/evaluation"
	"github.com/bifrostlabs/bifrost/internal/logger"
	"github.com/bifrostlabs/bifrost/internal/observability"
	"github.com/bifrostlabs/bifrost/model"
)

// ErrorResponse is the standard error payload for the relay API.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// FlagState is the per-flag entry of the bulk evaluation response.
type FlagState struct {
	Value          any                     `json:"value"`
	VariationIndex *int                    `json:"variationIndex,omitempty"`
	Version        int                     `json:"version"`
	Reason         *model.EvaluationReason `json:"reason,omitempty"`
	TrackEvents    bool                    `json:"trackEvents,omitempty"`
}

// FlagSummary is the per-flag entry of the flag listing response.
type FlagSummary struct {
	Key     string `json:"key"`
	Version int    `json:"version"`
	On      bool   `json:"on"`
	Deleted bool   `json:"deleted,omitempty"`
}

// handleEvaluateFlag processes POST /api/v1/eval/{flagKey}.
//
// The request body is the evaluation context in its JSON wire form, either
// single-kind or multi-kind. The response is the full evaluation detail
// (value, variation index, reason).
func (a *API) handleEvaluateFlag(w http.ResponseWriter, r *http.Request) {
	flagKey := chi.URLParam(r, "flagKey")

	ctx, ok := a.decodeContext(w, r)
	if !ok {
		return
	}

	desc, found := a.reader.GetFlag(flagKey)
	if !found || desc.Deleted() {
		logger.FromContext(r.Context()).Debug("evaluation of unknown flag", logger.FlagKey(flagKey))
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_FLAG_NOT_FOUND",
			Message: "Flag not found: " + flagKey,
		})
		return
	}

	start := time.Now()
	detail := a.evaluator.Evaluate(desc.Flag, ctx)
	observability.EvalDuration.Observe(time.Since(start).Seconds())
	observability.EvalTotal.WithLabelValues(string(detail.Reason.Kind)).Inc()

	render.Status(r, http.StatusOK)
	render.JSON(w, r, detail)
}

// handleEvaluateAll processes POST /api/v1/eval.
//
// The request body is the evaluation context. Query parameters:
//   - clientSideOnly=true restricts the result to client-side visible flags
//   - withReasons=true includes the evaluation reason per flag
func (a *API) handleEvaluateAll(w http.ResponseWriter, r *http.Request) {
	ctx, ok := a.decodeContext(w, r)
	if !ok {
		return
	}

	clientSideOnly := r.URL.Query().Get("clientSideOnly") == "true"
	withReasons := r.URL.Query().Get("withReasons") == "true"

	results := a.evaluator.EvaluateAll(ctx, evaluation.AllFlagsOptions{ClientSideOnly: clientSideOnly})

	flags := a.reader.AllFlags()
	state := make(map[string]FlagState, len(results))
	for key, detail := range results {
		observability.EvalTotal.WithLabelValues(string(detail.Reason.Kind)).Inc()

		entry := FlagState{
			Value:          detail.Value,
			VariationIndex: detail.VariationIndex,
		}
		if desc, ok := flags[key]; ok && desc.Flag != nil {
			entry.Version = desc.Flag.Version
			entry.TrackEvents = desc.Flag.TrackEvents
		}
		if withReasons {
			reason := detail.Reason
			entry.Reason = &reason
		}
		state[key] = entry
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]any{"flags": state})
}

// handleListFlags processes GET /api/v1/flags. It returns flag metadata
// only, never rule contents, sorted by key for stable output.
func (a *API) handleListFlags(w http.ResponseWriter, r *http.Request) {
	all := a.reader.AllFlags()

	summaries := make([]FlagSummary, 0, len(all))
	for key, desc := range all {
		summary := FlagSummary{Key: key, Version: desc.Version, Deleted: desc.Deleted()}
		if desc.Flag != nil {
			summary.On = desc.Flag.On
		}
		summaries = append(summaries, summary)
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Key < summaries[j].Key })

	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]any{"flags": summaries})
}

// handleStatus processes GET /api/v1/status, exposing the data source state
// machine and the last error seen.
func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, a.status.Status())
}

// decodeContext reads and parses the evaluation context from the request
// body. On failure it writes the 400 response itself and returns ok=false.
func (a *API) decodeContext(w http.ResponseWriter, r *http.Request) (model.Context, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_BODY",
			Message: "Failed to read request body",
		})
		return model.Context{}, false
	}

	ctx, err := model.ParseContext(body)
	if err != nil {
		logger.FromContext(r.Context()).Warn("invalid evaluation context", logger.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_CONTEXT",
			Message: "Invalid evaluation context: " + err.Error(),
		})
		return model.Context{}, false
	}
	return ctx, true
}
