package datasource

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/bifrostlabs/bifrost/internal/logger"
	"github.com/bifrostlabs/bifrost/model"
	"github.com/bifrostlabs/bifrost/store"
)

// MessageStatus is the outcome of handling one stream event.
type MessageStatus int

const (
	// MessageHandled means the event was applied (or deliberately ignored,
	// as for a patch with an unrecognized path).
	MessageHandled MessageStatus = iota
	// InvalidMessage means the payload was malformed; the store was not
	// touched.
	InvalidMessage
	// UnhandledVerb means the event type is unknown to this handler.
	UnhandledVerb
)

func (s MessageStatus) String() string {
	switch s {
	case MessageHandled:
		return "handled"
	case InvalidMessage:
		return "invalid"
	case UnhandledVerb:
		return "unhandled"
	default:
		return "unknown"
	}
}

// EventHandler applies put, patch and delete stream events to a data
// destination. Payloads are parsed completely before anything is written, so
// a malformed event never leaves partial state behind.
type EventHandler struct {
	dest   store.DataDestination
	status *StatusManager
	logger *slog.Logger
}

// NewEventHandler creates an EventHandler. The status manager is moved to
// Valid after each full dataset is applied.
func NewEventHandler(dest store.DataDestination, status *StatusManager, log *slog.Logger) *EventHandler {
	if dest == nil {
		panic("datasource: data destination cannot be nil")
	}
	if status == nil {
		panic("datasource: status manager cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &EventHandler{dest: dest, status: status, logger: log}
}

type putPayload struct {
	Path string        `json:"path"`
	Data model.DataSet `json:"data"`
}

type patchPayload struct {
	Path string          `json:"path"`
	Data json.RawMessage `json:"data"`
}

type deletePayload struct {
	Path    string `json:"path"`
	Version int    `json:"version"`
}

// HandleMessage dispatches one event by type.
func (h *EventHandler) HandleMessage(eventType, data string) MessageStatus {
	switch eventType {
	case "put":
		return h.handlePut(data)
	case "patch":
		return h.handlePatch(data)
	case "delete":
		return h.handleDelete(data)
	default:
		h.logger.Debug("ignoring unknown event type", slog.String("type", eventType))
		return UnhandledVerb
	}
}

func (h *EventHandler) handlePut(data string) MessageStatus {
	var payload putPayload
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		h.logger.Warn("malformed put event", logger.Err(err))
		return InvalidMessage
	}

	h.dest.Init(payload.Data)
	h.logger.Info("applied full dataset",
		slog.Int("flags", len(payload.Data.Flags)),
		slog.Int("segments", len(payload.Data.Segments)),
	)
	h.status.UpdateState(StateValid, nil)
	return MessageHandled
}

func (h *EventHandler) handlePatch(data string) MessageStatus {
	var payload patchPayload
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		h.logger.Warn("malformed patch event", logger.Err(err))
		return InvalidMessage
	}

	kind, key, ok := parsePath(payload.Path)
	if !ok {
		// Paths for item kinds this version does not know about are skipped,
		// not errors, so newer stream payloads stay forward compatible.
		h.logger.Debug("ignoring patch with unrecognized path", slog.String("path", payload.Path))
		return MessageHandled
	}

	switch kind {
	case model.KindFlag:
		var flag model.Flag
		if err := json.Unmarshal(payload.Data, &flag); err != nil {
			h.logger.Warn("malformed flag in patch event",
				slog.String("key", key),
				logger.Err(err),
			)
			return InvalidMessage
		}
		flag.Key = key
		h.dest.UpsertFlag(key, model.FlagDescriptor{Version: flag.Version, Flag: &flag})
	case model.KindSegment:
		var segment model.Segment
		if err := json.Unmarshal(payload.Data, &segment); err != nil {
			h.logger.Warn("malformed segment in patch event",
				slog.String("key", key),
				logger.Err(err),
			)
			return InvalidMessage
		}
		segment.Key = key
		h.dest.UpsertSegment(key, model.SegmentDescriptor{Version: segment.Version, Segment: &segment})
	}
	return MessageHandled
}

func (h *EventHandler) handleDelete(data string) MessageStatus {
	var payload deletePayload
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		h.logger.Warn("malformed delete event", logger.Err(err))
		return InvalidMessage
	}

	kind, key, ok := parsePath(payload.Path)
	if !ok {
		h.logger.Debug("ignoring delete with unrecognized path", slog.String("path", payload.Path))
		return MessageHandled
	}

	// Deletes are tombstones: the destination keeps the version so a stale
	// upsert arriving later cannot resurrect the item.
	switch kind {
	case model.KindFlag:
		h.dest.UpsertFlag(key, model.FlagDescriptor{Version: payload.Version})
	case model.KindSegment:
		h.dest.UpsertSegment(key, model.SegmentDescriptor{Version: payload.Version})
	}
	return MessageHandled
}

// parsePath splits a stream path like "/flags/my-flag" into its data kind
// and item key.
func parsePath(path string) (model.DataKind, string, bool) {
	switch {
	case strings.HasPrefix(path, "/flags/"):
		return model.KindFlag, strings.TrimPrefix(path, "/flags/"), true
	case strings.HasPrefix(path, "/segments/"):
		return model.KindSegment, strings.TrimPrefix(path, "/segments/"), true
	default:
		return "", "", false
	}
}
