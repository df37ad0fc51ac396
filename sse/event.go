// Package sse implements a Server-Sent-Events client: an incremental parser
// for the text/event-stream framing, an exponential backoff calculator for
// reconnect scheduling, and an HTTP streaming client that ties the two
// together with redirect and reconnection handling.
package sse

// StreamItem is either an Event or a Comment. Comments are surfaced
// distinctly because stream consumers (and contract tests) need to observe
// heartbeat comments without treating them as data.
type StreamItem interface {
	streamItem()
}

// Event is a complete server-sent event.
type Event struct {
	// Type is the event type; "message" when the stream did not specify one.
	Type string

	// Data is the event payload. Multiple "data:" lines are joined with a
	// newline; a single trailing newline is trimmed.
	Data string

	// LastEventID is the most recent "id:" value observed on the stream at
	// the time this event was dispatched.
	LastEventID string
}

func (Event) streamItem() {}

// Comment is the text of a ":" comment line, excluding the leading colon.
type Comment string

func (Comment) streamItem() {}
