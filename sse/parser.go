package sse

import (
	"strings"
)

// Parser is an incremental text/event-stream parser. Feed it raw chunks in
// arrival order; complete events and comments are delivered to the dispatch
// callback as soon as their terminating blank line is seen.
//
// The parser holds partial lines and partial events between Feed calls, so
// chunk boundaries may fall anywhere, including in the middle of a CRLF
// pair.
type Parser struct {
	dispatch func(StreamItem)

	line  strings.Builder
	sawCR bool // a LF immediately after CR is part of the same terminator

	eventType   string
	dataLines   []string
	havePending bool
	lastEventID string
}

// NewParser creates a parser that calls dispatch for each complete event or
// comment.
func NewParser(dispatch func(StreamItem)) *Parser {
	return &Parser{dispatch: dispatch}
}

// Feed consumes a chunk of the response body.
func (p *Parser) Feed(chunk []byte) {
	for _, b := range chunk {
		switch b {
		case '\r':
			p.completeLine()
			p.sawCR = true
		case '\n':
			if p.sawCR {
				p.sawCR = false
				continue
			}
			p.completeLine()
		default:
			p.sawCR = false
			p.line.WriteByte(b)
		}
	}
}

func (p *Parser) completeLine() {
	line := p.line.String()
	p.line.Reset()

	if line == "" {
		p.dispatchPending()
		return
	}
	p.handleField(line)
}

func (p *Parser) handleField(line string) {
	colon := strings.IndexByte(line, ':')
	if colon == 0 {
		// Comment line; delivered as-is, not buffered into an event.
		p.dispatch(Comment(line[1:]))
		return
	}

	var name, value string
	if colon < 0 {
		name = line
	} else {
		name = line[:colon]
		value = strings.TrimPrefix(line[colon+1:], " ")
	}

	switch name {
	case "event":
		p.havePending = true
		p.eventType = value
	case "data":
		p.havePending = true
		p.dataLines = append(p.dataLines, value)
	case "id":
		// IDs containing a null byte are acceptable but ignored.
		if strings.IndexByte(value, 0) >= 0 {
			return
		}
		p.havePending = true
		p.lastEventID = value
	case "retry":
		// Reconnect timing is owned by the Backoff; the field is parsed and
		// discarded.
	default:
		// Unknown fields are ignored per the SSE specification.
	}
}

func (p *Parser) dispatchPending() {
	if !p.havePending {
		return
	}
	eventType := p.eventType
	if eventType == "" {
		eventType = "message"
	}
	p.dispatch(Event{
		Type:        eventType,
		Data:        strings.Join(p.dataLines, "\n"),
		LastEventID: p.lastEventID,
	})
	p.eventType = ""
	p.dataLines = nil
	p.havePending = false
}

// LastEventID returns the most recently observed "id:" value, used to
// populate the Last-Event-ID header on reconnect.
func (p *Parser) LastEventID() string { return p.lastEventID }
