// Package sse decodes server-sent event byte streams incrementally.
// Any prefix of a well-formed stream is a legal Feed input; events are
// emitted only once their terminating blank line arrives.
package sse

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Stats reports advisory parser counters.
type Stats struct {
	BytesConsumed  int64
	EventsProduced int64
	FirstEventAt   time.Time
	LastEventAt    time.Time
	ErrorCount     int64
}

// Parser assembles typed events from a raw SSE byte stream, buffering
// across chunk boundaries. It is not safe for concurrent use.
type Parser struct {
	buf     []byte
	pending pendingEvent
	stats   Stats
}

type pendingEvent struct {
	name      string
	dataLines []string
	id        string
	retry     time.Duration
	hasRetry  bool
	dirty     bool
}

// NewParser returns an empty parser.
func NewParser() *Parser {
	return &Parser{}
}

// Feed consumes the next chunk and returns the zero or more events it
// completes. Partial trailing lines are retained verbatim for the next
// call.
func (p *Parser) Feed(chunk []byte) []Event {
	p.stats.BytesConsumed += int64(len(chunk))
	p.buf = append(p.buf, chunk...)

	var events []Event
	for {
		idx := indexLF(p.buf)
		if idx < 0 {
			break
		}
		line := string(p.buf[:idx])
		p.buf = p.buf[idx+1:]
		line = strings.TrimSuffix(line, "\r")
		if ev, ok := p.consumeLine(line); ok {
			events = append(events, ev)
		}
	}
	return events
}

// Reset clears buffered bytes and the pending event. Stats are retained.
func (p *Parser) Reset() {
	p.buf = nil
	p.pending = pendingEvent{}
}

// Stats returns a snapshot of parser counters.
func (p *Parser) Stats() Stats {
	return p.stats
}

func (p *Parser) consumeLine(line string) (Event, bool) {
	if line == "" {
		return p.dispatch()
	}
	if strings.HasPrefix(line, ":") {
		return Event{}, false
	}

	field := line
	value := ""
	if cut := strings.IndexByte(line, ':'); cut >= 0 {
		field = line[:cut]
		value = strings.TrimPrefix(line[cut+1:], " ")
	}

	switch field {
	case "event":
		p.pending.name = value
		p.pending.dirty = true
	case "data":
		p.pending.dataLines = append(p.pending.dataLines, value)
		p.pending.dirty = true
	case "id":
		p.pending.id = value
		p.pending.dirty = true
	case "retry":
		ms, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || ms < 0 {
			p.stats.ErrorCount++
			return Event{}, false
		}
		p.pending.retry = time.Duration(ms) * time.Millisecond
		p.pending.hasRetry = true
		p.pending.dirty = true
	default:
		// Unknown fields are ignored per the wire format.
	}
	return Event{}, false
}

func (p *Parser) dispatch() (Event, bool) {
	pending := p.pending
	p.pending = pendingEvent{}
	if !pending.dirty {
		return Event{}, false
	}

	name := pending.name
	if name == "" {
		name = defaultEventName
	}
	raw := strings.Join(pending.dataLines, "\n")

	ev := Event{
		Kind:       kindFor(name),
		Name:       name,
		Raw:        raw,
		ID:         pending.id,
		Retry:      pending.retry,
		HasRetry:   pending.hasRetry,
		ReceivedAt: time.Now(),
	}
	ev.Payload = decodePayload(raw, &p.stats)

	p.stats.EventsProduced++
	if p.stats.FirstEventAt.IsZero() {
		p.stats.FirstEventAt = ev.ReceivedAt
	}
	p.stats.LastEventAt = ev.ReceivedAt
	return ev, true
}

func decodePayload(raw string, stats *Stats) any {
	if raw == "" {
		return nil
	}
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		stats.ErrorCount++
		return raw
	}
	return decoded
}

func indexLF(buf []byte) int {
	for i, b := range buf {
		if b == '\n' {
			return i
		}
	}
	return -1
}
