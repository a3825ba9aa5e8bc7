package sse

import (
	"time"
)

// Kind identifies one decoded event variant.
type Kind string

const (
	KindMessageStart      Kind = "message_start"
	KindContentBlockStart Kind = "content_block_start"
	KindContentBlockDelta Kind = "content_block_delta"
	KindContentBlockStop  Kind = "content_block_stop"
	KindMessageDelta      Kind = "message_delta"
	KindMessageStop       Kind = "message_stop"
	KindError             Kind = "error"
	KindPing              Kind = "ping"
	KindCustom            Kind = "custom"
)

// kindByName maps wire event names to kinds. Unrecognised names become
// KindCustom with the name preserved on the event.
var kindByName = map[string]Kind{
	"message_start":       KindMessageStart,
	"content_block_start": KindContentBlockStart,
	"content_block_delta": KindContentBlockDelta,
	"content_block_stop":  KindContentBlockStop,
	"message_delta":       KindMessageDelta,
	"message_stop":        KindMessageStop,
	"error":               KindError,
	"ping":                KindPing,
}

// defaultEventName is used when a dispatched event carries no event field.
const defaultEventName = "message"

// Event is one fully-assembled server-sent event. Payload holds the
// decoded JSON value of the data field, or the raw string when the data
// is not valid JSON.
type Event struct {
	Kind       Kind
	Name       string
	Payload    any
	Raw        string
	ID         string
	Retry      time.Duration
	HasRetry   bool
	ReceivedAt time.Time
}

// PayloadMap returns the payload as an object, or nil when the payload is
// not a JSON object.
func (e *Event) PayloadMap() map[string]any {
	m, _ := e.Payload.(map[string]any)
	return m
}

func kindFor(name string) Kind {
	if kind, ok := kindByName[name]; ok {
		return kind
	}
	return KindCustom
}
