// Package stream drives the SSE parser over a model byte stream, tracks
// stream lifecycle state, fans events out to subscribers and forwards
// text deltas to the terminal output buffer.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/OnslaughtSnail/helmsman/kernel/model"
	"github.com/OnslaughtSnail/helmsman/kernel/sse"
	"github.com/OnslaughtSnail/helmsman/kernel/termout"
)

// ErrProtocol marks model events that contradict the stream state
// machine, such as a delta for a block that was never opened.
var ErrProtocol = errors.New("stream: protocol violation")

// Stats is a snapshot of pipeline observability counters.
type Stats struct {
	Parser           sse.Stats
	EventSubscribers int
	StateSubscribers int
	DroppedEvents    int64
	LastPingAt       time.Time
	RetryHint        time.Duration
}

type blockKind int

const (
	blockText blockKind = iota
	blockToolUse
)

type contentBlock struct {
	kind       blockKind
	callID     string
	toolName   string
	args       strings.Builder
	startInput json.RawMessage
}

// Pipeline owns one parser, one state value and the fan-outs for a
// single model stream. It is passive: the agent loop feeds it chunks and
// re-drives it on reconnection; the pipeline never reconnects itself.
type Pipeline struct {
	mu        sync.Mutex
	parser    *sse.Parser
	state     State
	events    *Fanout[sse.Event]
	states    *Fanout[State]
	out       *termout.Buffer
	blocks    map[int]*contentBlock
	turnText  strings.Builder
	toolCalls []model.ToolCall
	lastPing  time.Time
	retryHint time.Duration
}

// NewPipeline returns a pipeline in the Disconnected phase writing text
// deltas to out. maxSubscribers caps each fan-out; zero means unbounded.
func NewPipeline(out *termout.Buffer, maxSubscribers int) *Pipeline {
	return &Pipeline{
		parser: sse.NewParser(),
		state:  State{Phase: PhaseDisconnected},
		events: NewFanout[sse.Event](maxSubscribers),
		states: NewFanout[State](maxSubscribers),
		out:    out,
		blocks: map[int]*contentBlock{},
	}
}

// Begin arms the pipeline for a new turn: the turn accumulator is
// cleared and the phase moves to Connecting. Subscribers are kept.
func (p *Pipeline) Begin() {
	p.mu.Lock()
	p.parser.Reset()
	p.blocks = map[int]*contentBlock{}
	p.turnText.Reset()
	p.toolCalls = nil
	p.setStateLocked(State{Phase: PhaseConnecting})
	p.mu.Unlock()
}

// ProcessChunk advances the parser with the next transport bytes,
// applying state transitions and publishing every decoded event. A
// protocol violation or sink failure moves the pipeline to the Error
// phase and is returned.
func (p *Pipeline) ProcessChunk(chunk []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.Phase == PhaseConnecting && len(chunk) > 0 {
		p.setStateLocked(State{Phase: PhaseConnected})
	}
	events := p.parser.Feed(chunk)
	for i := range events {
		ev := events[i]
		if p.state.Phase == PhaseConnected {
			p.setStateLocked(State{Phase: PhaseStreaming})
		}
		if ev.HasRetry {
			p.retryHint = ev.Retry
		}
		if err := p.handleEventLocked(&ev); err != nil {
			p.setStateLocked(State{Phase: PhaseError, Message: err.Error()})
			p.events.Publish(ev)
			return err
		}
		p.events.Publish(ev)
	}
	return nil
}

func (p *Pipeline) handleEventLocked(ev *sse.Event) error {
	switch ev.Kind {
	case sse.KindMessageStart, sse.KindMessageDelta:
		// Usage accounting lives with the transport; nothing to do here.
	case sse.KindContentBlockStart:
		p.openBlockLocked(ev)
	case sse.KindContentBlockDelta:
		return p.applyDeltaLocked(ev)
	case sse.KindContentBlockStop:
		p.closeBlockLocked(ev)
	case sse.KindMessageStop:
		p.setStateLocked(State{Phase: PhaseCompleted})
		if p.out != nil {
			if err := p.out.ForceFlush(); err != nil {
				return fmt.Errorf("stream: flush on stop: %w", err)
			}
		}
	case sse.KindError:
		p.setStateLocked(State{Phase: PhaseError, Message: errorMessage(ev)})
	case sse.KindPing:
		p.lastPing = ev.ReceivedAt
	case sse.KindCustom:
		// Delivered to subscribers, otherwise ignored.
	}
	return nil
}

func (p *Pipeline) openBlockLocked(ev *sse.Event) {
	idx := eventIndex(ev)
	block := &contentBlock{kind: blockText}
	if raw, ok := ev.PayloadMap()["content_block"].(map[string]any); ok {
		if kind, _ := raw["type"].(string); kind == "tool_use" {
			block.kind = blockToolUse
			block.callID, _ = raw["id"].(string)
			block.toolName, _ = raw["name"].(string)
			if input, exists := raw["input"]; exists {
				if encoded, err := json.Marshal(input); err == nil {
					block.startInput = encoded
				}
			}
		}
	}
	if block.kind == blockToolUse && block.callID == "" {
		block.callID = "call_" + uuid.NewString()
	}
	p.blocks[idx] = block
}

func (p *Pipeline) applyDeltaLocked(ev *sse.Event) error {
	idx := eventIndex(ev)
	block, open := p.blocks[idx]
	if !open {
		return fmt.Errorf("stream: delta for unopened block %d: %w", idx, ErrProtocol)
	}
	delta, _ := ev.PayloadMap()["delta"].(map[string]any)
	if delta == nil {
		return nil
	}
	if text, ok := delta["text"].(string); ok && text != "" {
		p.turnText.WriteString(text)
		if p.out != nil {
			if err := p.out.Append(text); err != nil {
				return fmt.Errorf("stream: sink: %w", err)
			}
		}
		return nil
	}
	if partial, ok := delta["partial_json"].(string); ok {
		block.args.WriteString(partial)
	}
	return nil
}

func (p *Pipeline) closeBlockLocked(ev *sse.Event) {
	idx := eventIndex(ev)
	block, open := p.blocks[idx]
	if !open {
		return
	}
	delete(p.blocks, idx)
	if block.kind != blockToolUse {
		return
	}
	args := json.RawMessage(block.args.String())
	if len(args) == 0 {
		args = block.startInput
	}
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	p.toolCalls = append(p.toolCalls, model.ToolCall{
		ID:   block.callID,
		Name: block.toolName,
		Args: args,
	})
}

// SubscribeEvents returns an independent lossy event receiver.
func (p *Pipeline) SubscribeEvents() (<-chan sse.Event, func(), error) {
	return p.events.Subscribe()
}

// SubscribeState returns an independent lossy state receiver.
func (p *Pipeline) SubscribeState() (<-chan State, func(), error) {
	return p.states.Subscribe()
}

// State returns the current lifecycle snapshot.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// TurnText returns the text accumulated since Begin.
func (p *Pipeline) TurnText() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.turnText.String()
}

// TurnToolCalls returns the tool calls sealed since Begin, in emission
// order.
func (p *Pipeline) TurnToolCalls() []model.ToolCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.ToolCall(nil), p.toolCalls...)
}

// Disconnect moves any non-terminal phase to Disconnected.
func (p *Pipeline) Disconnect() {
	p.mu.Lock()
	if !p.state.Terminal() {
		p.setStateLocked(State{Phase: PhaseDisconnected})
	}
	p.mu.Unlock()
}

// Reset clears everything back to Disconnected, dropping any partial
// turn. Subscribers are kept; the event channels stay open so late
// subscribers can still observe final state.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	p.parser.Reset()
	p.blocks = map[int]*contentBlock{}
	p.turnText.Reset()
	p.toolCalls = nil
	p.setStateLocked(State{Phase: PhaseDisconnected})
	p.mu.Unlock()
}

// Stats returns parser counters plus fan-out observability.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Parser:           p.parser.Stats(),
		EventSubscribers: p.events.Len(),
		StateSubscribers: p.states.Len(),
		DroppedEvents:    p.events.Dropped(),
		LastPingAt:       p.lastPing,
		RetryHint:        p.retryHint,
	}
}

// Close tears down the fan-outs. The pipeline is unusable afterwards.
func (p *Pipeline) Close() {
	p.events.Close()
	p.states.Close()
}

func (p *Pipeline) setStateLocked(next State) {
	p.state = next
	p.states.Publish(next)
}

func eventIndex(ev *sse.Event) int {
	if idx, ok := ev.PayloadMap()["index"].(float64); ok {
		return int(idx)
	}
	return 0
}

func errorMessage(ev *sse.Event) string {
	if payload := ev.PayloadMap(); payload != nil {
		if inner, ok := payload["error"].(map[string]any); ok {
			if msg, ok := inner["message"].(string); ok && msg != "" {
				return msg
			}
		}
	}
	if ev.Raw != "" {
		return ev.Raw
	}
	return "stream error"
}
