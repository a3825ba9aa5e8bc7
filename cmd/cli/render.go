package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/fatih/color"

	"github.com/OnslaughtSnail/helmsman/kernel/agent"
	"github.com/OnslaughtSnail/helmsman/kernel/termout"
)

// renderer turns session responses into terminal output. While a turn
// streams it prints raw chunks; on completion it optionally re-renders
// the full answer as markdown.
type renderer struct {
	mu       sync.Mutex
	out      io.Writer
	markdown *glamour.TermRenderer

	toolColor   *color.Color
	statusColor *color.Color
	errColor    *color.Color

	streamed bool
}

func newRenderer(out io.Writer, markdown bool) *renderer {
	r := &renderer{
		out:         out,
		toolColor:   color.New(color.FgCyan),
		statusColor: color.New(color.FgYellow),
		errColor:    color.New(color.FgRed, color.Bold),
	}
	if markdown {
		term, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(100),
		)
		if err == nil {
			r.markdown = term
		}
	}
	return r
}

// Markdown reports whether final answers are re-rendered. Markdown mode
// suppresses live chunk streaming since only whole answers render well.
func (r *renderer) Markdown() bool {
	return r.markdown != nil
}

// Sink receives flushed stream chunks from the output buffer.
func (r *renderer) Sink() termout.Sink {
	return termout.SinkFunc(func(text string) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.streamed = true
		_, err := io.WriteString(r.out, text)
		return err
	})
}

func (r *renderer) Handle(resp agent.Response) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch resp.Kind {
	case agent.ResponseStreamRequestStart:
		r.streamed = false

	case agent.ResponseTextContent:
		// Streaming mode already put the chunks on screen.
		if resp.IsPartial || r.streamed {
			return
		}
		text := strings.TrimSpace(resp.Text)
		if text == "" {
			return
		}
		if r.markdown != nil {
			if rendered, err := r.markdown.Render(text); err == nil {
				io.WriteString(r.out, rendered)
				return
			}
		}
		fmt.Fprintf(r.out, "%s\n", text)

	case agent.ResponseToolCall:
		if resp.ToolCall == nil {
			return
		}
		r.breakStreamLine()
		r.toolColor.Fprintf(r.out, "# %s %s\n", resp.ToolCall.Name, compactJSON(resp.ToolCall.Args))

	case agent.ResponseToolResult:
		if resp.ToolResult == nil {
			return
		}
		marker := "="
		if resp.ToolResult.IsError {
			marker = "!"
		}
		r.toolColor.Fprintf(r.out, "%s %s\n", marker, compactJSON(resp.ToolResult.Result))

	case agent.ResponseStatusUpdate:
		// Bare phase transitions carry no message; keep them off screen.
		if strings.TrimSpace(resp.Message) == "" {
			return
		}
		r.breakStreamLine()
		r.statusColor.Fprintf(r.out, "~ %s\n", resp.Message)

	case agent.ResponseError:
		r.breakStreamLine()
		r.errColor.Fprintf(r.out, "error: %s\n", resp.Message)

	case agent.ResponseCompleted:
		// Turn text was already printed via text responses or chunks.
		r.breakStreamLine()
	}
}

// breakStreamLine terminates a partially streamed line before printing
// line-oriented output. Caller holds the lock.
func (r *renderer) breakStreamLine() {
	if r.streamed {
		fmt.Fprintln(r.out)
		r.streamed = false
	}
}

func compactJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var b bytes.Buffer
	if err := json.Compact(&b, raw); err != nil {
		return string(raw)
	}
	s := b.String()
	if len(s) > 160 {
		s = s[:160] + "..."
	}
	return s
}
