package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/OnslaughtSnail/helmsman/kernel/agent"
	"github.com/OnslaughtSnail/helmsman/kernel/model"
)

func TestRendererPlainTurn(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf, false)

	r.Handle(agent.Response{Kind: agent.ResponseStreamRequestStart, Time: time.Now()})
	r.Handle(agent.Response{Kind: agent.ResponseTextContent, Text: "hello there"})
	r.Handle(agent.Response{Kind: agent.ResponseCompleted, FinalText: "hello there"})

	out := buf.String()
	if strings.Count(out, "hello there") != 1 {
		t.Fatalf("answer should print exactly once:\n%s", out)
	}
}

func TestRendererSkipsTextAfterStreaming(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf, false)

	if err := r.Sink().Write("streamed chunk"); err != nil {
		t.Fatal(err)
	}
	r.Handle(agent.Response{Kind: agent.ResponseTextContent, Text: "streamed chunk"})
	r.Handle(agent.Response{Kind: agent.ResponseCompleted, FinalText: "streamed chunk"})

	out := buf.String()
	if strings.Count(out, "streamed chunk") != 1 {
		t.Fatalf("streamed text must not reprint:\n%s", out)
	}
	if !strings.HasSuffix(out, "\n") {
		t.Fatalf("completed turn should end the line:\n%q", out)
	}
}

func TestRendererToolEvents(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf, false)

	call := model.ToolCall{ID: "c1", Name: "READ", Args: json.RawMessage(`{"path":"main.go"}`)}
	r.Handle(agent.Response{Kind: agent.ResponseToolCall, ToolCall: &call})
	res := model.ToolResult{CallID: "c1", Result: json.RawMessage(`{"content":"ok"}`)}
	r.Handle(agent.Response{Kind: agent.ResponseToolResult, ToolResult: &res})
	failed := model.ToolResult{CallID: "c2", Result: json.RawMessage(`{"error":"no such file"}`), IsError: true}
	r.Handle(agent.Response{Kind: agent.ResponseToolResult, ToolResult: &failed})

	out := buf.String()
	for _, needle := range []string{`# READ {"path":"main.go"}`, `= {"content":"ok"}`, `! {"error":"no such file"}`} {
		if !strings.Contains(out, needle) {
			t.Fatalf("output missing %q:\n%s", needle, out)
		}
	}
}

func TestRendererSkipsEmptyStatus(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf, false)
	r.Handle(agent.Response{Kind: agent.ResponseStatusUpdate, Status: agent.Status{Phase: agent.PhaseRunning}})
	if buf.Len() != 0 {
		t.Fatalf("bare phase updates should stay silent, got %q", buf.String())
	}
}

func TestCompactJSON(t *testing.T) {
	if got := compactJSON(nil); got != "{}" {
		t.Fatalf("nil args = %q", got)
	}
	raw := json.RawMessage("{\n  \"a\": 1\n}")
	if got := compactJSON(raw); got != `{"a":1}` {
		t.Fatalf("compacted = %q", got)
	}
	long := json.RawMessage(`{"text":"` + strings.Repeat("x", 400) + `"}`)
	if got := compactJSON(long); len(got) > 170 || !strings.HasSuffix(got, "...") {
		t.Fatalf("long args should truncate, got %d bytes", len(got))
	}
}
