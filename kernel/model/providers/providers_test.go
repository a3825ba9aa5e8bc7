package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/OnslaughtSnail/helmsman/kernel/model"
)

func TestAnthropicOpenStreamPassesRawSSE(t *testing.T) {
	const script = "event: message_start\ndata: {}\n\nevent: message_stop\ndata: {}\n\n"
	var gotPath, gotKey, gotVersion string
	var gotBody anthropicRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, script)
	}))
	defer server.Close()

	transport := newAnthropic(Config{Model: "claude-test", BaseURL: server.URL, Token: "sk-test"})
	body, err := transport.OpenStream(context.Background(), model.StreamRequest{
		Messages:     []model.Message{model.NewText(model.RoleUser, "hi")},
		SystemPrompt: "be terse",
		Tools:        []model.ToolDefinition{{Name: "CLOCK", InputSchema: map[string]any{"type": "object"}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != script {
		t.Fatalf("body altered: %q", raw)
	}
	if gotPath != "/messages" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotKey != "sk-test" || gotVersion != "2023-06-01" {
		t.Fatalf("headers key=%q version=%q", gotKey, gotVersion)
	}
	if !gotBody.Stream {
		t.Fatal("request must set stream")
	}
	if gotBody.System != "be terse" {
		t.Fatalf("system = %q", gotBody.System)
	}
	if len(gotBody.Tools) != 1 || gotBody.Tools[0].Name != "CLOCK" {
		t.Fatalf("tools = %+v", gotBody.Tools)
	}
}

func TestAnthropicOpenStreamHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	transport := newAnthropic(Config{Model: "claude-test", BaseURL: server.URL, Token: "sk-test"})
	_, err := transport.OpenStream(context.Background(), model.StreamRequest{})
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("err = %v", err)
	}
}

func TestAnthropicMessageConversion(t *testing.T) {
	msgs := []model.Message{
		model.NewText(model.RoleSystem, "keep answers short"),
		model.NewText(model.RoleUser, "what time?"),
		{
			Role: model.RoleAssistant,
			Parts: []model.Part{{
				Kind:     model.PartToolCall,
				ToolCall: &model.ToolCall{ID: "c1", Name: "CLOCK", Args: json.RawMessage(`{}`)},
			}},
		},
		model.NewToolResult(model.ToolResult{CallID: "c1", Result: json.RawMessage(`{"time":"12:00"}`)}),
	}
	system, out := toAnthropicMessages(msgs)
	if system != "keep answers short" {
		t.Fatalf("system = %q", system)
	}
	if len(out) != 3 {
		t.Fatalf("converted %d messages, want 3", len(out))
	}
	if out[1].Content[0].Type != "tool_use" || out[1].Role != "assistant" {
		t.Fatalf("tool call message = %+v", out[1])
	}
	if out[2].Content[0].Type != "tool_result" || out[2].Content[0].ToolUseID != "c1" {
		t.Fatalf("tool result message = %+v", out[2])
	}
}

func TestOpenAICompatTranslation(t *testing.T) {
	chunks := []string{
		`{"choices":[{"delta":{"content":"hel"}}]}`,
		`{"choices":[{"delta":{"content":"lo"}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_9","function":{"name":"CLOCK","arguments":"{"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"}"}}]}}]}`,
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, chunk := range chunks {
			io.WriteString(w, "data: "+chunk+"\n\n")
		}
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	transport := newOpenAICompat(Config{Model: "local", BaseURL: server.URL, Token: "x"})
	body, err := transport.OpenStream(context.Background(), model.StreamRequest{
		Messages: []model.Message{model.NewText(model.RoleUser, "hi")},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		t.Fatal(err)
	}
	out := string(raw)
	for _, needle := range []string{
		"event: message_start",
		"event: content_block_start",
		`"text":"hel"`,
		`"text":"lo"`,
		`"name":"CLOCK"`,
		`"partial_json":"{"`,
		"event: content_block_stop",
		"event: message_stop",
	} {
		if !strings.Contains(out, needle) {
			t.Fatalf("translated stream missing %q:\n%s", needle, out)
		}
	}
}

func TestFactory(t *testing.T) {
	f := NewFactory()
	if err := f.Register(Config{Alias: "Main", API: APIAnthropic, Model: "claude-test", Token: "sk"}); err != nil {
		t.Fatal(err)
	}
	if err := f.Register(Config{Alias: "bad", API: "grpc"}); err == nil {
		t.Fatal("unsupported api must fail")
	}
	if _, err := f.NewByAlias("main"); err != nil {
		t.Fatalf("alias lookup is case-insensitive: %v", err)
	}
	if _, err := f.NewByAlias("nope"); err == nil {
		t.Fatal("unknown alias must fail")
	}
	if got := f.Aliases(); len(got) != 1 || got[0] != "main" {
		t.Fatalf("aliases = %v", got)
	}
}
