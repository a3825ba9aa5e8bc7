package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/OnslaughtSnail/helmsman/kernel/model"
)

type openAICompatTransport struct {
	model     string
	baseURL   string
	token     string
	client    *http.Client
	maxOutput int
}

func newOpenAICompat(cfg Config) model.Transport {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	maxOutput := cfg.MaxOutputTokens
	if maxOutput <= 0 {
		maxOutput = defaultMaxOutput
	}
	return &openAICompatTransport{
		model:     cfg.Model,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		token:     cfg.Token,
		client:    &http.Client{Timeout: timeout},
		maxOutput: maxOutput,
	}
}

// OpenStream posts a streaming chat-completions request and translates
// the chunk stream into the Anthropic event grammar on the fly.
func (t *openAICompatTransport) OpenStream(ctx context.Context, req model.StreamRequest) (io.ReadCloser, error) {
	if t.baseURL == "" {
		return nil, fmt.Errorf("providers: openai-compatible base url is required")
	}
	payload := oaiRequest{
		Model:     req.Params.Model,
		Messages:  toOAIMessages(req),
		Tools:     toOAITools(req.Tools),
		MaxTokens: req.Params.MaxOutputTokens,
		Stream:    true,
	}
	if payload.Model == "" {
		payload.Model = t.model
	}
	if payload.MaxTokens <= 0 {
		payload.MaxTokens = t.maxOutput
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("providers: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if t.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}

	pr, pw := io.Pipe()
	go translateOAIStream(resp.Body, pw)
	return &translatedBody{reader: pr, upstream: resp.Body}, nil
}

type translatedBody struct {
	reader   *io.PipeReader
	upstream io.ReadCloser
}

func (b *translatedBody) Read(p []byte) (int, error) { return b.reader.Read(p) }

func (b *translatedBody) Close() error {
	_ = b.reader.Close()
	return b.upstream.Close()
}

// translateOAIStream rewrites chat-completion chunks as Anthropic-style
// SSE events. Block 0 is the text block; tool calls occupy blocks 1+.
func translateOAIStream(upstream io.ReadCloser, pw *io.PipeWriter) {
	defer upstream.Close()

	emit := func(name string, payload any) bool {
		raw, err := json.Marshal(payload)
		if err != nil {
			return true
		}
		_, err = fmt.Fprintf(pw, "event: %s\ndata: %s\n\n", name, raw)
		return err == nil
	}

	textOpen := false
	toolOpen := map[int]bool{}
	closeBlocks := func() bool {
		if textOpen {
			textOpen = false
			if !emit("content_block_stop", map[string]any{"index": 0}) {
				return false
			}
		}
		for idx := range toolOpen {
			if !emit("content_block_stop", map[string]any{"index": idx}) {
				return false
			}
		}
		return true
	}

	if !emit("message_start", map[string]any{"message": map[string]any{"role": "assistant"}}) {
		pw.Close()
		return
	}

	scanner := bufio.NewScanner(upstream)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}
		var chunk oaiChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil || len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			if !textOpen {
				textOpen = true
				if !emit("content_block_start", map[string]any{
					"index":         0,
					"content_block": map[string]any{"type": "text"},
				}) {
					return
				}
			}
			if !emit("content_block_delta", map[string]any{
				"index": 0,
				"delta": map[string]any{"type": "text_delta", "text": delta.Content},
			}) {
				return
			}
		}
		for _, call := range delta.ToolCalls {
			idx := call.Index + 1
			if !toolOpen[idx] {
				toolOpen[idx] = true
				if !emit("content_block_start", map[string]any{
					"index": idx,
					"content_block": map[string]any{
						"type": "tool_use",
						"id":   call.ID,
						"name": call.Function.Name,
					},
				}) {
					return
				}
			}
			if call.Function.Arguments != "" {
				if !emit("content_block_delta", map[string]any{
					"index": idx,
					"delta": map[string]any{"type": "input_json_delta", "partial_json": call.Function.Arguments},
				}) {
					return
				}
			}
		}
	}

	if closeBlocks() {
		emit("message_stop", map[string]any{})
	}
	if err := scanner.Err(); err != nil {
		pw.CloseWithError(err)
		return
	}
	pw.Close()
}

type oaiRequest struct {
	Model     string       `json:"model"`
	Messages  []oaiMessage `json:"messages"`
	Tools     []oaiTool    `json:"tools,omitempty"`
	MaxTokens int          `json:"max_tokens,omitempty"`
	Stream    bool         `json:"stream"`
}

type oaiMessage struct {
	Role       string        `json:"role"`
	Content    string        `json:"content,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	ToolCalls  []oaiToolCall `json:"tool_calls,omitempty"`
}

type oaiToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type oaiTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description,omitempty"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type oaiChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func toOAIMessages(req model.StreamRequest) []oaiMessage {
	out := make([]oaiMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		out = append(out, oaiMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		switch m.Role {
		case model.RoleSystem:
			out = append(out, oaiMessage{Role: "system", Content: m.Text()})
		case model.RoleUser:
			out = append(out, oaiMessage{Role: "user", Content: m.Text()})
		case model.RoleAssistant:
			msg := oaiMessage{Role: "assistant", Content: m.Text()}
			for _, call := range m.ToolCalls() {
				tc := oaiToolCall{ID: call.ID, Type: "function"}
				tc.Function.Name = call.Name
				tc.Function.Arguments = string(call.Args)
				msg.ToolCalls = append(msg.ToolCalls, tc)
			}
			out = append(out, msg)
		case model.RoleToolResult:
			for _, part := range m.Parts {
				if part.Kind != model.PartToolResult || part.ToolResult == nil {
					continue
				}
				out = append(out, oaiMessage{
					Role:       "tool",
					Content:    string(part.ToolResult.Result),
					ToolCallID: part.ToolResult.CallID,
				})
			}
		}
	}
	return out
}

func toOAITools(tools []model.ToolDefinition) []oaiTool {
	out := make([]oaiTool, 0, len(tools))
	for _, t := range tools {
		decl := oaiTool{Type: "function"}
		decl.Function.Name = t.Name
		decl.Function.Description = t.Description
		decl.Function.Parameters = t.InputSchema
		out = append(out, decl)
	}
	return out
}
