package providers

import (
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

const (
	defaultAnthropicURL = "https://api.anthropic.com/v1"
	anthropicVersion    = "2023-06-01"
	defaultMaxOutput    = 4096
)

type anthropicTransport struct {
	model     string
	baseURL   string
	token     string
	client    *http.Client
	maxOutput int
}

func newAnthropic(cfg Config) model.Transport {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultAnthropicURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	maxOutput := cfg.MaxOutputTokens
	if maxOutput <= 0 {
		maxOutput = defaultMaxOutput
	}
	return &anthropicTransport{
		model:     cfg.Model,
		baseURL:   baseURL,
		token:     cfg.Token,
		client:    &http.Client{Timeout: timeout},
		maxOutput: maxOutput,
	}
}

// OpenStream posts a streaming Messages request and hands back the raw
// SSE body.
func (t *anthropicTransport) OpenStream(ctx context.Context, req model.StreamRequest) (io.ReadCloser, error) {
	modelName := req.Params.Model
	if modelName == "" {
		modelName = t.model
	}
	maxTokens := req.Params.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = t.maxOutput
	}
	system, messages := toAnthropicMessages(req.Messages)
	if req.SystemPrompt != "" {
		if system != "" {
			system = req.SystemPrompt + "\n\n" + system
		} else {
			system = req.SystemPrompt
		}
	}
	payload := anthropicRequest{
		Model:       modelName,
		System:      system,
		Messages:    messages,
		Tools:       toAnthropicTools(req.Tools),
		MaxTokens:   maxTokens,
		Temperature: req.Params.Temperature,
		Stream:      true,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("providers: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/messages", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("x-api-key", t.token)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	return resp.Body, nil
}

type anthropicRequest struct {
	Model       string              `json:"model"`
	System      string              `json:"system,omitempty"`
	Messages    []anthropicMessage  `json:"messages"`
	Tools       []anthropicToolDecl `json:"tools,omitempty"`
	MaxTokens   int                 `json:"max_tokens"`
	Temperature float64             `json:"temperature,omitempty"`
	Stream      bool                `json:"stream"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicMsgPart `json:"content"`
}

type anthropicMsgPart struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type anthropicToolDecl struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

func toAnthropicTools(tools []model.ToolDefinition) []anthropicToolDecl {
	out := make([]anthropicToolDecl, 0, len(tools))
	for _, t := range tools {
		schema := t.InputSchema
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		out = append(out, anthropicToolDecl{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	return out
}

func toAnthropicMessages(messages []model.Message) (string, []anthropicMessage) {
	systemLines := make([]string, 0, 2)
	out := make([]anthropicMessage, 0, len(messages))

	for _, m := range messages {
		switch m.Role {
		case model.RoleSystem:
			if text := strings.TrimSpace(m.Text()); text != "" {
				systemLines = append(systemLines, text)
			}
		case model.RoleUser:
			out = append(out, anthropicMessage{
				Role:    "user",
				Content: []anthropicMsgPart{{Type: "text", Text: m.Text()}},
			})
		case model.RoleAssistant:
			parts := make([]anthropicMsgPart, 0, len(m.Parts))
			if text := strings.TrimSpace(m.Text()); text != "" {
				parts = append(parts, anthropicMsgPart{Type: "text", Text: text})
			}
			for _, call := range m.ToolCalls() {
				parts = append(parts, anthropicMsgPart{
					Type:  "tool_use",
					ID:    call.ID,
					Name:  call.Name,
					Input: call.Args,
				})
			}
			if len(parts) > 0 {
				out = append(out, anthropicMessage{Role: "assistant", Content: parts})
			}
		case model.RoleToolResult:
			for _, part := range m.Parts {
				if part.Kind != model.PartToolResult || part.ToolResult == nil {
					continue
				}
				out = append(out, anthropicMessage{
					Role: "user",
					Content: []anthropicMsgPart{{
						Type:      "tool_result",
						ToolUseID: part.ToolResult.CallID,
						Content:   string(part.ToolResult.Result),
						IsError:   part.ToolResult.IsError,
					}},
				})
			}
		}
	}
	return strings.Join(systemLines, "\n\n"), out
}
