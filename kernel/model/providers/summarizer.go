package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/OnslaughtSnail/helmsman/kernel/history"
	"github.com/OnslaughtSnail/helmsman/kernel/model"
)

const summarizerSystem = `Summarize the conversation below for use as compressed context.
Keep decisions, open tasks, file paths and tool outcomes. Drop pleasantries.
Answer with the summary only.`

// SummarizerConfig configures the compaction summarizer.
type SummarizerConfig struct {
	Model     string
	APIKey    string
	BaseURL   string
	MaxTokens int
}

// anthropicSummarizer condenses a message prefix through a separate
// non-streaming client. It never recurses through the agent loop.
type anthropicSummarizer struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewSummarizer returns a history.Summarizer backed by the Anthropic
// Messages API.
func NewSummarizer(cfg SummarizerConfig) (history.Summarizer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("providers: summarizer api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "claude-3-5-haiku-latest"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &anthropicSummarizer{
		client:    anthropic.NewClient(opts...),
		model:     anthropic.Model(cfg.Model),
		maxTokens: int64(cfg.MaxTokens),
	}, nil
}

func (s *anthropicSummarizer) Summarize(ctx context.Context, msgs []model.Message) (model.Message, error) {
	transcript := renderTranscript(msgs)
	if transcript == "" {
		return model.NewText(model.RoleSystem, "(empty conversation)"), nil
	}
	out, err := s.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     s.model,
		MaxTokens: s.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: summarizerSystem}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(transcript)),
		},
	})
	if err != nil {
		return model.Message{}, fmt.Errorf("providers: summarize: %w", err)
	}
	var b strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	summary := strings.TrimSpace(b.String())
	if summary == "" {
		return model.Message{}, fmt.Errorf("providers: summarize: empty response")
	}
	return model.NewText(model.RoleSystem, "Conversation summary:\n"+summary), nil
}

func renderTranscript(msgs []model.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		if text := strings.TrimSpace(m.Text()); text != "" {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, text)
		}
		for _, call := range m.ToolCalls() {
			fmt.Fprintf(&b, "%s called tool %s(%s)\n", m.Role, call.Name, call.Args)
		}
		for _, part := range m.Parts {
			if part.Kind == model.PartToolResult && part.ToolResult != nil {
				fmt.Fprintf(&b, "tool result %s: %s\n", part.ToolResult.CallID, part.ToolResult.Result)
			}
		}
	}
	return strings.TrimSpace(b.String())
}
