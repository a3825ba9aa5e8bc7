package history

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/OnslaughtSnail/helmsman/kernel/model"
)

func textMsg(role model.Role, n int) model.Message {
	return model.NewText(role, strings.Repeat("x", n))
}

func staticSummarizer(text string) Summarizer {
	return SummarizerFunc(func(_ context.Context, _ []model.Message) (model.Message, error) {
		return model.NewText(model.RoleSystem, text), nil
	})
}

func TestAppendGrowsEstimateMonotonically(t *testing.T) {
	s := New(Config{})
	prev := s.EstimatedTokens()
	for i := 0; i < 5; i++ {
		s.Append(textMsg(model.RoleUser, 40))
		if got := s.EstimatedTokens(); got <= prev {
			t.Fatalf("estimate not monotonic: %d after %d", got, prev)
		} else {
			prev = got
		}
	}
	if s.Len() != 5 {
		t.Fatalf("len = %d, want 5", s.Len())
	}
}

func TestAllPreservesOrder(t *testing.T) {
	s := New(Config{})
	want := []string{"one", "two", "three"}
	for _, text := range want {
		s.Append(model.NewText(model.RoleUser, text))
	}
	var got []string
	for msg := range s.All() {
		got = append(got, msg.Text())
	}
	if len(got) != len(want) {
		t.Fatalf("iterated %d messages, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("message %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestNeedsCompressionThreshold(t *testing.T) {
	s := New(Config{MaxTokens: 1000, Threshold: 0.5})
	if s.NeedsCompression() {
		t.Fatal("empty store should not need compression")
	}
	for s.EstimatedTokens() < 500 {
		s.Append(textMsg(model.RoleUser, 200))
	}
	if !s.NeedsCompression() {
		t.Fatalf("estimate %d over watermark 500 should need compression", s.EstimatedTokens())
	}
}

func TestCompressNoopBelowThreshold(t *testing.T) {
	s := New(Config{MaxTokens: 1000, Threshold: 0.5})
	s.Append(textMsg(model.RoleUser, 40))
	before := s.EstimatedTokens()
	if err := s.Compress(context.Background(), staticSummarizer("summary")); err != nil {
		t.Fatalf("compress below threshold: %v", err)
	}
	if s.Len() != 1 || s.EstimatedTokens() != before {
		t.Fatal("compress below threshold must not change the store")
	}
}

func TestCompressKeepsRecentSuffix(t *testing.T) {
	s := New(Config{MaxTokens: 1000, Threshold: 0.5, KeepRecent: 3})
	for i := 0; i < 12; i++ {
		s.Append(textMsg(model.RoleUser, 200))
	}
	tail := []string{"a", "b", "c"}
	for _, text := range tail {
		s.Append(model.NewText(model.RoleAssistant, text))
	}

	before := s.EstimatedTokens()
	if err := s.Compress(context.Background(), staticSummarizer("what came before")); err != nil {
		t.Fatalf("compress: %v", err)
	}
	if s.EstimatedTokens() >= before {
		t.Fatalf("estimate %d did not decrease from %d", s.EstimatedTokens(), before)
	}

	msgs := s.Messages()
	if msgs[0].Role != model.RoleSystem || msgs[0].Text() != "what came before" {
		t.Fatalf("first message should be the summary, got %q role %q", msgs[0].Text(), msgs[0].Role)
	}
	got := msgs[len(msgs)-3:]
	for i, text := range tail {
		if got[i].Text() != text {
			t.Fatalf("suffix message %d = %q, want %q", i, got[i].Text(), text)
		}
	}
}

func TestCompressNoRoomWhenSuffixTooLarge(t *testing.T) {
	s := New(Config{MaxTokens: 100, Threshold: 0.5, KeepRecent: 3})
	s.Append(textMsg(model.RoleUser, 40))
	// Recent suffix alone sits above the watermark.
	for i := 0; i < 3; i++ {
		s.Append(textMsg(model.RoleAssistant, 400))
	}
	before := s.Messages()
	err := s.Compress(context.Background(), staticSummarizer("summary"))
	if !errors.Is(err, ErrNoRoom) {
		t.Fatalf("err = %v, want ErrNoRoom", err)
	}
	if s.Len() != len(before) {
		t.Fatal("failed compression must leave the store unchanged")
	}
}

func TestCompressDoesNotStrandToolResults(t *testing.T) {
	s := New(Config{MaxTokens: 1000, Threshold: 0.5, KeepRecent: 2})
	for i := 0; i < 10; i++ {
		s.Append(textMsg(model.RoleUser, 200))
	}
	call := model.Message{
		Role: model.RoleAssistant,
		Parts: []model.Part{{
			Kind:     model.PartToolCall,
			ToolCall: &model.ToolCall{ID: "call_1", Name: "clock", Args: json.RawMessage(`{}`)},
		}},
	}
	s.Append(call)
	s.Append(model.NewToolResult(model.ToolResult{CallID: "call_1", Result: json.RawMessage(`{"time":"12:00"}`)}))
	s.Append(model.NewText(model.RoleAssistant, "done"))

	if err := s.Compress(context.Background(), staticSummarizer("summary")); err != nil {
		t.Fatalf("compress: %v", err)
	}
	msgs := s.Messages()
	for i, msg := range msgs {
		if msg.Role != model.RoleToolResult {
			continue
		}
		if i == 0 || len(msgs[i-1].ToolCalls()) == 0 {
			t.Fatalf("tool result at %d lost its paired call", i)
		}
	}
}

func TestCompressSummarizerError(t *testing.T) {
	s := New(Config{MaxTokens: 1000, Threshold: 0.5})
	for i := 0; i < 12; i++ {
		s.Append(textMsg(model.RoleUser, 200))
	}
	boom := errors.New("boom")
	err := s.Compress(context.Background(), SummarizerFunc(func(context.Context, []model.Message) (model.Message, error) {
		return model.Message{}, boom
	}))
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped boom", err)
	}
	if s.Len() != 12 {
		t.Fatal("failed summarize must leave the store unchanged")
	}
}

func TestEstimateDeterministic(t *testing.T) {
	msg := model.NewText(model.RoleUser, "deterministic estimate input")
	if EstimateMessage(msg) != EstimateMessage(msg) {
		t.Fatal("estimate must be deterministic for the same input")
	}
}
