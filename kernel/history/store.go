// Package history maintains the ordered conversation record for one
// session, with a rolling token estimate and prefix compaction.
package history

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"unicode/utf8"

	"github.com/OnslaughtSnail/helmsman/kernel/model"
)

// ErrNoRoom reports that compaction cannot reduce the estimate below the
// threshold because the retained suffix alone already exceeds it.
var ErrNoRoom = errors.New("history: no room below threshold")

// Summarizer condenses a message prefix into one summary message. It may
// call a model through its own transport handle.
type Summarizer interface {
	Summarize(ctx context.Context, msgs []model.Message) (model.Message, error)
}

// SummarizerFunc adapts a function to the Summarizer interface.
type SummarizerFunc func(ctx context.Context, msgs []model.Message) (model.Message, error)

func (f SummarizerFunc) Summarize(ctx context.Context, msgs []model.Message) (model.Message, error) {
	return f(ctx, msgs)
}

const (
	defaultMaxTokens  = 200_000
	defaultThreshold  = 0.92
	defaultKeepRecent = 6

	// Rough chars-per-token divisor plus a fixed per-message framing cost.
	charsPerToken      = 4
	perMessageOverhead = 10
)

// Config bounds one store. Zero values take the defaults above.
type Config struct {
	MaxTokens  int
	Threshold  float64
	KeepRecent int
}

func normalizeConfig(cfg Config) Config {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		cfg.Threshold = defaultThreshold
	}
	if cfg.KeepRecent <= 0 {
		cfg.KeepRecent = defaultKeepRecent
	}
	return cfg
}

// Store is an append-only ordered message record. It is owned by a
// single loop task and performs no internal locking.
type Store struct {
	cfg      Config
	msgs     []model.Message
	estimate int
}

// New returns an empty store.
func New(cfg Config) *Store {
	return &Store{cfg: normalizeConfig(cfg)}
}

// Append adds msg at the tail and grows the token estimate.
func (s *Store) Append(msg model.Message) {
	s.msgs = append(s.msgs, msg)
	s.estimate += EstimateMessage(msg)
}

// All iterates the record in order. The yielded messages must not be
// mutated.
func (s *Store) All() iter.Seq[model.Message] {
	return func(yield func(model.Message) bool) {
		for _, msg := range s.msgs {
			if !yield(msg) {
				return
			}
		}
	}
}

// Messages returns an ordered copy for a transport request.
func (s *Store) Messages() []model.Message {
	return append([]model.Message(nil), s.msgs...)
}

// Len reports the number of messages.
func (s *Store) Len() int { return len(s.msgs) }

// EstimatedTokens reports the rolling estimate. It is deterministic for
// the same inputs and non-decreasing across appends.
func (s *Store) EstimatedTokens() int { return s.estimate }

// MaxTokens reports the configured context ceiling.
func (s *Store) MaxTokens() int { return s.cfg.MaxTokens }

// NeedsCompression reports whether the estimate has crossed the
// configured fraction of the ceiling.
func (s *Store) NeedsCompression() bool {
	return float64(s.estimate) >= s.cfg.Threshold*float64(s.cfg.MaxTokens)
}

// Compress replaces the oldest prefix with a single summary message,
// retaining at least the last KeepRecent messages unchanged. A call when
// NeedsCompression is false is a no-op. Returns ErrNoRoom when the
// suffix alone stays above the threshold, leaving the store unchanged.
func (s *Store) Compress(ctx context.Context, summarizer Summarizer) error {
	if !s.NeedsCompression() {
		return nil
	}
	if summarizer == nil {
		return fmt.Errorf("history: compress: nil summarizer")
	}

	cut := len(s.msgs) - s.cfg.KeepRecent
	// Never strand a tool result from its call: shrink the prefix until
	// the suffix starts at a message boundary that keeps pairs together.
	for cut > 0 && s.msgs[cut].Role == model.RoleToolResult {
		cut--
	}
	if cut <= 0 {
		return ErrNoRoom
	}

	watermark := s.cfg.Threshold * float64(s.cfg.MaxTokens)
	suffixTokens := 0
	for _, msg := range s.msgs[cut:] {
		suffixTokens += EstimateMessage(msg)
	}
	if float64(suffixTokens) >= watermark {
		return ErrNoRoom
	}

	summary, err := summarizer.Summarize(ctx, s.msgs[:cut:cut])
	if err != nil {
		return fmt.Errorf("history: summarize prefix: %w", err)
	}
	summary.Role = model.RoleSystem

	next := summary
	replaced := append([]model.Message{next}, s.msgs[cut:]...)
	total := 0
	for _, msg := range replaced {
		total += EstimateMessage(msg)
	}
	if total >= s.estimate {
		return ErrNoRoom
	}
	s.msgs = replaced
	s.estimate = total
	return nil
}

// EstimateMessage estimates the token cost of one message. Roughly one
// token per four characters, matching what providers report closely
// enough for watermark decisions.
func EstimateMessage(msg model.Message) int {
	total := perMessageOverhead
	for _, part := range msg.Parts {
		switch part.Kind {
		case model.PartText:
			total += utf8.RuneCountInString(part.Text) / charsPerToken
		case model.PartToolCall:
			if part.ToolCall != nil {
				total += (len(part.ToolCall.Name) + len(part.ToolCall.Args)) / charsPerToken
			}
		case model.PartToolResult:
			if part.ToolResult != nil {
				total += len(part.ToolResult.Result) / charsPerToken
			}
		}
	}
	return total
}
