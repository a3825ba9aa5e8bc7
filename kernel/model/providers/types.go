// Package providers holds the concrete model transports. Each transport
// returns a raw SSE byte stream in the Anthropic event grammar; the
// openai-compatible transport translates on the fly.
package providers

import "time"

// API identifies the wire dialect a provider speaks.
type API string

const (
	APIAnthropic        API = "anthropic"
	APIOpenAICompatible API = "openai_compatible"
)

// Config describes one provider alias.
type Config struct {
	Alias   string
	API     API
	Model   string
	BaseURL string
	Token   string
	Timeout time.Duration

	MaxOutputTokens int
}
