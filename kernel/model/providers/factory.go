package providers

import (
	"fmt"
	"sort"
	"strings"

	"github.com/OnslaughtSnail/helmsman/kernel/model"
)

// Factory builds model transports from alias configs.
type Factory struct {
	configs map[string]Config
}

// NewFactory returns an empty provider factory.
func NewFactory() *Factory {
	return &Factory{configs: map[string]Config{}}
}

// Register adds or overwrites one alias config.
func (f *Factory) Register(cfg Config) error {
	alias := strings.ToLower(strings.TrimSpace(cfg.Alias))
	if alias == "" {
		return fmt.Errorf("providers: alias is required")
	}
	if cfg.API != APIAnthropic && cfg.API != APIOpenAICompatible {
		return fmt.Errorf("providers: unsupported api type %q", cfg.API)
	}
	cfg.Alias = alias
	f.configs[alias] = cfg
	return nil
}

// NewByAlias creates a transport by alias.
func (f *Factory) NewByAlias(alias string) (model.Transport, error) {
	alias = strings.ToLower(strings.TrimSpace(alias))
	if alias == "" {
		return nil, fmt.Errorf("providers: model alias is required")
	}
	cfg, ok := f.configs[alias]
	if !ok {
		return nil, fmt.Errorf("providers: unknown model alias %q", alias)
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("providers: auth token is empty for alias %q", alias)
	}
	switch cfg.API {
	case APIAnthropic:
		return newAnthropic(cfg), nil
	case APIOpenAICompatible:
		return newOpenAICompat(cfg), nil
	default:
		return nil, fmt.Errorf("providers: unsupported api type %q", cfg.API)
	}
}

// Aliases returns the registered alias names in order.
func (f *Factory) Aliases() []string {
	out := make([]string, 0, len(f.configs))
	for alias := range f.configs {
		out = append(out, alias)
	}
	sort.Strings(out)
	return out
}
