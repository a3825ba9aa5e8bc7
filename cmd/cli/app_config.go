package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	modelproviders "github.com/OnslaughtSnail/helmsman/kernel/model/providers"
)

const (
	appName          = "helmsman"
	configVersion    = 1
	configFileSuffix = "_config.json"

	defaultModelAlias  = "main"
	defaultModelID     = "claude-sonnet-4-5"
	defaultTokenEnvVar = "ANTHROPIC_API_KEY"
)

type appConfig struct {
	Version        int              `json:"version"`
	DefaultModel   string           `json:"default_model"`
	Stream         bool             `json:"stream"`
	PermissionFile string           `json:"permission_file,omitempty"`
	Providers      []providerRecord `json:"providers,omitempty"`
}

type providerRecord struct {
	Alias          string `json:"alias"`
	API            string `json:"api"`
	Model          string `json:"model"`
	BaseURL        string `json:"base_url,omitempty"`
	TokenEnv       string `json:"token_env,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
	MaxOutputTok   int    `json:"max_output_tokens,omitempty"`
}

type appConfigStore struct {
	path string
	data appConfig
}

func loadOrInitAppConfig() (*appConfigStore, error) {
	path, err := configFilePath()
	if err != nil {
		return nil, err
	}
	store := &appConfigStore{
		path: path,
		data: defaultAppConfig(),
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("cli config: read %q: %w", path, err)
		}
		if err := store.save(); err != nil {
			return nil, err
		}
		return store, nil
	}

	var loaded appConfig
	if err := json.Unmarshal(raw, &loaded); err != nil {
		return nil, fmt.Errorf("cli config: parse %q: %w", path, err)
	}
	mergeAppConfigDefaults(&loaded)
	store.data = loaded
	return store, nil
}

func defaultAppConfig() appConfig {
	return appConfig{
		Version:      configVersion,
		DefaultModel: defaultModelAlias,
		Stream:       true,
		Providers: []providerRecord{{
			Alias:    defaultModelAlias,
			API:      string(modelproviders.APIAnthropic),
			Model:    defaultModelID,
			TokenEnv: defaultTokenEnvVar,
		}},
	}
}

func mergeAppConfigDefaults(cfg *appConfig) {
	if cfg.Version == 0 {
		cfg.Version = configVersion
	}
	if strings.TrimSpace(cfg.DefaultModel) == "" {
		cfg.DefaultModel = defaultModelAlias
	}
	if len(cfg.Providers) == 0 {
		cfg.Providers = defaultAppConfig().Providers
	}
}

func (s *appConfigStore) DefaultModel() string {
	if s == nil {
		return defaultModelAlias
	}
	return strings.ToLower(strings.TrimSpace(s.data.DefaultModel))
}

func (s *appConfigStore) StreamModel() bool {
	if s == nil {
		return true
	}
	return s.data.Stream
}

func (s *appConfigStore) PermissionFile() string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(s.data.PermissionFile)
}

// ProviderConfigs resolves provider records into transport configs.
// Tokens come from the environment, never from the config file.
func (s *appConfigStore) ProviderConfigs() []modelproviders.Config {
	if s == nil || len(s.data.Providers) == 0 {
		return nil
	}
	out := make([]modelproviders.Config, 0, len(s.data.Providers))
	for _, rec := range s.data.Providers {
		alias := strings.ToLower(strings.TrimSpace(rec.Alias))
		if alias == "" {
			continue
		}
		tokenEnv := strings.TrimSpace(rec.TokenEnv)
		if tokenEnv == "" {
			tokenEnv = defaultTokenEnvVar
		}
		cfg := modelproviders.Config{
			Alias:           alias,
			API:             modelproviders.API(strings.TrimSpace(rec.API)),
			Model:           strings.TrimSpace(rec.Model),
			BaseURL:         strings.TrimSpace(rec.BaseURL),
			Token:           strings.TrimSpace(os.Getenv(tokenEnv)),
			MaxOutputTokens: rec.MaxOutputTok,
		}
		if rec.TimeoutSeconds > 0 {
			cfg.Timeout = time.Duration(rec.TimeoutSeconds) * time.Second
		}
		out = append(out, cfg)
	}
	return out
}

func (s *appConfigStore) SetDefaultModel(alias string) error {
	if s == nil {
		return nil
	}
	alias = strings.ToLower(strings.TrimSpace(alias))
	if alias == "" || s.data.DefaultModel == alias {
		return nil
	}
	s.data.DefaultModel = alias
	return s.save()
}

func (s *appConfigStore) save() error {
	if s == nil || strings.TrimSpace(s.path) == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("cli config: create dir: %w", err)
	}
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("cli config: encode: %w", err)
	}
	raw = append(raw, '\n')
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("cli config: write %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("cli config: rename %q: %w", s.path, err)
	}
	return nil
}

func appHomeDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cli config: resolve home: %w", err)
	}
	return filepath.Join(home, "."+appName), nil
}

func configFilePath() (string, error) {
	dir, err := appHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, appName+configFileSuffix), nil
}

func sessionIndexPath() (string, error) {
	dir, err := appHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "sessions.db"), nil
}

func historyFilePath(workspaceKey string) (string, error) {
	dir, err := appHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history", workspaceKey+".history"), nil
}
