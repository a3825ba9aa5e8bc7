package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	modelproviders "github.com/OnslaughtSnail/helmsman/kernel/model/providers"
)

func writeConfig(t *testing.T, cfg appConfig) *appConfigStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	raw, err := json.Marshal(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatal(err)
	}
	store := &appConfigStore{path: path, data: cfg}
	mergeAppConfigDefaults(&store.data)
	return store
}

func TestAppConfigDefaults(t *testing.T) {
	cfg := defaultAppConfig()
	if cfg.DefaultModel != defaultModelAlias {
		t.Fatalf("default model = %q", cfg.DefaultModel)
	}
	if !cfg.Stream {
		t.Fatal("streaming should default on")
	}
	if len(cfg.Providers) != 1 || cfg.Providers[0].API != string(modelproviders.APIAnthropic) {
		t.Fatalf("providers = %+v", cfg.Providers)
	}
}

func TestProviderConfigsResolveTokenFromEnv(t *testing.T) {
	t.Setenv("HELMSMAN_TEST_TOKEN", "sk-from-env")
	store := writeConfig(t, appConfig{
		Version:      configVersion,
		DefaultModel: "local",
		Providers: []providerRecord{{
			Alias:          "Local",
			API:            string(modelproviders.APIOpenAICompatible),
			Model:          "qwen",
			BaseURL:        "http://localhost:8080/v1",
			TokenEnv:       "HELMSMAN_TEST_TOKEN",
			TimeoutSeconds: 30,
		}},
	})
	configs := store.ProviderConfigs()
	if len(configs) != 1 {
		t.Fatalf("configs = %+v", configs)
	}
	got := configs[0]
	if got.Alias != "local" {
		t.Fatalf("alias should lowercase, got %q", got.Alias)
	}
	if got.Token != "sk-from-env" {
		t.Fatalf("token = %q", got.Token)
	}
	if got.Timeout.Seconds() != 30 {
		t.Fatalf("timeout = %v", got.Timeout)
	}
}

func TestAppConfigSaveRoundTrip(t *testing.T) {
	store := writeConfig(t, defaultAppConfig())
	if err := store.SetDefaultModel("OTHER"); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(store.path)
	if err != nil {
		t.Fatal(err)
	}
	var loaded appConfig
	if err := json.Unmarshal(raw, &loaded); err != nil {
		t.Fatal(err)
	}
	if loaded.DefaultModel != "other" {
		t.Fatalf("persisted default model = %q", loaded.DefaultModel)
	}
}

func TestMergeAppConfigDefaults(t *testing.T) {
	cfg := appConfig{}
	mergeAppConfigDefaults(&cfg)
	if cfg.Version != configVersion || cfg.DefaultModel != defaultModelAlias || len(cfg.Providers) == 0 {
		t.Fatalf("merged config incomplete: %+v", cfg)
	}
}
