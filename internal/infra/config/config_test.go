package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.DefaultProvider != "anthropic" {
		t.Errorf("default provider = %q, want %q", cfg.LLM.DefaultProvider, "anthropic")
	}
	if cfg.App.MaxToolIterations != 4 {
		t.Errorf("max_tool_iterations = %d, want 4", cfg.App.MaxToolIterations)
	}
}

func TestLoadParsesProviders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
llm:
  default_provider: local
  providers:
    - name: local
      type: ollama
      base_url: http://localhost:11434
      model: qwen3
    - name: anthropic
      type: anthropic
      model: claude-sonnet-4-20250514
      reasoning_models: ["claude-"]
logger:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.LLM.Providers) != 2 {
		t.Fatalf("providers = %d, want 2", len(cfg.LLM.Providers))
	}
	if cfg.LLM.Providers[0].Type != "ollama" {
		t.Errorf("type = %q, want ollama", cfg.LLM.Providers[0].Type)
	}
	if cfg.Logger.Level != "debug" {
		t.Errorf("level = %q, want debug", cfg.Logger.Level)
	}
}

func TestValidateRejectsUnknownType(t *testing.T) {
	cfg := Defaults()
	cfg.LLM.Providers = []ProviderConfig{{Name: "x", Type: "mystery"}}
	cfg.LLM.DefaultProvider = "x"
	if err := Validate(cfg); err == nil {
		t.Error("expected error for unknown provider type")
	}
}

func TestValidateRejectsDuplicateNames(t *testing.T) {
	cfg := Defaults()
	cfg.LLM.Providers = []ProviderConfig{
		{Name: "a", Type: "ollama"},
		{Name: "a", Type: "openai"},
	}
	cfg.LLM.DefaultProvider = "a"
	if err := Validate(cfg); err == nil {
		t.Error("expected error for duplicate provider names")
	}
}

func TestValidateRejectsUnconfiguredDefault(t *testing.T) {
	cfg := Defaults()
	cfg.LLM.Providers = []ProviderConfig{{Name: "a", Type: "ollama"}}
	cfg.LLM.DefaultProvider = "b"
	if err := Validate(cfg); err == nil {
		t.Error("expected error for unconfigured default provider")
	}
}

func TestApplyEnvOverridesVendorKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	cfg := Defaults()
	cfg.LLM.Providers = []ProviderConfig{{Name: "anthropic", Type: "anthropic"}}
	ApplyEnvOverrides(cfg)
	if cfg.LLM.Providers[0].APIKey != "sk-test" {
		t.Errorf("api key = %q, want sk-test", cfg.LLM.Providers[0].APIKey)
	}
}
