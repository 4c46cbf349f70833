// Package config loads and validates the parley YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	App     AppConfig     `yaml:"app"`
	LLM     LLMConfig     `yaml:"llm"`
	Search  SearchConfig  `yaml:"search"`
	Storage StorageConfig `yaml:"storage"`
	Logger  LoggerConfig  `yaml:"logger"`
	Tracer  TracerConfig  `yaml:"tracer"`
	Keys    KeysConfig    `yaml:"keys"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	DataDir string `yaml:"data_dir"`
	// MaxToolIterations bounds the tool-call loop within one streaming
	// session.
	MaxToolIterations int `yaml:"max_tool_iterations"`
	// ContextTokenLimit is the history budget enforced before a session
	// starts. 0 disables trimming.
	ContextTokenLimit int `yaml:"context_token_limit"`
}

// LLMConfig holds LLM provider settings.
type LLMConfig struct {
	DefaultProvider string               `yaml:"default_provider"`
	Providers       []ProviderConfig     `yaml:"providers"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ProviderConfig holds settings for a single LLM provider.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	Type        string        `yaml:"type"` // "anthropic", "openai", "openrouter", "ollama", "gemini", "bedrock"
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Region      string        `yaml:"region,omitempty"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
	// ReasoningModels lists model prefixes that stream reasoning as a
	// first-class channel. Models outside the list fall back to inline
	// extraction.
	ReasoningModels []string `yaml:"reasoning_models,omitempty"`
	ThinkingBudget  int      `yaml:"thinking_budget,omitempty"`
}

// PoolConfig holds HTTP connection pool settings for LLM providers.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// CircuitBreakerConfig holds circuit breaker settings for LLM providers.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// SearchConfig holds web search tool settings.
type SearchConfig struct {
	Enabled        bool          `yaml:"enabled"`
	SearXNGURL     string        `yaml:"searxng_url"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	RateLimit      int           `yaml:"rate_limit"`       // requests per window
	RateWindow     time.Duration `yaml:"rate_window"`      // sliding window
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	Path string `yaml:"path"` // SQLite database file
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // text|json
	Output string `yaml:"output"` // stdout|stderr|<path>
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "stdout" or "noop"
}

// KeysConfig holds credential keystore settings.
type KeysConfig struct {
	// Path to the encrypted keystore file. Empty = keys come from provider
	// config / environment only.
	Path string `yaml:"path"`
	// CacheTTL bounds how long a decrypted key is served from memory.
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// Defaults returns a Config populated with sane defaults.
func Defaults() *Config {
	dataDir := defaultDataDir()
	return &Config{
		App: AppConfig{
			DataDir:           dataDir,
			MaxToolIterations: 4,
			ContextTokenLimit: 128000,
		},
		LLM: LLMConfig{
			DefaultProvider: "anthropic",
		},
		Search: SearchConfig{
			Enabled:        false,
			SearXNGURL:     "http://localhost:6060",
			CacheTTL:       15 * time.Minute,
			RateLimit:      30,
			RateWindow:     time.Minute,
			RequestTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			Path: filepath.Join(dataDir, "parley.db"),
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
		Keys: KeysConfig{
			CacheTTL: 10 * time.Minute,
		},
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "parley")
	}
	return "./data"
}

// Load reads a YAML config file and applies env var overrides. A missing
// file is not an error; defaults plus environment apply.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides maps PARLEY_* env vars to config fields. Provider API
// keys additionally fall back to the conventional per-vendor variables.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PARLEY_DATA_DIR"); v != "" {
		cfg.App.DataDir = v
	}
	if v := os.Getenv("PARLEY_DEFAULT_PROVIDER"); v != "" {
		cfg.LLM.DefaultProvider = v
	}
	if v := os.Getenv("PARLEY_LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("PARLEY_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("PARLEY_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("PARLEY_SEARXNG_URL"); v != "" {
		cfg.Search.SearXNGURL = v
		cfg.Search.Enabled = true
	}
	if v := os.Getenv("PARLEY_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}

	for i := range cfg.LLM.Providers {
		p := &cfg.LLM.Providers[i]
		if p.APIKey != "" {
			continue
		}
		if v := os.Getenv(vendorKeyVar(p.Type)); v != "" {
			p.APIKey = v
		}
	}
}

// vendorKeyVar returns the conventional env var for a provider type's key.
func vendorKeyVar(providerType string) string {
	switch providerType {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	case "openrouter":
		return "OPENROUTER_API_KEY"
	case "gemini":
		return "GEMINI_API_KEY"
	default:
		return ""
	}
}

var validProviderTypes = map[string]bool{
	"anthropic":  true,
	"openai":     true,
	"openrouter": true,
	"ollama":     true,
	"gemini":     true,
	"bedrock":    true,
}

// Validate checks the configuration for structural problems.
func Validate(cfg *Config) error {
	if cfg.App.MaxToolIterations < 1 {
		return fmt.Errorf("app.max_tool_iterations must be >= 1")
	}

	names := make(map[string]bool, len(cfg.LLM.Providers))
	for _, p := range cfg.LLM.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider with empty name")
		}
		if names[p.Name] {
			return fmt.Errorf("duplicate provider name %q", p.Name)
		}
		names[p.Name] = true
		if !validProviderTypes[p.Type] {
			return fmt.Errorf("provider %q: unknown type %q", p.Name, p.Type)
		}
	}

	if len(cfg.LLM.Providers) > 0 && !names[cfg.LLM.DefaultProvider] {
		return fmt.Errorf("default provider %q is not configured", cfg.LLM.DefaultProvider)
	}

	switch cfg.Logger.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logger.format must be text or json, got %q", cfg.Logger.Format)
	}

	return nil
}
