// Command parley is a terminal chat client for multiple LLM providers.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"

	"parley/internal/adapter/llm"
	"parley/internal/adapter/tool"
	"parley/internal/adapter/tui/chat"
	"parley/internal/domain"
	"parley/internal/infra/config"
	"parley/internal/infra/logger"
	"parley/internal/infra/tracer"
	"parley/internal/security"
	"parley/internal/store"
	"parley/internal/usecase"
	"parley/internal/usecase/eventbus"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "parley:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", defaultConfigPath(), "path to config file")
		provider   = flag.String("provider", "", "override the default provider")
		model      = flag.String("model", "", "override the provider's model")
		private    = flag.Bool("private", false, "start in private mode (nothing persisted)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *provider != "" {
		cfg.LLM.DefaultProvider = *provider
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx := context.Background()
	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return err
	}
	defer shutdownTracer(ctx)

	if err := os.MkdirAll(cfg.App.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	conversations, err := store.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer conversations.Close()

	// Private-mode messages land in memory; everything else hits SQLite.
	ephemeral := store.NewMemorySink()
	sink := store.NewRoutingSink(conversations, ephemeral)

	credentials, err := buildCredentials(cfg, log)
	if err != nil {
		return err
	}

	providers := llm.NewRegistry()
	defaultModel := ""
	for _, pc := range cfg.LLM.Providers {
		if pc.APIKey == "" {
			pc.APIKey = credentials.GetAPIKey(pc.Name, pc.Model)
		}
		p, err := createProvider(pc, log)
		if err != nil {
			log.Warn("skipping provider", "name", pc.Name, "error", err)
			continue
		}
		if cfg.LLM.CircuitBreaker.Enabled {
			p = llm.NewCircuitBreakerProvider(p, cfg.LLM.CircuitBreaker, log)
		}
		if err := providers.Register(p); err != nil {
			return err
		}
		if pc.Name == cfg.LLM.DefaultProvider {
			defaultModel = pc.Model
		}
	}
	if *model != "" {
		defaultModel = *model
	}
	if len(providers.List()) == 0 {
		return fmt.Errorf("no usable LLM providers configured")
	}

	var tools domain.ToolExecutor
	if cfg.Search.Enabled {
		registry := tool.NewRegistry(log)
		backend := tool.NewSearXNGBackend(cfg.Search.SearXNGURL, cfg.Search.RequestTimeout, log)
		search := tool.NewWebSearchTool(backend, cfg.Search.RateLimit, cfg.Search.RateWindow, cfg.Search.CacheTTL, log)
		if err := registry.Register(search); err != nil {
			return err
		}
		tools = registry
	}

	bus := eventbus.New(log)
	defer bus.Close()

	overlay := usecase.NewOverlay()
	counter := usecase.NewTokenCounter()
	reconciler := usecase.NewReconciler(overlay, sink)

	coordinator := usecase.NewCoordinator(usecase.CoordinatorDeps{
		Providers: providers,
		OpenStream: func(ctx context.Context, p domain.StreamingLLMProvider, req domain.ChatRequest) (<-chan domain.StreamEvent, error) {
			return llm.OpenStream(ctx, p, req, log)
		},
		Overlay:     overlay,
		Sink:        sink,
		Tools:       tools,
		Credentials: credentials,
		Bus:         bus,
		Counter:     counter,
		Logger:      log,

		MaxToolIterations: cfg.App.MaxToolIterations,
	})

	var summarizer *usecase.Summarizer
	if p, err := providers.Get(cfg.LLM.DefaultProvider); err == nil {
		summarizer = usecase.NewSummarizer(p, defaultModel, counter, log)
	}

	navigator := &teaNavigator{}
	selector := usecase.NewSelector(conversations, summarizer, navigator, log)
	selector.Bus = bus

	notifier := chat.NewNotifier(overlay, bus)
	defer notifier.Close()

	m := chat.New(chat.Deps{
		Coordinator:      coordinator,
		Reconciler:       reconciler,
		Selector:         selector,
		Store:            conversations,
		Notifier:         notifier,
		Logger:           log,
		Provider:         cfg.LLM.DefaultProvider,
		ModelName:        defaultModel,
		UseWebSearch:     cfg.Search.Enabled,
		MaxContextTokens: cfg.App.ContextTokenLimit,
	})
	if *private {
		// Entering private mode before the first frame; nothing persists.
		defer func() { ephemeral.Clear() }()
	}

	program := tea.NewProgram(m, tea.WithAltScreen())
	navigator.program = program
	if *private {
		go program.Send(chat.NavigateMsg{Private: true})
	}

	log.Info("parley starting",
		"provider", cfg.LLM.DefaultProvider,
		"model", defaultModel,
		"search", cfg.Search.Enabled,
	)
	_, err = program.Run()
	coordinator.Stop()
	return err
}

// buildCredentials layers the encrypted keystore (when configured) over the
// keys carried in provider config. Local providers that need no key resolve
// to a placeholder so the coordinator's auth gate passes.
func buildCredentials(cfg *config.Config, log *slog.Logger) (domain.CredentialSource, error) {
	static := domain.StaticCredentials{}
	for _, pc := range cfg.LLM.Providers {
		if pc.APIKey != "" {
			static[pc.Name] = pc.APIKey
		} else if pc.Type == "ollama" || pc.Type == "bedrock" {
			// Ollama is keyless; Bedrock authenticates via the AWS SDK chain.
			static[pc.Name] = "local"
		}
	}

	if cfg.Keys.Path == "" {
		return static, nil
	}

	passphrase := os.Getenv("PARLEY_KEYSTORE_PASSPHRASE")
	if passphrase == "" {
		log.Warn("keystore configured but PARLEY_KEYSTORE_PASSPHRASE is unset, using config keys only")
		return static, nil
	}

	keystore, err := security.OpenKeystore(cfg.Keys.Path, passphrase, cfg.Keys.CacheTTL)
	if err != nil {
		return nil, err
	}
	return credentialChain{keystore, static}, nil
}

// credentialChain consults sources in order, returning the first hit.
type credentialChain []domain.CredentialSource

func (c credentialChain) GetAPIKey(provider, model string) string {
	for _, source := range c {
		if key := source.GetAPIKey(provider, model); key != "" {
			return key
		}
	}
	return ""
}

func createProvider(pc config.ProviderConfig, log *slog.Logger) (domain.LLMProvider, error) {
	switch pc.Type {
	case "anthropic":
		return llm.NewAnthropicProvider(pc, log), nil
	case "openai":
		return llm.NewOpenAIProvider(pc, log), nil
	case "openrouter":
		return llm.NewOpenRouterProvider(pc, log), nil
	case "ollama":
		return llm.NewOllamaProvider(pc, log), nil
	case "gemini":
		return llm.NewGeminiProvider(pc, log), nil
	case "bedrock":
		return createBedrockProvider(pc, log)
	default:
		return nil, fmt.Errorf("unknown provider type %q", pc.Type)
	}
}

func defaultConfigPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "parley", "config.yaml")
	}
	return "config.yaml"
}
