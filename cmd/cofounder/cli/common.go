package cli

import (
	"fmt"
	"os"

	"github.com/TRQoder/cofounder/internal/config"
	"github.com/TRQoder/cofounder/internal/observe"
	"github.com/TRQoder/cofounder/internal/provider"
	"github.com/TRQoder/cofounder/internal/store"
	"github.com/TRQoder/cofounder/internal/turn"
)

func newObserver() *observe.Observer {
	if jsonLogs {
		return observe.NewJSON(os.Stdout, verbose)
	}
	return observe.New(os.Stdout, verbose)
}

func loadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if providerType != "" {
		cfg.Provider.Type = providerType
	}
	if modelName != "" {
		cfg.Provider.Model = modelName
	}
	return cfg
}

func getStore(cfg *config.Config) store.Storage {
	s, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		fmt.Printf("Failed to init store: %v\n", err)
		os.Exit(1)
	}
	return s
}

// buildProvider wires the configured provider, falling back to API keys
// saved with "cofounder config set" when the environment has none.
func buildProvider(cfg *config.Config, s store.Storage) (provider.Provider, error) {
	persona := cfg.Turn.Persona
	if persona == "" {
		persona = turn.DefaultPersona
	}

	switch cfg.Provider.Type {
	case "gemini", "":
		apiKey := cfg.Provider.APIKey
		if apiKey == "" {
			apiKey, _ = s.GetConfig("gemini.api_key")
		}
		return provider.NewGeminiProvider(apiKey, cfg.Provider.Model, persona)
	case "openai":
		apiKey := cfg.Provider.APIKey
		if apiKey == "" {
			apiKey, _ = s.GetConfig("openai.api_key")
		}
		baseURL := cfg.Provider.BaseURL
		if baseURL == "" {
			baseURL, _ = s.GetConfig("openai.base_url")
		}
		return provider.NewOpenAIProvider(apiKey, baseURL, cfg.Provider.Model, persona)
	case "ollama":
		return provider.NewOllamaProvider(cfg.Provider.Model, persona)
	case "stub":
		// Canned responses for local development without a backend.
		return provider.NewStubProvider(), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Provider.Type)
	}
}
