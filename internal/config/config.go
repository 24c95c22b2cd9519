// Package config loads service configuration from a YAML file with
// environment variable overrides for secrets.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full service configuration.
type Config struct {
	Listen  string `yaml:"listen"`
	Verbose bool   `yaml:"verbose"`
	LogJSON bool   `yaml:"log_json"`

	Provider ProviderConfig `yaml:"provider"`
	Auth     AuthConfig     `yaml:"auth"`
	Store    StoreConfig    `yaml:"store"`
	Index    IndexConfig    `yaml:"index"`
	Turn     TurnConfig     `yaml:"turn"`
	Gateway  GatewayConfig  `yaml:"gateway"`
}

// ProviderConfig selects and configures the AI provider.
type ProviderConfig struct {
	Type    string `yaml:"type"`     // gemini, openai, ollama
	Model   string `yaml:"model"`    // generation model, provider default if empty
	APIKey  string `yaml:"api_key"`  // usually supplied via env
	BaseURL string `yaml:"base_url"` // openai-compatible endpoints
}

// AuthConfig configures identity token signing.
type AuthConfig struct {
	Secret   string        `yaml:"secret"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// StoreConfig configures the conversation store.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// IndexConfig configures the vector index.
type IndexConfig struct {
	Path string `yaml:"path"`
	// RecallScope controls the metadata filter applied to recall queries:
	// "global" (no filter, matches the original behavior), "user", or "chat".
	RecallScope string `yaml:"recall_scope"`
}

// TurnConfig tunes the turn orchestration protocol.
type TurnConfig struct {
	RecallK     int           `yaml:"recall_k"`
	WindowSize  int           `yaml:"window_size"`
	CallTimeout time.Duration `yaml:"call_timeout"`
	Persona     string        `yaml:"persona"` // system instruction override
}

// GatewayConfig configures the websocket gateway.
type GatewayConfig struct {
	AllowedOrigins  []string `yaml:"allowed_origins"` // doublestar globs
	MaxContentBytes int      `yaml:"max_content_bytes"`
}

// Default returns the configuration defaults.
func Default() *Config {
	home, _ := os.UserHomeDir()
	dir := filepath.Join(home, ".cofounder")

	return &Config{
		Listen: ":8080",
		Provider: ProviderConfig{
			Type: "gemini",
		},
		Auth: AuthConfig{
			TokenTTL: 7 * 24 * time.Hour,
		},
		Store: StoreConfig{
			Path: filepath.Join(dir, "conversations.db"),
		},
		Index: IndexConfig{
			Path:        filepath.Join(dir, "index"),
			RecallScope: "global",
		},
		Turn: TurnConfig{
			RecallK:     3,
			WindowSize:  20,
			CallTimeout: 30 * time.Second,
		},
		Gateway: GatewayConfig{
			AllowedOrigins:  []string{"http://localhost:*"},
			MaxContentBytes: 8192,
		},
	}
}

// Load reads configuration from the given YAML file, falling back to
// defaults when the path is empty or missing, and applies environment
// overrides last.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("COFOUNDER_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("COFOUNDER_JWT_SECRET"); v != "" {
		c.Auth.Secret = v
	}
	if v := os.Getenv("COFOUNDER_PROVIDER"); v != "" {
		c.Provider.Type = v
	}
	switch c.Provider.Type {
	case "gemini":
		if v := os.Getenv("GEMINI_API_KEY"); v != "" {
			c.Provider.APIKey = v
		}
	case "openai":
		if v := os.Getenv("OPENAI_API_KEY"); v != "" {
			c.Provider.APIKey = v
		}
	}
}

func (c *Config) validate() error {
	switch c.Provider.Type {
	case "gemini", "openai", "ollama", "stub":
	default:
		return fmt.Errorf("unknown provider type: %s", c.Provider.Type)
	}
	switch c.Index.RecallScope {
	case "global", "user", "chat":
	default:
		return fmt.Errorf("unknown recall scope: %s", c.Index.RecallScope)
	}
	if c.Turn.RecallK <= 0 {
		return fmt.Errorf("recall_k must be positive")
	}
	if c.Turn.WindowSize <= 0 {
		return fmt.Errorf("window_size must be positive")
	}
	return nil
}
