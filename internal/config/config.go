// Package config resolves engine settings from a YAML config file and
// environment variables. Environment variables always win over file values,
// so a credential exported in the shell overrides anything on disk.
//
// The config file lives at ~/.media-describe/config.yaml by default. A
// missing file is not an error: every field has a usable default and API
// keys can come entirely from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Provider identifiers understood by the engine. These are the closed set of
// vision backends; each has a client implementation under internal/provider.
const (
	ProviderOllama      = "ollama"
	ProviderOpenAI      = "openai"
	ProviderAnthropic   = "anthropic"
	ProviderHuggingFace = "huggingface"
	ProviderGemini      = "gemini"
)

// KnownProviders lists every provider id the engine can construct a client for.
var KnownProviders = []string{
	ProviderOllama,
	ProviderOpenAI,
	ProviderAnthropic,
	ProviderHuggingFace,
	ProviderGemini,
}

// envKeyVars maps a provider id to the environment variable holding its API key.
var envKeyVars = map[string]string{
	ProviderOpenAI:      "OPENAI_API_KEY",
	ProviderAnthropic:   "ANTHROPIC_API_KEY",
	ProviderHuggingFace: "HF_API_TOKEN",
	ProviderGemini:      "GEMINI_API_KEY",
}

// defaultModels are the fallback model ids used when neither the config file
// nor the command line names one.
var defaultModels = map[string]string{
	ProviderOllama:      "llama3.2-vision:11b",
	ProviderOpenAI:      "gpt-4o-mini",
	ProviderAnthropic:   "claude-sonnet-4-5",
	ProviderHuggingFace: "Salesforce/blip-image-captioning-large",
	ProviderGemini:      "gemini-3-flash-preview",
}

// DefaultOllamaHost is the Ollama server used when OLLAMA_HOST is not set.
const DefaultOllamaHost = "http://localhost:11434"

// DefaultInterItemDelay is the pause between consecutive provider calls in a
// batch. Sequential-with-delay keeps bursty batches under provider rate limits.
const DefaultInterItemDelay = 1500 * time.Millisecond

// ProviderSettings holds the per-provider connection settings resolved from
// config file and environment.
type ProviderSettings struct {
	// APIKey is the credential for hosted providers. Empty for Ollama.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint. Used for Ollama
	// hosts and OpenAI-compatible gateways.
	BaseURL string `yaml:"base_url"`

	// DefaultModel is used when the caller does not name a model.
	DefaultModel string `yaml:"default_model"`

	// MaxAttempts bounds retries inside the provider client. 0 means the
	// client default (3).
	MaxAttempts int `yaml:"max_attempts"`
}

// Config is the resolved engine configuration. It is read once at startup
// and treated as immutable for the duration of a run.
type Config struct {
	// DefaultProvider is used when --provider is not given.
	DefaultProvider string `yaml:"default_provider"`

	// DefaultPromptStyle is used when --prompt-style is not given.
	DefaultPromptStyle string `yaml:"default_prompt_style"`

	// InterItemDelayMS is the batch inter-item delay in milliseconds.
	InterItemDelayMS int `yaml:"inter_item_delay_ms"`

	// Providers holds per-provider settings keyed by provider id.
	Providers map[string]ProviderSettings `yaml:"providers"`
}

// ValidationError reports configuration that cannot support a run: an
// unknown provider, a missing credential, an unresolvable model. It is
// raised before any provider call is attempted.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration (%s): %s", e.Field, e.Message)
}

// DefaultPath returns the default config file location.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".media-describe", "config.yaml"), nil
}

// Load reads the config file at path, applies environment overrides, and
// fills defaults. A missing file yields a default config rather than an error.
func Load(path string) (*Config, error) {
	cfg := &Config{
		DefaultProvider:    ProviderOllama,
		DefaultPromptStyle: "detailed",
		Providers:          map[string]ProviderSettings{},
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		log.Debug().Str("path", path).Msg("Loaded config file")
	case os.IsNotExist(err):
		log.Debug().Str("path", path).Msg("No config file, using defaults")
	default:
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if cfg.Providers == nil {
		cfg.Providers = map[string]ProviderSettings{}
	}
	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overlays environment variables onto file-sourced settings.
func (c *Config) applyEnv() {
	for id, envVar := range envKeyVars {
		if key := os.Getenv(envVar); key != "" {
			s := c.Providers[id]
			s.APIKey = key
			c.Providers[id] = s
		}
	}
	if host := os.Getenv("OLLAMA_HOST"); host != "" {
		s := c.Providers[ProviderOllama]
		s.BaseURL = host
		c.Providers[ProviderOllama] = s
	}
}

// Provider returns the resolved settings for a provider id, filling
// per-provider defaults. Unknown ids produce a ValidationError.
func (c *Config) Provider(id string) (ProviderSettings, error) {
	fallbackModel, known := defaultModels[id]
	if !known {
		return ProviderSettings{}, &ValidationError{
			Field:   "provider",
			Message: fmt.Sprintf("unknown provider %q (known: %v)", id, KnownProviders),
		}
	}

	s := c.Providers[id]
	if s.DefaultModel == "" {
		s.DefaultModel = fallbackModel
	}
	if id == ProviderOllama && s.BaseURL == "" {
		s.BaseURL = DefaultOllamaHost
	}
	return s, nil
}

// InterItemDelay returns the configured batch delay, or the default.
func (c *Config) InterItemDelay() time.Duration {
	if c.InterItemDelayMS > 0 {
		return time.Duration(c.InterItemDelayMS) * time.Millisecond
	}
	return DefaultInterItemDelay
}

// RequireCredential verifies that a provider has the credential it needs
// before any network call is made. Ollama needs none.
func (c *Config) RequireCredential(id string) error {
	envVar, needsKey := envKeyVars[id]
	if !needsKey {
		return nil
	}
	s, err := c.Provider(id)
	if err != nil {
		return err
	}
	if s.APIKey == "" {
		return &ValidationError{
			Field:   "providers." + id + ".api_key",
			Message: fmt.Sprintf("no API key configured; set %s or add it to the config file", envVar),
		}
	}
	return nil
}
