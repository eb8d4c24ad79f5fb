package main

import (
	"context"
	"fmt"

	"github.com/fpang/media-describe/internal/config"
	"github.com/fpang/media-describe/internal/provider"
	"github.com/fpang/media-describe/internal/provider/anthropic"
	"github.com/fpang/media-describe/internal/provider/gemini"
	"github.com/fpang/media-describe/internal/provider/huggingface"
	"github.com/fpang/media-describe/internal/provider/ollama"
	"github.com/fpang/media-describe/internal/provider/openai"
)

// buildClient constructs the client for a provider id and resolves the model
// to use, validating credentials before any network call.
func buildClient(ctx context.Context, cfg *config.Config, providerID, model string) (provider.Client, string, error) {
	if err := cfg.RequireCredential(providerID); err != nil {
		return nil, "", err
	}
	settings, err := cfg.Provider(providerID)
	if err != nil {
		return nil, "", err
	}
	if model == "" {
		model = settings.DefaultModel
	}

	var client provider.Client
	switch providerID {
	case config.ProviderOllama:
		client = ollama.New(settings.BaseURL, settings.MaxAttempts)
	case config.ProviderOpenAI:
		client = openai.New(settings.APIKey, settings.BaseURL, settings.MaxAttempts)
	case config.ProviderAnthropic:
		client = anthropic.New(settings.APIKey, settings.BaseURL, settings.MaxAttempts)
	case config.ProviderHuggingFace:
		client = huggingface.New(settings.APIKey, settings.BaseURL, model, settings.MaxAttempts)
	case config.ProviderGemini:
		client, err = gemini.New(ctx, settings.APIKey, settings.MaxAttempts)
		if err != nil {
			return nil, "", fmt.Errorf("failed to initialize gemini client: %w", err)
		}
	default:
		return nil, "", fmt.Errorf("unknown provider %q", providerID)
	}
	return client, model, nil
}

// buildAllClients constructs a client for every provider that has the
// configuration it needs. Providers missing credentials are skipped, not
// errors: the providers command reports on whatever is configured.
func buildAllClients(ctx context.Context, cfg *config.Config) []provider.Client {
	var clients []provider.Client
	for _, id := range config.KnownProviders {
		if err := cfg.RequireCredential(id); err != nil {
			continue
		}
		client, _, err := buildClient(ctx, cfg, id, "")
		if err != nil {
			continue
		}
		clients = append(clients, client)
	}
	return clients
}
