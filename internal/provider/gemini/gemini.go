// Package gemini implements the provider.Client contract on top of the
// google.golang.org/genai SDK. Unlike the HTTP-level clients, error
// classification works from the SDK's APIError codes.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/fpang/media-describe/internal/provider"
)

const name = "gemini"

// Client talks to the Gemini API through the genai SDK.
type Client struct {
	client *genai.Client
	policy provider.Policy
}

// New creates a Gemini client. maxAttempts of 0 uses the default policy.
func New(ctx context.Context, apiKey string, maxAttempts int) (*Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &Client{
		client: client,
		policy: provider.DefaultPolicy().WithAttempts(maxAttempts),
	}, nil
}

// Name returns "gemini".
func (c *Client) Name() string { return name }

// Describe sends the image inline with the prompt and returns the generated
// description.
func (c *Client) Describe(ctx context.Context, req provider.DescribeRequest) (*provider.Description, error) {
	imageData, err := provider.LoadImage(name, req.ImagePath)
	if err != nil {
		return nil, err
	}

	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{MIMEType: req.MIMEType, Data: imageData}},
			{Text: req.FullPrompt()},
		},
	}}
	var config *genai.GenerateContentConfig
	if req.SystemPrompt != "" {
		config = &genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: req.SystemPrompt}}},
		}
	}

	var out *provider.Description
	err = provider.WithRetry(ctx, name, "describe", c.policy, func() error {
		resp, err := c.client.Models.GenerateContent(ctx, req.Model, contents, config)
		if err != nil {
			return classify(err)
		}
		if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			return provider.Errorf(provider.KindMalformed, name, "response has no candidates")
		}

		candidate := resp.Candidates[0]
		var text strings.Builder
		for _, part := range candidate.Content.Parts {
			text.WriteString(part.Text)
		}
		result := strings.TrimSpace(text.String())

		desc := &provider.Description{
			Text:       result,
			Provider:   name,
			Model:      req.Model,
			StopReason: string(candidate.FinishReason),
		}
		if resp.UsageMetadata != nil {
			desc.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
			desc.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		}

		if result == "" {
			return &provider.Error{
				Kind:       provider.KindMalformed,
				Provider:   name,
				Message:    fmt.Sprintf("empty generation (%d output tokens)", desc.OutputTokens),
				StopReason: desc.StopReason,
			}
		}

		out = desc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListModels enumerates models that support content generation.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	var models []string
	err := provider.WithRetry(ctx, name, "list_models", c.policy, func() error {
		models = models[:0]
		for model, err := range c.client.Models.All(ctx) {
			if err != nil {
				return classify(err)
			}
			models = append(models, strings.TrimPrefix(model.Name, "models/"))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return models, nil
}

// Probe validates the credential with a minimal generation call, the same
// check the CLI startup path uses.
func (c *Client) Probe(ctx context.Context) error {
	_, err := c.client.Models.GenerateContent(ctx, "gemini-3-flash-preview", genai.Text("hi"), nil)
	if err != nil {
		return classify(err)
	}
	return nil
}

// classify maps a genai SDK error onto the shared taxonomy.
func classify(err error) error {
	var apiErr *genai.APIError
	if errors.As(err, &apiErr) {
		pe := provider.FromStatus(name, apiErr.Code, apiErr.Message, 0)
		pe.Err = err
		return pe
	}

	// Fall back to message matching for errors the SDK does not type.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "api key not valid") ||
		strings.Contains(msg, "api_key_invalid") ||
		strings.Contains(msg, "permission denied"):
		return &provider.Error{Kind: provider.KindAuth, Provider: name, Message: "API key rejected", Err: err}
	case strings.Contains(msg, "quota") || strings.Contains(msg, "resource exhausted"):
		return &provider.Error{Kind: provider.KindRateLimited, Provider: name, Message: "quota exceeded", Err: err}
	default:
		return &provider.Error{Kind: provider.KindTransient, Provider: name, Message: "request failed", Err: err}
	}
}
