// Package openai implements the provider.Client contract against the OpenAI
// chat completions API (and compatible gateways via a custom base URL).
// Images travel as data-URI image_url content parts.
package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fpang/media-describe/internal/provider"
)

const (
	name           = "openai"
	defaultBaseURL = "https://api.openai.com"
	defaultTimeout = 2 * time.Minute

	// maxOutputTokens bounds a single description.
	maxOutputTokens = 1024
)

// Client talks to the OpenAI API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	policy     provider.Policy
}

// New creates an OpenAI client. baseURL of "" uses api.openai.com;
// maxAttempts of 0 uses the default policy.
func New(apiKey, baseURL string, maxAttempts int) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		policy:     provider.DefaultPolicy().WithAttempts(maxAttempts),
	}
}

// Name returns "openai".
func (c *Client) Name() string { return name }

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Describe sends the image and prompt to /v1/chat/completions.
func (c *Client) Describe(ctx context.Context, req provider.DescribeRequest) (*provider.Description, error) {
	imageData, err := provider.LoadImage(name, req.ImagePath)
	if err != nil {
		return nil, err
	}

	dataURI := fmt.Sprintf("data:%s;base64,%s", req.MIMEType, base64.StdEncoding.EncodeToString(imageData))
	messages := make([]chatMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{
			Role:    "system",
			Content: []contentPart{{Type: "text", Text: req.SystemPrompt}},
		})
	}
	messages = append(messages, chatMessage{
		Role: "user",
		Content: []contentPart{
			{Type: "text", Text: req.FullPrompt()},
			{Type: "image_url", ImageURL: &imageURL{URL: dataURI}},
		},
	})
	body := chatRequest{
		Model:     req.Model,
		Messages:  messages,
		MaxTokens: maxOutputTokens,
	}

	var out *provider.Description
	err = provider.WithRetry(ctx, name, "describe", c.policy, func() error {
		var resp chatResponse
		if err := c.doJSON(ctx, http.MethodPost, "/v1/chat/completions", body, &resp); err != nil {
			return err
		}

		if len(resp.Choices) == 0 {
			return provider.Errorf(provider.KindMalformed, name, "response has no choices")
		}
		choice := resp.Choices[0]
		text := strings.TrimSpace(choice.Message.Content)
		if text == "" {
			return &provider.Error{
				Kind:       provider.KindMalformed,
				Provider:   name,
				Message:    fmt.Sprintf("empty generation (%d output tokens)", resp.Usage.CompletionTokens),
				StopReason: choice.FinishReason,
			}
		}

		out = &provider.Description{
			Text:         text,
			Provider:     name,
			Model:        req.Model,
			StopReason:   choice.FinishReason,
			PromptTokens: resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type modelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// ListModels returns the account's model ids.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	var resp modelsResponse
	err := provider.WithRetry(ctx, name, "list_models", c.policy, func() error {
		return c.doJSON(ctx, http.MethodGet, "/v1/models", nil, &resp)
	})
	if err != nil {
		return nil, err
	}
	models := make([]string, 0, len(resp.Data))
	for _, m := range resp.Data {
		models = append(models, m.ID)
	}
	return models, nil
}

// Probe validates the credential with a single models-list call.
func (c *Client) Probe(ctx context.Context) error {
	var resp modelsResponse
	return c.doJSON(ctx, http.MethodGet, "/v1/models", nil, &resp)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &provider.Error{Kind: provider.KindTransient, Provider: name, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &provider.Error{Kind: provider.KindTransient, Provider: name, Message: "failed to read response", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return provider.FromStatus(name, resp.StatusCode, preview(raw),
			provider.ParseRetryAfter(resp.Header.Get("Retry-After")))
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return &provider.Error{Kind: provider.KindMalformed, Provider: name, Message: "undecodable response", Err: err}
	}
	return nil
}

func preview(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
