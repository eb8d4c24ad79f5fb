// Package anthropic implements the provider.Client contract against the
// Anthropic messages API. Images travel as base64 content blocks.
package anthropic

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
	name           = "anthropic"
	defaultBaseURL = "https://api.anthropic.com"
	apiVersion     = "2023-06-01"
	defaultTimeout = 2 * time.Minute

	maxOutputTokens = 1024
)

// Client talks to the Anthropic API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	policy     provider.Policy
}

// New creates an Anthropic client. baseURL of "" uses api.anthropic.com;
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

// Name returns "anthropic".
func (c *Client) Name() string { return name }

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type contentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *imageSource `json:"source,omitempty"`
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type messagesResponse struct {
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Describe sends the image and prompt to /v1/messages.
func (c *Client) Describe(ctx context.Context, req provider.DescribeRequest) (*provider.Description, error) {
	imageData, err := provider.LoadImage(name, req.ImagePath)
	if err != nil {
		return nil, err
	}

	body := messagesRequest{
		Model:     req.Model,
		MaxTokens: maxOutputTokens,
		System:    req.SystemPrompt,
		Messages: []message{{
			Role: "user",
			Content: []contentBlock{
				{Type: "image", Source: &imageSource{
					Type:      "base64",
					MediaType: req.MIMEType,
					Data:      base64.StdEncoding.EncodeToString(imageData),
				}},
				{Type: "text", Text: req.FullPrompt()},
			},
		}},
	}

	var out *provider.Description
	err = provider.WithRetry(ctx, name, "describe", c.policy, func() error {
		var resp messagesResponse
		if err := c.doJSON(ctx, http.MethodPost, "/v1/messages", body, &resp); err != nil {
			return err
		}

		var text strings.Builder
		for _, block := range resp.Content {
			if block.Type == "text" {
				text.WriteString(block.Text)
			}
		}
		result := strings.TrimSpace(text.String())
		if result == "" {
			return &provider.Error{
				Kind:       provider.KindMalformed,
				Provider:   name,
				Message:    fmt.Sprintf("empty generation (%d output tokens)", resp.Usage.OutputTokens),
				StopReason: resp.StopReason,
			}
		}

		out = &provider.Description{
			Text:         result,
			Provider:     name,
			Model:        req.Model,
			StopReason:   resp.StopReason,
			PromptTokens: resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
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

// ListModels returns the available model ids.
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
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)
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
