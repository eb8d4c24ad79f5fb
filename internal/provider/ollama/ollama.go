// Package ollama implements the provider.Client contract against a local
// Ollama server's chat API. Images are sent base64-inline in the message;
// models are enumerated from /api/tags.
package ollama

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

	"github.com/rs/zerolog/log"

	"github.com/fpang/media-describe/internal/provider"
)

const name = "ollama"

// defaultTimeout bounds one chat call. Local vision models can take a while
// on CPU-only hosts, so this is generous.
const defaultTimeout = 5 * time.Minute

// Client talks to one Ollama server.
type Client struct {
	httpClient *http.Client
	baseURL    string
	policy     provider.Policy
}

// New creates an Ollama client for the given base URL (e.g.
// "http://localhost:11434"). maxAttempts of 0 uses the default policy.
func New(baseURL string, maxAttempts int) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		policy:     provider.DefaultPolicy().WithAttempts(maxAttempts),
	}
}

// Name returns "ollama".
func (c *Client) Name() string { return name }

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type chatResponse struct {
	Message         chatMessage `json:"message"`
	Done            bool        `json:"done"`
	DoneReason      string      `json:"done_reason"`
	PromptEvalCount int         `json:"prompt_eval_count"`
	EvalCount       int         `json:"eval_count"`
}

// Describe sends the image and prompt to /api/chat and returns the model's
// description. Retries (rate-limit, transient) happen inside this call.
func (c *Client) Describe(ctx context.Context, req provider.DescribeRequest) (*provider.Description, error) {
	imageData, err := provider.LoadImage(name, req.ImagePath)
	if err != nil {
		return nil, err
	}

	messages := make([]chatMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, chatMessage{
		Role:    "user",
		Content: req.FullPrompt(),
		Images:  []string{base64.StdEncoding.EncodeToString(imageData)},
	})
	body := chatRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   false,
	}

	var out *provider.Description
	err = provider.WithRetry(ctx, name, "describe", c.policy, func() error {
		var resp chatResponse
		if err := c.postJSON(ctx, "/api/chat", body, &resp); err != nil {
			return err
		}

		text := strings.TrimSpace(resp.Message.Content)
		if text == "" {
			return &provider.Error{
				Kind:       provider.KindMalformed,
				Provider:   name,
				Message:    "empty generation",
				StopReason: resp.DoneReason,
			}
		}

		out = &provider.Description{
			Text:         text,
			Provider:     name,
			Model:        req.Model,
			StopReason:   resp.DoneReason,
			PromptTokens: resp.PromptEvalCount,
			OutputTokens: resp.EvalCount,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// ListModels returns the models installed on the server.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	var resp tagsResponse
	err := provider.WithRetry(ctx, name, "list_models", c.policy, func() error {
		return c.getJSON(ctx, "/api/tags", &resp)
	})
	if err != nil {
		return nil, err
	}
	models := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		models = append(models, m.Name)
	}
	return models, nil
}

// Probe checks the server is reachable. A single cheap /api/tags call; no
// retry beyond the shared policy.
func (c *Client) Probe(ctx context.Context) error {
	var resp tagsResponse
	return c.getJSON(ctx, "/api/tags", &resp)
}

func (c *Client) postJSON(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	return c.do(httpReq, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	return c.do(httpReq, out)
}

func (c *Client) do(httpReq *http.Request, out any) error {
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
		log.Debug().Str("provider", name).Str("body", preview(raw)).Msg("Undecodable response body")
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
