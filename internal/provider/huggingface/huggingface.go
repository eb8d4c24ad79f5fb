// Package huggingface implements the provider.Client contract against the
// Hugging Face serverless inference API for image-to-text models. The image
// is posted as the raw request body; caption models ignore the prompt text,
// so the prompt is not transmitted.
package huggingface

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fpang/media-describe/internal/provider"
)

const (
	name           = "huggingface"
	defaultBaseURL = "https://api-inference.huggingface.co"
	defaultTimeout = 2 * time.Minute

	// coldStartRetryAfter is used when the API reports a loading model
	// without an estimated_time hint.
	coldStartRetryAfter = 20 * time.Second
)

// Client talks to the Hugging Face inference API for a single configured
// image-to-text model.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	policy     provider.Policy
}

// New creates a Hugging Face client pinned to one image-to-text model.
// baseURL of "" uses the public inference endpoint; maxAttempts of 0 uses
// the default policy.
func New(apiKey, baseURL, model string, maxAttempts int) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		policy:     provider.DefaultPolicy().WithAttempts(maxAttempts),
	}
}

// Name returns "huggingface".
func (c *Client) Name() string { return name }

type captionResult struct {
	GeneratedText string `json:"generated_text"`
}

type loadingError struct {
	Error         string  `json:"error"`
	EstimatedTime float64 `json:"estimated_time"`
}

// Describe posts the raw image to the model endpoint and returns its
// caption. Cold-start 503s carry an estimated_time hint, which feeds the
// retry backoff.
func (c *Client) Describe(ctx context.Context, req provider.DescribeRequest) (*provider.Description, error) {
	imageData, err := provider.LoadImage(name, req.ImagePath)
	if err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = c.model
	}

	var out *provider.Description
	err = provider.WithRetry(ctx, name, "describe", c.policy, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/models/"+model, bytes.NewReader(imageData))
		if err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		httpReq.Header.Set("Content-Type", req.MIMEType)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return &provider.Error{Kind: provider.KindTransient, Provider: name, Message: "request failed", Err: err}
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return &provider.Error{Kind: provider.KindTransient, Provider: name, Message: "failed to read response", Err: err}
		}

		if resp.StatusCode == http.StatusServiceUnavailable {
			return c.classifyColdStart(raw)
		}
		if resp.StatusCode != http.StatusOK {
			return provider.FromStatus(name, resp.StatusCode, preview(raw),
				provider.ParseRetryAfter(resp.Header.Get("Retry-After")))
		}

		var results []captionResult
		if err := json.Unmarshal(raw, &results); err != nil {
			return &provider.Error{Kind: provider.KindMalformed, Provider: name, Message: "undecodable response", Err: err}
		}
		if len(results) == 0 || strings.TrimSpace(results[0].GeneratedText) == "" {
			return provider.Errorf(provider.KindMalformed, name, "response has no generated_text")
		}

		out = &provider.Description{
			Text:     strings.TrimSpace(results[0].GeneratedText),
			Provider: name,
			Model:    model,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// classifyColdStart turns a 503 loading response into a retryable error
// carrying the API's estimated_time as the backoff hint.
func (c *Client) classifyColdStart(raw []byte) error {
	hint := coldStartRetryAfter
	var le loadingError
	if err := json.Unmarshal(raw, &le); err == nil && le.EstimatedTime > 0 {
		hint = time.Duration(le.EstimatedTime * float64(time.Second))
	}
	return &provider.Error{
		Kind:       provider.KindTransient,
		Provider:   name,
		Message:    "model is loading",
		RetryAfter: hint,
	}
}

// ListModels returns the single configured model. The inference API has no
// cheap enumeration endpoint, and captioning is only meaningful for the
// model the operator picked.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	return []string{c.model}, nil
}

// Probe checks the configured model's status endpoint.
func (c *Client) Probe(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status/"+c.model, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &provider.Error{Kind: provider.KindTransient, Provider: name, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return provider.FromStatus(name, resp.StatusCode, preview(raw), 0)
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
