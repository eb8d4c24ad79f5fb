// Package provider defines the uniform contract for AI vision backends and
// the shared retry mechanism they all use.
//
// Each backend (Ollama, OpenAI, Anthropic, Hugging Face, Gemini) lives in
// its own subpackage and owns its request/response mapping and rate-limit
// tuning. The retry loop, the error taxonomy, and the availability registry
// are shared and live here. Retry exists in exactly one place, inside the
// client via WithRetry, so callers only ever see a final outcome and can
// never stack a second retry loop on top.
package provider

import (
	"context"
	"fmt"
	"os"
)

// DescribeRequest is one description call: one image, one model, one prompt.
type DescribeRequest struct {
	// ImagePath is the image file to describe.
	ImagePath string

	// MIMEType is the image's MIME type (e.g. "image/jpeg").
	MIMEType string

	// Model is the backend model id. Must be non-empty.
	Model string

	// Prompt is the resolved prompt text (style or custom).
	Prompt string

	// SystemPrompt is the backend-level instruction sent alongside the user
	// prompt. Backends without a system channel ignore it.
	SystemPrompt string

	// MetadataContext is an optional fact sheet (EXIF date/GPS) appended to
	// the prompt so the model can anchor its description.
	MetadataContext string
}

// FullPrompt returns the prompt with the metadata context appended.
func (r DescribeRequest) FullPrompt() string {
	if r.MetadataContext == "" {
		return r.Prompt
	}
	return r.Prompt + "\n\n" + r.MetadataContext
}

// Description is the result of a successful describe call. Immutable once
// returned; token counts are zero when the backend does not report usage.
type Description struct {
	Text         string
	Provider     string
	Model        string
	StopReason   string
	PromptTokens int
	OutputTokens int
}

// Client is the uniform interface to one AI vision backend. Implementations
// own their retry/backoff policy; a returned error is always final.
//
// Clients must not mutate any engine state: they take a request and return
// a result or a typed *Error.
type Client interface {
	// Name returns the provider id (e.g. "ollama").
	Name() string

	// Describe generates a text description for one image.
	Describe(ctx context.Context, req DescribeRequest) (*Description, error)

	// ListModels returns the model ids the backend offers.
	ListModels(ctx context.Context) ([]string, error)

	// Probe checks whether the backend is reachable and usable.
	Probe(ctx context.Context) error
}

// MaxInlineImageBytes is the largest image payload accepted for inline
// (base64 or raw body) upload. Hosted vision APIs reject payloads around
// this size; rejecting locally gives a clearer error than a provider 4xx.
const MaxInlineImageBytes = 20 << 20

// LoadImage reads an image file for inline upload, enforcing the payload
// size limit. Oversized files surface as KindUnsupportedInput so callers
// know not to resubmit unchanged.
func LoadImage(providerName, path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat image %s: %w", path, err)
	}
	if info.Size() > MaxInlineImageBytes {
		return nil, &Error{
			Kind:     KindUnsupportedInput,
			Provider: providerName,
			Message:  fmt.Sprintf("image %s is %d bytes, over the %d byte inline limit", path, info.Size(), MaxInlineImageBytes),
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image %s: %w", path, err)
	}
	return data, nil
}
