package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fpang/media-describe/internal/provider"
)

func writeImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "photo.png")
	if err := os.WriteFile(path, []byte("fake png"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDescribe(t *testing.T) {
	var gotAuth string
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		w.Write([]byte(`{
			"choices": [{"message": {"content": "A cat on a sofa."}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 900, "completion_tokens": 35}
		}`))
	}))
	defer srv.Close()

	c := New("sk-test", srv.URL, 1)
	desc, err := c.Describe(context.Background(), provider.DescribeRequest{
		ImagePath: writeImage(t),
		MIMEType:  "image/png",
		Model:     "gpt-4o-mini",
		Prompt:    "Describe this image.",
	})
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if desc.Text != "A cat on a sofa." {
		t.Errorf("Text = %q", desc.Text)
	}
	if desc.StopReason != "stop" || desc.PromptTokens != 900 || desc.OutputTokens != 35 {
		t.Errorf("usage = %s/%d/%d", desc.StopReason, desc.PromptTokens, desc.OutputTokens)
	}

	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotReq.MaxTokens != maxOutputTokens {
		t.Errorf("MaxTokens = %d, want %d", gotReq.MaxTokens, maxOutputTokens)
	}
	if len(gotReq.Messages) != 1 || len(gotReq.Messages[0].Content) != 2 {
		t.Fatalf("message should carry text and image parts: %+v", gotReq)
	}
	img := gotReq.Messages[0].Content[1]
	if img.ImageURL == nil || !strings.HasPrefix(img.ImageURL.URL, "data:image/png;base64,") {
		t.Errorf("image part should be a data URI, got %+v", img)
	}
}

func TestDescribeSendsSystemPrompt(t *testing.T) {
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		w.Write([]byte(`{"choices": [{"message": {"content": "ok"}, "finish_reason": "stop"}]}`))
	}))
	defer srv.Close()

	c := New("sk-test", srv.URL, 1)
	_, err := c.Describe(context.Background(), provider.DescribeRequest{
		ImagePath:    writeImage(t),
		MIMEType:     "image/png",
		Model:        "m",
		Prompt:       "p",
		SystemPrompt: "be grounded",
	})
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if len(gotReq.Messages) != 2 {
		t.Fatalf("expected system + user messages, got %+v", gotReq.Messages)
	}
	sys := gotReq.Messages[0]
	if sys.Role != "system" || len(sys.Content) != 1 || sys.Content[0].Text != "be grounded" {
		t.Errorf("system message = %+v", sys)
	}
	if gotReq.Messages[1].Role != "user" {
		t.Errorf("second message role = %q, want user", gotReq.Messages[1].Role)
	}
}

func TestDescribeRateLimited(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Retry-After", "0")
		http.Error(w, `{"error": {"message": "rate limit"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New("sk-test", srv.URL, 2)
	c.policy.InitialBackoff = 0
	_, err := c.Describe(context.Background(), provider.DescribeRequest{
		ImagePath: writeImage(t), MIMEType: "image/png", Model: "m", Prompt: "p",
	})
	if !provider.IsKind(err, provider.KindRateLimited) {
		t.Fatalf("expected rate_limited, got %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2 (retried once)", calls)
	}
}

func TestDescribeNoChoicesIsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices": []}`))
	}))
	defer srv.Close()

	c := New("sk-test", srv.URL, 1)
	_, err := c.Describe(context.Background(), provider.DescribeRequest{
		ImagePath: writeImage(t), MIMEType: "image/png", Model: "m", Prompt: "p",
	})
	if !provider.IsKind(err, provider.KindMalformed) {
		t.Fatalf("expected malformed, got %v", err)
	}
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"data": [{"id": "gpt-4o"}, {"id": "gpt-4o-mini"}]}`))
	}))
	defer srv.Close()

	c := New("sk-test", srv.URL, 1)
	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels failed: %v", err)
	}
	if len(models) != 2 || models[0] != "gpt-4o" {
		t.Errorf("models = %v", models)
	}
}

func TestProbeBadKeyIsAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"message": "invalid key"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New("sk-bad", srv.URL, 1)
	err := c.Probe(context.Background())
	if !provider.IsKind(err, provider.KindAuth) {
		t.Fatalf("expected auth, got %v", err)
	}
}
