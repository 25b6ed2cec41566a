package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/custodia-labs/hmo-assist/internal/core/domain"
)

func TestOpenAILLM_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("expected /chat/completions, got %s", r.URL.Path)
		}

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "gpt-4o" || req.Temperature != 0.3 || req.MaxTokens != 800 {
			t.Errorf("unexpected request %+v", req)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Content != "כמה עולה ניקוי שיניים?" {
			t.Errorf("unexpected messages %+v", req.Messages)
		}

		_, _ = w.Write([]byte(`{
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "  80% הנחה  "}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 90, "completion_tokens": 10, "total_tokens": 100}
		}`))
	}))
	defer server.Close()

	llm, err := NewOpenAILLM(&domain.LLMSettings{Provider: domain.AIProviderOpenAI, APIKey: "sk-test", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out, err := llm.Complete(context.Background(), []domain.Message{
		{Role: domain.RoleSystem, Content: "system"},
		{Role: domain.RoleUser, Content: "כמה עולה ניקוי שיניים?"},
	}, domain.CompletionOptions{Temperature: 0.3, MaxTokens: 800})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Content != "80% הנחה" || out.TokensUsed != 100 || out.FinishReason != "stop" {
		t.Errorf("unexpected completion %+v", out)
	}
}

func TestOpenAILLM_Complete_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices": []}`))
	}))
	defer server.Close()

	llm, _ := NewOpenAILLM(&domain.LLMSettings{Provider: domain.AIProviderOpenAI, APIKey: "sk-test", BaseURL: server.URL})
	_, err := llm.Complete(context.Background(), nil, domain.CompletionOptions{})

	var ue *domain.UpstreamError
	if !errors.As(err, &ue) || ue.Transient {
		t.Errorf("expected permanent UpstreamError, got %v", err)
	}
}

func TestOpenAILLM_Ping_Azure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/openai/deployments/gpt4o-prod/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("api-version") != "2024-06-01" {
			t.Errorf("expected configured api-version, got %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"choices": [{"message": {"role": "assistant", "content": "pong"}}]}`))
	}))
	defer server.Close()

	llm, err := NewOpenAILLM(&domain.LLMSettings{
		Provider:   domain.AIProviderAzure,
		Model:      "gpt4o-prod",
		APIKey:     "k",
		BaseURL:    server.URL,
		APIVersion: "2024-06-01",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := llm.Ping(context.Background()); err != nil {
		t.Errorf("unexpected ping error: %v", err)
	}
}

func TestOpenAILLM_RateLimited(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"choices": [{"message": {"role": "assistant", "content": "ok"}}]}`))
	}))
	defer server.Close()

	// One token, no refill within the test
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	llm, _ := NewOpenAILLM(&domain.LLMSettings{Provider: domain.AIProviderOpenAI, APIKey: "sk-test", BaseURL: server.URL}, WithRateLimiter(limiter))

	if _, err := llm.Complete(context.Background(), nil, domain.CompletionOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := llm.Complete(ctx, nil, domain.CompletionOptions{}); err == nil {
		t.Error("expected limiter wait to fail")
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 upstream call, got %d", calls.Load())
	}
}
