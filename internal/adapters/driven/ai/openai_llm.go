package ai

import (
	"context"
	"strings"

	"github.com/custodia-labs/hmo-assist/internal/core/domain"
	"github.com/custodia-labs/hmo-assist/internal/core/ports/driven"
)

// Ensure OpenAILLM implements LLMService
var _ driven.LLMService = (*OpenAILLM)(nil)

const defaultLLMModel = "gpt-4o"

// OpenAILLM implements LLMService against the OpenAI or Azure OpenAI chat
// completions API
type OpenAILLM struct {
	endpoint *endpoint
	model    string
}

// NewOpenAILLM creates a chat completion client from settings.
// On Azure the model is the deployment name.
func NewOpenAILLM(settings *domain.LLMSettings, opts ...Option) (*OpenAILLM, error) {
	o := applyOptions(opts)
	model := settings.Model
	if model == "" {
		model = defaultLLMModel
	}

	ep, err := newEndpoint(endpointConfig{
		service:    "llm",
		provider:   settings.Provider,
		apiKey:     settings.APIKey,
		baseURL:    settings.BaseURL,
		model:      model,
		apiVersion: settings.APIVersion,
		timeout:    settings.Timeout,
		limiter:    o.limiter,
	})
	if err != nil {
		return nil, err
	}

	return &OpenAILLM{endpoint: ep, model: model}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Index        int         `json:"index"`
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete runs one chat completion
func (l *OpenAILLM) Complete(ctx context.Context, messages []domain.Message, opts domain.CompletionOptions) (*domain.Completion, error) {
	req := chatRequest{
		Messages:    make([]chatMessage, 0, len(messages)),
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
	if l.endpoint.provider != domain.AIProviderAzure {
		req.Model = l.model
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}

	var resp chatResponse
	if err := l.endpoint.post(ctx, "chat/completions", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, &domain.UpstreamError{Service: "llm", StatusCode: 200, Message: "no choices in response"}
	}

	choice := resp.Choices[0]
	return &domain.Completion{
		Content:      strings.TrimSpace(choice.Message.Content),
		TokensUsed:   resp.Usage.TotalTokens,
		FinishReason: choice.FinishReason,
	}, nil
}

// Model returns the model or deployment name
func (l *OpenAILLM) Model() string {
	return l.model
}

// Ping sends a one-token completion
func (l *OpenAILLM) Ping(ctx context.Context) error {
	_, err := l.Complete(ctx, []domain.Message{{Role: domain.RoleUser, Content: "ping"}}, domain.CompletionOptions{MaxTokens: 1})
	return err
}

// Close releases resources held by the LLM service
func (l *OpenAILLM) Close() error {
	l.endpoint.close()
	return nil
}
