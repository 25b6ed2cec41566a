package mocks

import (
	"context"
	"sync"

	"github.com/custodia-labs/hmo-assist/internal/core/domain"
	"github.com/custodia-labs/hmo-assist/internal/core/ports/driven"
)

var _ driven.LLMService = (*MockLLMService)(nil)

// MockLLMService returns scripted completions and records every request
type MockLLMService struct {
	mu        sync.Mutex
	responses []string
	requests  []LLMRequest

	// CompleteFn overrides scripted responses when set
	CompleteFn func(messages []domain.Message, opts domain.CompletionOptions) (*domain.Completion, error)
	PingFn     func() error
}

// LLMRequest is one recorded Complete call
type LLMRequest struct {
	Messages []domain.Message
	Options  domain.CompletionOptions
}

// NewMockLLMService creates a mock that answers with responses in order.
// After the script runs out it repeats the last response.
func NewMockLLMService(responses ...string) *MockLLMService {
	return &MockLLMService{responses: responses}
}

func (m *MockLLMService) Complete(ctx context.Context, messages []domain.Message, opts domain.CompletionOptions) (*domain.Completion, error) {
	m.mu.Lock()
	m.requests = append(m.requests, LLMRequest{Messages: messages, Options: opts})
	fn := m.CompleteFn
	var content string
	if len(m.responses) > 0 {
		content = m.responses[0]
		if len(m.responses) > 1 {
			m.responses = m.responses[1:]
		}
	}
	m.mu.Unlock()

	if fn != nil {
		return fn(messages, opts)
	}
	return &domain.Completion{Content: content, TokensUsed: 10, FinishReason: "stop"}, nil
}

func (m *MockLLMService) Model() string {
	return "mock-llm"
}

func (m *MockLLMService) Ping(ctx context.Context) error {
	if m.PingFn != nil {
		return m.PingFn()
	}
	return nil
}

func (m *MockLLMService) Close() error {
	return nil
}

// Requests returns the recorded calls
func (m *MockLLMService) Requests() []LLMRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]LLMRequest(nil), m.requests...)
}

// LastSystemPrompt returns the system message of the most recent call
func (m *MockLLMService) LastSystemPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return ""
	}
	for _, msg := range m.requests[len(m.requests)-1].Messages {
		if msg.Role == domain.RoleSystem {
			return msg.Content
		}
	}
	return ""
}
