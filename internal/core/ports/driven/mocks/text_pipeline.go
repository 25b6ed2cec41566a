package mocks

import (
	"sync"

	"github.com/custodia-labs/hmo-assist/internal/core/domain"
	"github.com/custodia-labs/hmo-assist/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.TextPipeline = (*MockTextPipeline)(nil)

// MockTextPipeline is a mock implementation of TextPipeline for testing
type MockTextPipeline struct {
	mu         sync.Mutex
	ProcessFn  func(chunks []*domain.Chunk) []*domain.Chunk
	processors []driven.TextProcessor
	calls      int
}

func NewMockTextPipeline() *MockTextPipeline {
	return &MockTextPipeline{}
}

func (m *MockTextPipeline) Add(processor driven.TextProcessor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processors = append(m.processors, processor)
}

func (m *MockTextPipeline) Process(chunks []*domain.Chunk) []*domain.Chunk {
	m.mu.Lock()
	m.calls++
	fn := m.ProcessFn
	m.mu.Unlock()

	if fn != nil {
		return fn(chunks)
	}
	return chunks
}

func (m *MockTextPipeline) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, len(m.processors))
	for i, p := range m.processors {
		names[i] = p.Name()
	}
	return names
}

// Calls returns how many times Process ran
func (m *MockTextPipeline) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
