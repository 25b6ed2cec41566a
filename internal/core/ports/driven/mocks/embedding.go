package mocks

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/custodia-labs/hmo-assist/internal/core/domain"
	"github.com/custodia-labs/hmo-assist/internal/core/ports/driven"
)

var _ driven.EmbeddingService = (*MockEmbeddingService)(nil)

// MockEmbeddingService returns deterministic vectors derived from a text hash.
// Vectors can be pinned per text and failures injected per call.
type MockEmbeddingService struct {
	mu         sync.Mutex
	dimensions int
	model      string
	failTimes  int
	failErr    error
	pinned     map[string][]float32
	calls      int
	batchSizes []int
}

// NewMockEmbeddingService creates a new MockEmbeddingService
func NewMockEmbeddingService() *MockEmbeddingService {
	return &MockEmbeddingService{
		dimensions: 8,
		model:      "mock-embedding-model",
		pinned:     make(map[string][]float32),
	}
}

func (m *MockEmbeddingService) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if err := m.nextFailure(); err != nil {
		return nil, err
	}
	m.batchSizes = append(m.batchSizes, len(texts))

	result := make([][]float32, len(texts))
	for i, text := range texts {
		result[i] = m.vectorFor(text)
	}
	return result, nil
}

func (m *MockEmbeddingService) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if err := m.nextFailure(); err != nil {
		return nil, err
	}
	return m.vectorFor(query), nil
}

func (m *MockEmbeddingService) Dimensions() int {
	return m.dimensions
}

func (m *MockEmbeddingService) Model() string {
	return m.model
}

func (m *MockEmbeddingService) HealthCheck(ctx context.Context) error {
	return nil
}

func (m *MockEmbeddingService) Close() error {
	return nil
}

func (m *MockEmbeddingService) nextFailure() error {
	if m.failTimes == 0 {
		return nil
	}
	m.failTimes--
	if m.failErr != nil {
		return m.failErr
	}
	return &domain.UpstreamError{Service: "embedding", StatusCode: 503, Message: "injected failure", Transient: true}
}

func (m *MockEmbeddingService) vectorFor(text string) []float32 {
	if v, ok := m.pinned[text]; ok {
		out := make([]float32, len(v))
		copy(out, v)
		return out
	}

	h := fnv.New32a()
	h.Write([]byte(text))
	seed := h.Sum32()

	embedding := make([]float32, m.dimensions)
	for i := range embedding {
		seed = seed*1103515245 + 12345
		embedding[i] = float32(seed%1000)/1000.0 - 0.5
	}
	return embedding
}

// Helper methods for testing

// SetFailNext makes the next call fail with a transient error
func (m *MockEmbeddingService) SetFailNext(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fail {
		m.failTimes = 1
	} else {
		m.failTimes = 0
	}
}

// FailTimes makes the next n calls fail with err (a transient 503 when nil)
func (m *MockEmbeddingService) FailTimes(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failTimes = n
	m.failErr = err
}

// Pin fixes the vector returned for a text
func (m *MockEmbeddingService) Pin(text string, vector []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pinned[text] = vector
}

func (m *MockEmbeddingService) SetDimensions(dim int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dimensions = dim
}

// Calls returns the number of Embed and EmbedQuery calls, failed ones included
func (m *MockEmbeddingService) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// BatchSizes returns the sizes of successful Embed batches
func (m *MockEmbeddingService) BatchSizes() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.batchSizes...)
}
