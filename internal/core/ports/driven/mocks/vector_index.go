package mocks

import (
	"context"

	"github.com/custodia-labs/hmo-assist/internal/core/domain"
	"github.com/custodia-labs/hmo-assist/internal/core/ports/driven"
)

var _ driven.VectorIndex = (*MockVectorIndex)(nil)

// MockVectorIndex delegates to hook functions; unset hooks behave as an empty index
type MockVectorIndex struct {
	UpsertFn  func(records []*domain.EmbeddingRecord) error
	ReplaceFn func(records []*domain.EmbeddingRecord) error
	QueryFn   func(vector []float32, filter domain.ChunkFilter, topK int) ([]*domain.ScoredChunk, error)
	CountFn   func() (int, error)
	HealthFn  func() error

	Filters []domain.ChunkFilter
}

func (m *MockVectorIndex) Upsert(ctx context.Context, records []*domain.EmbeddingRecord) error {
	if m.UpsertFn != nil {
		return m.UpsertFn(records)
	}
	return nil
}

func (m *MockVectorIndex) Replace(ctx context.Context, records []*domain.EmbeddingRecord) error {
	if m.ReplaceFn != nil {
		return m.ReplaceFn(records)
	}
	return nil
}

func (m *MockVectorIndex) Query(ctx context.Context, vector []float32, filter domain.ChunkFilter, topK int) ([]*domain.ScoredChunk, error) {
	m.Filters = append(m.Filters, filter)
	if m.QueryFn != nil {
		return m.QueryFn(vector, filter, topK)
	}
	return nil, nil
}

func (m *MockVectorIndex) Count(ctx context.Context) (int, error) {
	if m.CountFn != nil {
		return m.CountFn()
	}
	return 0, nil
}

func (m *MockVectorIndex) Stats(ctx context.Context) (*domain.IndexStats, error) {
	return domain.NewIndexStats("mock"), nil
}

func (m *MockVectorIndex) HealthCheck(ctx context.Context) error {
	if m.HealthFn != nil {
		return m.HealthFn()
	}
	return nil
}
