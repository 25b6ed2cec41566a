// Package memory holds in-process adapters used for single-instance
// deployments and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/custodia-labs/hmo-assist/internal/core/domain"
	"github.com/custodia-labs/hmo-assist/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.VectorIndex = (*Index)(nil)

// Index is a brute-force cosine index held in memory.
type Index struct {
	mu      sync.RWMutex
	records map[string]*domain.EmbeddingRecord
	order   []string // Insertion order keeps scans deterministic
}

// NewIndex creates an empty in-memory index.
func NewIndex() *Index {
	return &Index{records: make(map[string]*domain.EmbeddingRecord)}
}

// Upsert writes records, replacing any with the same chunk ID.
func (x *Index) Upsert(_ context.Context, records []*domain.EmbeddingRecord) error {
	if err := validateRecords(records); err != nil {
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	for _, r := range records {
		if _, ok := x.records[r.ChunkID]; !ok {
			x.order = append(x.order, r.ChunkID)
		}
		x.records[r.ChunkID] = r
	}
	return nil
}

// Replace swaps the whole index contents under one write lock.
func (x *Index) Replace(_ context.Context, records []*domain.EmbeddingRecord) error {
	if err := validateRecords(records); err != nil {
		return err
	}

	next := make(map[string]*domain.EmbeddingRecord, len(records))
	order := make([]string, 0, len(records))
	for _, r := range records {
		if _, ok := next[r.ChunkID]; !ok {
			order = append(order, r.ChunkID)
		}
		next[r.ChunkID] = r
	}

	x.mu.Lock()
	x.records = next
	x.order = order
	x.mu.Unlock()
	return nil
}

// Query ranks the records matching filter by cosine similarity.
func (x *Index) Query(ctx context.Context, vector []float32, filter domain.ChunkFilter, topK int) ([]*domain.ScoredChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	x.mu.RLock()
	snapshot := make([]*domain.EmbeddingRecord, 0, len(x.order))
	for _, id := range x.order {
		snapshot = append(snapshot, x.records[id])
	}
	x.mu.RUnlock()

	return domain.RankRecords(snapshot, vector, filter, topK), nil
}

// Count returns the number of stored records.
func (x *Index) Count(_ context.Context) (int, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.records), nil
}

// Stats returns record counts by metadata field.
func (x *Index) Stats(_ context.Context) (*domain.IndexStats, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	stats := domain.NewIndexStats("memory")
	for _, id := range x.order {
		stats.Observe(x.records[id].Metadata)
	}
	return stats, nil
}

// HealthCheck always succeeds for the in-memory index.
func (x *Index) HealthCheck(_ context.Context) error {
	return nil
}

func validateRecords(records []*domain.EmbeddingRecord) error {
	for i, r := range records {
		switch {
		case r == nil:
			return fmt.Errorf("record %d: %w", i, domain.ErrInvalidInput)
		case r.ChunkID == "":
			return fmt.Errorf("record %d: missing chunk id: %w", i, domain.ErrInvalidInput)
		case len(r.Vector) == 0:
			return fmt.Errorf("record %s: empty vector: %w", r.ChunkID, domain.ErrInvalidInput)
		}
	}
	return nil
}
