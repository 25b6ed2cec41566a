package driven

import (
	"context"

	"github.com/custodia-labs/hmo-assist/internal/core/domain"
)

// VectorIndex stores embedding records and answers similarity queries.
// Implementations must be safe for concurrent readers.
type VectorIndex interface {
	// Upsert writes records, replacing any with the same chunk ID
	Upsert(ctx context.Context, records []*domain.EmbeddingRecord) error

	// Replace swaps the whole index contents for records in one step.
	// Readers see either the old set or the new set.
	Replace(ctx context.Context, records []*domain.EmbeddingRecord) error

	// Query returns up to topK records matching filter, ordered by
	// descending cosine similarity with deterministic tie-breaking.
	// No match is an empty result, not an error.
	Query(ctx context.Context, vector []float32, filter domain.ChunkFilter, topK int) ([]*domain.ScoredChunk, error)

	// Count returns the number of stored records
	Count(ctx context.Context) (int, error)

	// Stats returns record counts by metadata field
	Stats(ctx context.Context) (*domain.IndexStats, error)

	// HealthCheck verifies the index backend is reachable
	HealthCheck(ctx context.Context) error
}
