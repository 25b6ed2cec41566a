package driving

import (
	"context"

	"github.com/custodia-labs/hmo-assist/internal/core/domain"
)

// IngestionService builds the vector index from source documents
type IngestionService interface {
	// Ingest chunks, embeds and indexes documents, replacing the index.
	// Any failure aborts the run before the index is touched.
	Ingest(ctx context.Context, docs []*domain.SourceDocument) (*domain.IngestionReport, error)

	// Stats returns the current index statistics
	Stats(ctx context.Context) (*domain.IndexStats, error)
}

// HealthService reports dependency health
type HealthService interface {
	// Check probes the index and model services
	Check(ctx context.Context) *domain.HealthReport

	// Ready returns nil when the index is reachable and non-empty
	Ready(ctx context.Context) error
}
