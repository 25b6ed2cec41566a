package driven

import (
	"context"
)

// EmbeddingService turns text into vectors.
// Vectors from Embed and EmbedQuery must be comparable by cosine similarity.
type EmbeddingService interface {
	// Embed generates one vector per input text, in input order.
	// Callers keep batches at or below the provider limit.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates the vector for a member question
	EmbedQuery(ctx context.Context, query string) ([]float32, error)

	// Dimensions returns the embedding dimension size
	Dimensions() int

	// Model returns the model or deployment name
	Model() string

	// HealthCheck verifies the embedding service is available
	HealthCheck(ctx context.Context) error

	// Close releases resources held by the embedding service
	Close() error
}
