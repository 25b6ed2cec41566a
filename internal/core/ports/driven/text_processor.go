package driven

import "github.com/custodia-labs/hmo-assist/internal/core/domain"

// TextProcessor normalizes chunk text before embedding.
// Processors form a pipeline: whitespace -> markup -> language tag.
type TextProcessor interface {
	// Process returns the chunks with normalized content.
	// It never adds or removes chunks.
	Process(chunks []*domain.Chunk) []*domain.Chunk

	// Name returns the processor name for logging/debugging.
	Name() string

	// Order returns the processor order in the pipeline (lower = earlier).
	Order() int
}

// TextPipeline chains text processors by Order
type TextPipeline interface {
	// Add registers a processor
	Add(processor TextProcessor)

	// Process applies every processor in order
	Process(chunks []*domain.Chunk) []*domain.Chunk

	// List returns processor names in order
	List() []string
}
