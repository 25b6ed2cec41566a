package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/custodia-labs/hmo-assist/internal/core/domain"
	"github.com/custodia-labs/hmo-assist/internal/core/ports/driven"
	"github.com/custodia-labs/hmo-assist/internal/logging"
)

// DefaultTopK is the number of chunks handed to the composer
const DefaultTopK = 5

// RetrievalQuery is one question resolved against the member profile
type RetrievalQuery struct {
	Vector []float32
	Plan   domain.QueryPlan
	HMO    domain.HMO
	Tier   domain.Tier
}

// retrievalStrategy produces the filters one fallback tier searches with.
// More than one filter means the tier merges several queries.
type retrievalStrategy struct {
	tier    domain.RetrievalTier
	filters func(q RetrievalQuery) []domain.ChunkFilter
}

// strategies are tried in order; the first with any result wins
var strategies = []retrievalStrategy{
	{tier: domain.RetrievalTierPlanned, filters: plannedFilters},
	{tier: domain.RetrievalTierRelaxed, filters: func(q RetrievalQuery) []domain.ChunkFilter {
		return []domain.ChunkFilter{{HMO: q.HMO}}
	}},
	{tier: domain.RetrievalTierGlobal, filters: func(RetrievalQuery) []domain.ChunkFilter {
		return []domain.ChunkFilter{{}}
	}},
}

// plannedFilters applies the full plan. Comparisons drop the tier filter so
// sibling tiers are visible, and multi-category plans get one filter each.
func plannedFilters(q RetrievalQuery) []domain.ChunkFilter {
	base := domain.ChunkFilter{
		ChunkType: q.Plan.ChunkType,
		HMO:       q.HMO,
	}
	if !q.Plan.IgnoreTier && !q.Plan.NeedsComparison {
		base.Tier = q.Tier
	}

	categories := q.Plan.PlannedCategories()
	if len(categories) <= 1 {
		if len(categories) == 1 {
			base.Category = categories[0]
		}
		return []domain.ChunkFilter{base}
	}

	filters := make([]domain.ChunkFilter, len(categories))
	for i, c := range categories {
		f := base
		f.Category = c
		filters[i] = f
	}
	return filters
}

// Retriever runs the planned, relaxed and global tiers against the index
type Retriever struct {
	index  driven.VectorIndex
	topK   int
	logger *zap.Logger
}

// NewRetriever creates a retriever. A non-positive topK uses DefaultTopK.
func NewRetriever(index driven.VectorIndex, topK int, logger *zap.Logger) *Retriever {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Retriever{index: index, topK: topK, logger: logging.OrNop(logger)}
}

// TopK returns the per-query result limit
func (r *Retriever) TopK() int {
	return r.topK
}

// Retrieve returns the first non-empty tier. An empty index yields an
// empty global result, not an error.
func (r *Retriever) Retrieve(ctx context.Context, q RetrievalQuery) (*domain.RetrievalResult, error) {
	start := time.Now()

	var (
		chunks []*domain.ScoredChunk
		tier   domain.RetrievalTier
	)
	for _, s := range strategies {
		tier = s.tier
		found, err := r.search(ctx, q.Vector, s.filters(q))
		if err != nil {
			return nil, fmt.Errorf("%s retrieval: %w", s.tier, err)
		}
		if len(found) > 0 {
			chunks = found
			break
		}
		r.logger.Debug("retrieval tier empty", zap.String("tier", string(s.tier)))
	}

	result := &domain.RetrievalResult{
		Chunks: chunks,
		Tier:   tier,
		Plan:   q.Plan,
		Took:   time.Since(start),
	}
	r.logger.Debug("retrieved chunks",
		zap.String("tier", string(tier)),
		zap.Int("count", len(chunks)),
		zap.Duration("took", result.Took),
	)
	return result, nil
}

// search runs every filter with topK and merges. Merged results keep at
// most 2×topK so a comparison still fits the prompt.
func (r *Retriever) search(ctx context.Context, vector []float32, filters []domain.ChunkFilter) ([]*domain.ScoredChunk, error) {
	if len(filters) == 1 {
		return r.query(ctx, vector, filters[0])
	}

	seen := make(map[string]bool)
	var merged []*domain.ScoredChunk
	for _, f := range filters {
		found, err := r.query(ctx, vector, f)
		if err != nil {
			return nil, err
		}
		for _, sc := range found {
			if seen[sc.Chunk.ID] {
				continue
			}
			seen[sc.Chunk.ID] = true
			merged = append(merged, sc)
		}
	}
	domain.SortScored(merged)
	if limit := 2 * r.topK; len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

func (r *Retriever) query(ctx context.Context, vector []float32, f domain.ChunkFilter) ([]*domain.ScoredChunk, error) {
	found, err := r.index.Query(ctx, vector, f, r.topK)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrIndexUnavailable, err)
	}
	return found, nil
}
