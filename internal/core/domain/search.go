package domain

import (
	"slices"
	"time"
)

// QueryPlan is the structured retrieval intent inferred from a question.
// Empty ChunkType or Category means no filter on that field.
type QueryPlan struct {
	ChunkType       ChunkType  `json:"chunk_type,omitempty"`
	Category        Category   `json:"category,omitempty"`
	Categories      []Category `json:"categories,omitempty"` // Comparison across categories
	IgnoreTier      bool       `json:"ignore_tier"`
	NeedsComparison bool       `json:"needs_comparison"`
	Fallback        bool       `json:"fallback,omitempty"` // Planner output was unusable
}

// DefaultQueryPlan is the unfiltered plan used when planning fails
func DefaultQueryPlan() QueryPlan {
	return QueryPlan{
		IgnoreTier: true,
		Fallback:   true,
	}
}

// PlannedCategories returns the distinct categories the planned tier should search
func (p QueryPlan) PlannedCategories() []Category {
	var out []Category
	if p.Category != "" {
		out = append(out, p.Category)
	}
	for _, c := range p.Categories {
		if c != "" && !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	return out
}

// RetrievalTier names the fallback level that produced a result
type RetrievalTier string

const (
	RetrievalTierPlanned RetrievalTier = "planned"
	RetrievalTierRelaxed RetrievalTier = "relaxed"
	RetrievalTierGlobal  RetrievalTier = "global"
)

// ChunkFilter restricts an index query.
// HMO and Tier match records whose field equals the value or is unset.
type ChunkFilter struct {
	ChunkType ChunkType `json:"chunk_type,omitempty"`
	Category  Category  `json:"category,omitempty"`
	HMO       HMO       `json:"hmo,omitempty"`
	Tier      Tier      `json:"tier,omitempty"`
}

// Matches reports whether record metadata satisfies the filter
func (f ChunkFilter) Matches(meta map[string]string) bool {
	if f.ChunkType != "" && meta["type"] != string(f.ChunkType) {
		return false
	}
	if f.Category != "" && meta["category"] != string(f.Category) {
		return false
	}
	if f.HMO != "" {
		if h := meta["hmo"]; h != "" && h != string(f.HMO) {
			return false
		}
	}
	if f.Tier != "" {
		if t := meta["tier"]; t != "" && t != string(f.Tier) {
			return false
		}
	}
	return true
}

// IsEmpty returns true if the filter matches every record
func (f ChunkFilter) IsEmpty() bool {
	return f == ChunkFilter{}
}

// ScoredChunk is a chunk with its cosine similarity to the question
type ScoredChunk struct {
	Chunk *Chunk  `json:"chunk"`
	Score float64 `json:"score"`
}

// SortScored orders by descending score, breaking ties with CompareChunks
func SortScored(results []*ScoredChunk) {
	slices.SortStableFunc(results, func(a, b *ScoredChunk) int {
		if a.Score > b.Score {
			return -1
		}
		if a.Score < b.Score {
			return 1
		}
		return CompareChunks(a.Chunk, b.Chunk)
	})
}

// RetrievalResult is the ranked context window for one question
type RetrievalResult struct {
	Chunks []*ScoredChunk `json:"chunks"`
	Tier   RetrievalTier  `json:"tier"`
	Plan   QueryPlan      `json:"plan"`
	Took   time.Duration  `json:"took" swaggertype:"integer" example:"1500000"`
}

// IsEmpty returns true if nothing was retrieved
func (r *RetrievalResult) IsEmpty() bool {
	return r == nil || len(r.Chunks) == 0
}
