package domain

import (
	"testing"
)

func TestDefaultQueryPlan(t *testing.T) {
	plan := DefaultQueryPlan()

	if plan.ChunkType != "" || plan.Category != "" {
		t.Errorf("expected no filters, got %+v", plan)
	}
	if !plan.IgnoreTier {
		t.Error("expected default plan to ignore tier")
	}
	if plan.NeedsComparison {
		t.Error("expected default plan without comparison")
	}
	if !plan.Fallback {
		t.Error("expected default plan to be marked as fallback")
	}
}

func TestQueryPlan_PlannedCategories(t *testing.T) {
	plan := QueryPlan{
		Category:   CategoryDental,
		Categories: []Category{CategoryDental, CategoryOptometry, ""},
	}

	got := plan.PlannedCategories()
	if len(got) != 2 || got[0] != CategoryDental || got[1] != CategoryOptometry {
		t.Errorf("unexpected categories %v", got)
	}

	if len(QueryPlan{}.PlannedCategories()) != 0 {
		t.Error("expected no categories for empty plan")
	}
}

func TestChunkFilter_Matches(t *testing.T) {
	benefit := NewChunk(ChunkTypeBenefit, CategoryDental, HMOMaccabi, TierGold).Metadata()
	context := NewChunk(ChunkTypeContext, CategoryDental, "", "").Metadata()
	contact := NewChunk(ChunkTypeContact, CategoryDental, HMOMaccabi, "").Metadata()

	tests := []struct {
		name   string
		filter ChunkFilter
		meta   map[string]string
		want   bool
	}{
		{"empty filter", ChunkFilter{}, benefit, true},
		{"exact hmo and tier", ChunkFilter{HMO: HMOMaccabi, Tier: TierGold}, benefit, true},
		{"other tier", ChunkFilter{HMO: HMOMaccabi, Tier: TierSilver}, benefit, false},
		{"other hmo", ChunkFilter{HMO: HMOClalit}, benefit, false},
		{"context wildcard", ChunkFilter{HMO: HMOClalit, Tier: TierBronze}, context, true},
		{"contact tier wildcard", ChunkFilter{HMO: HMOMaccabi, Tier: TierBronze}, contact, true},
		{"contact other hmo", ChunkFilter{HMO: HMOClalit}, contact, false},
		{"chunk type", ChunkFilter{ChunkType: ChunkTypeBenefit}, context, false},
		{"category", ChunkFilter{Category: CategoryOptometry}, benefit, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(tt.meta); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSortScored_TieBreak(t *testing.T) {
	contact := &ScoredChunk{Chunk: NewChunk(ChunkTypeContact, CategoryDental, HMOMaccabi, ""), Score: 0.8}
	silver := &ScoredChunk{Chunk: NewChunk(ChunkTypeBenefit, CategoryDental, HMOMaccabi, TierSilver), Score: 0.8}
	gold := &ScoredChunk{Chunk: NewChunk(ChunkTypeBenefit, CategoryDental, HMOMaccabi, TierGold), Score: 0.8}
	best := &ScoredChunk{Chunk: NewChunk(ChunkTypeContext, CategoryDental, "", ""), Score: 0.9}

	orders := [][]*ScoredChunk{
		{contact, silver, gold, best},
		{gold, best, contact, silver},
		{silver, contact, best, gold},
	}

	for _, results := range orders {
		SortScored(results)
		want := []*ScoredChunk{best, gold, silver, contact}
		for i := range want {
			if results[i] != want[i] {
				t.Fatalf("position %d: got %s, want %s", i,
					ChunkKey(results[i].Chunk.Type, results[i].Chunk.Category, results[i].Chunk.HMO, results[i].Chunk.Tier),
					ChunkKey(want[i].Chunk.Type, want[i].Chunk.Category, want[i].Chunk.HMO, want[i].Chunk.Tier))
			}
		}
	}
}

func TestRetrievalResult_IsEmpty(t *testing.T) {
	var nilResult *RetrievalResult
	if !nilResult.IsEmpty() {
		t.Error("expected nil result to be empty")
	}
	if !(&RetrievalResult{}).IsEmpty() {
		t.Error("expected result without chunks to be empty")
	}
}
