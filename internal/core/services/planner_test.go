package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/hmo-assist/internal/core/domain"
	"github.com/custodia-labs/hmo-assist/internal/core/ports/driven/mocks"
)

func TestParsePlan(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    domain.QueryPlan
	}{
		{
			name:    "plain json",
			content: `{"chunk_type": "benefit", "category": "dental", "ignore_tier": false, "needs_comparison": false}`,
			want:    domain.QueryPlan{ChunkType: domain.ChunkTypeBenefit, Category: domain.CategoryDental},
		},
		{
			name:    "fenced with nulls",
			content: "```json\n{\"chunk_type\": \"contact\", \"category\": null, \"ignore_tier\": true, \"needs_comparison\": false}\n```",
			want:    domain.QueryPlan{ChunkType: domain.ChunkTypeContact, IgnoreTier: true},
		},
		{
			name:    "prose around object",
			content: `Here is the plan: {"chunk_type": null, "category": "optometry", "ignore_tier": true, "needs_comparison": true} hope it helps`,
			want:    domain.QueryPlan{Category: domain.CategoryOptometry, IgnoreTier: true, NeedsComparison: true},
		},
		{
			name:    "category comparison",
			content: `{"chunk_type": "benefit", "category": null, "categories": ["dental", "optometry"], "ignore_tier": false, "needs_comparison": true}`,
			want: domain.QueryPlan{
				ChunkType:       domain.ChunkTypeBenefit,
				Categories:      []domain.Category{domain.CategoryDental, domain.CategoryOptometry},
				NeedsComparison: true,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _, err := ParsePlan(tt.content)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePlan_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
		reason  string
	}{
		{"not json", "I think you want dental benefits", "parse"},
		{"truncated", `{"chunk_type": "benefit", "category"`, "parse"},
		{"unknown chunk type", `{"chunk_type": "pricing", "category": null, "ignore_tier": false, "needs_comparison": false}`, "schema"},
		{"unknown category", `{"chunk_type": null, "category": "cardiology", "ignore_tier": false, "needs_comparison": false}`, "schema"},
		{"string boolean", `{"chunk_type": null, "category": null, "ignore_tier": "yes", "needs_comparison": false}`, "schema"},
		{"missing flag", `{"chunk_type": null, "category": null, "ignore_tier": true}`, "schema"},
		{"extra property", `{"chunk_type": null, "category": null, "ignore_tier": true, "needs_comparison": false, "hmo": "maccabi"}`, "schema"},
		{"array", `[1, 2]`, "schema"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, reason, err := ParsePlan(tt.content)
			require.Error(t, err)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestPlanner_Plan(t *testing.T) {
	llm := mocks.NewMockLLMService(`{"chunk_type": "benefit", "category": "dental", "ignore_tier": false, "needs_comparison": false}`)
	p := NewPlanner(newTestServices(nil, llm), 0, nil)

	plan, tokens := p.Plan(context.Background(), "כמה עולה ניקוי שיניים?", nil)

	assert.Equal(t, domain.QueryPlan{ChunkType: domain.ChunkTypeBenefit, Category: domain.CategoryDental}, plan)
	assert.Equal(t, 10, tokens)

	reqs := llm.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, 0.0, reqs[0].Options.Temperature)
	assert.Equal(t, 150, reqs[0].Options.MaxTokens)
	assert.Equal(t, domain.RoleSystem, reqs[0].Messages[0].Role)
	assert.Equal(t, "כמה עולה ניקוי שיניים?", reqs[0].Messages[1].Content)
}

func TestPlanner_TemperatureClamped(t *testing.T) {
	llm := mocks.NewMockLLMService(`{}`)
	NewPlanner(newTestServices(nil, llm), 0.7, nil).Plan(context.Background(), "q", nil)
	assert.Equal(t, 0.1, llm.Requests()[0].Options.Temperature)
}

func TestPlanner_IncludesRecentHistory(t *testing.T) {
	llm := mocks.NewMockLLMService(`{"chunk_type": null, "category": null, "ignore_tier": true, "needs_comparison": false}`)
	p := NewPlanner(newTestServices(nil, llm), 0, nil)

	history := []domain.Message{
		{Role: domain.RoleUser, Content: "turn-1"},
		{Role: domain.RoleAssistant, Content: "turn-2"},
		{Role: domain.RoleUser, Content: "turn-3"},
		{Role: domain.RoleAssistant, Content: "turn-4"},
		{Role: domain.RoleUser, Content: "turn-5"},
	}
	p.Plan(context.Background(), "and for silver?", history)

	input := llm.Requests()[0].Messages[1].Content
	assert.NotContains(t, input, "turn-1")
	assert.Contains(t, input, "assistant: turn-4")
	assert.True(t, strings.HasSuffix(input, "Question: and for silver?"))
}

func TestPlanner_FallsBackToDefault(t *testing.T) {
	t.Run("malformed output", func(t *testing.T) {
		llm := mocks.NewMockLLMService("sure! dental")
		plan, _ := NewPlanner(newTestServices(nil, llm), 0, nil).Plan(context.Background(), "q", nil)
		assert.Equal(t, domain.DefaultQueryPlan(), plan)
	})

	t.Run("upstream error", func(t *testing.T) {
		llm := mocks.NewMockLLMService()
		llm.CompleteFn = func([]domain.Message, domain.CompletionOptions) (*domain.Completion, error) {
			return nil, &domain.UpstreamError{Service: "llm", StatusCode: 400, Message: "bad request"}
		}
		plan, tokens := NewPlanner(newTestServices(nil, llm), 0, nil).Plan(context.Background(), "q", nil)
		assert.Equal(t, domain.DefaultQueryPlan(), plan)
		assert.Zero(t, tokens)
	})

	t.Run("no llm configured", func(t *testing.T) {
		plan, _ := NewPlanner(newTestServices(nil, nil), 0, nil).Plan(context.Background(), "q", nil)
		assert.True(t, plan.Fallback)
		assert.True(t, plan.IgnoreTier)
		assert.Empty(t, plan.ChunkType)
		assert.Empty(t, plan.Category)
	})
}
