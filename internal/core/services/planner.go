package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/custodia-labs/hmo-assist/internal/core/domain"
	"github.com/custodia-labs/hmo-assist/internal/logging"
	"github.com/custodia-labs/hmo-assist/internal/metrics"
	"github.com/custodia-labs/hmo-assist/internal/runtime"
)

const (
	plannerMaxTokens   = 150
	plannerHistorySize = 4
)

// planSchema is the closed shape of planner output
var planSchema = mustJSONValidator(map[string]any{
	"type": "object",
	"properties": map[string]any{
		"chunk_type": map[string]any{"enum": enumOf(domain.AllChunkTypes, true)},
		"category":   map[string]any{"enum": enumOf(domain.AllCategories, true)},
		"categories": map[string]any{
			"type":  []any{"array", "null"},
			"items": map[string]any{"enum": enumOf(domain.AllCategories, false)},
		},
		"ignore_tier":      map[string]any{"type": "boolean"},
		"needs_comparison": map[string]any{"type": "boolean"},
	},
	"required":             []any{"ignore_tier", "needs_comparison"},
	"additionalProperties": false,
})

const plannerPrompt = `Analyze the member's question about health-fund benefits and choose retrieval filters.

Chunk types:
- "benefit": specific service benefits (discounts, coverage, limits)
- "contact": contact details (phone numbers, websites)
- "context": general background about a service category

Categories: "dental", "optometry", "alternative", "communication", "pregnancy", "workshops"

Output ONLY a JSON object:
{"chunk_type": "benefit" | "contact" | "context" | null,
 "category": <category> | null,
 "categories": [<category>, ...] | null,
 "ignore_tier": true | false,
 "needs_comparison": true | false}

Rules:
- "contact" when the member asks how to call, reach or contact someone; contact questions set "ignore_tier": true
- "needs_comparison": true when comparing tiers (gold vs silver) or health funds; tier comparisons set "ignore_tier": true
- "categories" only when the question compares two or more categories
- use null for any field that should not filter

Examples:
"What's Maccabi's phone number?" -> {"chunk_type": "contact", "category": null, "ignore_tier": true, "needs_comparison": false}
"How much is acupuncture?" -> {"chunk_type": "benefit", "category": "alternative", "ignore_tier": false, "needs_comparison": false}
"מה ההבדל בין זהב לכסף בטיפולי שיניים?" -> {"chunk_type": "benefit", "category": "dental", "ignore_tier": true, "needs_comparison": true}
"Tell me about alternative medicine" -> {"chunk_type": "context", "category": "alternative", "ignore_tier": true, "needs_comparison": false}`

// rawPlan mirrors planner JSON; pointers tell null from absent
type rawPlan struct {
	ChunkType       *string  `json:"chunk_type"`
	Category        *string  `json:"category"`
	Categories      []string `json:"categories"`
	IgnoreTier      bool     `json:"ignore_tier"`
	NeedsComparison bool     `json:"needs_comparison"`
}

// Planner turns a question into a retrieval plan with one LLM call.
// It never fails: any problem yields domain.DefaultQueryPlan.
type Planner struct {
	services    *runtime.Services
	temperature float64
	logger      *zap.Logger
}

// NewPlanner creates a planner. Temperature is clamped to [0, 0.1].
func NewPlanner(services *runtime.Services, temperature float64, logger *zap.Logger) *Planner {
	return &Planner{
		services:    services,
		temperature: min(max(temperature, 0), 0.1),
		logger:      logging.OrNop(logger),
	}
}

// Plan returns the retrieval plan and the tokens the planner call used.
func (p *Planner) Plan(ctx context.Context, question string, history []domain.Message) (domain.QueryPlan, int) {
	llm := p.services.LLMService()
	if llm == nil {
		return p.fallback("unavailable", domain.ErrServiceUnavailable), 0
	}

	messages := []domain.Message{
		{Role: domain.RoleSystem, Content: plannerPrompt},
		{Role: domain.RoleUser, Content: plannerInput(question, history)},
	}
	completion, err := llm.Complete(ctx, messages, domain.CompletionOptions{
		Temperature: p.temperature,
		MaxTokens:   plannerMaxTokens,
	})
	if err != nil {
		return p.fallback("upstream", err), 0
	}

	plan, reason, err := ParsePlan(completion.Content)
	if err != nil {
		return p.fallback(reason, err), completion.TokensUsed
	}

	p.logger.Debug("query planned",
		zap.String("chunk_type", string(plan.ChunkType)),
		zap.String("category", string(plan.Category)),
		zap.Bool("ignore_tier", plan.IgnoreTier),
		zap.Bool("needs_comparison", plan.NeedsComparison),
	)
	return plan, completion.TokensUsed
}

func (p *Planner) fallback(reason string, err error) domain.QueryPlan {
	metrics.PlannerFallbacks.WithLabelValues(reason).Inc()
	p.logger.Warn("query planning fell back to default plan", zap.String("reason", reason), zap.Error(err))
	return domain.DefaultQueryPlan()
}

// plannerInput prefixes the question with the last few turns so follow-ups
// like "and for silver?" keep their subject
func plannerInput(question string, history []domain.Message) string {
	recent := domain.TruncateHistory(history, plannerHistorySize)
	if len(recent) == 0 {
		return question
	}
	var b strings.Builder
	b.WriteString("Recent conversation:\n")
	for _, m := range recent {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	fmt.Fprintf(&b, "\nQuestion: %s", question)
	return b.String()
}

// ParsePlan cleans, validates and decodes planner output. On failure it
// returns the fallback reason ("parse" or "schema") with the error.
func ParsePlan(content string) (domain.QueryPlan, string, error) {
	cleaned := cleanJSON(content)
	if !json.Valid([]byte(cleaned)) {
		return domain.QueryPlan{}, "parse", fmt.Errorf("planner output is not JSON: %q", content)
	}
	if err := planSchema.Validate(cleaned); err != nil {
		return domain.QueryPlan{}, "schema", err
	}

	var raw rawPlan
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return domain.QueryPlan{}, "parse", err
	}

	plan := domain.QueryPlan{
		IgnoreTier:      raw.IgnoreTier,
		NeedsComparison: raw.NeedsComparison,
	}
	if raw.ChunkType != nil {
		plan.ChunkType = domain.ChunkType(*raw.ChunkType)
	}
	if raw.Category != nil {
		plan.Category = domain.Category(*raw.Category)
	}
	for _, c := range raw.Categories {
		plan.Categories = append(plan.Categories, domain.Category(c))
	}
	return plan, "", nil
}
