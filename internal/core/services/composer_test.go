package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/hmo-assist/internal/core/domain"
	"github.com/custodia-labs/hmo-assist/internal/core/ports/driven/mocks"
)

func scored(score float64, r *domain.EmbeddingRecord) *domain.ScoredChunk {
	return &domain.ScoredChunk{Chunk: r.Chunk(), Score: score}
}

func plannedResult() *domain.RetrievalResult {
	return &domain.RetrievalResult{
		Tier: domain.RetrievalTierPlanned,
		Chunks: []*domain.ScoredChunk{
			scored(0.9, record(domain.ChunkTypeBenefit, domain.CategoryDental, domain.HMOMaccabi, domain.TierGold)),
			scored(0.7, record(domain.ChunkTypeContext, domain.CategoryDental, "", "")),
			scored(0.4, record(domain.ChunkTypeContact, domain.CategoryDental, domain.HMOMaccabi, "")),
		},
	}
}

func TestComposer_Compose(t *testing.T) {
	llm := mocks.NewMockLLMService("  ניקוי שיניים כלול בהנחה של 80%.  ")
	c := NewComposer(newTestServices(nil, llm), nil)

	history := []domain.Message{
		{Role: domain.RoleUser, Content: "שלום"},
		{Role: domain.RoleAssistant, Content: "שלום! במה אפשר לעזור?"},
	}
	got, err := c.Compose(context.Background(), ComposeInput{
		Question: "כמה עולה ניקוי שיניים?",
		Result:   plannedResult(),
		History:  history,
		Language: domain.LanguageHebrew,
		HMO:      domain.HMOMaccabi,
		Tier:     domain.TierGold,
	})
	require.NoError(t, err)

	assert.Equal(t, "ניקוי שיניים כלול בהנחה של 80%.", got.Text)
	assert.Equal(t, 10, got.TokensUsed)
	require.Len(t, got.Sources, 3)
	assert.Equal(t, domain.ChunkTypeBenefit, got.Sources[0].Type)
	assert.Equal(t, domain.TierGold, got.Sources[0].Tier)
	assert.Equal(t, 0.9, got.Sources[0].Score)

	req := llm.Requests()[0]
	assert.Equal(t, 0.3, req.Options.Temperature)
	assert.Equal(t, 800, req.Options.MaxTokens)
	require.Len(t, req.Messages, 4)
	assert.Equal(t, domain.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, history, req.Messages[1:3])
	assert.Equal(t, "כמה עולה ניקוי שיניים?", req.Messages[3].Content)

	prompt := req.Messages[0].Content
	assert.Contains(t, prompt, "קופת חולים: מכבי")
	assert.Contains(t, prompt, "מסלול ביטוח: זהב")
	assert.Contains(t, prompt, "[קטגוריה: dental | קופה: מכבי | מסלול: זהב]\nbenefit/dental/maccabi/gold")
	assert.Contains(t, prompt, "[הקשר כללי - dental]")
	assert.Contains(t, prompt, "[פרטי התקשרות - dental | מכבי]")
	assert.NotContains(t, prompt, "שים לב")
}

func TestComposer_EmptyResultSkipsModel(t *testing.T) {
	llm := mocks.NewMockLLMService("should not be used")
	c := NewComposer(newTestServices(nil, llm), nil)

	for _, lang := range []domain.Language{domain.LanguageHebrew, domain.LanguageEnglish} {
		got, err := c.Compose(context.Background(), ComposeInput{
			Question: "q",
			Result:   &domain.RetrievalResult{Tier: domain.RetrievalTierGlobal},
			Language: lang,
			HMO:      domain.HMOMaccabi,
			Tier:     domain.TierGold,
		})
		require.NoError(t, err)
		assert.Equal(t, NotFoundAnswer(lang), got.Text)
		assert.Empty(t, got.Sources)
		assert.NotNil(t, got.Sources)
	}
	assert.Empty(t, llm.Requests())
	assert.NotEqual(t, NotFoundAnswer(domain.LanguageHebrew), NotFoundAnswer(domain.LanguageEnglish))
}

func TestBuildAnswerPrompt_MismatchNotice(t *testing.T) {
	result := plannedResult()
	in := ComposeInput{Question: "q", Result: result, Language: domain.LanguageEnglish, HMO: domain.HMOClalit, Tier: domain.TierBronze}

	assert.NotContains(t, BuildAnswerPrompt(in), "No information matched")

	for _, tier := range []domain.RetrievalTier{domain.RetrievalTierRelaxed, domain.RetrievalTierGlobal} {
		result.Tier = tier
		prompt := BuildAnswerPrompt(in)
		assert.Contains(t, prompt, "No information matched the user's exact HMO and tier")
		assert.Contains(t, prompt, "- HMO: Clalit")
		assert.Contains(t, prompt, "- Insurance Tier: Bronze")
		assert.Contains(t, prompt, "Answer in English.")
	}
}

func TestFormatChunks_WildcardLabels(t *testing.T) {
	chunks := []*domain.ScoredChunk{
		scored(1, record(domain.ChunkTypeBenefit, domain.CategoryOptometry, "", "")),
		scored(1, record(domain.ChunkTypeContact, domain.CategoryOptometry, "", "")),
	}

	en := FormatChunks(chunks, domain.LanguageEnglish)
	assert.Contains(t, en, "[Category: optometry | HMO: All HMOs | Tier: All Tiers]")
	assert.Contains(t, en, "\n---\n[Contact Info - optometry | All HMOs]")

	he := FormatChunks(chunks, domain.LanguageHebrew)
	assert.Contains(t, he, "קופה: כל הקופות | מסלול: כל המסלולים")
}

func TestBuildSources_SortedByScore(t *testing.T) {
	result := &domain.RetrievalResult{Chunks: []*domain.ScoredChunk{
		scored(0.2, record(domain.ChunkTypeContext, domain.CategoryDental, "", "")),
		scored(0.8, record(domain.ChunkTypeBenefit, domain.CategoryDental, domain.HMOClalit, domain.TierSilver)),
		scored(0.5, record(domain.ChunkTypeContact, domain.CategoryDental, domain.HMOClalit, "")),
	}}

	sources := BuildSources(result)
	require.Len(t, sources, 3)
	assert.Equal(t, []float64{0.8, 0.5, 0.2}, []float64{sources[0].Score, sources[1].Score, sources[2].Score})
	for i, s := range sources {
		assert.NotEmpty(t, s.ChunkID, "source %d", i)
		assert.Equal(t, domain.CategoryDental, s.Category)
	}
}

func TestComposer_Failures(t *testing.T) {
	t.Run("no llm", func(t *testing.T) {
		_, err := NewComposer(newTestServices(nil, nil), nil).Compose(context.Background(), ComposeInput{Result: plannedResult()})
		assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
	})

	t.Run("upstream exhausted", func(t *testing.T) {
		llm := mocks.NewMockLLMService()
		llm.CompleteFn = func([]domain.Message, domain.CompletionOptions) (*domain.Completion, error) {
			return nil, &domain.UpstreamError{Service: "llm", StatusCode: 503, Message: "overloaded", Transient: true}
		}
		_, err := NewComposer(newTestServices(nil, llm), nil).Compose(context.Background(), ComposeInput{Result: plannedResult()})
		assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
		assert.Len(t, llm.Requests(), 3)
	})
}
