package domain

import (
	"context"
	"strings"
)

// Language is the conversation language
type Language string

const (
	LanguageHebrew  Language = "he"
	LanguageEnglish Language = "en"
)

// IsValid returns true if this is a supported language
func (l Language) IsValid() bool {
	return l == LanguageHebrew || l == LanguageEnglish
}

// ParseLanguage normalizes a language tag, defaulting to Hebrew
func ParseLanguage(s string) (Language, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return LanguageHebrew, true
	}
	if l := Language(s); l.IsValid() {
		return l, true
	}
	return "", false
}

// Role is the author of a conversation message
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// TruncateHistory keeps the most recent max messages
func TruncateHistory(history []Message, max int) []Message {
	if max <= 0 || len(history) <= max {
		return history
	}
	return history[len(history)-max:]
}

// AnswerRequest is a benefit question scoped to a member profile
type AnswerRequest struct {
	Question string       `json:"question"`
	HMO      HMO          `json:"hmo"`
	Tier     Tier         `json:"tier"`
	History  []Message    `json:"history,omitempty"`
	Language Language     `json:"language"`
	Profile  *UserProfile `json:"profile,omitempty"`
}

// Validate checks the request shape at the boundary
func (r *AnswerRequest) Validate() error {
	if strings.TrimSpace(r.Question) == "" {
		return NewValidationError("question", "question is required")
	}
	if !r.HMO.IsValid() {
		return NewValidationError("hmo", "hmo must be one of maccabi, meuhedet, clalit")
	}
	if !r.Tier.IsValid() {
		return NewValidationError("tier", "tier must be one of gold, silver, bronze")
	}
	if !r.Language.IsValid() {
		return NewValidationError("language", "language must be he or en")
	}
	for _, m := range r.History {
		if m.Role != RoleUser && m.Role != RoleAssistant {
			return NewValidationError("history", "history roles must be user or assistant")
		}
	}
	return nil
}

// Source attributes an answer to a retrieved chunk
type Source struct {
	ChunkID  string    `json:"chunk_id"`
	Type     ChunkType `json:"type"`
	Category Category  `json:"category"`
	HMO      HMO       `json:"hmo,omitempty"`
	Tier     Tier      `json:"tier,omitempty"`
	Score    float64   `json:"score"`
}

// SourceFromScored builds a citation from retrieval metadata only
func SourceFromScored(sc *ScoredChunk) Source {
	return Source{
		ChunkID:  sc.Chunk.ID,
		Type:     sc.Chunk.Type,
		Category: sc.Chunk.Category,
		HMO:      sc.Chunk.HMO,
		Tier:     sc.Chunk.Tier,
		Score:    sc.Score,
	}
}

// Diagnostics describes how an answer was produced
type Diagnostics struct {
	TokensUsed      int           `json:"tokens_used"`
	ChunksRetrieved int           `json:"chunks_retrieved"`
	TopK            int           `json:"top_k"`
	RetrievalTier   RetrievalTier `json:"retrieval_tier"`
	Plan            QueryPlan     `json:"plan"`
	CorrelationID   string        `json:"correlation_id,omitempty"`
	TookMs          int64         `json:"took_ms"`
}

// Answer is the grounded response to a question
type Answer struct {
	Text        string      `json:"answer"`
	Sources     []Source    `json:"sources"`
	Diagnostics Diagnostics `json:"diagnostics"`
}

// LLM exchange types

// CompletionOptions tunes a single completion call
type CompletionOptions struct {
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// Completion is the model output for one call
type Completion struct {
	Content      string `json:"content"`
	TokensUsed   int    `json:"tokens_used"`
	FinishReason string `json:"finish_reason"`
}

type correlationKey struct{}

// WithCorrelationID attaches a request correlation ID to the context
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the request correlation ID, if any
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}
