package services

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/custodia-labs/hmo-assist/internal/core/domain"
	"github.com/custodia-labs/hmo-assist/internal/logging"
	"github.com/custodia-labs/hmo-assist/internal/runtime"
)

const (
	composerTemperature = 0.3
	composerMaxTokens   = 800
)

// composerText holds the localized prompt fragments
type composerText struct {
	intro      string
	profile    string
	rules      []string
	mismatch   string
	knowledge  string
	notFound   string
	allHMOs    string
	allTiers   string
	context    string
	benefit    string
	contact    string
	hmoName    func(domain.HMO) string
	tierName   func(domain.Tier) string
	reminderFn func(hmo, tier string) string
}

var composerTexts = map[domain.Language]composerText{
	domain.LanguageHebrew: {
		intro:   "אתה עוזר מומחה לשירותי בריאות שעונה על שאלות על בסיס בסיס הידע שסופק בלבד.",
		profile: "## פרופיל המשתמש:\n- קופת חולים: %s\n- מסלול ביטוח: %s",
		rules: []string{
			"ענה רק על בסיס המידע שסופק למטה. אל תמציא מידע ואל תשתמש בידע כללי.",
			"התמקד בקופה ובמסלול של המשתמש.",
			"צטט מספרים מדויקים: אחוזי הנחה, מחירים ומגבלות.",
			"אם המידע למטה אינו עונה על השאלה, אמור בבירור \"אין לי מידע על כך\" במקום לנחש.",
			"אם המשתמש מבקש השוואה בין מסלולים או קופות, השווה באופן ישיר.",
			"ענה בעברית.",
		},
		mismatch:  "## שים לב:\nלא נמצא מידע התואם בדיוק לקופה ולמסלול של המשתמש. המידע למטה עשוי להתייחס לקופה או למסלול אחרים. ציין זאת במפורש ואל תציג אותו כהטבה של המשתמש.",
		knowledge: "## בסיס הידע (מידע רלוונטי שנמשך):",
		notFound:  "מצטער, אין לי מידע על כך בבסיס הידע. מומלץ לפנות ישירות לקופת החולים שלך.",
		allHMOs:   "כל הקופות",
		allTiers:  "כל המסלולים",
		context:   "[הקשר כללי - %s]",
		benefit:   "[קטגוריה: %s | קופה: %s | מסלול: %s]",
		contact:   "[פרטי התקשרות - %s | %s]",
		hmoName:   domain.HMO.HebrewName,
		tierName:  domain.Tier.HebrewName,
		reminderFn: func(hmo, tier string) string {
			return fmt.Sprintf("זכור: אתה משרת משתמש ב**%s %s**.", hmo, tier)
		},
	},
	domain.LanguageEnglish: {
		intro:   "You are a health-services expert assistant that answers questions using only the provided knowledge base.",
		profile: "## User Profile:\n- HMO: %s\n- Insurance Tier: %s",
		rules: []string{
			"Answer only from the information provided below. Do not invent information or use general knowledge.",
			"Focus on the user's HMO and tier.",
			"Quote exact numbers: discounts, prices and limits.",
			"If the information below does not answer the question, clearly say \"I don't have information about that\" instead of guessing.",
			"If the user asks to compare tiers or HMOs, compare directly.",
			"Answer in English.",
		},
		mismatch:  "## Note:\nNo information matched the user's exact HMO and tier. The context below may describe a different HMO or tier. Say so explicitly and never present it as the user's own benefit.",
		knowledge: "## Knowledge Base (retrieved relevant information):",
		notFound:  "Sorry, I don't have information about that in the knowledge base. Please contact your health fund directly.",
		allHMOs:   "All HMOs",
		allTiers:  "All Tiers",
		context:   "[General Context - %s]",
		benefit:   "[Category: %s | HMO: %s | Tier: %s]",
		contact:   "[Contact Info - %s | %s]",
		hmoName:   func(h domain.HMO) string { return titleCase(string(h)) },
		tierName:  func(t domain.Tier) string { return titleCase(string(t)) },
		reminderFn: func(hmo, tier string) string {
			return fmt.Sprintf("Remember: you are serving a **%s %s** member.", hmo, tier)
		},
	},
}

func textsFor(lang domain.Language) composerText {
	if t, ok := composerTexts[lang]; ok {
		return t
	}
	return composerTexts[domain.LanguageHebrew]
}

// NotFoundAnswer returns the localized answer for an empty retrieval
func NotFoundAnswer(lang domain.Language) string {
	return textsFor(lang).notFound
}

// ComposeInput is everything the composer may show the model
type ComposeInput struct {
	Question string
	Result   *domain.RetrievalResult
	History  []domain.Message
	Language domain.Language
	HMO      domain.HMO
	Tier     domain.Tier
}

// Composition is a generated answer with its citations
type Composition struct {
	Text       string
	Sources    []domain.Source
	TokensUsed int
}

// Composer generates grounded answers from retrieved chunks
type Composer struct {
	services *runtime.Services
	logger   *zap.Logger
}

// NewComposer creates a composer
func NewComposer(services *runtime.Services, logger *zap.Logger) *Composer {
	return &Composer{services: services, logger: logging.OrNop(logger)}
}

// Compose answers the question from in.Result only. An empty result
// returns the localized not-found answer without calling the model.
func (c *Composer) Compose(ctx context.Context, in ComposeInput) (*Composition, error) {
	if in.Result.IsEmpty() {
		return &Composition{Text: NotFoundAnswer(in.Language), Sources: []domain.Source{}}, nil
	}

	llm := c.services.LLMService()
	if llm == nil {
		return nil, fmt.Errorf("compose answer: %w", domain.ErrServiceUnavailable)
	}

	messages := make([]domain.Message, 0, len(in.History)+2)
	messages = append(messages, domain.Message{Role: domain.RoleSystem, Content: BuildAnswerPrompt(in)})
	messages = append(messages, in.History...)
	messages = append(messages, domain.Message{Role: domain.RoleUser, Content: in.Question})

	completion, err := llm.Complete(ctx, messages, domain.CompletionOptions{
		Temperature: composerTemperature,
		MaxTokens:   composerMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("compose answer: %w", err)
	}

	c.logger.Debug("answer composed",
		zap.Int("chunks", len(in.Result.Chunks)),
		zap.Int("tokens", completion.TokensUsed),
		zap.String("finish_reason", completion.FinishReason),
	)
	return &Composition{
		Text:       strings.TrimSpace(completion.Content),
		Sources:    BuildSources(in.Result),
		TokensUsed: completion.TokensUsed,
	}, nil
}

// BuildAnswerPrompt renders the system prompt. It holds the retrieved chunk
// texts and the member's HMO and tier, nothing else from the profile.
func BuildAnswerPrompt(in ComposeInput) string {
	t := textsFor(in.Language)
	hmo, tier := t.hmoName(in.HMO), t.tierName(in.Tier)

	var b strings.Builder
	b.WriteString(t.intro)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, t.profile, hmo, tier)
	b.WriteString("\n\n")
	for i, rule := range t.rules {
		fmt.Fprintf(&b, "%d. %s\n", i+1, rule)
	}
	if in.Result.Tier != domain.RetrievalTierPlanned {
		b.WriteString("\n")
		b.WriteString(t.mismatch)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(t.knowledge)
	b.WriteString("\n")
	b.WriteString(FormatChunks(in.Result.Chunks, in.Language))
	b.WriteString("\n\n")
	b.WriteString(t.reminderFn(hmo, tier))
	return b.String()
}

// FormatChunks renders chunks with localized headers, separated by rules
func FormatChunks(chunks []*domain.ScoredChunk, lang domain.Language) string {
	t := textsFor(lang)
	parts := make([]string, len(chunks))
	for i, sc := range chunks {
		parts[i] = chunkHeader(t, sc.Chunk) + "\n" + sc.Chunk.Content
	}
	return strings.Join(parts, "\n---\n")
}

func chunkHeader(t composerText, c *domain.Chunk) string {
	hmo := t.allHMOs
	if c.HMO != "" {
		hmo = t.hmoName(c.HMO)
	}
	tier := t.allTiers
	if c.Tier != "" {
		tier = t.tierName(c.Tier)
	}

	switch c.Type {
	case domain.ChunkTypeContext:
		return fmt.Sprintf(t.context, c.Category)
	case domain.ChunkTypeContact:
		return fmt.Sprintf(t.contact, c.Category, hmo)
	default:
		return fmt.Sprintf(t.benefit, c.Category, hmo, tier)
	}
}

// BuildSources cites the retrieved chunks by metadata, highest score first
func BuildSources(result *domain.RetrievalResult) []domain.Source {
	sources := make([]domain.Source, 0, len(result.Chunks))
	for _, sc := range result.Chunks {
		sources = append(sources, domain.SourceFromScored(sc))
	}
	slices.SortStableFunc(sources, func(a, b domain.Source) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return 0
		}
	})
	return sources
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
