package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/custodia-labs/hmo-assist/internal/core/domain"
	"github.com/custodia-labs/hmo-assist/internal/core/ports/driving"
	"github.com/custodia-labs/hmo-assist/internal/logging"
	"github.com/custodia-labs/hmo-assist/internal/runtime"
)

const (
	extractionTemperature = 0.1
	extractionMaxTokens   = 200
	extractionHistorySize = 4
	replyTemperature      = 0.7
	replyMaxTokens        = 500

	// completionMarker is stripped if the model still emits it
	completionMarker = "COLLECTION_COMPLETE"
)

// Ensure chatService implements ChatService
var _ driving.ChatService = (*chatService)(nil)

var nullableString = map[string]any{"type": []any{"string", "null"}}

// extractionSchema is the closed shape of field extraction output
var extractionSchema = mustJSONValidator(map[string]any{
	"type": "object",
	"properties": map[string]any{
		"name":      nullableString,
		"id":        nullableString,
		"gender":    nullableString,
		"age":       map[string]any{"type": []any{"integer", "null"}},
		"hmo":       nullableString,
		"hmo_card":  nullableString,
		"tier":      nullableString,
		"confirmed": map[string]any{"type": "boolean"},
	},
	"additionalProperties": false,
})

const extractionPrompt = `Extract member details from the latest user message. Use the recent conversation only to understand what the assistant asked for.

Output ONLY a JSON object with these keys, using null for anything the user did not state in the latest message:
{"name": string | null,
 "id": string | null,
 "gender": "male" | "female" | "other" | null,
 "age": integer | null,
 "hmo": "maccabi" | "meuhedet" | "clalit" | null,
 "hmo_card": string | null,
 "tier": "gold" | "silver" | "bronze" | null,
 "confirmed": true | false}

Rules:
- Copy ID and card numbers exactly as written, digits only, without fixing them
- Map Hebrew names: מכבי=maccabi, מאוחדת=meuhedet, כללית=clalit, זהב=gold, כסף=silver, ארד=bronze, זכר=male, נקבה=female
- A bare number answers whatever the assistant last asked for
- "confirmed" is true only when the user explicitly approves a summary (yes, correct, כן, נכון)

Examples:
"my name is Dana Levi and I'm 34" -> {"name": "Dana Levi", "id": null, "gender": null, "age": 34, "hmo": null, "hmo_card": null, "tier": null, "confirmed": false}
"אני במכבי זהב" -> {"name": null, "id": null, "gender": null, "age": null, "hmo": "maccabi", "hmo_card": null, "tier": "gold", "confirmed": false}
"כן, הכל נכון" -> {"name": null, "id": null, "gender": null, "age": null, "hmo": null, "hmo_card": null, "tier": null, "confirmed": true}`

// chatText holds the localized collection texts
type chatText struct {
	greeting   string
	transition string
	role       string
	rules      []string
	collected  string
	missing    string
	errors     string
	confirm    string
	labels     map[domain.ProfileField]string
}

var chatTexts = map[domain.Language]chatText{
	domain.LanguageHebrew: {
		greeting: "👋 שלום! אני העוזר הדיגיטלי לשירותי הבריאות של קופת החולים שלך.\n\n" +
			"לפני שנתחיל, אני צריך לאסוף כמה פרטים בסיסיים כדי לספק לך מידע מותאם אישית.\n\n" +
			"בואו נתחיל - מה שמך המלא?",
		transition: "מעולה! הפרטים שלך נשמרו. כעת אפשר לשאול אותי כל שאלה על שירותי הבריאות של קופת החולים שלך.",
		role:       "אתה עוזר לאיסוף פרטים לשירותי בריאות. תפקידך היחיד הוא לאסוף 7 שדות מהמשתמש. אינך עונה על שאלות אחרות עד שהרישום מסתיים.",
		rules: []string{
			"שאל על שדה אחד בלבד בכל פעם, לפי הסדר.",
			"מותר להסביר רק את השדה שאתה מבקש כרגע. דחה בנימוס כל שאלה אחרת והחזר את המשתמש לשדה החסר.",
			"אם יש שגיאות אימות, הסבר אותן בעדינות ובקש את הערך שוב.",
			"כשכל השדות מלאים, הצג סיכום ושאל \"האם כל הפרטים נכונים?\".",
			"ענה בעברית.",
		},
		collected: "## פרטים שנאספו:",
		missing:   "## השדה הבא לאיסוף: %s",
		errors:    "## שגיאות אימות:",
		confirm:   "## כל השדות מלאים. הצג את הסיכום ובקש אישור.",
		labels: map[domain.ProfileField]string{
			domain.FieldName:    "שם מלא",
			domain.FieldID:      "מספר תעודת זהות (9 ספרות)",
			domain.FieldGender:  "מין (זכר/נקבה/אחר)",
			domain.FieldAge:     "גיל (0-120)",
			domain.FieldHMO:     "קופת חולים (מכבי/מאוחדת/כללית)",
			domain.FieldHMOCard: "מספר כרטיס קופת חולים (9 ספרות)",
			domain.FieldTier:    "מסלול ביטוח (זהב/כסף/ארד)",
		},
	},
	domain.LanguageEnglish: {
		greeting: "👋 Hello! I'm your digital assistant for your HMO's health services.\n\n" +
			"Before we begin, I need to collect some basic information so I can give you personalized answers.\n\n" +
			"Let's get started - what is your full name?",
		transition: "Perfect! Your information has been saved. You can now ask me any question about your HMO's health services.",
		role:       "You are an information collection assistant for healthcare services. Your only task is to collect 7 fields from the user. Do not answer other questions until registration is complete.",
		rules: []string{
			"Ask for one field at a time, in order.",
			"You may only explain the field you are asking for. Politely decline any other question and return to the missing field.",
			"If there are validation errors, explain them gently and ask for the value again.",
			"When every field is filled, show a summary and ask \"Is all the information correct?\".",
			"Answer in English.",
		},
		collected: "## Collected details:",
		missing:   "## Next field to collect: %s",
		errors:    "## Validation errors:",
		confirm:   "## All fields are filled. Show the summary and ask for confirmation.",
		labels: map[domain.ProfileField]string{
			domain.FieldName:    "Full name",
			domain.FieldID:      "ID number (9 digits)",
			domain.FieldGender:  "Gender (male/female/other)",
			domain.FieldAge:     "Age (0-120)",
			domain.FieldHMO:     "HMO (Maccabi/Meuhedet/Clalit)",
			domain.FieldHMOCard: "HMO card number (9 digits)",
			domain.FieldTier:    "Insurance tier (Gold/Silver/Bronze)",
		},
	},
}

func chatTextsFor(lang domain.Language) chatText {
	if t, ok := chatTexts[lang]; ok {
		return t
	}
	return chatTexts[domain.LanguageHebrew]
}

// ChatConfig wires the conversational front end
type ChatConfig struct {
	Services   *runtime.Services
	Answers    driving.AnswerService
	MaxHistory int
	Logger     *zap.Logger
}

// chatService collects the member profile, then delegates to the answer service
type chatService struct {
	services   *runtime.Services
	answers    driving.AnswerService
	maxHistory int
	logger     *zap.Logger
}

// NewChatService creates a ChatService
func NewChatService(cfg ChatConfig) driving.ChatService {
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = DefaultMaxHistory
	}
	return &chatService{
		services:   cfg.Services,
		answers:    cfg.Answers,
		maxHistory: cfg.MaxHistory,
		logger:     logging.OrNop(cfg.Logger).Named("chat"),
	}
}

// Chat handles one member message. A confirmed profile goes to question
// answering; anything else continues field collection. Stored values that
// fail validation are dropped and collected again.
func (s *chatService) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	lang, ok := domain.ParseLanguage(string(req.Language))
	if !ok {
		return nil, domain.NewValidationError("language", "language must be he or en")
	}
	req.Language = lang
	for _, m := range req.History {
		if m.Role != domain.RoleUser && m.Role != domain.RoleAssistant {
			return nil, domain.NewValidationError("conversation_history", "history roles must be user or assistant")
		}
	}

	profile, invalid := req.Profile.Sanitize()
	if len(invalid) > 0 {
		s.logger.Warn("dropping invalid profile values",
			zap.Int("fields", len(invalid)),
			zap.String("correlation_id", domain.CorrelationID(ctx)),
		)
		req.Profile = profile
	}

	if req.Profile.Ready() {
		return s.answer(ctx, req)
	}
	if len(req.History) == 0 {
		resp := s.greet(req)
		if len(invalid) > 0 {
			resp.ValidationErrors = invalid
		}
		return resp, nil
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, domain.NewValidationError("message", "message is required")
	}
	return s.collect(ctx, req, invalid)
}

func (s *chatService) answer(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, domain.NewValidationError("message", "message is required")
	}
	profile := req.Profile
	answer, err := s.answers.Answer(ctx, domain.AnswerRequest{
		Question: req.Message,
		HMO:      profile.HMO,
		Tier:     profile.Tier,
		History:  req.History,
		Language: req.Language,
		Profile:  &profile,
	})
	if err != nil {
		return nil, err
	}
	return &domain.ChatResponse{
		Response:      answer.Text,
		Phase:         domain.ChatPhaseQA,
		Profile:       profile,
		MissingFields: []domain.ProfileField{},
		FieldStates:   profile.States(),
		Sources:       answer.Sources,
		Diagnostics:   &answer.Diagnostics,
		TokensUsed:    answer.Diagnostics.TokensUsed,
	}, nil
}

func (s *chatService) greet(req domain.ChatRequest) *domain.ChatResponse {
	return &domain.ChatResponse{
		Response:      chatTextsFor(req.Language).greeting,
		Phase:         domain.ChatPhaseCollection,
		Profile:       req.Profile,
		MissingFields: nonNil(req.Profile.MissingFields()),
		FieldStates:   req.Profile.States(),
		Sources:       []domain.Source{},
		Greeting:      true,
	}
}

// collect runs one extraction turn. stale holds errors for stored values
// that were dropped before the turn; those still unset are reported again.
func (s *chatService) collect(ctx context.Context, req domain.ChatRequest, stale map[domain.ProfileField]string) (*domain.ChatResponse, error) {
	llm := s.services.LLMService()
	if llm == nil {
		return nil, fmt.Errorf("collect profile: %w", domain.ErrServiceUnavailable)
	}

	update, extractTokens := s.extract(ctx, req)
	profile, validationErrors := req.Profile.Apply(update)
	for f, msg := range stale {
		if _, ok := validationErrors[f]; !ok && profile.State(f) == domain.FieldStateUnset {
			validationErrors[f] = msg
		}
	}

	s.logger.Info("collection turn",
		zap.Bool("extracted", !update.IsEmpty()),
		zap.Int("missing", len(profile.MissingFields())),
		zap.Int("validation_errors", len(validationErrors)),
		zap.Bool("confirmed", profile.Confirmed),
		zap.String("correlation_id", domain.CorrelationID(ctx)),
	)

	resp := &domain.ChatResponse{
		Phase:         domain.ChatPhaseCollection,
		Profile:       profile,
		MissingFields: nonNil(profile.MissingFields()),
		FieldStates:   profile.States(),
		Sources:       []domain.Source{},
		TokensUsed:    extractTokens,
	}
	if len(validationErrors) > 0 {
		resp.ValidationErrors = validationErrors
	}
	if profile.Ready() {
		resp.Phase = domain.ChatPhaseQA
		resp.Response = chatTextsFor(req.Language).transition
		return resp, nil
	}

	history := domain.TruncateHistory(req.History, s.maxHistory)
	messages := make([]domain.Message, 0, len(history)+2)
	messages = append(messages, domain.Message{
		Role:    domain.RoleSystem,
		Content: BuildCollectionPrompt(profile, validationErrors, req.Language),
	})
	messages = append(messages, history...)
	messages = append(messages, domain.Message{Role: domain.RoleUser, Content: req.Message})

	completion, err := llm.Complete(ctx, messages, domain.CompletionOptions{
		Temperature: replyTemperature,
		MaxTokens:   replyMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("collect profile: %w", err)
	}

	resp.Response = strings.TrimSpace(strings.ReplaceAll(completion.Content, completionMarker, ""))
	resp.TokensUsed += completion.TokensUsed
	return resp, nil
}

// extract asks the model for the fields in the latest message. Failures
// yield an empty update so the conversation continues.
func (s *chatService) extract(ctx context.Context, req domain.ChatRequest) (domain.ProfileUpdate, int) {
	llm := s.services.LLMService()
	messages := []domain.Message{{Role: domain.RoleSystem, Content: extractionPrompt}}
	messages = append(messages, domain.TruncateHistory(req.History, extractionHistorySize)...)
	messages = append(messages, domain.Message{Role: domain.RoleUser, Content: req.Message})

	completion, err := llm.Complete(ctx, messages, domain.CompletionOptions{
		Temperature: extractionTemperature,
		MaxTokens:   extractionMaxTokens,
	})
	if err != nil {
		s.logger.Warn("field extraction failed", zap.Error(err))
		return domain.ProfileUpdate{}, 0
	}

	update, err := ParseProfileUpdate(completion.Content)
	if err != nil {
		s.logger.Warn("field extraction unusable", zap.Error(err))
		return domain.ProfileUpdate{}, completion.TokensUsed
	}
	return update, completion.TokensUsed
}

// ParseProfileUpdate cleans, validates and decodes extraction output
func ParseProfileUpdate(content string) (domain.ProfileUpdate, error) {
	cleaned := cleanJSON(content)
	if !json.Valid([]byte(cleaned)) {
		return domain.ProfileUpdate{}, fmt.Errorf("extraction output is not JSON: %q", content)
	}
	if err := extractionSchema.Validate(cleaned); err != nil {
		return domain.ProfileUpdate{}, err
	}
	var update domain.ProfileUpdate
	if err := json.Unmarshal([]byte(cleaned), &update); err != nil {
		return domain.ProfileUpdate{}, err
	}
	return update, nil
}

// BuildCollectionPrompt renders the reply prompt for the current profile state
func BuildCollectionPrompt(profile domain.UserProfile, validationErrors map[domain.ProfileField]string, lang domain.Language) string {
	t := chatTextsFor(lang)

	var b strings.Builder
	b.WriteString(t.role)
	b.WriteString("\n\n")
	for i, rule := range t.rules {
		fmt.Fprintf(&b, "%d. %s\n", i+1, rule)
	}

	summary := profile.Summary()
	b.WriteString("\n")
	b.WriteString(t.collected)
	b.WriteString("\n")
	for _, f := range domain.ProfileFields {
		if v, ok := summary[f]; ok {
			fmt.Fprintf(&b, "- %s: %s\n", t.labels[f], v)
		}
	}

	if len(validationErrors) > 0 {
		b.WriteString("\n")
		b.WriteString(t.errors)
		b.WriteString("\n")
		for _, f := range domain.ProfileFields {
			if msg, ok := validationErrors[f]; ok {
				fmt.Fprintf(&b, "- %s: %s\n", t.labels[f], msg)
			}
		}
	}

	b.WriteString("\n")
	if missing := profile.MissingFields(); len(missing) > 0 {
		fmt.Fprintf(&b, t.missing, t.labels[missing[0]])
	} else {
		b.WriteString(t.confirm)
	}
	return b.String()
}

func nonNil(fields []domain.ProfileField) []domain.ProfileField {
	if fields == nil {
		return []domain.ProfileField{}
	}
	return fields
}
