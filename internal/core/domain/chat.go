package domain

// ChatPhase is the stage of a member conversation
type ChatPhase string

const (
	ChatPhaseCollection ChatPhase = "collection"
	ChatPhaseQA         ChatPhase = "qa"
)

// ChatRequest is one member message plus the caller-held conversation state
type ChatRequest struct {
	Message  string      `json:"message"`
	Profile  UserProfile `json:"user_data"`
	History  []Message   `json:"conversation_history"`
	Language Language    `json:"language"`
}

// ChatResponse is the assistant reply and the updated conversation state
type ChatResponse struct {
	Response         string                      `json:"response"`
	Phase            ChatPhase                   `json:"phase"`
	Profile          UserProfile                 `json:"user_data"`
	MissingFields    []ProfileField              `json:"missing_fields"`
	FieldStates      map[ProfileField]FieldState `json:"field_states"`
	ValidationErrors map[ProfileField]string     `json:"validation_errors,omitempty"`
	Sources          []Source                    `json:"sources"`
	Diagnostics      *Diagnostics                `json:"diagnostics,omitempty"`
	TokensUsed       int                         `json:"tokens_used"`
	Greeting         bool                        `json:"is_greeting,omitempty"`
}
