package domain

import "time"

// AIProvider identifies the model provider
type AIProvider string

const (
	AIProviderOpenAI AIProvider = "openai"
	AIProviderAzure  AIProvider = "azure"
)

// IsValid returns true if this is a known provider
func (p AIProvider) IsValid() bool {
	return p == AIProviderOpenAI || p == AIProviderAzure
}

// EmbeddingSettings configures the embedding service
type EmbeddingSettings struct {
	Provider   AIProvider    `json:"provider"`
	Model      string        `json:"model"` // Deployment name on Azure
	APIKey     string        `json:"-"`
	BaseURL    string        `json:"base_url,omitempty"`
	APIVersion string        `json:"api_version,omitempty"`
	Dimensions int           `json:"dimensions,omitempty"`
	Timeout    time.Duration `json:"timeout,omitempty"`
}

// IsConfigured returns true if embedding settings are properly configured
func (e *EmbeddingSettings) IsConfigured() bool {
	if e.Provider == "" || e.APIKey == "" {
		return false
	}
	if e.Provider == AIProviderAzure && e.BaseURL == "" {
		return false
	}
	return true
}

// LLMSettings configures the chat completion service
type LLMSettings struct {
	Provider   AIProvider    `json:"provider"`
	Model      string        `json:"model"`
	APIKey     string        `json:"-"`
	BaseURL    string        `json:"base_url,omitempty"`
	APIVersion string        `json:"api_version,omitempty"`
	Timeout    time.Duration `json:"timeout,omitempty"`
}

// IsConfigured returns true if LLM settings are properly configured
func (l *LLMSettings) IsConfigured() bool {
	if l.Provider == "" || l.APIKey == "" {
		return false
	}
	if l.Provider == AIProviderAzure && l.BaseURL == "" {
		return false
	}
	return true
}

// Validate checks the provider names
func (l *LLMSettings) Validate() error {
	if l.Provider != "" && !l.Provider.IsValid() {
		return ErrInvalidProvider
	}
	return nil
}

// Validate checks the provider names
func (e *EmbeddingSettings) Validate() error {
	if e.Provider != "" && !e.Provider.IsValid() {
		return ErrInvalidProvider
	}
	return nil
}
