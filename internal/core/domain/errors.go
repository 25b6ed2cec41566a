package domain

import (
	"errors"
	"fmt"
)

// Domain errors - used across all layers
var (
	// ErrInvalidInput indicates the input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidProvider indicates an unknown AI provider was specified
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrServiceUnavailable indicates an AI service is not configured
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrUpstreamUnavailable indicates an upstream model call failed after retries
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrIndexUnavailable indicates the vector index cannot be reached
	ErrIndexUnavailable = errors.New("index unavailable")

	// ErrIngestionInProgress indicates another instance holds the ingestion lock
	ErrIngestionInProgress = errors.New("ingestion already in progress")

	// ErrProfileIncomplete indicates the member profile is not ready for questions
	ErrProfileIncomplete = errors.New("profile incomplete")
)

// ValidationError reports an invalid request field
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError creates a ValidationError
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// UpstreamError is a failed call to the embedding or chat model
type UpstreamError struct {
	Service    string // "embedding" or "llm"
	StatusCode int    // Zero for transport failures
	Message    string
	Transient  bool // Safe to retry
}

func (e *UpstreamError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s upstream error: %s", e.Service, e.Message)
	}
	return fmt.Sprintf("%s upstream error (status %d): %s", e.Service, e.StatusCode, e.Message)
}

// IsTransientStatus reports whether an HTTP status should be retried
func IsTransientStatus(code int) bool {
	return code == 408 || code == 429 || code >= 500
}

// MissingBenefitDataError reports a benefit table cell with no text
type MissingBenefitDataError struct {
	Document string
	Category Category
	Service  string
	HMO      HMO
	Tier     Tier
}

func (e *MissingBenefitDataError) Error() string {
	return fmt.Sprintf("missing benefit data in %s: category=%s service=%q hmo=%s tier=%s",
		e.Document, e.Category, e.Service, e.HMO, e.Tier)
}

// DocumentParseError reports a source document that does not have the expected shape
type DocumentParseError struct {
	Document string
	Reason   string
}

func (e *DocumentParseError) Error() string {
	return fmt.Sprintf("parse %s: %s", e.Document, e.Reason)
}

// Ingestion stages
const (
	StageParse = "parse"
	StageChunk = "chunk"
	StageEmbed = "embed"
	StageIndex = "index"
	StageLock  = "lock"
)

// IngestionError aborts an index build
type IngestionError struct {
	Document string
	Category Category
	Stage    string
	Err      error
}

func (e *IngestionError) Error() string {
	if e.Document == "" {
		return fmt.Sprintf("ingestion failed at %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("ingestion failed at %s (%s): %v", e.Stage, e.Document, e.Err)
}

func (e *IngestionError) Unwrap() error {
	return e.Err
}

// Error categories are the user-safe classes errors collapse to at the boundary
const (
	ErrorCategoryInvalidRequest = "invalid_request"
	ErrorCategoryUnavailable    = "temporarily_unavailable"
	ErrorCategoryIndex          = "index_unavailable"
	ErrorCategoryInternal       = "internal_error"
)

// ErrorCategory classifies err for responses and metrics
func ErrorCategory(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrProfileIncomplete), errors.Is(err, ErrInvalidProvider):
		return ErrorCategoryInvalidRequest
	case errors.Is(err, ErrIndexUnavailable):
		return ErrorCategoryIndex
	case errors.Is(err, ErrUpstreamUnavailable), errors.Is(err, ErrServiceUnavailable), errors.Is(err, ErrIngestionInProgress):
		return ErrorCategoryUnavailable
	default:
		return ErrorCategoryInternal
	}
}
