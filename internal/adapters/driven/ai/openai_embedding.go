package ai

import (
	"context"
	"fmt"

	"github.com/custodia-labs/hmo-assist/internal/core/domain"
	"github.com/custodia-labs/hmo-assist/internal/core/ports/driven"
)

// Ensure OpenAIEmbedding implements EmbeddingService
var _ driven.EmbeddingService = (*OpenAIEmbedding)(nil)

// OpenAIEmbedding implements EmbeddingService against the OpenAI or Azure
// OpenAI embeddings API
type OpenAIEmbedding struct {
	endpoint   *endpoint
	model      string
	dimensions int
}

// Model dimensions for OpenAI embedding models
var openAIModelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

const defaultEmbeddingModel = "text-embedding-ada-002"

// Dimensions returns the vector size for a known model name, and 1536 for
// unknown models and Azure deployment names.
func Dimensions(model string) int {
	if d, ok := openAIModelDimensions[model]; ok {
		return d
	}
	return 1536
}

// NewOpenAIEmbedding creates an embedding service from settings.
// On Azure the model is the deployment name.
func NewOpenAIEmbedding(settings *domain.EmbeddingSettings, opts ...Option) (*OpenAIEmbedding, error) {
	o := applyOptions(opts)
	model := settings.Model
	if model == "" {
		model = defaultEmbeddingModel
	}

	ep, err := newEndpoint(endpointConfig{
		service:    "embedding",
		provider:   settings.Provider,
		apiKey:     settings.APIKey,
		baseURL:    settings.BaseURL,
		model:      model,
		apiVersion: settings.APIVersion,
		timeout:    settings.Timeout,
		limiter:    o.limiter,
	})
	if err != nil {
		return nil, err
	}

	dimensions := settings.Dimensions
	if dimensions <= 0 {
		dimensions = Dimensions(model)
	}

	return &OpenAIEmbedding{
		endpoint:   ep,
		model:      model,
		dimensions: dimensions,
	}, nil
}

// embeddingRequest is the request body for the embeddings API
type embeddingRequest struct {
	Input          []string `json:"input"`
	Model          string   `json:"model,omitempty"`
	EncodingFormat string   `json:"encoding_format,omitempty"`
}

// embeddingData is one vector of an embeddings response
type embeddingData struct {
	Object    string    `json:"object"`
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

// embeddingResponse is the response from the embeddings API
type embeddingResponse struct {
	Object string          `json:"object"`
	Data   []embeddingData `json:"data"`
	Model  string          `json:"model"`
	Usage  struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// Embed generates embeddings for multiple texts
func (e *OpenAIEmbedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	reqBody := embeddingRequest{
		Input:          texts,
		EncodingFormat: "float",
	}
	if e.endpoint.provider != domain.AIProviderAzure {
		reqBody.Model = e.model
	}

	var resp embeddingResponse
	if err := e.endpoint.post(ctx, "embeddings", reqBody, &resp); err != nil {
		return nil, err
	}

	// Sort by index to ensure order matches input
	embeddings := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index >= 0 && d.Index < len(embeddings) {
			embeddings[d.Index] = d.Embedding
		}
	}
	for i, v := range embeddings {
		if len(v) == 0 {
			return nil, &domain.UpstreamError{Service: "embedding", StatusCode: 200, Message: fmt.Sprintf("no embedding returned for input %d", i)}
		}
	}

	return embeddings, nil
}

// EmbedQuery generates an embedding for a member question
func (e *OpenAIEmbedding) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	embeddings, err := e.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// Dimensions returns the embedding dimension size
func (e *OpenAIEmbedding) Dimensions() int {
	return e.dimensions
}

// Model returns the model or deployment name being used
func (e *OpenAIEmbedding) Model() string {
	return e.model
}

// HealthCheck verifies the embedding service is available
func (e *OpenAIEmbedding) HealthCheck(ctx context.Context) error {
	// Make a small embedding request to verify connectivity
	_, err := e.EmbedQuery(ctx, "health check")
	return err
}

// Close releases resources held by the embedding service
func (e *OpenAIEmbedding) Close() error {
	e.endpoint.close()
	return nil
}
