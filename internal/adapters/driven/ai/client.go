package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/custodia-labs/hmo-assist/internal/core/domain"
)

const (
	defaultOpenAIBaseURL   = "https://api.openai.com/v1"
	defaultAzureAPIVersion = "2024-02-01"
	defaultTimeout         = 60 * time.Second
)

// endpoint speaks the OpenAI REST dialect to either OpenAI or an Azure
// OpenAI deployment. Azure routes by deployment name and authenticates
// with an api-key header.
type endpoint struct {
	service    string // "embedding" or "llm", used in UpstreamError
	provider   domain.AIProvider
	apiKey     string
	baseURL    string
	model      string
	apiVersion string
	limiter    *rate.Limiter
	client     *http.Client
}

type endpointConfig struct {
	service    string
	provider   domain.AIProvider
	apiKey     string
	baseURL    string
	model      string
	apiVersion string
	timeout    time.Duration
	limiter    *rate.Limiter
}

func newEndpoint(cfg endpointConfig) (*endpoint, error) {
	if cfg.apiKey == "" {
		return nil, fmt.Errorf("%s API key is required", cfg.provider)
	}
	switch cfg.provider {
	case domain.AIProviderOpenAI, "":
		cfg.provider = domain.AIProviderOpenAI
		if cfg.baseURL == "" {
			cfg.baseURL = defaultOpenAIBaseURL
		}
	case domain.AIProviderAzure:
		if cfg.baseURL == "" {
			return nil, fmt.Errorf("azure endpoint is required")
		}
		if cfg.model == "" {
			return nil, fmt.Errorf("azure deployment name is required")
		}
		if cfg.apiVersion == "" {
			cfg.apiVersion = defaultAzureAPIVersion
		}
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidProvider, cfg.provider)
	}
	if cfg.timeout <= 0 {
		cfg.timeout = defaultTimeout
	}

	return &endpoint{
		service:    cfg.service,
		provider:   cfg.provider,
		apiKey:     cfg.apiKey,
		baseURL:    strings.TrimRight(cfg.baseURL, "/"),
		model:      cfg.model,
		apiVersion: cfg.apiVersion,
		limiter:    cfg.limiter,
		client:     &http.Client{Timeout: cfg.timeout},
	}, nil
}

// url builds the request URL for an operation such as "embeddings"
func (e *endpoint) url(operation string) string {
	if e.provider == domain.AIProviderAzure {
		return fmt.Sprintf("%s/openai/deployments/%s/%s?api-version=%s",
			e.baseURL, url.PathEscape(e.model), operation, url.QueryEscape(e.apiVersion))
	}
	return e.baseURL + "/" + operation
}

// apiError is the error envelope shared by OpenAI and Azure
type apiError struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error,omitempty"`
}

// post sends body as JSON and decodes a 200 response into out.
// Failures are *domain.UpstreamError classified by status.
func (e *endpoint) post(ctx context.Context, operation string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url(operation), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.provider == domain.AIProviderAzure {
		req.Header.Set("api-key", e.apiKey)
	} else {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return ctxErr
		}
		return &domain.UpstreamError{Service: e.service, Message: err.Error(), Transient: true}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.UpstreamError{Service: e.service, StatusCode: resp.StatusCode, Message: "failed to read response: " + err.Error(), Transient: true}
	}

	if resp.StatusCode != http.StatusOK {
		msg := http.StatusText(resp.StatusCode)
		var envelope apiError
		if json.Unmarshal(respBody, &envelope) == nil && envelope.Error != nil && envelope.Error.Message != "" {
			msg = envelope.Error.Message
		}
		return &domain.UpstreamError{
			Service:    e.service,
			StatusCode: resp.StatusCode,
			Message:    msg,
			Transient:  domain.IsTransientStatus(resp.StatusCode),
		}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return &domain.UpstreamError{Service: e.service, StatusCode: resp.StatusCode, Message: "failed to parse response: " + err.Error()}
	}
	return nil
}

func (e *endpoint) close() {
	e.client.CloseIdleConnections()
}
