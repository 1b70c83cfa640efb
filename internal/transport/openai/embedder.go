// Package openai is an EmbeddingClient for OpenAI-compatible /embeddings APIs.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/maomao/internal/domain"
	"github.com/kailas-cloud/maomao/internal/metrics"
)

// Embedder is an embedding provider using the OpenAI-compatible API.
type Embedder struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
	sendDims   bool
	provider   string
	logger     *zap.Logger
}

// Config holds the embedding provider settings.
// Dimensions sizes the degraded zero vector and is sent upstream when RequestDimensions is set.
type Config struct {
	APIKey            string
	BaseURL           string
	Model             string
	Dimensions        int
	RequestDimensions bool
	Provider          string
	Timeout           time.Duration
	Logger            *zap.Logger
}

// NewEmbedder creates an OpenAI-compatible embedding provider.
func NewEmbedder(cfg *Config) *Embedder {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	e := &Embedder{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      openai.EmbeddingModel(cfg.Model),
		dimensions: cfg.Dimensions,
		sendDims:   cfg.RequestDimensions,
		provider:   cfg.Provider,
		logger:     cfg.Logger,
	}
	if e.provider == "" {
		e.provider = "openai"
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

// Embed implements domain.Embedder with transport-level metrics.
// An empty data array degrades to a zero vector instead of failing.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	req := openai.EmbeddingRequest{
		Input:          []string{text},
		Model:          e.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}
	if e.sendDims && e.dimensions > 0 {
		req.Dimensions = e.dimensions
	}

	start := time.Now()
	resp, err := e.client.CreateEmbeddings(ctx, req)
	duration := time.Since(start)

	model := string(e.model)
	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(e.provider, model, "error").Inc()
		metrics.EmbeddingErrorsTotal.WithLabelValues(e.provider, model, "api_error").Inc()
		return domain.EmbeddingResult{}, e.parseAPIError(err)
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(e.provider, model, "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(e.provider, model).Observe(duration.Seconds())

	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		metrics.EmbeddingErrorsTotal.WithLabelValues(e.provider, model, "malformed_response").Inc()
		e.logger.Warn("Embedding response without vector, using zero vector",
			zap.String("provider", e.provider),
			zap.Int("dimension", e.dimensions),
		)
		return domain.ZeroEmbedding(e.dimensions), nil
	}

	return domain.EmbeddingResult{
		Embedding:    resp.Data[0].Embedding,
		PromptTokens: resp.Usage.PromptTokens,
	}, nil
}

// HealthCheck verifies API availability via ListModels (free endpoint).
func (e *Embedder) HealthCheck(ctx context.Context) error {
	if _, err := e.client.ListModels(ctx); err != nil {
		return e.parseAPIError(err)
	}
	return nil
}

// parseAPIError converts go-openai errors into *domain.EmbeddingError.
func (e *Embedder) parseAPIError(err error) error {
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		body := extractDetail(reqErr.Body)
		if body == "" {
			body = string(reqErr.Body)
		}
		return &domain.EmbeddingError{Provider: e.provider, StatusCode: reqErr.HTTPStatusCode, Body: body, Err: err}
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &domain.EmbeddingError{Provider: e.provider, StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message, Err: err}
	}

	return &domain.EmbeddingError{Provider: e.provider, Err: fmt.Errorf("embedding request failed: %w", err)}
}

// extractDetail extracts the "detail" field from a JSON error body (Nebius error format).
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return ""
}
