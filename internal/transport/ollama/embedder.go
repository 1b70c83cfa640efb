// Package ollama is an EmbeddingClient for the Ollama /api/embeddings endpoint.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/maomao/internal/domain"
	"github.com/kailas-cloud/maomao/internal/metrics"
)

const (
	providerName = "ollama"
	// maxErrorBody caps how much of a failed response is kept in the error.
	maxErrorBody = 512
)

// Config holds the Ollama endpoint settings.
type Config struct {
	BaseURL   string
	Model     string
	Dimension int
	Timeout   time.Duration
	Logger    *zap.Logger
}

// Embedder calls POST {base}/api/embeddings once per text. It never retries.
type Embedder struct {
	baseURL   string
	model     string
	dimension int
	client    *http.Client
	logger    *zap.Logger
}

// NewEmbedder creates an Ollama embedding provider.
func NewEmbedder(cfg *Config) *Embedder {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Embedder{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		model:     cfg.Model,
		dimension: cfg.Dimension,
		client:    &http.Client{Timeout: timeout},
		logger:    logger,
	}
}

type embeddingsRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingsResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed implements domain.Embedder. A 2xx response without an embedding
// degrades to a zero vector of the configured dimension.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	body, err := json.Marshal(embeddingsRequest{Model: e.model, Prompt: text})
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := e.client.Do(req)
	duration := time.Since(start)
	if err != nil {
		e.fail("transport_error")
		return domain.EmbeddingResult{}, &domain.EmbeddingError{Provider: providerName, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		e.fail("transport_error")
		return domain.EmbeddingResult{}, &domain.EmbeddingError{Provider: providerName, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		e.fail("api_error")
		return domain.EmbeddingResult{}, domain.NewEmbeddingStatusError(providerName, resp.StatusCode, truncate(respBody))
	}

	var parsed embeddingsResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		e.fail("decode_error")
		return domain.EmbeddingResult{}, &domain.EmbeddingError{
			Provider:   providerName,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("decode response: %w", err),
		}
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(providerName, e.model, "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(providerName, e.model).Observe(duration.Seconds())

	if len(parsed.Embedding) == 0 {
		metrics.EmbeddingErrorsTotal.WithLabelValues(providerName, e.model, "malformed_response").Inc()
		e.logger.Warn("Embedding response without vector, using zero vector",
			zap.String("model", e.model),
			zap.Int("dimension", e.dimension),
			zap.Int("status", resp.StatusCode),
		)
		return domain.ZeroEmbedding(e.dimension), nil
	}

	return domain.EmbeddingResult{Embedding: parsed.Embedding}, nil
}

// HealthCheck verifies the server answers GET /api/tags.
func (e *Embedder) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return &domain.EmbeddingError{Provider: providerName, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return domain.NewEmbeddingStatusError(providerName, resp.StatusCode, "")
	}
	return nil
}

func (e *Embedder) fail(errorType string) {
	metrics.EmbeddingRequestsTotal.WithLabelValues(providerName, e.model, "error").Inc()
	metrics.EmbeddingErrorsTotal.WithLabelValues(providerName, e.model, errorType).Inc()
}

func truncate(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody]
	}
	return s
}
