package domain

import (
	"context"
	"fmt"
)

// Embedder is the shared text vectorization contract between layers.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
}

// BatchEmbedder vectorizes multiple texts, preserving input order.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([]EmbeddingResult, error)
}

// HealthChecker verifies embedding provider availability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// EmbeddingResult carries the embedding vector through the decorator chain.
// Degraded is set when the provider answered successfully without a vector
// and a zero vector was substituted.
type EmbeddingResult struct {
	Embedding    []float32
	PromptTokens int
	Degraded     bool
}

// ZeroEmbedding returns the neutral degraded result for dimension dim.
func ZeroEmbedding(dim int) EmbeddingResult {
	return EmbeddingResult{Embedding: make([]float32, dim), Degraded: true}
}

// InstructionEmbedder prepends an instruction to every text before embedding.
// Models such as nomic-embed-text expect a task prefix like "search_query: ".
type InstructionEmbedder struct {
	inner       Embedder
	instruction string
}

// NewInstructionEmbedder creates a decorator that prepends instruction text.
func NewInstructionEmbedder(inner Embedder, instruction string) *InstructionEmbedder {
	return &InstructionEmbedder{inner: inner, instruction: instruction}
}

// Embed prepends the instruction and delegates.
func (e *InstructionEmbedder) Embed(ctx context.Context, text string) (EmbeddingResult, error) {
	result, err := e.inner.Embed(ctx, e.instruction+text)
	if err != nil {
		return EmbeddingResult{}, fmt.Errorf("instruction embed: %w", err)
	}
	return result, nil
}

// HealthCheck delegates to the inner embedder when it supports health checks.
func (e *InstructionEmbedder) HealthCheck(ctx context.Context) error {
	if hc, ok := e.inner.(HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}
