package retrieval

import (
	"context"

	"github.com/kailas-cloud/maomao/internal/domain"
	"github.com/kailas-cloud/maomao/internal/domain/knowledge"
	"github.com/kailas-cloud/maomao/internal/domain/search/request"
)

// Index defines the vector index contract for retrieval.
type Index interface {
	Search(ctx context.Context, vector []float32, opts request.Options) ([]knowledge.SearchResult, error)
	Count(ctx context.Context) (int, error)
	SourceChunks(ctx context.Context, sourceID string, limit int) ([]knowledge.Chunk, error)
}

// Embedder vectorizes text into embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}

// BatchEmbedder vectorizes several texts, preserving order.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([]domain.EmbeddingResult, error)
}
