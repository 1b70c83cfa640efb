package embedding

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/maomao/internal/domain"
	"github.com/kailas-cloud/maomao/internal/metrics"
)

// DefaultGroupSize bounds in-flight embedding calls per group.
const DefaultGroupSize = 10

// Batcher embeds texts in sequential groups; each group is fanned out concurrently
// and awaited together. There is no retry and no dedup of identical texts.
type Batcher struct {
	inner     domain.Embedder
	groupSize int
	logger    *zap.Logger
}

// NewBatcher creates a batcher. groupSize <= 0 falls back to DefaultGroupSize.
func NewBatcher(inner domain.Embedder, groupSize int, logger *zap.Logger) *Batcher {
	if groupSize <= 0 {
		groupSize = DefaultGroupSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Batcher{inner: inner, groupSize: groupSize, logger: logger}
}

// Embed passes a single text straight to the inner embedder.
func (b *Batcher) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	return b.inner.Embed(ctx, text)
}

// HealthCheck delegates to the inner embedder when it supports health checks.
func (b *Batcher) HealthCheck(ctx context.Context) error {
	if hc, ok := b.inner.(domain.HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

// EmbedBatch returns one result per text in input order. The first failure
// cancels the rest of its group and aborts the batch.
func (b *Batcher) EmbedBatch(ctx context.Context, texts []string) ([]domain.EmbeddingResult, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([]domain.EmbeddingResult, len(texts))
	for offset := 0; offset < len(texts); offset += b.groupSize {
		end := min(offset+b.groupSize, len(texts))

		g, gctx := errgroup.WithContext(ctx)
		for i := offset; i < end; i++ {
			g.Go(func() error {
				res, err := b.inner.Embed(gctx, texts[i])
				if err != nil {
					return fmt.Errorf("text %d: %w", i, err)
				}
				results[i] = res
				return nil
			})
		}
		metrics.EmbeddingBatchGroupsTotal.Inc()

		if err := g.Wait(); err != nil {
			b.logger.Error("Batch embedding group failed",
				zap.Int("group_offset", offset),
				zap.Int("group_size", end-offset),
				zap.Error(err),
			)
			return nil, fmt.Errorf("batch embed: %w", err)
		}
	}

	b.logger.Debug("Batch embedding completed",
		zap.Int("texts", len(texts)),
		zap.Int("group_size", b.groupSize),
	)
	return results, nil
}
