// Package retrieval composes embedding and vector search into scope-aware
// knowledge retrieval.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/maomao/internal/domain"
	"github.com/kailas-cloud/maomao/internal/domain/knowledge"
	"github.com/kailas-cloud/maomao/internal/domain/search/request"
	"github.com/kailas-cloud/maomao/internal/metrics"
)

// Config is the read-only service configuration fixed at startup.
type Config struct {
	Collection       string
	EmbeddingModel   string
	Dimension        int
	DefaultProjectID string
	DefaultLimit     int
	MaxLimit         int
	MinScore         float64
	ContextLines     int
	ContextScanLimit int
}

// Status reports index cardinality.
type Status struct {
	Count int `json:"count"`
}

// Service orchestrates embed → filtered similarity search → context assembly.
// Ranking authority stays with the index; no re-ranking happens here.
type Service struct {
	index  Index
	embed  Embedder
	batch  BatchEmbedder
	cfg    Config
	logger *zap.Logger
}

// New creates a retrieval service. When embed also implements BatchEmbedder it
// is used for SearchBatch; otherwise queries are embedded one by one.
func New(index Index, embed Embedder, cfg Config, logger *zap.Logger) *Service {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{index: index, embed: embed, cfg: cfg, logger: logger}
	if b, ok := embed.(BatchEmbedder); ok {
		s.batch = b
	}
	return s
}

// Config returns the service configuration.
func (s *Service) Config() Config {
	return s.cfg
}

// Search embeds query and returns the index's ranking, with limit and minimum
// score defaulted from configuration when absent.
func (s *Service) Search(ctx context.Context, query string, opts request.Options) ([]knowledge.SearchResult, error) {
	opts, err := s.prepare(query, opts)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	emb, err := s.embed.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	domain.UsageFromContext(ctx).Record(emb)

	results, err := s.searchVector(ctx, emb.Embedding, opts)
	if err != nil {
		return nil, err
	}
	s.observe(opts, results, time.Since(start), emb.Degraded)
	return results, nil
}

// SearchBatch runs several queries with shared options. Queries are embedded
// through the batch embedder; results keep the query order.
func (s *Service) SearchBatch(
	ctx context.Context, queries []string, opts request.Options,
) ([][]knowledge.SearchResult, error) {
	if len(queries) == 0 {
		return nil, nil
	}
	var prepared request.Options
	for _, q := range queries {
		var err error
		if prepared, err = s.prepare(q, opts); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	embs, err := s.embedAll(ctx, queries)
	if err != nil {
		return nil, fmt.Errorf("embed queries: %w", err)
	}
	usage := domain.UsageFromContext(ctx)
	for _, emb := range embs {
		usage.Record(emb)
	}

	out := make([][]knowledge.SearchResult, len(queries))
	for i, emb := range embs {
		results, err := s.searchVector(ctx, emb.Embedding, prepared)
		if err != nil {
			return nil, fmt.Errorf("query %d: %w", i, err)
		}
		out[i] = results
	}

	s.logger.Debug("Batch search completed",
		zap.Int("queries", len(queries)),
		zap.String("scope", prepared.ScopeLabel()),
		zap.Duration("duration", time.Since(start)),
	)
	return out, nil
}

// Retrieve runs Search and wraps the outcome with timing for presentation.
func (s *Service) Retrieve(ctx context.Context, query string, opts request.Options) (knowledge.Context, error) {
	start := time.Now()
	results, err := s.Search(ctx, query, opts)
	if err != nil {
		return knowledge.Context{}, err
	}
	return knowledge.Context{
		Query:      query,
		Results:    results,
		TotalFound: len(results),
		SearchTime: time.Since(start),
	}, nil
}

// RetrieveBatch runs SearchBatch and wraps each result set like Retrieve.
// SearchTime is the elapsed time of the whole batch.
func (s *Service) RetrieveBatch(ctx context.Context, queries []string, opts request.Options) ([]knowledge.Context, error) {
	start := time.Now()
	sets, err := s.SearchBatch(ctx, queries, opts)
	if err != nil {
		return nil, err
	}
	took := time.Since(start)
	out := make([]knowledge.Context, len(sets))
	for i, results := range sets {
		out[i] = knowledge.Context{
			Query:      queries[i],
			Results:    results,
			TotalFound: len(results),
			SearchTime: took,
		}
	}
	return out, nil
}

// GetContext returns the formatted knowledge context for query, or
// NoResultsText when nothing matched.
func (s *Service) GetContext(ctx context.Context, query string, opts request.Options) (string, error) {
	kc, err := s.Retrieve(ctx, query, opts)
	if err != nil {
		return "", err
	}
	return FormatContext(kc), nil
}

// GetStatus passes the index cardinality through unmodified.
func (s *Service) GetStatus(ctx context.Context) (Status, error) {
	n, err := s.index.Count(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("count: %w", err)
	}
	return Status{Count: n}, nil
}

// SearchGlobal searches the global partition only.
func (s *Service) SearchGlobal(ctx context.Context, query string, limit *int) ([]knowledge.SearchResult, error) {
	return s.Search(ctx, query, request.Options{
		Limit: limit,
		Scope: request.ScopeOf(knowledge.ScopeGlobal),
	})
}

// SearchProject searches the project partition. A nil projectID falls back
// to the default project; an empty one searches every project.
func (s *Service) SearchProject(
	ctx context.Context, query string, projectID *string, limit *int,
) ([]knowledge.SearchResult, error) {
	return s.Search(ctx, query, request.Options{
		Limit:     limit,
		Scope:     request.ScopeOf(knowledge.ScopeProject),
		ProjectID: s.projectOrDefault(projectID),
	})
}

// SearchAll searches without a scope restriction, filtered by project id
// resolved as in SearchProject.
func (s *Service) SearchAll(
	ctx context.Context, query string, projectID *string, limit *int,
) ([]knowledge.SearchResult, error) {
	return s.Search(ctx, query, request.Options{
		Limit:     limit,
		ProjectID: s.projectOrDefault(projectID),
	})
}

func (s *Service) projectOrDefault(projectID *string) *string {
	if projectID == nil {
		return request.String(s.cfg.DefaultProjectID)
	}
	return request.String(*projectID)
}

// prepare validates and fills defaults.
func (s *Service) prepare(query string, opts request.Options) (request.Options, error) {
	if err := request.ValidateQuery(query); err != nil {
		return opts, fmt.Errorf("%w: %w", domain.ErrInvalidQuery, err)
	}
	if err := opts.Validate(); err != nil {
		return opts, fmt.Errorf("%w: %w", domain.ErrInvalidQuery, err)
	}
	if opts.ContextLines == 0 {
		opts.ContextLines = s.cfg.ContextLines
	}
	return opts.WithDefaults(s.cfg.DefaultLimit, s.cfg.MaxLimit, s.cfg.MinScore), nil
}

func (s *Service) searchVector(
	ctx context.Context, vector []float32, opts request.Options,
) ([]knowledge.SearchResult, error) {
	results, err := s.index.Search(ctx, vector, opts)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	if opts.ContextLines > 0 && len(results) > 0 {
		if results, err = s.stitch(ctx, results, opts.ContextLines); err != nil {
			return nil, err
		}
	}
	return results, nil
}

func (s *Service) embedAll(ctx context.Context, texts []string) ([]domain.EmbeddingResult, error) {
	if s.batch != nil {
		return s.batch.EmbedBatch(ctx, texts)
	}
	out := make([]domain.EmbeddingResult, len(texts))
	for i, t := range texts {
		res, err := s.embed.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = res
	}
	return out, nil
}

func (s *Service) observe(opts request.Options, results []knowledge.SearchResult, d time.Duration, degraded bool) {
	scope := opts.ScopeLabel()
	metrics.SearchDuration.WithLabelValues(scope).Observe(d.Seconds())
	metrics.SearchResults.WithLabelValues(scope).Observe(float64(len(results)))

	s.logger.Debug("Search completed",
		zap.String("scope", scope),
		zap.Int("limit", opts.LimitOr(s.cfg.DefaultLimit)),
		zap.Float64("min_score", opts.MinScoreOr(0)),
		zap.Int("results", len(results)),
		zap.Bool("degraded_embedding", degraded),
		zap.Duration("duration", d),
	)
}

// IsInfrastructure reports whether err came from a remote dependency rather
// than from the caller's input.
func IsInfrastructure(err error) bool {
	return errors.Is(err, domain.ErrEmbeddingFailure) || errors.Is(err, domain.ErrVectorStore)
}
