// Package knowledge is the vector index client: filtered similarity search,
// score post-filtering and payload mapping over any db.Index driver.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/kailas-cloud/maomao/internal/db"
	"github.com/kailas-cloud/maomao/internal/domain"
	"github.com/kailas-cloud/maomao/internal/domain/knowledge"
	"github.com/kailas-cloud/maomao/internal/domain/search/request"
	"github.com/kailas-cloud/maomao/internal/metrics"
)

// DefaultLimit applies when options carry no limit.
const DefaultLimit = 10

// store is the consumer interface for index operations (ISP).
type store interface {
	SearchKNN(ctx context.Context, q *db.KNNQuery) ([]db.Hit, error)
	Count(ctx context.Context) (int, error)
	ListBySource(ctx context.Context, sourceID string, limit int) ([]db.Hit, error)
}

// Repo implements the retrieval service's index contract.
type Repo struct {
	store   store
	driver  string
	timeout time.Duration
}

// New creates a knowledge repository. timeout bounds every backend call; zero disables it.
func New(s store, driver string, timeout time.Duration) *Repo {
	return &Repo{store: s, driver: driver, timeout: timeout}
}

// Search returns at most limit results ranked by the backend, dropping those
// scoring below the minimum score.
func (r *Repo) Search(ctx context.Context, vector []float32, opts request.Options) ([]knowledge.SearchResult, error) {
	expr, err := opts.Filter()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidQuery, err)
	}
	limit := opts.LimitOr(DefaultLimit)
	minScore := opts.MinScoreOr(0)

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	hits, err := r.store.SearchKNN(ctx, &db.KNNQuery{Vector: vector, Filters: expr, K: limit})
	if err != nil {
		return nil, r.storeErr("search", err)
	}

	if len(hits) > limit {
		hits = hits[:limit]
	}

	results := make([]knowledge.SearchResult, 0, len(hits))
	for _, h := range hits {
		if h.Score < minScore {
			continue
		}
		results = append(results, knowledge.SearchResult{
			Chunk: ChunkFromPayload(h.ID, h.Payload),
			Score: h.Score,
		})
	}
	return results, nil
}

// Count returns collection cardinality.
func (r *Repo) Count(ctx context.Context) (int, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	n, err := r.store.Count(ctx)
	if err != nil {
		return 0, r.storeErr("count", err)
	}
	return n, nil
}

// SourceChunks lists up to limit chunks belonging to sourceID.
func (r *Repo) SourceChunks(ctx context.Context, sourceID string, limit int) ([]knowledge.Chunk, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	hits, err := r.store.ListBySource(ctx, sourceID, limit)
	if err != nil {
		return nil, r.storeErr("list by source", err)
	}
	chunks := make([]knowledge.Chunk, 0, len(hits))
	for _, h := range hits {
		chunks = append(chunks, ChunkFromPayload(h.ID, h.Payload))
	}
	return chunks, nil
}

func (r *Repo) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}

// storeErr keeps ErrNotSupported distinguishable; anything else is a store failure.
func (r *Repo) storeErr(op string, err error) error {
	if errors.Is(err, domain.ErrNotSupported) {
		return fmt.Errorf("%s: %w", op, err)
	}
	metrics.VectorStoreErrorsTotal.WithLabelValues(r.driver, op).Inc()
	return fmt.Errorf("%w: %s: %w", domain.ErrVectorStore, op, err)
}

// ChunkFromPayload maps a raw payload onto a Chunk. Missing strings become "",
// missing metadata an empty map, a missing scope "global".
func ChunkFromPayload(id string, p map[string]any) knowledge.Chunk {
	c := knowledge.Chunk{
		ID:          id,
		Content:     str(p[knowledge.FieldContent]),
		SourceType:  str(p[knowledge.FieldSourceType]),
		SourcePath:  str(p[knowledge.FieldSourcePath]),
		SourceID:    str(p[knowledge.FieldSourceID]),
		Scope:       knowledge.Scope(str(p[knowledge.FieldScope])),
		ProjectID:   str(p[knowledge.FieldProjectID]),
		ContentHash: str(p[knowledge.FieldContentHash]),
		Metadata:    map[string]any{},
		Location:    location(p),
	}
	if c.Scope == "" {
		c.Scope = knowledge.ScopeGlobal
	}
	if m, ok := p[knowledge.FieldMetadata].(map[string]any); ok {
		c.Metadata = m
	}
	return c
}

// location reads a nested location object, falling back to top-level offsets.
func location(p map[string]any) *knowledge.Location {
	src := p
	if nested, ok := p[knowledge.FieldLocation].(map[string]any); ok {
		src = nested
	}

	var loc knowledge.Location
	found := false
	for key, dst := range map[string]*int{
		knowledge.FieldStartLine: &loc.StartLine,
		knowledge.FieldEndLine:   &loc.EndLine,
		knowledge.FieldCharStart: &loc.CharStart,
		knowledge.FieldCharEnd:   &loc.CharEnd,
	} {
		if n, ok := toInt(src[key]); ok {
			*dst = n
			found = true
		}
	}
	if !found {
		return nil
	}
	return &loc
}

func str(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func toInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return int(t), true
	case string:
		n, err := strconv.Atoi(t)
		return n, err == nil
	default:
		return 0, false
	}
}
