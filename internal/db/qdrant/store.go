// Package qdrant implements the vector index over Qdrant's gRPC API.
package qdrant

import (
	"context"
	"fmt"
	"strconv"

	"github.com/qdrant/go-client/qdrant"

	"github.com/kailas-cloud/maomao/internal/db"
	"github.com/kailas-cloud/maomao/internal/domain/search/filter"
)

// Compile-time check: Store implements db.Index.
var _ db.Index = (*Store)(nil)

// pointsAPI is the subset of *qdrant.Client the store needs.
type pointsAPI interface {
	Query(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Count(ctx context.Context, req *qdrant.CountPoints) (uint64, error)
	Scroll(ctx context.Context, req *qdrant.ScrollPoints) ([]*qdrant.RetrievedPoint, error)
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
	Close() error
}

// Config holds Qdrant connection parameters.
type Config struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
}

// Store implements db.Index against one Qdrant collection.
type Store struct {
	client     pointsAPI
	collection string
}

// NewStore connects to Qdrant over gRPC.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Collection == "" {
		return nil, fmt.Errorf("collection is required")
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	return &Store{client: client, collection: cfg.Collection}, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return &db.Error{Op: db.OpHealth, Err: err}
	}
	return nil
}

// Close shuts down the gRPC connection.
func (s *Store) Close() {
	_ = s.client.Close()
}

// SearchKNN runs a dense vector query. The filter is omitted when empty.
func (s *Store) SearchKNN(ctx context.Context, q *db.KNNQuery) ([]db.Hit, error) {
	if len(q.Vector) == 0 {
		return nil, fmt.Errorf("vector is required")
	}
	if q.K <= 0 {
		return nil, fmt.Errorf("k must be positive")
	}

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(q.Vector...),
		Filter:         buildFilter(q.Filters),
		Limit:          qdrant.PtrOf(uint64(q.K)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, &db.Error{Op: db.OpQuery, Err: err}
	}

	hits := make([]db.Hit, 0, len(points))
	for _, p := range points {
		hits = append(hits, db.Hit{
			ID:      pointID(p.GetId()),
			Score:   float64(p.GetScore()),
			Payload: payloadToMap(p.GetPayload()),
		})
	}
	return hits, nil
}

// Count returns the exact number of points in the collection.
func (s *Store) Count(ctx context.Context) (int, error) {
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, &db.Error{Op: db.OpCount, Err: err}
	}
	return int(n), nil
}

// ListBySource scrolls the points whose source_id equals sourceID.
func (s *Store) ListBySource(ctx context.Context, sourceID string, limit int) ([]db.Hit, error) {
	if sourceID == "" {
		return nil, fmt.Errorf("source id is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}

	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: s.collection,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("source_id", sourceID)},
		},
		Limit:       qdrant.PtrOf(uint32(limit)),
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, &db.Error{Op: db.OpScroll, Err: err}
	}

	hits := make([]db.Hit, 0, len(points))
	for _, p := range points {
		hits = append(hits, db.Hit{
			ID:      pointID(p.GetId()),
			Payload: payloadToMap(p.GetPayload()),
		})
	}
	return hits, nil
}

// buildFilter maps the expression onto Qdrant must/should clauses.
// Text conditions use full-text match, which is a substring match on
// non-indexed payload fields.
func buildFilter(expr filter.Expression) *qdrant.Filter {
	if expr.IsEmpty() {
		return nil
	}
	f := &qdrant.Filter{}
	for _, c := range expr.Must() {
		f.Must = append(f.Must, condition(c))
	}
	for _, c := range expr.Should() {
		f.Should = append(f.Should, condition(c))
	}
	return f
}

func condition(c filter.Condition) *qdrant.Condition {
	if c.IsText() {
		return qdrant.NewMatchText(c.Key(), c.Value())
	}
	return qdrant.NewMatch(c.Key(), c.Value())
}

func pointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return strconv.FormatUint(id.GetNum(), 10)
}

func payloadToMap(p map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = valueToAny(v)
	}
	return out
}

func valueToAny(v *qdrant.Value) any {
	switch k := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return k.StringValue
	case *qdrant.Value_IntegerValue:
		return k.IntegerValue
	case *qdrant.Value_DoubleValue:
		return k.DoubleValue
	case *qdrant.Value_BoolValue:
		return k.BoolValue
	case *qdrant.Value_StructValue:
		return payloadToMap(k.StructValue.GetFields())
	case *qdrant.Value_ListValue:
		values := k.ListValue.GetValues()
		list := make([]any, len(values))
		for i, item := range values {
			list[i] = valueToAny(item)
		}
		return list
	default:
		return nil
	}
}
