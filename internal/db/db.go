package db

import (
	"context"
	"time"

	"github.com/kailas-cloud/maomao/internal/domain/search/filter"
)

// Index is the vector index facade every driver implements.
//
//nolint:interfacebloat // facade; consumers use narrow sub-interfaces
type Index interface {
	Pinger
	Searcher
	Counter
	SourceLister
	Close()
}

// Pinger checks backend connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Searcher runs vector similarity search.
type Searcher interface {
	SearchKNN(ctx context.Context, q *KNNQuery) ([]Hit, error)
}

// Counter reports collection cardinality.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// SourceLister lists the chunks that belong to one source, used to stitch
// neighbouring context. Drivers without a way to do this return
// domain.ErrNotSupported.
type SourceLister interface {
	ListBySource(ctx context.Context, sourceID string, limit int) ([]Hit, error)
}

// KVStore provides simple byte key-value operations with expiry.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// KNNQuery is the input for vector similarity search.
type KNNQuery struct {
	Vector  []float32
	Filters filter.Expression
	K       int
}

// Hit is one ranked candidate. Payload holds decoded payload fields; a
// nested "location" map carries line/char offsets when the backend stores them.
type Hit struct {
	ID      string
	Score   float64
	Payload map[string]any
}
