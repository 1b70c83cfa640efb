// Package embcache keeps query embeddings so that repeated questions skip the
// embedding provider.
package embcache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/maomao/internal/db"
	"github.com/kailas-cloud/maomao/internal/domain"
)

const keyPrefix = "maomao:emb:"

// store is satisfied by the redis, bolt and in-memory backends.
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Options configures a CachedEmbedder.
type Options struct {
	// Model scopes cache keys so a model switch never serves stale vectors.
	Model string
	// TTL is passed to the store on every write. Zero keeps entries forever.
	TTL time.Duration
	// CacheTotal counts lookups by "result" (hit, miss). Optional.
	CacheTotal *prometheus.CounterVec
	Logger     *zap.Logger
}

// CachedEmbedder serves embeddings from a key-value store and falls back to
// the wrapped embedder on a miss. Store failures only cost a provider call.
type CachedEmbedder struct {
	inner domain.Embedder
	store store
	opts  Options
}

// New wraps inner with the cache backed by s.
func New(inner domain.Embedder, s store, opts Options) *CachedEmbedder {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &CachedEmbedder{inner: inner, store: s, opts: opts}
}

// Embed returns the cached vector for text, embedding and storing it on a miss.
// Hits report zero prompt tokens. Degraded vectors are never stored.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	key := c.key(text)

	if vec, ok := c.lookup(ctx, key); ok {
		c.count("hit")
		return domain.EmbeddingResult{Embedding: vec}, nil
	}
	c.count("miss")

	res, err := c.inner.Embed(ctx, text)
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("embed text: %w", err)
	}
	if !res.Degraded && len(res.Embedding) > 0 {
		if err := c.store.SetWithTTL(ctx, key, encodeVector(res.Embedding), c.opts.TTL); err != nil {
			c.opts.Logger.Warn("embedding cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return res, nil
}

// HealthCheck reports the wrapped embedder's health.
func (c *CachedEmbedder) HealthCheck(ctx context.Context) error {
	if hc, ok := c.inner.(domain.HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

func (c *CachedEmbedder) lookup(ctx context.Context, key string) ([]float32, bool) {
	data, err := c.store.Get(ctx, key)
	switch {
	case errors.Is(err, db.ErrKeyNotFound):
		return nil, false
	case err != nil:
		c.opts.Logger.Warn("embedding cache read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	case len(data) == 0:
		return nil, false
	}

	vec, err := decodeVector(data)
	if err != nil {
		c.opts.Logger.Warn("discarding corrupt cached embedding", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return vec, true
}

func (c *CachedEmbedder) count(result string) {
	if c.opts.CacheTotal != nil {
		c.opts.CacheTotal.WithLabelValues(result).Inc()
	}
}

// key is keyPrefix + hex(sha256(model NUL text)).
func (c *CachedEmbedder) key(text string) string {
	h := sha256.New()
	h.Write([]byte(c.opts.Model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return keyPrefix + hex.EncodeToString(h.Sum(nil))
}

// encodeVector stores float32 components little-endian, 4 bytes each.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("cached vector has %d bytes, not a multiple of 4", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return vec, nil
}
