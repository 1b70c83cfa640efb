package embcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kailas-cloud/maomao/internal/db"
	"github.com/kailas-cloud/maomao/internal/domain"
)

func TestEmbed_CacheMiss(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{
		Embedding:    []float32{0.1, 0.2, 0.3},
		PromptTokens: 10,
	}}
	ce, ms := newTestCachedEmbedder(t, inner)
	ctx := context.Background()

	var setTTL time.Duration
	var setCalled bool
	ms.setFn = func(_ context.Context, _ string, _ []byte, ttl time.Duration) error {
		setCalled = true
		setTTL = ttl
		return nil
	}

	result, err := ce.Embed(ctx, "test text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Embedding) != 3 || result.Embedding[0] != 0.1 {
		t.Fatalf("unexpected vector: %v", result.Embedding)
	}
	if result.PromptTokens != 10 {
		t.Fatalf("expected PromptTokens=10, got %d", result.PromptTokens)
	}
	if !setCalled {
		t.Fatal("expected SET to be called for cache put")
	}
	if setTTL != time.Hour {
		t.Errorf("ttl = %v, want 1h", setTTL)
	}
}

func TestEmbed_CacheHit(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{0.1, 0.2, 0.3}}}
	ce, ms := newTestCachedEmbedder(t, inner)

	cached := encodeVector([]float32{0.4, 0.5, 0.6})
	ms.getFn = func(_ context.Context, _ string) ([]byte, error) {
		return cached, nil
	}

	result, err := ce.Embed(context.Background(), "test text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Embedding) != 3 || result.Embedding[0] != 0.4 {
		t.Fatalf("expected cached vector, got: %v", result.Embedding)
	}
	if result.PromptTokens != 0 {
		t.Fatalf("expected PromptTokens=0 on cache hit, got %d", result.PromptTokens)
	}
	if inner.calls != 0 {
		t.Errorf("inner must not be called on hit, got %d calls", inner.calls)
	}
}

func TestEmbed_DegradedNotCached(t *testing.T) {
	inner := &mockEmbedder{result: domain.ZeroEmbedding(4)}
	ce, ms := newTestCachedEmbedder(t, inner)

	ms.setFn = func(context.Context, string, []byte, time.Duration) error {
		t.Fatal("degraded vector must not be cached")
		return nil
	}

	result, err := ce.Embed(context.Background(), "q")
	if err != nil {
		t.Fatal(err)
	}
	if !result.Degraded || len(result.Embedding) != 4 {
		t.Errorf("result = %+v", result)
	}
}

func TestEmbed_InnerError(t *testing.T) {
	inner := &mockEmbedder{err: domain.NewEmbeddingStatusError("ollama", 500, "boom")}
	ce, _ := newTestCachedEmbedder(t, inner)

	_, err := ce.Embed(context.Background(), "test text")
	if !errors.Is(err, domain.ErrEmbeddingFailure) {
		t.Fatalf("expected ErrEmbeddingFailure, got %v", err)
	}
}

func TestEmbed_StoreFailuresAreSoft(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{1}}}
	ce, ms := newTestCachedEmbedder(t, inner)
	ms.getFn = func(context.Context, string) ([]byte, error) { return nil, errStoreDown }
	ms.setFn = func(context.Context, string, []byte, time.Duration) error { return errStoreDown }

	result, err := ce.Embed(context.Background(), "q")
	if err != nil {
		t.Fatalf("cache errors must not fail embedding: %v", err)
	}
	if result.Embedding[0] != 1 {
		t.Errorf("unexpected vector %v", result.Embedding)
	}
}

func TestEmbed_CorruptEntryIsMiss(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{1}}}
	ce, ms := newTestCachedEmbedder(t, inner)
	ms.getFn = func(context.Context, string) ([]byte, error) { return []byte{1, 2, 3}, nil }

	if _, err := ce.Embed(context.Background(), "q"); err != nil {
		t.Fatal(err)
	}
	if inner.calls != 1 {
		t.Errorf("expected fallback to inner, got %d calls", inner.calls)
	}
}

func TestCacheKey_ScopedByModel(t *testing.T) {
	a := New(&mockEmbedder{}, &mockKVStore{}, Options{Model: "bge-m3"})
	b := New(&mockEmbedder{}, &mockKVStore{}, Options{Model: "nomic-embed-text"})

	if a.key("hello") == b.key("hello") {
		t.Error("keys for different models must differ")
	}
	if a.key("hello") != a.key("hello") {
		t.Error("keys must be deterministic")
	}
}

func TestEmbed_Metrics(t *testing.T) {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_cache_total"}, []string{"result"})
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{0.5}}}
	ce := New(inner, NewMemoryStore(8, 0), Options{Model: "m", CacheTotal: counter})
	ctx := context.Background()

	for range 3 {
		if _, err := ce.Embed(ctx, "same"); err != nil {
			t.Fatal(err)
		}
	}

	if got := testutil.ToFloat64(counter.WithLabelValues("miss")); got != 1 {
		t.Errorf("misses = %v, want 1", got)
	}
	if got := testutil.ToFloat64(counter.WithLabelValues("hit")); got != 2 {
		t.Errorf("hits = %v, want 2", got)
	}
}

func TestHealthCheck_Delegates(t *testing.T) {
	inner := &mockEmbedder{health: errors.New("unreachable")}
	ce, _ := newTestCachedEmbedder(t, inner)

	if err := ce.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected inner health error")
	}
}

func TestMemoryStore(t *testing.T) {
	ms := NewMemoryStore(2, 0)
	ctx := context.Background()

	if _, err := ms.Get(ctx, "a"); !errors.Is(err, db.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
	for _, k := range []string{"a", "b", "c"} {
		if err := ms.SetWithTTL(ctx, k, []byte(k), time.Minute); err != nil {
			t.Fatal(err)
		}
	}
	if ms.Len() != 2 {
		t.Errorf("len = %d, want 2", ms.Len())
	}
	if _, err := ms.Get(ctx, "a"); !errors.Is(err, db.ErrKeyNotFound) {
		t.Error("oldest entry must be evicted")
	}
	v, err := ms.Get(ctx, "c")
	if err != nil || string(v) != "c" {
		t.Errorf("get c = %q, %v", v, err)
	}
}

func TestVectorBytes_RoundTrip(t *testing.T) {
	in := []float32{0, -1.5, 3.25}
	out, err := decodeVector(encodeVector(in))
	if err != nil {
		t.Fatal(err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("mismatch at %d: %v vs %v", i, in, out)
		}
	}
}
