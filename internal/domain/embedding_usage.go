package domain

import (
	"context"
	"sync"
)

type embeddingUsageKey struct{}

// EmbeddingUsage collects embedding usage for a single tool call or request.
// The transport puts it into the context; the retrieval service records every
// embedding it obtains; the transport logs the totals. Safe for concurrent use.
type EmbeddingUsage struct {
	mu       sync.Mutex
	tokens   int
	calls    int
	degraded bool
}

// NewContextWithUsage returns a context with an embedded usage collector.
func NewContextWithUsage(ctx context.Context) (context.Context, *EmbeddingUsage) {
	u := &EmbeddingUsage{}
	return context.WithValue(ctx, embeddingUsageKey{}, u), u
}

// UsageFromContext extracts the usage collector from context. Returns nil if not set.
func UsageFromContext(ctx context.Context) *EmbeddingUsage {
	u, _ := ctx.Value(embeddingUsageKey{}).(*EmbeddingUsage)
	return u
}

// Record adds one embedding result. A nil receiver is a no-op.
func (u *EmbeddingUsage) Record(r EmbeddingResult) {
	if u == nil {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.tokens += r.PromptTokens
	u.calls++
	u.degraded = u.degraded || r.Degraded
}

// Snapshot returns prompt tokens, embeddings obtained (cache hits included),
// and whether any of them was degraded.
func (u *EmbeddingUsage) Snapshot() (tokens, calls int, degraded bool) {
	if u == nil {
		return 0, 0, false
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.tokens, u.calls, u.degraded
}
