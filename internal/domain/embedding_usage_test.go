package domain

import (
	"context"
	"sync"
	"testing"
)

func TestEmbeddingUsage_Record(t *testing.T) {
	ctx, u := NewContextWithUsage(context.Background())
	if UsageFromContext(ctx) != u {
		t.Fatal("usage not stored in context")
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			UsageFromContext(ctx).Record(EmbeddingResult{PromptTokens: 3, Degraded: i == 7})
		}(i)
	}
	wg.Wait()

	tokens, calls, degraded := u.Snapshot()
	if tokens != 30 || calls != 10 || !degraded {
		t.Errorf("got tokens=%d calls=%d degraded=%v", tokens, calls, degraded)
	}
}

func TestEmbeddingUsage_NilSafe(t *testing.T) {
	u := UsageFromContext(context.Background())
	if u != nil {
		t.Fatal("expected nil usage")
	}
	u.Record(EmbeddingResult{PromptTokens: 5})
	if tokens, calls, _ := u.Snapshot(); tokens != 0 || calls != 0 {
		t.Errorf("nil usage must report zero, got %d/%d", tokens, calls)
	}
}
