package embedding

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kailas-cloud/maomao/internal/domain"
)

// groupingEndpoint is a fake embedding endpoint that records call order and
// blocks each call until the expected number of concurrent callers arrive.
type groupingEndpoint struct {
	mu        sync.Mutex
	calls     int
	finished  int
	startedAt map[int]int // text index -> finished count when the call started
	inFlight  int
	peak      int

	barrierSize int
	arrived     int
	release     chan struct{}
	failOn      int
}

func newGroupingEndpoint(barrierSize int) *groupingEndpoint {
	return &groupingEndpoint{
		startedAt:   map[int]int{},
		barrierSize: barrierSize,
		release:     make(chan struct{}),
		failOn:      -1,
	}
}

func (g *groupingEndpoint) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	idx, _ := strconv.Atoi(strings.TrimPrefix(text, "t"))

	g.mu.Lock()
	g.calls++
	g.startedAt[idx] = g.finished
	g.inFlight++
	g.peak = max(g.peak, g.inFlight)
	g.arrived++
	if g.arrived == g.barrierSize {
		close(g.release)
	}
	release := g.release
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.inFlight--
		g.finished++
		g.mu.Unlock()
	}()

	if idx < g.barrierSize {
		select {
		case <-release:
		case <-time.After(2 * time.Second):
			return domain.EmbeddingResult{}, errors.New("group was not issued concurrently")
		case <-ctx.Done():
			return domain.EmbeddingResult{}, ctx.Err()
		}
	}

	if idx == g.failOn {
		return domain.EmbeddingResult{}, domain.NewEmbeddingStatusError("fake", 500, "boom")
	}
	return domain.EmbeddingResult{Embedding: []float32{float32(idx)}}, nil
}

func texts(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("t%d", i)
	}
	return out
}

func TestBatcher_ElevenTextsInTwoGroups(t *testing.T) {
	ep := newGroupingEndpoint(10)
	b := NewBatcher(ep, 10, nil)

	results, err := b.EmbedBatch(context.Background(), texts(11))
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}

	if len(results) != 11 {
		t.Fatalf("expected 11 results, got %d", len(results))
	}
	for i, r := range results {
		if r.Embedding[0] != float32(i) {
			t.Errorf("result %d out of order: %v", i, r.Embedding)
		}
	}
	if ep.calls != 11 {
		t.Errorf("calls = %d, want 11", ep.calls)
	}
	if ep.peak != 10 {
		t.Errorf("peak concurrency = %d, want 10", ep.peak)
	}
	if ep.startedAt[10] != 10 {
		t.Errorf("second group started after %d completions, want 10", ep.startedAt[10])
	}
}

func TestBatcher_SmallGroups(t *testing.T) {
	ep := newGroupingEndpoint(3)
	b := NewBatcher(ep, 3, nil)

	results, err := b.EmbedBatch(context.Background(), texts(7))
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(results) != 7 {
		t.Fatalf("expected 7 results, got %d", len(results))
	}
	if ep.peak > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", ep.peak)
	}
	if ep.startedAt[3] != 3 || ep.startedAt[6] != 6 {
		t.Errorf("groups overlapped: %v", ep.startedAt)
	}
}

func TestBatcher_FirstErrorAborts(t *testing.T) {
	ep := newGroupingEndpoint(1)
	ep.failOn = 2
	b := NewBatcher(ep, 1, nil)

	_, err := b.EmbedBatch(context.Background(), texts(5))
	if !errors.Is(err, domain.ErrEmbeddingFailure) {
		t.Fatalf("expected ErrEmbeddingFailure, got %v", err)
	}
	if ep.calls != 3 {
		t.Errorf("later groups must not run, calls = %d", ep.calls)
	}
}

func TestBatcher_DegradedKept(t *testing.T) {
	b := NewBatcher(&mockEmbedder{result: domain.ZeroEmbedding(3)}, 10, nil)

	results, err := b.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	for _, r := range results {
		if !r.Degraded || len(r.Embedding) != 3 {
			t.Errorf("expected zero vector of dim 3, got %+v", r)
		}
	}
}

func TestBatcher_Empty(t *testing.T) {
	b := NewBatcher(&mockEmbedder{}, 0, nil)

	results, err := b.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results != nil {
		t.Errorf("expected nil for empty input, got %v", results)
	}
	if b.groupSize != DefaultGroupSize {
		t.Errorf("groupSize = %d, want default", b.groupSize)
	}
}
