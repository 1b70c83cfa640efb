package knowledge

import (
	"context"

	"github.com/kailas-cloud/maomao/internal/db"
)

// mockStore implements the consumer interface for tests.
type mockStore struct {
	searchKNNFn    func(ctx context.Context, q *db.KNNQuery) ([]db.Hit, error)
	countFn        func(ctx context.Context) (int, error)
	listBySourceFn func(ctx context.Context, sourceID string, limit int) ([]db.Hit, error)
}

func (m *mockStore) SearchKNN(ctx context.Context, q *db.KNNQuery) ([]db.Hit, error) {
	if m.searchKNNFn != nil {
		return m.searchKNNFn(ctx, q)
	}
	return nil, nil
}

func (m *mockStore) Count(ctx context.Context) (int, error) {
	if m.countFn != nil {
		return m.countFn(ctx)
	}
	return 0, nil
}

func (m *mockStore) ListBySource(ctx context.Context, sourceID string, limit int) ([]db.Hit, error) {
	if m.listBySourceFn != nil {
		return m.listBySourceFn(ctx, sourceID, limit)
	}
	return nil, nil
}

func newTestRepo() (*Repo, *mockStore) {
	ms := &mockStore{}
	return New(ms, "test", 0), ms
}

// scenarioHits is a two-chunk index: a global chunk at 0.9 and a p1 project chunk at 0.8.
func scenarioHits() []db.Hit {
	return []db.Hit{
		{ID: "1", Score: 0.9, Payload: map[string]any{"content": "global", "knowledge_scope": "global"}},
		{ID: "2", Score: 0.8, Payload: map[string]any{"content": "project", "knowledge_scope": "project", "project_id": "p1"}},
	}
}

// filterScenario applies the expression semantics the way a backend would.
func filterScenario(q *db.KNNQuery) []db.Hit {
	var out []db.Hit
	for _, h := range scenarioHits() {
		ok := true
		for _, c := range q.Filters.Must() {
			if h.Payload[c.Key()] != c.Value() {
				ok = false
			}
		}
		if should := q.Filters.Should(); len(should) > 0 {
			matched := false
			for _, c := range should {
				if h.Payload[c.Key()] == c.Value() {
					matched = true
				}
			}
			ok = ok && matched
		}
		if ok {
			out = append(out, h)
		}
	}
	if len(out) > q.K {
		out = out[:q.K]
	}
	return out
}
