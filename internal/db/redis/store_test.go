package redis

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/redis/rueidis"
	"github.com/redis/rueidis/mock"
	"go.uber.org/mock/gomock"

	"github.com/kailas-cloud/maomao/internal/db"
	"github.com/kailas-cloud/maomao/internal/domain"
	"github.com/kailas-cloud/maomao/internal/domain/search/filter"
)

var testCfg = Config{KeyPrefix: "maomao:", Collection: "kb"}

func valkeyCfg() Config {
	cfg := testCfg
	cfg.Dialect = DialectValkey
	return cfg
}

func doc(key, score string, kv ...string) []rueidis.RedisMessage {
	fields := make([]rueidis.RedisMessage, 0, len(kv)+2)
	for _, s := range kv {
		fields = append(fields, mock.RedisString(s))
	}
	if score != "" {
		fields = append(fields, mock.RedisString("__vector_score"), mock.RedisString(score))
	}
	return []rueidis.RedisMessage{mock.RedisString(key), mock.RedisArray(fields...)}
}

func searchReply(total int64, docs ...[]rueidis.RedisMessage) rueidis.RedisResult {
	items := []rueidis.RedisMessage{mock.RedisInt64(total)}
	for _, d := range docs {
		items = append(items, d...)
	}
	return mock.Result(mock.RedisArray(items...))
}

func mustExpr(t *testing.T, must, should []filter.Condition) filter.Expression {
	t.Helper()
	e, err := filter.NewExpression(must, should)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func match(k, v string) filter.Condition {
	c, _ := filter.NewMatch(k, v)
	return c
}

func text(k, v string) filter.Condition {
	c, _ := filter.NewText(k, v)
	return c
}

// --- client.go tests ---

func TestPing_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("PING")).
		Return(mock.Result(mock.RedisString("PONG")))

	s := NewStoreForTest(c, testCfg)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPing_Error(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("PING")).
		Return(mock.ErrorResult(context.DeadlineExceeded))

	s := NewStoreForTest(c, testCfg)
	err := s.Ping(context.Background())
	if !isDBError(err) {
		t.Fatalf("expected db.Error, got %v", err)
	}
}

// --- search.go tests ---

func TestSearchKNN_NoFilter(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
			return cmd[0] == "FT.SEARCH" &&
				cmd[1] == "maomao:kb:idx" &&
				cmd[2] == "*=>[KNN 5 @vector $BLOB]" &&
				slices.Contains(cmd, "__vector_score") &&
				slices.Contains(cmd, "LIMIT")
		})).
		Return(searchReply(2,
			doc("maomao:kb:a", "0.1",
				"content", "alpha", "knowledge_scope", "global",
				"metadata", `{"lang":"go"}`, "start_line", "3", "end_line", "9"),
			doc("maomao:kb:b", "0.3", "content", "beta"),
		))

	s := NewStoreForTest(c, testCfg)
	hits, err := s.SearchKNN(context.Background(), &db.KNNQuery{Vector: []float32{1, 0}, K: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].ID != "a" || hits[1].ID != "b" {
		t.Errorf("ids = %s,%s", hits[0].ID, hits[1].ID)
	}
	if hits[0].Score < 0.899 || hits[0].Score > 0.901 {
		t.Errorf("score = %f, want 0.9", hits[0].Score)
	}
	if _, ok := hits[0].Payload["__vector_score"]; ok {
		t.Error("score field must be stripped from payload")
	}
	meta, ok := hits[0].Payload["metadata"].(map[string]any)
	if !ok || meta["lang"] != "go" {
		t.Errorf("metadata = %#v", hits[0].Payload["metadata"])
	}
	loc, ok := hits[0].Payload["location"].(map[string]any)
	if !ok || loc["start_line"] != int64(3) || loc["end_line"] != int64(9) {
		t.Errorf("location = %#v", hits[0].Payload["location"])
	}
	if _, ok := hits[1].Payload["location"]; ok {
		t.Error("location must be absent when no offsets are stored")
	}
}

func TestSearchKNN_OrdersByScoreAndClamps(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool { return cmd[0] == "FT.SEARCH" })).
		Return(searchReply(3,
			doc("maomao:kb:far", "1.4"),
			doc("maomao:kb:near", "0.05"),
			doc("maomao:kb:mid", "0.5"),
		))

	s := NewStoreForTest(c, testCfg)
	hits, err := s.SearchKNN(context.Background(), &db.KNNQuery{Vector: []float32{1}, K: 3})
	if err != nil {
		t.Fatal(err)
	}
	got := []string{hits[0].ID, hits[1].ID, hits[2].ID}
	if strings.Join(got, ",") != "near,mid,far" {
		t.Errorf("order = %v", got)
	}
	if hits[2].Score != 0 {
		t.Errorf("distance > 1 must clamp to 0, got %f", hits[2].Score)
	}
}

func TestSearchKNN_Filter(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	want := `(@source_type:{doc} @source_path:{*docs\/guide*} (@knowledge_scope:{global} | @project_id:{my\-app}))=>[KNN 3 @vector $BLOB]`
	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
			return cmd[0] == "FT.SEARCH" && cmd[2] == want
		})).
		Return(searchReply(0))

	s := NewStoreForTest(c, testCfg)
	expr := mustExpr(t,
		[]filter.Condition{match("source_type", "doc"), text("source_path", "docs/guide")},
		[]filter.Condition{match("knowledge_scope", "global"), match("project_id", "my-app")},
	)
	hits, err := s.SearchKNN(context.Background(), &db.KNNQuery{Vector: []float32{1}, K: 3, Filters: expr})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("expected no hits, got %d", len(hits))
	}
}

func TestBuildFilter_PathContains(t *testing.T) {
	s := NewStoreForTest(mock.NewClient(gomock.NewController(t)), testCfg)

	tests := []struct {
		path string
		want string
	}{
		{"docs", `@source_path:{*docs*}`},
		{"docs/api", `@source_path:{*docs\/api*}`},
		{"api/v1.md", `@source_path:{*api\/v1\.md*}`},
		{"my docs", `@source_path:{*my\ docs*}`},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := s.buildFilter(mustExpr(t, []filter.Condition{text("source_path", tt.path)}, nil))
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("filter = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSearchKNN_ValkeyRejectsText(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	s := NewStoreForTest(c, valkeyCfg())
	expr := mustExpr(t, []filter.Condition{text("source_path", "docs")}, nil)
	_, err := s.SearchKNN(context.Background(), &db.KNNQuery{Vector: []float32{1}, K: 3, Filters: expr})
	if !errors.Is(err, domain.ErrNotSupported) {
		t.Fatalf("expected ErrNotSupported, got %v", err)
	}
}

func TestSearchKNN_Validation(t *testing.T) {
	s := NewStoreForTest(mock.NewClient(gomock.NewController(t)), testCfg)

	if _, err := s.SearchKNN(context.Background(), &db.KNNQuery{K: 3}); err == nil {
		t.Error("expected error for empty vector")
	}
	if _, err := s.SearchKNN(context.Background(), &db.KNNQuery{Vector: []float32{1}}); err == nil {
		t.Error("expected error for k=0")
	}
}

func TestSearchKNN_UnknownIndex(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool { return cmd[0] == "FT.SEARCH" })).
		Return(mock.Result(mock.RedisError("maomao:kb:idx: no such index")))

	s := NewStoreForTest(c, testCfg)
	_, err := s.SearchKNN(context.Background(), &db.KNNQuery{Vector: []float32{1}, K: 1})
	if !errors.Is(err, db.ErrIndexNotFound) {
		t.Fatalf("expected ErrIndexNotFound, got %v", err)
	}
}

func TestCount(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("FT.INFO", "maomao:kb:idx")).
		Return(mock.Result(mock.RedisArray(
			mock.RedisString("index_name"), mock.RedisString("maomao:kb:idx"),
			mock.RedisString("num_docs"), mock.RedisString("42"),
		)))

	s := NewStoreForTest(c, testCfg)
	n, err := s.Count(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 42 {
		t.Errorf("count = %d, want 42", n)
	}
}

func TestCount_IntReply(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("FT.INFO", "maomao:kb:idx")).
		Return(mock.Result(mock.RedisArray(
			mock.RedisString("num_docs"), mock.RedisInt64(7),
		)))

	s := NewStoreForTest(c, valkeyCfg())
	n, err := s.Count(context.Background())
	if err != nil || n != 7 {
		t.Fatalf("count = %d, %v", n, err)
	}
}

func TestCount_UnknownIndex(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("FT.INFO", "maomao:kb:idx")).
		Return(mock.Result(mock.RedisError("Unknown Index name")))

	s := NewStoreForTest(c, testCfg)
	_, err := s.Count(context.Background())
	if !errors.Is(err, db.ErrIndexNotFound) {
		t.Fatalf("expected ErrIndexNotFound, got %v", err)
	}
}

func TestListBySource(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
			return cmd[0] == "FT.SEARCH" && cmd[2] == `@source_id:{src\-1}` && !slices.Contains(cmd, "__vector_score")
		})).
		Return(searchReply(2,
			doc("maomao:kb:c1", "", "content", "one", "start_line", "1"),
			doc("maomao:kb:c2", "", "content", "two", "start_line", "10"),
		))

	s := NewStoreForTest(c, testCfg)
	hits, err := s.ListBySource(context.Background(), "src-1", 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 2 || hits[0].ID != "c1" || hits[1].Payload["content"] != "two" {
		t.Errorf("hits = %+v", hits)
	}
}

func TestListBySource_Valkey(t *testing.T) {
	s := NewStoreForTest(mock.NewClient(gomock.NewController(t)), valkeyCfg())
	_, err := s.ListBySource(context.Background(), "src-1", 10)
	if !errors.Is(err, domain.ErrNotSupported) {
		t.Fatalf("expected ErrNotSupported, got %v", err)
	}
}

// --- kv.go tests ---

func TestGet_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("GET", "emb:key")).
		Return(mock.Result(mock.RedisString("data")))

	s := NewStoreForTest(c, testCfg)
	data, err := s.Get(context.Background(), "emb:key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "data" {
		t.Errorf("data = %q", data)
	}
}

func TestGet_NotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("GET", "emb:key")).
		Return(mock.Result(mock.RedisNil()))

	s := NewStoreForTest(c, testCfg)
	_, err := s.Get(context.Background(), "emb:key")
	if !errors.Is(err, db.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestSetWithTTL(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("SET", "emb:key", "v", "EX", "3600")).
		Return(mock.Result(mock.RedisString("OK")))

	s := NewStoreForTest(c, testCfg)
	if err := s.SetWithTTL(context.Background(), "emb:key", []byte("v"), time.Hour); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSetWithTTL_NoExpiry(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("SET", "emb:key", "v")).
		Return(mock.ErrorResult(errors.New("conn reset")))

	s := NewStoreForTest(c, testCfg)
	err := s.SetWithTTL(context.Background(), "emb:key", []byte("v"), 0)
	if !isDBError(err) {
		t.Fatalf("expected db.Error, got %v", err)
	}
}

func TestVectorToBytes(t *testing.T) {
	b := vectorToBytes([]float32{1.0})
	if len(b) != 4 || b != "\x00\x00\x80\x3f" {
		t.Errorf("bytes = %q", b)
	}
}

// isDBError is a test helper for checking wrapped db.Error.
func isDBError(err error) bool {
	var dbErr *db.Error
	return errors.As(err, &dbErr)
}
