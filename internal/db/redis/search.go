package redis

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/maomao/internal/db"
	"github.com/kailas-cloud/maomao/internal/domain"
	"github.com/kailas-cloud/maomao/internal/domain/knowledge"
	"github.com/kailas-cloud/maomao/internal/domain/search/filter"
)

const scoreField = "__vector_score"

// payloadFields are the hash fields returned for every hit.
var payloadFields = []string{
	knowledge.FieldContent,
	knowledge.FieldSourceType,
	knowledge.FieldSourcePath,
	knowledge.FieldSourceID,
	knowledge.FieldScope,
	knowledge.FieldProjectID,
	knowledge.FieldContentHash,
	knowledge.FieldMetadata,
	knowledge.FieldStartLine,
	knowledge.FieldEndLine,
	knowledge.FieldCharStart,
	knowledge.FieldCharEnd,
}

var locationFields = []string{
	knowledge.FieldStartLine,
	knowledge.FieldEndLine,
	knowledge.FieldCharStart,
	knowledge.FieldCharEnd,
}

// SearchKNN runs a KNN vector similarity search via FT.SEARCH.
func (s *Store) SearchKNN(ctx context.Context, q *db.KNNQuery) ([]db.Hit, error) {
	if len(q.Vector) == 0 {
		return nil, fmt.Errorf("vector is required")
	}
	if q.K <= 0 {
		return nil, fmt.Errorf("k must be positive")
	}

	filterStr, err := s.buildFilter(q.Filters)
	if err != nil {
		return nil, err
	}

	knnPart := fmt.Sprintf("[KNN %d @vector $BLOB]", q.K)
	var queryStr string
	if filterStr != "" {
		queryStr = fmt.Sprintf("(%s)=>%s", filterStr, knnPart)
	} else {
		queryStr = fmt.Sprintf("*=>%s", knnPart)
	}

	args := []string{s.index, queryStr}
	args = appendReturn(args, append(payloadFields[:len(payloadFields):len(payloadFields)], scoreField))
	args = append(args,
		"LIMIT", "0", strconv.Itoa(q.K),
		"PARAMS", "2", "BLOB", vectorToBytes(q.Vector),
		"DIALECT", "2",
	)

	cmd := s.b().Arbitrary("FT.SEARCH").Args(args...).Build()
	raw, err := s.do(ctx, cmd).ToArray()
	if err != nil {
		return nil, s.searchErr(err)
	}

	hits, err := s.parseSearchResult(raw, true)
	if err != nil {
		return nil, err
	}
	// Stable: equal scores keep the engine's order.
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > q.K {
		hits = hits[:q.K]
	}
	return hits, nil
}

// Count returns the number of indexed documents from FT.INFO num_docs.
func (s *Store) Count(ctx context.Context) (int, error) {
	cmd := s.b().Arbitrary("FT.INFO").Args(s.index).Build()
	raw, err := s.do(ctx, cmd).ToArray()
	if err != nil {
		if isRedisErr(err, "unknown index name") || isRedisErr(err, "not found") {
			return 0, &db.Error{Op: db.OpIndexInfo, Err: db.ErrIndexNotFound}
		}
		return 0, &db.Error{Op: db.OpIndexInfo, Err: err}
	}

	for i := 0; i+1 < len(raw); i += 2 {
		name, err := raw[i].ToString()
		if err != nil || name != "num_docs" {
			continue
		}
		n, err := raw[i+1].AsInt64()
		if err != nil {
			// Some versions report num_docs as a float string.
			str, serr := raw[i+1].ToString()
			if serr != nil {
				return 0, fmt.Errorf("parse num_docs: %w", err)
			}
			f, ferr := strconv.ParseFloat(str, 64)
			if ferr != nil {
				return 0, fmt.Errorf("parse num_docs %q: %w", str, ferr)
			}
			n = int64(f)
		}
		return int(n), nil
	}
	return 0, fmt.Errorf("FT.INFO %s: num_docs missing", s.index)
}

// ListBySource returns up to limit chunks sharing sourceID.
// valkey-search cannot run FT.SEARCH without a KNN clause.
func (s *Store) ListBySource(ctx context.Context, sourceID string, limit int) ([]db.Hit, error) {
	if s.dialect == DialectValkey {
		return nil, fmt.Errorf("list by source on valkey: %w", domain.ErrNotSupported)
	}
	if sourceID == "" {
		return nil, fmt.Errorf("source id is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}

	args := []string{s.index, buildTagFilter(knowledge.FieldSourceID, sourceID)}
	args = appendReturn(args, payloadFields)
	args = append(args, "LIMIT", "0", strconv.Itoa(limit), "DIALECT", "2")

	cmd := s.b().Arbitrary("FT.SEARCH").Args(args...).Build()
	raw, err := s.do(ctx, cmd).ToArray()
	if err != nil {
		return nil, s.searchErr(err)
	}
	return s.parseSearchResult(raw, false)
}

func (s *Store) searchErr(err error) error {
	if isRedisErr(err, "no such index") || isRedisErr(err, "unknown index name") {
		return &db.Error{Op: db.OpSearch, Err: db.ErrIndexNotFound}
	}
	return &db.Error{Op: db.OpSearch, Err: err}
}

func appendReturn(args, fields []string) []string {
	args = append(args, "RETURN", strconv.Itoa(len(fields)))
	return append(args, fields...)
}

// --- Result parsing ---

// parseSearchResult reads the RESP2 layout [total, key1, fields1, key2, fields2, ...].
func (s *Store) parseSearchResult(raw []rueidis.RedisMessage, withScore bool) ([]db.Hit, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	total, err := raw[0].AsInt64()
	if err != nil {
		return nil, fmt.Errorf("parse total: %w", err)
	}
	if total == 0 {
		return nil, nil
	}

	hits := make([]db.Hit, 0, (len(raw)-1)/2)
	for i := 1; i+1 < len(raw); i += 2 {
		key, err := raw[i].ToString()
		if err != nil {
			continue
		}

		fields, err := raw[i+1].ToArray()
		if err != nil {
			continue
		}
		m := parseFieldPairs(fields)

		hit := db.Hit{ID: strings.TrimPrefix(key, s.keyPrefix)}
		if withScore {
			if scoreStr, ok := m[scoreField]; ok {
				if d, err := strconv.ParseFloat(scoreStr, 64); err == nil {
					hit.Score = max(0, 1.0-d) // cosine distance → similarity, clamped to [0,1]
				}
			}
		}
		delete(m, scoreField)
		hit.Payload = toPayload(m)

		hits = append(hits, hit)
	}
	return hits, nil
}

func parseFieldPairs(fields []rueidis.RedisMessage) map[string]string {
	m := make(map[string]string, len(fields)/2)
	for j := 0; j+1 < len(fields); j += 2 {
		name, err := fields[j].ToString()
		if err != nil {
			continue
		}
		value, err := fields[j+1].ToString()
		if err != nil {
			continue
		}
		m[name] = value
	}
	return m
}

// toPayload decodes flat hash fields: metadata is JSON, location offsets are
// folded into a nested map.
func toPayload(m map[string]string) map[string]any {
	payload := make(map[string]any, len(m))
	loc := make(map[string]any, len(locationFields))
	for k, v := range m {
		switch k {
		case knowledge.FieldMetadata:
			var meta map[string]any
			if err := json.Unmarshal([]byte(v), &meta); err == nil {
				payload[k] = meta
			}
		case knowledge.FieldStartLine, knowledge.FieldEndLine, knowledge.FieldCharStart, knowledge.FieldCharEnd:
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				loc[k] = n
			}
		default:
			payload[k] = v
		}
	}
	if len(loc) > 0 {
		payload[knowledge.FieldLocation] = loc
	}
	return payload
}

// --- Filter building ---

// buildFilter translates filter.Expression into an FT.SEARCH pre-filter query string.
func (s *Store) buildFilter(expr filter.Expression) (string, error) {
	if expr.IsEmpty() {
		return "", nil
	}

	parts := make([]string, 0, len(expr.Must())+1)
	for _, cond := range expr.Must() {
		p, err := s.buildCondition(cond)
		if err != nil {
			return "", err
		}
		parts = append(parts, p)
	}

	if len(expr.Should()) > 0 {
		should := make([]string, 0, len(expr.Should()))
		for _, cond := range expr.Should() {
			p, err := s.buildCondition(cond)
			if err != nil {
				return "", err
			}
			should = append(should, p)
		}
		parts = append(parts, "("+strings.Join(should, " | ")+")")
	}

	return strings.Join(parts, " "), nil
}

func (s *Store) buildCondition(cond filter.Condition) (string, error) {
	switch cond.Kind() {
	case filter.KindMatch:
		return buildTagFilter(cond.Key(), cond.Value()), nil
	case filter.KindText:
		if s.dialect == DialectValkey {
			return "", fmt.Errorf("text filter on %q: %w", cond.Key(), domain.ErrNotSupported)
		}
		return buildContainsFilter(cond.Key(), cond.Value()), nil
	default:
		return "", fmt.Errorf("unsupported condition kind %s", cond.Kind())
	}
}

func buildTagFilter(key, value string) string {
	escaped := tagEscaper.Replace(value)
	return fmt.Sprintf("@%s:{%s}", key, escaped)
}

// buildContainsFilter matches value anywhere in a TAG field. A TEXT match
// would compare tokens, and paths tokenize at '/' and '.'.
func buildContainsFilter(key, value string) string {
	return fmt.Sprintf("@%s:{*%s*}", key, tagEscaper.Replace(value))
}

// --- Query helpers ---

var tagEscaper = strings.NewReplacer(
	",", "\\,",
	".", "\\.",
	"/", "\\/",
	"<", "\\<",
	">", "\\>",
	"{", "\\{",
	"}", "\\}",
	"\"", "\\\"",
	"'", "\\'",
	":", "\\:",
	";", "\\;",
	"!", "\\!",
	"@", "\\@",
	"#", "\\#",
	"$", "\\$",
	"%", "\\%",
	"^", "\\^",
	"&", "\\&",
	"*", "\\*",
	"(", "\\(",
	")", "\\)",
	"-", "\\-",
	"+", "\\+",
	"=", "\\=",
	"~", "\\~",
	"|", "\\|",
	" ", "\\ ",
)

func vectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}
