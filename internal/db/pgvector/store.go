// Package pgvector implements the vector index over a Postgres table with
// the pgvector extension.
package pgvector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/kailas-cloud/maomao/internal/db"
	"github.com/kailas-cloud/maomao/internal/domain/knowledge"
	"github.com/kailas-cloud/maomao/internal/domain/search/filter"
)

// Compile-time check: Store implements db.Index.
var _ db.Index = (*Store)(nil)

const selectColumns = `id::text, content, source_type, source_path, source_id, knowledge_scope,
	project_id, metadata::text, content_hash, start_line, end_line, char_start, char_end`

// filterColumns whitelists payload fields usable in filters.
var filterColumns = map[string]bool{
	knowledge.FieldSourceType: true,
	knowledge.FieldSourcePath: true,
	knowledge.FieldSourceID:   true,
	knowledge.FieldScope:      true,
	knowledge.FieldProjectID:  true,
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Store implements db.Index over one table.
type Store struct {
	db    *sql.DB
	table string
}

// NewStore opens a lib/pq connection pool.
func NewStore(dsn, table string) (*Store, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	s, err := NewStoreWithDB(conn, table)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

// NewStoreWithDB wraps an existing pool. table may be schema-qualified.
func NewStoreWithDB(conn *sql.DB, table string) (*Store, error) {
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	parts := strings.Split(table, ".")
	for i, p := range parts {
		parts[i] = pq.QuoteIdentifier(p)
	}
	return &Store{db: conn, table: strings.Join(parts, ".")}, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return &db.Error{Op: db.OpPing, Err: err}
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() {
	_ = s.db.Close()
}

// SearchKNN orders by cosine distance and reports 1 - distance as the score.
func (s *Store) SearchKNN(ctx context.Context, q *db.KNNQuery) ([]db.Hit, error) {
	if len(q.Vector) == 0 {
		return nil, fmt.Errorf("vector is required")
	}
	if q.K <= 0 {
		return nil, fmt.Errorf("k must be positive")
	}

	args := []any{pgvector.NewVector(q.Vector), q.K}
	where, args, err := buildWhere(q.Filters, args)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(
		`SELECT %s, 1 - (embedding <=> $1) AS score FROM %s%s ORDER BY embedding <=> $1 LIMIT $2`,
		selectColumns, s.table, where,
	)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &db.Error{Op: db.OpSelect, Err: err}
	}
	defer rows.Close()

	return scanHits(rows, true)
}

// Count returns the number of rows in the table.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM "+s.table).Scan(&n); err != nil {
		return 0, &db.Error{Op: db.OpSelect, Err: err}
	}
	return n, nil
}

// ListBySource returns the rows of one source ordered by start line.
func (s *Store) ListBySource(ctx context.Context, sourceID string, limit int) ([]db.Hit, error) {
	if sourceID == "" {
		return nil, fmt.Errorf("source id is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}

	query := fmt.Sprintf(
		`SELECT %s FROM %s WHERE source_id = $1 ORDER BY start_line NULLS LAST LIMIT $2`,
		selectColumns, s.table,
	)
	rows, err := s.db.QueryContext(ctx, query, sourceID, limit)
	if err != nil {
		return nil, &db.Error{Op: db.OpSelect, Err: err}
	}
	defer rows.Close()

	return scanHits(rows, false)
}

// buildWhere appends placeholders after the existing args.
func buildWhere(expr filter.Expression, args []any) (string, []any, error) {
	if expr.IsEmpty() {
		return "", args, nil
	}

	clause := func(c filter.Condition) (string, error) {
		if !filterColumns[c.Key()] {
			return "", fmt.Errorf("unsupported filter field %q", c.Key())
		}
		args = append(args, c.Value())
		ph := "$" + strconv.Itoa(len(args))
		if c.IsText() {
			return fmt.Sprintf("strpos(%s, %s) > 0", c.Key(), ph), nil
		}
		return fmt.Sprintf("%s = %s", c.Key(), ph), nil
	}

	parts := make([]string, 0, len(expr.Must())+1)
	for _, c := range expr.Must() {
		p, err := clause(c)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, p)
	}
	if len(expr.Should()) > 0 {
		ors := make([]string, 0, len(expr.Should()))
		for _, c := range expr.Should() {
			p, err := clause(c)
			if err != nil {
				return "", nil, err
			}
			ors = append(ors, p)
		}
		parts = append(parts, "("+strings.Join(ors, " OR ")+")")
	}
	return " WHERE " + strings.Join(parts, " AND "), args, nil
}

func scanHits(rows *sql.Rows, withScore bool) ([]db.Hit, error) {
	var hits []db.Hit
	for rows.Next() {
		var (
			id                                     string
			content, sourceType, sourcePath        sql.NullString
			sourceID, scope, projectID, meta, hash sql.NullString
			startLine, endLine, charStart, charEnd sql.NullInt64
			score                                  float64
		)
		dest := []any{
			&id, &content, &sourceType, &sourcePath, &sourceID, &scope,
			&projectID, &meta, &hash, &startLine, &endLine, &charStart, &charEnd,
		}
		if withScore {
			dest = append(dest, &score)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, &db.Error{Op: db.OpSelect, Err: err}
		}

		payload := map[string]any{}
		setString(payload, knowledge.FieldContent, content)
		setString(payload, knowledge.FieldSourceType, sourceType)
		setString(payload, knowledge.FieldSourcePath, sourcePath)
		setString(payload, knowledge.FieldSourceID, sourceID)
		setString(payload, knowledge.FieldScope, scope)
		setString(payload, knowledge.FieldProjectID, projectID)
		setString(payload, knowledge.FieldContentHash, hash)
		if meta.Valid {
			var m map[string]any
			if err := json.Unmarshal([]byte(meta.String), &m); err == nil {
				payload[knowledge.FieldMetadata] = m
			}
		}

		loc := map[string]any{}
		setInt(loc, knowledge.FieldStartLine, startLine)
		setInt(loc, knowledge.FieldEndLine, endLine)
		setInt(loc, knowledge.FieldCharStart, charStart)
		setInt(loc, knowledge.FieldCharEnd, charEnd)
		if len(loc) > 0 {
			payload[knowledge.FieldLocation] = loc
		}

		hits = append(hits, db.Hit{ID: id, Score: min(1, max(0, score)), Payload: payload})
	}
	if err := rows.Err(); err != nil {
		return nil, &db.Error{Op: db.OpSelect, Err: err}
	}
	return hits, nil
}

func setString(m map[string]any, key string, v sql.NullString) {
	if v.Valid {
		m[key] = v.String
	}
}

func setInt(m map[string]any, key string, v sql.NullInt64) {
	if v.Valid {
		m[key] = v.Int64
	}
}
